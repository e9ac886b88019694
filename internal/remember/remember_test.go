package remember

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	st := openTestStore(t)
	return New(st, nil, nil, audit.New(st), nil), st
}

func TestRememberFactInsertsNewMemory(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	id, err := e.RememberFact(ctx, "Sarah likes oat milk lattes", types.MemoryFact, 0.6, RememberOptions{SourceChannel: "test"})
	if err != nil {
		t.Fatalf("RememberFact: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero memory id")
	}

	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if row["content"] != "Sarah likes oat milk lattes" {
		t.Fatalf("unexpected content: %v", row["content"])
	}
}

func TestRememberFactDedupesByContentHash(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	id1, err := e.RememberFact(ctx, "Same fact twice", types.MemoryFact, 0.5, RememberOptions{})
	if err != nil {
		t.Fatalf("RememberFact 1: %v", err)
	}
	id2, err := e.RememberFact(ctx, "Same fact twice", types.MemoryFact, 0.5, RememberOptions{})
	if err != nil {
		t.Fatalf("RememberFact 2: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected deduped memory id %d, got %d", id1, id2)
	}

	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id1})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if toInt64(row["access_count"]) != 1 {
		t.Fatalf("expected access_count bumped to 1 on dedup hit, got %v", row["access_count"])
	}
}

func TestRememberFactTruncatesOverlongContent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	long := make([]byte, 1500)
	for i := range long {
		long[i] = 'a'
	}
	id, err := e.RememberFact(ctx, string(long), types.MemoryFact, 0.5, RememberOptions{})
	if err != nil {
		t.Fatalf("RememberFact: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected memory to be stored despite truncation")
	}
}

func TestCorrectMemoryPreservesOnlyMostRecentPrevious(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	id, err := e.RememberFact(ctx, "Sarah works at TechCorp", types.MemoryFact, 0.5, RememberOptions{})
	if err != nil {
		t.Fatalf("RememberFact: %v", err)
	}

	if err := e.CorrectMemory(ctx, id, "Sarah works at Acme", "Company changed"); err != nil {
		t.Fatalf("CorrectMemory: %v", err)
	}
	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if row["content"] != "Sarah works at Acme" {
		t.Fatalf("expected updated content, got %v", row["content"])
	}
	if row["corrected_from"] != "Sarah works at TechCorp" {
		t.Fatalf("expected corrected_from to be the previous content, got %v", row["corrected_from"])
	}

	if err := e.CorrectMemory(ctx, id, "Sarah works at Globex", "Company changed again"); err != nil {
		t.Fatalf("CorrectMemory 2: %v", err)
	}
	row, err = st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne 2: %v", err)
	}
	if row["corrected_from"] != "Sarah works at Acme" {
		t.Fatalf("expected corrected_from to only hold the most recent previous content, got %v", row["corrected_from"])
	}
}

func TestInvalidateMemoryDefaultsReason(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	id, err := e.RememberFact(ctx, "temporary fact", types.MemoryFact, 0.5, RememberOptions{})
	if err != nil {
		t.Fatalf("RememberFact: %v", err)
	}
	if err := e.InvalidateMemory(ctx, id, ""); err != nil {
		t.Fatalf("InvalidateMemory: %v", err)
	}
	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if row["invalidated_reason"] != defaultInvalidationReason {
		t.Fatalf("expected default invalidation reason, got %v", row["invalidated_reason"])
	}
	if row["content"] != "temporary fact" {
		t.Fatalf("expected content unchanged on invalidation")
	}
}

func TestBufferTurnCreatesEpisodeAndIncrementsTurnNumber(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.BufferTurn(ctx, "hello", "hi there", 0, "sess-1")
	if err != nil {
		t.Fatalf("BufferTurn 1: %v", err)
	}
	if first.TurnNumber != 1 {
		t.Fatalf("expected first turn number 1, got %d", first.TurnNumber)
	}

	second, err := e.BufferTurn(ctx, "how are you", "great", first.EpisodeID, "sess-1")
	if err != nil {
		t.Fatalf("BufferTurn 2: %v", err)
	}
	if second.EpisodeID != first.EpisodeID {
		t.Fatalf("expected second turn to reuse the same episode")
	}
	if second.TurnNumber != 2 {
		t.Fatalf("expected monotonic turn number 2, got %d", second.TurnNumber)
	}
}

func TestEndSessionRejectsZeroEpisodeID(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.EndSession(context.Background(), 0, "done"); err == nil {
		t.Fatalf("expected episode_id=0 to be rejected")
	}
}

func TestEndSessionUnknownEpisodeDoesNotRaise(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.EndSession(context.Background(), 999, "done")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.NarrativeStored {
		t.Fatalf("expected narrative_stored=false for an unknown episode")
	}
	if result.Error == "" {
		t.Fatalf("expected error field populated for an unknown episode")
	}
}

func TestEndSessionRemovesEpisodeFromUnsummarized(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.BufferTurn(ctx, "a", "b", 0, "sess-2")
	if err != nil {
		t.Fatalf("BufferTurn: %v", err)
	}
	if _, err := e.BufferTurn(ctx, "c", "d", first.EpisodeID, "sess-2"); err != nil {
		t.Fatalf("BufferTurn 2: %v", err)
	}

	before, err := e.GetUnsummarizedTurns(ctx)
	if err != nil {
		t.Fatalf("GetUnsummarizedTurns: %v", err)
	}
	found := false
	for _, ep := range before {
		if ep.Episode.ID == first.EpisodeID {
			found = true
			if len(ep.Turns) != 2 {
				t.Fatalf("expected 2 buffered turns, got %d", len(ep.Turns))
			}
		}
	}
	if !found {
		t.Fatalf("expected episode to appear in unsummarized turns before EndSession")
	}

	result, err := e.EndSession(ctx, first.EpisodeID, "done.")
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if !result.NarrativeStored {
		t.Fatalf("expected narrative_stored=true")
	}

	after, err := e.GetUnsummarizedTurns(ctx)
	if err != nil {
		t.Fatalf("GetUnsummarizedTurns after: %v", err)
	}
	for _, ep := range after {
		if ep.Episode.ID == first.EpisodeID {
			t.Fatalf("expected episode to be excluded from unsummarized turns after EndSession")
		}
	}
}
