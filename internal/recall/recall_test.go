package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/memoryd/memoryd/internal/store"
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

func insertMemory(t *testing.T, st *store.Store, content string, memType string, importance float64, createdAt time.Time) int64 {
	t.Helper()
	id, err := st.Insert(context.Background(), "memories", map[string]any{
		"content":        content,
		"content_hash":   content,
		"type":           memType,
		"importance":     importance,
		"source_channel": "test",
		"created_at":     store.FormatTime(createdAt),
		"updated_at":     store.FormatTime(createdAt),
	})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	return id
}

func insertEntity(t *testing.T, st *store.Store, name string) int64 {
	t.Helper()
	now := store.FormatTime(time.Now())
	id, err := st.Insert(context.Background(), "entities", map[string]any{
		"name":           name,
		"canonical_name": name,
		"type":           "person",
		"created_at":     now,
		"updated_at":     now,
	})
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}
	return id
}

func linkMemoryEntity(t *testing.T, st *store.Store, memoryID, entityID int64) {
	t.Helper()
	if _, err := st.Insert(context.Background(), "memory_entities", map[string]any{
		"memory_id":    memoryID,
		"entity_id":    entityID,
		"relationship": "about",
	}); err != nil {
		t.Fatalf("link memory entity: %v", err)
	}
}

func TestRunExcludesInvalidatedMemories(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	insertMemory(t, st, "Sarah likes the new dashboard", "fact", 0.5, time.Now())
	invalidID := insertMemory(t, st, "Sarah hates the new dashboard", "fact", 0.5, time.Now())
	if _, err := st.Update(ctx, "memories", map[string]any{"invalidated_at": store.FormatTime(time.Now())}, "id = ?", []any{invalidID}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	e := New(st, nil, nil)
	results, err := e.Run(ctx, Options{Query: "dashboard", VectorWeight: 0.5, FTSWeight: 0.15, ImportanceWeight: 0.25, RecencyWeight: 0.1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range results {
		if r.ID == invalidID {
			t.Fatalf("expected invalidated memory excluded from results")
		}
	}
}

func TestRunLikeFallbackWhenFTSEmpty(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	insertMemory(t, st, "the quarterly roadmap review is due", "fact", 0.5, time.Now())

	// Clear the FTS mirror directly to simulate an empty index while memories still exist.
	if _, _, err := st.Execute(ctx, "DELETE FROM memories_fts", nil, false); err != nil {
		t.Fatalf("clear fts: %v", err)
	}

	e := New(st, nil, nil)
	results, err := e.Run(ctx, Options{Query: "roadmap", VectorWeight: 0.5, FTSWeight: 0.15, ImportanceWeight: 0.25, RecencyWeight: 0.1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected LIKE fallback to find the memory")
	}
}

func TestApplyGraphSignalScoresDirectAndOneHop(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sarah := insertEntity(t, st, "Sarah Chen")
	acme := insertEntity(t, st, "Acme Corp")
	if _, err := st.Insert(ctx, "relationships", map[string]any{
		"source_entity_id":  sarah,
		"target_entity_id":  acme,
		"relationship_type": "works_at",
		"direction":         "bidirectional",
		"strength":          0.8,
		"origin_type":       "user_stated",
		"valid_at":          store.FormatTime(time.Now()),
		"created_at":        store.FormatTime(time.Now()),
		"updated_at":        store.FormatTime(time.Now()),
	}); err != nil {
		t.Fatalf("insert relationship: %v", err)
	}

	directMemory := insertMemory(t, st, "Sarah Chen's favorite color is blue", "fact", 0.5, time.Now())
	linkMemoryEntity(t, st, directMemory, sarah)

	neighborMemory := insertMemory(t, st, "Acme Corp released a new product", "fact", 0.5, time.Now())
	linkMemoryEntity(t, st, neighborMemory, acme)

	e := New(st, nil, nil)
	candidates := []candidate{
		{id: directMemory},
		{id: neighborMemory},
	}
	e.applyGraphSignal(ctx, "Sarah Chen", candidates)

	if candidates[0].graph != 1.0 {
		t.Fatalf("expected direct entity graph score 1.0, got %v", candidates[0].graph)
	}
	expected := 0.5 + 0.3*0.8
	if candidates[1].graph != expected {
		t.Fatalf("expected one-hop graph score %v, got %v", expected, candidates[1].graph)
	}
}

func TestExpandGraphSkipsWeakEdges(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := insertEntity(t, st, "A")
	b := insertEntity(t, st, "B")
	weak := insertEntity(t, st, "Weak")

	for _, rel := range []struct {
		target   int64
		strength float64
	}{
		{b, 0.5},
		{weak, 0.05},
	} {
		if _, err := st.Insert(ctx, "relationships", map[string]any{
			"source_entity_id":  a,
			"target_entity_id":  rel.target,
			"relationship_type": "knows",
			"direction":         "bidirectional",
			"strength":          rel.strength,
			"origin_type":       "user_stated",
			"valid_at":          store.FormatTime(time.Now()),
			"created_at":        store.FormatTime(time.Now()),
			"updated_at":        store.FormatTime(time.Now()),
		}); err != nil {
			t.Fatalf("insert relationship: %v", err)
		}
	}

	e := New(st, nil, nil)
	nodes, err := e.ExpandGraph(ctx, a, 1, 10)
	if err != nil {
		t.Fatalf("ExpandGraph: %v", err)
	}
	for _, n := range nodes {
		if n.EntityID == weak {
			t.Fatalf("expected weak edge to be excluded from traversal")
		}
	}
	found := false
	for _, n := range nodes {
		if n.EntityID == b {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected strong edge neighbor to be included")
	}
}

func TestBuildSessionBriefingStaysUnderLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	insertMemory(t, st, "Follow up with finance by Friday", "commitment", 0.6, time.Now())

	e := New(st, nil, nil)
	briefing, err := e.BuildSessionBriefing(ctx)
	if err != nil {
		t.Fatalf("BuildSessionBriefing: %v", err)
	}
	if len(briefing) > briefingMaxChars {
		t.Fatalf("briefing exceeds %d chars: %d", briefingMaxChars, len(briefing))
	}
	if briefing == "" {
		t.Fatalf("expected non-empty briefing")
	}
}

func TestFuseRRFEmptySignalContributesZero(t *testing.T) {
	candidates := []candidate{
		{id: 1, importance: 0.9, createdAt: time.Now(), ftsRank: 1},
		{id: 2, importance: 0.1, createdAt: time.Now().Add(-time.Hour)}, // no fts/vector rank at all
	}
	scored := fuseRRF(candidates)
	// Candidate 1 has an fts rank contributing extra score; candidate 2 has none.
	if scored[0].score <= scored[1].score {
		t.Fatalf("expected candidate with an additional signal to outscore a candidate without it")
	}
}
