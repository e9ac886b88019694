package audit

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

func TestRecordAndGetRecent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	l := New(st)

	memoryID := int64(7)
	if err := l.Record(ctx, "remember_fact", nil, &memoryID, "sess-1", true, map[string]any{"content": "hi"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := l.GetRecent(ctx, 10, "")
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Operation != "remember_fact" {
		t.Fatalf("unexpected operation: %s", entries[0].Operation)
	}
	if entries[0].MemoryID == nil || *entries[0].MemoryID != memoryID {
		t.Fatalf("expected memory id %d linked", memoryID)
	}
	if !entries[0].UserInitiated {
		t.Fatalf("expected user_initiated true")
	}
}

func TestGetEntityHistoryChronological(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	l := New(st)

	entityID := int64(3)
	if err := l.Record(ctx, "create_entity", &entityID, nil, "", false, nil); err != nil {
		t.Fatalf("Record 1: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := l.Record(ctx, "reinforce_relationship", &entityID, nil, "", false, nil); err != nil {
		t.Fatalf("Record 2: %v", err)
	}

	history, err := l.GetEntityHistory(ctx, entityID)
	if err != nil {
		t.Fatalf("GetEntityHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Operation != "create_entity" || history[1].Operation != "reinforce_relationship" {
		t.Fatalf("expected chronological order, got %v then %v", history[0].Operation, history[1].Operation)
	}
}

func TestSnapshotWritesCounters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	l := New(st)

	now := store.FormatTime(time.Now())
	if _, err := st.Insert(ctx, "memories", map[string]any{
		"content": "x", "content_hash": "x", "type": "fact", "importance": 0.6,
		"created_at": now, "updated_at": now,
	}); err != nil {
		t.Fatalf("insert memory: %v", err)
	}

	if err := l.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM metrics WHERE metric_name = 'orphan_memories'").Scan(&count); err != nil {
		t.Fatalf("query metrics: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one orphan_memories snapshot row, got %d", count)
	}
}
