package verify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func insertPendingMemory(t *testing.T, st *store.Store, memType types.MemoryType, hasDeadline bool, age time.Duration) int64 {
	t.Helper()
	createdAt := time.Now().Add(-age)
	values := map[string]any{
		"content":             "content",
		"content_hash":        "hash-" + string(memType) + "-" + age.String(),
		"type":                string(memType),
		"verification_status": string(types.VerificationPending),
		"created_at":          store.FormatTime(createdAt),
		"updated_at":          store.FormatTime(createdAt),
	}
	if hasDeadline {
		values["deadline_at"] = store.FormatTime(createdAt.Add(72 * time.Hour))
	}
	id, err := st.Insert(context.Background(), "memories", values)
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	return id
}

func TestRunBatchFlagsCommitmentWithoutDeadline(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, audit.New(st), nil, DefaultConfig(), nil)

	id := insertPendingMemory(t, st, types.MemoryCommitment, false, 10*time.Minute)

	result, err := e.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Flagged != 1 || result.Verified != 0 {
		t.Fatalf("expected 1 flagged, 0 verified, got %+v", result)
	}

	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if row["verification_status"] != string(types.VerificationFlagged) {
		t.Fatalf("expected flagged status, got %v", row["verification_status"])
	}
}

func TestRunBatchVerifiesCleanMemory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, audit.New(st), nil, DefaultConfig(), nil)

	id := insertPendingMemory(t, st, types.MemoryFact, false, 10*time.Minute)

	result, err := e.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Verified != 1 {
		t.Fatalf("expected 1 verified, got %+v", result)
	}

	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if row["verification_status"] != string(types.VerificationVerified) {
		t.Fatalf("expected verified status, got %v", row["verification_status"])
	}
	if row["verified_at"] == nil {
		t.Fatalf("expected verified_at to be set")
	}
}

func TestRunBatchSkipsMemoriesYoungerThanMinAge(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, audit.New(st), nil, DefaultConfig(), nil)

	insertPendingMemory(t, st, types.MemoryFact, false, 10*time.Second)

	result, err := e.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Checked != 0 {
		t.Fatalf("expected 0 checked for a too-young memory, got %+v", result)
	}
}

func TestRunBatchRespectsBatchSize(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	e := New(st, audit.New(st), nil, cfg, nil)

	for i := 0; i < 5; i++ {
		insertPendingMemory(t, st, types.MemoryFact, false, time.Duration(i+10)*time.Minute)
	}

	result, err := e.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Checked != 2 {
		t.Fatalf("expected batch size of 2, got %d", result.Checked)
	}
}
