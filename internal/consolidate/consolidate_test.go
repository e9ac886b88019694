package consolidate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func insertMemory(t *testing.T, st *store.Store, content string, importance float64, createdAt time.Time) int64 {
	t.Helper()
	id, err := st.Insert(context.Background(), "memories", map[string]any{
		"content":      content,
		"content_hash": content,
		"type":         string(types.MemoryFact),
		"importance":   importance,
		"created_at":   store.FormatTime(createdAt),
		"updated_at":   store.FormatTime(createdAt),
	})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	return id
}

func TestApplyDeadlineSurgeRaisesOverdueToOne(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	past := time.Now().Add(-48 * time.Hour)
	id, err := st.Insert(ctx, "memories", map[string]any{
		"content":      "pay rent",
		"content_hash": "pay-rent",
		"type":         string(types.MemoryCommitment),
		"importance":   0.4,
		"deadline_at":  store.FormatTime(past),
		"created_at":   store.FormatTime(time.Now()),
		"updated_at":   store.FormatTime(time.Now()),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	surged, err := e.applyDeadlineSurge(ctx)
	if err != nil {
		t.Fatalf("applyDeadlineSurge: %v", err)
	}
	if !surged[id] {
		t.Fatalf("expected overdue commitment to be marked surged")
	}

	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if toFloat64(row["importance"]) != overdueImportance {
		t.Fatalf("expected importance=1.0 for overdue commitment, got %v", row["importance"])
	}
}

func TestApplyDecaySkipsSurgedMemories(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	untouched := insertMemory(t, st, "stable fact", 0.5, time.Now())
	surgedID := insertMemory(t, st, "surged fact", 1.0, time.Now())

	if err := e.applyDecay(ctx, map[int64]bool{surgedID: true}); err != nil {
		t.Fatalf("applyDecay: %v", err)
	}

	row, err := st.GetOne(ctx, "memories", "id = ?", []any{surgedID})
	if err != nil {
		t.Fatalf("GetOne surged: %v", err)
	}
	if toFloat64(row["importance"]) != 1.0 {
		t.Fatalf("expected surged memory's importance untouched, got %v", row["importance"])
	}

	row, err = st.GetOne(ctx, "memories", "id = ?", []any{untouched})
	if err != nil {
		t.Fatalf("GetOne untouched: %v", err)
	}
	if toFloat64(row["importance"]) >= 0.5 {
		t.Fatalf("expected non-surged memory to decay below its starting importance, got %v", row["importance"])
	}
}

func TestApplyDecayRespectsFloor(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	cfg := DefaultConfig()
	e := New(st, nil, nil, cfg, nil)

	id := insertMemory(t, st, "near floor", 0.1001, time.Now())
	if err := e.applyDecay(ctx, nil); err != nil {
		t.Fatalf("applyDecay: %v", err)
	}
	row, err := st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if toFloat64(row["importance"]) < cfg.MinImportanceThreshold {
		t.Fatalf("expected importance floored at %v, got %v", cfg.MinImportanceThreshold, row["importance"])
	}
}

func TestAttentionTierForThresholds(t *testing.T) {
	cases := []struct {
		age        time.Duration
		importance float64
		want       types.AttentionTier
	}{
		{2 * 24 * time.Hour, 0.2, types.TierActive},
		{20 * 24 * time.Hour, 0.2, types.TierWatch},
		{60 * 24 * time.Hour, 0.2, types.TierDormant},
		{200 * 24 * time.Hour, 0.2, types.TierArchive},
	}
	for _, c := range cases {
		got := attentionTierFor(c.age, c.importance)
		if got != c.want {
			t.Errorf("attentionTierFor(%v, %v) = %v, want %v", c.age, c.importance, got, c.want)
		}
	}
}

func TestRecomputeContactVelocityComputesMeanInterval(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	entityID, err := st.Insert(ctx, "entities", map[string]any{
		"name":           "Sarah",
		"canonical_name": "sarah",
		"type":           string(types.EntityPerson),
		"created_at":     store.FormatTime(time.Now()),
		"updated_at":     store.FormatTime(time.Now()),
	})
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}

	base := time.Now().Add(-20 * 24 * time.Hour)
	m1 := insertMemory(t, st, "first contact", 0.5, base)
	m2 := insertMemory(t, st, "second contact", 0.5, base.Add(10*24*time.Hour))

	for _, mid := range []int64{m1, m2} {
		if _, _, err := st.Execute(ctx, "INSERT INTO memory_entities(memory_id, entity_id, relationship) VALUES (?, ?, 'about')",
			[]any{mid, entityID}, false); err != nil {
			t.Fatalf("link memory-entity: %v", err)
		}
	}

	if err := e.recomputeContactVelocity(ctx); err != nil {
		t.Fatalf("recomputeContactVelocity: %v", err)
	}

	row, err := st.GetOne(ctx, "entities", "id = ?", []any{entityID})
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	freq := toFloat64(row["contact_frequency_days"])
	if freq < 9.5 || freq > 10.5 {
		t.Fatalf("expected ~10 day mean interval, got %v", freq)
	}
}

func TestRecomputePredictionFeedbackRequiresMinimumSample(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	now := store.FormatTime(time.Now())
	for i := 0; i < 3; i++ {
		if _, err := st.Insert(ctx, "predictions", map[string]any{
			"content":                 "p",
			"prediction_pattern_name": "weekly-checkin",
			"is_shown":                1,
			"is_acted_on":             0,
			"created_at":              now,
			"updated_at":              now,
		}); err != nil {
			t.Fatalf("insert prediction: %v", err)
		}
	}

	if err := e.recomputePredictionFeedback(ctx); err != nil {
		t.Fatalf("recomputePredictionFeedback: %v", err)
	}

	rows, _, err := st.Execute(ctx, "SELECT metadata FROM predictions WHERE prediction_pattern_name = 'weekly-checkin'", nil, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for _, r := range rows {
		meta := store.UnmarshalJSON(toString(r["metadata"]))
		if _, ok := meta["feedback_multiplier"]; ok {
			t.Fatalf("expected no multiplier below minimum sample size, got %v", meta)
		}
	}
}

func TestRecomputePredictionFeedbackLowActRatio(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	now := store.FormatTime(time.Now())
	for i := 0; i < 6; i++ {
		if _, err := st.Insert(ctx, "predictions", map[string]any{
			"content":                 "p",
			"prediction_pattern_name": "rarely-helpful",
			"is_shown":                1,
			"is_acted_on":             0,
			"created_at":              now,
			"updated_at":              now,
		}); err != nil {
			t.Fatalf("insert prediction: %v", err)
		}
	}

	if err := e.recomputePredictionFeedback(ctx); err != nil {
		t.Fatalf("recomputePredictionFeedback: %v", err)
	}

	rows, _, err := st.Execute(ctx, "SELECT metadata FROM predictions WHERE prediction_pattern_name = 'rarely-helpful' LIMIT 1", nil, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row back")
	}
	meta := store.UnmarshalJSON(toString(rows[0]["metadata"]))
	if toFloat64(meta["feedback_multiplier"]) != lowActRatioMultiplier {
		t.Fatalf("expected low-act-ratio multiplier %v, got %v", lowActRatioMultiplier, meta["feedback_multiplier"])
	}
}

func TestMergeNearDuplicatesRequiresVectorIndex(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	// Without the vector index available, mergeNearDuplicates should simply find no
	// candidates and return cleanly rather than error.
	if err := e.mergeNearDuplicates(ctx); err != nil {
		t.Fatalf("mergeNearDuplicates: %v", err)
	}
}

func TestChoosePrimaryPrefersHigherImportance(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	low := insertMemory(t, st, "low importance dup", 0.3, time.Now())
	high := insertMemory(t, st, "high importance dup", 0.8, time.Now())

	primary, duplicate, err := e.choosePrimary(ctx, low, high)
	if err != nil {
		t.Fatalf("choosePrimary: %v", err)
	}
	if primary != high || duplicate != low {
		t.Fatalf("expected higher-importance memory %d to win, got primary=%d duplicate=%d", high, primary, duplicate)
	}
}

func TestMergeIntoTombstonesDuplicateAndTransfersLinks(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := New(st, nil, nil, DefaultConfig(), nil)

	primary := insertMemory(t, st, "primary memory", 0.8, time.Now())
	duplicate := insertMemory(t, st, "duplicate memory", 0.3, time.Now())

	entityID, err := st.Insert(ctx, "entities", map[string]any{
		"name":           "Project X",
		"canonical_name": "project x",
		"type":           string(types.EntityProject),
		"created_at":     store.FormatTime(time.Now()),
		"updated_at":     store.FormatTime(time.Now()),
	})
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}
	if _, _, err := st.Execute(ctx, "INSERT INTO memory_entities(memory_id, entity_id, relationship) VALUES (?, ?, 'about')",
		[]any{duplicate, entityID}, false); err != nil {
		t.Fatalf("link memory-entity: %v", err)
	}

	if err := e.mergeInto(ctx, primary, duplicate); err != nil {
		t.Fatalf("mergeInto: %v", err)
	}

	dupRow, err := st.GetOne(ctx, "memories", "id = ?", []any{duplicate})
	if err != nil {
		t.Fatalf("GetOne duplicate: %v", err)
	}
	if dupRow["invalidated_at"] == nil {
		t.Fatalf("expected duplicate to be tombstoned")
	}
	if toFloat64(dupRow["importance"]) != tombstoneImportance {
		t.Fatalf("expected duplicate importance set to tombstone floor, got %v", dupRow["importance"])
	}

	linkRow, err := st.GetOne(ctx, "memory_entities", "memory_id = ? AND entity_id = ?", []any{primary, entityID})
	if err != nil {
		t.Fatalf("expected entity link transferred to primary: %v", err)
	}
	if linkRow == nil {
		t.Fatalf("expected non-nil transferred link row")
	}
}
