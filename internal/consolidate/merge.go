package consolidate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/memoryd/memoryd/internal/store"
)

// mergeNearDuplicates folds memories whose embeddings are almost identical into a single
// primary row. vec0's own distance metric isn't guaranteed to be cosine, so the candidate
// pool it returns is only used to narrow the search; the actual merge decision is made on
// an exact cosine similarity computed from the two embeddings directly.
func (e *Engine) mergeNearDuplicates(ctx context.Context) error {
	if !e.st.VectorIndexAvailable() {
		return nil
	}
	ids, err := e.liveMemoryIDsWithVectors(ctx)
	if err != nil {
		return err
	}

	merged := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if merged[id] {
			continue
		}
		vec, err := e.st.VectorForMemory(ctx, id)
		if err != nil || vec == nil {
			continue
		}

		neighbors, err := e.st.VectorNeighbors(ctx, vec, 8)
		if err != nil {
			return fmt.Errorf("vector neighbors for memory %d: %w", id, err)
		}

		for _, n := range neighbors {
			if n.MemoryID == id || merged[n.MemoryID] || merged[id] {
				continue
			}
			otherVec, err := e.st.VectorForMemory(ctx, n.MemoryID)
			if err != nil || otherVec == nil {
				continue
			}
			if cosineSimilarity(vec, otherVec) < e.cfg.SimilarityMergeThreshold {
				continue
			}

			primary, duplicate, err := e.choosePrimary(ctx, id, n.MemoryID)
			if err != nil {
				return fmt.Errorf("choose primary between %d and %d: %w", id, n.MemoryID, err)
			}
			if err := e.mergeInto(ctx, primary, duplicate); err != nil {
				return fmt.Errorf("merge memory %d into %d: %w", duplicate, primary, err)
			}
			merged[duplicate] = true
		}
	}
	return nil
}

func (e *Engine) liveMemoryIDsWithVectors(ctx context.Context) ([]int64, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT m.id FROM memories m
		JOIN memory_vectors v ON v.memory_id = m.id
		WHERE m.invalidated_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type memoryRow struct {
	id          int64
	importance  float64
	accessCount int64
	metadata    string
}

func (e *Engine) fetchMemoryRow(ctx context.Context, id int64) (memoryRow, error) {
	row, err := e.st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		return memoryRow{}, err
	}
	return memoryRow{
		id:          id,
		importance:  toFloat64(row["importance"]),
		accessCount: toInt64(row["access_count"]),
		metadata:    toString(row["metadata"]),
	}, nil
}

// choosePrimary picks which of two near-duplicate memories survives: higher importance
// wins; ties go to higher access_count; remaining ties go to the lower (older) id.
func (e *Engine) choosePrimary(ctx context.Context, idA, idB int64) (primary, duplicate int64, err error) {
	a, err := e.fetchMemoryRow(ctx, idA)
	if err != nil {
		return 0, 0, err
	}
	b, err := e.fetchMemoryRow(ctx, idB)
	if err != nil {
		return 0, 0, err
	}

	if a.importance != b.importance {
		if a.importance > b.importance {
			return a.id, b.id, nil
		}
		return b.id, a.id, nil
	}
	if a.accessCount != b.accessCount {
		if a.accessCount > b.accessCount {
			return a.id, b.id, nil
		}
		return b.id, a.id, nil
	}
	if a.id < b.id {
		return a.id, b.id, nil
	}
	return b.id, a.id, nil
}

const tombstoneImportance = 0.001

// mergeInto folds duplicate into primary: primary's entity links absorb duplicate's,
// their metadata is unioned (primary wins on key conflicts), and duplicate is
// soft-tombstoned rather than deleted, preserving its audit trail and id.
func (e *Engine) mergeInto(ctx context.Context, primary, duplicate int64) error {
	primaryRow, err := e.fetchMemoryRow(ctx, primary)
	if err != nil {
		return err
	}
	duplicateRow, err := e.fetchMemoryRow(ctx, duplicate)
	if err != nil {
		return err
	}

	if err := e.transferEntityLinks(ctx, primary, duplicate); err != nil {
		return fmt.Errorf("transfer entity links: %w", err)
	}

	mergedMeta := store.UnmarshalJSON(duplicateRow.metadata)
	for k, v := range store.UnmarshalJSON(primaryRow.metadata) {
		mergedMeta[k] = v
	}
	mergedMeta["merged_duplicate_ids"] = appendMergedID(mergedMeta["merged_duplicate_ids"], duplicate)

	now := store.FormatTime(time.Now())
	if _, _, err := e.st.Execute(ctx, "UPDATE memories SET metadata = ?, updated_at = ? WHERE id = ?",
		[]any{store.MarshalJSON(mergedMeta), now, primary}, false); err != nil {
		return fmt.Errorf("update primary metadata: %w", err)
	}

	if _, _, err := e.st.Execute(ctx, `
		UPDATE memories SET importance = ?, invalidated_at = ?, invalidated_reason = ?, updated_at = ?
		WHERE id = ?`,
		[]any{tombstoneImportance, now, fmt.Sprintf("merged into memory %d", primary), now, duplicate}, false); err != nil {
		return fmt.Errorf("tombstone duplicate: %w", err)
	}

	if err := e.st.DeleteVector(ctx, duplicate); err != nil {
		e.log.Warn("failed to delete duplicate's vector entry", "memory_id", duplicate, "error", err)
	}
	return nil
}

func (e *Engine) transferEntityLinks(ctx context.Context, primary, duplicate int64) error {
	rows, err := e.st.DB().QueryContext(ctx,
		"SELECT entity_id, relationship FROM memory_entities WHERE memory_id = ?", duplicate)
	if err != nil {
		return err
	}
	type link struct {
		entityID     int64
		relationship string
	}
	var links []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.entityID, &l.relationship); err != nil {
			rows.Close()
			return err
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, l := range links {
		if _, _, err := e.st.Execute(ctx, `
			INSERT INTO memory_entities(memory_id, entity_id, relationship) VALUES (?, ?, ?)
			ON CONFLICT(memory_id, entity_id, relationship) DO NOTHING`,
			[]any{primary, l.entityID, l.relationship}, false); err != nil {
			return err
		}
	}
	return nil
}

func appendMergedID(existing any, id int64) []any {
	var out []any
	if list, ok := existing.([]any); ok {
		out = append(out, list...)
	}
	out = append(out, id)
	return out
}

// toInt64, toFloat64, and toString convert the driver-native `any` values returned by
// Store's generic row-scanning helpers (Execute/GetOne) into concrete types, matching
// the same conversions the recall package uses against the same driver.
func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	}
	return 0
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return ""
}
