package consolidate

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

const (
	overdueImportance     = 1.0
	within48hFloor        = 0.95
	within7dFloor         = 0.85
	attentionActiveAge    = 7 * 24 * time.Hour
	attentionWatchAge     = 30 * 24 * time.Hour
	attentionDormantAge   = 90 * 24 * time.Hour
)

// applyDeadlineSurge raises the importance of commitments as their deadline approaches or
// passes. Returns the set of memory IDs it touched so applyDecay can skip them this
// pass — a surged commitment never decays in the same run that raised it.
func (e *Engine) applyDeadlineSurge(ctx context.Context) (map[int64]bool, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT id, importance, deadline_at FROM memories
		WHERE type = ? AND invalidated_at IS NULL AND deadline_at IS NOT NULL`, string(types.MemoryCommitment))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type row struct {
		id         int64
		importance float64
		deadline   time.Time
	}
	var commitments []row
	for rows.Next() {
		var r row
		var deadlineStr string
		if err := rows.Scan(&r.id, &r.importance, &deadlineStr); err != nil {
			return nil, err
		}
		r.deadline = store.ParseTime(deadlineStr)
		commitments = append(commitments, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	surged := make(map[int64]bool, len(commitments))
	for _, r := range commitments {
		until := r.deadline.Sub(now)
		var floor float64
		switch {
		case until <= 0:
			floor = overdueImportance
		case until <= 48*time.Hour:
			floor = within48hFloor
		case until <= 7*24*time.Hour:
			floor = within7dFloor
		default:
			continue // not yet within any surge window
		}

		newImportance := math.Max(r.importance, floor)
		if _, _, err := e.st.Execute(ctx, "UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?",
			[]any{newImportance, store.FormatTime(now), r.id}, false); err != nil {
			return nil, fmt.Errorf("surge memory %d: %w", r.id, err)
		}
		surged[r.id] = true
	}
	return surged, nil
}

// applyDecay multiplies every live memory's importance by decay_rate_daily, floored at
// min_importance_threshold, skipping anything this pass's deadline surge already touched.
func (e *Engine) applyDecay(ctx context.Context, surged map[int64]bool) error {
	rows, err := e.st.DB().QueryContext(ctx, "SELECT id, importance FROM memories WHERE invalidated_at IS NULL")
	if err != nil {
		return err
	}
	type row struct {
		id         int64
		importance float64
	}
	var memories []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.importance); err != nil {
			rows.Close()
			return err
		}
		memories = append(memories, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	now := store.FormatTime(time.Now())
	for _, r := range memories {
		if surged[r.id] {
			continue
		}
		next := math.Max(e.cfg.MinImportanceThreshold, r.importance*e.cfg.DecayRateDaily)
		if _, _, err := e.st.Execute(ctx, "UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?",
			[]any{next, now, r.id}, false); err != nil {
			return fmt.Errorf("decay memory %d: %w", r.id, err)
		}
	}
	return nil
}

// decayReflections applies each reflection's own per-row decay_rate, which is typically
// slower than the fixed memory decay rate (reflections are meant to persist longer).
func (e *Engine) decayReflections(ctx context.Context) error {
	_, _, err := e.st.Execute(ctx, `
		UPDATE reflections SET importance = MAX(?, importance * decay_rate), updated_at = ?`,
		[]any{e.cfg.MinImportanceThreshold, store.FormatTime(time.Now())}, false)
	return err
}

// recomputeContactVelocity computes each entity's mean inter-memory interval and
// classifies its contact_trend from the slope of recent vs. earlier intervals, for every
// entity with at least two linked live memories.
func (e *Engine) recomputeContactVelocity(ctx context.Context) error {
	entityIDs, err := e.entitiesWithLinkedMemories(ctx)
	if err != nil {
		return err
	}

	now := store.FormatTime(time.Now())
	for _, id := range entityIDs {
		timestamps, err := e.linkedMemoryTimestamps(ctx, id)
		if err != nil {
			return err
		}
		if len(timestamps) < 2 {
			continue
		}

		intervals := make([]float64, 0, len(timestamps)-1)
		for i := 1; i < len(timestamps); i++ {
			intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Hours()/24)
		}
		meanDays := mean(intervals)
		trend := classifyTrend(intervals)
		lastContact := timestamps[len(timestamps)-1]

		if _, _, err := e.st.Execute(ctx, `
			UPDATE entities SET contact_frequency_days = ?, contact_trend = ?, last_contact_at = ?, updated_at = ?
			WHERE id = ?`,
			[]any{meanDays, string(trend), store.FormatTime(lastContact), now, id}, false); err != nil {
			return fmt.Errorf("update contact velocity for entity %d: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) entitiesWithLinkedMemories(ctx context.Context) ([]int64, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT me.entity_id
		FROM memory_entities me
		JOIN memories m ON m.id = me.memory_id
		WHERE m.invalidated_at IS NULL
		GROUP BY me.entity_id
		HAVING COUNT(*) >= 2`)
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

func (e *Engine) linkedMemoryTimestamps(ctx context.Context, entityID int64) ([]time.Time, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT m.created_at
		FROM memory_entities me
		JOIN memories m ON m.id = me.memory_id
		WHERE me.entity_id = ? AND m.invalidated_at IS NULL
		ORDER BY m.created_at ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, store.ParseTime(ts))
	}
	return out, rows.Err()
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// classifyTrend splits intervals into an earlier and a recent half and compares their
// means: a shrinking recent interval means contact is accelerating, a growing one means
// it's decelerating. A most recent interval longer than 60 days marks the relationship
// dormant.
func classifyTrend(intervals []float64) types.ContactTrend {
	if len(intervals) == 0 {
		return types.TrendStable
	}
	last := intervals[len(intervals)-1]
	if last > 60 {
		return types.TrendDormant
	}
	if len(intervals) < 2 {
		return types.TrendStable
	}

	mid := len(intervals) / 2
	earlier := mean(intervals[:mid])
	recent := mean(intervals[mid:])
	if earlier == 0 {
		return types.TrendStable
	}

	ratio := recent / earlier
	switch {
	case ratio < 0.8:
		return types.TrendAccelerating
	case ratio > 1.25:
		return types.TrendDecelerating
	default:
		return types.TrendStable
	}
}

// recomputeAttentionTiers buckets every live entity by the age of its last contact,
// falling back to the entity's created_at when it has never been contacted.
func (e *Engine) recomputeAttentionTiers(ctx context.Context) error {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT id, importance, last_contact_at, created_at FROM entities WHERE deleted_at IS NULL`)
	if err != nil {
		return err
	}
	type row struct {
		id            int64
		importance    float64
		lastContact   sql.NullString
		createdAt     string
	}
	var entities []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.importance, &r.lastContact, &r.createdAt); err != nil {
			rows.Close()
			return err
		}
		entities = append(entities, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	now := time.Now()
	for _, r := range entities {
		reference := store.ParseTime(r.createdAt)
		if r.lastContact.Valid {
			reference = store.ParseTime(r.lastContact.String)
		}
		age := now.Sub(reference)
		tier := attentionTierFor(age, r.importance)

		if _, _, err := e.st.Execute(ctx, "UPDATE entities SET attention_tier = ?, updated_at = ? WHERE id = ?",
			[]any{string(tier), store.FormatTime(now), r.id}, false); err != nil {
			return fmt.Errorf("update attention tier for entity %d: %w", r.id, err)
		}
	}
	return nil
}

// attentionTierFor buckets an entity into an attention tier by age. A high-importance
// entity (>= 0.7) keeps the younger tier for one extra day past each age boundary, so
// importance acts as a tiebreaker right at each boundary.
func attentionTierFor(age time.Duration, importance float64) types.AttentionTier {
	grace := importance >= 0.7
	switch {
	case age < attentionActiveAge:
		return types.TierActive
	case age < attentionWatchAge:
		if grace && age < attentionActiveAge+24*time.Hour {
			return types.TierActive
		}
		return types.TierWatch
	case age < attentionDormantAge:
		if grace && age < attentionWatchAge+24*time.Hour {
			return types.TierWatch
		}
		return types.TierDormant
	default:
		if grace && age < attentionDormantAge+24*time.Hour {
			return types.TierDormant
		}
		return types.TierArchive
	}
}
