package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/memoryd/memoryd/internal/store"
)

// Snapshot computes the current system-health counters and writes one metrics row per
// named counter, all stamped with the same timestamp so a single query against
// `timestamp` reconstructs one full snapshot.
func (l *Log) Snapshot(ctx context.Context) error {
	counters, err := l.collect(ctx)
	if err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}

	ts := store.FormatTime(time.Now())
	for name, value := range counters {
		if _, err := l.st.Insert(ctx, "metrics", map[string]any{
			"timestamp":    ts,
			"metric_name":  name,
			"metric_value": value,
			"dimensions":   "{}",
		}); err != nil {
			return fmt.Errorf("write metric %s: %w", name, err)
		}
	}
	return nil
}

func (l *Log) collect(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}

	entityByType, err := l.countGroupBy(ctx, "entities", "type", "deleted_at IS NULL")
	if err != nil {
		return nil, err
	}
	for t, n := range entityByType {
		out["entities_by_type."+t] = n
	}

	memByType, err := l.countGroupBy(ctx, "memories", "type", "invalidated_at IS NULL")
	if err != nil {
		return nil, err
	}
	for t, n := range memByType {
		out["memories_by_type."+t] = n
	}

	var avgImportance float64
	if err := l.st.DB().QueryRowContext(ctx,
		"SELECT COALESCE(AVG(importance), 0) FROM memories WHERE invalidated_at IS NULL").Scan(&avgImportance); err != nil {
		return nil, err
	}
	out["avg_memory_importance"] = avgImportance

	var orphanMemories float64
	if err := l.st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories m
		WHERE m.invalidated_at IS NULL
			AND NOT EXISTS (SELECT 1 FROM memory_entities me WHERE me.memory_id = m.id)`).Scan(&orphanMemories); err != nil {
		return nil, err
	}
	out["orphan_memories"] = orphanMemories

	var staleEntities float64
	if err := l.st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE deleted_at IS NULL AND attention_tier IN ('dormant', 'archive')`).Scan(&staleEntities); err != nil {
		return nil, err
	}
	out["stale_entities"] = staleEntities

	return out, nil
}

func (l *Log) countGroupBy(ctx context.Context, table, column, where string) (map[string]float64, error) {
	rows, err := l.st.DB().QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s GROUP BY %s", column, table, where, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var key string
		var n float64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}
