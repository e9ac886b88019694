package consolidate

import (
	"context"
	"fmt"

	"github.com/memoryd/memoryd/internal/store"
)

const (
	minFeedbackSampleSize  = 5
	lowActRatioThreshold   = 0.1
	highActRatioThreshold  = 0.5
	lowActRatioMultiplier  = 0.5
	highActRatioMultiplier = 1.25
	neutralMultiplier      = 1.0
)

// recomputePredictionFeedback scores each prediction pattern by how often shown
// predictions were actually acted on, once it has accumulated enough samples to be
// meaningful (at least 5 shown predictions). The resulting multiplier is stored under
// metadata.feedback_multiplier on every prediction of that pattern, for the prediction
// surfacing path to weight future candidates by.
func (e *Engine) recomputePredictionFeedback(ctx context.Context) error {
	patterns, err := e.patternFeedbackCounts(ctx)
	if err != nil {
		return err
	}

	for pattern, counts := range patterns {
		if counts.shown < minFeedbackSampleSize {
			continue
		}
		actRatio := float64(counts.actedOn) / float64(counts.shown)

		var multiplier float64
		switch {
		case actRatio < lowActRatioThreshold:
			multiplier = lowActRatioMultiplier
		case actRatio > highActRatioThreshold:
			multiplier = highActRatioMultiplier
		default:
			multiplier = neutralMultiplier
		}

		if err := e.applyFeedbackMultiplier(ctx, pattern, multiplier); err != nil {
			return fmt.Errorf("apply feedback multiplier for pattern %q: %w", pattern, err)
		}
	}
	return nil
}

type feedbackCounts struct {
	shown   int
	actedOn int
}

func (e *Engine) patternFeedbackCounts(ctx context.Context) (map[string]feedbackCounts, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT prediction_pattern_name,
		       SUM(CASE WHEN is_shown = 1 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN is_shown = 1 AND is_acted_on = 1 THEN 1 ELSE 0 END)
		FROM predictions
		WHERE prediction_pattern_name != ''
		GROUP BY prediction_pattern_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]feedbackCounts)
	for rows.Next() {
		var name string
		var c feedbackCounts
		if err := rows.Scan(&name, &c.shown, &c.actedOn); err != nil {
			return nil, err
		}
		out[name] = c
	}
	return out, rows.Err()
}

func (e *Engine) applyFeedbackMultiplier(ctx context.Context, pattern string, multiplier float64) error {
	rows, err := e.st.DB().QueryContext(ctx,
		"SELECT id, metadata FROM predictions WHERE prediction_pattern_name = ?", pattern)
	if err != nil {
		return err
	}
	type row struct {
		id       int64
		metadata string
	}
	var predictions []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.metadata); err != nil {
			rows.Close()
			return err
		}
		predictions = append(predictions, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range predictions {
		meta := store.UnmarshalJSON(r.metadata)
		meta["feedback_multiplier"] = multiplier
		if _, _, err := e.st.Execute(ctx, "UPDATE predictions SET metadata = ? WHERE id = ?",
			[]any{store.MarshalJSON(meta), r.id}, false); err != nil {
			return err
		}
	}
	return nil
}
