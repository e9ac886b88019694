// Package consolidate runs the engine's idempotent periodic maintenance pass: deadline
// surge, decay, contact-velocity/attention-tier recomputation, near-duplicate merging, and
// prediction-pattern feedback. It's a bounded, eligibility-gated batch job, optionally
// assisted by an LLM.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memoryd/memoryd/internal/embedder"
	"github.com/memoryd/memoryd/internal/store"
)

// Config holds consolidate's tunable decay and merge thresholds.
type Config struct {
	DecayRateDaily           float64
	MinImportanceThreshold   float64
	SimilarityMergeThreshold float64
	EnableMemoryMerging      bool
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		DecayRateDaily:           0.995,
		MinImportanceThreshold:   0.1,
		SimilarityMergeThreshold: 0.92,
		EnableMemoryMerging:      true,
	}
}

// Engine runs one consolidation pass. The LLM improver is optional; when nil, the
// improvement and prediction-generation steps are skipped without error.
type Engine struct {
	st       *store.Store
	emb      *embedder.Embedder
	improver *Improver
	cfg      Config
	log      *slog.Logger
}

func New(st *store.Store, emb *embedder.Embedder, improver *Improver, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{st: st, emb: emb, improver: improver, cfg: cfg, log: log}
}

// RunDecay executes one full consolidation pass, always surge before decay, so a
// commitment raised by its approaching deadline isn't immediately knocked back down by
// the same pass's decay multiplier.
func (e *Engine) RunDecay(ctx context.Context) error {
	surged, err := e.applyDeadlineSurge(ctx)
	if err != nil {
		return fmt.Errorf("deadline surge: %w", err)
	}

	if err := e.recomputeContactVelocity(ctx); err != nil {
		return fmt.Errorf("contact velocity: %w", err)
	}
	if err := e.recomputeAttentionTiers(ctx); err != nil {
		return fmt.Errorf("attention tiers: %w", err)
	}

	if e.cfg.EnableMemoryMerging && e.st.VectorIndexAvailable() {
		if err := e.mergeNearDuplicates(ctx); err != nil {
			e.log.Warn("near-duplicate merge failed, continuing", "error", err)
		}
	}

	if err := e.recomputePredictionFeedback(ctx); err != nil {
		e.log.Warn("prediction feedback recompute failed, continuing", "error", err)
	}

	if e.improver != nil {
		if err := e.improver.ImproveHighImportanceMemories(ctx); err != nil {
			e.log.Warn("llm memory improvement failed, continuing", "error", err)
		}
		if err := e.improver.GeneratePredictions(ctx); err != nil {
			e.log.Warn("llm prediction generation failed, continuing", "error", err)
		}
	}

	if err := e.applyDecay(ctx, surged); err != nil {
		return fmt.Errorf("decay: %w", err)
	}
	if err := e.decayReflections(ctx); err != nil {
		return fmt.Errorf("reflection decay: %w", err)
	}

	return nil
}
