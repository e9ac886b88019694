// Package verify runs the engine's periodic correctness pass over memories still
// pending verification: deterministic checks always run, with an optional LLM
// consistency check layered on top when a language-model host is configured. It follows
// the same eligibility-gated batch shape as consolidate.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

// Config holds verify's tunable parameters.
type Config struct {
	BatchSize  int
	MinAge     time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 20, MinAge: 5 * time.Minute}
}

// ConsistencyChecker is the optional LLM-backed extra check. When nil, RunBatch
// performs only the deterministic checks.
type ConsistencyChecker interface {
	CheckConsistency(ctx context.Context, content string) (ok bool, reason string, err error)
}

// Engine runs one verify pass over pending memories.
type Engine struct {
	st      *store.Store
	auditLog *audit.Log
	checker ConsistencyChecker
	cfg     Config
	log     *slog.Logger
}

func New(st *store.Store, auditLog *audit.Log, checker ConsistencyChecker, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{st: st, auditLog: auditLog, checker: checker, cfg: cfg, log: log}
}

// Result summarizes the outcome of one batch.
type Result struct {
	Checked  int
	Verified int
	Flagged  int
}

// RunBatch verifies up to cfg.BatchSize memories that have sat pending for at least
// cfg.MinAge (a buffer window to let corrections arrive before a memory is judged).
// A language-model host's absence is not an error: the deterministic checks alone are
// sufficient to make progress.
func (e *Engine) RunBatch(ctx context.Context) (Result, error) {
	candidates, err := e.eligibleMemories(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("select eligible memories: %w", err)
	}

	var result Result
	for _, m := range candidates {
		result.Checked++
		verified, reason := e.deterministicCheck(m)

		if verified && e.checker != nil {
			ok, llmReason, err := e.checker.CheckConsistency(ctx, m.Content)
			if err != nil {
				e.log.Warn("consistency check failed, keeping deterministic verdict", "memory_id", m.ID, "error", err)
			} else if !ok {
				verified = false
				reason = llmReason
			}
		}

		if err := e.applyVerdict(ctx, m.ID, verified, reason); err != nil {
			return result, fmt.Errorf("apply verdict for memory %d: %w", m.ID, err)
		}
		if verified {
			result.Verified++
		} else {
			result.Flagged++
		}
	}
	return result, nil
}

func (e *Engine) eligibleMemories(ctx context.Context) ([]types.Memory, error) {
	cutoff := store.FormatTime(time.Now().Add(-e.cfg.MinAge))
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT id, content, type, deadline_at, created_at FROM memories
		WHERE invalidated_at IS NULL AND verification_status = ? AND created_at <= ?
		ORDER BY created_at ASC LIMIT ?`,
		string(types.VerificationPending), cutoff, e.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Memory
	for rows.Next() {
		var m types.Memory
		var memType, createdAt string
		var deadline *string
		if err := rows.Scan(&m.ID, &m.Content, &memType, &deadline, &createdAt); err != nil {
			return nil, err
		}
		m.Type = types.MemoryType(memType)
		m.CreatedAt = store.ParseTime(createdAt)
		if deadline != nil {
			t := store.ParseTime(*deadline)
			m.DeadlineAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// deterministicCheck applies the always-run rules: a commitment with no deadline is
// flagged and its importance reduced to the floor; anything else that passes is
// verified outright.
func (e *Engine) deterministicCheck(m types.Memory) (verified bool, reason string) {
	if m.Type == types.MemoryCommitment && m.DeadlineAt == nil {
		return false, "commitment has no deadline"
	}
	return true, ""
}

const commitmentNoDeadlineImportance = 0.1

func (e *Engine) applyVerdict(ctx context.Context, memoryID int64, verified bool, reason string) error {
	now := store.FormatTime(time.Now())
	status := types.VerificationFlagged
	values := map[string]any{
		"verification_status": string(status),
		"updated_at":          now,
	}
	if verified {
		values["verification_status"] = string(types.VerificationVerified)
		values["verified_at"] = now
	} else {
		values["importance"] = commitmentNoDeadlineImportance
	}

	if _, err := e.st.Update(ctx, "memories", values, "id = ?", []any{memoryID}); err != nil {
		return err
	}

	if e.auditLog != nil {
		id := memoryID
		details := map[string]any{"verified": verified}
		if reason != "" {
			details["reason"] = reason
		}
		if err := e.auditLog.Record(ctx, "verify_memory", nil, &id, "", false, details); err != nil {
			e.log.Warn("audit record failed for verify pass, continuing", "memory_id", memoryID, "error", err)
		}
	}
	return nil
}
