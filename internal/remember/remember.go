// Package remember implements the engine's ingest path: validating, deduplicating, and
// persisting memories, buffering conversational turns into episodes, and the
// correction/invalidation operations that mutate a memory after the fact. Every mutating
// call here ends with an audit_log entry, following a validate-write-audit shape.
package remember

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/embedder"
	"github.com/memoryd/memoryd/internal/extractor"
	"github.com/memoryd/memoryd/internal/guards"
	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

const defaultInvalidationReason = "User requested invalidation"

// Engine wires Store, Guards, Embedder, the extraction Pipeline, and Audit into the
// public remember/correct/invalidate/buffer operations.
type Engine struct {
	st       *store.Store
	emb      *embedder.Embedder
	pipeline *extractor.Pipeline
	log      *slog.Logger
	audit    *audit.Log
}

func New(st *store.Store, emb *embedder.Embedder, pipeline *extractor.Pipeline, auditLog *audit.Log, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{st: st, emb: emb, pipeline: pipeline, log: log, audit: auditLog}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// RememberOptions captures remember_fact's optional inputs.
type RememberOptions struct {
	SourceChannel string
	SessionID     string
	EntityNames   []string // entities to link directly, bypassing extraction
}

// RememberFact validates content, dedupes by content hash (bumping access_count and
// timestamps on a hit instead of inserting a duplicate row), inserts a new memory
// otherwise, kicks off async embedding, links declared entities, and audits the write.
func (e *Engine) RememberFact(ctx context.Context, content string, memType types.MemoryType, importance float64, opts RememberOptions) (int64, error) {
	deadlineAt, _, hasDeadline := extractor.DetectDeadline(content, time.Now())
	check := guards.ValidateMemory(content, memType, importance, hasDeadline)
	for _, w := range check.Warnings {
		e.log.Warn("remember_fact validation warning", "warning", w)
	}

	hash := contentHash(check.Content)
	now := store.FormatTime(time.Now())

	existing, err := e.st.GetOne(ctx, "memories", "content_hash = ?", []any{hash})
	if err == nil {
		id := toInt64(existing["id"])
		if _, _, uerr := e.st.Execute(ctx, `
			UPDATE memories SET access_count = access_count + 1, updated_at = ? WHERE id = ?`,
			[]any{now, id}, false); uerr != nil {
			return 0, fmt.Errorf("bump duplicate memory: %w", uerr)
		}
		e.recordAudit(ctx, "remember_fact_duplicate", nil, &id, opts.SessionID, true, map[string]any{"content_hash": hash})
		return id, nil
	}

	values := map[string]any{
		"content":      check.Content,
		"content_hash": hash,
		"type":         string(memType),
		"importance":   check.Importance,
		"confidence":   1.0,
		"source_channel": opts.SourceChannel,
		"created_at":   now,
		"updated_at":   now,
	}
	if hasDeadline {
		values["deadline_at"] = store.FormatTime(deadlineAt)
	}

	id, err := e.st.Insert(ctx, "memories", values)
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}

	e.enqueueEmbedding(id, check.Content)

	entityNames := opts.EntityNames
	if len(entityNames) == 0 && e.pipeline != nil {
		if result, perr := e.pipeline.Run(ctx, check.Content); perr == nil {
			for _, c := range result.Entities {
				entityNames = append(entityNames, c.Name)
			}
		} else {
			e.log.Warn("entity extraction failed, remembering with no linked entities", "error", perr)
		}
	}
	if err := e.linkEntities(ctx, id, entityNames); err != nil {
		e.log.Warn("failed to link declared entities", "memory_id", id, "error", err)
	}

	e.recordAudit(ctx, "remember_fact", nil, &id, opts.SessionID, true, map[string]any{
		"type": string(memType), "importance": check.Importance,
	})
	return id, nil
}

// enqueueEmbedding runs the Embedder asynchronously; the memory row is already committed
// by the time this runs, since embedding never blocks the write that created it.
func (e *Engine) enqueueEmbedding(memoryID int64, content string) {
	if e.emb == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		vec, err := e.emb.Embed(ctx, content)
		if err != nil {
			e.log.Warn("embedding failed", "memory_id", memoryID, "error", err)
			return
		}
		if vec == nil {
			return
		}
		if err := e.st.UpsertVector(ctx, memoryID, vec); err != nil {
			e.log.Warn("vector upsert failed", "memory_id", memoryID, "error", err)
		}
	}()
}

// linkEntities resolves each name to an existing live entity (creating none itself —
// entity creation is a guards-checked operation its callers perform explicitly) and
// inserts the memory_entities row, ignoring names that don't resolve.
func (e *Engine) linkEntities(ctx context.Context, memoryID int64, names []string) error {
	for _, name := range names {
		canonical := extractor.CanonicalName(name)
		row, err := e.st.GetOne(ctx, "entities", "canonical_name = ? AND deleted_at IS NULL", []any{canonical})
		if err != nil {
			continue
		}
		entityID := toInt64(row["id"])
		if _, err := e.st.Insert(ctx, "memory_entities", map[string]any{
			"memory_id": memoryID, "entity_id": entityID, "relationship": "about",
		}); err != nil {
			return err
		}
	}
	return nil
}

// CorrectMemory atomically replaces a memory's content, preserving only the single most
// recent prior content in corrected_from rather than a full correction history.
func (e *Engine) CorrectMemory(ctx context.Context, id int64, newContent string, reason string) error {
	row, err := e.st.GetOne(ctx, "memories", "id = ?", []any{id})
	if err != nil {
		return fmt.Errorf("memory %d not found: %w", id, err)
	}
	previous := toString(row["content"])
	now := store.FormatTime(time.Now())

	if _, err := e.st.Update(ctx, "memories", map[string]any{
		"content":        newContent,
		"content_hash":   contentHash(newContent),
		"corrected_from": previous,
		"corrected_at":   now,
		"updated_at":     now,
	}, "id = ?", []any{id}); err != nil {
		return fmt.Errorf("correct memory %d: %w", id, err)
	}

	e.recordAudit(ctx, "correct_memory", nil, &id, "", true, map[string]any{
		"previous_content": previous, "reason": reason,
	})
	return nil
}

// InvalidateMemory marks a memory invalid without touching its content.
func (e *Engine) InvalidateMemory(ctx context.Context, id int64, reason string) error {
	if reason == "" {
		reason = defaultInvalidationReason
	}
	now := store.FormatTime(time.Now())
	if _, err := e.st.Update(ctx, "memories", map[string]any{
		"invalidated_at":     now,
		"invalidated_reason": reason,
		"updated_at":         now,
	}, "id = ?", []any{id}); err != nil {
		return fmt.Errorf("invalidate memory %d: %w", id, err)
	}

	e.recordAudit(ctx, "invalidate_memory", nil, &id, "", true, map[string]any{"reason": reason})
	return nil
}

func (e *Engine) recordAudit(ctx context.Context, operation string, entityID, memoryID *int64, sessionID string, userInitiated bool, details map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, operation, entityID, memoryID, sessionID, userInitiated, details); err != nil {
		e.log.Warn("failed to record audit entry", "operation", operation, "error", err)
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
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
