// Package audit is the engine's append-only operation log and historical-lookup surface,
// backed by the store's audit_log table rather than a JSONL file: every mutating public
// operation lives in the same transactionally-consistent database as the rows it
// describes.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

// Log appends entries to audit_log and serves its filtered-history views.
type Log struct {
	st *store.Store
}

func New(st *store.Store) *Log {
	return &Log{st: st}
}

// Record appends one audit_log row for operation, optionally tied to an entity and/or
// memory. Every mutating public operation calls this once it has committed its write.
func (l *Log) Record(ctx context.Context, operation string, entityID, memoryID *int64, sessionID string, userInitiated bool, details map[string]any) error {
	values := map[string]any{
		"timestamp":      store.FormatTime(time.Now()),
		"operation":      operation,
		"session_id":     sessionID,
		"user_initiated": boolToInt(userInitiated),
		"details":        store.MarshalJSON(details),
	}
	if entityID != nil {
		values["entity_id"] = *entityID
	}
	if memoryID != nil {
		values["memory_id"] = *memoryID
	}
	if _, err := l.st.Insert(ctx, "audit_log", values); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// GetRecent returns the newest limit audit_log entries, newest first, optionally filtered
// to a single operation name.
func (l *Log) GetRecent(ctx context.Context, limit int, operation string) ([]types.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, timestamp, operation, entity_id, memory_id, session_id, user_initiated, details FROM audit_log"
	var args []any
	if operation != "" {
		query += " WHERE operation = ?"
		args = append(args, operation)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)
	return l.queryEntries(ctx, query, args)
}

// GetEntityHistory returns every audit_log entry touching entityID, chronological order.
func (l *Log) GetEntityHistory(ctx context.Context, entityID int64) ([]types.AuditEntry, error) {
	return l.queryEntries(ctx,
		"SELECT id, timestamp, operation, entity_id, memory_id, session_id, user_initiated, details FROM audit_log WHERE entity_id = ? ORDER BY timestamp ASC",
		[]any{entityID})
}

// GetMemoryHistory returns every audit_log entry touching memoryID, chronological order.
func (l *Log) GetMemoryHistory(ctx context.Context, memoryID int64) ([]types.AuditEntry, error) {
	return l.queryEntries(ctx,
		"SELECT id, timestamp, operation, entity_id, memory_id, session_id, user_initiated, details FROM audit_log WHERE memory_id = ? ORDER BY timestamp ASC",
		[]any{memoryID})
}

func (l *Log) queryEntries(ctx context.Context, query string, args []any) ([]types.AuditEntry, error) {
	rows, err := l.st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var ts, details string
		var entityID, memoryID *int64
		var userInitiated int
		if err := rows.Scan(&e.ID, &ts, &e.Operation, &entityID, &memoryID, &e.SessionID, &userInitiated, &details); err != nil {
			return nil, err
		}
		e.Timestamp = store.ParseTime(ts)
		e.EntityID = entityID
		e.MemoryID = memoryID
		e.UserInitiated = userInitiated != 0
		e.Details = store.UnmarshalJSON(details)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
