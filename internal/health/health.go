// Package health composes the engine's status report and graceful-shutdown ordering: a
// handful of independent, non-fatal checks whose failures are logged rather than
// propagated, plus the counts and job list a caller needs for a status endpoint.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/memoryd/memoryd/internal/embedder"
	"github.com/memoryd/memoryd/internal/scheduler"
	"github.com/memoryd/memoryd/internal/store"
)

// lowDiskWarningMB and highHeapWarningMB are the disk/heap warning thresholds.
const (
	lowDiskWarningMB  = 100
	highHeapWarningMB = 500
)

// ComponentStatus is one entry of the report's components map.
type ComponentStatus struct {
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
}

// Counts reports row counts across the engine's core tables.
type Counts struct {
	Memories      int64 `json:"memories"`
	LiveMemories  int64 `json:"live_memories"`
	Entities      int64 `json:"entities"`
	Relationships int64 `json:"relationships"`
	Reflections   int64 `json:"reflections"`
	Predictions   int64 `json:"predictions"`
}

// Report is the JSON shape BuildStatusReport returns.
type Report struct {
	SchemaVersion         int64                      `json:"schema_version"`
	Components            map[string]ComponentStatus `json:"components"`
	ScheduledJobs          []string                   `json:"scheduled_jobs"`
	Counts                 Counts                     `json:"counts"`
	EmbeddingModelMismatch bool                       `json:"embedding_model_mismatch"`
}

// Checker builds status reports and runs the periodic, best-effort health checks.
type Checker struct {
	st    *store.Store
	emb   *embedder.Embedder
	sched *scheduler.Scheduler
	log   *slog.Logger
}

func New(st *store.Store, emb *embedder.Embedder, sched *scheduler.Scheduler, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{st: st, emb: emb, sched: sched, log: log}
}

// BuildStatusReport assembles the full report in one pass.
func (c *Checker) BuildStatusReport(ctx context.Context) (Report, error) {
	report := Report{
		Components: make(map[string]ComponentStatus),
	}

	version, err := c.schemaVersion(ctx)
	if err != nil {
		report.Components["database"] = ComponentStatus{OK: false, Detail: err.Error()}
	} else {
		report.SchemaVersion = version
		report.Components["database"] = c.databaseStatus(ctx)
	}

	report.Components["embeddings"] = c.embeddingStatus()
	if c.emb != nil {
		report.EmbeddingModelMismatch = c.emb.ModelMismatch()
	}

	report.Components["scheduler"] = c.schedulerStatus()
	if c.sched != nil {
		report.ScheduledJobs = c.sched.RegisteredJobs()
	}

	counts, err := c.counts(ctx)
	if err != nil {
		return report, fmt.Errorf("build counts: %w", err)
	}
	report.Counts = counts

	return report, nil
}

func (c *Checker) schemaVersion(ctx context.Context) (int64, error) {
	var version int64
	row := c.st.DB().QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (c *Checker) databaseStatus(ctx context.Context) ComponentStatus {
	var result string
	if err := c.st.DB().QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&result); err != nil {
		return ComponentStatus{OK: false, Detail: err.Error()}
	}
	if result != "ok" {
		return ComponentStatus{OK: false, Detail: result}
	}
	return ComponentStatus{OK: true}
}

func (c *Checker) embeddingStatus() ComponentStatus {
	if c.emb == nil {
		return ComponentStatus{OK: false, Detail: "no embedder configured"}
	}
	if !c.emb.Available() {
		return ComponentStatus{OK: false, Detail: "embedding host unreachable"}
	}
	if c.emb.ModelMismatch() {
		return ComponentStatus{OK: true, Detail: "embedding_model differs from last recorded model"}
	}
	return ComponentStatus{OK: true}
}

func (c *Checker) schedulerStatus() ComponentStatus {
	if c.sched == nil {
		return ComponentStatus{OK: false, Detail: "no scheduler configured"}
	}
	return ComponentStatus{OK: true}
}

func (c *Checker) counts(ctx context.Context) (Counts, error) {
	var out Counts
	queries := []struct {
		dest  *int64
		query string
	}{
		{&out.Memories, "SELECT COUNT(*) FROM memories"},
		{&out.LiveMemories, "SELECT COUNT(*) FROM memories WHERE invalidated_at IS NULL"},
		{&out.Entities, "SELECT COUNT(*) FROM entities WHERE deleted_at IS NULL"},
		{&out.Relationships, "SELECT COUNT(*) FROM relationships"},
		{&out.Reflections, "SELECT COUNT(*) FROM reflections"},
		{&out.Predictions, "SELECT COUNT(*) FROM predictions"},
	}
	for _, q := range queries {
		if err := c.st.DB().QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return out, fmt.Errorf("count query %q: %w", q.query, err)
		}
	}
	return out, nil
}

// RunPeriodicChecks performs the same non-fatal checks as checkDaemonHealth in the
// teacher: quick_check, disk space, and heap usage. Failures are logged, never returned,
// since a health check observing a problem should never itself crash the daemon.
func (c *Checker) RunPeriodicChecks(ctx context.Context) {
	if status := c.databaseStatus(ctx); !status.OK {
		c.log.Warn("health check: database integrity issue", "detail", status.Detail)
	}

	if availableMB, ok := diskSpaceAvailableMB(c.st.Path()); ok && availableMB < lowDiskWarningMB {
		c.log.Warn("health check: low disk space", "available_mb", availableMB)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	heapMB := mem.HeapAlloc / (1024 * 1024)
	if heapMB > highHeapWarningMB {
		c.log.Warn("health check: high memory usage", "heap_mb", heapMB)
	}
}

// Shutdown stops the Scheduler first so no new writes start, checkpoints the WAL, and
// only then closes the Store (whose own Close also checkpoints defensively). A flush
// issued after Close would have nothing to flush against, so stop and flush happen
// before close.
func Shutdown(ctx context.Context, st *store.Store, sched *scheduler.Scheduler) error {
	if sched != nil {
		sched.Stop()
	}
	if st != nil {
		if err := st.Flush(ctx); err != nil {
			return fmt.Errorf("flush store: %w", err)
		}
		if err := st.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}
