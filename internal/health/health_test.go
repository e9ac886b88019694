package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/memoryd/memoryd/internal/scheduler"
	"github.com/memoryd/memoryd/internal/store"
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

func TestBuildStatusReportReportsHealthyDatabase(t *testing.T) {
	st := openTestStore(t)
	c := New(st, nil, nil, nil)

	report, err := c.BuildStatusReport(context.Background())
	if err != nil {
		t.Fatalf("BuildStatusReport: %v", err)
	}
	if !report.Components["database"].OK {
		t.Fatalf("expected database component OK, got %+v", report.Components["database"])
	}
	if report.Components["embeddings"].OK {
		t.Fatalf("expected embeddings component to report not-OK with no embedder configured")
	}
	if report.Components["scheduler"].OK {
		t.Fatalf("expected scheduler component to report not-OK with no scheduler configured")
	}
}

func TestBuildStatusReportIncludesScheduledJobs(t *testing.T) {
	st := openTestStore(t)
	s := scheduler.New(nil)
	noop := func(ctx context.Context) error { return nil }
	if err := scheduler.RegisterDefaultJobs(s, noop, noop, noop, noop); err != nil {
		t.Fatalf("RegisterDefaultJobs: %v", err)
	}

	c := New(st, nil, s, nil)
	report, err := c.BuildStatusReport(context.Background())
	if err != nil {
		t.Fatalf("BuildStatusReport: %v", err)
	}
	if len(report.ScheduledJobs) != 4 {
		t.Fatalf("expected 4 scheduled jobs, got %v", report.ScheduledJobs)
	}
	if !report.Components["scheduler"].OK {
		t.Fatalf("expected scheduler component OK once configured")
	}
}

func TestBuildStatusReportCountsLiveMemories(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := store.FormatTime(time.Now())
	_, err := st.Insert(ctx, "memories", map[string]any{
		"content":      "a fact",
		"content_hash": "hash-a",
		"type":         "fact",
		"importance":   0.5,
		"created_at":   now,
		"updated_at":   now,
	})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}

	c := New(st, nil, nil, nil)
	report, err := c.BuildStatusReport(ctx)
	if err != nil {
		t.Fatalf("BuildStatusReport: %v", err)
	}
	if report.Counts.Memories != 1 || report.Counts.LiveMemories != 1 {
		t.Fatalf("expected 1 memory counted, got %+v", report.Counts)
	}
}

func TestShutdownStopsSchedulerAndClosesStore(t *testing.T) {
	st := openTestStore(t)
	s := scheduler.New(nil)
	noop := func(ctx context.Context) error { return nil }
	if err := scheduler.RegisterDefaultJobs(s, noop, noop, noop, noop); err != nil {
		t.Fatalf("RegisterDefaultJobs: %v", err)
	}
	s.Start()

	if err := Shutdown(context.Background(), st, s); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
