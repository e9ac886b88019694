package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestRegisterDefaultJobsRegistersExactJobSet(t *testing.T) {
	s := New(nil)
	noop := func(ctx context.Context) error { return nil }

	if err := RegisterDefaultJobs(s, noop, noop, noop, noop); err != nil {
		t.Fatalf("RegisterDefaultJobs: %v", err)
	}

	got := make(map[string]bool)
	for _, name := range s.RegisteredJobs() {
		got[name] = true
	}

	expected := []string{JobDailyDecay, JobPatternDetection, JobFullConsolidation, JobVaultSync}
	if len(got) != len(expected) {
		t.Fatalf("expected exactly %d jobs, got %d: %v", len(expected), len(got), got)
	}
	for _, name := range expected {
		if !got[name] {
			t.Fatalf("expected job %q to be registered", name)
		}
	}

	removed := []string{"hourly_decay", "daily_predictions", "memory_verification", "llm_consolidation", "daily_metrics", "document_lifecycle"}
	for _, name := range removed {
		if got[name] {
			t.Fatalf("removed job %q must never be registered", name)
		}
	}
}

func TestRegisterRejectsUnknownJobName(t *testing.T) {
	s := New(nil)
	noop := func(ctx context.Context) error { return nil }

	if err := s.RegisterInterval("hourly_decay", time.Minute, noop); err == nil {
		t.Fatalf("expected registering a non-allowed job name to fail")
	}
}

func TestRegisterDefaultJobsAlwaysRegistersVaultSync(t *testing.T) {
	s := New(nil)
	noop := func(ctx context.Context) error { return nil }

	if err := RegisterDefaultJobs(s, noop, noop, noop, noop); err != nil {
		t.Fatalf("RegisterDefaultJobs: %v", err)
	}

	found := false
	for _, name := range s.RegisteredJobs() {
		if name == JobVaultSync {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected vault_sync to be registered even with a no-op JobFunc standing in for an unconfigured vault")
	}
}

func TestStartStopIsIdempotentAndClean(t *testing.T) {
	s := New(nil)
	noop := func(ctx context.Context) error { return nil }
	if err := RegisterDefaultJobs(s, noop, noop, noop, noop); err != nil {
		t.Fatalf("RegisterDefaultJobs: %v", err)
	}

	s.Start()
	s.Start() // second Start must be a no-op, not a double-registration
	s.Stop()
	s.Stop() // second Stop must not panic or block
}
