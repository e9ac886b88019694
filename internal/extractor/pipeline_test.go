package extractor

import (
	"context"
	"testing"
)

func TestPipelineRunExtractsEntitiesWithRegexOnly(t *testing.T) {
	pipeline := NewPipeline("", nil)
	text := "Met with Sarah Chen from Acme Corp about the MemoryEngine rollout."

	result, err := pipeline.Run(context.Background(), text)
	if err != nil {
		t.Fatalf("Pipeline.Run failed: %v", err)
	}

	names := make(map[string]bool)
	for _, e := range result.Entities {
		names[CanonicalName(e.Name)] = true
	}
	if !names["sarah chen"] {
		t.Errorf("expected 'sarah chen' to be extracted, got %+v", result.Entities)
	}
	if !names["acme corp"] {
		t.Errorf("expected 'acme corp' to be extracted, got %+v", result.Entities)
	}
}

func TestPipelineRunDetectsDeadline(t *testing.T) {
	pipeline := NewPipeline("", nil)
	result, err := pipeline.Run(context.Background(), "I'll send the report by Friday.")
	if err != nil {
		t.Fatalf("Pipeline.Run failed: %v", err)
	}
	if result.DeadlineAt == nil {
		t.Fatalf("expected a detected deadline")
	}
}

func TestPipelineRunNoDeadlineWhenAbsent(t *testing.T) {
	pipeline := NewPipeline("", nil)
	result, err := pipeline.Run(context.Background(), "Sarah Chen likes coffee.")
	if err != nil {
		t.Fatalf("Pipeline.Run failed: %v", err)
	}
	if result.DeadlineAt != nil {
		t.Fatalf("expected no deadline, got %v", result.DeadlineAt)
	}
}
