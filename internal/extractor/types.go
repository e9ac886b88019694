package extractor

import (
	"context"

	"github.com/memoryd/memoryd/internal/types"
)

// Candidate is an extracted (name, type) pair awaiting Guards validation and entity
// resolution. Confidence is a coarse reliability signal: regex patterns score lower than
// an LLM-backed extractor that actually read the sentence.
type Candidate struct {
	Name       string
	Type       types.EntityType
	Confidence float64
	Source     string // "regex" or "ollama"
}

// Strategy is one entity-extraction backend. Pipeline runs every configured Strategy and
// merges candidates, keeping the highest-confidence Type per canonical name.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, text string) ([]Candidate, error)
}
