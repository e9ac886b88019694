package extractor

import (
	"context"
	"log/slog"
	"time"
)

// Result is the full output of a Pipeline run over one piece of text: the merged entity
// candidates plus any detected deadline.
type Result struct {
	Entities     []Candidate
	DeadlineAt   *time.Time
	DeadlinePhrase string
	Duration     time.Duration
	Strategies   []string
}

// Pipeline runs every configured Strategy over a piece of text and merges their
// candidates, keeping the highest-confidence Type per canonical name. The regex strategy
// always runs; an Ollama-backed strategy is added only when a local model is reachable,
// so extraction degrades gracefully rather than blocking Remember on an absent service.
type Pipeline struct {
	strategies []Strategy
	log        *slog.Logger
}

// NewPipeline builds a Pipeline. ollamaModel is the local model name to try for
// LLM-backed extraction; an empty string or an unreachable Ollama host simply leaves the
// pipeline running on regex alone.
func NewPipeline(ollamaModel string, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{strategies: []Strategy{NewRegexStrategy()}, log: log}
	if ollamaModel == "" {
		return p
	}

	if ollama, err := NewOllamaStrategy(ollamaModel); err != nil {
		log.Debug("ollama extraction strategy unavailable", "error", err)
	} else {
		p.strategies = append(p.strategies, ollama)
	}

	return p
}

// Run extracts entity candidates and a deadline, if any, from text.
func (p *Pipeline) Run(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	merged := make(map[string]Candidate)
	var used []string

	for _, s := range p.strategies {
		candidates, err := s.Extract(ctx, text)
		if err != nil {
			p.log.Warn("extraction strategy failed, continuing with remaining strategies", "strategy", s.Name(), "error", err)
			continue
		}
		used = append(used, s.Name())
		for _, c := range candidates {
			key := CanonicalName(c.Name)
			if existing, ok := merged[key]; !ok || c.Confidence > existing.Confidence {
				merged[key] = c
			}
		}
	}

	entities := make([]Candidate, 0, len(merged))
	for _, c := range merged {
		entities = append(entities, c)
	}

	result := &Result{Entities: entities, Duration: time.Since(start), Strategies: used}
	if at, phrase, ok := DetectDeadline(text, start); ok {
		result.DeadlineAt = &at
		result.DeadlinePhrase = phrase
	}
	return result, nil
}
