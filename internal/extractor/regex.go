package extractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/memoryd/memoryd/internal/types"
)

// RegexStrategy recognizes entity mentions by surface shape rather than by understanding
// the sentence: capitalized two/three-word spans read as people, "Corp/Inc/LLC"-suffixed
// spans as organizations, and a short list of project-naming conventions.
type RegexStrategy struct{}

func NewRegexStrategy() *RegexStrategy { return &RegexStrategy{} }

func (r *RegexStrategy) Name() string { return "regex" }

var (
	personPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+){1,2}\b`)
	orgPattern    = regexp.MustCompile(`\b[A-Z][\w&]+(?:\s[A-Z][\w&]+)*\s(?:Inc|LLC|Corp|Corporation|Ltd|Co)\.?\b`)
	projectPattern = regexp.MustCompile(`\b(?:[A-Z][a-z0-9]+){2,}\b|\b[a-z][a-z0-9]*(?:-[a-z0-9]+)+\b`)
)

var stopwords = map[string]bool{
	"the": true, "this": true, "that": true, "monday": true, "tuesday": true,
	"wednesday": true, "thursday": true, "friday": true, "saturday": true, "sunday": true,
	"january": true, "february": true, "march": true, "april": true, "may": true,
	"june": true, "july": true, "august": true, "september": true, "october": true,
	"november": true, "december": true,
}

func (r *RegexStrategy) Extract(_ context.Context, text string) ([]Candidate, error) {
	seen := make(map[string]bool)
	var out []Candidate

	add := func(name string, t types.EntityType, confidence float64) {
		canon := CanonicalName(name)
		if canon == "" || stopwords[canon] {
			return
		}
		if seen[canon] {
			return
		}
		seen[canon] = true
		out = append(out, Candidate{Name: name, Type: t, Confidence: confidence, Source: "regex"})
	}

	for _, m := range orgPattern.FindAllString(text, -1) {
		add(m, types.EntityOrganization, 0.75)
	}
	for _, m := range projectPattern.FindAllString(text, -1) {
		add(m, types.EntityProject, 0.6)
	}
	for _, m := range personPattern.FindAllString(text, -1) {
		add(m, types.EntityPerson, 0.65)
	}

	return out, nil
}

// CanonicalName trims, lowercases, and collapses internal whitespace in name. Guards'
// near-duplicate check and Remember's entity resolution both normalize through this
// function so "Sarah  Chen" and "sarah chen" resolve to the same entity.
func CanonicalName(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return strings.Join(fields, " ")
}
