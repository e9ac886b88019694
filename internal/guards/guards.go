// Package guards implements the engine's pure validators: the last checkpoint before a
// memory, entity, or relationship is written. Guards never touch the store directly —
// callers supply whatever context (existing canonical names, a deadline hint) the check
// needs, and a guard returns a corrected value plus zero or more warnings.
package guards

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/memoryd/memoryd/internal/extractor"
	"github.com/memoryd/memoryd/internal/types"
)

const (
	contentWarnLen = 500
	contentMaxLen  = 1000

	// DefaultNearDuplicateDistance is the edit-distance threshold below which two
	// canonical entity names are flagged as probable duplicates.
	DefaultNearDuplicateDistance = 2
)

// MemoryCheck is the outcome of ValidateMemory: the (possibly clamped/truncated) fields
// to persist, plus any warnings worth logging.
type MemoryCheck struct {
	Content    string
	Importance float64
	Warnings   []string
}

// ValidateMemory clamps importance into [0,1], truncates overlong content, and warns when
// a commitment carries no recognizable deadline.
func ValidateMemory(content string, memType types.MemoryType, importance float64, hasDeadline bool) MemoryCheck {
	check := MemoryCheck{Content: content, Importance: clamp01(importance)}

	if len(content) > contentWarnLen {
		check.Warnings = append(check.Warnings, fmt.Sprintf("content length %d exceeds %d chars", len(content), contentWarnLen))
	}
	if len(content) > contentMaxLen {
		check.Content = content[:contentMaxLen]
		check.Warnings = append(check.Warnings, fmt.Sprintf("content truncated to %d chars", contentMaxLen))
	}
	if memType == types.MemoryCommitment && !hasDeadline {
		check.Warnings = append(check.Warnings, "commitment recorded without a detected deadline")
	}

	return check
}

// EntityCheck is the outcome of ValidateEntity.
type EntityCheck struct {
	Err            error
	NearDuplicate  string
	EditDistance   int
	Warnings       []string
}

// ValidateEntity rejects an empty name and warns when name's canonical form is within
// maxDistance edits of an existing canonical name (a likely duplicate entity, e.g. "Sara
// Chen" vs "Sarah Chen"). existingCanonicalNames should exclude the entity being updated,
// if any. maxDistance <= 0 selects DefaultNearDuplicateDistance.
func ValidateEntity(name string, existingCanonicalNames []string, maxDistance int) EntityCheck {
	if strings.TrimSpace(name) == "" {
		return EntityCheck{Err: fmt.Errorf("entity name must not be empty")}
	}
	if maxDistance <= 0 {
		maxDistance = DefaultNearDuplicateDistance
	}

	canonical := extractor.CanonicalName(name)
	closest, dist := findClosest(canonical, existingCanonicalNames, maxDistance)

	check := EntityCheck{}
	if closest != "" {
		check.NearDuplicate = closest
		check.EditDistance = dist
		check.Warnings = append(check.Warnings, fmt.Sprintf("entity name %q is within %d edits of existing entity %q", name, dist, closest))
	}
	return check
}

func findClosest(query string, candidates []string, maxDistance int) (string, int) {
	if query == "" || len(candidates) == 0 {
		return "", -1
	}
	closest := ""
	best := maxDistance + 1
	for _, candidate := range candidates {
		if candidate == query {
			continue
		}
		dist := levenshtein.ComputeDistance(query, candidate)
		if dist < best {
			best = dist
			closest = candidate
		}
	}
	if best <= maxDistance {
		return closest, best
	}
	return "", -1
}

// relationshipCeiling is the maximum strength a relationship of a given origin type may
// hold.
var relationshipCeiling = map[types.OriginType]float64{
	types.OriginUserStated: 1.0,
	types.OriginCorrected:  1.0,
	types.OriginExtracted:  0.8,
	types.OriginInferred:   0.5,
}

// reinforcementStep is the amount a repeated observation of the same relationship adds to
// its strength.
var reinforcementStep = map[types.OriginType]float64{
	types.OriginUserStated: 0.20,
	types.OriginCorrected:  0.20,
	types.OriginExtracted:  0.10,
	types.OriginInferred:   0.05,
}

// RelationshipCheck is the outcome of ValidateRelationship.
type RelationshipCheck struct {
	Strength float64
}

// ValidateRelationship clamps strength into [0,1] and then into origin's ceiling. An
// origin not present in the table (including the "unknown" sentinel) falls back to the
// inferred ceiling of 0.5.
func ValidateRelationship(strength float64, origin types.OriginType) RelationshipCheck {
	s := clamp01(strength)
	ceiling, ok := relationshipCeiling[origin]
	if !ok {
		ceiling = 0.5
	}
	if s > ceiling {
		s = ceiling
	}
	return RelationshipCheck{Strength: s}
}

// ReinforcementStep returns how much a relationship's strength should increase when the
// same fact is observed again from origin, still bounded by ValidateRelationship's
// ceiling for that origin.
func ReinforcementStep(origin types.OriginType) float64 {
	if step, ok := reinforcementStep[origin]; ok {
		return step
	}
	return 0.05
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
