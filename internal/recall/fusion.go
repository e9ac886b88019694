package recall

import (
	"context"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/memoryd/memoryd/internal/extractor"
)

// fuseWeightedSum combines normalized signals with configured weights, plus graph
// proximity as an additive boost. A missing signal (absent rank) contributes 0 rather
// than a penalty.
func fuseWeightedSum(candidates []candidate, opts Options) []scoredCandidate {
	maxVectorRank, maxFTSRank := 0, 0
	for _, c := range candidates {
		if c.vectorRank > maxVectorRank {
			maxVectorRank = c.vectorRank
		}
		if c.ftsRank > maxFTSRank {
			maxFTSRank = c.ftsRank
		}
	}

	out := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		var vectorNorm, ftsNorm float64
		if c.vectorRank > 0 && maxVectorRank > 0 {
			vectorNorm = 1 - float64(c.vectorRank-1)/float64(maxVectorRank)
		}
		if c.ftsRank > 0 && maxFTSRank > 0 {
			ftsNorm = 1 - float64(c.ftsRank-1)/float64(maxFTSRank)
		}
		recencyNorm := recencyScore(c.createdAt, opts.RecencyHalfLife)

		score := opts.VectorWeight*vectorNorm +
			opts.FTSWeight*ftsNorm +
			opts.ImportanceWeight*c.importance +
			opts.RecencyWeight*recencyNorm +
			c.graph

		out = append(out, scoredCandidate{candidate: c, score: score})
	}
	return out
}

// fuseRRF implements Reciprocal Rank Fusion: per-signal rankings mapped to 1/(k+rank),
// summed across signals, with a missing signal contributing 0 rather than a worst-rank
// penalty (ties broken by whichever other signal is present; an empty signal never
// penalizes a candidate).
func fuseRRF(candidates []candidate) []scoredCandidate {
	importanceRank := rankByDescending(candidates, func(c candidate) float64 { return c.importance })
	recencyRank := rankByDescending(candidates, func(c candidate) float64 { return recencyScore(c.createdAt, defaultRecencyHalfLife) })

	out := make([]scoredCandidate, 0, len(candidates))
	for i, c := range candidates {
		score := 0.0
		if c.vectorRank > 0 {
			score += 1.0 / (rrfK + float64(c.vectorRank))
		}
		if c.ftsRank > 0 {
			score += 1.0 / (rrfK + float64(c.ftsRank))
		}
		score += 1.0 / (rrfK + float64(importanceRank[i]))
		score += 1.0 / (rrfK + float64(recencyRank[i]))
		score += c.graph

		out = append(out, scoredCandidate{candidate: c, score: score})
	}
	return out
}

// rankByDescending returns the 1-based rank of each candidate under key, highest value
// first. Signals like importance and recency always have a value, so they never
// contribute a zero-rank "absent" case the way vector/fts ranks can.
func rankByDescending(candidates []candidate, key func(candidate) float64) []int {
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ka, kb := key(candidates[idx[a]]), key(candidates[idx[b]])
		if ka != kb {
			return ka > kb
		}
		return candidates[idx[a]].id < candidates[idx[b]].id
	})

	ranks := make([]int, len(candidates))
	for rank, i := range idx {
		ranks[i] = rank + 1
	}
	return ranks
}

// applyGraphSignal resolves entityHint (if any) to a known entity and scores each
// candidate's graph proximity to it: 1.0 for memories directly about the entity, 0.5 +
// 0.3*strength for memories about a one-hop neighbor, scaling down further out. Weak
// edges (strength <= weakEdgeThreshold) are not traversed.
func (e *Engine) applyGraphSignal(ctx context.Context, entityHint string, candidates []candidate) {
	if entityHint == "" {
		return
	}
	originID, ok := e.resolveEntityID(ctx, entityHint)
	if !ok {
		return
	}

	neighborStrength := e.oneHopNeighbors(ctx, originID)

	entityOfMemory := make(map[int64][]int64, len(candidates))
	for i := range candidates {
		entityOfMemory[candidates[i].id] = e.memoryEntityIDs(ctx, candidates[i].id)
	}

	for i := range candidates {
		best := 0.0
		for _, eid := range entityOfMemory[candidates[i].id] {
			var g float64
			switch {
			case eid == originID:
				g = 1.0
			default:
				if strength, ok := neighborStrength[eid]; ok {
					g = 0.5 + 0.3*strength
				}
			}
			if g > best {
				best = g
			}
		}
		candidates[i].graph = best
	}
}

// resolveEntityID looks up an entity by exact canonical name, falling back to a fuzzy
// match (typo/partial-name tolerant) against all known names when the exact lookup
// misses, degrading gracefully on an unrecognized hint rather than returning nothing.
func (e *Engine) resolveEntityID(ctx context.Context, name string) (int64, bool) {
	var id int64
	err := e.st.DB().QueryRowContext(ctx,
		"SELECT id FROM entities WHERE canonical_name = ? AND deleted_at IS NULL", extractor.CanonicalName(name)).Scan(&id)
	if err == nil {
		return id, true
	}

	rows, qerr := e.st.DB().QueryContext(ctx, "SELECT id, name FROM entities WHERE deleted_at IS NULL")
	if qerr != nil {
		return 0, false
	}
	defer rows.Close()

	idByName := make(map[string]int64)
	var names []string
	for rows.Next() {
		var eid int64
		var ename string
		if rows.Scan(&eid, &ename) == nil {
			idByName[ename] = eid
			names = append(names, ename)
		}
	}
	if len(names) == 0 {
		return 0, false
	}

	ranks := fuzzy.RankFindNormalizedFold(name, names)
	if len(ranks) == 0 {
		return 0, false
	}
	sort.Sort(ranks)
	return idByName[ranks[0].Target], true
}

func (e *Engine) oneHopNeighbors(ctx context.Context, originID int64) map[int64]float64 {
	out := make(map[int64]float64)
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT target_entity_id, strength FROM relationships
		WHERE source_entity_id = ? AND strength > ?
		UNION
		SELECT source_entity_id, strength FROM relationships
		WHERE target_entity_id = ? AND direction = 'bidirectional' AND strength > ?`,
		originID, weakEdgeThreshold, originID, weakEdgeThreshold)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var strength float64
		if rows.Scan(&id, &strength) == nil {
			if existing, ok := out[id]; !ok || strength > existing {
				out[id] = strength
			}
		}
	}
	return out
}

func (e *Engine) memoryEntityIDs(ctx context.Context, memoryID int64) []int64 {
	rows, err := e.st.DB().QueryContext(ctx, "SELECT entity_id FROM memory_entities WHERE memory_id = ?", memoryID)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if rows.Scan(&id) == nil {
			out = append(out, id)
		}
	}
	return out
}
