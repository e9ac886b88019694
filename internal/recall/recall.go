// Package recall implements the engine's retrieval pipeline: hybrid vector+text+graph
// search over live memories, plus the graph-analytics and entity-overview operations that
// share its scoring primitives.
package recall

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/memoryd/memoryd/internal/embedder"
	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

// Options configures one Recall query.
type Options struct {
	Query               string
	EntityHint          string
	TypeFilter          types.MemoryType // zero value = no filter
	Since               time.Time        // zero value = no lower bound
	IncludeLowImportance bool
	Limit               int

	// Weights, normally sourced from config.
	VectorWeight     float64
	FTSWeight        float64
	ImportanceWeight float64
	RecencyWeight    float64
	RecencyHalfLife  time.Duration
	EnableRRF        bool
}

const (
	defaultLimit           = 50
	defaultRecencyHalfLife = 30 * 24 * time.Hour
	rrfK                   = 60.0
	weakEdgeThreshold      = 0.1
)

// Engine runs recall queries against the store, consulting the Embedder for the vector
// signal when available.
type Engine struct {
	st  *store.Store
	emb *embedder.Embedder
	log *slog.Logger
}

func New(st *store.Store, emb *embedder.Embedder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{st: st, emb: emb, log: log}
}

type candidate struct {
	id            int64
	content       string
	memType       types.MemoryType
	importance    float64
	createdAt     time.Time
	sourceChannel string
	entities      []string

	vectorRank int // 1-based rank by cosine distance ascending, 0 = absent
	ftsRank    int // 1-based rank by bm25 ascending, 0 = absent
	vectorDist float64
	ftsScore   float64
	graph      float64
}

// Run executes the hybrid recall pipeline and returns a ranked, bounded list of live
// memories.
func (e *Engine) Run(ctx context.Context, opts Options) ([]types.RecallResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.RecencyHalfLife <= 0 {
		opts.RecencyHalfLife = defaultRecencyHalfLife
	}

	candidates, err := e.gatherCandidates(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if err := e.applyVectorSignal(ctx, opts.Query, candidates); err != nil {
		e.log.Warn("vector signal unavailable, continuing with remaining signals", "error", err)
	}
	e.applyGraphSignal(ctx, opts.EntityHint, candidates)

	var scored []scoredCandidate
	if opts.EnableRRF {
		scored = fuseRRF(candidates)
	} else {
		scored = fuseWeightedSum(candidates, opts)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	out := make([]types.RecallResult, 0, len(scored))
	for _, s := range scored {
		c := s.candidate
		out = append(out, types.RecallResult{
			ID:            c.id,
			Content:       c.content,
			Type:          c.memType,
			Score:         s.score,
			Importance:    c.importance,
			CreatedAt:     c.createdAt,
			Entities:      c.entities,
			SourceChannel: c.sourceChannel,
		})
	}
	return out, nil
}

type scoredCandidate struct {
	candidate candidate
	score     float64
}

// gatherCandidates runs the FTS query (or a LIKE fallback if the FTS index has no rows)
// to assemble the candidate pool, applying filters and excluding invalidated memories.
func (e *Engine) gatherCandidates(ctx context.Context, opts Options) ([]candidate, error) {
	where := []string{"m.invalidated_at IS NULL"}
	args := []any{}

	if opts.TypeFilter != "" {
		where = append(where, "m.type = ?")
		args = append(args, string(opts.TypeFilter))
	}
	if !opts.Since.IsZero() {
		where = append(where, "m.created_at >= ?")
		args = append(args, store.FormatTime(opts.Since))
	}
	if !opts.IncludeLowImportance {
		where = append(where, "m.importance > 0.001")
	}
	whereClause := strings.Join(where, " AND ")

	var rows *sql.Rows
	var err error

	ftsEmpty, ferr := e.ftsIsEmpty(ctx)
	if ferr != nil {
		e.log.Warn("fts emptiness check failed, assuming non-empty", "error", ferr)
	}

	if opts.Query != "" && !ftsEmpty {
		matchTerm := ftsMatchTerm(opts.Query)
		q := fmt.Sprintf(`
			SELECT m.id, m.content, m.type, m.importance, m.created_at, m.source_channel, bm25(memories_fts)
			FROM memories_fts
			JOIN memories m ON memories_fts.rowid = m.id
			WHERE memories_fts MATCH ? AND %s
			ORDER BY bm25(memories_fts)
			LIMIT ?`, whereClause)
		rows, err = e.st.DB().QueryContext(ctx, q, append([]any{matchTerm}, append(args, opts.Limit*4)...)...)
	} else if opts.Query != "" {
		q := fmt.Sprintf(`
			SELECT m.id, m.content, m.type, m.importance, m.created_at, m.source_channel, 0.0
			FROM memories m
			WHERE m.content LIKE ? AND %s
			LIMIT ?`, whereClause)
		rows, err = e.st.DB().QueryContext(ctx, q, append([]any{"%" + opts.Query + "%"}, append(args, opts.Limit*4)...)...)
	} else {
		q := fmt.Sprintf(`
			SELECT m.id, m.content, m.type, m.importance, m.created_at, m.source_channel, 0.0
			FROM memories m
			WHERE %s
			ORDER BY m.created_at DESC
			LIMIT ?`, whereClause)
		rows, err = e.st.DB().QueryContext(ctx, q, append(args, opts.Limit*4)...)
	}
	if err != nil {
		return nil, fmt.Errorf("gather recall candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate
	rank := 0
	for rows.Next() {
		var c candidate
		var createdAt string
		var memType string
		if err := rows.Scan(&c.id, &c.content, &memType, &c.importance, &createdAt, &c.sourceChannel, &c.ftsScore); err != nil {
			return nil, fmt.Errorf("scan recall candidate: %w", err)
		}
		c.memType = types.MemoryType(memType)
		c.createdAt = store.ParseTime(createdAt)
		if opts.Query != "" {
			rank++
			c.ftsRank = rank
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	e.attachEntities(ctx, out)
	return out, nil
}

func (e *Engine) attachEntities(ctx context.Context, candidates []candidate) {
	for i := range candidates {
		rows, err := e.st.DB().QueryContext(ctx, `
			SELECT en.name FROM memory_entities me
			JOIN entities en ON en.id = me.entity_id
			WHERE me.memory_id = ?`, candidates[i].id)
		if err != nil {
			continue
		}
		for rows.Next() {
			var name string
			if rows.Scan(&name) == nil {
				candidates[i].entities = append(candidates[i].entities, name)
			}
		}
		rows.Close()
	}
}

func (e *Engine) ftsIsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := e.st.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM memories_fts").Scan(&count)
	if err != nil {
		return true, err
	}
	return count == 0, nil
}

// ftsMatchTerm appends a prefix wildcard to bare single-word queries, a UX convenience
// for ordinary keyword lookups.
func ftsMatchTerm(q string) string {
	if !strings.ContainsAny(q, " \"*:()") {
		return q + "*"
	}
	return q
}

func (e *Engine) applyVectorSignal(ctx context.Context, query string, candidates []candidate) error {
	if e.emb == nil || query == "" || !e.st.VectorIndexAvailable() {
		return nil
	}
	vec, err := e.emb.Embed(ctx, query)
	if err != nil || vec == nil {
		return err
	}

	neighbors, err := e.st.VectorNeighbors(ctx, vec, len(candidates)*2+20)
	if err != nil {
		return err
	}
	distByID := make(map[int64]float64, len(neighbors))
	for _, n := range neighbors {
		distByID[n.MemoryID] = n.Distance
	}

	type ranked struct {
		idx  int
		dist float64
	}
	var withDist []ranked
	for i := range candidates {
		if d, ok := distByID[candidates[i].id]; ok {
			candidates[i].vectorDist = d
			withDist = append(withDist, ranked{idx: i, dist: d})
		}
	}
	sort.Slice(withDist, func(a, b int) bool { return withDist[a].dist < withDist[b].dist })
	for rank, r := range withDist {
		candidates[r.idx].vectorRank = rank + 1
	}
	return nil
}

func recencyScore(createdAt time.Time, halfLife time.Duration) float64 {
	if createdAt.IsZero() || halfLife <= 0 {
		return 0
	}
	age := time.Since(createdAt)
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}
