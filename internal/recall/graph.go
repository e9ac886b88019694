package recall

import (
	"context"
	"fmt"
	"time"

	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/types"
)

// GraphNode is one hop in a BFS expansion from an origin entity.
type GraphNode struct {
	EntityID         int64
	Name             string
	RelationshipType string
	Strength         float64
	Depth            int
}

// ExpandGraph performs breadth-first traversal from originID, honoring bidirectional
// edges, excluding the origin itself, deduplicating visited entities, stopping at depth,
// and skipping edges with strength <= weakEdgeThreshold. Written as an explicit BFS
// rather than a recursive CTE so strength-based edge pruning (which a single recursive
// query can't express per-hop without repeating the predicate at every level) is
// straightforward.
func (e *Engine) ExpandGraph(ctx context.Context, originID int64, depth, limitPerHop int) ([]GraphNode, error) {
	if depth <= 0 {
		depth = 2
	}
	if limitPerHop <= 0 {
		limitPerHop = 20
	}

	visited := map[int64]bool{originID: true}
	frontier := []int64{originID}
	var out []GraphNode

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []int64
		for _, id := range frontier {
			rows, err := e.st.DB().QueryContext(ctx, `
				SELECT target_entity_id, relationship_type, strength FROM relationships
				WHERE source_entity_id = ? AND strength > ?
				UNION
				SELECT source_entity_id, relationship_type, strength FROM relationships
				WHERE target_entity_id = ? AND direction = 'bidirectional' AND strength > ?
				LIMIT ?`, id, weakEdgeThreshold, id, weakEdgeThreshold, limitPerHop)
			if err != nil {
				return nil, fmt.Errorf("expand graph: %w", err)
			}
			for rows.Next() {
				var targetID int64
				var relType string
				var strength float64
				if err := rows.Scan(&targetID, &relType, &strength); err != nil {
					rows.Close()
					return nil, err
				}
				if visited[targetID] {
					continue
				}
				visited[targetID] = true
				next = append(next, targetID)

				name, _ := e.entityName(ctx, targetID)
				out = append(out, GraphNode{EntityID: targetID, Name: name, RelationshipType: relType, Strength: strength, Depth: d})
			}
			rows.Close()
		}
		frontier = next
	}
	return out, nil
}

func (e *Engine) entityName(ctx context.Context, id int64) (string, error) {
	var name string
	err := e.st.DB().QueryRowContext(ctx, "SELECT name FROM entities WHERE id = ?", id).Scan(&name)
	return name, err
}

// EntityOverview is get_entity_overview(name): the entity's own record plus its direct
// relationships and the memories about it.
type EntityOverview struct {
	Entity        types.Entity
	Relationships []GraphNode
	Memories      []types.RecallResult
}

func (e *Engine) GetEntityOverview(ctx context.Context, name string) (*EntityOverview, error) {
	id, ok := e.resolveEntityID(ctx, name)
	if !ok {
		return nil, fmt.Errorf("entity %q not found", name)
	}

	entity, err := e.loadEntity(ctx, id)
	if err != nil {
		return nil, err
	}

	neighbors, err := e.ExpandGraph(ctx, id, 1, 50)
	if err != nil {
		return nil, err
	}

	memories, err := e.RecallAbout(ctx, name, 20)
	if err != nil {
		return nil, err
	}

	return &EntityOverview{Entity: *entity, Relationships: neighbors, Memories: memories}, nil
}

func (e *Engine) loadEntity(ctx context.Context, id int64) (*types.Entity, error) {
	row, err := e.st.GetOne(ctx, "entities", "id = ?", []any{id})
	if err != nil {
		return nil, err
	}
	return entityFromRow(row), nil
}

func entityFromRow(row map[string]any) *types.Entity {
	ent := &types.Entity{
		ID:            toInt64(row["id"]),
		Name:          toString(row["name"]),
		CanonicalName: toString(row["canonical_name"]),
		Type:          types.EntityType(toString(row["type"])),
		Importance:    toFloat64(row["importance"]),
		Metadata:      store.UnmarshalJSON(toString(row["metadata"])),
		ContactTrend:  types.ContactTrend(toString(row["contact_trend"])),
		AttentionTier: types.AttentionTier(toString(row["attention_tier"])),
		CreatedAt:     store.ParseTime(toString(row["created_at"])),
		UpdatedAt:     store.ParseTime(toString(row["updated_at"])),
	}
	return ent
}

// RecallAbout returns live memories directly linked to the named entity (recall_about).
func (e *Engine) RecallAbout(ctx context.Context, name string, limit int) ([]types.RecallResult, error) {
	id, ok := e.resolveEntityID(ctx, name)
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT m.id, m.content, m.type, m.importance, m.created_at, m.source_channel
		FROM memories m
		JOIN memory_entities me ON me.memory_id = m.id
		WHERE me.entity_id = ? AND m.invalidated_at IS NULL
		ORDER BY m.created_at DESC
		LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.RecallResult
	for rows.Next() {
		var r types.RecallResult
		var createdAt, memType string
		if err := rows.Scan(&r.ID, &r.Content, &memType, &r.Importance, &createdAt, &r.SourceChannel); err != nil {
			return nil, err
		}
		r.Type = types.MemoryType(memType)
		r.CreatedAt = store.ParseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRecentMemories returns the most recent live memories within the last `hours` (0 means
// no time bound), bounded by limit.
func (e *Engine) GetRecentMemories(ctx context.Context, limit int, hours int) ([]types.RecallResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := `SELECT id, content, type, importance, created_at, source_channel FROM memories WHERE invalidated_at IS NULL`
	var args []any
	if hours > 0 {
		query += " AND created_at >= ?"
		args = append(args, store.FormatTime(time.Now().Add(-time.Duration(hours)*time.Hour)))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := e.st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.RecallResult
	for rows.Next() {
		var r types.RecallResult
		var createdAt, memType string
		if err := rows.Scan(&r.ID, &r.Content, &memType, &r.Importance, &createdAt, &r.SourceChannel); err != nil {
			return nil, err
		}
		r.Type = types.MemoryType(memType)
		r.CreatedAt = store.ParseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetProjectNetwork is get_project_network(name): every entity within two hops of the named
// entity (the entity itself is not in the result), for visualizing a project's
// surrounding people and dependencies.
func (e *Engine) GetProjectNetwork(ctx context.Context, name string) ([]GraphNode, error) {
	id, ok := e.resolveEntityID(ctx, name)
	if !ok {
		return nil, fmt.Errorf("entity %q not found", name)
	}
	return e.ExpandGraph(ctx, id, 2, 50)
}

// FindPath performs a breadth-first search for the shortest relationship path between two
// entities, bounded by maxHops.
func (e *Engine) FindPath(ctx context.Context, fromName, toName string, maxHops int) ([]string, error) {
	fromID, ok := e.resolveEntityID(ctx, fromName)
	if !ok {
		return nil, fmt.Errorf("entity %q not found", fromName)
	}
	toID, ok := e.resolveEntityID(ctx, toName)
	if !ok {
		return nil, fmt.Errorf("entity %q not found", toName)
	}
	if maxHops <= 0 {
		maxHops = 6
	}

	type frame struct {
		id   int64
		path []int64
	}
	visited := map[int64]bool{fromID: true}
	queue := []frame{{id: fromID, path: []int64{fromID}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) > maxHops+1 {
			continue
		}
		if cur.id == toID {
			return e.namesForIDs(ctx, cur.path), nil
		}
		for neighborID := range e.oneHopNeighbors(ctx, cur.id) {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			np := append(append([]int64{}, cur.path...), neighborID)
			queue = append(queue, frame{id: neighborID, path: np})
		}
	}
	return nil, nil
}

func (e *Engine) namesForIDs(ctx context.Context, ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		name, _ := e.entityName(ctx, id)
		out = append(out, name)
	}
	return out
}

// HubEntity is one row of get_hub_entities(top_n): entities ranked by relationship count.
type HubEntity struct {
	EntityID int64
	Name     string
	Degree   int
}

func (e *Engine) GetHubEntities(ctx context.Context, topN int) ([]HubEntity, error) {
	if topN <= 0 {
		topN = 10
	}
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT en.id, en.name, COUNT(*) AS degree
		FROM entities en
		JOIN relationships r ON r.source_entity_id = en.id OR r.target_entity_id = en.id
		WHERE en.deleted_at IS NULL
		GROUP BY en.id
		ORDER BY degree DESC
		LIMIT ?`, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HubEntity
	for rows.Next() {
		var h HubEntity
		if err := rows.Scan(&h.EntityID, &h.Name, &h.Degree); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DormantRelationship is one row of get_dormant_relationships(threshold_days): edges whose
// source entity hasn't been contacted in at least thresholdDays.
type DormantRelationship struct {
	SourceName   string
	TargetName   string
	DaysDormant  float64
	Strength     float64
}

func (e *Engine) GetDormantRelationships(ctx context.Context, thresholdDays int) ([]DormantRelationship, error) {
	if thresholdDays <= 0 {
		thresholdDays = 30
	}
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT en.name, target.name, r.strength,
			CAST((julianday('now') - julianday(en.last_contact_at)) AS REAL) AS days_dormant
		FROM relationships r
		JOIN entities en ON en.id = r.source_entity_id
		JOIN entities target ON target.id = r.target_entity_id
		WHERE en.last_contact_at IS NOT NULL
			AND julianday('now') - julianday(en.last_contact_at) >= ?
			AND en.deleted_at IS NULL
		ORDER BY days_dormant DESC`, thresholdDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DormantRelationship
	for rows.Next() {
		var d DormantRelationship
		if err := rows.Scan(&d.SourceName, &d.TargetName, &d.Strength, &d.DaysDormant); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

