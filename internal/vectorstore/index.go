package vectorstore

import (
	"context"
	"fmt"

	"github.com/nidhogg/toolscope/internal/skill"
)

// Index is the domain-level view over the two Qdrant collections: one
// holding skill aggregate embeddings (search stage 1) and one holding
// item embeddings (search stage 2). Item payloads carry a skill_ids
// keyword list, which is the search-time filter cache for skill
// restriction.
type Index struct {
	client     *Client
	skillsColl string
	itemsColl  string
}

// NewIndex wraps a Client with the collection names.
func NewIndex(client *Client, skillsColl, itemsColl string) *Index {
	return &Index{client: client, skillsColl: skillsColl, itemsColl: itemsColl}
}

// Init ensures both collections exist with the given dimension.
func (ix *Index) Init(ctx context.Context, dimension uint64) error {
	for _, coll := range []string{ix.skillsColl, ix.itemsColl} {
		if err := ix.client.EnsureCollection(ctx, coll, dimension); err != nil {
			return fmt.Errorf("init collection %s: %w", coll, err)
		}
	}
	return nil
}

// SkillHit is a stage-1 match against the skill collection.
type SkillHit struct {
	ID          string
	Name        string
	Description string
	ToolCount   int
	Score       float32
}

// ItemHit is a stage-2 match against the item collection.
type ItemHit struct {
	ID             string
	Type           string
	Name           string
	Description    string
	SkillIDs       []string
	PrimarySkillID string
	Score          float32
}

// UpsertSkill writes a skill's aggregate embedding and descriptive payload.
func (ix *Index) UpsertSkill(ctx context.Context, sk *skill.SkillCategory, vector []float32) error {
	return ix.client.Upsert(ctx, ix.skillsColl, sk.ID, vector, map[string]interface{}{
		"name":          sk.Name,
		"description":   sk.Description,
		"parent_domain": sk.ParentDomain,
		"tool_count":    sk.ToolCount,
	})
}

// DeleteSkill removes a skill from the stage-1 collection, e.g. on
// deactivation.
func (ix *Index) DeleteSkill(ctx context.Context, skillID string) error {
	return ix.client.Delete(ctx, ix.skillsColl, skillID)
}

// UpsertItem writes an item embedding with its search payload. Item
// embeddings are owned by the catalog; this is used by backfill tooling
// and tests, not by the online pipeline.
func (ix *Index) UpsertItem(ctx context.Context, d *skill.ItemDetail, vector []float32) error {
	primary := ""
	if len(d.SkillIDs) > 0 {
		primary = d.SkillIDs[0]
	}
	return ix.client.Upsert(ctx, ix.itemsColl, d.ID, vector, map[string]interface{}{
		"name":             d.Name,
		"description":      d.Description,
		"item_type":        string(d.Type),
		"skill_ids":        d.SkillIDs,
		"primary_skill_id": primary,
	})
}

// SetItemSkills rewrites the skill-id filter cache on an item point.
func (ix *Index) SetItemSkills(ctx context.Context, itemID string, skillIDs []string, primarySkillID string) error {
	if skillIDs == nil {
		skillIDs = []string{}
	}
	return ix.client.SetPayload(ctx, ix.itemsColl, itemID, map[string]interface{}{
		"skill_ids":        skillIDs,
		"primary_skill_id": primarySkillID,
	})
}

// ItemVectors returns stored item embeddings keyed by item id. Items
// without a stored vector are absent from the map.
func (ix *Index) ItemVectors(ctx context.Context, itemIDs []string) (map[string][]float32, error) {
	return ix.client.GetVectors(ctx, ix.itemsColl, itemIDs)
}

// SearchSkills runs a stage-1 nearest-neighbor search over aggregate
// embeddings.
func (ix *Index) SearchSkills(ctx context.Context, vector []float32, limit int, minScore float32) ([]SkillHit, error) {
	results, err := ix.client.Search(ctx, ix.skillsColl, SearchSpec{
		Vector:   vector,
		Limit:    uint64(limit),
		MinScore: minScore,
	})
	if err != nil {
		return nil, err
	}
	hits := make([]SkillHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SkillHit{
			ID:          r.ID,
			Name:        asString(r.Payload["name"]),
			Description: asString(r.Payload["description"]),
			ToolCount:   int(asInt(r.Payload["tool_count"])),
			Score:       r.Score,
		})
	}
	return hits, nil
}

// ItemQuery narrows a stage-2 item search.
type ItemQuery struct {
	SkillIDs []string // set-membership restriction; empty means unrestricted
	ItemType string   // optional tool/prompt/resource filter
	Limit    int
	MinScore float32
}

// SearchItems runs a stage-2 nearest-neighbor search over item embeddings.
func (ix *Index) SearchItems(ctx context.Context, vector []float32, q ItemQuery) ([]ItemHit, error) {
	spec := SearchSpec{
		Vector:   vector,
		Limit:    uint64(q.Limit),
		MinScore: q.MinScore,
	}
	filters := map[string][]string{}
	if len(q.SkillIDs) > 0 {
		filters["skill_ids"] = q.SkillIDs
	}
	if q.ItemType != "" {
		filters["item_type"] = []string{q.ItemType}
	}
	if len(filters) > 0 {
		spec.TagFilters = filters
	}

	results, err := ix.client.Search(ctx, ix.itemsColl, spec)
	if err != nil {
		return nil, err
	}
	hits := make([]ItemHit, 0, len(results))
	for _, r := range results {
		skillIDs, _ := r.Payload["skill_ids"].([]string)
		hits = append(hits, ItemHit{
			ID:             r.ID,
			Type:           asString(r.Payload["item_type"]),
			Name:           asString(r.Payload["name"]),
			Description:    asString(r.Payload["description"]),
			SkillIDs:       skillIDs,
			PrimarySkillID: asString(r.Payload["primary_skill_id"]),
			Score:          r.Score,
		})
	}
	return hits, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
