// Package search implements the hierarchical query engine: skill
// narrowing, item ranking within the narrowed set, and parallel detail
// enrichment, with graceful degradation to an unfiltered direct search.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/toolscope/internal/skill"
	"github.com/nidhogg/toolscope/internal/vectorstore"
	"go.uber.org/zap"
)

// Config holds the orchestrator defaults and per-stage timeouts.
type Config struct {
	SkillThreshold float64
	ToolThreshold  float64
	SkillLimit     int
	Limit          int
	MaxQueryLength int
	EmbedTimeout   time.Duration
	VectorTimeout  time.Duration
	DetailTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.SkillThreshold == 0 {
		c.SkillThreshold = 0.4
	}
	if c.ToolThreshold == 0 {
		c.ToolThreshold = 0.3
	}
	if c.SkillLimit == 0 {
		c.SkillLimit = 5
	}
	if c.Limit == 0 {
		c.Limit = 10
	}
	if c.MaxQueryLength == 0 {
		c.MaxQueryLength = 1000
	}
	if c.EmbedTimeout == 0 {
		c.EmbedTimeout = 100 * time.Millisecond
	}
	if c.VectorTimeout == 0 {
		c.VectorTimeout = 200 * time.Millisecond
	}
	if c.DetailTimeout == 0 {
		c.DetailTimeout = 500 * time.Millisecond
	}
}

// Embedder produces the query vector, computed once per request.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the slice of the vector index the orchestrator needs.
type VectorIndex interface {
	SearchSkills(ctx context.Context, vector []float32, limit int, minScore float32) ([]vectorstore.SkillHit, error)
	SearchItems(ctx context.Context, vector []float32, q vectorstore.ItemQuery) ([]vectorstore.ItemHit, error)
}

// DetailStore fetches item metadata for stage-3 enrichment.
type DetailStore interface {
	GetItemDetail(ctx context.Context, id string) (*skill.ItemDetail, error)
}

// Orchestrator runs the three-stage search state machine.
type Orchestrator struct {
	embedder Embedder
	index    VectorIndex
	details  DetailStore
	config   Config
	logger   *zap.Logger
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(embedder Embedder, index VectorIndex, details DetailStore, cfg Config, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		embedder: embedder,
		index:    index,
		details:  details,
		config:   cfg,
		logger:   logger,
	}
}

// Search executes one query. Stage 1 failures (or an empty skill match)
// degrade to an unfiltered direct search; only a failed stage 2 is
// fatal and yields an empty result carrying an error flag. Validation
// errors are returned before any I/O is issued.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}
	o.applyRequestDefaults(&req)

	start := time.Now()
	resp := &Response{
		Query:         req.Query,
		Items:         []ResultItem{},
		MatchedSkills: []MatchedSkill{},
		Metadata: Metadata{
			StrategyUsed:     req.Strategy,
			StageCounts:      map[string]int{},
			PerStageTimingMS: map[string]float64{},
		},
	}

	// Embed once; both stages reuse the vector.
	embedStart := time.Now()
	ectx, cancel := context.WithTimeout(ctx, o.config.EmbedTimeout)
	vecs, err := o.embedder.Embed(ectx, []string{req.Query})
	cancel()
	resp.Metadata.PerStageTimingMS["embed"] = msSince(embedStart)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	queryVec := vecs[0]

	// Stage 1: skill match.
	var skillIDs []string
	if req.Strategy == StrategyHierarchical {
		stageStart := time.Now()
		matched, err := o.matchSkills(ctx, queryVec, req)
		resp.Metadata.PerStageTimingMS["skill_match"] = msSince(stageStart)
		if err != nil {
			o.logger.Warn("skill match failed, falling back to direct search",
				zap.String("query", req.Query), zap.Error(err))
			resp.Metadata.Degraded = true
		} else {
			resp.MatchedSkills = matched
		}
		resp.Metadata.StageCounts["skills_matched"] = len(matched)
		for _, m := range matched {
			skillIDs = append(skillIDs, m.ID)
		}
		if len(skillIDs) == 0 {
			// Empty narrow set: drop the restriction entirely.
			resp.Metadata.StrategyUsed = StrategyDirect
			resp.Metadata.Degraded = true
		}
	}
	resp.Metadata.SkillIDsUsed = skillIDs

	// Stage 2: item match, the core ranking step.
	stageStart := time.Now()
	items, err := o.matchItems(ctx, queryVec, req, skillIDs)
	resp.Metadata.PerStageTimingMS["item_match"] = msSince(stageStart)
	if err != nil {
		o.logger.Error("item match failed", zap.String("query", req.Query), zap.Error(err))
		resp.Metadata.Error = "item search failed"
		resp.Metadata.TotalTimingMS = msSince(start)
		return resp, nil
	}
	resp.Items = items
	resp.Metadata.StageCounts["items_matched"] = len(items)

	// Stage 3: enrichment for exactly the returned items.
	if req.IncludeSchemas && len(items) > 0 {
		stageStart = time.Now()
		o.enrich(ctx, resp.Items)
		resp.Metadata.PerStageTimingMS["enrich"] = msSince(stageStart)
	}
	resp.Metadata.StageCounts["items_returned"] = len(resp.Items)
	resp.Metadata.TotalTimingMS = msSince(start)
	return resp, nil
}

func (o *Orchestrator) validate(req *Request) error {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return skill.Validationf("query", "required")
	}
	if len(req.Query) > o.config.MaxQueryLength {
		return skill.Validationf("query", "exceeds maximum length %d", o.config.MaxQueryLength)
	}
	if req.ItemType != "" && !skill.ValidItemType(req.ItemType) {
		return skill.Validationf("item_type", "unknown type %q", req.ItemType)
	}
	switch req.Strategy {
	case "", StrategyHierarchical, StrategyDirect:
	default:
		return skill.Validationf("strategy", "unknown strategy %q", req.Strategy)
	}
	if req.SkillThreshold < 0 || req.SkillThreshold > 1 {
		return skill.Validationf("skill_threshold", "must be in [0,1]")
	}
	if req.ToolThreshold < 0 || req.ToolThreshold > 1 {
		return skill.Validationf("tool_threshold", "must be in [0,1]")
	}
	return nil
}

func (o *Orchestrator) applyRequestDefaults(req *Request) {
	if req.Strategy == "" {
		req.Strategy = StrategyHierarchical
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = o.config.Limit
	}
	if req.SkillLimit <= 0 || req.SkillLimit > 20 {
		req.SkillLimit = o.config.SkillLimit
	}
	if req.SkillThreshold == 0 {
		req.SkillThreshold = o.config.SkillThreshold
	}
	if req.ToolThreshold == 0 {
		req.ToolThreshold = o.config.ToolThreshold
	}
}

func (o *Orchestrator) matchSkills(ctx context.Context, vec []float32, req Request) ([]MatchedSkill, error) {
	sctx, cancel := context.WithTimeout(ctx, o.config.VectorTimeout)
	defer cancel()
	hits, err := o.index.SearchSkills(sctx, vec, req.SkillLimit, float32(req.SkillThreshold))
	if err != nil {
		return nil, err
	}

	matched := make([]MatchedSkill, 0, len(hits))
	for _, h := range hits {
		score := normalizeScore(h.Score)
		if score < req.SkillThreshold {
			continue
		}
		matched = append(matched, MatchedSkill{
			ID:          h.ID,
			Name:        h.Name,
			Description: h.Description,
			Score:       score,
			ToolCount:   h.ToolCount,
		})
	}
	// Ties at the limit boundary break by skill id for determinism.
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > req.SkillLimit {
		matched = matched[:req.SkillLimit]
	}
	return matched, nil
}

func (o *Orchestrator) matchItems(ctx context.Context, vec []float32, req Request, skillIDs []string) ([]ResultItem, error) {
	sctx, cancel := context.WithTimeout(ctx, o.config.VectorTimeout)
	defer cancel()
	hits, err := o.index.SearchItems(sctx, vec, vectorstore.ItemQuery{
		SkillIDs: skillIDs,
		ItemType: req.ItemType,
		Limit:    req.Limit,
		MinScore: float32(req.ToolThreshold),
	})
	if err != nil {
		return nil, err
	}

	items := make([]ResultItem, 0, len(hits))
	for _, h := range hits {
		score := normalizeScore(h.Score)
		if score < req.ToolThreshold {
			continue
		}
		items = append(items, ResultItem{
			ID:             h.ID,
			Type:           h.Type,
			Name:           h.Name,
			Description:    h.Description,
			Score:          score,
			SkillIDs:       h.SkillIDs,
			PrimarySkillID: h.PrimarySkillID,
		})
		if len(items) == req.Limit {
			break
		}
	}
	return items, nil
}

// enrich fetches full detail records for the returned items in
// parallel. A failed fetch nulls out that item's detail rather than
// failing the request.
func (o *Orchestrator) enrich(ctx context.Context, items []ResultItem) {
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(it *ResultItem) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, o.config.DetailTimeout)
			defer cancel()
			detail, err := o.details.GetItemDetail(dctx, it.ID)
			if err != nil {
				o.logger.Warn("detail fetch failed", zap.String("item_id", it.ID), zap.Error(err))
				return
			}
			it.Detail = detail
		}(&items[i])
	}
	wg.Wait()
}

// normalizeScore clamps a cosine similarity into [0,1]. Qdrant returns
// similarities in [-1,1]; negative similarity carries no ranking value
// for text embeddings, so it floors at zero.
func normalizeScore(s float32) float64 {
	v := float64(s)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
