// Package aggregate recomputes skill aggregate embeddings from the
// assignment rows. A refresh is a pure function of the persisted
// assignment state at read time, so concurrent refreshes for the same
// skill may overwrite each other without losing anything.
package aggregate

import (
	"context"
	"fmt"

	"github.com/nidhogg/toolscope/internal/embedding"
	"github.com/nidhogg/toolscope/internal/skill"
	"go.uber.org/zap"
)

// Store is the slice of the relational store the aggregator needs.
type Store interface {
	GetSkill(ctx context.Context, id string) (*skill.SkillCategory, error)
	ListSkillAssignments(ctx context.Context, skillID string) ([]skill.ToolSkillAssignment, error)
	UpdateSkillAggregate(ctx context.Context, id string, vec []float32, toolCount int) error
}

// VectorIndex is the slice of the vector index the aggregator needs.
type VectorIndex interface {
	ItemVectors(ctx context.Context, itemIDs []string) (map[string][]float32, error)
	UpsertSkill(ctx context.Context, sk *skill.SkillCategory, vector []float32) error
	DeleteSkill(ctx context.Context, skillID string) error
}

// Aggregator recomputes one skill's aggregate embedding on demand.
type Aggregator struct {
	store    Store
	index    VectorIndex
	embedder embedding.Provider
	cache    DescriptionCache
	logger   *zap.Logger
}

// New wires an Aggregator. cache may be nil, in which case description
// fallbacks are recomputed every time.
func New(st Store, ix VectorIndex, embedder embedding.Provider, cache DescriptionCache, logger *zap.Logger) *Aggregator {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Aggregator{store: st, index: ix, embedder: embedder, cache: cache, logger: logger}
}

// Refresh recomputes the skill's aggregate embedding from its current
// assignments: confidence-weighted mean of the assigned items'
// embeddings, L2-normalized. A skill with no assigned items falls back
// to an embedding of its own description so the field is never stale
// null. Re-running on an unchanged assignment set produces identical
// output.
func (a *Aggregator) Refresh(ctx context.Context, skillID string) error {
	sk, err := a.store.GetSkill(ctx, skillID)
	if err != nil {
		return err
	}

	assignments, err := a.store.ListSkillAssignments(ctx, skillID)
	if err != nil {
		return err
	}

	vec, err := a.computeAggregate(ctx, sk, assignments)
	if err != nil {
		return err
	}

	if err := a.store.UpdateSkillAggregate(ctx, skillID, vec, len(assignments)); err != nil {
		return err
	}

	sk.ToolCount = len(assignments)
	if !sk.IsActive {
		// Deactivated skills leave stage-1 search entirely.
		if err := a.index.DeleteSkill(ctx, skillID); err != nil {
			a.logger.Warn("skill index delete failed", zap.String("skill_id", skillID), zap.Error(err))
		}
		return nil
	}
	if err := a.index.UpsertSkill(ctx, sk, vec); err != nil {
		return fmt.Errorf("index skill %s: %w", skillID, err)
	}

	a.logger.Debug("aggregate refreshed",
		zap.String("skill_id", skillID),
		zap.Int("tool_count", len(assignments)))
	return nil
}

func (a *Aggregator) computeAggregate(ctx context.Context, sk *skill.SkillCategory, assignments []skill.ToolSkillAssignment) ([]float32, error) {
	if len(assignments) == 0 {
		return a.descriptionEmbedding(ctx, sk)
	}

	itemIDs := make([]string, len(assignments))
	for i, asg := range assignments {
		itemIDs[i] = asg.ItemID
	}
	vectors, err := a.index.ItemVectors(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch item vectors for %s: %w", sk.ID, err)
	}

	// Items without a stored embedding are skipped silently.
	contributing := make([][]float32, 0, len(assignments))
	weights := make([]float64, 0, len(assignments))
	for _, asg := range assignments {
		vec, ok := vectors[asg.ItemID]
		if !ok {
			continue
		}
		contributing = append(contributing, vec)
		weights = append(weights, asg.Confidence)
	}

	mean := WeightedMean(contributing, weights)
	if mean == nil {
		a.logger.Warn("no item embeddings available, using description fallback",
			zap.String("skill_id", sk.ID))
		return a.descriptionEmbedding(ctx, sk)
	}
	return Normalize(mean), nil
}

func (a *Aggregator) descriptionEmbedding(ctx context.Context, sk *skill.SkillCategory) ([]float32, error) {
	text := sk.Name + ": " + sk.Description
	if vec, ok, err := a.cache.Get(ctx, sk.ID, text); err == nil && ok {
		return vec, nil
	}
	vec, err := embedding.EmbedOne(ctx, a.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed description for %s: %w", sk.ID, err)
	}
	vec = Normalize(vec)
	if err := a.cache.Set(ctx, sk.ID, text, vec); err != nil {
		a.logger.Warn("description cache write failed", zap.String("skill_id", sk.ID), zap.Error(err))
	}
	return vec, nil
}
