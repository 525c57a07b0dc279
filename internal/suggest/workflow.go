// Package suggest manages the lifecycle of skill suggestions: pending
// proposals raised by the classification pipeline, resolved exactly
// once by approval, rejection or merge into an existing skill.
package suggest

import (
	"context"
	"errors"
	"fmt"

	"github.com/nidhogg/toolscope/internal/skill"
	"github.com/nidhogg/toolscope/internal/store"
	"go.uber.org/zap"
)

// Store is the slice of the relational store the workflow needs.
type Store interface {
	CreateSuggestion(ctx context.Context, sug *skill.SkillSuggestion) error
	GetSuggestion(ctx context.Context, id string) (*skill.SkillSuggestion, error)
	ListPendingSuggestions(ctx context.Context, limit, offset int) ([]*skill.SkillSuggestion, error)
	ResolveSuggestion(ctx context.Context, id string, status skill.SuggestionStatus) error
	CountPendingByName(ctx context.Context, name string) (int, error)
	ListPendingByName(ctx context.Context, name string) ([]*skill.SkillSuggestion, error)
	CreateSkill(ctx context.Context, sk *skill.SkillCategory) error
	GetSkill(ctx context.Context, id string) (*skill.SkillCategory, error)
	AddManualAssignment(ctx context.Context, itemID, skillID string, source skill.AssignmentSource) (*skill.ToolSkillAssignment, *store.ReplaceResult, error)
}

// Refresher requests aggregation refreshes for changed skills.
type Refresher interface {
	Enqueue(ctx context.Context, skillIDs ...string) error
}

// Tagger rewrites the item's skill-id filter cache in the vector index.
type Tagger interface {
	SetItemSkills(ctx context.Context, itemID string, skillIDs []string, primarySkillID string) error
}

// Policy controls the optional recurrence auto-approval: when the same
// suggested name accumulates Threshold pending suggestions, the newest
// one is approved without a human action. Off by default.
type Policy struct {
	AutoApprove bool
	Threshold   int
}

// Workflow resolves suggestions and applies their side effects.
type Workflow struct {
	store   Store
	refresh Refresher
	tagger  Tagger
	policy  Policy
	logger  *zap.Logger
}

// NewWorkflow wires a Workflow. tagger may be nil.
func NewWorkflow(st Store, refresh Refresher, tagger Tagger, policy Policy, logger *zap.Logger) *Workflow {
	if policy.Threshold <= 0 {
		policy.Threshold = 3
	}
	return &Workflow{store: st, refresh: refresh, tagger: tagger, policy: policy, logger: logger}
}

// SubmitSuggestion stores a new pending suggestion, then applies the
// auto-approval policy if enabled. Called by the classification
// pipeline.
func (w *Workflow) SubmitSuggestion(ctx context.Context, sug *skill.SkillSuggestion) error {
	if err := w.store.CreateSuggestion(ctx, sug); err != nil {
		return err
	}
	if !w.policy.AutoApprove {
		return nil
	}

	n, err := w.store.CountPendingByName(ctx, sug.SuggestedName)
	if err != nil {
		w.logger.Warn("auto-approval count failed", zap.String("name", sug.SuggestedName), zap.Error(err))
		return nil
	}
	if n < w.policy.Threshold {
		return nil
	}
	w.logger.Info("auto-approving recurring suggestion",
		zap.String("name", sug.SuggestedName), zap.Int("occurrences", n))
	slug := skill.Slugify(sug.SuggestedName)
	if _, err := w.Approve(ctx, sug.ID); err != nil {
		// A recurring name usually means the skill already exists from
		// an earlier auto-approval; merge into it instead.
		if !errors.Is(err, skill.ErrConflict) {
			w.logger.Warn("auto-approval failed", zap.String("id", sug.ID), zap.Error(err))
			return nil
		}
		if _, err := w.Merge(ctx, sug.ID, slug); err != nil {
			w.logger.Warn("auto-merge failed", zap.String("id", sug.ID), zap.Error(err))
			return nil
		}
	}
	w.mergeSiblings(ctx, sug.SuggestedName, slug)
	return nil
}

// mergeSiblings folds the older pending suggestions carrying the same
// name into the skill that just absorbed the newest one, so the
// recurrence count starts over and their source items get linked too.
func (w *Workflow) mergeSiblings(ctx context.Context, name, skillID string) {
	siblings, err := w.store.ListPendingByName(ctx, name)
	if err != nil {
		w.logger.Warn("sibling lookup failed", zap.String("name", name), zap.Error(err))
		return
	}
	for _, sib := range siblings {
		if _, err := w.Merge(ctx, sib.ID, skillID); err != nil {
			w.logger.Warn("sibling merge failed", zap.String("id", sib.ID), zap.Error(err))
		}
	}
}

// ListPending returns unresolved suggestions.
func (w *Workflow) ListPending(ctx context.Context, limit, offset int) ([]*skill.SkillSuggestion, error) {
	return w.store.ListPendingSuggestions(ctx, limit, offset)
}

// Approve creates a new SkillCategory from the suggestion, links the
// source item with a human_manual assignment, and refreshes the new
// skill's aggregate (initially derived from its description).
func (w *Workflow) Approve(ctx context.Context, id string) (*skill.SkillCategory, error) {
	sug, err := w.store.GetSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if sug.Status != skill.SuggestionPending {
		return nil, fmt.Errorf("suggestion %s already resolved: %w", id, skill.ErrConflict)
	}

	slug := skill.Slugify(sug.SuggestedName)
	if !skill.ValidSlug(slug) {
		return nil, skill.Validationf("suggested_name", "cannot derive a valid slug from %q", sug.SuggestedName)
	}
	sk := &skill.SkillCategory{
		ID:          slug,
		Name:        sug.SuggestedName,
		Description: sug.SuggestedDescription,
		IsActive:    true,
	}
	if err := w.store.CreateSkill(ctx, sk); err != nil {
		return nil, err
	}
	if err := w.link(ctx, sug.SourceItemID, slug); err != nil {
		return nil, err
	}
	// Resolution is the final write. A failure in an earlier step keeps
	// the suggestion pending so the resolution can be retried; with the
	// skill row already in place the retry goes through Merge.
	if err := w.store.ResolveSuggestion(ctx, id, skill.SuggestionApproved); err != nil {
		return nil, err
	}

	w.logger.Info("suggestion approved",
		zap.String("id", id), zap.String("skill_id", slug))
	return sk, nil
}

// Merge links the source item to an existing skill and discards the
// suggestion.
func (w *Workflow) Merge(ctx context.Context, id, targetSkillID string) (*skill.SkillCategory, error) {
	sug, err := w.store.GetSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if sug.Status != skill.SuggestionPending {
		return nil, fmt.Errorf("suggestion %s already resolved: %w", id, skill.ErrConflict)
	}
	target, err := w.store.GetSkill(ctx, targetSkillID)
	if err != nil {
		return nil, err
	}
	if err := w.link(ctx, sug.SourceItemID, targetSkillID); err != nil {
		return nil, err
	}
	// As in Approve, resolution is the final write; link tolerates an
	// already-present assignment so a retry converges.
	if err := w.store.ResolveSuggestion(ctx, id, skill.SuggestionMerged); err != nil {
		return nil, err
	}

	w.logger.Info("suggestion merged",
		zap.String("id", id), zap.String("skill_id", targetSkillID))
	return target, nil
}

// Reject discards a suggestion with no side effects.
func (w *Workflow) Reject(ctx context.Context, id string) error {
	if err := w.store.ResolveSuggestion(ctx, id, skill.SuggestionRejected); err != nil {
		return err
	}
	w.logger.Info("suggestion rejected", zap.String("id", id))
	return nil
}

func (w *Workflow) link(ctx context.Context, itemID, skillID string) error {
	_, state, err := w.store.AddManualAssignment(ctx, itemID, skillID, skill.SourceHumanManual)
	if err != nil {
		// The item may already carry this assignment from a previous
		// merge; the suggestion is resolved either way.
		if errors.Is(err, skill.ErrConflict) {
			w.logger.Warn("assignment already present",
				zap.String("item_id", itemID), zap.String("skill_id", skillID))
			return w.refreshSkill(ctx, skillID)
		}
		return err
	}
	if w.tagger != nil {
		if err := w.tagger.SetItemSkills(ctx, itemID, state.SkillIDs, state.PrimarySkillID); err != nil {
			w.logger.Warn("item skill tag update failed",
				zap.String("item_id", itemID), zap.Error(err))
		}
	}
	return w.refreshSkill(ctx, skillID)
}

func (w *Workflow) refreshSkill(ctx context.Context, skillID string) error {
	if err := w.refresh.Enqueue(ctx, skillID); err != nil {
		w.logger.Warn("refresh enqueue failed", zap.String("skill_id", skillID), zap.Error(err))
	}
	return nil
}
