package classifier

import (
	"context"
	"fmt"

	"github.com/nidhogg/toolscope/internal/skill"
	"github.com/nidhogg/toolscope/internal/store"
	"go.uber.org/zap"
)

// PipelineConfig tunes the classification pipeline.
type PipelineConfig struct {
	MinConfidence    float64 `json:"min_confidence"`
	DescriptionLimit int     `json:"description_limit"`
	MaxAssignments   int     `json:"max_assignments"`
}

func (c *PipelineConfig) applyDefaults() {
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.5
	}
	if c.DescriptionLimit == 0 {
		c.DescriptionLimit = 2000
	}
	if c.MaxAssignments == 0 {
		c.MaxAssignments = 3
	}
}

// AssignmentStore is the slice of the relational store the pipeline needs.
type AssignmentStore interface {
	ListActiveSkills(ctx context.Context) ([]*skill.SkillCategory, error)
	ListAssignments(ctx context.Context, itemID string) ([]skill.ToolSkillAssignment, error)
	ReplaceAutoAssignments(ctx context.Context, itemID string, rows []skill.ToolSkillAssignment, force bool) (*store.ReplaceResult, error)
}

// SuggestionSink receives new-skill proposals when nothing fits.
type SuggestionSink interface {
	SubmitSuggestion(ctx context.Context, sug *skill.SkillSuggestion) error
}

// Refresher requests aggregation refreshes for changed skills.
type Refresher interface {
	Enqueue(ctx context.Context, skillIDs ...string) error
}

// Tagger rewrites the item's skill-id filter cache in the vector index.
type Tagger interface {
	SetItemSkills(ctx context.Context, itemID string, skillIDs []string, primarySkillID string) error
}

// Pipeline orchestrates one item classification: candidate build,
// classifier call with a single retry, output validation, atomic
// assignment replacement, and refresh fan-out.
type Pipeline struct {
	store       AssignmentStore
	classifier  Classifier
	suggestions SuggestionSink
	refresh     Refresher
	tagger      Tagger
	config      PipelineConfig
	logger      *zap.Logger
}

// NewPipeline wires a Pipeline. tagger may be nil when no vector index
// is attached (the relational skill_ids cache is still maintained).
func NewPipeline(st AssignmentStore, cl Classifier, sug SuggestionSink, refresh Refresher, tagger Tagger, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		store:       st,
		classifier:  cl,
		suggestions: sug,
		refresh:     refresh,
		tagger:      tagger,
		config:      cfg,
		logger:      logger,
	}
}

// Request describes one classification trigger.
type Request struct {
	ItemID          string `json:"item_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	InputSummary    string `json:"input_summary,omitempty"`
	ForceReclassify bool   `json:"force_reclassify"`
}

// Outcome is what one classification produced.
type Outcome struct {
	Skipped     bool                        `json:"skipped"`
	Assignments []skill.ToolSkillAssignment `json:"assignments"`
	Suggestion  *skill.SkillSuggestion      `json:"suggestion,omitempty"`
}

// Classify runs the pipeline for one item. Classifying an
// already-classified item without force_reclassify is a no-op. On
// classifier failure the call is retried once, then abandoned with no
// partial state.
func (p *Pipeline) Classify(ctx context.Context, req Request) (*Outcome, error) {
	if req.ItemID == "" {
		return nil, skill.Validationf("item_id", "required")
	}
	if req.Name == "" {
		return nil, skill.Validationf("name", "required")
	}

	existing, err := p.store.ListAssignments(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if !req.ForceReclassify && hasAutoAssignments(existing) {
		p.logger.Debug("classification skipped, item already assigned",
			zap.String("item_id", req.ItemID))
		return &Outcome{Skipped: true, Assignments: existing}, nil
	}

	skills, err := p.store.ListActiveSkills(ctx)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(skills))
	candidates := make([]Candidate, 0, len(skills))
	for _, sk := range skills {
		active[sk.ID] = true
		candidates = append(candidates, Candidate{
			ID:          sk.ID,
			Name:        sk.Name,
			Description: sk.Description,
			Keywords:    sk.Keywords,
		})
	}

	item := ItemInfo{
		ID:           req.ItemID,
		Name:         req.Name,
		Description:  truncate(req.Description, p.config.DescriptionLimit),
		InputSummary: req.InputSummary,
	}

	result, err := p.classifyWithRetry(ctx, item, candidates)
	if err != nil {
		return nil, fmt.Errorf("classify item %s: %w", req.ItemID, err)
	}

	valid, primary := validateResult(result, active, p.config.MinConfidence, p.config.MaxAssignments)
	if dropped := len(result.Assignments) - len(valid); dropped > 0 {
		p.logger.Warn("classifier assignments dropped during validation",
			zap.String("item_id", req.ItemID),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(valid)))
	}

	if len(valid) == 0 {
		outcome := &Outcome{Assignments: existing}
		if req.ForceReclassify && len(existing) > 0 {
			// A forced run that finds no fit leaves the item unassigned
			// rather than keeping the previous rows around as stale.
			replaced, err := p.store.ReplaceAutoAssignments(ctx, req.ItemID, nil, true)
			if err != nil {
				return nil, err
			}
			outcome.Assignments = replaced.Assignments
			p.propagate(ctx, req.ItemID, replaced)
		}
		if result.NewSkill != nil {
			sug := &skill.SkillSuggestion{
				SuggestedName:        result.NewSkill.Name,
				SuggestedDescription: result.NewSkill.Description,
				SourceItemID:         req.ItemID,
				Reasoning:            result.NewSkill.Reasoning,
			}
			if err := p.suggestions.SubmitSuggestion(ctx, sug); err != nil {
				return nil, fmt.Errorf("submit suggestion for %s: %w", req.ItemID, err)
			}
			outcome.Suggestion = sug
		}
		return outcome, nil
	}

	rows := make([]skill.ToolSkillAssignment, len(valid))
	for i, a := range valid {
		rows[i] = skill.ToolSkillAssignment{
			ItemID:     req.ItemID,
			SkillID:    a.SkillID,
			Confidence: a.Confidence,
			IsPrimary:  a.SkillID == primary,
			Source:     skill.SourceReasoningAuto,
			Reasoning:  a.Reasoning,
		}
	}

	replaced, err := p.store.ReplaceAutoAssignments(ctx, req.ItemID, rows, req.ForceReclassify)
	if err != nil {
		return nil, err
	}

	p.propagate(ctx, req.ItemID, replaced)

	return &Outcome{Assignments: replaced.Assignments}, nil
}

// propagate pushes a committed assignment change to the vector-side tag
// cache and the aggregation queue. Both are warn-only: the relational
// state is already committed and the caches converge on the next
// classification or reindex.
func (p *Pipeline) propagate(ctx context.Context, itemID string, replaced *store.ReplaceResult) {
	if p.tagger != nil {
		if err := p.tagger.SetItemSkills(ctx, itemID, replaced.SkillIDs, replaced.PrimarySkillID); err != nil {
			p.logger.Warn("item skill tag update failed",
				zap.String("item_id", itemID), zap.Error(err))
		}
	}
	if err := p.refresh.Enqueue(ctx, replaced.AffectedSkillIDs...); err != nil {
		p.logger.Warn("aggregation refresh enqueue failed",
			zap.String("item_id", itemID),
			zap.Strings("skill_ids", replaced.AffectedSkillIDs),
			zap.Error(err))
	}
}

func (p *Pipeline) classifyWithRetry(ctx context.Context, item ItemInfo, candidates []Candidate) (*Result, error) {
	result, err := p.classifier.Classify(ctx, item, candidates)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	p.logger.Warn("classifier call failed, retrying once",
		zap.String("item_id", item.ID), zap.Error(err))
	return p.classifier.Classify(ctx, item, candidates)
}

func hasAutoAssignments(assignments []skill.ToolSkillAssignment) bool {
	for _, a := range assignments {
		if a.Source == skill.SourceReasoningAuto {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
