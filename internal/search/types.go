package search

import (
	"github.com/nidhogg/toolscope/internal/skill"
)

// Strategy selects how a search request is executed.
type Strategy string

const (
	// StrategyHierarchical narrows to matching skills first, then ranks
	// items within them.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyDirect skips skill narrowing and ranks against the full
	// item index.
	StrategyDirect Strategy = "direct"
)

// Request is a search query with optional tuning overrides. Zero
// values take the configured defaults.
type Request struct {
	Query          string   `json:"query"`
	ItemType       string   `json:"item_type,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	SkillLimit     int      `json:"skill_limit,omitempty"`
	SkillThreshold float64  `json:"skill_threshold,omitempty"`
	ToolThreshold  float64  `json:"tool_threshold,omitempty"`
	IncludeSchemas bool     `json:"include_schemas,omitempty"`
	Strategy       Strategy `json:"strategy,omitempty"`
}

// ResultItem is one ranked item in the response.
type ResultItem struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Score          float64           `json:"score"`
	SkillIDs       []string          `json:"skill_ids"`
	PrimarySkillID string            `json:"primary_skill_id,omitempty"`
	Detail         *skill.ItemDetail `json:"detail,omitempty"`
}

// MatchedSkill is one stage-1 hit included in the response.
type MatchedSkill struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	ToolCount   int     `json:"tool_count"`
}

// Metadata reports how the request actually executed. SkillIDsUsed is
// null (nil) when no skill filter was applied, as opposed to an empty
// restriction.
type Metadata struct {
	StrategyUsed     Strategy           `json:"strategy_used"`
	Degraded         bool               `json:"degraded,omitempty"`
	SkillIDsUsed     []string           `json:"skill_ids_used"`
	StageCounts      map[string]int     `json:"stage_counts"`
	PerStageTimingMS map[string]float64 `json:"per_stage_timing_ms"`
	TotalTimingMS    float64            `json:"total_timing_ms"`
	Error            string             `json:"error,omitempty"`
}

// Response is the full search result set.
type Response struct {
	Query         string         `json:"query"`
	Items         []ResultItem   `json:"items"`
	MatchedSkills []MatchedSkill `json:"matched_skills"`
	Metadata      Metadata       `json:"metadata"`
}
