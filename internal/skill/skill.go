package skill

import (
	"regexp"
	"strings"
	"time"
)

// SkillCategory is a topical cluster of catalog items. The aggregate
// embedding is a derived cache recomputed from assignment rows; the
// assignment rows are the source of truth.
type SkillCategory struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Keywords           []string  `json:"keywords"`
	Examples           []string  `json:"examples"`
	ParentDomain       string    `json:"parent_domain"`
	ToolCount          int       `json:"tool_count"`
	IsActive           bool      `json:"is_active"`
	AggregateEmbedding []float32 `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AssignmentSource records how an item-skill link came to exist.
type AssignmentSource string

const (
	SourceReasoningAuto AssignmentSource = "reasoning_auto"
	SourceHumanManual   AssignmentSource = "human_manual"
	SourceHumanOverride AssignmentSource = "human_override"
)

// MaxAssignmentsPerItem bounds how many skills a single item may link to.
const MaxAssignmentsPerItem = 5

// ToolSkillAssignment is a scored link between one item and one skill.
// At most one assignment per item carries IsPrimary.
type ToolSkillAssignment struct {
	ItemID     string           `json:"item_id"`
	SkillID    string           `json:"skill_id"`
	Confidence float64          `json:"confidence"`
	IsPrimary  bool             `json:"is_primary"`
	Source     AssignmentSource `json:"source"`
	Reasoning  string           `json:"reasoning,omitempty"`
	AssignedAt time.Time        `json:"assigned_at"`
}

// SuggestionStatus is the lifecycle state of a SkillSuggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionMerged   SuggestionStatus = "merged"
)

// SkillSuggestion is a proposed new skill raised by the classification
// pipeline when no existing skill clears the confidence floor. It is
// resolved exactly once: pending -> approved | rejected | merged.
type SkillSuggestion struct {
	ID                   string           `json:"id"`
	SuggestedName        string           `json:"suggested_name"`
	SuggestedDescription string           `json:"suggested_description"`
	SourceItemID         string           `json:"source_item_id"`
	Reasoning            string           `json:"reasoning"`
	Status               SuggestionStatus `json:"status"`
	CreatedAt            time.Time        `json:"created_at"`
	ResolvedAt           *time.Time       `json:"resolved_at,omitempty"`
}

// ItemType distinguishes the three kinds of catalog items.
type ItemType string

const (
	ItemTool     ItemType = "tool"
	ItemPrompt   ItemType = "prompt"
	ItemResource ItemType = "resource"
)

// ValidItemType reports whether t names a known item type.
func ValidItemType(t string) bool {
	switch ItemType(t) {
	case ItemTool, ItemPrompt, ItemResource:
		return true
	}
	return false
}

// ItemDetail is the full metadata record for a catalog item, fetched
// from the relational store during search enrichment. Item content is
// owned by the external catalog; this subsystem reads it and maintains
// only the skill-id list as a search-time filter cache.
type ItemDetail struct {
	ID           string    `json:"id"`
	Type         ItemType  `json:"type"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	InputSchema  []byte    `json:"input_schema,omitempty"`
	OutputSchema []byte    `json:"output_schema,omitempty"`
	SkillIDs     []string  `json:"skill_ids"`
	IsActive     bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SkillItem is one row of a skill's item listing: the item reference
// plus the assignment that links it.
type SkillItem struct {
	ItemID     string           `json:"item_id"`
	Name       string           `json:"name"`
	Type       ItemType         `json:"type"`
	Confidence float64          `json:"confidence"`
	IsPrimary  bool             `json:"is_primary"`
	Source     AssignmentSource `json:"source"`
}

var slugRe = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

// ValidSlug reports whether id is a well-formed skill slug.
func ValidSlug(id string) bool {
	return slugRe.MatchString(id)
}

var slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a skill slug from a human-readable name.
// "Calendar Management" becomes "calendar_management".
func Slugify(name string) string {
	s := slugCleanRe.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
