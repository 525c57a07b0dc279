// Package classifier assigns catalog items to skills using an external
// reasoning service, validating its output at the boundary before any
// assignment row is written.
package classifier

import (
	"context"
	"errors"
)

// ErrMalformed marks a classifier response that failed the schema
// check: missing fields, out-of-range confidence, or undecodable JSON.
var ErrMalformed = errors.New("classifier: malformed response")

// ItemInfo is the classifier's view of a catalog item.
type ItemInfo struct {
	ID           string
	Name         string
	Description  string
	InputSummary string
}

// Candidate is one active skill offered to the classifier.
type Candidate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
}

// ProposedAssignment is one (skill, confidence, reasoning) tuple from
// the classifier, before validation.
type ProposedAssignment struct {
	SkillID    string  `json:"skill_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// NewSkillProposal is the classifier's suggestion when no candidate fits.
type NewSkillProposal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Reasoning   string `json:"reasoning"`
}

// Result is the structured classifier output.
type Result struct {
	Assignments    []ProposedAssignment `json:"assignments"`
	PrimarySkillID string               `json:"primary_skill_id"`
	NewSkill       *NewSkillProposal    `json:"suggested_new_skill"`
}

// Classifier is the external reasoning service. Implementations must
// return schema-conforming data or an error; a malformed response is a
// classifier failure, not a partial result.
type Classifier interface {
	Classify(ctx context.Context, item ItemInfo, candidates []Candidate) (*Result, error)
}

// validateResult filters the classifier output against the active skill
// set and the confidence floor. Hallucinated skill ids and low-scoring
// tuples are dropped individually; the rest of the response is kept.
// Returns at most maxAssignments tuples and the surviving primary id.
func validateResult(res *Result, active map[string]bool, minConfidence float64, maxAssignments int) ([]ProposedAssignment, string) {
	var valid []ProposedAssignment
	for _, a := range res.Assignments {
		if !active[a.SkillID] {
			continue
		}
		if a.Confidence < minConfidence || a.Confidence > 1 {
			continue
		}
		valid = append(valid, a)
		if len(valid) == maxAssignments {
			break
		}
	}

	primary := ""
	for _, a := range valid {
		if a.SkillID == res.PrimarySkillID {
			primary = a.SkillID
			break
		}
	}
	if primary == "" && len(valid) > 0 {
		best := valid[0]
		for _, a := range valid[1:] {
			if a.Confidence > best.Confidence {
				best = a
			}
		}
		primary = best.SkillID
	}
	return valid, primary
}
