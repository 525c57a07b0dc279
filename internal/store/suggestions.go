package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/toolscope/internal/skill"
)

// CreateSuggestion stores a pending skill suggestion. The id is
// assigned here if the caller left it empty.
func (s *Store) CreateSuggestion(ctx context.Context, sug *skill.SkillSuggestion) error {
	if sug.SuggestedName == "" {
		return skill.Validationf("suggested_name", "required")
	}
	if sug.ID == "" {
		sug.ID = uuid.New().String()
	}
	sug.Status = skill.SuggestionPending
	sug.CreatedAt = time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO skill_suggestions
			(id, suggested_name, suggested_description, source_item_id, reasoning, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sug.ID, sug.SuggestedName, sug.SuggestedDescription, sug.SourceItemID,
		sug.Reasoning, sug.Status, sug.CreatedAt)
	if err != nil {
		return fmt.Errorf("create suggestion: %w", err)
	}
	return nil
}

// GetSuggestion retrieves a suggestion by id.
func (s *Store) GetSuggestion(ctx context.Context, id string) (*skill.SkillSuggestion, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, suggested_name, suggested_description, source_item_id, reasoning,
		       status, created_at, resolved_at
		FROM skill_suggestions WHERE id = $1`, id)
	var sug skill.SkillSuggestion
	err := row.Scan(&sug.ID, &sug.SuggestedName, &sug.SuggestedDescription,
		&sug.SourceItemID, &sug.Reasoning, &sug.Status, &sug.CreatedAt, &sug.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("suggestion %s: %w", id, skill.ErrNotFound)
		}
		return nil, fmt.Errorf("get suggestion %s: %w", id, err)
	}
	return &sug, nil
}

// ListPendingSuggestions returns unresolved suggestions, oldest first.
func (s *Store) ListPendingSuggestions(ctx context.Context, limit, offset int) ([]*skill.SkillSuggestion, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, suggested_name, suggested_description, source_item_id, reasoning,
		       status, created_at, resolved_at
		FROM skill_suggestions
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`, skill.SuggestionPending, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pending suggestions: %w", err)
	}
	defer rows.Close()

	var out []*skill.SkillSuggestion
	for rows.Next() {
		var sug skill.SkillSuggestion
		if err := rows.Scan(&sug.ID, &sug.SuggestedName, &sug.SuggestedDescription,
			&sug.SourceItemID, &sug.Reasoning, &sug.Status, &sug.CreatedAt, &sug.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, &sug)
	}
	return out, rows.Err()
}

// ResolveSuggestion moves a pending suggestion into a terminal state,
// exactly once. Resolving a suggestion that is no longer pending yields
// skill.ErrConflict; a missing id yields skill.ErrNotFound.
func (s *Store) ResolveSuggestion(ctx context.Context, id string, status skill.SuggestionStatus) error {
	switch status {
	case skill.SuggestionApproved, skill.SuggestionRejected, skill.SuggestionMerged:
	default:
		return skill.Validationf("status", "not a terminal state: %q", status)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE skill_suggestions SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, status, skill.SuggestionPending)
	if err != nil {
		return fmt.Errorf("resolve suggestion %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSuggestion(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("suggestion %s already resolved: %w", id, skill.ErrConflict)
	}
	return nil
}

// ListPendingByName returns the pending suggestions sharing a suggested
// name, oldest first.
func (s *Store) ListPendingByName(ctx context.Context, name string) ([]*skill.SkillSuggestion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, suggested_name, suggested_description, source_item_id, reasoning,
		       status, created_at, resolved_at
		FROM skill_suggestions
		WHERE status = $1 AND LOWER(suggested_name) = LOWER($2)
		ORDER BY created_at, id`, skill.SuggestionPending, name)
	if err != nil {
		return nil, fmt.Errorf("list pending %q: %w", name, err)
	}
	defer rows.Close()

	var out []*skill.SkillSuggestion
	for rows.Next() {
		var sug skill.SkillSuggestion
		if err := rows.Scan(&sug.ID, &sug.SuggestedName, &sug.SuggestedDescription,
			&sug.SourceItemID, &sug.Reasoning, &sug.Status, &sug.CreatedAt, &sug.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, &sug)
	}
	return out, rows.Err()
}

// CountPendingByName counts pending suggestions sharing a suggested
// name, used by the recurrence auto-approval policy.
func (s *Store) CountPendingByName(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM skill_suggestions
		WHERE status = $1 AND LOWER(suggested_name) = LOWER($2)`,
		skill.SuggestionPending, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending %q: %w", name, err)
	}
	return n, nil
}
