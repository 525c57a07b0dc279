package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/toolscope/internal/skill"
)

// GetItemDetail fetches an item's full metadata record. Absence is not
// an error: a nil record is returned so enrichment can null out the
// detail field instead of failing the request.
func (s *Store) GetItemDetail(ctx context.Context, id string) (*skill.ItemDetail, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, item_type, name, description, input_schema, output_schema,
		       skill_ids, is_active, updated_at
		FROM items WHERE id = $1`, id)
	var d skill.ItemDetail
	err := row.Scan(&d.ID, &d.Type, &d.Name, &d.Description, &d.InputSchema,
		&d.OutputSchema, &d.SkillIDs, &d.IsActive, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return &d, nil
}

// ListItems returns catalog items for offline reindexing.
func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]*skill.ItemDetail, error) {
	query := `
		SELECT id, item_type, name, description, input_schema, output_schema,
		       skill_ids, is_active, updated_at
		FROM items`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []*skill.ItemDetail
	for rows.Next() {
		var d skill.ItemDetail
		if err := rows.Scan(&d.ID, &d.Type, &d.Name, &d.Description, &d.InputSchema,
			&d.OutputSchema, &d.SkillIDs, &d.IsActive, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
