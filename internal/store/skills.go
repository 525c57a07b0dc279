package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nidhogg/toolscope/internal/skill"
)

const skillColumns = `id, name, description, keywords, examples, parent_domain,
	tool_count, is_active, aggregate_embedding, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// CreateSkill inserts a new skill category. A duplicate id yields
// skill.ErrConflict.
func (s *Store) CreateSkill(ctx context.Context, sk *skill.SkillCategory) error {
	if !skill.ValidSlug(sk.ID) {
		return skill.Validationf("id", "not a valid slug: %q", sk.ID)
	}
	if sk.Name == "" {
		return skill.Validationf("name", "required")
	}
	now := time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO skills (id, name, description, keywords, examples, parent_domain,
			tool_count, is_active, aggregate_embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)`,
		sk.ID, sk.Name, sk.Description, sk.Keywords, sk.Examples, sk.ParentDomain,
		sk.IsActive, sk.AggregateEmbedding, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("skill %s: %w", sk.ID, skill.ErrConflict)
		}
		return fmt.Errorf("create skill %s: %w", sk.ID, err)
	}
	sk.CreatedAt = now
	sk.UpdatedAt = now
	return nil
}

// GetSkill retrieves a single skill by id.
func (s *Store) GetSkill(ctx context.Context, id string) (*skill.SkillCategory, error) {
	row := s.db.QueryRow(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = $1`, id)
	sk, err := scanSkill(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("skill %s: %w", id, skill.ErrNotFound)
		}
		return nil, fmt.Errorf("get skill %s: %w", id, err)
	}
	return sk, nil
}

// SkillFilter narrows a skill listing.
type SkillFilter struct {
	ActiveOnly bool
	Domain     string
	Limit      int
	Offset     int
}

// ListSkills returns skills matching the filter, ordered by id for a
// stable pagination cursor.
func (s *Store) ListSkills(ctx context.Context, f SkillFilter) ([]*skill.SkillCategory, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	query := `SELECT ` + skillColumns + ` FROM skills WHERE 1=1`
	args := []interface{}{}
	if f.ActiveOnly {
		query += ` AND is_active`
	}
	if f.Domain != "" {
		args = append(args, f.Domain)
		query += fmt.Sprintf(` AND parent_domain = $%d`, len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []*skill.SkillCategory
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// ListActiveSkills returns every active skill. Used to build the
// classifier candidate list; read fresh per request rather than cached.
func (s *Store) ListActiveSkills(ctx context.Context) ([]*skill.SkillCategory, error) {
	return s.ListSkills(ctx, SkillFilter{ActiveOnly: true, Limit: 500})
}

// UpdateSkillAggregate overwrites the derived aggregate embedding and
// cached tool count. Safe to call concurrently for the same skill:
// recomputation is pure, so last write wins.
func (s *Store) UpdateSkillAggregate(ctx context.Context, id string, vec []float32, toolCount int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE skills SET aggregate_embedding = $2, tool_count = $3, updated_at = NOW()
		WHERE id = $1`, id, vec, toolCount)
	if err != nil {
		return fmt.Errorf("update aggregate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("skill %s: %w", id, skill.ErrNotFound)
	}
	return nil
}

// UpdateSkillDescription edits a skill's description. The caller is
// responsible for re-running aggregation afterwards.
func (s *Store) UpdateSkillDescription(ctx context.Context, id, description string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE skills SET description = $2, updated_at = NOW() WHERE id = $1`,
		id, description)
	if err != nil {
		return fmt.Errorf("update description %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("skill %s: %w", id, skill.ErrNotFound)
	}
	return nil
}

// SetSkillActive toggles a skill's active flag.
func (s *Store) SetSkillActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE skills SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("skill %s: %w", id, skill.ErrNotFound)
	}
	return nil
}

// ListSkillItems returns the items assigned to a skill, highest
// confidence first, paginated.
func (s *Store) ListSkillItems(ctx context.Context, skillID string, limit, offset int) ([]*skill.SkillItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if _, err := s.GetSkill(ctx, skillID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT a.item_id, i.name, i.item_type, a.confidence, a.is_primary, a.source
		FROM tool_skill_assignments a
		JOIN items i ON i.id = a.item_id
		WHERE a.skill_id = $1 AND i.is_active
		ORDER BY a.confidence DESC, a.item_id
		LIMIT $2 OFFSET $3`, skillID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list skill items %s: %w", skillID, err)
	}
	defer rows.Close()

	var items []*skill.SkillItem
	for rows.Next() {
		var it skill.SkillItem
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Type, &it.Confidence, &it.IsPrimary, &it.Source); err != nil {
			return nil, fmt.Errorf("scan skill item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSkill(row rowScanner) (*skill.SkillCategory, error) {
	var sk skill.SkillCategory
	err := row.Scan(
		&sk.ID, &sk.Name, &sk.Description, &sk.Keywords, &sk.Examples, &sk.ParentDomain,
		&sk.ToolCount, &sk.IsActive, &sk.AggregateEmbedding, &sk.CreatedAt, &sk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sk, nil
}
