package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/toolscope/internal/skill"
)

// ListAssignments returns every assignment for an item.
func (s *Store) ListAssignments(ctx context.Context, itemID string) ([]skill.ToolSkillAssignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT item_id, skill_id, confidence, is_primary, source, reasoning, assigned_at
		FROM tool_skill_assignments
		WHERE item_id = $1
		ORDER BY confidence DESC, skill_id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list assignments %s: %w", itemID, err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// ListSkillAssignments returns every assignment referencing a skill
// whose item is still active. This is the aggregator's read path.
func (s *Store) ListSkillAssignments(ctx context.Context, skillID string) ([]skill.ToolSkillAssignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.item_id, a.skill_id, a.confidence, a.is_primary, a.source, a.reasoning, a.assigned_at
		FROM tool_skill_assignments a
		JOIN items i ON i.id = a.item_id
		WHERE a.skill_id = $1 AND i.is_active
		ORDER BY a.item_id`, skillID)
	if err != nil {
		return nil, fmt.Errorf("list skill assignments %s: %w", skillID, err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// ReplaceResult describes what an atomic assignment replacement changed.
type ReplaceResult struct {
	// Assignments is the item's full assignment set after the replace,
	// including preserved human rows.
	Assignments []skill.ToolSkillAssignment
	// AffectedSkillIDs lists every skill whose membership changed (old
	// and new), each needing an aggregation refresh.
	AffectedSkillIDs []string
	// SkillIDs is the item's resulting skill-id list for the filter cache.
	SkillIDs []string
	// PrimarySkillID is the resulting primary, or "".
	PrimarySkillID string
}

// ReplaceAutoAssignments atomically swaps an item's reasoning_auto
// assignments for the given rows. Human-sourced rows survive unless
// force is set. The whole operation commits as one transaction, or
// leaves the previous state untouched on failure.
func (s *Store) ReplaceAutoAssignments(ctx context.Context, itemID string, incoming []skill.ToolSkillAssignment, force bool) (*ReplaceResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT TRUE FROM items WHERE id = $1`, itemID).Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("item %s: %w", itemID, skill.ErrNotFound)
		}
		return nil, fmt.Errorf("check item %s: %w", itemID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT item_id, skill_id, confidence, is_primary, source, reasoning, assigned_at
		FROM tool_skill_assignments
		WHERE item_id = $1
		FOR UPDATE`, itemID)
	if err != nil {
		return nil, fmt.Errorf("lock assignments %s: %w", itemID, err)
	}
	existing, err := scanAssignments(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	affected := map[string]bool{}
	var kept []skill.ToolSkillAssignment
	for _, a := range existing {
		if force || a.Source == skill.SourceReasoningAuto {
			affected[a.SkillID] = true
		} else {
			kept = append(kept, a)
		}
	}

	if force {
		_, err = tx.Exec(ctx, `DELETE FROM tool_skill_assignments WHERE item_id = $1`, itemID)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM tool_skill_assignments WHERE item_id = $1 AND source = $2`,
			itemID, skill.SourceReasoningAuto)
	}
	if err != nil {
		return nil, fmt.Errorf("delete assignments %s: %w", itemID, err)
	}

	// Cap the total to the per-item bound, dropping the lowest-confidence
	// new rows first. Skills already covered by a kept human row are
	// skipped rather than duplicated.
	keptSkills := map[string]bool{}
	keptPrimary := false
	for _, a := range kept {
		keptSkills[a.SkillID] = true
		if a.IsPrimary {
			keptPrimary = true
		}
	}
	sort.SliceStable(incoming, func(i, j int) bool {
		return incoming[i].Confidence > incoming[j].Confidence
	})
	var inserts []skill.ToolSkillAssignment
	for _, a := range incoming {
		if keptSkills[a.SkillID] {
			continue
		}
		if len(kept)+len(inserts) >= skill.MaxAssignmentsPerItem {
			break
		}
		inserts = append(inserts, a)
	}

	primaryAssigned := keptPrimary
	now := time.Now()
	for i := range inserts {
		a := &inserts[i]
		a.ItemID = itemID
		a.AssignedAt = now
		if a.Source == "" {
			a.Source = skill.SourceReasoningAuto
		}
		if a.IsPrimary && primaryAssigned {
			a.IsPrimary = false
		}
		if a.IsPrimary {
			primaryAssigned = true
		}
	}
	// The highest-confidence row becomes primary when nothing claimed it.
	if !primaryAssigned && len(inserts) > 0 {
		inserts[0].IsPrimary = true
	}

	for _, a := range inserts {
		affected[a.SkillID] = true
		_, err = tx.Exec(ctx, `
			INSERT INTO tool_skill_assignments
				(item_id, skill_id, confidence, is_primary, source, reasoning, assigned_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ItemID, a.SkillID, a.Confidence, a.IsPrimary, a.Source, a.Reasoning, a.AssignedAt)
		if err != nil {
			return nil, fmt.Errorf("insert assignment %s/%s: %w", itemID, a.SkillID, err)
		}
	}

	final := append(append([]skill.ToolSkillAssignment{}, kept...), inserts...)
	result := &ReplaceResult{Assignments: final}
	for _, a := range final {
		result.SkillIDs = append(result.SkillIDs, a.SkillID)
		if a.IsPrimary {
			result.PrimarySkillID = a.SkillID
		}
	}
	for id := range affected {
		result.AffectedSkillIDs = append(result.AffectedSkillIDs, id)
	}
	sort.Strings(result.AffectedSkillIDs)
	sort.Strings(result.SkillIDs)

	if err := s.syncItemCaches(ctx, tx, itemID, result.SkillIDs, result.AffectedSkillIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace %s: %w", itemID, err)
	}
	return result, nil
}

// AddManualAssignment links an item to a skill with confidence 1.0.
// Used by the suggestion workflow and human overrides. Returns the new
// assignment and the item's resulting assignment state.
func (s *Store) AddManualAssignment(ctx context.Context, itemID, skillID string, source skill.AssignmentSource) (*skill.ToolSkillAssignment, *ReplaceResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin assign: %w", err)
	}
	defer tx.Rollback(ctx)

	var active bool
	if err := tx.QueryRow(ctx, `SELECT is_active FROM skills WHERE id = $1`, skillID).Scan(&active); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, fmt.Errorf("skill %s: %w", skillID, skill.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("check skill %s: %w", skillID, err)
	}
	if !active {
		return nil, nil, skill.Validationf("skill_id", "skill %s is inactive", skillID)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT TRUE FROM items WHERE id = $1`, itemID).Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, fmt.Errorf("item %s: %w", itemID, skill.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("check item %s: %w", itemID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT item_id, skill_id, confidence, is_primary, source, reasoning, assigned_at
		FROM tool_skill_assignments WHERE item_id = $1 FOR UPDATE`, itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock assignments %s: %w", itemID, err)
	}
	existing, err := scanAssignments(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	hasPrimary := false
	for _, a := range existing {
		if a.SkillID == skillID {
			return nil, nil, fmt.Errorf("assignment %s/%s: %w", itemID, skillID, skill.ErrConflict)
		}
		if a.IsPrimary {
			hasPrimary = true
		}
	}
	if len(existing) >= skill.MaxAssignmentsPerItem {
		return nil, nil, fmt.Errorf("item %s already has %d assignments: %w",
			itemID, len(existing), skill.ErrConflict)
	}

	a := skill.ToolSkillAssignment{
		ItemID:     itemID,
		SkillID:    skillID,
		Confidence: 1.0,
		IsPrimary:  !hasPrimary,
		Source:     source,
		AssignedAt: time.Now(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tool_skill_assignments
			(item_id, skill_id, confidence, is_primary, source, reasoning, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ItemID, a.SkillID, a.Confidence, a.IsPrimary, a.Source, a.Reasoning, a.AssignedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert assignment %s/%s: %w", itemID, skillID, err)
	}

	result := &ReplaceResult{
		Assignments:      append(existing, a),
		AffectedSkillIDs: []string{skillID},
	}
	for _, e := range result.Assignments {
		result.SkillIDs = append(result.SkillIDs, e.SkillID)
		if e.IsPrimary {
			result.PrimarySkillID = e.SkillID
		}
	}
	sort.Strings(result.SkillIDs)

	if err := s.syncItemCaches(ctx, tx, itemID, result.SkillIDs, []string{skillID}); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit assign %s/%s: %w", itemID, skillID, err)
	}
	return &a, result, nil
}

// syncItemCaches maintains the derived state inside the same
// transaction as the assignment rows: the item's relational skill-id
// cache and the cached tool_count of every touched skill.
func (s *Store) syncItemCaches(ctx context.Context, tx pgx.Tx, itemID string, skillIDs, touched []string) error {
	if skillIDs == nil {
		skillIDs = []string{}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE items SET skill_ids = $2, updated_at = NOW() WHERE id = $1`,
		itemID, skillIDs); err != nil {
		return fmt.Errorf("sync item skills %s: %w", itemID, err)
	}
	if len(touched) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE skills SET tool_count = (
			SELECT COUNT(*) FROM tool_skill_assignments a
			JOIN items i ON i.id = a.item_id
			WHERE a.skill_id = skills.id AND i.is_active
		), updated_at = NOW()
		WHERE id = ANY($1)`, touched); err != nil {
		return fmt.Errorf("sync tool counts: %w", err)
	}
	return nil
}

func scanAssignments(rows pgx.Rows) ([]skill.ToolSkillAssignment, error) {
	var out []skill.ToolSkillAssignment
	for rows.Next() {
		var a skill.ToolSkillAssignment
		if err := rows.Scan(&a.ItemID, &a.SkillID, &a.Confidence, &a.IsPrimary,
			&a.Source, &a.Reasoning, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
