package forms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// Resolution scores.
const (
	scoreRepository = 100
	scoreLevel      = 50
	scoreCollection = 25

	defaultPriority = 100
)

// Assignments lists active assignments with their template names, highest
// priority first.
func (s *Service) Assignments(ctx context.Context) ([]models.FormAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fa.id, fa.template_id, ft.name, fa.repository_id,
	fa.level_of_description_id, fa.collection_id, fa.priority, fa.inherit_to_children,
	fa.is_active, fa.created_at
FROM form_assignment fa JOIN form_template ft ON ft.id = fa.template_id
WHERE fa.is_active = 1
ORDER BY fa.priority DESC, fa.id`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	out := []models.FormAssignment{}
	for rows.Next() {
		var (
			a                models.FormAssignment
			repo, level, col sql.NullInt64
			created          string
		)
		if err := rows.Scan(&a.ID, &a.TemplateID, &a.TemplateName, &repo, &level, &col,
			&a.Priority, &a.InheritToChildren, &a.IsActive, &created); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.RepositoryID, a.LevelOfDescriptionID, a.CollectionID = int64Ptr(repo), int64Ptr(level), int64Ptr(col)
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAssignment binds a template to a context. A zero priority means the
// default of 100.
func (s *Service) CreateAssignment(ctx context.Context, a models.FormAssignment) (*models.FormAssignment, error) {
	t, err := s.templateRow(ctx, s.db, a.TemplateID)
	if err != nil {
		return nil, err
	}
	if a.Priority == 0 {
		a.Priority = defaultPriority
	}
	a.TemplateName = t.Name
	a.IsActive = true
	a.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO form_assignment
(template_id, repository_id, level_of_description_id, collection_id, priority, inherit_to_children, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		a.TemplateID, a.RepositoryID, a.LevelOfDescriptionID, a.CollectionID,
		a.Priority, a.InheritToChildren, a.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	s.log.Info("form assignment created", "assignment_id", a.ID, "template_id", a.TemplateID, "priority", a.Priority)
	return &a, nil
}

// DeleteAssignment removes an assignment.
func (s *Service) DeleteAssignment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM form_assignment WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete assignment %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assignment %d: %w", id, models.ErrNotFound)
	}
	return nil
}

type candidate struct {
	templateID int64
	repo       sql.NullInt64
	level      sql.NullInt64
	collection sql.NullInt64
	colLft     sql.NullInt64
	colRgt     sql.NullInt64
	priority   int
}

// score rates c for the request. ok is false when a set repository or level
// does not match.
func (c candidate) score(req models.ResolveRequest, parentLft, parentRgt int64, haveParent bool) (int, bool) {
	score := 0
	if c.repo.Valid {
		if req.RepositoryID == nil || *req.RepositoryID != c.repo.Int64 {
			return 0, false
		}
		score += scoreRepository
	}
	if c.level.Valid {
		if req.LevelID == nil || *req.LevelID != c.level.Int64 {
			return 0, false
		}
		score += scoreLevel
	}
	if c.collection.Valid && haveParent && c.colLft.Valid && c.colRgt.Valid &&
		parentLft > c.colLft.Int64 && parentRgt < c.colRgt.Int64 {
		score += scoreCollection
	}
	return score + c.priority, true
}

// Resolve picks the template for a catalog context. The highest scoring
// assignment wins, the earliest on a tie. Without a match the active default
// template of the form type is used. It returns nil when neither exists.
func (s *Service) Resolve(ctx context.Context, req models.ResolveRequest) (*models.FormTemplate, error) {
	var (
		parentLft, parentRgt int64
		haveParent           bool
	)
	if req.ParentID != nil {
		err := s.db.QueryRowContext(ctx, `SELECT lft, rgt FROM information_object WHERE id = ?`,
			*req.ParentID).Scan(&parentLft, &parentRgt)
		switch {
		case err == nil:
			haveParent = true
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("load parent %d: %w", *req.ParentID, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT fa.template_id, fa.repository_id, fa.level_of_description_id,
	fa.collection_id, io.lft, io.rgt, fa.priority
FROM form_assignment fa
JOIN form_template ft ON ft.id = fa.template_id
LEFT JOIN information_object io ON io.id = fa.collection_id
WHERE fa.is_active = 1 AND ft.is_active = 1 AND ft.form_type = ?
ORDER BY fa.id`, req.FormType)
	if err != nil {
		return nil, fmt.Errorf("resolve assignments: %w", err)
	}
	var (
		best      int64
		bestScore = -1 << 31
	)
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.templateID, &c.repo, &c.level, &c.collection, &c.colLft, &c.colRgt, &c.priority); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		score, ok := c.score(req, parentLft, parentRgt, haveParent)
		if ok && score > bestScore {
			best, bestScore = c.templateID, score
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if best == 0 {
		err := s.db.QueryRowContext(ctx, `SELECT id FROM form_template
WHERE form_type = ? AND is_default = 1 AND is_active = 1 ORDER BY id LIMIT 1`, req.FormType).Scan(&best)
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Debug("no form template resolved", "form_type", req.FormType)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("default template: %w", err)
		}
	}
	s.log.Debug("form template resolved", "form_type", req.FormType, "template_id", best, "score", bestScore)
	return s.Template(ctx, best)
}
