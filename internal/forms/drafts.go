package forms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// Submission actions recorded when a draft is submitted.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// SaveDraft creates or replaces the draft for template, object and user.
func (s *Service) SaveDraft(ctx context.Context, d models.FormDraft) (*models.FormDraft, error) {
	if d.TemplateID == 0 || d.ObjectType == "" || d.UserID == "" {
		return nil, fmt.Errorf("%w: template_id, object_type and user_id are required", models.ErrValidation)
	}
	if d.FormData == nil {
		d.FormData = map[string]any{}
	}
	data, err := encodeJSON(d.FormData, func(map[string]any) bool { return false })
	if err != nil {
		return nil, err
	}
	now := s.stamp()
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM form_draft
WHERE template_id = ? AND object_type = ? AND object_id IS ? AND user_id = ?`,
			d.TemplateID, d.ObjectType, d.ObjectID, d.UserID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `INSERT INTO form_draft
(template_id, object_type, object_id, user_id, form_data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				d.TemplateID, d.ObjectType, d.ObjectID, d.UserID, data, now)
			if err != nil {
				return fmt.Errorf("insert draft: %w", err)
			}
			d.ID, err = res.LastInsertId()
			return err
		case err != nil:
			return fmt.Errorf("find draft: %w", err)
		}
		d.ID = id
		_, err = tx.ExecContext(ctx, `UPDATE form_draft SET form_data = ?, updated_at = ? WHERE id = ?`, data, now, id)
		if err != nil {
			return fmt.Errorf("update draft %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Draft(ctx, d.ID)
}

const draftSelect = `SELECT id, template_id, object_type, object_id, user_id, form_data, created_at, updated_at FROM form_draft`

func scanDraft(row interface{ Scan(...any) error }) (*models.FormDraft, error) {
	var (
		d             models.FormDraft
		objectID      sql.NullInt64
		data, updated sql.NullString
		created       string
	)
	if err := row.Scan(&d.ID, &d.TemplateID, &d.ObjectType, &objectID, &d.UserID, &data, &created, &updated); err != nil {
		return nil, err
	}
	d.ObjectID = int64Ptr(objectID)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTimePtr(updated)
	if err := decodeJSON(data, &d.FormData); err != nil {
		return nil, err
	}
	return &d, nil
}

// Draft loads one draft.
func (s *Service) Draft(ctx context.Context, id int64) (*models.FormDraft, error) {
	d, err := scanDraft(s.db.QueryRowContext(ctx, draftSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load draft %d: %w", id, err)
	}
	return d, nil
}

// Drafts lists a user's drafts, most recently touched first.
func (s *Service) Drafts(ctx context.Context, userID string) ([]models.FormDraft, error) {
	rows, err := s.db.QueryContext(ctx, draftSelect+` WHERE user_id = ?
ORDER BY COALESCE(updated_at, created_at) DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	out := []models.FormDraft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// DeleteDraft discards a draft. When submitted is set the submission is
// logged as a create (no object yet) or an update.
func (s *Service) DeleteDraft(ctx context.Context, id int64, submitted bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		d, err := scanDraft(tx.QueryRowContext(ctx, draftSelect+` WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("draft %d: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load draft %d: %w", id, err)
		}
		if submitted {
			action := ActionUpdate
			if d.ObjectID == nil {
				action = ActionCreate
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO form_submission_log
(template_id, object_type, object_id, user_id, action, submitted_at) VALUES (?, ?, ?, ?, ?, ?)`,
				d.TemplateID, d.ObjectType, d.ObjectID, d.UserID, action, s.stamp()); err != nil {
				return fmt.Errorf("log submission: %w", err)
			}
			s.log.Info("form submitted", "template_id", d.TemplateID, "object_type", d.ObjectType, "action", action)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM form_draft WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete draft %d: %w", id, err)
		}
		return nil
	})
}

// Stats summarizes templates, assignments, drafts and recent submissions.
func (s *Service) Stats(ctx context.Context) (*models.FormStats, error) {
	st := &models.FormStats{TemplatesByType: map[string]int{}, Submissions30Days: map[string]int{}}
	if err := s.countBy(ctx, st.TemplatesByType,
		`SELECT form_type, COUNT(*) FROM form_template WHERE is_active = 1 GROUP BY form_type`); err != nil {
		return nil, err
	}
	since := s.now().Add(-30 * 24 * time.Hour).Format(timeLayout)
	if err := s.countBy(ctx, st.Submissions30Days,
		`SELECT action, COUNT(*) FROM form_submission_log WHERE submitted_at >= ? GROUP BY action`, since); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM form_assignment WHERE is_active = 1`).Scan(&st.ActiveAssignments); err != nil {
		return nil, fmt.Errorf("count assignments: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_draft`).Scan(&st.PendingDrafts); err != nil {
		return nil, fmt.Errorf("count drafts: %w", err)
	}
	return st, nil
}

func (s *Service) countBy(ctx context.Context, dst map[string]int, q string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("form stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan form stats: %w", err)
		}
		dst[k] = n
	}
	return rows.Err()
}
