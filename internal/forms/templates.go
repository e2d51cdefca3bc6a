package forms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// TemplateInput creates a template.
type TemplateInput struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description,omitempty"`
	FormType    string         `json:"form_type,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	IsDefault   bool           `json:"is_default,omitempty"`
	CreatedBy   string         `json:"-"`
}

// TemplateUpdate changes the fields that are set.
type TemplateUpdate struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	IsDefault   *bool          `json:"is_default,omitempty"`
	IsActive    *bool          `json:"is_active,omitempty"`
}

var formTypes = []string{models.FormInformationObject, models.FormAccession}

func validFormType(t string) bool {
	for _, ft := range formTypes {
		if ft == t {
			return true
		}
	}
	return false
}

const templateSelect = `SELECT id, name, COALESCE(description, ''), form_type, config_json,
	is_default, is_system, is_active, version, COALESCE(created_by, ''), created_at, updated_at
FROM form_template`

func scanTemplate(row interface{ Scan(...any) error }) (*models.FormTemplate, error) {
	var (
		t                   models.FormTemplate
		config, updated     sql.NullString
		created             string
		def, system, active bool
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.FormType, &config,
		&def, &system, &active, &t.Version, &t.CreatedBy, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.IsDefault, t.IsSystem, t.IsActive = def, system, active
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTimePtr(updated)
	if err := decodeJSON(config, &t.Config); err != nil {
		return nil, err
	}
	return &t, nil
}

// Templates lists active templates by name, optionally of one form type.
func (s *Service) Templates(ctx context.Context, formType string) ([]models.FormTemplate, error) {
	q := templateSelect + ` WHERE is_active = 1`
	var args []any
	if formType != "" {
		q += ` AND form_type = ?`
		args = append(args, formType)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	out := []models.FormTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Template loads a template with its fields and their mappings.
func (s *Service) Template(ctx context.Context, id int64) (*models.FormTemplate, error) {
	t, err := s.templateRow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if t.Fields, err = s.fields(ctx, s.db, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) templateRow(ctx context.Context, q execer, id int64) (*models.FormTemplate, error) {
	t, err := scanTemplate(q.QueryRowContext(ctx, templateSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", id, err)
	}
	return t, nil
}

// CreateTemplate stores a new, empty template.
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (*models.FormTemplate, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertTemplate(ctx, tx, in, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("form template created", "template_id", id, "name", in.Name)
	return s.Template(ctx, id)
}

func (s *Service) insertTemplate(ctx context.Context, q execer, in TemplateInput, system bool) (int64, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return 0, fmt.Errorf("%w: template name is required", models.ErrValidation)
	}
	if in.FormType == "" {
		in.FormType = models.FormInformationObject
	}
	if !validFormType(in.FormType) {
		return 0, fmt.Errorf("%w: unknown form type %q", models.ErrValidation, in.FormType)
	}
	config, err := encodeJSON(in.Config, emptyMap)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO form_template
(name, description, form_type, config_json, is_default, is_system, created_by, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, nullString(in.Description), in.FormType, config, in.IsDefault, system,
		nullString(in.CreatedBy), s.stamp())
	if err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}
	return res.LastInsertId()
}

// editable loads a template and refuses system templates.
func (s *Service) editable(ctx context.Context, q execer, id int64) (*models.FormTemplate, error) {
	t, err := s.templateRow(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if t.IsSystem {
		return nil, fmt.Errorf("template %d: %w", id, models.ErrReadOnly)
	}
	return t, nil
}

// UpdateTemplate applies the set fields and bumps the version. System
// templates are read-only.
func (s *Service) UpdateTemplate(ctx context.Context, id int64, u TemplateUpdate) (*models.FormTemplate, error) {
	t, err := s.editable(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	sets := []string{"updated_at = ?", "version = ?"}
	args := []any{s.stamp(), t.Version + 1}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: template name is required", models.ErrValidation)
		}
		sets, args = append(sets, "name = ?"), append(args, name)
	}
	if u.Description != nil {
		sets, args = append(sets, "description = ?"), append(args, nullString(*u.Description))
	}
	if u.Config != nil {
		config, err := encodeJSON(u.Config, emptyMap)
		if err != nil {
			return nil, err
		}
		sets, args = append(sets, "config_json = ?"), append(args, config)
	}
	if u.IsDefault != nil {
		sets, args = append(sets, "is_default = ?"), append(args, *u.IsDefault)
	}
	if u.IsActive != nil {
		sets, args = append(sets, "is_active = ?"), append(args, *u.IsActive)
	}
	args = append(args, id)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE form_template SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update template %d: %w", id, err)
	}
	s.log.Info("form template updated", "template_id", id, "version", t.Version+1)
	return s.Template(ctx, id)
}

// DeleteTemplate removes a template with its fields, mappings and
// assignments. System templates are read-only.
func (s *Service) DeleteTemplate(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.editable(ctx, tx, id); err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM form_field_mapping WHERE field_id IN (SELECT id FROM form_field WHERE template_id = ?)`,
			`DELETE FROM form_field WHERE template_id = ?`,
			`DELETE FROM form_assignment WHERE template_id = ?`,
			`DELETE FROM form_template WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("delete template %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("form template deleted", "template_id", id)
	return nil
}

// CloneTemplate copies a template with its fields and mappings under a new
// name. The copy is never a default or system template.
func (s *Service) CloneTemplate(ctx context.Context, id int64, name, createdBy string) (*models.FormTemplate, error) {
	src, err := s.Template(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = src.Name + " (copy)"
	}
	var newID int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		newID, err = s.insertTemplate(ctx, tx, TemplateInput{
			Name:        name,
			Description: src.Description,
			FormType:    src.FormType,
			Config:      src.Config,
			CreatedBy:   createdBy,
		}, false)
		if err != nil {
			return err
		}
		for _, f := range src.Fields {
			if _, err := s.insertField(ctx, tx, newID, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("form template cloned", "source_id", id, "template_id", newID, "fields", len(src.Fields))
	return s.Template(ctx, newID)
}
