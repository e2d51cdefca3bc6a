package forms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

var fieldTypes = map[string]bool{
	"text": true, "textarea": true, "date": true, "date_range": true,
	"select": true, "checkbox": true, "autocomplete": true, "file": true,
	"heading": true, "divider": true, "actor": true, "taxonomy": true, "atom": true,
}

const fieldSelect = `SELECT id, template_id, field_name, field_type, label, label_i18n,
	COALESCE(help_text, ''), COALESCE(placeholder, ''), COALESCE(default_value, ''),
	validation_rules, options_json, COALESCE(autocomplete_source, ''),
	COALESCE(section_name, ''), COALESCE(tab_name, ''), sort_order,
	is_repeatable, is_required, is_readonly, is_hidden, conditional_logic,
	COALESCE(css_class, ''), width
FROM form_field`

func scanField(row interface{ Scan(...any) error }) (*models.FormField, error) {
	var (
		f                                models.FormField
		i18n, rules, options, conditions sql.NullString
	)
	err := row.Scan(&f.ID, &f.TemplateID, &f.FieldName, &f.FieldType, &f.Label, &i18n,
		&f.HelpText, &f.Placeholder, &f.DefaultValue, &rules, &options, &f.AutocompleteSource,
		&f.SectionName, &f.TabName, &f.SortOrder,
		&f.IsRepeatable, &f.IsRequired, &f.IsReadonly, &f.IsHidden, &conditions,
		&f.CSSClass, &f.Width)
	if err != nil {
		return nil, err
	}
	for _, col := range []struct {
		v   sql.NullString
		dst any
	}{{i18n, &f.LabelI18n}, {rules, &f.ValidationRules}, {options, &f.Options}, {conditions, &f.ConditionalLogic}} {
		if err := decodeJSON(col.v, col.dst); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// fields loads a template's fields in display order with their mappings.
func (s *Service) fields(ctx context.Context, q execer, templateID int64) ([]models.FormField, error) {
	rows, err := q.QueryContext(ctx, fieldSelect+` WHERE template_id = ? ORDER BY sort_order, id`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	var out []models.FormField
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out = append(out, *f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Mappings, err = s.mappings(ctx, q, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) mappings(ctx context.Context, q execer, fieldID int64) ([]models.FieldMapping, error) {
	rows, err := q.QueryContext(ctx, `SELECT target_table, target_column, target_type_id,
	COALESCE(transformation, ''), is_i18n, COALESCE(culture, '')
FROM form_field_mapping WHERE field_id = ? ORDER BY id`, fieldID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()
	var out []models.FieldMapping
	for rows.Next() {
		var (
			m      models.FieldMapping
			typeID sql.NullInt64
		)
		if err := rows.Scan(&m.TargetTable, &m.TargetColumn, &typeID, &m.Transformation, &m.IsI18n, &m.Culture); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.TargetTypeID = int64Ptr(typeID)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Service) field(ctx context.Context, q execer, id int64) (*models.FormField, error) {
	f, err := scanField(q.QueryRowContext(ctx, fieldSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("field %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load field %d: %w", id, err)
	}
	if f.Mappings, err = s.mappings(ctx, q, id); err != nil {
		return nil, err
	}
	return f, nil
}

// normalizeField fills defaults and rejects fields that cannot be rendered.
func normalizeField(f *models.FormField) error {
	f.FieldName = strings.TrimSpace(f.FieldName)
	f.Label = strings.TrimSpace(f.Label)
	if f.FieldName == "" || f.Label == "" {
		return fmt.Errorf("%w: field_name and label are required", models.ErrValidation)
	}
	if f.FieldType == "" {
		f.FieldType = "text"
	}
	if !fieldTypes[f.FieldType] {
		return fmt.Errorf("%w: unknown field type %q", models.ErrValidation, f.FieldType)
	}
	if f.Width == "" {
		f.Width = "full"
	}
	for _, m := range f.Mappings {
		if m.TargetTable == "" || m.TargetColumn == "" {
			return fmt.Errorf("%w: mapping for %s needs target_table and target_column", models.ErrValidation, f.FieldName)
		}
	}
	return nil
}

// insertField stores f on a template. A zero sort order appends the field.
func (s *Service) insertField(ctx context.Context, q execer, templateID int64, f models.FormField) (int64, error) {
	if err := normalizeField(&f); err != nil {
		return 0, err
	}
	if f.SortOrder == 0 {
		if err := q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sort_order), 0) + 1 FROM form_field WHERE template_id = ?`,
			templateID).Scan(&f.SortOrder); err != nil {
			return 0, fmt.Errorf("next sort order: %w", err)
		}
	}
	i18n, err := encodeJSON(f.LabelI18n, emptyMap)
	if err != nil {
		return 0, err
	}
	rules, err := encodeJSON(f.ValidationRules, emptyMap)
	if err != nil {
		return 0, err
	}
	options, err := encodeJSON(f.Options, emptySlice)
	if err != nil {
		return 0, err
	}
	conditions, err := encodeJSON(f.ConditionalLogic, emptyMap)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO form_field
(template_id, field_name, field_type, label, label_i18n, help_text, placeholder, default_value,
 validation_rules, options_json, autocomplete_source, section_name, tab_name, sort_order,
 is_repeatable, is_required, is_readonly, is_hidden, conditional_logic, css_class, width, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		templateID, f.FieldName, f.FieldType, f.Label, i18n, nullString(f.HelpText),
		nullString(f.Placeholder), nullString(f.DefaultValue), rules, options,
		nullString(f.AutocompleteSource), nullString(f.SectionName), nullString(f.TabName), f.SortOrder,
		f.IsRepeatable, f.IsRequired, f.IsReadonly, f.IsHidden, conditions,
		nullString(f.CSSClass), f.Width, s.stamp())
	if err != nil {
		return 0, fmt.Errorf("insert field: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := s.insertMappings(ctx, q, id, f.Mappings); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) insertMappings(ctx context.Context, q execer, fieldID int64, ms []models.FieldMapping) error {
	for _, m := range ms {
		if _, err := q.ExecContext(ctx, `INSERT INTO form_field_mapping
(field_id, target_table, target_column, target_type_id, transformation, is_i18n, culture)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fieldID, m.TargetTable, m.TargetColumn, m.TargetTypeID,
			nullString(m.Transformation), m.IsI18n, nullString(m.Culture)); err != nil {
			return fmt.Errorf("insert mapping: %w", err)
		}
	}
	return nil
}

// touch bumps a template's version after a field change.
func (s *Service) touch(ctx context.Context, q execer, templateID int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE form_template SET version = version + 1, updated_at = ? WHERE id = ?`, s.stamp(), templateID)
	if err != nil {
		return fmt.Errorf("touch template %d: %w", templateID, err)
	}
	return nil
}

// AddField appends a field to an editable template.
func (s *Service) AddField(ctx context.Context, templateID int64, f models.FormField) (*models.FormField, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.editable(ctx, tx, templateID); err != nil {
			return err
		}
		var err error
		if id, err = s.insertField(ctx, tx, templateID, f); err != nil {
			return err
		}
		return s.touch(ctx, tx, templateID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("form field added", "template_id", templateID, "field_id", id, "field_name", f.FieldName)
	return s.field(ctx, s.db, id)
}

// UpdateField replaces a field's definition and mappings. The sort order is
// kept unless f sets one.
func (s *Service) UpdateField(ctx context.Context, id int64, f models.FormField) (*models.FormField, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.field(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.editable(ctx, tx, cur.TemplateID); err != nil {
			return err
		}
		if err := normalizeField(&f); err != nil {
			return err
		}
		if f.SortOrder == 0 {
			f.SortOrder = cur.SortOrder
		}
		i18n, err := encodeJSON(f.LabelI18n, emptyMap)
		if err != nil {
			return err
		}
		rules, err := encodeJSON(f.ValidationRules, emptyMap)
		if err != nil {
			return err
		}
		options, err := encodeJSON(f.Options, emptySlice)
		if err != nil {
			return err
		}
		conditions, err := encodeJSON(f.ConditionalLogic, emptyMap)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE form_field SET
field_name = ?, field_type = ?, label = ?, label_i18n = ?, help_text = ?, placeholder = ?,
default_value = ?, validation_rules = ?, options_json = ?, autocomplete_source = ?,
section_name = ?, tab_name = ?, sort_order = ?, is_repeatable = ?, is_required = ?,
is_readonly = ?, is_hidden = ?, conditional_logic = ?, css_class = ?, width = ?, updated_at = ?
WHERE id = ?`,
			f.FieldName, f.FieldType, f.Label, i18n, nullString(f.HelpText), nullString(f.Placeholder),
			nullString(f.DefaultValue), rules, options, nullString(f.AutocompleteSource),
			nullString(f.SectionName), nullString(f.TabName), f.SortOrder, f.IsRepeatable, f.IsRequired,
			f.IsReadonly, f.IsHidden, conditions, nullString(f.CSSClass), f.Width, s.stamp(), id); err != nil {
			return fmt.Errorf("update field %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM form_field_mapping WHERE field_id = ?`, id); err != nil {
			return fmt.Errorf("clear mappings: %w", err)
		}
		if err := s.insertMappings(ctx, tx, id, f.Mappings); err != nil {
			return err
		}
		return s.touch(ctx, tx, cur.TemplateID)
	})
	if err != nil {
		return nil, err
	}
	return s.field(ctx, s.db, id)
}

// DeleteField removes a field and its mappings.
func (s *Service) DeleteField(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.field(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.editable(ctx, tx, cur.TemplateID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM form_field_mapping WHERE field_id = ?`, id); err != nil {
			return fmt.Errorf("delete mappings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM form_field WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete field %d: %w", id, err)
		}
		return s.touch(ctx, tx, cur.TemplateID)
	})
}

// ReorderFields sets the sort order of the given fields to their position
// in ids, starting at 1. Ids that belong to another template are ignored.
func (s *Service) ReorderFields(ctx context.Context, templateID int64, ids []int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.editable(ctx, tx, templateID); err != nil {
			return err
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE form_field SET sort_order = ? WHERE id = ? AND template_id = ?`,
				i+1, id, templateID); err != nil {
				return fmt.Errorf("reorder field %d: %w", id, err)
			}
		}
		return s.touch(ctx, tx, templateID)
	})
}
