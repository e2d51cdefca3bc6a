package forms

import (
	"context"
	"database/sql"
	"fmt"

	"gopkg.in/yaml.v3"
)

// libraryYAML holds the built-in system templates. They are installed once
// and cannot be edited, only cloned.
const libraryYAML = `
- name: ISAD-G Minimal
  description: Minimal ISAD(G) compliant form with essential fields only
  form_type: information_object
  default: true
  fields:
    - {field_name: identifier, field_type: text, label: Reference code, is_required: true, section_name: Identity,
       mappings: [{target_table: information_object, target_column: identifier}]}
    - {field_name: title, field_type: text, label: Title, is_required: true, section_name: Identity,
       mappings: [{target_table: information_object_i18n, target_column: title, is_i18n: true}]}
    - {field_name: dates, field_type: date_range, label: Dates, section_name: Identity,
       mappings: [{target_table: event, target_column: date_display, target_type_id: 111}]}
    - {field_name: level_of_description, field_type: taxonomy, label: Level of description, is_required: true,
       autocomplete_source: "taxonomy:34", section_name: Identity,
       mappings: [{target_table: information_object, target_column: level_of_description_id}]}
    - {field_name: extent_and_medium, field_type: textarea, label: Extent and medium, section_name: Identity,
       mappings: [{target_table: information_object_i18n, target_column: extent_and_medium, is_i18n: true}]}
    - {field_name: creator, field_type: actor, label: Name of creator, section_name: Context,
       mappings: [{target_table: event, target_column: actor_id, target_type_id: 111}]}
    - {field_name: scope_and_content, field_type: textarea, label: Scope and content, section_name: Content and structure,
       mappings: [{target_table: information_object_i18n, target_column: scope_and_content, is_i18n: true}]}
    - {field_name: access_conditions, field_type: textarea, label: Conditions governing access, section_name: Conditions of access and use,
       mappings: [{target_table: information_object_i18n, target_column: access_conditions, is_i18n: true}]}
- name: Accession Standard
  description: Standard accession registration form
  form_type: accession
  default: true
  fields:
    - {field_name: identifier, field_type: text, label: Accession number, is_required: true,
       mappings: [{target_table: accession, target_column: identifier}]}
    - {field_name: date, field_type: date, label: Acquisition date, is_required: true,
       mappings: [{target_table: accession, target_column: date}]}
    - {field_name: source_of_acquisition, field_type: textarea, label: Immediate source of acquisition,
       mappings: [{target_table: accession_i18n, target_column: source_of_acquisition, is_i18n: true}]}
    - {field_name: title, field_type: text, label: Title,
       mappings: [{target_table: accession_i18n, target_column: title, is_i18n: true}]}
    - {field_name: received_extent_units, field_type: text, label: Received extent,
       mappings: [{target_table: accession_i18n, target_column: received_extent_units, is_i18n: true}]}
`

type libraryTemplate struct {
	exportDoc `yaml:",inline"`
	Default   bool `yaml:"default"`
}

// InstallLibrary adds the built-in system templates that are not installed
// yet and returns how many were added.
func (s *Service) InstallLibrary(ctx context.Context) (int, error) {
	var lib []libraryTemplate
	if err := yaml.Unmarshal([]byte(libraryYAML), &lib); err != nil {
		return 0, fmt.Errorf("parse template library: %w", err)
	}
	installed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range lib {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_template WHERE name = ? AND is_system = 1`,
				t.Name).Scan(&n); err != nil {
				return fmt.Errorf("check %s: %w", t.Name, err)
			}
			if n > 0 {
				continue
			}
			id, err := s.insertTemplate(ctx, tx, TemplateInput{
				Name:        t.Name,
				Description: t.Description,
				FormType:    t.FormType,
				Config:      t.Config,
				IsDefault:   t.Default,
				CreatedBy:   "system",
			}, true)
			if err != nil {
				return err
			}
			for _, f := range t.Fields {
				if _, err := s.insertField(ctx, tx, id, f); err != nil {
					return fmt.Errorf("%s: %w", t.Name, err)
				}
			}
			installed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if installed > 0 {
		s.log.Info("form template library installed", "templates", installed)
	}
	return installed, nil
}
