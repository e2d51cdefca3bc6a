package forms

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// exportDoc is the portable form of a template.
type exportDoc struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	FormType    string             `json:"form_type" yaml:"form_type"`
	Config      map[string]any     `json:"config,omitempty" yaml:"config,omitempty"`
	Fields      []models.FormField `json:"fields" yaml:"fields"`
}

// Export serializes a template with its fields and mappings. It returns the
// document and its content type.
func (s *Service) Export(ctx context.Context, id int64, format string) ([]byte, string, error) {
	t, err := s.Template(ctx, id)
	if err != nil {
		return nil, "", err
	}
	doc := exportDoc{
		Name:        t.Name,
		Description: t.Description,
		FormType:    t.FormType,
		Config:      t.Config,
		Fields:      make([]models.FormField, len(t.Fields)),
	}
	for i, f := range t.Fields {
		f.ID, f.TemplateID = 0, 0
		doc.Fields[i] = f
	}
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("export template %d: %w", id, err)
		}
		return b, "application/json", nil
	case FormatYAML, "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, "", fmt.Errorf("export template %d: %w", id, err)
		}
		if err := enc.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "application/x-yaml", nil
	default:
		return nil, "", fmt.Errorf("%w: unknown export format %q", models.ErrValidation, format)
	}
}

// Import creates a template from an exported document. JSON is detected by a
// leading brace, anything else is read as YAML. A non-empty name overrides
// the document's name.
func (s *Service) Import(ctx context.Context, data []byte, name, createdBy string) (*models.FormTemplate, error) {
	var doc exportDoc
	trimmed := bytes.TrimSpace(data)
	var err error
	if bytes.HasPrefix(trimmed, []byte("{")) {
		err = json.Unmarshal(trimmed, &doc)
	} else {
		err = yaml.Unmarshal(trimmed, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable template document: %v", models.ErrValidation, err)
	}
	if name = strings.TrimSpace(name); name != "" {
		doc.Name = name
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("%w: template name is required", models.ErrValidation)
	}

	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		id, err = s.insertTemplate(ctx, tx, TemplateInput{
			Name:        doc.Name,
			Description: doc.Description,
			FormType:    doc.FormType,
			Config:      doc.Config,
			CreatedBy:   createdBy,
		}, false)
		if err != nil {
			return err
		}
		for i, f := range doc.Fields {
			if _, err := s.insertField(ctx, tx, id, f); err != nil {
				return fmt.Errorf("field %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("form template imported", "template_id", id, "name", doc.Name, "fields", len(doc.Fields))
	return s.Template(ctx, id)
}
