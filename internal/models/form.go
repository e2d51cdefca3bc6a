package models

import "time"

// Form types a template can serve.
const (
	FormInformationObject = "information_object"
	FormAccession         = "accession"
)

// FormTemplate is a configurable data-entry form.
type FormTemplate struct {
	ID          int64          `json:"id" yaml:"-"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	FormType    string         `json:"form_type" yaml:"form_type"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	IsDefault   bool           `json:"is_default" yaml:"-"`
	IsSystem    bool           `json:"is_system" yaml:"-"`
	IsActive    bool           `json:"is_active" yaml:"-"`
	Version     int            `json:"version" yaml:"-"`
	CreatedBy   string         `json:"created_by,omitempty" yaml:"-"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty" yaml:"-"`
	Fields      []FormField    `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FormField is one input on a form template.
type FormField struct {
	ID                 int64             `json:"id,omitempty" yaml:"-"`
	TemplateID         int64             `json:"template_id,omitempty" yaml:"-"`
	FieldName          string            `json:"field_name" yaml:"field_name" binding:"required"`
	FieldType          string            `json:"field_type" yaml:"field_type"`
	Label              string            `json:"label" yaml:"label" binding:"required"`
	LabelI18n          map[string]string `json:"label_i18n,omitempty" yaml:"label_i18n,omitempty"`
	HelpText           string            `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Placeholder        string            `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	DefaultValue       string            `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	ValidationRules    map[string]any    `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	Options            []any             `json:"options,omitempty" yaml:"options,omitempty"`
	AutocompleteSource string            `json:"autocomplete_source,omitempty" yaml:"autocomplete_source,omitempty"`
	SectionName        string            `json:"section_name,omitempty" yaml:"section_name,omitempty"`
	TabName            string            `json:"tab_name,omitempty" yaml:"tab_name,omitempty"`
	SortOrder          int               `json:"sort_order" yaml:"sort_order"`
	IsRepeatable       bool              `json:"is_repeatable" yaml:"is_repeatable"`
	IsRequired         bool              `json:"is_required" yaml:"is_required"`
	IsReadonly         bool              `json:"is_readonly" yaml:"is_readonly"`
	IsHidden           bool              `json:"is_hidden" yaml:"is_hidden"`
	ConditionalLogic   map[string]any    `json:"conditional_logic,omitempty" yaml:"conditional_logic,omitempty"`
	CSSClass           string            `json:"css_class,omitempty" yaml:"css_class,omitempty"`
	Width              string            `json:"width,omitempty" yaml:"width,omitempty"`
	Mappings           []FieldMapping    `json:"mappings,omitempty" yaml:"mappings,omitempty"`
}

// FieldMapping maps a form field onto a catalog column.
type FieldMapping struct {
	TargetTable    string `json:"target_table" yaml:"target_table"`
	TargetColumn   string `json:"target_column" yaml:"target_column"`
	TargetTypeID   *int64 `json:"target_type_id,omitempty" yaml:"target_type_id,omitempty"`
	Transformation string `json:"transformation,omitempty" yaml:"transformation,omitempty"`
	IsI18n         bool   `json:"is_i18n" yaml:"is_i18n"`
	Culture        string `json:"culture,omitempty" yaml:"culture,omitempty"`
}

// FormAssignment binds a template to a repository, level or collection.
type FormAssignment struct {
	ID                   int64     `json:"id"`
	TemplateID           int64     `json:"template_id" binding:"required"`
	TemplateName         string    `json:"template_name,omitempty"`
	RepositoryID         *int64    `json:"repository_id,omitempty"`
	LevelOfDescriptionID *int64    `json:"level_of_description_id,omitempty"`
	CollectionID         *int64    `json:"collection_id,omitempty"`
	Priority             int       `json:"priority"`
	InheritToChildren    bool      `json:"inherit_to_children"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
}

// FormDraft is an autosaved, unsubmitted form.
type FormDraft struct {
	ID         int64          `json:"id"`
	TemplateID int64          `json:"template_id"`
	ObjectType string         `json:"object_type"`
	ObjectID   *int64         `json:"object_id,omitempty"`
	UserID     string         `json:"user_id"`
	FormData   map[string]any `json:"form_data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
}

// ResolveRequest is the context a template is resolved for.
type ResolveRequest struct {
	FormType     string `json:"form_type" binding:"required"`
	RepositoryID *int64 `json:"repository_id,omitempty"`
	LevelID      *int64 `json:"level_id,omitempty"`
	ParentID     *int64 `json:"parent_id,omitempty"`
}

// FormStats summarizes forms usage.
type FormStats struct {
	TemplatesByType   map[string]int `json:"templates_by_type"`
	ActiveAssignments int            `json:"active_assignments"`
	PendingDrafts     int            `json:"pending_drafts"`
	Submissions30Days map[string]int `json:"submissions_30_days"`
}
