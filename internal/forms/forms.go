// Package forms manages configurable data-entry forms: templates and their
// fields, assignments that pick a template for a catalog context, autosaved
// drafts, and template export and import. Forms live in the catalog database
// so assignments can be matched against the description hierarchy.
package forms

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Service is the forms store and its business rules.
type Service struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// New creates a forms service on the catalog database.
func New(db *sql.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// InitSchema creates the forms tables.
func (s *Service) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init forms schema: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS form_template (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	form_type TEXT NOT NULL DEFAULT 'information_object',
	config_json TEXT,
	is_default INTEGER NOT NULL DEFAULT 0,
	is_system INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	version INTEGER NOT NULL DEFAULT 1,
	created_by TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_form_template_type ON form_template (form_type, is_active);

CREATE TABLE IF NOT EXISTS form_field (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id INTEGER NOT NULL REFERENCES form_template (id) ON DELETE CASCADE,
	field_name TEXT NOT NULL,
	field_type TEXT NOT NULL DEFAULT 'text',
	label TEXT NOT NULL,
	label_i18n TEXT,
	help_text TEXT,
	placeholder TEXT,
	default_value TEXT,
	validation_rules TEXT,
	options_json TEXT,
	autocomplete_source TEXT,
	section_name TEXT,
	tab_name TEXT,
	sort_order INTEGER NOT NULL DEFAULT 0,
	is_repeatable INTEGER NOT NULL DEFAULT 0,
	is_required INTEGER NOT NULL DEFAULT 0,
	is_readonly INTEGER NOT NULL DEFAULT 0,
	is_hidden INTEGER NOT NULL DEFAULT 0,
	conditional_logic TEXT,
	css_class TEXT,
	width TEXT NOT NULL DEFAULT 'full',
	created_at TEXT NOT NULL,
	updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_form_field_template ON form_field (template_id, sort_order);

CREATE TABLE IF NOT EXISTS form_field_mapping (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	field_id INTEGER NOT NULL REFERENCES form_field (id) ON DELETE CASCADE,
	target_table TEXT NOT NULL,
	target_column TEXT NOT NULL,
	target_type_id INTEGER,
	transformation TEXT,
	is_i18n INTEGER NOT NULL DEFAULT 0,
	culture TEXT
);

CREATE TABLE IF NOT EXISTS form_assignment (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id INTEGER NOT NULL REFERENCES form_template (id) ON DELETE CASCADE,
	repository_id INTEGER,
	level_of_description_id INTEGER,
	collection_id INTEGER,
	priority INTEGER NOT NULL DEFAULT 100,
	inherit_to_children INTEGER NOT NULL DEFAULT 1,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS form_draft (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id INTEGER NOT NULL,
	object_type TEXT NOT NULL,
	object_id INTEGER,
	user_id TEXT NOT NULL,
	form_data TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_form_draft_key ON form_draft (template_id, object_type, object_id, user_id);

CREATE TABLE IF NOT EXISTS form_submission_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id INTEGER NOT NULL,
	object_type TEXT NOT NULL,
	object_id INTEGER,
	user_id TEXT,
	action TEXT NOT NULL,
	submitted_at TEXT NOT NULL
);
`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) stamp() string {
	return s.now().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

// encodeJSON stores v as JSON text, NULL when v is empty.
func encodeJSON[T any](v T, empty func(T) bool) (any, error) {
	if empty(v) {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(v sql.NullString, dst any) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v.String), dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func emptyMap[K comparable, V any](m map[K]V) bool { return len(m) == 0 }
func emptySlice[T any](s []T) bool                 { return len(s) == 0 }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
