// Package catalog is the archival catalog store: descriptions, authority
// records, taxonomies, events and digital objects, kept in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raphaelgruber/atom-ai/internal/metrics"
)

// Well-known catalog ids.
const (
	TaxonomyLevelOfDescription int64 = 34
	TaxonomySubject            int64 = 35
	TaxonomyPlace              int64 = 42

	// RelationNameAccessPoint links a description to an actor.
	RelationNameAccessPoint int64 = 161
	// EventCreation is the event type of creation dates.
	EventCreation int64 = 111

	ActorCorporateBody int64 = 131
	ActorPerson        int64 = 132
)

// Catalog wraps the SQLite catalog database.
type Catalog struct {
	db      *sql.DB
	culture string
	log     *slog.Logger
	metrics *metrics.Collector
}

// WithMetrics records the duration of catalog operations on m.
func (c *Catalog) WithMetrics(m *metrics.Collector) *Catalog {
	c.metrics = m
	return c
}

func (c *Catalog) observe(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordTiming(metrics.OpCatalogQuery, time.Since(start))
	}
}

// Open opens (creating when absent) the catalog at path.
func Open(ctx context.Context, path string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// SQLite allows one writer; a single connection serializes writes instead
	// of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	log.Info("catalog opened", "path", path)
	return &Catalog{db: db, culture: "en", log: log}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// DB exposes the handle for packages that keep their own tables in the catalog.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// Culture is the source culture descriptions are read and written in.
func (c *Catalog) Culture() string {
	return c.culture
}

// InitSchema creates the catalog tables. withOCR also creates the optional
// OCR text table; installs without it report no OCR text.
func (c *Catalog) InitSchema(ctx context.Context, withOCR bool) error {
	if _, err := c.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init catalog schema: %w", err)
	}
	if withOCR {
		if _, err := c.db.ExecContext(ctx, ocrSchemaSQL); err != nil {
			return fmt.Errorf("init ocr schema: %w", err)
		}
	}
	c.log.Debug("catalog schema initialized", "ocr", withOCR)
	return nil
}

// HasTable reports whether an optional table is installed.
func (c *Catalog) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS repository (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS term (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	taxonomy_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_term_taxonomy_name ON term (taxonomy_id, name);

CREATE TABLE IF NOT EXISTS information_object (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER,
	lft INTEGER NOT NULL DEFAULT 0,
	rgt INTEGER NOT NULL DEFAULT 0,
	repository_id INTEGER,
	level_of_description_id INTEGER,
	identifier TEXT,
	glam_type TEXT NOT NULL DEFAULT 'archive',
	source_culture TEXT NOT NULL DEFAULT 'en',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_io_parent ON information_object (parent_id);
CREATE INDEX IF NOT EXISTS idx_io_repository ON information_object (repository_id);

CREATE TABLE IF NOT EXISTS information_object_i18n (
	id INTEGER NOT NULL,
	culture TEXT NOT NULL,
	title TEXT,
	scope_and_content TEXT,
	archival_history TEXT,
	extent_and_medium TEXT,
	arrangement TEXT,
	physical_characteristics TEXT,
	acquisition TEXT,
	PRIMARY KEY (id, culture)
);

CREATE TABLE IF NOT EXISTS actor (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	authorized_form_of_name TEXT NOT NULL,
	entity_type_id INTEGER,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_actor_name ON actor (authorized_form_of_name);

CREATE TABLE IF NOT EXISTS slug (
	object_id INTEGER NOT NULL,
	object_type TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS relation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id INTEGER NOT NULL,
	object_id INTEGER NOT NULL,
	type_id INTEGER NOT NULL,
	UNIQUE (subject_id, object_id, type_id)
);

CREATE TABLE IF NOT EXISTS object_term_relation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_id INTEGER NOT NULL,
	term_id INTEGER NOT NULL,
	UNIQUE (object_id, term_id)
);

CREATE TABLE IF NOT EXISTS event (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_id INTEGER NOT NULL,
	type_id INTEGER NOT NULL,
	actor_id INTEGER,
	start_date TEXT,
	end_date TEXT,
	date_display TEXT,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_event_object ON event (object_id, type_id);

CREATE TABLE IF NOT EXISTS digital_object (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	mime_type TEXT,
	byte_size INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_do_object ON digital_object (object_id);
`

const ocrSchemaSQL = `
CREATE TABLE IF NOT EXISTS ocr_text (
	object_id INTEGER PRIMARY KEY,
	content TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
