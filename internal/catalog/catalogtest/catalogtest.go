// Package catalogtest builds throwaway SQLite catalogs for tests.
package catalogtest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
)

// New opens an empty catalog in t.TempDir with the OCR table installed.
func New(t testing.TB) *catalog.Catalog {
	t.Helper()
	return NewWithOCR(t, true)
}

// NewWithOCR opens an empty catalog, installing the OCR table only when withOCR is set.
func NewWithOCR(t testing.TB, withOCR bool) *catalog.Catalog {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := catalog.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema(ctx, withOCR))
	return c
}

// Object describes a fixture description.
type Object struct {
	ID           int64
	ParentID     int64
	Lft, Rgt     int64
	RepositoryID int64
	LevelID      int64
	Identifier   string
	GlamType     string
	Title        string
	Scope        string
	History      string
	Extent       string
	Arrangement  string
}

// AddObject inserts a description and returns its id.
func AddObject(t testing.TB, c *catalog.Catalog, o Object) int64 {
	t.Helper()
	if o.GlamType == "" {
		o.GlamType = "archive"
	}
	db := c.DB()
	res, err := db.Exec(`INSERT INTO information_object
(id, parent_id, lft, rgt, repository_id, level_of_description_id, identifier, glam_type)
VALUES (NULLIF(?, 0), NULLIF(?, 0), ?, ?, NULLIF(?, 0), NULLIF(?, 0), ?, ?)`,
		o.ID, o.ParentID, o.Lft, o.Rgt, o.RepositoryID, o.LevelID, o.Identifier, o.GlamType)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO information_object_i18n
(id, culture, title, scope_and_content, archival_history, extent_and_medium, arrangement)
VALUES (?, 'en', ?, ?, ?, ?, ?)`, id, o.Title, o.Scope, o.History, o.Extent, o.Arrangement)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO slug (object_id, object_type, slug) VALUES (?, 'information_object', ?)`,
		id, "object-"+strconv.FormatInt(id, 10))
	require.NoError(t, err)
	return id
}

// AddRepository inserts a repository and returns its id.
func AddRepository(t testing.TB, c *catalog.Catalog, name string) int64 {
	t.Helper()
	return insert(t, c, `INSERT INTO repository (name) VALUES (?)`, name)
}

// AddTerm inserts a taxonomy term and returns its id.
func AddTerm(t testing.TB, c *catalog.Catalog, taxonomyID int64, name string) int64 {
	t.Helper()
	return insert(t, c, `INSERT INTO term (taxonomy_id, name) VALUES (?, ?)`, taxonomyID, name)
}

// AddActor inserts an authority record and returns its id.
func AddActor(t testing.TB, c *catalog.Catalog, name string) int64 {
	t.Helper()
	return insert(t, c, `INSERT INTO actor (authorized_form_of_name, entity_type_id) VALUES (?, ?)`,
		name, catalog.ActorPerson)
}

// AddCreation inserts a creation event.
func AddCreation(t testing.TB, c *catalog.Catalog, objectID, actorID int64, display, start, end string) int64 {
	t.Helper()
	return insert(t, c, `INSERT INTO event (object_id, type_id, actor_id, start_date, end_date, date_display)
VALUES (?, ?, NULLIF(?, 0), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))`,
		objectID, catalog.EventCreation, actorID, start, end, display)
}

// AddDigitalObject attaches a file to a description.
func AddDigitalObject(t testing.TB, c *catalog.Catalog, objectID int64, name, path, mime string) int64 {
	t.Helper()
	return insert(t, c, `INSERT INTO digital_object (object_id, name, path, mime_type) VALUES (?, ?, ?, ?)`,
		objectID, name, path, mime)
}

func insert(t testing.TB, c *catalog.Catalog, q string, args ...any) int64 {
	t.Helper()
	res, err := c.DB().Exec(q, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}
