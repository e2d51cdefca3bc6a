package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

const partialMatchLimit = 5

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MatchActors finds authority records named exactly value, and up to five
// others whose name contains it.
func (c *Catalog) MatchActors(ctx context.Context, value string) (exact, partial []models.Match, err error) {
	defer c.observe(time.Now())
	exact, err = c.matches(ctx,
		`SELECT id, authorized_form_of_name FROM actor WHERE authorized_form_of_name = ? ORDER BY id`, value)
	if err != nil {
		return nil, nil, err
	}
	partial, err = c.matches(ctx,
		`SELECT id, authorized_form_of_name FROM actor
WHERE authorized_form_of_name LIKE '%' || ? || '%' AND authorized_form_of_name <> ?
ORDER BY id LIMIT ?`, value, value, partialMatchLimit)
	return exact, partial, err
}

// MatchTerms finds terms of a taxonomy named exactly value, and up to five
// others whose name contains it.
func (c *Catalog) MatchTerms(ctx context.Context, taxonomyID int64, value string) (exact, partial []models.Match, err error) {
	defer c.observe(time.Now())
	exact, err = c.matches(ctx,
		`SELECT id, name FROM term WHERE taxonomy_id = ? AND name = ? ORDER BY id`, taxonomyID, value)
	if err != nil {
		return nil, nil, err
	}
	partial, err = c.matches(ctx,
		`SELECT id, name FROM term
WHERE taxonomy_id = ? AND name LIKE '%' || ? || '%' AND name <> ?
ORDER BY id LIMIT ?`, taxonomyID, value, value, partialMatchLimit)
	return exact, partial, err
}

func (c *Catalog) matches(ctx context.Context, q string, args ...any) ([]models.Match, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("match query: %w", err)
	}
	defer rows.Close()
	out := []models.Match{}
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindOrCreateActor returns the actor named exactly name, creating it (with a
// unique slug) when absent.
func (c *Catalog) FindOrCreateActor(ctx context.Context, name string, entityTypeID int64) (int64, bool, error) {
	defer c.observe(time.Now())
	return c.findOrCreate(ctx, "actor",
		`SELECT id FROM actor WHERE authorized_form_of_name = ? ORDER BY id LIMIT 1`, []any{name},
		`INSERT INTO actor (authorized_form_of_name, entity_type_id) VALUES (?, ?)`, []any{name, entityTypeID},
		name)
}

// FindOrCreateTerm returns the term of taxonomyID named exactly name,
// creating it (with a unique slug) when absent.
func (c *Catalog) FindOrCreateTerm(ctx context.Context, taxonomyID int64, name string) (int64, bool, error) {
	defer c.observe(time.Now())
	return c.findOrCreate(ctx, "term",
		`SELECT id FROM term WHERE taxonomy_id = ? AND name = ? ORDER BY id LIMIT 1`, []any{taxonomyID, name},
		`INSERT INTO term (taxonomy_id, name) VALUES (?, ?)`, []any{taxonomyID, name},
		name)
}

func (c *Catalog) findOrCreate(ctx context.Context, objectType, findSQL string, findArgs []any,
	insertSQL string, insertArgs []any, name string) (id int64, created bool, err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, findSQL, findArgs...).Scan(&id)
	switch {
	case err == nil:
		return id, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("find %s: %w", objectType, err)
	}

	res, err := tx.ExecContext(ctx, insertSQL, insertArgs...)
	if err != nil {
		return 0, false, fmt.Errorf("create %s: %w", objectType, err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, false, fmt.Errorf("create %s: %w", objectType, err)
	}
	if _, err = insertSlug(ctx, tx, id, objectType, name); err != nil {
		return 0, false, err
	}
	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	c.log.Info("authority created", "type", objectType, "id", id, "name", name)
	return id, true, nil
}

// insertSlug stores a unique slug derived from name.
func insertSlug(ctx context.Context, q queryer, objectID int64, objectType, name string) (string, error) {
	slug, err := models.UniqueSlug(models.Slugify(name), func(s string) (bool, error) {
		var n int
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM slug WHERE slug = ?`, s).Scan(&n)
		return n > 0, err
	})
	if err != nil {
		return "", fmt.Errorf("generate slug: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO slug (object_id, object_type, slug) VALUES (?, ?, ?)`, objectID, objectType, slug); err != nil {
		return "", fmt.Errorf("insert slug: %w", err)
	}
	return slug, nil
}

// SlugFor returns the slug of an object, empty when it has none.
func (c *Catalog) SlugFor(ctx context.Context, objectType string, objectID int64) (string, error) {
	defer c.observe(time.Now())
	var slug string
	err := c.db.QueryRowContext(ctx,
		`SELECT slug FROM slug WHERE object_type = ? AND object_id = ?`, objectType, objectID).Scan(&slug)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return slug, err
}

// ActorExists reports whether an actor id exists.
func (c *Catalog) ActorExists(ctx context.Context, id int64) (bool, error) {
	defer c.observe(time.Now())
	return c.exists(ctx, `SELECT COUNT(*) FROM actor WHERE id = ?`, id)
}

// TermExists reports whether a term id exists in the taxonomy.
func (c *Catalog) TermExists(ctx context.Context, taxonomyID, id int64) (bool, error) {
	defer c.observe(time.Now())
	return c.exists(ctx, `SELECT COUNT(*) FROM term WHERE taxonomy_id = ? AND id = ?`, taxonomyID, id)
}

func (c *Catalog) exists(ctx context.Context, q string, args ...any) (bool, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return n > 0, nil
}

// LinkActor adds a name access point from a description to an actor.
// Linking twice is a no-op.
func (c *Catalog) LinkActor(ctx context.Context, objectID, actorID int64) error {
	defer c.observe(time.Now())
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relation (subject_id, object_id, type_id) VALUES (?, ?, ?)`,
		objectID, actorID, RelationNameAccessPoint)
	if err != nil {
		return fmt.Errorf("link actor %d to %d: %w", actorID, objectID, err)
	}
	return nil
}

// LinkTerm adds a place or subject access point. Linking twice is a no-op.
func (c *Catalog) LinkTerm(ctx context.Context, objectID, termID int64) error {
	defer c.observe(time.Now())
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO object_term_relation (object_id, term_id) VALUES (?, ?)`, objectID, termID)
	if err != nil {
		return fmt.Errorf("link term %d to %d: %w", termID, objectID, err)
	}
	return nil
}

// AddDateEvent records a creation date on a description. r is nil when the
// display text could not be parsed. An event with the same start date (or the
// same display text when unparsed) is not added twice; created is false then.
func (c *Catalog) AddDateEvent(ctx context.Context, objectID int64, display string, r *models.DateRange) (id int64, created bool, err error) {
	defer c.observe(time.Now())
	var q string
	var args []any
	if r != nil {
		q = `SELECT id FROM event WHERE object_id = ? AND type_id = ? AND start_date = ? LIMIT 1`
		args = []any{objectID, EventCreation, r.Start}
	} else {
		q = `SELECT id FROM event WHERE object_id = ? AND type_id = ? AND start_date IS NULL AND date_display = ? LIMIT 1`
		args = []any{objectID, EventCreation, display}
	}
	err = c.db.QueryRowContext(ctx, q, args...).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("find date event: %w", err)
	}

	var start, end any
	if r != nil {
		start, end = r.Start, r.End
	}
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO event (object_id, type_id, start_date, end_date, date_display) VALUES (?, ?, ?, ?, ?)`,
		objectID, EventCreation, start, end, display)
	if err != nil {
		return 0, false, fmt.Errorf("insert date event: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert date event: %w", err)
	}
	return id, true, nil
}
