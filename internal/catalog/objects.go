package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

const objectSelect = `
SELECT io.id, io.parent_id, io.repository_id, io.level_of_description_id,
	COALESCE(lvl.name, ''), COALESCE(repo.name, ''), COALESCE(io.identifier, ''),
	COALESCE(s.slug, ''), io.lft, io.rgt,
	COALESCE(i.title, ''), COALESCE(i.scope_and_content, ''), COALESCE(i.archival_history, ''),
	COALESCE(i.extent_and_medium, ''), COALESCE(i.arrangement, ''),
	COALESCE(i.physical_characteristics, ''), COALESCE(i.acquisition, '')
FROM information_object io
LEFT JOIN information_object_i18n i ON i.id = io.id AND i.culture = io.source_culture
LEFT JOIN term lvl ON lvl.id = io.level_of_description_id
LEFT JOIN repository repo ON repo.id = io.repository_id
LEFT JOIN slug s ON s.object_id = io.id AND s.object_type = 'information_object'
`

// Object loads one description.
func (c *Catalog) Object(ctx context.Context, id int64) (*models.ArchivalObject, error) {
	defer c.observe(time.Now())
	row := c.db.QueryRowContext(ctx, objectSelect+` WHERE io.id = ?`, id)
	o, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load object %d: %w", id, err)
	}
	return o, nil
}

func scanObject(row interface{ Scan(...any) error }) (*models.ArchivalObject, error) {
	var (
		o                           models.ArchivalObject
		parent, repository, levelID sql.NullInt64
	)
	err := row.Scan(&o.ID, &parent, &repository, &levelID,
		&o.LevelOfDescription, &o.Repository, &o.Identifier,
		&o.Slug, &o.Lft, &o.Rgt,
		&o.Title, &o.ScopeAndContent, &o.ArchivalHistory,
		&o.ExtentAndMedium, &o.Arrangement,
		&o.PhysicalCharacteristics, &o.Acquisition)
	if err != nil {
		return nil, err
	}
	o.ParentID = nullInt(parent)
	o.RepositoryID = nullInt(repository)
	o.LevelOfDescriptionID = nullInt(levelID)
	return &o, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// SelectObjects resolves a batch selection to object ids. Explicit ids are
// kept in the given order, deduplicated, and unknown ids are dropped.
func (c *Catalog) SelectObjects(ctx context.Context, sel models.ObjectSelection) ([]int64, error) {
	defer c.observe(time.Now())
	if len(sel.ObjectIDs) > 0 {
		return c.existingIDs(ctx, sel.ObjectIDs)
	}

	var (
		where []string
		args  []any
	)
	if sel.RepositoryID != nil {
		where = append(where, "io.repository_id = ?")
		args = append(args, *sel.RepositoryID)
	}
	if sel.EmptyScopeOnly {
		where = append(where, "COALESCE(TRIM(i.scope_and_content), '') = ''")
	}
	q := `SELECT io.id FROM information_object io
LEFT JOIN information_object_i18n i ON i.id = io.id AND i.culture = io.source_culture`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY io.id"
	if sel.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, sel.Limit)
	}
	return c.queryIDs(ctx, q, args...)
}

func (c *Catalog) existingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	found, err := c.queryIDs(ctx, `SELECT id FROM information_object WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
			delete(known, id)
		}
	}
	return out, nil
}

func (c *Catalog) queryIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select objects: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan object id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateScopeAndContent overwrites the scope and content note.
func (c *Catalog) UpdateScopeAndContent(ctx context.Context, id int64, text string) error {
	defer c.observe(time.Now())
	return c.saveI18n(ctx, id, c.culture, map[string]string{"scope_and_content": text})
}

// translatableColumns maps request field names to i18n columns.
var translatableColumns = map[string]string{
	"title":                   "title",
	"scopeAndContent":         "scope_and_content",
	"scope_and_content":       "scope_and_content",
	"archivalHistory":         "archival_history",
	"extentAndMedium":         "extent_and_medium",
	"arrangement":             "arrangement",
	"physicalCharacteristics": "physical_characteristics",
}

// TranslatableColumn returns the i18n column behind a field name.
func TranslatableColumn(field string) (string, bool) {
	col, ok := translatableColumns[field]
	return col, ok
}

// SaveTranslation writes translated fields (keyed by field name) in culture.
func (c *Catalog) SaveTranslation(ctx context.Context, id int64, culture string, fields map[string]string) error {
	defer c.observe(time.Now())
	cols := make(map[string]string, len(fields))
	for field, value := range fields {
		col, ok := TranslatableColumn(field)
		if !ok {
			return fmt.Errorf("%w: field %q cannot be translated", models.ErrValidation, field)
		}
		cols[col] = value
	}
	return c.saveI18n(ctx, id, culture, cols)
}

func (c *Catalog) saveI18n(ctx context.Context, id int64, culture string, cols map[string]string) error {
	if len(cols) == 0 {
		return nil
	}
	var exists int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_object WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check object %d: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("object %d: %w", id, models.ErrNotFound)
	}

	names := make([]string, 0, len(cols))
	for col := range cols {
		names = append(names, col)
	}
	slices.Sort(names)

	insertCols := append([]string{"id", "culture"}, names...)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(insertCols)), ",")
	updates := make([]string, len(names))
	args := []any{id, culture}
	for i, col := range names {
		updates[i] = col + " = excluded." + col
		args = append(args, cols[col])
	}
	q := fmt.Sprintf(`INSERT INTO information_object_i18n (%s) VALUES (%s)
ON CONFLICT (id, culture) DO UPDATE SET %s`,
		strings.Join(insertCols, ", "), placeholders, strings.Join(updates, ", "))
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("save object %d (%s): %w", id, culture, err)
	}
	if _, err := c.db.ExecContext(ctx,
		`UPDATE information_object SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		return fmt.Errorf("touch object %d: %w", id, err)
	}
	return nil
}

// DigitalObjects lists the files attached to a description.
func (c *Catalog) DigitalObjects(ctx context.Context, objectID int64) ([]models.DigitalObject, error) {
	defer c.observe(time.Now())
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, object_id, name, path, COALESCE(mime_type, '') FROM digital_object WHERE object_id = ? ORDER BY id`,
		objectID)
	if err != nil {
		return nil, fmt.Errorf("list digital objects: %w", err)
	}
	defer rows.Close()
	var out []models.DigitalObject
	for rows.Next() {
		var d models.DigitalObject
		if err := rows.Scan(&d.ID, &d.ObjectID, &d.Name, &d.Path, &d.MimeType); err != nil {
			return nil, fmt.Errorf("scan digital object: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OCRText returns stored OCR text, empty when none is stored or the OCR
// table is not installed.
func (c *Catalog) OCRText(ctx context.Context, objectID int64) (string, error) {
	defer c.observe(time.Now())
	ok, err := c.HasTable(ctx, "ocr_text")
	if err != nil || !ok {
		return "", err
	}
	var text string
	err = c.db.QueryRowContext(ctx, `SELECT content FROM ocr_text WHERE object_id = ?`, objectID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load ocr text: %w", err)
	}
	return text, nil
}

// SaveOCRText stores OCR output. It reports false without error when the OCR
// table is not installed.
func (c *Catalog) SaveOCRText(ctx context.Context, objectID int64, text string) (bool, error) {
	defer c.observe(time.Now())
	ok, err := c.HasTable(ctx, "ocr_text")
	if err != nil || !ok {
		return false, err
	}
	_, err = c.db.ExecContext(ctx, `INSERT INTO ocr_text (object_id, content) VALUES (?, ?)
ON CONFLICT (object_id) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP`,
		objectID, text)
	if err != nil {
		return false, fmt.Errorf("save ocr text: %w", err)
	}
	return true, nil
}

// Context gathers the description context used to prompt for a suggestion.
func (c *Catalog) Context(ctx context.Context, objectID int64, includeOCR bool, maxOCRChars int) (models.ObjectContext, error) {
	defer c.observe(time.Now())
	o, err := c.Object(ctx, objectID)
	if err != nil {
		return models.ObjectContext{}, err
	}
	out := models.ObjectContext{
		ObjectID:           o.ID,
		Title:              o.Title,
		Identifier:         o.Identifier,
		LevelOfDescription: o.LevelOfDescription,
		Repository:         o.Repository,
		ScopeAndContent:    o.ScopeAndContent,
		ExtentAndMedium:    o.ExtentAndMedium,
		ArchivalHistory:    o.ArchivalHistory,
		Arrangement:        o.Arrangement,
	}
	if out.Title == "" {
		out.Title = "Untitled"
	}

	dates, creators, err := c.creationEvents(ctx, objectID)
	if err != nil {
		return out, err
	}
	out.DateRange = dates
	out.Creator = creators

	if includeOCR {
		text, err := c.OCRText(ctx, objectID)
		if err != nil {
			return out, err
		}
		if maxOCRChars > 0 && len([]rune(text)) > maxOCRChars {
			text = string([]rune(text)[:maxOCRChars])
		}
		out.OCRText = text
	}
	return out, nil
}

// creationEvents summarizes creation events as a display date range and a
// "; "-joined creator list.
func (c *Catalog) creationEvents(ctx context.Context, objectID int64) (string, string, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT COALESCE(e.date_display, ''), COALESCE(e.start_date, ''), COALESCE(e.end_date, ''),
	COALESCE(a.authorized_form_of_name, '')
FROM event e
LEFT JOIN actor a ON a.id = e.actor_id
WHERE e.object_id = ? AND e.type_id = ?
ORDER BY e.start_date, e.id`, objectID, EventCreation)
	if err != nil {
		return "", "", fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var (
		displays, creators []string
		start, end         string
	)
	for rows.Next() {
		var display, s, e, actor string
		if err := rows.Scan(&display, &s, &e, &actor); err != nil {
			return "", "", fmt.Errorf("scan event: %w", err)
		}
		if display != "" {
			displays = append(displays, display)
		}
		if s != "" && (start == "" || s < start) {
			start = s
		}
		if e != "" && e > end {
			end = e
		}
		if actor != "" && !slices.Contains(creators, actor) {
			creators = append(creators, actor)
		}
	}
	if err := rows.Err(); err != nil {
		return "", "", err
	}

	var dateRange string
	switch {
	case len(displays) > 0:
		dateRange = strings.Join(displays, "; ")
	case start != "" && end != "" && start != end:
		dateRange = start + " - " + end
	default:
		dateRange = start
	}
	return dateRange, strings.Join(creators, "; "), nil
}
