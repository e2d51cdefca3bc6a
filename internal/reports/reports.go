// Package reports runs the catalog reports listed in report_definition.
// Each code maps to a builder that either pages through a filtered query or
// returns a small aggregate table.
package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// Paging bounds.
const (
	DefaultLimit = 25
	MinLimit     = 10
	MaxLimit     = 100
)

// Query carries the request parameters of a report run.
type Query struct {
	Params map[string]string
	Page   int
	Limit  int
	Sort   string
	Dir    string
}

// Engine runs reports against the catalog database.
type Engine struct {
	db       *sql.DB
	log      *slog.Logger
	now      func() time.Time
	builders map[string]builder
}

// New creates an engine with every built-in report registered.
func New(db *sql.DB, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{db: db, log: log, now: time.Now, builders: make(map[string]builder)}
	for _, b := range builtins() {
		e.builders[b.code] = b
	}
	return e
}

// InitSchema creates report_definition and installs the built-in
// definitions that are missing.
func (e *Engine) InitSchema(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS report_definition (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT,
	category TEXT NOT NULL,
	parameters TEXT,
	output_formats TEXT NOT NULL DEFAULT 'csv,json',
	is_active INTEGER NOT NULL DEFAULT 1
)`); err != nil {
		return fmt.Errorf("init report schema: %w", err)
	}
	for _, b := range builtins() {
		params, err := json.Marshal(b.params)
		if err != nil {
			return fmt.Errorf("encode %s parameters: %w", b.code, err)
		}
		if _, err := e.db.ExecContext(ctx, `INSERT OR IGNORE INTO report_definition
(code, name, description, category, parameters, output_formats) VALUES (?, ?, ?, ?, ?, ?)`,
			b.code, b.name, b.description, b.category, string(params), strings.Join(b.formats, ",")); err != nil {
			return fmt.Errorf("install report %s: %w", b.code, err)
		}
	}
	return nil
}

const definitionSelect = `SELECT id, code, name, COALESCE(description, ''), category, parameters,
	output_formats, is_active FROM report_definition`

func scanDefinition(row interface{ Scan(...any) error }) (*models.ReportDefinition, error) {
	var (
		d       models.ReportDefinition
		params  sql.NullString
		formats string
	)
	if err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Description, &d.Category, &params, &formats, &d.IsActive); err != nil {
		return nil, err
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &d.Parameters); err != nil {
			return nil, fmt.Errorf("decode %s parameters: %w", d.Code, err)
		}
	}
	for _, f := range strings.Split(formats, ",") {
		if f = strings.TrimSpace(f); f != "" {
			d.OutputFormats = append(d.OutputFormats, f)
		}
	}
	return &d, nil
}

// Definitions lists the active reports by category and name.
func (e *Engine) Definitions(ctx context.Context) ([]models.ReportDefinition, error) {
	rows, err := e.db.QueryContext(ctx, definitionSelect+` WHERE is_active = 1 ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	out := []models.ReportDefinition{}
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Definition loads an active report definition.
func (e *Engine) Definition(ctx context.Context, code string) (*models.ReportDefinition, error) {
	d, err := scanDefinition(e.db.QueryRowContext(ctx, definitionSelect+` WHERE code = ? AND is_active = 1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %q: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load report %q: %w", code, err)
	}
	return d, nil
}

// paging is a validated page request.
type paging struct {
	page, limit int
	sort, dir   string
}

func (p paging) offset() int { return (p.page - 1) * p.limit }

func normalizePaging(q Query) (paging, error) {
	p := paging{page: q.Page, limit: q.Limit, sort: q.Sort, dir: strings.ToLower(q.Dir)}
	if p.page < 1 {
		p.page = 1
	}
	if p.limit == 0 {
		p.limit = DefaultLimit
	}
	p.limit = min(MaxLimit, max(MinLimit, p.limit))
	if p.sort == "" {
		p.sort = "id"
	}
	switch p.dir {
	case "":
		p.dir = "desc"
	case "asc", "desc":
	default:
		return p, fmt.Errorf("%w: sort direction must be asc or desc", models.ErrValidation)
	}
	return p, nil
}

// Run executes the report named code.
func (e *Engine) Run(ctx context.Context, code string, q Query) (*models.ReportResult, error) {
	start := time.Now()
	def, err := e.Definition(ctx, code)
	if err != nil {
		return nil, err
	}
	b, ok := e.builders[code]
	if !ok {
		return nil, fmt.Errorf("report %q has no builder: %w", code, models.ErrNotFound)
	}
	p, err := normalizePaging(q)
	if err != nil {
		return nil, err
	}
	filters := parseFilters(def.Parameters, q.Params)

	res := &models.ReportResult{Definition: *def, Filters: filters}
	if b.paged != nil {
		res.Columns, res.Rows, res.Pager, err = e.runPaged(ctx, b, filters, p)
	} else {
		res.Columns, res.Rows, err = b.aggregate(ctx, e.db, filters)
	}
	if err != nil {
		return nil, fmt.Errorf("run report %s: %w", code, err)
	}
	if res.Rows == nil {
		res.Rows = []map[string]any{}
	}
	e.log.Debug("report run", "code", code, "rows", len(res.Rows), "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// parseFilters keeps the non-empty declared parameters plus glam_type.
func parseFilters(declared map[string]string, params map[string]string) map[string]string {
	out := make(map[string]string)
	for key := range declared {
		if v := strings.TrimSpace(params[key]); v != "" {
			out[key] = v
		}
	}
	if v := strings.TrimSpace(params["glam_type"]); v != "" {
		out["glam_type"] = v
	}
	return out
}

// runPaged fetches one page. The total is counted only when the page is full.
func (e *Engine) runPaged(ctx context.Context, b builder, filters map[string]string, p paging) ([]string, []map[string]any, *models.Pager, error) {
	sortExpr, ok := b.paged.sortable[p.sort]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: cannot sort by %q", models.ErrValidation, p.sort)
	}
	where, args := b.paged.where(filters)
	base := b.paged.from
	if len(where) > 0 {
		base += " WHERE " + strings.Join(where, " AND ")
	}
	q := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT ? OFFSET ?", b.paged.selects, base, sortExpr, p.dir)
	cols, rows, err := queryRows(ctx, e.db, q, append(args, p.limit, p.offset())...)
	if err != nil {
		return nil, nil, nil, err
	}
	// A short page that is not empty ends the result set, so its total is
	// exact. Full pages and pages past the end need the count.
	total := p.offset() + len(rows)
	if len(rows) == p.limit || (len(rows) == 0 && p.offset() > 0) {
		if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
			return nil, nil, nil, fmt.Errorf("count rows: %w", err)
		}
	}
	pager := models.NewPager(p.page, p.limit, total)
	return cols, rows, &pager, nil
}

// queryRows scans a result set into column-keyed maps, keeping the column
// order separately.
func queryRows(ctx context.Context, db *sql.DB, q string, args ...any) ([]string, []map[string]any, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

// intFilter returns a numeric filter, ignoring values that do not parse.
func intFilter(filters map[string]string, key string) (int64, bool) {
	v, ok := filters[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
