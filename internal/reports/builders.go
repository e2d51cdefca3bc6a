package reports

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
)

// builder produces the rows of one report. Exactly one of paged and
// aggregate is set.
type builder struct {
	code        string
	name        string
	description string
	category    string
	params      map[string]string
	formats     []string

	paged     *pagedQuery
	aggregate func(ctx context.Context, db *sql.DB, filters map[string]string) ([]string, []map[string]any, error)
}

// pagedQuery is a report listed one page at a time.
type pagedQuery struct {
	selects  string
	from     string
	sortable map[string]string
	where    func(filters map[string]string) ([]string, []any)
}

var allFormats = []string{"csv", "json", "xlsx", "pdf"}

func builtins() []builder {
	return []builder{
		{
			code:        "collection_overview",
			name:        "Collection overview",
			description: "Archival descriptions with level, repository and dates",
			category:    "collection",
			params: map[string]string{
				"repository_id": "repository", "level_of_description": "level",
				"date_from": "date", "date_to": "date",
			},
			formats: allFormats,
			paged: &pagedQuery{
				selects: `io.id, i18n.title, io.identifier, lvl.name AS level_of_description,
	repo.name AS repository, io.glam_type, io.created_at, io.updated_at`,
				from: `FROM information_object io
LEFT JOIN information_object_i18n i18n ON i18n.id = io.id AND i18n.culture = 'en'
LEFT JOIN term lvl ON lvl.id = io.level_of_description_id
LEFT JOIN repository repo ON repo.id = io.repository_id`,
				sortable: map[string]string{
					"id": "io.id", "title": "i18n.title", "identifier": "io.identifier",
					"created_at": "io.created_at", "updated_at": "io.updated_at",
				},
				where: func(f map[string]string) ([]string, []any) {
					w := descriptionFilters(f)
					if v, ok := f["date_from"]; ok {
						w.add("io.created_at >= ?", v)
					}
					if v, ok := f["date_to"]; ok {
						w.add("io.created_at <= ?", v+" 23:59:59")
					}
					return w.clauses, w.args
				},
			},
		},
		{
			code:        "level_summary",
			name:        "Descriptions by level",
			description: "Number of descriptions at each level of description",
			category:    "collection",
			params:      map[string]string{"repository_id": "repository"},
			formats:     allFormats,
			aggregate: func(ctx context.Context, db *sql.DB, f map[string]string) ([]string, []map[string]any, error) {
				w := descriptionFilters(f)
				return queryRows(ctx, db, `SELECT COALESCE(lvl.name, '(unassigned)') AS level_of_description,
	COUNT(*) AS descriptions
FROM information_object io
LEFT JOIN term lvl ON lvl.id = io.level_of_description_id`+w.sql()+`
GROUP BY io.level_of_description_id
ORDER BY descriptions DESC, level_of_description`, w.args...)
			},
		},
		{
			code:        "repository_summary",
			name:        "Repository summary",
			description: "Descriptions and digital objects held by each repository",
			category:    "collection",
			formats:     allFormats,
			aggregate: func(ctx context.Context, db *sql.DB, f map[string]string) ([]string, []map[string]any, error) {
				join := ""
				var args []any
				if v, ok := f["glam_type"]; ok {
					join = " AND io.glam_type = ?"
					args = append(args, v)
				}
				return queryRows(ctx, db, `SELECT repo.id, repo.name AS repository,
	COUNT(DISTINCT io.id) AS descriptions, COUNT(dobj.id) AS digital_objects
FROM repository repo
LEFT JOIN information_object io ON io.repository_id = repo.id`+join+`
LEFT JOIN digital_object dobj ON dobj.object_id = io.id
GROUP BY repo.id, repo.name
ORDER BY descriptions DESC, repository`, args...)
			},
		},
		{
			code:        "metadata_completeness",
			name:        "Metadata completeness",
			description: "Share of descriptions with each descriptive field filled in",
			category:    "quality",
			params:      map[string]string{"repository_id": "repository"},
			formats:     allFormats,
			aggregate:   metadataCompleteness,
		},
		{
			code:        "digital_objects",
			name:        "Digital objects",
			description: "Files attached to descriptions",
			category:    "digital",
			params:      map[string]string{"repository_id": "repository", "mime_type": "text"},
			formats:     allFormats,
			paged: &pagedQuery{
				selects: `dobj.id, i18n.title, dobj.name AS filename, dobj.mime_type, dobj.byte_size`,
				from: `FROM digital_object dobj
JOIN information_object io ON io.id = dobj.object_id
LEFT JOIN information_object_i18n i18n ON i18n.id = io.id AND i18n.culture = 'en'`,
				sortable: map[string]string{
					"id": "dobj.id", "title": "i18n.title", "filename": "dobj.name",
					"mime_type": "dobj.mime_type", "byte_size": "dobj.byte_size",
				},
				where: func(f map[string]string) ([]string, []any) {
					w := descriptionFilters(f)
					if v, ok := f["mime_type"]; ok {
						w.add("dobj.mime_type = ?", v)
					}
					return w.clauses, w.args
				},
			},
		},
		{
			code:        "by_creator",
			name:        "Records by creator",
			description: "Creators ranked by the number of descriptions they created",
			category:    "authority",
			formats:     allFormats,
			aggregate: func(ctx context.Context, db *sql.DB, f map[string]string) ([]string, []map[string]any, error) {
				w := descriptionFilters(f)
				w.add("e.type_id = ?", catalog.EventCreation)
				return queryRows(ctx, db, `SELECT e.actor_id, a.authorized_form_of_name AS creator,
	COUNT(DISTINCT e.object_id) AS record_count
FROM event e
JOIN actor a ON a.id = e.actor_id
JOIN information_object io ON io.id = e.object_id`+w.sql()+`
GROUP BY e.actor_id, a.authorized_form_of_name
ORDER BY record_count DESC, creator
LIMIT 100`, w.args...)
			},
		},
		{
			code:        "authority_usage",
			name:        "Authority record usage",
			description: "How often each authority record is used as an access point or creator",
			category:    "authority",
			formats:     allFormats,
			aggregate: func(ctx context.Context, db *sql.DB, _ map[string]string) ([]string, []map[string]any, error) {
				return queryRows(ctx, db, `SELECT * FROM (
	SELECT a.id AS actor_id, a.authorized_form_of_name AS name,
		(SELECT COUNT(*) FROM relation r WHERE r.object_id = a.id AND r.type_id = ?) AS access_points,
		(SELECT COUNT(*) FROM event e WHERE e.actor_id = a.id AND e.type_id = ?) AS creations
	FROM actor a
)
ORDER BY access_points + creations DESC, name
LIMIT 100`, catalog.RelationNameAccessPoint, catalog.EventCreation)
			},
		},
	}
}

// conditions accumulates WHERE clauses with their arguments.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, args ...any) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, args...)
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return "\nWHERE " + strings.Join(c.clauses, " AND ")
}

// descriptionFilters applies the filters shared by description reports to
// the io alias.
func descriptionFilters(f map[string]string) *conditions {
	c := &conditions{}
	if id, ok := intFilter(f, "repository_id"); ok {
		c.add("io.repository_id = ?", id)
	}
	if id, ok := intFilter(f, "level_of_description"); ok {
		c.add("io.level_of_description_id = ?", id)
	}
	if v, ok := f["glam_type"]; ok {
		c.add("io.glam_type = ?", v)
	}
	return c
}

// completenessFields are the i18n columns checked, with their labels.
var completenessFields = []struct{ column, label string }{
	{"title", "Title"},
	{"scope_and_content", "Scope and content"},
	{"archival_history", "Archival history"},
	{"extent_and_medium", "Extent and medium"},
	{"arrangement", "Arrangement"},
	{"physical_characteristics", "Physical characteristics"},
	{"acquisition", "Immediate source of acquisition"},
}

func metadataCompleteness(ctx context.Context, db *sql.DB, f map[string]string) ([]string, []map[string]any, error) {
	w := descriptionFilters(f)
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_object io`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, nil, fmt.Errorf("count descriptions: %w", err)
	}
	cols := []string{"field", "completed", "total", "percentage"}
	rows := make([]map[string]any, 0, len(completenessFields))
	for _, field := range completenessFields {
		fw := descriptionFilters(f)
		fw.add(fmt.Sprintf("TRIM(COALESCE(i18n.%s, '')) <> ''", field.column))
		var n int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_object io
JOIN information_object_i18n i18n ON i18n.id = io.id AND i18n.culture = 'en'`+fw.sql(), fw.args...).Scan(&n); err != nil {
			return nil, nil, fmt.Errorf("count %s: %w", field.column, err)
		}
		pct := 0.0
		if total > 0 {
			pct = math.Round(float64(n)/float64(total)*1000) / 10
		}
		rows = append(rows, map[string]any{
			"field": field.label, "completed": n, "total": total, "percentage": pct,
		})
	}
	return cols, rows, nil
}
