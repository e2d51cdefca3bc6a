package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// Export is a rendered report download.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Render writes res in format: csv, json, xlsx (served as CSV) or pdf
// (printable HTML).
func (e *Engine) Render(res *models.ReportResult, format string) (*Export, error) {
	stamp := e.now().Format("2006-01-02_150405")
	name := res.Definition.Code + "_" + stamp
	switch format {
	case "csv", "xlsx":
		body, err := renderCSV(res)
		if err != nil {
			return nil, err
		}
		return &Export{Filename: name + ".csv", ContentType: "text/csv; charset=utf-8", Body: body}, nil
	case "json":
		body, err := json.MarshalIndent(res.Rows, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("render json: %w", err)
		}
		return &Export{Filename: name + ".json", ContentType: "application/json", Body: body}, nil
	case "pdf":
		var buf bytes.Buffer
		err := printTemplate.Execute(&buf, printPage{
			Title:     res.Definition.Name,
			Generated: e.now().Format(time.DateTime),
			Headers:   headers(res.Columns),
			Rows:      cells(res),
		})
		if err != nil {
			return nil, fmt.Errorf("render printable report: %w", err)
		}
		return &Export{Filename: name + ".html", ContentType: "text/html; charset=utf-8", Body: buf.Bytes()}, nil
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", models.ErrValidation, format)
	}
}

// renderCSV writes a header taken from the result columns followed by the
// rows. An empty report renders as an empty file.
func renderCSV(res *models.ReportResult) ([]byte, error) {
	var buf bytes.Buffer
	if len(res.Rows) == 0 {
		return buf.Bytes(), nil
	}
	w := csv.NewWriter(&buf)
	if err := w.Write(res.Columns); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	for _, row := range cells(res) {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	return buf.Bytes(), nil
}

// cells flattens rows into strings in column order.
func cells(res *models.ReportResult) [][]string {
	out := make([][]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		line := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			if v := row[c]; v != nil {
				line[i] = fmt.Sprint(v)
			}
		}
		out = append(out, line)
	}
	return out
}

// headers turns snake_case column names into title case.
func headers(cols []string) []string {
	title := cases.Title(language.English)
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = title.String(strings.ReplaceAll(c, "_", " "))
	}
	return out
}

type printPage struct {
	Title     string
	Generated string
	Headers   []string
	Rows      [][]string
}

var printTemplate = template.Must(template.New("print").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
@media print { body { margin: 0; padding: 20px; } .no-print { display: none; } }
body { font-family: Arial, sans-serif; font-size: 12px; }
.meta { color: #666; margin-bottom: 20px; }
table { border-collapse: collapse; width: 100%; }
th { background-color: #4472C4; color: white; padding: 8px; text-align: left; border: 1px solid #ddd; }
td { padding: 6px 8px; border: 1px solid #ddd; }
tr:nth-child(even) { background-color: #f9f9f9; }
</style>
</head>
<body>
<div class="no-print"><button onclick="window.print()">Print / Save as PDF</button></div>
<h1>{{.Title}}</h1>
<div class="meta">Generated: {{.Generated}}</div>
{{if .Rows}}<table>
<tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>{{else}}<p><em>No data found</em></p>{{end}}
</body>
</html>
`))
