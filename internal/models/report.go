package models

// ReportDefinition is a row of report_definition: a report the engine can run.
type ReportDefinition struct {
	ID            int64             `json:"id"`
	Code          string            `json:"code"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Category      string            `json:"category"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	OutputFormats []string          `json:"output_formats"`
	IsActive      bool              `json:"is_active"`
}

// Pager describes one page of report results.
type Pager struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// NewPager computes page counts for total rows.
func NewPager(page, limit, total int) Pager {
	pages := 1
	if total > 0 && limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pager{
		Page:    page,
		Limit:   limit,
		Total:   total,
		Pages:   pages,
		HasNext: page*limit < total,
		HasPrev: page > 1,
	}
}

// ReportResult is a rendered report page.
type ReportResult struct {
	Definition ReportDefinition  `json:"definition"`
	Filters    map[string]string `json:"filters"`
	Columns    []string          `json:"columns"`
	Rows       []map[string]any  `json:"rows"`
	Pager      *Pager            `json:"pager,omitempty"`
}
