package models

import "strings"

// ArchivalObject is a catalog description (AtoM information object) with the
// descriptive fields the AI tasks read and write.
type ArchivalObject struct {
	ID                      int64  `json:"id"`
	ParentID                *int64 `json:"parent_id,omitempty"`
	RepositoryID            *int64 `json:"repository_id,omitempty"`
	LevelOfDescriptionID    *int64 `json:"level_of_description_id,omitempty"`
	LevelOfDescription      string `json:"level_of_description,omitempty"`
	Repository              string `json:"repository,omitempty"`
	Identifier              string `json:"identifier,omitempty"`
	Slug                    string `json:"slug,omitempty"`
	Lft                     int64  `json:"lft"`
	Rgt                     int64  `json:"rgt"`
	Title                   string `json:"title"`
	ScopeAndContent         string `json:"scope_and_content,omitempty"`
	ArchivalHistory         string `json:"archival_history,omitempty"`
	ExtentAndMedium         string `json:"extent_and_medium,omitempty"`
	Arrangement             string `json:"arrangement,omitempty"`
	PhysicalCharacteristics string `json:"physical_characteristics,omitempty"`
	Acquisition             string `json:"acquisition,omitempty"`
}

// ExtractionText joins the fields used for entity extraction.
func (o *ArchivalObject) ExtractionText() string {
	return joinNonEmpty(o.Title, o.ScopeAndContent, o.ArchivalHistory, o.ExtentAndMedium, o.Arrangement)
}

// SummaryText joins the fields used for summarization. Scope and content is
// left out since it is the field the summary replaces.
func (o *ArchivalObject) SummaryText() string {
	return joinNonEmpty(o.Title, o.ArchivalHistory, o.ExtentAndMedium, o.Arrangement,
		o.PhysicalCharacteristics, o.Acquisition)
}

func joinNonEmpty(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// DigitalObject is a file attached to a catalog description.
type DigitalObject struct {
	ID       int64  `json:"id"`
	ObjectID int64  `json:"object_id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// ObjectSelection picks catalog objects for a new batch.
type ObjectSelection struct {
	ObjectIDs      []int64
	RepositoryID   *int64
	EmptyScopeOnly bool
	Limit          int
}

// ObjectContext is the gathered description context fed to suggestion prompts.
type ObjectContext struct {
	ObjectID           int64
	Title              string
	Identifier         string
	LevelOfDescription string
	DateRange          string
	Creator            string
	Repository         string
	ScopeAndContent    string
	ExtentAndMedium    string
	ArchivalHistory    string
	Arrangement        string
	OCRText            string
}

// Fields lists the names of the non-empty context fields.
func (c ObjectContext) Fields() []string {
	named := []struct {
		name, value string
	}{
		{"title", c.Title}, {"identifier", c.Identifier}, {"level_of_description", c.LevelOfDescription},
		{"date_range", c.DateRange}, {"creator", c.Creator}, {"repository", c.Repository},
		{"scope_and_content", c.ScopeAndContent}, {"extent_and_medium", c.ExtentAndMedium},
		{"archival_history", c.ArchivalHistory}, {"arrangement", c.Arrangement}, {"ocr_text", c.OCRText},
	}
	var out []string
	for _, f := range named {
		if f.value != "" && f.value != "Untitled" {
			out = append(out, f.name)
		}
	}
	return out
}
