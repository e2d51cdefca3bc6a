package models

import "time"

// SuggestionStatus is the review state of a description suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionEdited   SuggestionStatus = "edited"
	SuggestionRejected SuggestionStatus = "rejected"
)

// Suggestion is an LLM-drafted scope and content text awaiting review.
type Suggestion struct {
	ID               string           `json:"id"`
	ObjectID         int64            `json:"object_id"`
	SuggestedText    string           `json:"suggested_text"`
	ExistingText     string           `json:"existing_text,omitempty"`
	EditedText       string           `json:"edited_text,omitempty"`
	TemplateName     string           `json:"template_name"`
	SourceFields     []string         `json:"source_fields,omitempty"`
	HasOCR           bool             `json:"has_ocr"`
	Status           SuggestionStatus `json:"status"`
	ModelUsed        string           `json:"model_used"`
	TokensUsed       int              `json:"tokens_used"`
	GenerationTimeMs int64            `json:"generation_time_ms"`
	ReviewNotes      string           `json:"review_notes,omitempty"`
	ReviewedBy       string           `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time       `json:"reviewed_at,omitempty"`
	CreatedBy        string           `json:"created_by,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
}

// SuggestionStats aggregates suggestion outcomes.
type SuggestionStats struct {
	Total             int     `json:"total"`
	Pending           int     `json:"pending"`
	Approved          int     `json:"approved"`
	Edited            int     `json:"edited"`
	Rejected          int     `json:"rejected"`
	TotalTokens       int     `json:"total_tokens"`
	AvgGenerationTime float64 `json:"avg_generation_time_ms"`
}

// SuggestionFilter narrows suggestion listings.
type SuggestionFilter struct {
	Status   SuggestionStatus
	ObjectID int64
	Limit    int
}
