package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type suggestionRow struct {
	ID               surrealmodels.RecordID  `json:"id"`
	ObjectID         int64                   `json:"object_id"`
	SuggestedText    string                  `json:"suggested_text"`
	ExistingText     string                  `json:"existing_text"`
	EditedText       string                  `json:"edited_text"`
	TemplateName     string                  `json:"template_name"`
	SourceFields     []string                `json:"source_fields"`
	HasOCR           bool                    `json:"has_ocr"`
	Status           models.SuggestionStatus `json:"status"`
	ModelUsed        string                  `json:"model_used"`
	TokensUsed       int                     `json:"tokens_used"`
	GenerationTimeMs int64                   `json:"generation_time_ms"`
	ReviewNotes      string                  `json:"review_notes"`
	ReviewedBy       string                  `json:"reviewed_by"`
	ReviewedAt       *time.Time              `json:"reviewed_at,omitempty"`
	CreatedBy        string                  `json:"created_by"`
	CreatedAt        time.Time               `json:"created_at"`
	ExpiresAt        *time.Time              `json:"expires_at,omitempty"`
}

func (r suggestionRow) model() (models.Suggestion, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Suggestion{}, err
	}
	return models.Suggestion{
		ID:               id,
		ObjectID:         r.ObjectID,
		SuggestedText:    r.SuggestedText,
		ExistingText:     r.ExistingText,
		EditedText:       r.EditedText,
		TemplateName:     r.TemplateName,
		SourceFields:     r.SourceFields,
		HasOCR:           r.HasOCR,
		Status:           r.Status,
		ModelUsed:        r.ModelUsed,
		TokensUsed:       r.TokensUsed,
		GenerationTimeMs: r.GenerationTimeMs,
		ReviewNotes:      r.ReviewNotes,
		ReviewedBy:       r.ReviewedBy,
		ReviewedAt:       r.ReviewedAt,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt,
		ExpiresAt:        r.ExpiresAt,
	}, nil
}

// CountPendingSuggestions counts an object's pending suggestions.
func (c *Client) CountPendingSuggestions(ctx context.Context, objectID int64) (int, error) {
	results, err := query[[]struct {
		N int `json:"n"`
	}](ctx, c, `
		SELECT count() AS n FROM suggestion
		WHERE object_id = $object AND status = 'pending'
		GROUP ALL
	`, map[string]any{"object": objectID})
	if err != nil {
		return 0, fmt.Errorf("count pending suggestions: %w", err)
	}
	if rows := first(results); len(rows) > 0 {
		return rows[0].N, nil
	}
	return 0, nil
}

// CreateSuggestion stores a new suggestion.
func (c *Client) CreateSuggestion(ctx context.Context, s models.Suggestion) error {
	fields := s.SourceFields
	if fields == nil {
		fields = []string{}
	}
	_, err := query[any](ctx, c, `
		CREATE type::record("suggestion", $id) CONTENT {
			object_id: $object,
			suggested_text: $text,
			existing_text: $existing,
			template_name: $template,
			source_fields: $fields,
			has_ocr: $has_ocr,
			status: $status,
			model_used: $model,
			tokens_used: $tokens,
			generation_time_ms: $ms,
			created_by: $created_by,
			created_at: $created_at,
			expires_at: $expires_at ?? NONE
		} RETURN NONE
	`, map[string]any{
		"id":         s.ID,
		"object":     s.ObjectID,
		"text":       s.SuggestedText,
		"existing":   s.ExistingText,
		"template":   s.TemplateName,
		"fields":     fields,
		"has_ocr":    s.HasOCR,
		"status":     string(s.Status),
		"model":      s.ModelUsed,
		"tokens":     s.TokensUsed,
		"ms":         s.GenerationTimeMs,
		"created_by": s.CreatedBy,
		"created_at": s.CreatedAt,
		"expires_at": s.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("create suggestion: %w", wrapQueryError(err))
	}
	return nil
}

// GetSuggestion retrieves a suggestion by ID.
func (c *Client) GetSuggestion(ctx context.Context, id string) (*models.Suggestion, error) {
	results, err := query[[]suggestionRow](ctx, c, `
		SELECT * FROM type::record("suggestion", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("suggestion %s: %w", id, models.ErrNotFound)
	}
	s, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSuggestion writes the review outcome of a suggestion whose status
// is still from. It reports false when the status already moved on.
func (c *Client) UpdateSuggestion(ctx context.Context, s models.Suggestion, from models.SuggestionStatus) (bool, error) {
	results, err := query[[]suggestionRow](ctx, c, `
		UPDATE type::record("suggestion", $id) SET
			status = $status,
			edited_text = $edited,
			review_notes = $notes,
			reviewed_by = $reviewed_by,
			reviewed_at = $reviewed_at ?? NONE
		WHERE status = $from
		RETURN AFTER
	`, map[string]any{
		"id":          s.ID,
		"from":        string(from),
		"status":      string(s.Status),
		"edited":      s.EditedText,
		"notes":       s.ReviewNotes,
		"reviewed_by": s.ReviewedBy,
		"reviewed_at": s.ReviewedAt,
	})
	if err != nil {
		return false, fmt.Errorf("update suggestion: %w", wrapQueryError(err))
	}
	if len(first(results)) > 0 {
		return true, nil
	}
	if _, err := c.GetSuggestion(ctx, s.ID); err != nil {
		return false, err
	}
	return false, nil
}

// ListSuggestions returns suggestions newest first.
func (c *Client) ListSuggestions(ctx context.Context, f models.SuggestionFilter) ([]models.Suggestion, error) {
	sql := "SELECT * FROM suggestion WHERE true"
	vars := map[string]any{}
	if f.Status != "" {
		sql += " AND status = $status"
		vars["status"] = string(f.Status)
	}
	if f.ObjectID != 0 {
		sql += " AND object_id = $object"
		vars["object"] = f.ObjectID
	}
	sql += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = f.Limit
	}

	results, err := query[[]suggestionRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	rows := first(results)
	out := make([]models.Suggestion, 0, len(rows))
	for _, r := range rows {
		s, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SuggestionStats aggregates suggestion counts, tokens and generation time.
func (c *Client) SuggestionStats(ctx context.Context) (models.SuggestionStats, error) {
	results, err := query[[]struct {
		Status models.SuggestionStatus `json:"status"`
		N      int                     `json:"n"`
		Tokens int                     `json:"tokens"`
		Ms     int64                   `json:"ms"`
	}](ctx, c, `
		SELECT status, count() AS n,
			math::sum(tokens_used) AS tokens,
			math::sum(generation_time_ms) AS ms
		FROM suggestion GROUP BY status
	`, nil)
	if err != nil {
		return models.SuggestionStats{}, fmt.Errorf("suggestion stats: %w", err)
	}

	var st models.SuggestionStats
	var totalMs int64
	for _, r := range first(results) {
		st.Total += r.N
		st.TotalTokens += r.Tokens
		totalMs += r.Ms
		switch r.Status {
		case models.SuggestionPending:
			st.Pending = r.N
		case models.SuggestionApproved:
			st.Approved = r.N
		case models.SuggestionEdited:
			st.Edited = r.N
		case models.SuggestionRejected:
			st.Rejected = r.N
		}
	}
	if st.Total > 0 {
		st.AvgGenerationTime = float64(totalMs) / float64(st.Total)
	}
	return st, nil
}

// DeleteExpiredSuggestions removes pending suggestions whose expiry has passed.
func (c *Client) DeleteExpiredSuggestions(ctx context.Context, now time.Time) (int, error) {
	results, err := query[[]suggestionRow](ctx, c, `
		DELETE suggestion
		WHERE status = 'pending' AND expires_at != NONE AND expires_at < $now
		RETURN BEFORE
	`, map[string]any{"now": now})
	if err != nil {
		return 0, fmt.Errorf("delete expired suggestions: %w", wrapQueryError(err))
	}
	return len(first(results)), nil
}
