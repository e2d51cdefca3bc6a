package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

// reasonError carries a message meant for the reviewer while still matching
// a sentinel with errors.Is.
type reasonError struct {
	reason string
	err    error
}

func (e *reasonError) Error() string { return e.reason }
func (e *reasonError) Unwrap() error { return e.err }

var errAlreadyProcessed = &reasonError{reason: "Suggestion already processed", err: models.ErrAlreadyProcessed}

// SuggestResult is a freshly generated suggestion.
type SuggestResult struct {
	SuggestionID     string `json:"suggestion_id"`
	TemplateName     string `json:"template_name"`
	HasOCR           bool   `json:"has_ocr"`
	ExistingText     string `json:"existing_text"`
	SuggestedText    string `json:"suggested_text"`
	ModelUsed        string `json:"model_used"`
	TokensUsed       int    `json:"tokens_used"`
	GenerationTimeMs int64  `json:"generation_time_ms"`
}

// DecisionRequest is a reviewer verdict on a suggestion.
type DecisionRequest struct {
	Decision   string `json:"decision" binding:"required,oneof=approve reject"`
	EditedText string `json:"edited_text,omitempty"`
	Notes      string `json:"notes,omitempty"`
	ReviewedBy string `json:"-"`
}

// SuggestionView is a suggestion with the object it describes.
type SuggestionView struct {
	Suggestion  models.Suggestion `json:"suggestion"`
	ObjectSlug  string            `json:"object_slug"`
	ObjectTitle string            `json:"object_title"`
}

// SuggestionService drafts scope and content descriptions for review.
type SuggestionService struct {
	store    SuggestionStore
	catalog  *catalog.Catalog
	gen      Generator
	settings *config.SettingsStore
	log      *slog.Logger
	now      func() time.Time
}

// NewSuggestionService creates the description suggestion service.
func NewSuggestionService(store SuggestionStore, cat *catalog.Catalog, gen Generator, settings *config.SettingsStore, log *slog.Logger) *SuggestionService {
	if log == nil {
		log = slog.Default()
	}
	return &SuggestionService{
		store:    store,
		catalog:  cat,
		gen:      gen,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Generate drafts a description for an object and stores it as pending.
func (s *SuggestionService) Generate(ctx context.Context, objectID int64, createdBy string) (*SuggestResult, error) {
	cfg := s.settings.Current().Suggest
	pending, err := s.store.CountPendingSuggestions(ctx, objectID)
	if err != nil {
		return nil, fmt.Errorf("count pending suggestions: %w", err)
	}
	if cfg.MaxPendingPerObject > 0 && pending >= cfg.MaxPendingPerObject {
		return nil, &reasonError{
			reason: fmt.Sprintf("Maximum pending suggestions (%d) reached for this record. Please review existing suggestions first.",
				cfg.MaxPendingPerObject),
			err: models.ErrTooManyPending,
		}
	}

	octx, err := s.catalog.Context(ctx, objectID, cfg.IncludeOCR, cfg.MaxOCRChars)
	if err != nil {
		return nil, err
	}
	tmpl, ok := cfg.TemplateFor(octx.LevelOfDescription)
	if !ok {
		return nil, &reasonError{reason: "No prompt template available", err: models.ErrValidation}
	}
	system, user, err := renderPrompt(tmpl, octx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := s.gen.GenerateWithSystem(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("generate suggestion: %w", err)
	}
	elapsed := time.Since(start)
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return nil, errors.New("generate suggestion: empty response")
	}
	model := out.Model
	if model == "" {
		model = s.gen.Model()
	}

	now := s.now()
	sg := models.Suggestion{
		ID:               uuid.NewString(),
		ObjectID:         objectID,
		SuggestedText:    text,
		ExistingText:     octx.ScopeAndContent,
		TemplateName:     tmpl.Name,
		SourceFields:     octx.Fields(),
		HasOCR:           octx.OCRText != "",
		Status:           models.SuggestionPending,
		ModelUsed:        model,
		TokensUsed:       out.TotalTokens(),
		GenerationTimeMs: elapsed.Milliseconds(),
		CreatedBy:        createdBy,
		CreatedAt:        now,
	}
	if cfg.AutoExpireDays > 0 {
		exp := now.AddDate(0, 0, cfg.AutoExpireDays)
		sg.ExpiresAt = &exp
	}
	if err := s.store.CreateSuggestion(ctx, sg); err != nil {
		return nil, fmt.Errorf("store suggestion: %w", err)
	}

	s.log.Info("suggestion generated", "object_id", objectID, "suggestion_id", sg.ID,
		"template", tmpl.Name, "tokens", sg.TokensUsed, "duration_ms", sg.GenerationTimeMs)
	return &SuggestResult{
		SuggestionID:     sg.ID,
		TemplateName:     sg.TemplateName,
		HasOCR:           sg.HasOCR,
		ExistingText:     sg.ExistingText,
		SuggestedText:    sg.SuggestedText,
		ModelUsed:        sg.ModelUsed,
		TokensUsed:       sg.TokensUsed,
		GenerationTimeMs: sg.GenerationTimeMs,
	}, nil
}

func renderPrompt(t config.PromptTemplate, octx models.ObjectContext) (system, user string, err error) {
	render := func(name, text string) (string, error) {
		tpl, err := template.New(name).Option("missingkey=zero").Parse(text)
		if err != nil {
			return "", fmt.Errorf("parse %s prompt of %q: %w", name, t.Name, err)
		}
		var b strings.Builder
		if err := tpl.Execute(&b, octx); err != nil {
			return "", fmt.Errorf("render %s prompt of %q: %w", name, t.Name, err)
		}
		return b.String(), nil
	}
	if system, err = render("system", t.System); err != nil {
		return "", "", err
	}
	if user, err = render("user", t.User); err != nil {
		return "", "", err
	}
	return system, user, nil
}

// Decide approves or rejects a pending suggestion. Approving writes the
// suggested text, or the reviewer's edit of it, to scope and content.
func (s *SuggestionService) Decide(ctx context.Context, id string, req DecisionRequest) (*models.Suggestion, error) {
	sg, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if sg.Status != models.SuggestionPending {
		return nil, errAlreadyProcessed
	}
	pending := *sg

	text := sg.SuggestedText
	switch req.Decision {
	case "approve":
		sg.Status = models.SuggestionApproved
		if edited := strings.TrimSpace(req.EditedText); edited != "" && edited != sg.SuggestedText {
			text = edited
			sg.EditedText = edited
			sg.Status = models.SuggestionEdited
		}
	case "reject":
		sg.Status = models.SuggestionRejected
	default:
		return nil, fmt.Errorf("%w: decision must be approve or reject", models.ErrValidation)
	}

	now := s.now()
	sg.ReviewNotes = req.Notes
	sg.ReviewedBy = req.ReviewedBy
	sg.ReviewedAt = &now
	ok, err := s.store.UpdateSuggestion(ctx, *sg, models.SuggestionPending)
	if err != nil {
		return nil, fmt.Errorf("update suggestion: %w", err)
	}
	if !ok {
		return nil, errAlreadyProcessed
	}

	if sg.Status != models.SuggestionRejected {
		if err := s.catalog.UpdateScopeAndContent(ctx, sg.ObjectID, text); err != nil {
			// Put the suggestion back up for review.
			if _, rerr := s.store.UpdateSuggestion(ctx, pending, sg.Status); rerr != nil {
				s.log.Error("reopen suggestion", "suggestion_id", id, "error", rerr)
			}
			return nil, fmt.Errorf("save description: %w", err)
		}
	}
	s.log.Info("suggestion reviewed", "suggestion_id", id, "object_id", sg.ObjectID, "status", sg.Status)
	return sg, nil
}

// View returns a suggestion with its object's slug and title.
func (s *SuggestionService) View(ctx context.Context, id string) (*SuggestionView, error) {
	sg, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &SuggestionView{Suggestion: *sg}
	obj, err := s.catalog.Object(ctx, sg.ObjectID)
	switch {
	case err == nil:
		v.ObjectSlug, v.ObjectTitle = obj.Slug, obj.Title
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}
	return v, nil
}

// List returns suggestions, newest first.
func (s *SuggestionService) List(ctx context.Context, f models.SuggestionFilter) ([]models.Suggestion, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return s.store.ListSuggestions(ctx, f)
}

// Stats aggregates suggestion outcomes.
func (s *SuggestionService) Stats(ctx context.Context) (models.SuggestionStats, error) {
	return s.store.SuggestionStats(ctx)
}

// CleanupExpired deletes pending suggestions past their expiry.
func (s *SuggestionService) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredSuggestions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired suggestions: %w", err)
	}
	if n > 0 {
		s.log.Info("expired suggestions removed", "count", n)
	}
	return n, nil
}
