package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/llm"
)

// ErrInsufficientText is returned when an object has too little text to summarize.
var ErrInsufficientText = errors.New("insufficient text for summarization")

// SummarizeResult is a generated scope and content summary.
type SummarizeResult struct {
	ObjectID         int64  `json:"object_id"`
	Saved            bool   `json:"saved"`
	Source           string `json:"source"`
	Summary          string `json:"summary"`
	SummaryLength    int    `json:"summary_length"`
	OriginalLength   int    `json:"original_length"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Model            string `json:"model,omitempty"`
}

// SummarizeService writes scope and content summaries from an object's metadata.
type SummarizeService struct {
	catalog  *catalog.Catalog
	gen      Generator
	settings *config.SettingsStore
	log      *slog.Logger
}

// NewSummarizeService creates the summarizer.
func NewSummarizeService(cat *catalog.Catalog, gen Generator, settings *config.SettingsStore, log *slog.Logger) *SummarizeService {
	if log == nil {
		log = slog.Default()
	}
	return &SummarizeService{catalog: cat, gen: gen, settings: settings, log: log}
}

// Summarize summarizes an object's metadata and, when save is set, stores
// the summary as its scope and content.
func (s *SummarizeService) Summarize(ctx context.Context, objectID int64, save bool) (*SummarizeResult, error) {
	start := time.Now()
	cfg := s.settings.Current().Summarize
	obj, err := s.catalog.Object(ctx, objectID)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(obj.SummaryText())
	if len([]rune(text)) < cfg.MinLength {
		return nil, ErrInsufficientText
	}

	system, user := llm.SummaryPrompt(text, cfg.MinLength, cfg.MaxLength)
	out, err := s.gen.GenerateWithSystem(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	summary := llm.CleanSummary(out.Text, cfg.MaxLength)
	if summary == "" {
		return nil, errors.New("summarize: empty response")
	}

	res := &SummarizeResult{
		ObjectID:       objectID,
		Source:         "metadata",
		Summary:        summary,
		SummaryLength:  len([]rune(summary)),
		OriginalLength: len([]rune(text)),
		Model:          out.Model,
	}
	if save {
		if err := s.catalog.UpdateScopeAndContent(ctx, objectID, summary); err != nil {
			return nil, fmt.Errorf("save summary: %w", err)
		}
		res.Saved = true
	}
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	s.log.Info("object summarized", "object_id", objectID, "saved", res.Saved,
		"summary_length", res.SummaryLength, "duration_ms", res.ProcessingTimeMs)
	return res, nil
}
