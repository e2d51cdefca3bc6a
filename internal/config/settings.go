package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the operator-tunable behavior of the AI workflows. A Settings
// value is never mutated after it is published by a SettingsStore.
type Settings struct {
	Queue      QueueSettings      `yaml:"queue"`
	Suggest    SuggestSettings    `yaml:"suggest"`
	Summarize  SummarizeSettings  `yaml:"summarize"`
	Translate  TranslateSettings  `yaml:"translate"`
	Spellcheck SpellcheckSettings `yaml:"spellcheck"`
	OCR        OCRSettings        `yaml:"ocr"`
	NER        NERSettings        `yaml:"ner"`
}

// QueueSettings are the defaults applied to new batches and the runner.
type QueueSettings struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	DelayBetweenMs int `yaml:"delay_between_ms"`
	MaxRetries     int `yaml:"max_retries"`
	Priority       int `yaml:"priority"`
	CleanupDays    int `yaml:"cleanup_days"`
	// PollIntervalMs is how often the runner looks for queued jobs.
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// ProgressPollSeconds is how often clients refresh batch progress.
	ProgressPollSeconds int `yaml:"progress_poll_seconds"`
}

// SuggestSettings control description suggestions.
type SuggestSettings struct {
	MaxPendingPerObject int              `yaml:"max_pending_per_object"`
	AutoExpireDays      int              `yaml:"auto_expire_days"`
	IncludeOCR          bool             `yaml:"include_ocr"`
	MaxOCRChars         int              `yaml:"max_ocr_chars"`
	Templates           []PromptTemplate `yaml:"templates"`
}

// PromptTemplate is a named system/user prompt pair rendered with
// text/template against the object context. Levels restricts the template to
// those levels of description; an empty list matches any level.
type PromptTemplate struct {
	Name    string   `yaml:"name"`
	Levels  []string `yaml:"levels,omitempty"`
	System  string   `yaml:"system"`
	User    string   `yaml:"user"`
	Default bool     `yaml:"default,omitempty"`
}

// TemplateFor picks the prompt template for a level of description: the first
// template listing the level, else the default template, else the first one.
func (s SuggestSettings) TemplateFor(level string) (PromptTemplate, bool) {
	if len(s.Templates) == 0 {
		return PromptTemplate{}, false
	}
	for _, t := range s.Templates {
		for _, l := range t.Levels {
			if strings.EqualFold(l, level) {
				return t, true
			}
		}
	}
	for _, t := range s.Templates {
		if t.Default {
			return t, true
		}
	}
	return s.Templates[0], true
}

// SummarizeSettings bound the summarizer input and output.
type SummarizeSettings struct {
	MinLength int `yaml:"min_length"`
	MaxLength int `yaml:"max_length"`
}

// TranslateSettings are the defaults of the translate task.
type TranslateSettings struct {
	FromCulture string   `yaml:"from_culture"`
	ToCulture   string   `yaml:"to_culture"`
	Fields      []string `yaml:"fields"`
}

// SpellcheckSettings configure the aspell invocation.
type SpellcheckSettings struct {
	Language string `yaml:"language"`
	Command  string `yaml:"command"`
}

// OCRSettings configure the external OCR tools.
type OCRSettings struct {
	Tesseract string `yaml:"tesseract"`
	PdfToText string `yaml:"pdftotext"`
	Language  string `yaml:"language"`
}

// NERSettings bound entity extraction.
type NERSettings struct {
	MaxTextChars int `yaml:"max_text_chars"`
}

// DefaultSettings returns the settings used when no file overrides them.
func DefaultSettings() Settings {
	return Settings{
		Queue: QueueSettings{
			MaxConcurrent:       5,
			DelayBetweenMs:      1000,
			MaxRetries:          3,
			Priority:            5,
			CleanupDays:         30,
			PollIntervalMs:      2000,
			ProgressPollSeconds: 5,
		},
		Suggest: SuggestSettings{
			MaxPendingPerObject: 3,
			AutoExpireDays:      30,
			IncludeOCR:          true,
			MaxOCRChars:         4000,
			Templates: []PromptTemplate{
				{
					Name:    "Standard archival description",
					Default: true,
					System: "You are an experienced archivist writing ISAD(G) compliant descriptions. " +
						"Write a concise scope and content note in plain prose. Do not invent facts that are not in the record.",
					User: "Write a scope and content description for this archival record.\n\n" +
						"Title: {{.Title}}\n" +
						"{{with .Identifier}}Identifier: {{.}}\n{{end}}" +
						"{{with .LevelOfDescription}}Level of description: {{.}}\n{{end}}" +
						"{{with .DateRange}}Dates: {{.}}\n{{end}}" +
						"{{with .Creator}}Creator: {{.}}\n{{end}}" +
						"{{with .Repository}}Repository: {{.}}\n{{end}}" +
						"{{with .ExtentAndMedium}}Extent and medium: {{.}}\n{{end}}" +
						"{{with .ArchivalHistory}}Archival history: {{.}}\n{{end}}" +
						"{{with .Arrangement}}Arrangement: {{.}}\n{{end}}" +
						"{{with .ScopeAndContent}}\nExisting description:\n{{.}}\n{{end}}" +
						"{{with .OCRText}}\nText transcribed from the digitized item:\n{{.}}\n{{end}}",
				},
				{
					Name:   "Item level photograph",
					Levels: []string{"Item", "File"},
					System: "You are an archivist describing individual items. Describe what the item shows or records " +
						"in two to four sentences. Do not invent facts that are not in the record.",
					User: "Describe this item.\n\nTitle: {{.Title}}\n" +
						"{{with .DateRange}}Dates: {{.}}\n{{end}}" +
						"{{with .Creator}}Creator: {{.}}\n{{end}}" +
						"{{with .OCRText}}\nTranscribed text:\n{{.}}\n{{end}}",
				},
			},
		},
		Summarize: SummarizeSettings{MinLength: 200, MaxLength: 1000},
		Translate: TranslateSettings{
			FromCulture: "en",
			ToCulture:   "af",
			Fields:      []string{"title", "scopeAndContent"},
		},
		Spellcheck: SpellcheckSettings{Language: "en", Command: "aspell"},
		OCR:        OCRSettings{Tesseract: "tesseract", PdfToText: "pdftotext", Language: "eng"},
		NER:        NERSettings{MaxTextChars: 12000},
	}
}

// LoadSettings reads a YAML settings file over DefaultSettings. A missing
// file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Validate rejects settings the queue cannot run with.
func (s Settings) Validate() error {
	switch {
	case s.Queue.MaxConcurrent < 1:
		return errors.New("queue.max_concurrent must be at least 1")
	case s.Queue.DelayBetweenMs < 0:
		return errors.New("queue.delay_between_ms must not be negative")
	case s.Queue.MaxRetries < 1:
		return errors.New("queue.max_retries must be at least 1")
	case s.Suggest.MaxPendingPerObject < 1:
		return errors.New("suggest.max_pending_per_object must be at least 1")
	}
	for _, t := range s.Suggest.Templates {
		if t.Name == "" || t.User == "" {
			return errors.New("suggest.templates entries need a name and a user prompt")
		}
	}
	return nil
}

// SettingsStore publishes the current Settings and swaps them on Reload.
type SettingsStore struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	current Settings
}

// NewSettingsStore loads path and returns a store holding the result.
func NewSettingsStore(path string, log *slog.Logger) (*SettingsStore, error) {
	if log == nil {
		log = slog.Default()
	}
	s, err := LoadSettings(path)
	if err != nil {
		return nil, err
	}
	return &SettingsStore{path: path, log: log, current: s}, nil
}

// StaticSettings wraps fixed settings in a store that never reloads.
func StaticSettings(s Settings) *SettingsStore {
	return &SettingsStore{log: slog.Default(), current: s}
}

// Current returns the settings in effect.
func (s *SettingsStore) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Path returns the backing file, empty for static stores.
func (s *SettingsStore) Path() string {
	return s.path
}

// Reload re-reads the settings file. On error the previous settings stay in effect.
func (s *SettingsStore) Reload() error {
	if s.path == "" {
		return nil
	}
	next, err := LoadSettings(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	s.log.Info("settings reloaded", "file", s.path)
	return nil
}
