package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/mimetypes"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

// SkipError reports a job that had nothing to work on. The runner records
// it as skipped rather than failed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func skip(reason string) error { return &SkipError{Reason: reason} }

// Executor runs one job and returns its result.
type Executor interface {
	Execute(ctx context.Context, job models.Job, batch models.Batch) (map[string]any, error)
}

// CommandRunner runs an external tool and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args, feeding stdin when non-nil.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// TaskExecutor dispatches jobs to the service implementing their task type.
type TaskExecutor struct {
	catalog     *catalog.Catalog
	ner         *NERService
	summarizer  *SummarizeService
	suggestions *SuggestionService
	gen         Generator
	settings    *config.SettingsStore
	mimes       *mimetypes.Registry
	cmd         CommandRunner
	uploadsDir  string
	log         *slog.Logger
}

// TaskDeps are the collaborators of a TaskExecutor.
type TaskDeps struct {
	Catalog     *catalog.Catalog
	NER         *NERService
	Summarizer  *SummarizeService
	Suggestions *SuggestionService
	Generator   Generator
	Settings    *config.SettingsStore
	Mimes       *mimetypes.Registry
	Commands    CommandRunner
	UploadsDir  string
	Log         *slog.Logger
}

// NewTaskExecutor creates an executor from its collaborators.
func NewTaskExecutor(d TaskDeps) *TaskExecutor {
	if d.Commands == nil {
		d.Commands = ExecRunner{}
	}
	if d.Mimes == nil {
		d.Mimes = mimetypes.NewDefaultRegistry()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &TaskExecutor{
		catalog:     d.Catalog,
		ner:         d.NER,
		summarizer:  d.Summarizer,
		suggestions: d.Suggestions,
		gen:         d.Generator,
		settings:    d.Settings,
		mimes:       d.Mimes,
		cmd:         d.Commands,
		uploadsDir:  d.UploadsDir,
		log:         d.Log,
	}
}

// Execute runs the job's task against its catalog object.
func (x *TaskExecutor) Execute(ctx context.Context, job models.Job, batch models.Batch) (map[string]any, error) {
	switch job.TaskType {
	case models.TaskNER:
		return x.extract(ctx, job)
	case models.TaskSummarize:
		return x.summarize(ctx, job)
	case models.TaskSuggest:
		return x.suggest(ctx, job, batch)
	case models.TaskTranslate:
		return x.translate(ctx, job, batch)
	case models.TaskSpellcheck:
		return x.spellcheck(ctx, job)
	case models.TaskOCR:
		return x.ocr(ctx, job)
	}
	return nil, fmt.Errorf("%w: unknown task type %q", models.ErrValidation, job.TaskType)
}

func (x *TaskExecutor) extract(ctx context.Context, job models.Job) (map[string]any, error) {
	res, err := x.ner.Extract(ctx, job.ObjectID)
	if errors.Is(err, ErrNoText) {
		return nil, skip("No text content")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity_count": res.EntityCount,
		"entities":     res.Entities,
	}, nil
}

func (x *TaskExecutor) summarize(ctx context.Context, job models.Job) (map[string]any, error) {
	res, err := x.summarizer.Summarize(ctx, job.ObjectID, true)
	if errors.Is(err, ErrInsufficientText) {
		return nil, skip("Insufficient text for summarization")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"summary_length":  res.SummaryLength,
		"original_length": res.OriginalLength,
	}, nil
}

func (x *TaskExecutor) suggest(ctx context.Context, job models.Job, batch models.Batch) (map[string]any, error) {
	res, err := x.suggestions.Generate(ctx, job.ObjectID, batch.CreatedBy)
	if errors.Is(err, models.ErrTooManyPending) {
		return nil, skip(err.Error())
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"suggestion_id": res.SuggestionID,
		"tokens_used":   res.TokensUsed,
	}, nil
}

func (x *TaskExecutor) translate(ctx context.Context, job models.Job, batch models.Batch) (map[string]any, error) {
	defaults := x.settings.Current().Translate
	from := batch.OptionString("from_culture", defaults.FromCulture)
	to := batch.OptionString("to_culture", defaults.ToCulture)
	fields := batch.OptionStrings("fields", defaults.Fields)
	if from == to {
		return nil, fmt.Errorf("%w: source and target culture are both %q", models.ErrValidation, from)
	}

	obj, err := x.catalog.Object(ctx, job.ObjectID)
	if err != nil {
		return nil, err
	}
	source := make(map[string]string, len(fields))
	for _, f := range fields {
		col, ok := catalog.TranslatableColumn(f)
		if !ok {
			return nil, fmt.Errorf("%w: field %q cannot be translated", models.ErrValidation, f)
		}
		if v := strings.TrimSpace(objectColumn(obj, col)); v != "" {
			source[f] = v
		}
	}
	if len(source) == 0 {
		return nil, skip("No text to translate")
	}

	system, user, err := llm.TranslatePrompt(source, from, to)
	if err != nil {
		return nil, err
	}
	out, err := x.gen.GenerateWithSystem(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	translated, err := llm.ParseTranslation(out.Text, source)
	if err != nil {
		return nil, err
	}
	if err := x.catalog.SaveTranslation(ctx, job.ObjectID, to, translated); err != nil {
		return nil, err
	}
	return map[string]any{
		"fields_translated": len(translated),
		"from_culture":      from,
		"to_culture":        to,
	}, nil
}

func objectColumn(o *models.ArchivalObject, col string) string {
	switch col {
	case "title":
		return o.Title
	case "scope_and_content":
		return o.ScopeAndContent
	case "archival_history":
		return o.ArchivalHistory
	case "extent_and_medium":
		return o.ExtentAndMedium
	case "arrangement":
		return o.Arrangement
	case "physical_characteristics":
		return o.PhysicalCharacteristics
	}
	return ""
}

var spellcheckFields = []struct{ name, col string }{
	{"title", "title"},
	{"scopeAndContent", "scope_and_content"},
	{"archivalHistory", "archival_history"},
}

func (x *TaskExecutor) spellcheck(ctx context.Context, job models.Job) (map[string]any, error) {
	cfg := x.settings.Current().Spellcheck
	obj, err := x.catalog.Object(ctx, job.ObjectID)
	if err != nil {
		return nil, err
	}
	flagged := make(map[string][]string)
	count := 0
	for _, f := range spellcheckFields {
		text := objectColumn(obj, f.col)
		if strings.TrimSpace(text) == "" {
			continue
		}
		out, err := x.cmd.Run(ctx, strings.NewReader(text), cfg.Command, "-l", cfg.Language, "list")
		if err != nil {
			return nil, fmt.Errorf("spellcheck %s: %w", f.name, err)
		}
		words := uniqueLines(out)
		if len(words) > 0 {
			flagged[f.name] = words
			count += len(words)
		}
	}
	return map[string]any{
		"error_count": count,
		"errors":      flagged,
	}, nil
}

func uniqueLines(out []byte) []string {
	var words []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if w := strings.TrimSpace(sc.Text()); w != "" {
			words = append(words, w)
		}
	}
	slices.Sort(words)
	return slices.Compact(words)
}

func (x *TaskExecutor) ocr(ctx context.Context, job models.Job) (map[string]any, error) {
	cfg := x.settings.Current().OCR
	files, err := x.catalog.DigitalObjects(ctx, job.ObjectID)
	if err != nil {
		return nil, err
	}

	var (
		text  strings.Builder
		pages int
	)
	for _, f := range files {
		path := f.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(x.uploadsDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			x.log.Warn("digital object file missing", "object_id", job.ObjectID, "path", path)
			continue
		}
		mime := f.MimeType
		if mime == "" || mime == "application/octet-stream" {
			if mime, err = x.mimes.Detect(path); err != nil {
				return nil, err
			}
		}

		var out []byte
		switch {
		case mimetypes.IsImage(mime):
			out, err = x.cmd.Run(ctx, nil, cfg.Tesseract, path, "stdout", "-l", cfg.Language)
		case mimetypes.IsPDF(mime):
			out, err = x.cmd.Run(ctx, nil, cfg.PdfToText, "-enc", "UTF-8", path, "-")
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ocr %s: %w", f.Name, err)
		}
		if s := strings.TrimSpace(string(out)); s != "" {
			text.WriteString(s)
			text.WriteString("\n")
			pages++
		}
	}

	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, skip("No OCR text extracted")
	}
	stored, err := x.catalog.SaveOCRText(ctx, job.ObjectID, content)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"text_length":     len(content),
		"pages_processed": pages,
		"stored":          stored,
	}, nil
}
