package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/catalog/catalogtest"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

type commandCall struct {
	name  string
	args  []string
	stdin string
}

// fakeCommands answers each command name with a canned output.
type fakeCommands struct {
	mu     sync.Mutex
	output map[string]string
	err    error
	calls  []commandCall
}

func (c *fakeCommands) Run(_ context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	call := commandCall{name: name, args: args}
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		call.stdin = string(b)
	}
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return []byte(c.output[name]), nil
}

func newExecutor(f *fixture, gen Generator, cmds CommandRunner, uploads string) *TaskExecutor {
	log := quietLogger()
	return NewTaskExecutor(TaskDeps{
		Catalog:     f.catalog,
		NER:         NewNERService(f.store, f.catalog, gen, f.settings, log),
		Summarizer:  NewSummarizeService(f.catalog, gen, f.settings, log),
		Suggestions: NewSuggestionService(f.store, f.catalog, gen, f.settings, log),
		Generator:   gen,
		Settings:    f.settings,
		Commands:    cmds,
		UploadsDir:  uploads,
		Log:         log,
	})
}

func job(objectID int64, task models.TaskType) models.Job {
	return models.Job{ID: "job", BatchID: "batch", ObjectID: objectID, TaskType: task}
}

func skipReason(t *testing.T, err error) string {
	t.Helper()
	var skipErr *SkipError
	require.ErrorAs(t, err, &skipErr)
	return skipErr.Reason
}

func TestExecuteSkipsObjectsWithoutWork(t *testing.T) {
	f := newFixture(t)
	empty := catalogtest.AddObject(t, f.catalog, catalogtest.Object{})
	described := f.objects(t, 1)[0]
	x := newExecutor(f, &stubGen{text: "{}"}, &fakeCommands{}, t.TempDir())

	tests := []struct {
		name   string
		job    models.Job
		reason string
	}{
		{"ner", job(empty, models.TaskNER), "No text content"},
		{"summarize", job(described, models.TaskSummarize), "Insufficient text for summarization"},
		{"translate", job(empty, models.TaskTranslate), "No text to translate"},
		{"ocr", job(described, models.TaskOCR), "No OCR text extracted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Execute(context.Background(), tt.job, models.Batch{})
			assert.Equal(t, tt.reason, skipReason(t, err))
		})
	}
}

func TestExecuteSuggestSkipsAtPendingLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	x := newExecutor(f, &stubGen{text: "Draft"}, &fakeCommands{}, "")

	for range 3 {
		res, err := x.Execute(ctx, job(id, models.TaskSuggest), models.Batch{CreatedBy: "admin"})
		require.NoError(t, err)
		assert.NotEmpty(t, res["suggestion_id"])
		assert.Equal(t, 15, res["tokens_used"])
	}
	_, err := x.Execute(ctx, job(id, models.TaskSuggest), models.Batch{})
	assert.Contains(t, skipReason(t, err), "Maximum pending suggestions (3)")
}

func TestExecuteNER(t *testing.T) {
	f := newFixture(t)
	id := catalogtest.AddObject(t, f.catalog, catalogtest.Object{Title: "Letters of Jan Smuts"})
	x := newExecutor(f, &stubGen{text: `{"PERSON": ["Jan Smuts"]}`}, &fakeCommands{}, "")

	res, err := x.Execute(context.Background(), job(id, models.TaskNER), models.Batch{})
	require.NoError(t, err)
	assert.Equal(t, 1, res["entity_count"])
}

func TestExecuteTranslate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := catalogtest.AddObject(t, f.catalog, catalogtest.Object{Title: "Letters", Scope: "Letters and papers"})
	gen := &stubGen{text: `{"title": "Briewe", "scopeAndContent": "Briewe en papiere", "extra": "ignored"}`}
	x := newExecutor(f, gen, &fakeCommands{}, "")

	res, err := x.Execute(ctx, job(id, models.TaskTranslate), models.Batch{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fields_translated": 2, "from_culture": "en", "to_culture": "af"}, res)
	assert.Contains(t, gen.systems[0], `"af"`)
	assert.Equal(t, 1, countRows(t, f.catalog,
		`SELECT COUNT(*) FROM information_object_i18n WHERE id = ? AND culture = 'af' AND title = 'Briewe'`, id))

	_, err = x.Execute(ctx, job(id, models.TaskTranslate), models.Batch{
		Options: map[string]any{"from_culture": "en", "to_culture": "en"},
	})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = x.Execute(ctx, job(id, models.TaskTranslate), models.Batch{
		Options: map[string]any{"fields": []any{"nonsense"}},
	})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestExecuteSpellcheck(t *testing.T) {
	f := newFixture(t)
	id := catalogtest.AddObject(t, f.catalog, catalogtest.Object{Title: "Leters", Scope: "Papres and leters"})
	cmds := &fakeCommands{output: map[string]string{"aspell": "Leters\nPapres\nleters\nPapres\n\n"}}
	x := newExecutor(f, &stubGen{}, cmds, "")

	res, err := x.Execute(context.Background(), job(id, models.TaskSpellcheck), models.Batch{})
	require.NoError(t, err)
	assert.Equal(t, 6, res["error_count"])
	assert.Equal(t, map[string][]string{
		"title":           {"Leters", "Papres", "leters"},
		"scopeAndContent": {"Leters", "Papres", "leters"},
	}, res["errors"])

	require.Len(t, cmds.calls, 2, "empty fields are not checked")
	assert.Equal(t, []string{"-l", "en", "list"}, cmds.calls[0].args)
	assert.Equal(t, "Leters", cmds.calls[0].stdin)
	assert.Equal(t, "Papres and leters", cmds.calls[1].stdin)
}

func TestExecuteSpellcheckCommandFailure(t *testing.T) {
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	x := newExecutor(f, &stubGen{}, &fakeCommands{err: errors.New("aspell: not found")}, "")

	_, err := x.Execute(context.Background(), job(id, models.TaskSpellcheck), models.Batch{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spellcheck title")
}

func TestExecuteOCR(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uploads := t.TempDir()
	id := f.objects(t, 1)[0]

	require.NoError(t, os.WriteFile(filepath.Join(uploads, "scan.png"), []byte("png"), 0o644))
	pdf := filepath.Join(uploads, "letter.bin")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "notes.txt"), []byte("plain"), 0o644))

	catalogtest.AddDigitalObject(t, f.catalog, id, "scan.png", "scan.png", "image/png")
	catalogtest.AddDigitalObject(t, f.catalog, id, "letter", pdf, "application/octet-stream")
	catalogtest.AddDigitalObject(t, f.catalog, id, "notes", "notes.txt", "text/plain")
	catalogtest.AddDigitalObject(t, f.catalog, id, "gone", "missing.png", "image/png")

	cmds := &fakeCommands{output: map[string]string{
		"tesseract": "Dear Sir,\n",
		"pdftotext": "  Yours faithfully  ",
	}}
	x := newExecutor(f, &stubGen{}, cmds, uploads)

	res, err := x.Execute(ctx, job(id, models.TaskOCR), models.Batch{})
	require.NoError(t, err)
	want := "Dear Sir,\nYours faithfully"
	assert.Equal(t, len(want), res["text_length"])
	assert.Equal(t, 2, res["pages_processed"])
	assert.Equal(t, true, res["stored"])

	require.Len(t, cmds.calls, 2)
	assert.Equal(t, []string{filepath.Join(uploads, "scan.png"), "stdout", "-l", "eng"}, cmds.calls[0].args)
	assert.Equal(t, []string{"-enc", "UTF-8", pdf, "-"}, cmds.calls[1].args)

	text, err := f.catalog.OCRText(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, text)
	assert.False(t, strings.HasSuffix(text, "\n"))
}

func TestExecuteUnknownTask(t *testing.T) {
	f := newFixture(t)
	x := newExecutor(f, &stubGen{}, &fakeCommands{}, "")
	_, err := x.Execute(context.Background(), job(1, "mystery"), models.Batch{})
	require.ErrorIs(t, err, models.ErrValidation)
}
