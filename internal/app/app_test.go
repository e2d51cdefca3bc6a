package app_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/app"
	"github.com/raphaelgruber/atom-ai/internal/catalog/catalogtest"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

type entityGen struct{}

func (entityGen) GenerateWithSystem(context.Context, string, string) (llm.Completion, error) {
	return llm.Completion{Text: `{"PERSON": ["Jan Smuts"], "GPE": ["Pretoria"]}`, Model: "stub-model"}, nil
}

func (entityGen) Model() string { return "stub-model" }

func newApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Config{
		JobStore:    config.StoreMemory,
		CatalogPath: filepath.Join(t.TempDir(), "atom.db"),
		UploadsDir:  t.TempDir(),
	}
	s := config.DefaultSettings()
	s.Queue.PollIntervalMs = 20
	s.Queue.DelayBetweenMs = 0

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), cfg, config.StaticSettings(s), log, app.Options{Workers: 2, Generator: entityGen{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNewPreparesSchemas(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	templates, err := a.Forms.Templates(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, templates, "system templates are installed")

	defs, err := a.Reports.Definitions(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, defs)

	deps := a.ServerDeps()
	assert.Nil(t, deps.LLM, "no health checker without a configured model")
	assert.Same(t, a.Batches, deps.Batches)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := config.Config{JobStore: "redis", CatalogPath: filepath.Join(t.TempDir(), "atom.db")}
	_, err := app.New(context.Background(), cfg, config.StaticSettings(config.DefaultSettings()), nil, app.Options{Generator: entityGen{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestRunnerProcessesBatch(t *testing.T) {
	a := newApp(t)
	objectID := catalogtest.AddObject(t, a.Catalog, catalogtest.Object{
		Lft: 1, Rgt: 2, Title: "Letters of Jan Smuts written in Pretoria",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	view, err := a.Batches.Create(ctx, service.CreateBatchRequest{
		Name:      "smuts",
		TaskTypes: []models.TaskType{models.TaskNER},
		ObjectIDs: []int64{objectID},
		AutoStart: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, err := a.Batches.Progress(ctx, view.ID)
		return err == nil && p.Status == models.BatchCompleted
	}, 5*time.Second, 20*time.Millisecond)

	pending, err := a.NER.Entities(ctx, objectID)
	require.NoError(t, err)
	assert.Len(t, pending[models.EntityPerson], 1)

	snap := a.Metrics.Snapshot()
	assert.NotNil(t, snap.CatalogQuery)
	assert.Equal(t, int64(1), snap.JobOutcomes["completed"])
}
