package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/catalog/catalogtest"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/db"
	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

var (
	_ Store     = (*MemoryStore)(nil)
	_ Store     = (*db.Client)(nil)
	_ Generator = (*llm.Model)(nil)
	_ Executor  = (*TaskExecutor)(nil)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubGen answers every prompt with a fixed completion and records the prompts.
type stubGen struct {
	mu      sync.Mutex
	text    string
	err     error
	systems []string
	users   []string
}

func (g *stubGen) GenerateWithSystem(_ context.Context, system, user string) (llm.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.systems = append(g.systems, system)
	g.users = append(g.users, user)
	if g.err != nil {
		return llm.Completion{}, g.err
	}
	return llm.Completion{Text: g.text, Model: "stub-model", InputTokens: 10, OutputTokens: 5}, nil
}

func (g *stubGen) Model() string { return "stub-model" }

func (g *stubGen) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.users)
}

type execFunc func(ctx context.Context, job models.Job, b models.Batch) (map[string]any, error)

func (f execFunc) Execute(ctx context.Context, job models.Job, b models.Batch) (map[string]any, error) {
	return f(ctx, job, b)
}

type fixture struct {
	store    *MemoryStore
	catalog  *catalog.Catalog
	settings *config.SettingsStore
	batches  *BatchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	cat := catalogtest.New(t)
	settings := config.StaticSettings(config.DefaultSettings())
	return &fixture{
		store:    store,
		catalog:  cat,
		settings: settings,
		batches:  NewBatchService(store, cat, settings, quietLogger()),
	}
}

// objects adds n described objects and returns their ids.
func (f *fixture) objects(t *testing.T, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = catalogtest.AddObject(t, f.catalog, catalogtest.Object{
			Title: "Object", Scope: "Letters and papers",
		})
	}
	return ids
}

func intp(v int) *int { return &v }
