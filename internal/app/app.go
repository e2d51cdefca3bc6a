// Package app wires the stores, catalog, LLM and services shared by the
// server and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/db"
	"github.com/raphaelgruber/atom-ai/internal/forms"
	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/metrics"
	"github.com/raphaelgruber/atom-ai/internal/reports"
	"github.com/raphaelgruber/atom-ai/internal/server"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

var _ service.Store = (*db.Client)(nil)

// App holds every long-lived dependency of a running process.
type App struct {
	Config   config.Config
	Settings *config.SettingsStore
	Metrics  *metrics.Collector
	Logger   *slog.Logger

	Store   service.Store
	Catalog *catalog.Catalog
	Forms   *forms.Service
	Reports *reports.Engine
	LLM     *llm.Model

	Batches     *service.BatchService
	NER         *service.NERService
	Summarizer  *service.SummarizeService
	Suggestions *service.SuggestionService
	Runner      *service.Runner

	closers []func(context.Context) error
}

// Options tune what New builds.
type Options struct {
	// Workers caps concurrently running jobs; 0 uses the runner default.
	Workers int
	// Generator replaces the configured LLM, for tests.
	Generator service.Generator
}

// New connects the job store and the catalog, prepares the forms and report
// schemas and builds the services. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, settings *config.SettingsStore, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{
		Config:   cfg,
		Settings: settings,
		Metrics:  metrics.NewCollector(),
		Logger:   log,
	}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store

	cat, err := catalog.Open(ctx, a.Config.CatalogPath, a.Logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return cat.Close() })
	if err := cat.InitSchema(ctx, true); err != nil {
		return err
	}
	a.Catalog = cat.WithMetrics(a.Metrics)

	a.Forms = forms.New(cat.DB(), a.Logger)
	if err := a.Forms.InitSchema(ctx); err != nil {
		return fmt.Errorf("init forms schema: %w", err)
	}
	n, err := a.Forms.InstallLibrary(ctx)
	if err != nil {
		return fmt.Errorf("install form library: %w", err)
	}
	if n > 0 {
		a.Logger.Info("installed system form templates", "count", n)
	}

	a.Reports = reports.New(cat.DB(), a.Logger)
	if err := a.Reports.InitSchema(ctx); err != nil {
		return fmt.Errorf("init reports schema: %w", err)
	}

	gen := opts.Generator
	if gen == nil {
		model, err := llm.NewModel(ctx, a.Config)
		if err != nil {
			return fmt.Errorf("create llm: %w", err)
		}
		a.LLM = model.WithMetrics(a.Metrics)
		gen = a.LLM
	}

	a.Batches = service.NewBatchService(store, cat, a.Settings, a.Logger).WithMetrics(a.Metrics)
	a.NER = service.NewNERService(store, cat, gen, a.Settings, a.Logger)
	a.Summarizer = service.NewSummarizeService(cat, gen, a.Settings, a.Logger)
	a.Suggestions = service.NewSuggestionService(store, cat, gen, a.Settings, a.Logger)

	exec := service.NewTaskExecutor(service.TaskDeps{
		Catalog:     cat,
		NER:         a.NER,
		Summarizer:  a.Summarizer,
		Suggestions: a.Suggestions,
		Generator:   gen,
		Settings:    a.Settings,
		UploadsDir:  a.Config.UploadsDir,
		Log:         a.Logger,
	})
	a.Runner = service.NewRunner(a.Batches, exec, a.Settings, opts.Workers, a.Logger).WithMetrics(a.Metrics)
	a.Runner.AddCleanup("expired_suggestions", a.Suggestions.CleanupExpired)
	return nil
}

func (a *App) openStore(ctx context.Context) (service.Store, error) {
	switch a.Config.JobStore {
	case config.StoreMemory:
		a.Logger.Warn("using in-memory job store; batches are lost on restart")
		return service.NewMemoryStore(), nil
	case config.StoreSurreal, "":
		client, err := db.NewClient(ctx, db.Config{
			URL:       a.Config.SurrealDBURL,
			Namespace: a.Config.SurrealDBNamespace,
			Database:  a.Config.SurrealDBDatabase,
			Username:  a.Config.SurrealDBUser,
			Password:  a.Config.SurrealDBPass,
			AuthLevel: a.Config.SurrealDBAuthLevel,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		if err := client.InitSchema(ctx); err != nil {
			return nil, err
		}
		return client.WithMetrics(a.Metrics), nil
	default:
		return nil, fmt.Errorf("unknown job store %q", a.Config.JobStore)
	}
}

// ServerDeps exposes the services to the HTTP layer.
func (a *App) ServerDeps() server.Deps {
	deps := server.Deps{
		Batches:     a.Batches,
		NER:         a.NER,
		Summarizer:  a.Summarizer,
		Suggestions: a.Suggestions,
		Forms:       a.Forms,
		Reports:     a.Reports,
		Metrics:     a.Metrics,
		Settings:    a.Settings,
	}
	if a.LLM != nil {
		deps.LLM = a.LLM
	}
	return deps
}

// WipeData clears the AI state in SurrealDB. Use for testing only.
func (a *App) WipeData(ctx context.Context) error {
	if client, ok := a.Store.(*db.Client); ok {
		return client.WipeData(ctx)
	}
	return nil
}

// Close releases the store and catalog in reverse opening order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
