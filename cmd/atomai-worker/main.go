// Package main provides a standalone job runner for the AI batch queue.
// It shares the job store with atomai-server started with --no-runner.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/atom-ai/internal/app"
	"github.com/raphaelgruber/atom-ai/internal/config"
)

const version = "0.1.0"

func main() {
	workers := flag.Int("workers", 0, "maximum concurrently running jobs (0 for the default)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	if cfg.JobStore == config.StoreMemory {
		logger.Error("atomai-worker needs a shared job store; ATOMAI_STORE=memory only works inside atomai-server")
		os.Exit(1)
	}

	logger.Info("starting atomai-worker",
		"version", version,
		"store", cfg.JobStore,
		"catalog", cfg.CatalogPath,
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.NewSettingsStore(cfg.SettingsFile, logger)
	if err != nil {
		logger.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(startCtx, cfg, settings, logger, app.Options{Workers: *workers})
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return settings.Watch(gctx) })
	g.Go(func() error { return a.Runner.Run(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
