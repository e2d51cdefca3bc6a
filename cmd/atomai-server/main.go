// Package main provides the HTTP API server for the AtoM AI plugins.
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
	"github.com/raphaelgruber/atom-ai/internal/server"
)

const version = "0.1.0"

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all AI state from the job store on startup (testing only)")
	noRunner := flag.Bool("no-runner", false, "serve the API only; jobs run in atomai-worker")
	workers := flag.Int("workers", 0, "maximum concurrently running jobs (0 for the default)")
	flag.Parse()

	cfg := config.Load()

	// Dual output: stderr text + file JSON
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("starting atomai-server",
		"version", version,
		"addr", cfg.ServerAddr,
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

	if *wipeDB || os.Getenv("ATOMAI_WIPE_DB") == "true" {
		if err := a.WipeData(ctx); err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	if cfg.APIKey == "" {
		logger.Warn("ATOMAI_API_KEY is empty; the API accepts unauthenticated requests")
	}
	srv := server.New(a.ServerDeps(), cfg.APIKey, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return settings.Watch(gctx) })
	if !*noRunner {
		g.Go(func() error { return a.Runner.Run(gctx) })
	}
	g.Go(func() error { return srv.Run(gctx, cfg.ServerAddr) })

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
