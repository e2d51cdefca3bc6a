// Package server exposes the AI, NER, forms and reports workflows over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/forms"
	"github.com/raphaelgruber/atom-ai/internal/metrics"
	"github.com/raphaelgruber/atom-ai/internal/reports"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

// HealthChecker reports whether the LLM provider answers.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Model() string
	Provider() config.LLMProvider
}

// Deps are the services behind the routes. LLM may be nil when no provider
// is configured.
type Deps struct {
	Batches     *service.BatchService
	NER         *service.NERService
	Summarizer  *service.SummarizeService
	Suggestions *service.SuggestionService
	Forms       *forms.Service
	Reports     *reports.Engine
	Metrics     *metrics.Collector
	Settings    *config.SettingsStore
	LLM         HealthChecker
}

// Server wraps the gin router with its dependencies and lifecycle.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *slog.Logger
}

// New builds the router. apiKey protects every route except /health when set.
func New(deps Deps, apiKey string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registerValidators()

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), LoggingMiddleware(logger), SecurityHeaders())

	s := &Server{deps: deps, router: router, logger: logger}
	s.routes(apiKey)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(apiKey string) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/", APIKeyRequired(apiKey))

	ner := api.Group("/ner")
	ner.POST("/extract/:objectId", s.extractEntities)
	ner.POST("/summarize/:objectId", s.summarize)
	ner.GET("/entities/:objectId", s.entities)
	ner.POST("/bulk-save", s.bulkSave)

	ai := api.Group("/ai")
	ai.POST("/suggest/:id", s.generateSuggestion)
	ai.POST("/suggest/:id/decision", s.decideSuggestion)
	ai.GET("/suggest/:id/view", s.viewSuggestion)
	ai.GET("/suggestions", s.listSuggestions)
	ai.GET("/suggestions/stats", s.suggestionStats)
	ai.GET("/review", s.reviewDashboard)
	ai.GET("/ner/review", s.nerReviewQueue)
	ai.GET("/llm/health", s.llmHealth)
	ai.GET("/metrics", s.metricsSnapshot)
	ai.GET("/task-types", s.taskTypes)

	ai.GET("/batches", s.listBatches)
	ai.POST("/batch/create", s.createBatch)
	ai.GET("/batch/:id", s.getBatch)
	ai.DELETE("/batch/:id", s.deleteBatch)
	ai.POST("/batch/:id/action", s.batchAction)
	ai.GET("/batch/:id/progress", s.batchProgress)
	ai.GET("/batch/:id/jobs", s.batchJobs)
	ai.GET("/batch/:id/log", s.batchLog)
	ai.GET("/batch/:id/stream", s.streamProgress)

	f := api.Group("/forms")
	f.POST("/resolve", s.resolveForm)
	f.GET("/templates", s.listTemplates)
	f.POST("/templates", s.createTemplate)
	f.GET("/templates/:id", s.getTemplate)
	f.PUT("/templates/:id", s.updateTemplate)
	f.DELETE("/templates/:id", s.deleteTemplate)
	f.POST("/templates/:id/clone", s.cloneTemplate)
	f.GET("/templates/:id/export", s.exportTemplate)
	f.GET("/templates/:id/fields", s.listFields)
	f.POST("/templates/:id/fields", s.addField)
	f.POST("/templates/:id/fields/reorder", s.reorderFields)
	f.PUT("/fields/:id", s.updateField)
	f.DELETE("/fields/:id", s.deleteField)
	f.GET("/assignments", s.listAssignments)
	f.POST("/assignments", s.createAssignment)
	f.DELETE("/assignments/:id", s.deleteAssignment)
	f.PUT("/drafts", s.saveDraft)
	f.GET("/drafts", s.listDrafts)
	f.DELETE("/drafts/:id", s.deleteDraft)
	f.POST("/import", s.importTemplate)
	f.GET("/stats", s.formStats)

	api.GET("/reports", s.listReports)
	api.GET("/reports/:code", s.runReport)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx so progress streams end with the server.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for LLM responses
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
