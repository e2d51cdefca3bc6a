package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

type suggestResponse struct {
	Success bool `json:"success"`
	*service.SuggestResult
}

type suggestionViewResponse struct {
	Success bool `json:"success"`
	*service.SuggestionView
}

func (s *Server) generateSuggestion(c *gin.Context) {
	objectID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	res, err := s.deps.Suggestions.Generate(c.Request.Context(), objectID, user(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, suggestResponse{Success: true, SuggestResult: res})
}

func (s *Server) decideSuggestion(c *gin.Context) {
	var req service.DecisionRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ReviewedBy = user(c)
	sg, err := s.deps.Suggestions.Decide(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": sg.Status})
}

func (s *Server) viewSuggestion(c *gin.Context) {
	v, err := s.deps.Suggestions.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, suggestionViewResponse{Success: true, SuggestionView: v})
}

func (s *Server) listSuggestions(c *gin.Context) {
	f := models.SuggestionFilter{
		Status: models.SuggestionStatus(c.Query("status")),
		Limit:  intQuery(c, "limit", 50),
	}
	if id := intQuery(c, "object_id", 0); id > 0 {
		f.ObjectID = int64(id)
	}
	list, err := s.deps.Suggestions.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "suggestions": list})
}

func (s *Server) suggestionStats(c *gin.Context) {
	stats, err := s.deps.Suggestions.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// reviewDashboard lists the pending suggestions with the overall counts.
func (s *Server) reviewDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	pending, err := s.deps.Suggestions.List(ctx, models.SuggestionFilter{
		Status: models.SuggestionPending,
		Limit:  intQuery(c, "limit", 50),
	})
	if err != nil {
		fail(c, err)
		return
	}
	stats, err := s.deps.Suggestions.Stats(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pending": pending, "stats": stats})
}

func (s *Server) nerReviewQueue(c *gin.Context) {
	objects, err := s.deps.NER.ReviewQueue(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "objects": objects})
}

func (s *Server) llmHealth(c *gin.Context) {
	if s.deps.LLM == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "healthy": false, "error": "no LLM provider configured"})
		return
	}
	start := time.Now()
	err := s.deps.LLM.Ping(c.Request.Context())
	body := gin.H{
		"success":    err == nil,
		"healthy":    err == nil,
		"provider":   s.deps.LLM.Provider(),
		"model":      s.deps.LLM.Model(),
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.logger.Warn("llm health check failed", "provider", s.deps.LLM.Provider(), "error", err)
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) metricsSnapshot(c *gin.Context) {
	if s.deps.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "metrics": s.deps.Metrics.Snapshot()})
}
