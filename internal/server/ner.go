package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

type extractResponse struct {
	Success bool `json:"success"`
	*service.ExtractResult
}

type summarizeResponse struct {
	Success bool `json:"success"`
	*service.SummarizeResult
}

func (s *Server) extractEntities(c *gin.Context) {
	objectID, ok := int64Param(c, "objectId")
	if !ok {
		return
	}
	res, err := s.deps.NER.Extract(c.Request.Context(), objectID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, extractResponse{Success: true, ExtractResult: res})
}

// summarize saves the summary unless the request asks for a preview with save=false.
func (s *Server) summarize(c *gin.Context) {
	objectID, ok := int64Param(c, "objectId")
	if !ok {
		return
	}
	save := c.DefaultQuery("save", "true") != "false"
	res, err := s.deps.Summarizer.Summarize(c.Request.Context(), objectID, save)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summarizeResponse{Success: true, SummarizeResult: res})
}

func (s *Server) entities(c *gin.Context) {
	objectID, ok := int64Param(c, "objectId")
	if !ok {
		return
	}
	items, err := s.deps.NER.Entities(c.Request.Context(), objectID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entities": items})
}

func (s *Server) bulkSave(c *gin.Context) {
	var body struct {
		Decisions []models.Decision `json:"decisions" binding:"required,dive"`
	}
	if !bindJSON(c, &body) {
		return
	}
	res := s.deps.NER.BulkSave(c.Request.Context(), body.Decisions)
	c.JSON(http.StatusOK, gin.H{"success": res.Failed == 0, "results": res})
}
