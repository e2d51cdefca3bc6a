package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

type progressResponse struct {
	Success bool `json:"success"`
	*models.Progress
}

type batchResponse struct {
	Success bool `json:"success"`
	*service.BatchDetail
}

func (s *Server) createBatch(c *gin.Context) {
	var req service.CreateBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CreatedBy = user(c)
	b, err := s.deps.Batches.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "batch_id": b.ID, "batch": b})
}

func (s *Server) batchAction(c *gin.Context) {
	var body struct {
		Action string `json:"action" binding:"required"`
	}
	if !bindJSON(c, &body) {
		return
	}
	action, err := models.ParseBatchAction(body.Action)
	if err != nil {
		fail(c, err)
		return
	}
	b, err := s.deps.Batches.Action(c.Request.Context(), c.Param("id"), action)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "batch": b})
}

func (s *Server) batchProgress(c *gin.Context) {
	p, err := s.deps.Batches.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, progressResponse{Success: true, Progress: p})
}

func (s *Server) getBatch(c *gin.Context) {
	b, err := s.deps.Batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batchResponse{Success: true, BatchDetail: b})
}

func (s *Server) listBatches(c *gin.Context) {
	limit, offset, ok := pageQuery(c, 50)
	if !ok {
		return
	}
	f := models.BatchFilter{
		Status:    models.BatchStatus(c.Query("status")),
		CreatedBy: c.Query("created_by"),
		Limit:     limit,
		Offset:    offset,
	}
	batches, err := s.deps.Batches.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "batches": batches})
}

func (s *Server) batchJobs(c *gin.Context) {
	limit, offset, ok := pageQuery(c, 100)
	if !ok {
		return
	}
	f := models.JobFilter{
		Status:   models.JobStatus(c.Query("status")),
		TaskType: models.TaskType(c.Query("task_type")),
		Limit:    limit,
		Offset:   offset,
	}
	jobs, err := s.deps.Batches.Jobs(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": jobs})
}

func (s *Server) batchLog(c *gin.Context) {
	entries, err := s.deps.Batches.Log(c.Request.Context(), c.Param("id"), intQuery(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "log": entries})
}

func (s *Server) deleteBatch(c *gin.Context) {
	if err := s.deps.Batches.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) taskTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "task_types": models.TaskTypes})
}
