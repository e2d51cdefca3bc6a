package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/atom-ai/internal/forms"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

const maxImportBytes = 1 << 20

func (s *Server) resolveForm(c *gin.Context) {
	var req models.ResolveRequest
	if !bindJSON(c, &req) {
		return
	}
	tpl, err := s.deps.Forms.Resolve(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	// A nil template means the caller falls back to the standard edit form.
	c.JSON(http.StatusOK, gin.H{"success": true, "template": tpl})
}

func (s *Server) listTemplates(c *gin.Context) {
	list, err := s.deps.Forms.Templates(c.Request.Context(), c.Query("form_type"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "templates": list})
}

func (s *Server) getTemplate(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	tpl, err := s.deps.Forms.Template(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "template": tpl})
}

func (s *Server) createTemplate(c *gin.Context) {
	var in forms.TemplateInput
	if !bindJSON(c, &in) {
		return
	}
	in.CreatedBy = user(c)
	tpl, err := s.deps.Forms.CreateTemplate(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "template": tpl})
}

func (s *Server) updateTemplate(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var u forms.TemplateUpdate
	if !bindJSON(c, &u) {
		return
	}
	tpl, err := s.deps.Forms.UpdateTemplate(c.Request.Context(), id, u)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "template": tpl})
}

func (s *Server) deleteTemplate(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := s.deps.Forms.DeleteTemplate(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) cloneTemplate(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}
	tpl, err := s.deps.Forms.CloneTemplate(c.Request.Context(), id, body.Name, user(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "template": tpl})
}

func (s *Server) exportTemplate(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	format := c.DefaultQuery("format", forms.FormatYAML)
	data, contentType, err := s.deps.Forms.Export(c.Request.Context(), id, format)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="form-template-%d.%s"`, id, format))
	c.Data(http.StatusOK, contentType, data)
}

// importTemplate reads a YAML or JSON template document from the raw body.
func (s *Server) importTemplate(c *gin.Context) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	if err != nil {
		fail(c, fmt.Errorf("%w: read import body: %s", models.ErrValidation, err.Error()))
		return
	}
	tpl, err := s.deps.Forms.Import(c.Request.Context(), data, c.Query("name"), user(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "template": tpl})
}

func (s *Server) listFields(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	tpl, err := s.deps.Forms.Template(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	fields := tpl.Fields
	if fields == nil {
		fields = []models.FormField{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "fields": fields})
}

func (s *Server) addField(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var f models.FormField
	if !bindJSON(c, &f) {
		return
	}
	field, err := s.deps.Forms.AddField(c.Request.Context(), id, f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "field": field})
}

func (s *Server) updateField(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var f models.FormField
	if !bindJSON(c, &f) {
		return
	}
	field, err := s.deps.Forms.UpdateField(c.Request.Context(), id, f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "field": field})
}

func (s *Server) deleteField(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := s.deps.Forms.DeleteField(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) reorderFields(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var body struct {
		FieldIDs []int64 `json:"field_ids" binding:"required"`
	}
	if !bindJSON(c, &body) {
		return
	}
	if err := s.deps.Forms.ReorderFields(c.Request.Context(), id, body.FieldIDs); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listAssignments(c *gin.Context) {
	list, err := s.deps.Forms.Assignments(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "assignments": list})
}

func (s *Server) createAssignment(c *gin.Context) {
	var a models.FormAssignment
	if !bindJSON(c, &a) {
		return
	}
	created, err := s.deps.Forms.CreateAssignment(c.Request.Context(), a)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "assignment": created})
}

func (s *Server) deleteAssignment(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := s.deps.Forms.DeleteAssignment(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// saveDraft autosaves the caller's draft.
func (s *Server) saveDraft(c *gin.Context) {
	var d models.FormDraft
	if !bindJSON(c, &d) {
		return
	}
	d.UserID = user(c)
	saved, err := s.deps.Forms.SaveDraft(c.Request.Context(), d)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "draft": saved})
}

func (s *Server) listDrafts(c *gin.Context) {
	drafts, err := s.deps.Forms.Drafts(c.Request.Context(), user(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "drafts": drafts})
}

// deleteDraft discards a draft; submitted=true records it as a submission.
func (s *Server) deleteDraft(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	submitted := c.Query("submitted") == "true"
	if err := s.deps.Forms.DeleteDraft(c.Request.Context(), id, submitted); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) formStats(c *gin.Context) {
	stats, err := s.deps.Forms.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}
