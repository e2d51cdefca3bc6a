package server

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/reports"
)

// reserved query keys are paging controls, never report filters.
var reserved = []string{"page", "limit", "sort", "dir", "format"}

func (s *Server) listReports(c *gin.Context) {
	defs, err := s.deps.Reports.Definitions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reports": defs})
}

// runReport returns one page as JSON, or a download when format is set.
// Downloads default to the largest page.
func (s *Server) runReport(c *gin.Context) {
	format := c.Query("format")
	q := reports.Query{
		Params: make(map[string]string),
		Page:   intQuery(c, "page", 1),
		Limit:  intQuery(c, "limit", 0),
		Sort:   c.Query("sort"),
		Dir:    c.Query("dir"),
	}
	if format != "" && q.Limit == 0 {
		q.Limit = reports.MaxLimit
	}
	for key, vals := range c.Request.URL.Query() {
		if !slices.Contains(reserved, key) && len(vals) > 0 {
			q.Params[key] = vals[0]
		}
	}

	res, err := s.deps.Reports.Run(c.Request.Context(), c.Param("code"), q)
	if err != nil {
		fail(c, err)
		return
	}
	if format == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "report": res})
		return
	}
	if !slices.Contains(res.Definition.OutputFormats, format) {
		fail(c, fmt.Errorf("%w: report %s cannot be exported as %s", models.ErrValidation, res.Definition.Code, format))
		return
	}
	out, err := s.deps.Reports.Render(res, format)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, out.Filename))
	c.Data(http.StatusOK, out.ContentType, out.Body)
}
