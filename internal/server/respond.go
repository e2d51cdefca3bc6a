package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

const userHeader = "X-Atom-User"

// expected errors are reported to the caller without being logged as failures.
var expected = []error{
	models.ErrValidation,
	models.ErrInvalidTransition,
	models.ErrNothingToRetry,
	models.ErrTooManyPending,
	models.ErrAlreadyProcessed,
	models.ErrReadOnly,
	service.ErrNoText,
	service.ErrInsufficientText,
	llm.ErrFatalAPI,
}

// fail writes the error envelope. Missing records are a 404; everything else
// is a 200 with success=false so the UI can show it inline and offer a retry.
func fail(c *gin.Context, err error) {
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	known := false
	for _, e := range expected {
		if errors.Is(err, e) {
			known = true
			break
		}
	}
	if !known {
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
}

// bindJSON decodes the body into v, reporting binding failures as validation errors.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, fmt.Errorf("%w: %s", models.ErrValidation, err.Error()))
		return false
	}
	return true
}

// int64Param parses a numeric path parameter.
func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		fail(c, fmt.Errorf("%w: invalid %s %q", models.ErrValidation, name, c.Param(name)))
		return 0, false
	}
	return v, true
}

// pageQuery reads limit and offset. An explicit limit must be positive and an
// offset must not be negative.
func pageQuery(c *gin.Context, defLimit int) (limit, offset int, ok bool) {
	limit, offset = intQuery(c, "limit", defLimit), intQuery(c, "offset", 0)
	if limit <= 0 || offset < 0 {
		fail(c, fmt.Errorf("%w: limit must be positive and offset non-negative, got limit=%d offset=%d",
			models.ErrValidation, limit, offset))
		return 0, 0, false
	}
	return limit, offset, true
}

// intQuery reads an optional integer query parameter.
func intQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// user identifies the acting AtoM user, as forwarded by the front end.
func user(c *gin.Context) string {
	if u := c.GetHeader(userHeader); u != "" {
		return u
	}
	return "api"
}

var registerOnce sync.Once

// registerValidators adds the custom binding rules to gin's validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("tasktype", func(fl validator.FieldLevel) bool {
			return models.ValidTaskType(models.TaskType(fl.Field().String()))
		})
	})
}
