package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

func resetCreateFlags(t *testing.T) {
	t.Helper()
	batchName, batchDescription = "letters", ""
	batchTasks = []string{"ner"}
	batchObjects = nil
	batchRepository, batchLimit = 0, 0
	batchEmptyScopeOnly, batchStart = false, false
	batchMaxConcurrent, batchPriority = 0, 0
	batchDelayMs, batchRetries = -1, -1
	batchTargetCulture = ""
}

func TestBuildCreateRequest(t *testing.T) {
	resetCreateFlags(t)
	batchTasks = []string{"ner", " translate"}
	batchObjects = []string{"4", "7", ""}
	batchDelayMs = 0
	batchPriority = 2
	batchTargetCulture = "fr"
	batchStart = true

	req, err := buildCreateRequest()
	require.NoError(t, err)
	assert.Equal(t, []models.TaskType{models.TaskNER, models.TaskTranslate}, req.TaskTypes)
	assert.Equal(t, []int64{4, 7}, req.ObjectIDs)
	assert.Nil(t, req.RepositoryID)
	require.NotNil(t, req.DelayBetweenMs)
	assert.Equal(t, 0, *req.DelayBetweenMs)
	assert.Nil(t, req.MaxRetries, "unset retries use the server default")
	require.NotNil(t, req.Priority)
	assert.Equal(t, 2, *req.Priority)
	assert.Equal(t, "fr", req.Options["target_culture"])
	assert.True(t, req.AutoStart)
}

func TestBuildCreateRequestErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
		want  string
	}{
		{"no selection", func() {}, "--objects or --repository"},
		{"unknown task", func() { batchTasks = []string{"ocr", "dance"}; batchRepository = 3 }, `unknown task type "dance"`},
		{"bad id", func() { batchObjects = []string{"12a"} }, `invalid description id "12a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetCreateFlags(t)
			tt.setup()
			_, err := buildCreateRequest()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReportQuery(t *testing.T) {
	reportParams = []string{"repository_id=12", " level_id = 236 "}
	reportPage, reportLimit = 3, 20
	reportSort, reportDir = "title", "asc"
	t.Cleanup(func() {
		reportParams = nil
		reportPage, reportLimit = 1, 0
		reportSort, reportDir = "", ""
	})

	q, err := reportQuery()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"repository_id": "12",
		"level_id":      "236",
		"page":          "3",
		"limit":         "20",
		"sort":          "title",
		"dir":           "asc",
	}, q)

	reportParams = []string{"oops"}
	_, err = reportQuery()
	assert.Error(t, err)
}

func TestRenderReport(t *testing.T) {
	out := renderReport(&models.ReportResult{
		Columns: []string{"level_of_description", "descriptions"},
		Rows: []map[string]any{
			{"level_of_description": "Fonds", "descriptions": float64(2)},
			{"level_of_description": nil, "descriptions": float64(11)},
		},
	})
	assert.Contains(t, out, "level_of_description")
	assert.Contains(t, out, "Fonds")
	assert.Contains(t, out, "11")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 6, "border, header, separator, two rows, border")
}

func TestSummaryLine(t *testing.T) {
	out := summaryLine(defaultTheme, &models.Progress{Status: models.BatchCompleted, Total: 4, Completed: 3, Failed: 1})
	assert.Contains(t, out, "Completed")
	assert.Contains(t, out, "Failed:    1")
	assert.Empty(t, summaryLine(defaultTheme, nil))
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "line one...", truncateText("line one\nline two", 11))
	assert.Equal(t, "Zürich ...", truncateText("Zürich Archiv", 10))
}
