package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c := New(ts.URL).WithAPIKey("k").WithUser("archivist")
	c.chunkPause = 0
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestExecuteSendsCredentialsAndDecodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ai/batch/create", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.Equal(t, "archivist", r.Header.Get("X-Atom-User"))
		var req service.CreateBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "letters", req.Name)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "batch_id": "abc12345"})
	})
	c := newTestClient(t, mux)

	id, err := c.CreateBatch(context.Background(), service.CreateBatchRequest{
		Name: "letters", TaskTypes: []models.TaskType{models.TaskNER},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc12345", id)
}

func TestErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ai/batch/{id}/progress", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "gone":
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "batch gone: not found"})
		case "boom":
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "running", "total": 4, "completed": 1, "progress_percent": 25})
		}
	})
	mux.HandleFunc("POST /ai/batch/{id}/action", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "invalid transition: cannot start a batch that is running"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	p, err := c.Progress(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.BatchRunning, p.Status)
	assert.Equal(t, 25.0, p.ProgressPercent)

	_, err = c.Progress(ctx, "gone")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = c.Progress(ctx, "boom")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "502")

	_, err = c.BatchAction(ctx, "ok", models.ActionStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")
}

func TestBulkSaveChunks(t *testing.T) {
	var (
		mu    sync.Mutex
		sizes []int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ner/bulk-save", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Decisions []models.Decision `json:"decisions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sizes = append(sizes, len(body.Decisions))
		mu.Unlock()

		res := models.BulkResult{Errors: []string{}}
		for _, d := range body.Decisions {
			if d.EntityID == "bad" {
				res.Failed++
				res.Errors = append(res.Errors, "entity bad: not found")
				continue
			}
			res.Success++
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": res.Failed == 0, "results": res})
	})
	c := newTestClient(t, mux)

	decisions := make([]models.Decision, 7)
	for i := range decisions {
		decisions[i] = models.Decision{EntityID: "e", Action: models.DecisionReject}
	}
	decisions[4].EntityID = "bad"

	res := c.BulkSave(context.Background(), decisions)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, 6, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"entity bad: not found"}, res.Errors)
}

func TestBulkSaveRejectedChunkCountsAsFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ner/bulk-save", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "validation failed: action"})
	})
	c := newTestClient(t, mux)

	res := c.BulkSave(context.Background(), []models.Decision{{EntityID: "a"}, {EntityID: "b"}})
	assert.Equal(t, 0, res.Success)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "validation failed")
}

func TestDownloadReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /reports/{code}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		assert.Equal(t, "7", r.URL.Query().Get("repository_id"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="level_summary_2025-03-04_050607.csv"`)
		_, _ = w.Write([]byte("level_of_description,descriptions\nFonds,2\n"))
	})
	c := newTestClient(t, mux)

	name, body, err := c.DownloadReport(context.Background(), "level_summary", "csv", map[string]string{"repository_id": "7"})
	require.NoError(t, err)
	assert.Equal(t, "level_summary_2025-03-04_050607.csv", name)
	assert.Equal(t, "level_of_description,descriptions\nFonds,2\n", string(body))
}

func TestWatchProgress(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ai/batch/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found"})
			return
		}
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, status := range []string{"running", "running", "completed"} {
			require.NoError(t, conn.WriteJSON(map[string]any{"success": true, "status": status, "total": 2}))
		}
	})
	c := newTestClient(t, mux)

	var seen []models.BatchStatus
	err := c.WatchProgress(context.Background(), "b1", func(p models.Progress) error {
		seen = append(seen, p.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []models.BatchStatus{models.BatchRunning, models.BatchRunning, models.BatchCompleted}, seen)

	err = c.WatchProgress(context.Background(), "missing", func(models.Progress) error { return nil })
	assert.True(t, IsNotFound(err))
}
