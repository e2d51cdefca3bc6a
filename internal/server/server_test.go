package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/catalog/catalogtest"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/forms"
	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/metrics"
	"github.com/raphaelgruber/atom-ai/internal/reports"
	"github.com/raphaelgruber/atom-ai/internal/server"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

const testKey = "secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// fixedGen answers every prompt with the same text.
type fixedGen struct{ text string }

func (g fixedGen) GenerateWithSystem(context.Context, string, string) (llm.Completion, error) {
	return llm.Completion{Text: g.text, Model: "stub-model", InputTokens: 3, OutputTokens: 4}, nil
}

func (g fixedGen) Model() string { return "stub-model" }

type env struct {
	handler http.Handler
	catalog *catalog.Catalog
	forms   *forms.Service
}

func newEnv(t *testing.T, answer string) *env {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalogtest.New(t)
	settings := config.StaticSettings(config.DefaultSettings())
	store := service.NewMemoryStore()
	gen := fixedGen{text: answer}

	fs := forms.New(cat.DB(), log)
	require.NoError(t, fs.InitSchema(ctx))
	rep := reports.New(cat.DB(), log)
	require.NoError(t, rep.InitSchema(ctx))

	srv := server.New(server.Deps{
		Batches:     service.NewBatchService(store, cat, settings, log),
		NER:         service.NewNERService(store, cat, gen, settings, log),
		Summarizer:  service.NewSummarizeService(cat, gen, settings, log),
		Suggestions: service.NewSuggestionService(store, cat, gen, settings, log),
		Forms:       fs,
		Reports:     rep,
		Metrics:     metrics.NewCollector(),
		Settings:    settings,
	}, testKey, log)
	return &env{handler: srv.Handler(), catalog: cat, forms: fs}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-API-Key", testKey)
	req.Header.Set("X-Atom-User", "archivist")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// call performs a request and decodes the JSON answer.
func (e *env) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	w := e.do(t, method, path, body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (e *env) objects(t *testing.T, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = catalogtest.AddObject(t, e.catalog, catalogtest.Object{
			Title: "Letters", Scope: "Letters from Jan Smuts written in Pretoria",
		})
	}
	return ids
}

func TestAuth(t *testing.T) {
	e := newEnv(t, "")

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"health is open", "/health", nil, http.StatusOK},
		{"missing key", "/ai/task-types", nil, http.StatusUnauthorized},
		{"wrong key", "/ai/task-types", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", "/ai/task-types", map[string]string{"X-API-Key": testKey}, http.StatusOK},
		{"bearer token", "/ai/task-types", map[string]string{"Authorization": "Bearer " + testKey}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			e.handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestBatchLifecycle(t *testing.T) {
	e := newEnv(t, "")
	ids := e.objects(t, 2)

	code, out := e.call(t, http.MethodPost, "/ai/batch/create", map[string]any{
		"name": "Smuts letters", "task_types": []string{"ner", "summarize"}, "object_ids": ids,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, out["success"], out)
	id, _ := out["batch_id"].(string)
	require.NotEmpty(t, id)

	_, out = e.call(t, http.MethodGet, "/ai/batch/"+id+"/progress", nil)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "pending", out["status"])
	assert.EqualValues(t, 4, out["total"])
	assert.EqualValues(t, 0, out["completed"])
	assert.EqualValues(t, 0, out["progress_percent"])
	assert.Contains(t, out, "stats")

	_, out = e.call(t, http.MethodPost, "/ai/batch/"+id+"/action", map[string]string{"action": "start"})
	assert.Equal(t, true, out["success"], out)

	code, out = e.call(t, http.MethodPost, "/ai/batch/"+id+"/action", map[string]string{"action": "start"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "invalid transition")

	_, out = e.call(t, http.MethodPost, "/ai/batch/"+id+"/action", map[string]string{"action": "explode"})
	assert.Equal(t, false, out["success"])

	_, out = e.call(t, http.MethodDelete, "/ai/batch/"+id, nil)
	assert.Equal(t, false, out["success"], "running batches cannot be deleted")

	_, out = e.call(t, http.MethodGet, "/ai/batch/"+id+"/jobs?task_type=ner", nil)
	assert.Len(t, out["jobs"], 2)

	_, out = e.call(t, http.MethodGet, "/ai/batches?status=running", nil)
	require.Len(t, out["batches"], 1)

	_, out = e.call(t, http.MethodGet, "/ai/batch/"+id, nil)
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, "archivist", out["created_by"])
	assert.Contains(t, out, "allowed_actions")

	_, out = e.call(t, http.MethodPost, "/ai/batch/"+id+"/action", map[string]string{"action": "cancel"})
	assert.Equal(t, true, out["success"])

	_, out = e.call(t, http.MethodGet, "/ai/batch/"+id+"/log", nil)
	assert.NotEmpty(t, out["log"])

	_, out = e.call(t, http.MethodDelete, "/ai/batch/"+id, nil)
	assert.Equal(t, true, out["success"])

	code, out = e.call(t, http.MethodGet, "/ai/batch/"+id+"/progress", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, out["success"])
}

func TestCreateBatchValidation(t *testing.T) {
	e := newEnv(t, "")
	ids := e.objects(t, 1)

	tests := []struct {
		name string
		body any
	}{
		{"unknown task type", map[string]any{"name": "x", "task_types": []string{"astrology"}, "object_ids": ids}},
		{"missing name", map[string]any{"task_types": []string{"ner"}, "object_ids": ids}},
		{"no task types", map[string]any{"name": "x", "task_types": []string{}, "object_ids": ids}},
		{"priority out of range", map[string]any{"name": "x", "task_types": []string{"ner"}, "object_ids": ids, "priority": 11}},
		{"malformed body", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := e.call(t, http.MethodPost, "/ai/batch/create", tt.body)
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestBatchListingPaging(t *testing.T) {
	e := newEnv(t, "")
	code, out := e.call(t, http.MethodPost, "/ai/batch/create", map[string]any{
		"name": "paged", "task_types": []string{"ner"}, "object_ids": e.objects(t, 3),
	})
	require.Equal(t, http.StatusOK, code)
	id, _ := out["batch_id"].(string)
	require.NotEmpty(t, id)

	tests := []struct {
		name    string
		path    string
		key     string
		success bool
		rows    int
	}{
		{"batches negative offset", "/ai/batches?offset=-1", "batches", false, 0},
		{"batches zero limit", "/ai/batches?limit=0", "batches", false, 0},
		{"batches offset past the end", "/ai/batches?offset=5", "batches", true, 0},
		{"jobs negative offset", "/ai/batch/" + id + "/jobs?offset=-3", "jobs", false, 0},
		{"jobs negative limit", "/ai/batch/" + id + "/jobs?limit=-1", "jobs", false, 0},
		{"jobs window", "/ai/batch/" + id + "/jobs?limit=2&offset=2", "jobs", true, 1},
		{"jobs offset past the end", "/ai/batch/" + id + "/jobs?offset=10", "jobs", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := e.call(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.success, out["success"], out)
			if !tt.success {
				assert.Contains(t, out["error"], "validation failed")
				return
			}
			assert.Len(t, out[tt.key], tt.rows)
		})
	}
}

func TestNERRoutes(t *testing.T) {
	e := newEnv(t, `{"PERSON": ["Jan Smuts"], "GPE": ["Pretoria"]}`)
	id := e.objects(t, 1)[0]
	path := func(p string) string { return p + "/" + jsonNumber(id) }

	_, out := e.call(t, http.MethodPost, path("/ner/extract"), nil)
	require.Equal(t, true, out["success"], out)
	assert.EqualValues(t, 2, out["entity_count"])

	_, out = e.call(t, http.MethodGet, path("/ner/entities"), nil)
	entities, ok := out["entities"].(map[string]any)
	require.True(t, ok)
	people, ok := entities["PERSON"].([]any)
	require.True(t, ok)
	require.Len(t, people, 1)
	person := people[0].(map[string]any)
	assert.Equal(t, "Jan Smuts", person["value"])

	_, out = e.call(t, http.MethodGet, "/ai/ner/review", nil)
	assert.Len(t, out["objects"], 1)

	_, out = e.call(t, http.MethodPost, "/ner/bulk-save", map[string]any{
		"decisions": []map[string]any{
			{"entity_id": person["id"], "action": "reject"},
			{"entity_id": "missing", "action": "reject"},
		},
	})
	results := out["results"].(map[string]any)
	assert.EqualValues(t, 1, results["success"])
	assert.EqualValues(t, 1, results["failed"])

	_, out = e.call(t, http.MethodPost, "/ner/bulk-save", map[string]any{
		"decisions": []map[string]any{{"entity_id": "x", "action": "obliterate"}},
	})
	assert.Equal(t, false, out["success"])

	code, _ := e.call(t, http.MethodPost, "/ner/extract/abc", nil)
	assert.Equal(t, http.StatusOK, code)

	_, out = e.call(t, http.MethodPost, path("/ner/summarize"), nil)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "insufficient text")
}

func TestSuggestionRoutes(t *testing.T) {
	e := newEnv(t, "A bundle of letters.")
	id := e.objects(t, 1)[0]

	_, out := e.call(t, http.MethodPost, "/ai/suggest/"+jsonNumber(id), nil)
	require.Equal(t, true, out["success"], out)
	assert.Equal(t, "A bundle of letters.", out["suggested_text"])
	assert.Equal(t, "stub-model", out["model_used"])
	sid, _ := out["suggestion_id"].(string)
	require.NotEmpty(t, sid)

	_, out = e.call(t, http.MethodGet, "/ai/suggest/"+sid+"/view", nil)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Letters", out["object_title"])

	_, out = e.call(t, http.MethodGet, "/ai/review", nil)
	assert.Len(t, out["pending"], 1)

	_, out = e.call(t, http.MethodPost, "/ai/suggest/"+sid+"/decision", map[string]string{"decision": "maybe"})
	assert.Equal(t, false, out["success"])

	_, out = e.call(t, http.MethodPost, "/ai/suggest/"+sid+"/decision", map[string]string{"decision": "approve"})
	assert.Equal(t, true, out["success"], out)
	assert.Equal(t, "approved", out["status"])

	_, out = e.call(t, http.MethodPost, "/ai/suggest/"+sid+"/decision", map[string]string{"decision": "reject"})
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "already processed")

	_, out = e.call(t, http.MethodGet, "/ai/suggestions/stats", nil)
	stats := out["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["approved"])

	code, _ := e.call(t, http.MethodGet, "/ai/suggest/nope/view", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFormsRoutes(t *testing.T) {
	e := newEnv(t, "")

	_, out := e.call(t, http.MethodPost, "/forms/templates", map[string]any{
		"name": "Photo intake", "form_type": "information_object", "is_default": true,
	})
	require.Equal(t, true, out["success"], out)
	tplID := jsonNumber(out["template"].(map[string]any)["id"])

	_, out = e.call(t, http.MethodPost, "/forms/templates/"+tplID+"/fields", map[string]any{
		"field_name": "title", "label": "Title", "is_required": true,
	})
	require.Equal(t, true, out["success"], out)

	_, out = e.call(t, http.MethodPost, "/forms/templates/"+tplID+"/fields", map[string]any{"label": "No name"})
	assert.Equal(t, false, out["success"])

	_, out = e.call(t, http.MethodGet, "/forms/templates/"+tplID+"/fields", nil)
	assert.Len(t, out["fields"], 1)

	_, out = e.call(t, http.MethodPost, "/forms/resolve", map[string]any{"form_type": "information_object"})
	require.Equal(t, true, out["success"], out)
	assert.Equal(t, "Photo intake", out["template"].(map[string]any)["name"])

	_, out = e.call(t, http.MethodPost, "/forms/resolve", map[string]any{"form_type": "accession"})
	assert.Equal(t, true, out["success"])
	assert.Nil(t, out["template"])

	_, out = e.call(t, http.MethodPost, "/forms/resolve", map[string]any{})
	assert.Equal(t, false, out["success"])

	w := e.do(t, http.MethodGet, "/forms/templates/"+tplID+"/export?format=yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "form-template-"+tplID+".yaml")
	exported := w.Body.String()
	assert.Contains(t, exported, "field_name: title")

	_, out = e.call(t, http.MethodPost, "/forms/import?name=Imported", exported)
	require.Equal(t, true, out["success"], out)
	assert.Equal(t, "Imported", out["template"].(map[string]any)["name"])

	_, out = e.call(t, http.MethodPut, "/forms/drafts", map[string]any{
		"template_id": out["template"].(map[string]any)["id"], "object_type": "information_object",
		"form_data": map[string]any{"title": "Draft title"},
	})
	require.Equal(t, true, out["success"], out)
	assert.Equal(t, "archivist", out["draft"].(map[string]any)["user_id"])

	_, out = e.call(t, http.MethodGet, "/forms/drafts", nil)
	assert.Len(t, out["drafts"], 1)

	_, out = e.call(t, http.MethodPost, "/forms/assignments", map[string]any{"template_id": 999999})
	assert.Equal(t, false, out["success"])

	_, out = e.call(t, http.MethodGet, "/forms/stats", nil)
	assert.Equal(t, true, out["success"])

	code, _ := e.call(t, http.MethodGet, "/forms/templates/999999", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSystemTemplatesRejectEdits(t *testing.T) {
	e := newEnv(t, "")
	n, err := e.forms.InstallLibrary(context.Background())
	require.NoError(t, err)
	require.Positive(t, n)

	_, out := e.call(t, http.MethodGet, "/forms/templates?form_type=accession", nil)
	list := out["templates"].([]any)
	require.NotEmpty(t, list)
	id := jsonNumber(list[0].(map[string]any)["id"])

	_, out = e.call(t, http.MethodPut, "/forms/templates/"+id, map[string]any{"name": "Mine now"})
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "read-only")

	_, out = e.call(t, http.MethodPost, "/forms/templates/"+id+"/clone", nil)
	require.Equal(t, true, out["success"], out)
	assert.Equal(t, false, out["template"].(map[string]any)["is_system"])
}

func TestReportRoutes(t *testing.T) {
	e := newEnv(t, "")
	e.objects(t, 3)

	_, out := e.call(t, http.MethodGet, "/reports", nil)
	assert.NotEmpty(t, out["reports"])

	_, out = e.call(t, http.MethodGet, "/reports/collection_overview?sort=title&dir=asc&glam_type=archive", nil)
	require.Equal(t, true, out["success"], out)
	report := out["report"].(map[string]any)
	assert.Len(t, report["rows"], 3)

	w := e.do(t, http.MethodGet, "/reports/collection_overview?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "collection_overview_")
	assert.Equal(t, 4, strings.Count(w.Body.String(), "\n"))

	_, out = e.call(t, http.MethodGet, "/reports/collection_overview?format=docx", nil)
	assert.Equal(t, false, out["success"])

	_, out = e.call(t, http.MethodGet, "/reports/collection_overview?dir=sideways", nil)
	assert.Equal(t, false, out["success"])

	code, _ := e.call(t, http.MethodGet, "/reports/no_such_report", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMiscRoutes(t *testing.T) {
	e := newEnv(t, "")

	_, out := e.call(t, http.MethodGet, "/ai/task-types", nil)
	assert.Len(t, out["task_types"], 6)

	_, out = e.call(t, http.MethodGet, "/ai/metrics", nil)
	assert.Equal(t, true, out["success"])

	_, out = e.call(t, http.MethodGet, "/ai/llm/health", nil)
	assert.Equal(t, false, out["healthy"])
}

func TestStreamProgress(t *testing.T) {
	e := newEnv(t, "")
	ids := e.objects(t, 1)
	_, out := e.call(t, http.MethodPost, "/ai/batch/create", map[string]any{
		"name": "stream", "task_types": []string{"ner"}, "object_ids": ids,
	})
	id := out["batch_id"].(string)
	_, out = e.call(t, http.MethodPost, "/ai/batch/"+id+"/action", map[string]string{"action": "cancel"})
	require.Equal(t, true, out["success"])

	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ai/batch/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": {testKey}})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cancelled", msg["status"])
	assert.EqualValues(t, 1, msg["total"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, _, err = websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(ts.URL, "http")+"/ai/batch/missing/stream",
		http.Header{"X-API-Key": {testKey}})
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

// jsonNumber renders an id taken from Go or from decoded JSON as a path segment.
func jsonNumber(v any) string {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatInt(int64(n), 10)
	}
	return ""
}
