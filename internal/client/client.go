// Package client provides a REST client for the atomai server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/atom-ai/internal/metrics"
	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

// Bulk saves are sent in small chunks with a pause between them so a large
// review does not hold the catalog for long.
const (
	bulkChunkSize  = 3
	bulkChunkPause = 200 * time.Millisecond
)

// Client talks to the atomai server.
type Client struct {
	endpoint   string
	apiKey     string
	user       string
	httpClient *http.Client
	chunkPause time.Duration
}

// New creates a new client.
// If endpoint is empty, uses ATOMAI_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via ATOMAI_CLIENT_TIMEOUT env var (default 10m for LLM operations).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("ATOMAI_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("ATOMAI_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     os.Getenv("ATOMAI_API_KEY"),
		user:       os.Getenv("ATOMAI_USER"),
		httpClient: &http.Client{Timeout: timeout},
		chunkPause: bulkChunkPause,
	}
}

// WithAPIKey sets the key sent in X-API-Key.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = key
	return c
}

// WithUser sets the AtoM user the requests act as.
func (c *Client) WithUser(user string) *Client {
	c.user = user
	return c
}

// APIError is a request the server refused.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == http.StatusNotFound {
		return "not found: " + e.Message
	}
	return e.Message
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.user != "" {
		req.Header.Set("X-Atom-User", c.user)
	}
	return req, nil
}

// send performs a request and returns the raw body with its headers.
// JSON answers with success=false and non-200 statuses become APIErrors.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, http.Header, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var env envelope
		if err := json.Unmarshal(data, &env); err == nil && env.Success != nil && !*env.Success {
			msg := env.Error
			if msg == "" {
				msg = "request failed"
			}
			return nil, nil, &APIError{Status: resp.StatusCode, Message: msg}
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("server error: %s - %s", resp.Status, string(data))}
	}
	return data, resp.Header, nil
}

// Execute sends a JSON request and decodes the answer into result.
func (c *Client) Execute(ctx context.Context, method, path string, in, result any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	data, _, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func query(values map[string]string) string {
	q := url.Values{}
	for k, v := range values {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func id64(id int64) string { return strconv.FormatInt(id, 10) }

// =============================================================================
// BATCHES
// =============================================================================

// CreateBatch creates a batch and returns its id.
func (c *Client) CreateBatch(ctx context.Context, req service.CreateBatchRequest) (string, error) {
	var out struct {
		BatchID string `json:"batch_id"`
	}
	if err := c.Execute(ctx, http.MethodPost, "/ai/batch/create", req, &out); err != nil {
		return "", err
	}
	return out.BatchID, nil
}

// BatchAction applies start, pause, resume, cancel or retry.
func (c *Client) BatchAction(ctx context.Context, id string, action models.BatchAction) (*service.BatchView, error) {
	var out struct {
		Batch *service.BatchView `json:"batch"`
	}
	body := map[string]string{"action": string(action)}
	if err := c.Execute(ctx, http.MethodPost, "/ai/batch/"+url.PathEscape(id)+"/action", body, &out); err != nil {
		return nil, err
	}
	return out.Batch, nil
}

// Progress returns the batch counters.
func (c *Client) Progress(ctx context.Context, id string) (*models.Progress, error) {
	var p models.Progress
	if err := c.Execute(ctx, http.MethodGet, "/ai/batch/"+url.PathEscape(id)+"/progress", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetBatch returns a batch with its job statistics.
func (c *Client) GetBatch(ctx context.Context, id string) (*service.BatchDetail, error) {
	var b service.BatchDetail
	if err := c.Execute(ctx, http.MethodGet, "/ai/batch/"+url.PathEscape(id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches lists batches, newest first.
func (c *Client) ListBatches(ctx context.Context, status models.BatchStatus, limit int) ([]service.BatchView, error) {
	var out struct {
		Batches []service.BatchView `json:"batches"`
	}
	q := query(map[string]string{"status": string(status), "limit": limitParam(limit)})
	if err := c.Execute(ctx, http.MethodGet, "/ai/batches"+q, nil, &out); err != nil {
		return nil, err
	}
	return out.Batches, nil
}

// Jobs lists the jobs of a batch.
func (c *Client) Jobs(ctx context.Context, id string, status models.JobStatus, limit int) ([]models.Job, error) {
	var out struct {
		Jobs []models.Job `json:"jobs"`
	}
	q := query(map[string]string{"status": string(status), "limit": limitParam(limit)})
	if err := c.Execute(ctx, http.MethodGet, "/ai/batch/"+url.PathEscape(id)+"/jobs"+q, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Log returns the most recent activity log entries of a batch.
func (c *Client) Log(ctx context.Context, id string, limit int) ([]models.LogEntry, error) {
	var out struct {
		Log []models.LogEntry `json:"log"`
	}
	q := query(map[string]string{"limit": limitParam(limit)})
	if err := c.Execute(ctx, http.MethodGet, "/ai/batch/"+url.PathEscape(id)+"/log"+q, nil, &out); err != nil {
		return nil, err
	}
	return out.Log, nil
}

// DeleteBatch removes a batch that is not running.
func (c *Client) DeleteBatch(ctx context.Context, id string) error {
	return c.Execute(ctx, http.MethodDelete, "/ai/batch/"+url.PathEscape(id), nil, nil)
}

// TaskTypes lists the supported task types.
func (c *Client) TaskTypes(ctx context.Context) ([]models.TaskTypeInfo, error) {
	var out struct {
		TaskTypes []models.TaskTypeInfo `json:"task_types"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/ai/task-types", nil, &out); err != nil {
		return nil, err
	}
	return out.TaskTypes, nil
}

func limitParam(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// WatchProgress streams batch progress over a WebSocket until the batch
// settles, ctx ends or onUpdate returns an error.
func (c *Client) WatchProgress(ctx context.Context, id string, onUpdate func(models.Progress) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/ai/batch/" + url.PathEscape(id) + "/stream")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{Status: http.StatusNotFound, Message: "batch " + id}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg struct {
			envelope
			models.Progress
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read progress: %w", err)
		}
		if msg.Success != nil && !*msg.Success {
			return &APIError{Status: http.StatusOK, Message: msg.Error}
		}
		if err := onUpdate(msg.Progress); err != nil {
			return err
		}
		if msg.Status.Terminal() {
			return nil
		}
	}
}

// =============================================================================
// NER AND SUMMARIES
// =============================================================================

// Extract runs entity extraction on one object.
func (c *Client) Extract(ctx context.Context, objectID int64) (*service.ExtractResult, error) {
	var out service.ExtractResult
	if err := c.Execute(ctx, http.MethodPost, "/ner/extract/"+id64(objectID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summarize generates a scope and content summary, saving it unless save is false.
func (c *Client) Summarize(ctx context.Context, objectID int64, save bool) (*service.SummarizeResult, error) {
	var out service.SummarizeResult
	path := "/ner/summarize/" + id64(objectID) + "?save=" + strconv.FormatBool(save)
	if err := c.Execute(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Entities returns the pending entities of an object with their match candidates.
func (c *Client) Entities(ctx context.Context, objectID int64) (map[string][]service.ReviewItem, error) {
	var out struct {
		Entities map[string][]service.ReviewItem `json:"entities"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/ner/entities/"+id64(objectID), nil, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// BulkSave submits review decisions in chunks and merges the tallies.
// A chunk that fails outright counts all its decisions as failed.
func (c *Client) BulkSave(ctx context.Context, decisions []models.Decision) models.BulkResult {
	total := models.BulkResult{Errors: []string{}}
	for start := 0; start < len(decisions); start += bulkChunkSize {
		if start > 0 && c.chunkPause > 0 {
			select {
			case <-ctx.Done():
				total.Failed += len(decisions) - start
				total.Errors = append(total.Errors, ctx.Err().Error())
				return total
			case <-time.After(c.chunkPause):
			}
		}
		chunk := decisions[start:min(start+bulkChunkSize, len(decisions))]
		var out struct {
			Results models.BulkResult `json:"results"`
		}
		body := map[string]any{"decisions": chunk}
		data, err := json.Marshal(body)
		if err != nil {
			total.Failed += len(chunk)
			total.Errors = append(total.Errors, err.Error())
			continue
		}
		// A partly failed chunk still reports its tally, so decode without
		// treating success=false as an error.
		raw, err := c.sendRaw(ctx, http.MethodPost, "/ner/bulk-save", data)
		if err == nil {
			err = json.Unmarshal(raw, &out)
		}
		if err != nil || (out.Results.Success+out.Results.Failed == 0 && len(chunk) > 0) {
			if err == nil {
				err = errors.New(string(raw))
			}
			total.Failed += len(chunk)
			total.Errors = append(total.Errors, err.Error())
			continue
		}
		total.Merge(out.Results)
	}
	return total
}

// sendRaw posts JSON and returns the body of any 200 answer.
func (c *Client) sendRaw(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("server error: %s - %s", resp.Status, string(body))}
	}
	return body, nil
}

// NERReviewQueue lists objects with entities awaiting review.
func (c *Client) NERReviewQueue(ctx context.Context, limit int) ([]models.PendingObject, error) {
	var out struct {
		Objects []models.PendingObject `json:"objects"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/ai/ner/review"+query(map[string]string{"limit": limitParam(limit)}), nil, &out); err != nil {
		return nil, err
	}
	return out.Objects, nil
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

// Suggest drafts a scope and content description for an object.
func (c *Client) Suggest(ctx context.Context, objectID int64) (*service.SuggestResult, error) {
	var out service.SuggestResult
	if err := c.Execute(ctx, http.MethodPost, "/ai/suggest/"+id64(objectID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decide approves or rejects a suggestion.
func (c *Client) Decide(ctx context.Context, id string, req service.DecisionRequest) (models.SuggestionStatus, error) {
	var out struct {
		Status models.SuggestionStatus `json:"status"`
	}
	if err := c.Execute(ctx, http.MethodPost, "/ai/suggest/"+url.PathEscape(id)+"/decision", req, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// ViewSuggestion returns a suggestion with the object it describes.
func (c *Client) ViewSuggestion(ctx context.Context, id string) (*service.SuggestionView, error) {
	var out service.SuggestionView
	if err := c.Execute(ctx, http.MethodGet, "/ai/suggest/"+url.PathEscape(id)+"/view", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSuggestions lists suggestions in a status, all when status is empty.
func (c *Client) ListSuggestions(ctx context.Context, status models.SuggestionStatus, limit int) ([]models.Suggestion, error) {
	var out struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	q := query(map[string]string{"status": string(status), "limit": limitParam(limit)})
	if err := c.Execute(ctx, http.MethodGet, "/ai/suggestions"+q, nil, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// SuggestionStats returns the review counters.
func (c *Client) SuggestionStats(ctx context.Context) (*models.SuggestionStats, error) {
	var out struct {
		Stats models.SuggestionStats `json:"stats"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/ai/suggestions/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// =============================================================================
// STATUS
// =============================================================================

// LLMHealth is the answer of the provider health check.
type LLMHealth struct {
	Healthy   bool   `json:"healthy"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// LLMHealth pings the configured provider through the server. An unhealthy
// provider is reported in the result, not as an error.
func (c *Client) LLMHealth(ctx context.Context) (*LLMHealth, error) {
	data, err := c.sendRaw(ctx, http.MethodGet, "/ai/llm/health", nil)
	if err != nil {
		return nil, err
	}
	var h LLMHealth
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &h, nil
}

// Metrics returns the server's timing and token counters.
func (c *Client) Metrics(ctx context.Context) (*metrics.Snapshot, error) {
	var out struct {
		Metrics metrics.Snapshot `json:"metrics"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/ai/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out.Metrics, nil
}

// =============================================================================
// FORMS
// =============================================================================

// Templates lists active form templates, optionally of one form type.
func (c *Client) Templates(ctx context.Context, formType string) ([]models.FormTemplate, error) {
	var out struct {
		Templates []models.FormTemplate `json:"templates"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/forms/templates"+query(map[string]string{"form_type": formType}), nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// ResolveForm picks the template for a description context. It returns nil
// when no template applies.
func (c *Client) ResolveForm(ctx context.Context, req models.ResolveRequest) (*models.FormTemplate, error) {
	var out struct {
		Template *models.FormTemplate `json:"template"`
	}
	if err := c.Execute(ctx, http.MethodPost, "/forms/resolve", req, &out); err != nil {
		return nil, err
	}
	return out.Template, nil
}

// ExportTemplate downloads a template as yaml or json.
func (c *Client) ExportTemplate(ctx context.Context, id int64, format string) ([]byte, error) {
	data, _, err := c.send(ctx, http.MethodGet, "/forms/templates/"+id64(id)+"/export"+query(map[string]string{"format": format}), "", nil)
	return data, err
}

// ImportTemplate uploads a yaml or json template document. A non-empty name
// overrides the one in the document.
func (c *Client) ImportTemplate(ctx context.Context, doc []byte, name string) (*models.FormTemplate, error) {
	data, _, err := c.send(ctx, http.MethodPost, "/forms/import"+query(map[string]string{"name": name}), "application/x-yaml", bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}
	var out struct {
		Template *models.FormTemplate `json:"template"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Template, nil
}

// FormStats returns template, draft and submission counters.
func (c *Client) FormStats(ctx context.Context) (*models.FormStats, error) {
	var out struct {
		Stats models.FormStats `json:"stats"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/forms/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// =============================================================================
// REPORTS
// =============================================================================

// Reports lists the active report definitions.
func (c *Client) Reports(ctx context.Context) ([]models.ReportDefinition, error) {
	var out struct {
		Reports []models.ReportDefinition `json:"reports"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/reports", nil, &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// RunReport fetches one page of a report. params carries filters and the
// page, limit, sort and dir controls.
func (c *Client) RunReport(ctx context.Context, code string, params map[string]string) (*models.ReportResult, error) {
	var out struct {
		Report models.ReportResult `json:"report"`
	}
	if err := c.Execute(ctx, http.MethodGet, "/reports/"+url.PathEscape(code)+query(params), nil, &out); err != nil {
		return nil, err
	}
	return &out.Report, nil
}

// DownloadReport renders a report in format and returns the suggested
// filename with the document.
func (c *Client) DownloadReport(ctx context.Context, code, format string, params map[string]string) (string, []byte, error) {
	q := make(map[string]string, len(params)+1)
	for k, v := range params {
		q[k] = v
	}
	q["format"] = format
	data, header, err := c.send(ctx, http.MethodGet, "/reports/"+url.PathEscape(code)+query(q), "", nil)
	if err != nil {
		return "", nil, err
	}
	filename := code + "." + format
	if _, p, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil && p["filename"] != "" {
		filename = p["filename"]
	}
	return filename, data, nil
}
