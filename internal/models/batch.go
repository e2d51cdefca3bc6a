// Package models defines data structures for the AI job queue, NER review,
// description suggestions, form templates and reports.
package models

import (
	"math"
	"time"
)

// TaskType identifies the AI operation a job applies to one catalog object.
type TaskType string

const (
	TaskNER        TaskType = "ner"
	TaskSummarize  TaskType = "summarize"
	TaskSuggest    TaskType = "suggest"
	TaskTranslate  TaskType = "translate"
	TaskSpellcheck TaskType = "spellcheck"
	TaskOCR        TaskType = "ocr"
)

// TaskTypeInfo describes a task type for listings.
type TaskTypeInfo struct {
	Type        TaskType `json:"type"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
}

// TaskTypes lists every supported task type in display order.
var TaskTypes = []TaskTypeInfo{
	{TaskNER, "Named Entity Extraction", "Extract people, organizations, places and dates"},
	{TaskSummarize, "Summarization", "Generate a scope and content summary from the record text"},
	{TaskSuggest, "Description Suggestion", "Draft a scope and content description for review"},
	{TaskTranslate, "Translation", "Translate title and scope and content into another culture"},
	{TaskSpellcheck, "Spell Check", "Flag misspelled words in descriptive fields"},
	{TaskOCR, "OCR", "Extract text from attached images and PDFs"},
}

// ValidTaskType reports whether t is a known task type.
func ValidTaskType(t TaskType) bool {
	for _, info := range TaskTypes {
		if info.Type == t {
			return true
		}
	}
	return false
}

// Batch is a named group of jobs created together and tracked as one unit of progress.
type Batch struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	TaskTypes      []TaskType     `json:"task_types"`
	Status         BatchStatus    `json:"status"`
	Priority       int            `json:"priority"`
	TotalItems     int            `json:"total_items"`
	CompletedItems int            `json:"completed_items"`
	FailedItems    int            `json:"failed_items"`
	MaxConcurrent  int            `json:"max_concurrent"`
	DelayBetweenMs int            `json:"delay_between_ms"`
	MaxRetries     int            `json:"max_retries"`
	Options        map[string]any `json:"options,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ProgressPercent derives completion from the counters: completed/total*100,
// rounded to two decimals, 0 for an empty batch.
func (b *Batch) ProgressPercent() float64 {
	return Percent(b.CompletedItems, b.TotalItems)
}

// Percent returns part/total*100 rounded to two decimals, 0 when total is 0.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

// OptionString returns a string option or def when unset.
func (b *Batch) OptionString(key, def string) string {
	if v, ok := b.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionStrings returns a string-list option or def when unset.
func (b *Batch) OptionStrings(key string, def []string) []string {
	switch v := b.Options[key].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

// Job is one task type applied to one catalog object within a batch.
type Job struct {
	ID               string         `json:"id"`
	BatchID          string         `json:"batch_id"`
	ObjectID         int64          `json:"object_id"`
	TaskType         TaskType       `json:"task_type"`
	Status           JobStatus      `json:"status"`
	Priority         int            `json:"priority"`
	AttemptCount     int            `json:"attempt_count"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ErrorCode        string         `json:"error_code,omitempty"`
	Result           map[string]any `json:"result,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	QueuedAt         *time.Time     `json:"queued_at,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
	// LeaseExpiresAt is set while the job is running. A running job whose
	// lease has passed belongs to a runner that died and may be requeued.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// JobCounts aggregates job statuses for one batch.
type JobCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Add counts one job with the given status.
func (c *JobCounts) Add(s JobStatus) {
	c.Total++
	switch s {
	case JobPending:
		c.Pending++
	case JobQueued:
		c.Queued++
	case JobRunning:
		c.Running++
	case JobCompleted:
		c.Completed++
	case JobFailed:
		c.Failed++
	case JobSkipped:
		c.Skipped++
	case JobCancelled:
		c.Cancelled++
	}
}

// Outstanding is the number of jobs that can still change outcome.
func (c JobCounts) Outstanding() int {
	return c.Pending + c.Queued + c.Running
}

// TaskTypeStats is the per-task-type slice of batch statistics.
type TaskTypeStats struct {
	Count     int `json:"count"`
	Completed int `json:"completed"`
}

// BatchStats is the detailed statistics view of a batch.
type BatchStats struct {
	JobCounts
	AvgProcessingTimeMs int64                      `json:"avg_processing_time_ms"`
	ByTaskType          map[TaskType]TaskTypeStats `json:"by_task_type"`
}

// Progress is the polling view of a batch.
type Progress struct {
	BatchID         string        `json:"batch_id"`
	Status          BatchStatus   `json:"status"`
	Total           int           `json:"total"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	ProgressPercent float64       `json:"progress_percent"`
	Stats           ProgressStats `json:"stats"`
}

// ProgressStats carries the in-flight counts shown next to the bar.
type ProgressStats struct {
	Pending int `json:"pending"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Skipped int `json:"skipped"`
}

// LogEvent enumerates the lifecycle events written to a batch log.
type LogEvent string

const (
	EventBatchCreated   LogEvent = "batch_created"
	EventItemsAdded     LogEvent = "items_added"
	EventBatchStarted   LogEvent = "batch_started"
	EventBatchPaused    LogEvent = "batch_paused"
	EventBatchResumed   LogEvent = "batch_resumed"
	EventBatchCancelled LogEvent = "batch_cancelled"
	EventBatchCompleted LogEvent = "batch_completed"
	EventBatchFailed    LogEvent = "batch_failed"
	EventBatchRetry     LogEvent = "batch_retry"
	EventJobCompleted   LogEvent = "job_completed"
	EventJobFailed      LogEvent = "job_failed"
	EventJobRetry       LogEvent = "job_retry"
	EventJobSkipped     LogEvent = "job_skipped"
)

// LogEntry is one append-only record in a batch's activity trail.
type LogEntry struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	JobID     string    `json:"job_id,omitempty"`
	EventType LogEvent  `json:"event_type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	Status    BatchStatus
	CreatedBy string
	Limit     int
	Offset    int
}

// JobFilter narrows job listings within a batch.
type JobFilter struct {
	Status   JobStatus
	TaskType TaskType
	Limit    int
	Offset   int
}
