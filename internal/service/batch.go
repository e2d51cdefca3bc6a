// Package service holds the AI workflows: the batch job queue and its runner,
// the task executors, NER review and description suggestions.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/metrics"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

// ObjectSelector resolves a batch selection to catalog object ids.
type ObjectSelector interface {
	SelectObjects(ctx context.Context, sel models.ObjectSelection) ([]int64, error)
}

// CreateBatchRequest describes a new batch.
type CreateBatchRequest struct {
	Name           string            `json:"name" binding:"required"`
	Description    string            `json:"description,omitempty"`
	TaskTypes      []models.TaskType `json:"task_types" binding:"required,min=1,dive,tasktype"`
	ObjectIDs      []int64           `json:"object_ids,omitempty"`
	RepositoryID   *int64            `json:"repository_id,omitempty"`
	Limit          int               `json:"limit,omitempty" binding:"gte=0"`
	EmptyScopeOnly bool              `json:"empty_scope_only,omitempty"`
	MaxConcurrent  *int              `json:"max_concurrent,omitempty" binding:"omitempty,gte=1"`
	DelayBetweenMs *int              `json:"delay_between_ms,omitempty" binding:"omitempty,gte=0"`
	MaxRetries     *int              `json:"max_retries,omitempty" binding:"omitempty,gte=0"`
	Priority       *int              `json:"priority,omitempty" binding:"omitempty,gte=1,lte=10"`
	Options        map[string]any    `json:"options,omitempty"`
	AutoStart      bool              `json:"auto_start,omitempty"`
	CreatedBy      string            `json:"-"`
}

// BatchView is a batch with its derived progress and the actions it admits.
type BatchView struct {
	models.Batch
	ProgressPercent float64              `json:"progress_percent"`
	AllowedActions  []models.BatchAction `json:"allowed_actions"`
}

// BatchDetail is a batch view with its job statistics.
type BatchDetail struct {
	BatchView
	Stats models.BatchStats `json:"stats"`
}

func newBatchView(b models.Batch) BatchView {
	return BatchView{
		Batch:           b,
		ProgressPercent: b.ProgressPercent(),
		AllowedActions:  models.AllowedActions(b.Status),
	}
}

const lockStripes = 64

// BatchService is the batch lifecycle controller. Every status change goes
// through models.Transition and lands with a compare-and-set on the store.
// Operations on one batch are serialized by a striped lock.
type BatchService struct {
	store    BatchStore
	objects  ObjectSelector
	settings *config.SettingsStore
	log      *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time
	newID    func() string
	locks    [lockStripes]sync.Mutex

	mu       sync.RWMutex
	onQueued func()
}

// NewBatchService creates a batch controller.
func NewBatchService(store BatchStore, objects ObjectSelector, settings *config.SettingsStore, log *slog.Logger) *BatchService {
	if log == nil {
		log = slog.Default()
	}
	return &BatchService{
		store:    store,
		objects:  objects,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    newBatchID,
	}
}

// WithMetrics records job outcomes on c.
func (s *BatchService) WithMetrics(c *metrics.Collector) *BatchService {
	s.metrics = c
	return s
}

// OnQueued registers fn to be called whenever jobs become queued.
func (s *BatchService) OnQueued(fn func()) {
	s.mu.Lock()
	s.onQueued = fn
	s.mu.Unlock()
}

func (s *BatchService) notifyQueued() {
	s.mu.RLock()
	fn := s.onQueued
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *BatchService) lock(batchID string) func() {
	h := fnv.New32a()
	h.Write([]byte(batchID))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// Create validates req, resolves its selection and stores a pending batch
// with one job per object and task type.
func (s *BatchService) Create(ctx context.Context, req CreateBatchRequest) (*BatchView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	taskTypes, err := normalizeTaskTypes(req.TaskTypes)
	if err != nil {
		return nil, err
	}
	if len(req.ObjectIDs) == 0 && req.RepositoryID == nil {
		return nil, fmt.Errorf("%w: object_ids or repository_id is required", models.ErrValidation)
	}

	defaults := s.settings.Current().Queue
	b := models.Batch{
		ID:             s.newID(),
		Name:           name,
		Description:    req.Description,
		TaskTypes:      taskTypes,
		Status:         models.BatchPending,
		Priority:       intOr(req.Priority, defaults.Priority),
		MaxConcurrent:  intOr(req.MaxConcurrent, defaults.MaxConcurrent),
		DelayBetweenMs: intOr(req.DelayBetweenMs, defaults.DelayBetweenMs),
		MaxRetries:     intOr(req.MaxRetries, defaults.MaxRetries),
		Options:        req.Options,
		CreatedBy:      req.CreatedBy,
	}
	if b.MaxConcurrent < 1 || b.DelayBetweenMs < 0 || b.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max_concurrent must be positive, delay and retries non-negative", models.ErrValidation)
	}

	ids, err := s.objects.SelectObjects(ctx, models.ObjectSelection{
		ObjectIDs:      req.ObjectIDs,
		RepositoryID:   req.RepositoryID,
		EmptyScopeOnly: req.EmptyScopeOnly,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("select objects: %w", err)
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: selection matched no objects", models.ErrValidation)
	}

	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	jobs := make([]models.Job, 0, len(ids)*len(taskTypes))
	for _, objectID := range ids {
		for _, tt := range taskTypes {
			jobs = append(jobs, models.Job{
				ID:        uuid.NewString(),
				BatchID:   b.ID,
				ObjectID:  objectID,
				TaskType:  tt,
				Status:    models.JobPending,
				Priority:  b.Priority,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}
	b.TotalItems = len(jobs)

	if err := s.insert(ctx, &b, jobs); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	s.appendLog(ctx, b.ID, "", models.EventBatchCreated, fmt.Sprintf("Batch %q created", b.Name))
	s.appendLog(ctx, b.ID, "", models.EventItemsAdded,
		fmt.Sprintf("Added %d jobs for %d objects", len(jobs), len(ids)))
	s.log.Info("batch created", "batch_id", b.ID, "name", b.Name, "objects", len(ids), "jobs", len(jobs))

	if req.AutoStart {
		return s.Action(ctx, b.ID, models.ActionStart)
	}
	v := newBatchView(b)
	return &v, nil
}

func normalizeTaskTypes(in []models.TaskType) ([]models.TaskType, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one task type is required", models.ErrValidation)
	}
	out := make([]models.TaskType, 0, len(in))
	for _, tt := range in {
		if !models.ValidTaskType(tt) {
			return nil, fmt.Errorf("%w: unknown task type %q", models.ErrValidation, tt)
		}
		if !slices.Contains(out, tt) {
			out = append(out, tt)
		}
	}
	return out, nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Action applies a user action to a batch.
func (s *BatchService) Action(ctx context.Context, id string, action models.BatchAction) (*BatchView, error) {
	unlock := s.lock(id)
	defer unlock()

	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := models.Transition(b.Status, action)
	if err != nil {
		return nil, err
	}

	if action == models.ActionRetry {
		if err := s.retry(ctx, b); err != nil {
			return nil, err
		}
		return s.view(ctx, id)
	}

	now := s.now()
	ok, err := s.store.SetStatus(ctx, id, []models.BatchStatus{b.Status}, to, now)
	if err != nil {
		return nil, fmt.Errorf("set batch status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch %s changed status concurrently", models.ErrInvalidTransition, id)
	}

	switch action {
	case models.ActionStart:
		s.appendLog(ctx, id, "", models.EventBatchStarted, "Batch started")
		err = s.reconcile(ctx, id)
	case models.ActionResume:
		s.appendLog(ctx, id, "", models.EventBatchResumed, "Batch resumed")
		err = s.reconcile(ctx, id)
	case models.ActionPause:
		s.appendLog(ctx, id, "", models.EventBatchPaused, "Batch paused")
	case models.ActionCancel:
		var n int
		n, err = s.store.CancelOpen(ctx, id, now)
		if err == nil {
			s.appendLog(ctx, id, "", models.EventBatchCancelled, fmt.Sprintf("Batch cancelled, %d jobs cancelled", n))
			err = s.recount(ctx, id)
		}
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("batch action", "batch_id", id, "action", action, "from", b.Status, "to", to)
	return s.view(ctx, id)
}

// retry returns failed jobs to the queue with a fresh attempt budget. Jobs of
// a running or paused batch wait as pending for the normal top-up; jobs of a
// settled batch go straight to queued so the runner picks them up.
func (s *BatchService) retry(ctx context.Context, b *models.Batch) error {
	counts, err := s.store.CountJobs(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}
	if counts.Failed == 0 {
		return models.ErrNothingToRetry
	}
	to := models.JobPending
	if b.Status == models.BatchCompleted || b.Status == models.BatchFailed {
		to = models.JobQueued
	}
	n, err := s.store.ResetFailed(ctx, b.ID, to, s.now())
	if err != nil {
		return fmt.Errorf("reset failed jobs: %w", err)
	}
	s.appendLog(ctx, b.ID, "", models.EventBatchRetry, fmt.Sprintf("Retrying %d failed jobs", n))
	s.log.Info("batch retry", "batch_id", b.ID, "jobs", n, "status", b.Status)
	if err := s.reconcile(ctx, b.ID); err != nil {
		return err
	}
	if to == models.JobQueued {
		s.notifyQueued()
	}
	return nil
}

func (s *BatchService) recount(ctx context.Context, id string) error {
	counts, err := s.store.CountJobs(ctx, id)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}
	if err := s.store.SetCounts(ctx, id, counts, s.now()); err != nil {
		return fmt.Errorf("set counts: %w", err)
	}
	return nil
}

// reconcile recounts the batch, tops a running batch's queue up to
// max_concurrent and settles a batch with no outstanding jobs. Callers hold
// the batch lock.
func (s *BatchService) reconcile(ctx context.Context, id string) error {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	counts, err := s.store.CountJobs(ctx, id)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}
	now := s.now()
	if err := s.store.SetCounts(ctx, id, counts, now); err != nil {
		return fmt.Errorf("set counts: %w", err)
	}

	if b.Status == models.BatchRunning && counts.Pending > 0 {
		free := b.MaxConcurrent - counts.Queued - counts.Running
		if free > 0 {
			n, err := s.store.QueuePending(ctx, id, free, now)
			if err != nil {
				return fmt.Errorf("queue jobs: %w", err)
			}
			counts.Pending -= n
			counts.Queued += n
			if n > 0 {
				s.notifyQueued()
			}
		}
	}

	switch b.Status {
	case models.BatchRunning, models.BatchCompleted, models.BatchFailed:
	default:
		return nil
	}
	if counts.Outstanding() > 0 {
		return nil
	}
	to := models.SettledStatus(counts)
	ok, err := s.store.SetStatus(ctx, id, []models.BatchStatus{b.Status}, to, now)
	if err != nil {
		return fmt.Errorf("settle batch: %w", err)
	}
	if !ok {
		return nil
	}
	event := models.EventBatchCompleted
	if to == models.BatchFailed {
		event = models.EventBatchFailed
	}
	s.appendLog(ctx, id, "", event, fmt.Sprintf("Batch %s: %d completed, %d failed, %d skipped",
		to, counts.Completed, counts.Failed, counts.Skipped))
	s.log.Info("batch settled", "batch_id", id, "status", to,
		"completed", counts.Completed, "failed", counts.Failed, "skipped", counts.Skipped)
	return nil
}

func (s *BatchService) view(ctx context.Context, id string) (*BatchView, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	v := newBatchView(*b)
	return &v, nil
}

// Progress recounts the batch's jobs and returns the polling view.
func (s *BatchService) Progress(ctx context.Context, id string) (*models.Progress, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.store.CountJobs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return &models.Progress{
		BatchID:         id,
		Status:          b.Status,
		Total:           c.Total,
		Completed:       c.Completed,
		Failed:          c.Failed,
		ProgressPercent: models.Percent(c.Completed, c.Total),
		Stats: models.ProgressStats{
			Pending: c.Pending,
			Queued:  c.Queued,
			Running: c.Running,
			Skipped: c.Skipped,
		},
	}, nil
}

// Get returns a batch with its statistics.
func (s *BatchService) Get(ctx context.Context, id string) (*BatchDetail, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.BatchStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("batch stats: %w", err)
	}
	return &BatchDetail{BatchView: newBatchView(*b), Stats: stats}, nil
}

// List returns batches, newest first.
func (s *BatchService) List(ctx context.Context, f models.BatchFilter) ([]BatchView, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, f.Status)
	}
	if err := checkPage(f.Limit, f.Offset); err != nil {
		return nil, err
	}
	batches, err := s.store.ListBatches(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]BatchView, len(batches))
	for i, b := range batches {
		out[i] = newBatchView(b)
	}
	return out, nil
}

// Jobs lists a batch's jobs.
func (s *BatchService) Jobs(ctx context.Context, id string, f models.JobFilter) ([]models.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", models.ErrValidation, f.Status)
	}
	if f.TaskType != "" && !models.ValidTaskType(f.TaskType) {
		return nil, fmt.Errorf("%w: unknown task type %q", models.ErrValidation, f.TaskType)
	}
	if err := checkPage(f.Limit, f.Offset); err != nil {
		return nil, err
	}
	if _, err := s.store.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListJobs(ctx, id, f)
}

// newBatchID returns a short id for URLs and the CLI. insert retries on
// the rare collision.
func newBatchID() string {
	return uuid.New().String()[:8]
}

const maxIDAttempts = 5

// insert stores b and its jobs, drawing a fresh batch id while the store
// reports a duplicate.
func (s *BatchService) insert(ctx context.Context, b *models.Batch, jobs []models.Job) error {
	var err error
	for range maxIDAttempts {
		if err = s.store.CreateBatch(ctx, *b, jobs); !errors.Is(err, models.ErrDuplicate) {
			return err
		}
		s.log.Warn("batch id collision, drawing a new id", "batch_id", b.ID)
		b.ID = s.newID()
		for i := range jobs {
			jobs[i].BatchID = b.ID
		}
	}
	return err
}

// dedupe drops repeated ids and keeps the first occurrence in place.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// checkPage rejects negative paging. A zero limit lists everything.
func checkPage(limit, offset int) error {
	if limit < 0 || offset < 0 {
		return fmt.Errorf("%w: limit and offset must not be negative, got limit=%d offset=%d",
			models.ErrValidation, limit, offset)
	}
	return nil
}

// Log returns a batch's activity log, newest first.
func (s *BatchService) Log(ctx context.Context, id string, limit int) ([]models.LogEntry, error) {
	if _, err := s.store.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListLog(ctx, id, limit)
}

// Delete removes a batch with its jobs and log. Running batches must be
// paused or cancelled first.
func (s *BatchService) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if b.Status == models.BatchRunning {
		return fmt.Errorf("%w: cannot delete a running batch", models.ErrInvalidTransition)
	}
	if err := s.store.DeleteBatch(ctx, id); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	s.log.Info("batch deleted", "batch_id", id, "name", b.Name)
	return nil
}

// Cleanup deletes completed and cancelled batches that settled more than
// days ago. A non-positive days uses the configured retention.
func (s *BatchService) Cleanup(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = s.settings.Current().Queue.CleanupDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	ids, err := s.store.SettledBefore(ctx, []models.BatchStatus{models.BatchCompleted, models.BatchCancelled}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list settled batches: %w", err)
	}
	deleted := 0
	for _, id := range ids {
		if err := s.store.DeleteBatch(ctx, id); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete batch %s: %w", id, err)
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info("batches cleaned up", "count", deleted, "older_than_days", days)
	}
	return deleted, nil
}

// CompleteJob records a successful run and advances the batch.
func (s *BatchService) CompleteJob(ctx context.Context, job models.Job, result map[string]any, elapsed time.Duration) error {
	unlock := s.lock(job.BatchID)
	defer unlock()

	now := s.now()
	job.Status = models.JobCompleted
	job.Result = result
	job.ProcessingTimeMs = elapsed.Milliseconds()
	job.ErrorMessage, job.ErrorCode = "", ""
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	s.appendLog(ctx, job.BatchID, job.ID, models.EventJobCompleted,
		fmt.Sprintf("%s completed for object %d", job.TaskType, job.ObjectID))
	s.recordOutcome("completed")
	return s.reconcile(ctx, job.BatchID)
}

// SkipJob records a job that had nothing to work on.
func (s *BatchService) SkipJob(ctx context.Context, job models.Job, reason string, elapsed time.Duration) error {
	unlock := s.lock(job.BatchID)
	defer unlock()

	now := s.now()
	job.Status = models.JobSkipped
	job.ProcessingTimeMs = elapsed.Milliseconds()
	job.ErrorMessage, job.ErrorCode = reason, "skipped"
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	s.appendLog(ctx, job.BatchID, job.ID, models.EventJobSkipped,
		fmt.Sprintf("%s skipped for object %d: %s", job.TaskType, job.ObjectID, reason))
	s.recordOutcome("skipped")
	return s.reconcile(ctx, job.BatchID)
}

// FailJob records a failed run. The job goes back to the queue while it has
// attempts left and is marked failed otherwise. A fatal provider error pauses
// a running batch and returns the job to pending without using an attempt.
func (s *BatchService) FailJob(ctx context.Context, job models.Job, runErr error, elapsed time.Duration) error {
	unlock := s.lock(job.BatchID)
	defer unlock()

	b, err := s.store.GetBatch(ctx, job.BatchID)
	if err != nil {
		return err
	}
	now := s.now()
	job.ErrorMessage = runErr.Error()
	job.ErrorCode = errorCode(runErr)
	job.ProcessingTimeMs = elapsed.Milliseconds()
	job.UpdatedAt = now

	if errors.Is(runErr, llm.ErrFatalAPI) && b.Status == models.BatchRunning {
		job.Status = models.JobPending
		job.StartedAt = nil
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		ok, err := s.store.SetStatus(ctx, b.ID, []models.BatchStatus{models.BatchRunning}, models.BatchPaused, now)
		if err != nil {
			return fmt.Errorf("pause batch: %w", err)
		}
		if ok {
			s.appendLog(ctx, b.ID, job.ID, models.EventBatchPaused, "Batch paused: "+runErr.Error())
			s.log.Warn("batch paused on fatal LLM error", "batch_id", b.ID, "job_id", job.ID, "error", runErr)
		}
		s.recordOutcome("paused")
		return s.reconcile(ctx, b.ID)
	}

	job.AttemptCount++
	if job.AttemptCount < b.MaxRetries {
		job.StartedAt = nil
		switch b.Status {
		case models.BatchCompleted, models.BatchFailed:
			job.Status = models.JobQueued
			job.QueuedAt = &now
		case models.BatchCancelled:
			job.Status = models.JobCancelled
			job.CompletedAt = &now
		default:
			job.Status = models.JobPending
		}
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		s.appendLog(ctx, b.ID, job.ID, models.EventJobRetry, fmt.Sprintf("%s failed for object %d (attempt %d of %d): %s",
			job.TaskType, job.ObjectID, job.AttemptCount, b.MaxRetries, runErr))
		s.log.Warn("job failed, will retry", "batch_id", b.ID, "job_id", job.ID,
			"attempt", job.AttemptCount, "error", runErr)
		s.recordOutcome("retry")
		if job.Status == models.JobQueued {
			s.notifyQueued()
		}
		return s.reconcile(ctx, b.ID)
	}

	job.Status = models.JobFailed
	job.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	s.appendLog(ctx, b.ID, job.ID, models.EventJobFailed,
		fmt.Sprintf("%s failed for object %d: %s", job.TaskType, job.ObjectID, runErr))
	s.log.Error("job failed", "batch_id", b.ID, "job_id", job.ID, "object_id", job.ObjectID,
		"task_type", job.TaskType, "error", runErr)
	s.recordOutcome("failed")
	return s.reconcile(ctx, b.ID)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, llm.ErrFatalAPI):
		return "llm_fatal"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (s *BatchService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordJobOutcome(outcome)
	}
}

// appendLog writes a log entry. Failures are logged, not returned: the log is
// an audit trail and never blocks a status change.
func (s *BatchService) appendLog(ctx context.Context, batchID, jobID string, event models.LogEvent, msg string) {
	e := models.LogEntry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		BatchID:   batchID,
		JobID:     jobID,
		EventType: event,
		Message:   msg,
		CreatedAt: s.now(),
	}
	if err := s.store.AppendLog(ctx, e); err != nil {
		s.log.Warn("failed to append batch log", "batch_id", batchID, "event", event, "error", err)
	}
}
