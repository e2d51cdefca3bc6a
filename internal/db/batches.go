package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type batchRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	TaskTypes      []models.TaskType      `json:"task_types"`
	Status         models.BatchStatus     `json:"status"`
	Priority       int                    `json:"priority"`
	TotalItems     int                    `json:"total_items"`
	CompletedItems int                    `json:"completed_items"`
	FailedItems    int                    `json:"failed_items"`
	MaxConcurrent  int                    `json:"max_concurrent"`
	DelayBetweenMs int                    `json:"delay_between_ms"`
	MaxRetries     int                    `json:"max_retries"`
	Options        map[string]any         `json:"options,omitempty"`
	CreatedBy      string                 `json:"created_by"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func (r batchRow) model() (models.Batch, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Batch{}, err
	}
	return models.Batch{
		ID:             id,
		Name:           r.Name,
		Description:    r.Description,
		TaskTypes:      r.TaskTypes,
		Status:         r.Status,
		Priority:       r.Priority,
		TotalItems:     r.TotalItems,
		CompletedItems: r.CompletedItems,
		FailedItems:    r.FailedItems,
		MaxConcurrent:  r.MaxConcurrent,
		DelayBetweenMs: r.DelayBetweenMs,
		MaxRetries:     r.MaxRetries,
		Options:        r.Options,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func batchModels(rows []batchRow) ([]models.Batch, error) {
	out := make([]models.Batch, 0, len(rows))
	for _, r := range rows {
		b, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

type jobRow struct {
	ID               surrealmodels.RecordID `json:"id"`
	BatchID          string                 `json:"batch_id"`
	ObjectID         int64                  `json:"object_id"`
	TaskType         models.TaskType        `json:"task_type"`
	Status           models.JobStatus       `json:"status"`
	Priority         int                    `json:"priority"`
	AttemptCount     int                    `json:"attempt_count"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	ErrorMessage     string                 `json:"error_message"`
	ErrorCode        string                 `json:"error_code"`
	Result           map[string]any         `json:"result,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	QueuedAt         *time.Time             `json:"queued_at,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at"`
	LeaseExpiresAt   *time.Time             `json:"lease_expires_at,omitempty"`
}

func (r jobRow) model() (models.Job, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Job{}, err
	}
	return models.Job{
		ID:               id,
		BatchID:          r.BatchID,
		ObjectID:         r.ObjectID,
		TaskType:         r.TaskType,
		Status:           r.Status,
		Priority:         r.Priority,
		AttemptCount:     r.AttemptCount,
		ProcessingTimeMs: r.ProcessingTimeMs,
		ErrorMessage:     r.ErrorMessage,
		ErrorCode:        r.ErrorCode,
		Result:           r.Result,
		CreatedAt:        r.CreatedAt,
		QueuedAt:         r.QueuedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		UpdatedAt:        r.UpdatedAt,
		LeaseExpiresAt:   r.LeaseExpiresAt,
	}, nil
}

func jobModels(rows []jobRow) ([]models.Job, error) {
	out := make([]models.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// CreateBatch inserts a batch and its jobs in one transaction.
func (c *Client) CreateBatch(ctx context.Context, b models.Batch, jobs []models.Job) error {
	jobData := make([]map[string]any, 0, len(jobs))
	for i, j := range jobs {
		jobData = append(jobData, map[string]any{
			"id":         j.ID,
			"batch_id":   b.ID,
			"object_id":  j.ObjectID,
			"task_type":  string(j.TaskType),
			"status":     string(j.Status),
			"priority":   j.Priority,
			"seq":        i,
			"created_at": j.CreatedAt,
			"updated_at": j.UpdatedAt,
		})
	}

	sql := `
		BEGIN TRANSACTION;
		CREATE type::record("batch", $id) CONTENT {
			name: $name,
			description: $description,
			task_types: $task_types,
			status: $status,
			priority: $priority,
			total_items: $total,
			completed_items: 0,
			failed_items: 0,
			max_concurrent: $max_concurrent,
			delay_between_ms: $delay,
			max_retries: $max_retries,
			options: $options ?? NONE,
			created_by: $created_by,
			created_at: $at,
			updated_at: $at
		} RETURN NONE;
		INSERT INTO job $jobs RETURN NONE;
		COMMIT TRANSACTION;
	`
	taskTypes := make([]string, len(b.TaskTypes))
	for i, t := range b.TaskTypes {
		taskTypes[i] = string(t)
	}
	_, err := query[any](ctx, c, sql, map[string]any{
		"id":             b.ID,
		"name":           b.Name,
		"description":    b.Description,
		"task_types":     taskTypes,
		"status":         string(b.Status),
		"priority":       b.Priority,
		"total":          b.TotalItems,
		"max_concurrent": b.MaxConcurrent,
		"delay":          b.DelayBetweenMs,
		"max_retries":    b.MaxRetries,
		"options":        b.Options,
		"created_by":     b.CreatedBy,
		"at":             b.CreatedAt,
		"jobs":           jobData,
	})
	if err != nil {
		return fmt.Errorf("create batch: %w", wrapQueryError(err))
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (c *Client) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	results, err := query[[]batchRow](ctx, c, `
		SELECT * FROM type::record("batch", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
	}
	b, err := rows[0].model()
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

// ListBatches returns batches newest first.
func (c *Client) ListBatches(ctx context.Context, f models.BatchFilter) ([]models.Batch, error) {
	where := "true"
	vars := map[string]any{}
	if f.Status != "" {
		where += " AND status = $status"
		vars["status"] = string(f.Status)
	}
	if f.CreatedBy != "" {
		where += " AND created_by = $created_by"
		vars["created_by"] = f.CreatedBy
	}
	sql := fmt.Sprintf("SELECT * FROM batch WHERE %s ORDER BY created_at DESC, id DESC", where)
	if f.Limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = f.Limit
	}
	if f.Offset > 0 {
		sql += " START $offset"
		vars["offset"] = f.Offset
	}

	results, err := query[[]batchRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batchModels(first(results))
}

// ClaimableBatches returns running batches plus settled batches that still
// hold queued jobs from a retry, highest priority (lowest value) first.
func (c *Client) ClaimableBatches(ctx context.Context) ([]models.Batch, error) {
	results, err := query[[]batchRow](ctx, c, `
		SELECT * FROM batch
		WHERE status IN ['running', 'completed', 'failed']
		ORDER BY priority ASC, created_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("claimable batches: %w", err)
	}
	all, err := batchModels(first(results))
	if err != nil {
		return nil, err
	}

	queued, err := query[[]struct {
		BatchID string `json:"batch_id"`
	}](ctx, c, `SELECT batch_id FROM job WHERE status = 'queued' GROUP BY batch_id`, nil)
	if err != nil {
		return nil, fmt.Errorf("batches with queued jobs: %w", err)
	}
	hasQueued := make(map[string]bool)
	for _, r := range first(queued) {
		hasQueued[r.BatchID] = true
	}

	out := make([]models.Batch, 0, len(all))
	for _, b := range all {
		if b.Status == models.BatchRunning || hasQueued[b.ID] {
			out = append(out, b)
		}
	}
	return out, nil
}

// SetStatus moves a batch to `to` only if its current status is one of
// `from`. Reports whether the update happened.
func (c *Client) SetStatus(ctx context.Context, id string, from []models.BatchStatus, to models.BatchStatus, at time.Time) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	results, err := query[[]batchRow](ctx, c, `
		UPDATE type::record("batch", $id) SET
			status = $to,
			updated_at = $at,
			started_at = IF $running THEN (started_at ?? $at) ELSE started_at END,
			completed_at = IF $terminal THEN $at ELSE completed_at END
		WHERE status IN $from
		RETURN AFTER
	`, map[string]any{
		"id":       id,
		"to":       string(to),
		"from":     fromStrs,
		"at":       at,
		"running":  to == models.BatchRunning,
		"terminal": to.Terminal(),
	})
	if err != nil {
		return false, fmt.Errorf("set batch status: %w", wrapQueryError(err))
	}
	if len(first(results)) > 0 {
		return true, nil
	}
	if _, err := c.GetBatch(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SetCounts stores recounted job totals on the batch.
func (c *Client) SetCounts(ctx context.Context, id string, counts models.JobCounts, at time.Time) error {
	results, err := query[[]batchRow](ctx, c, `
		UPDATE type::record("batch", $id) SET
			total_items = $total,
			completed_items = $completed,
			failed_items = $failed,
			updated_at = $at
		WHERE id != NONE
		RETURN AFTER
	`, map[string]any{
		"id":        id,
		"total":     counts.Total,
		"completed": counts.Completed,
		"failed":    counts.Failed,
		"at":        at,
	})
	if err != nil {
		return fmt.Errorf("set batch counts: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		return fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// DeleteBatch removes a batch with its jobs and log entries.
func (c *Client) DeleteBatch(ctx context.Context, id string) error {
	if _, err := c.GetBatch(ctx, id); err != nil {
		return err
	}
	_, err := query[any](ctx, c, `
		BEGIN TRANSACTION;
		DELETE job_log WHERE batch_id = $id;
		DELETE job WHERE batch_id = $id;
		DELETE type::record("batch", $id);
		COMMIT TRANSACTION;
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete batch: %w", wrapQueryError(err))
	}
	return nil
}

// SettledBefore lists IDs of batches in one of statuses whose completion
// time is before cutoff.
func (c *Client) SettledBefore(ctx context.Context, statuses []models.BatchStatus, cutoff time.Time) ([]string, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}
	results, err := query[[]struct {
		ID surrealmodels.RecordID `json:"id"`
	}](ctx, c, `
		SELECT id FROM batch
		WHERE status IN $statuses AND completed_at != NONE AND completed_at < $cutoff
		ORDER BY id
	`, map[string]any{"statuses": strs, "cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("settled batches: %w", err)
	}
	var ids []string
	for _, r := range first(results) {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CountJobs tallies job statuses for a batch.
func (c *Client) CountJobs(ctx context.Context, batchID string) (models.JobCounts, error) {
	results, err := query[[]struct {
		Status models.JobStatus `json:"status"`
		N      int              `json:"n"`
	}](ctx, c, `
		SELECT status, count() AS n FROM job WHERE batch_id = $batch GROUP BY status
	`, map[string]any{"batch": batchID})
	if err != nil {
		return models.JobCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	var counts models.JobCounts
	for _, r := range first(results) {
		for range r.N {
			counts.Add(r.Status)
		}
	}
	return counts, nil
}

// BatchStats computes per-status, per-task-type and timing statistics.
func (c *Client) BatchStats(ctx context.Context, batchID string) (models.BatchStats, error) {
	results, err := query[[]struct {
		TaskType models.TaskType  `json:"task_type"`
		Status   models.JobStatus `json:"status"`
		N        int              `json:"n"`
	}](ctx, c, `
		SELECT task_type, status, count() AS n FROM job
		WHERE batch_id = $batch
		GROUP BY task_type, status
	`, map[string]any{"batch": batchID})
	if err != nil {
		return models.BatchStats{}, fmt.Errorf("batch stats: %w", err)
	}

	stats := models.BatchStats{ByTaskType: make(map[models.TaskType]models.TaskTypeStats)}
	for _, r := range first(results) {
		for range r.N {
			stats.Add(r.Status)
		}
		tt := stats.ByTaskType[r.TaskType]
		tt.Count += r.N
		if r.Status == models.JobCompleted {
			tt.Completed += r.N
		}
		stats.ByTaskType[r.TaskType] = tt
	}

	timing, err := query[[]struct {
		N  int   `json:"n"`
		Ms int64 `json:"ms"`
	}](ctx, c, `
		SELECT count() AS n, math::sum(processing_time_ms) AS ms FROM job
		WHERE batch_id = $batch AND status = 'completed' AND processing_time_ms > 0
		GROUP ALL
	`, map[string]any{"batch": batchID})
	if err != nil {
		return models.BatchStats{}, fmt.Errorf("batch timing: %w", err)
	}
	if rows := first(timing); len(rows) > 0 && rows[0].N > 0 {
		stats.AvgProcessingTimeMs = rows[0].Ms / int64(rows[0].N)
	}
	return stats, nil
}

// ListJobs returns a batch's jobs in insertion order.
func (c *Client) ListJobs(ctx context.Context, batchID string, f models.JobFilter) ([]models.Job, error) {
	sql := "SELECT * FROM job WHERE batch_id = $batch"
	vars := map[string]any{"batch": batchID}
	if f.Status != "" {
		sql += " AND status = $status"
		vars["status"] = string(f.Status)
	}
	if f.TaskType != "" {
		sql += " AND task_type = $task_type"
		vars["task_type"] = string(f.TaskType)
	}
	sql += " ORDER BY seq ASC"
	if f.Limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = f.Limit
	}
	if f.Offset > 0 {
		sql += " START $offset"
		vars["offset"] = f.Offset
	}

	results, err := query[[]jobRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobModels(first(results))
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := query[[]jobRow](ctx, c, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	j, err := rows[0].model()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// QueuePending moves up to n pending jobs of a batch to queued, lowest
// priority value first.
func (c *Client) QueuePending(ctx context.Context, batchID string, n int, at time.Time) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	results, err := query[[]jobRow](ctx, c, `
		BEGIN TRANSACTION;
		LET $ids = (SELECT VALUE id FROM job
			WHERE batch_id = $batch AND status = 'pending'
			ORDER BY priority ASC, seq ASC LIMIT $n);
		UPDATE $ids SET status = 'queued', queued_at = $at, updated_at = $at
			WHERE status = 'pending' RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{"batch": batchID, "n": n, "at": at})
	if err = wrapQueryError(err); err != nil {
		if lostRace(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("queue pending: %w", err)
	}
	return len(last(results)), nil
}

// ClaimQueued moves up to n queued jobs of a batch to running and returns them.
func (c *Client) ClaimQueued(ctx context.Context, batchID string, n int, at, leaseUntil time.Time) ([]models.Job, error) {
	if n <= 0 {
		return nil, nil
	}
	results, err := query[[]jobRow](ctx, c, `
		BEGIN TRANSACTION;
		LET $ids = (SELECT VALUE id FROM job
			WHERE batch_id = $batch AND status = 'queued'
			ORDER BY priority ASC, seq ASC LIMIT $n);
		UPDATE $ids SET status = 'running', started_at = $at, lease_expires_at = $lease, updated_at = $at
			WHERE status = 'queued' RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{"batch": batchID, "n": n, "at": at, "lease": leaseUntil})
	if err = wrapQueryError(err); err != nil {
		if lostRace(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim queued: %w", err)
	}
	return jobModels(last(results))
}

// UpdateJob writes a job's mutable fields.
func (c *Client) UpdateJob(ctx context.Context, j models.Job) error {
	results, err := query[[]jobRow](ctx, c, `
		UPDATE type::record("job", $id) SET
			status = $status,
			attempt_count = $attempts,
			processing_time_ms = $ms,
			error_message = $error_message,
			error_code = $error_code,
			result = $result ?? NONE,
			queued_at = $queued_at ?? NONE,
			started_at = $started_at ?? NONE,
			completed_at = $completed_at ?? NONE,
			lease_expires_at = IF $status = 'running' THEN $lease ?? NONE ELSE NONE END,
			updated_at = $updated_at
		WHERE id != NONE
		RETURN AFTER
	`, map[string]any{
		"id":            j.ID,
		"status":        string(j.Status),
		"attempts":      j.AttemptCount,
		"ms":            j.ProcessingTimeMs,
		"error_message": j.ErrorMessage,
		"error_code":    j.ErrorCode,
		"result":        j.Result,
		"queued_at":     j.QueuedAt,
		"started_at":    j.StartedAt,
		"completed_at":  j.CompletedAt,
		"lease":         j.LeaseExpiresAt,
		"updated_at":    j.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update job: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		return fmt.Errorf("job %s: %w", j.ID, models.ErrNotFound)
	}
	return nil
}

// ResetFailed moves a batch's failed jobs to status `to` with a fresh retry
// budget and cleared error.
func (c *Client) ResetFailed(ctx context.Context, batchID string, to models.JobStatus, at time.Time) (int, error) {
	results, err := query[[]jobRow](ctx, c, `
		UPDATE job SET
			status = $to,
			attempt_count = 0,
			error_message = '',
			error_code = '',
			completed_at = NONE,
			queued_at = IF $to = 'queued' THEN $at ELSE queued_at END,
			updated_at = $at
		WHERE batch_id = $batch AND status = 'failed'
		RETURN AFTER
	`, map[string]any{"batch": batchID, "to": string(to), "at": at})
	if err != nil {
		return 0, fmt.Errorf("reset failed jobs: %w", wrapQueryError(err))
	}
	return len(first(results)), nil
}

// CancelOpen cancels a batch's pending and queued jobs. Running jobs are left
// to finish.
func (c *Client) CancelOpen(ctx context.Context, batchID string, at time.Time) (int, error) {
	results, err := query[[]jobRow](ctx, c, `
		UPDATE job SET status = 'cancelled', completed_at = $at, updated_at = $at
		WHERE batch_id = $batch AND status IN ['pending', 'queued']
		RETURN AFTER
	`, map[string]any{"batch": batchID, "at": at})
	if err != nil {
		return 0, fmt.Errorf("cancel open jobs: %w", wrapQueryError(err))
	}
	return len(first(results)), nil
}

// RecoverRunning requeues running jobs whose lease expired, which means the
// runner that claimed them is gone. Jobs leased by a live runner stay put.
func (c *Client) RecoverRunning(ctx context.Context, at time.Time) (int, error) {
	results, err := query[[]jobRow](ctx, c, `
		UPDATE job SET status = 'queued', started_at = NONE, lease_expires_at = NONE,
			queued_at = $at, updated_at = $at
		WHERE status = 'running' AND (lease_expires_at = NONE OR lease_expires_at < $at)
		RETURN AFTER
	`, map[string]any{"at": at})
	if err != nil {
		return 0, fmt.Errorf("recover running jobs: %w", wrapQueryError(err))
	}
	return len(first(results)), nil
}

type logRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	BatchID   string                 `json:"batch_id"`
	JobID     string                 `json:"job_id"`
	EventType models.LogEvent        `json:"event_type"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"created_at"`
}

// AppendLog records one batch activity entry.
func (c *Client) AppendLog(ctx context.Context, e models.LogEntry) error {
	_, err := query[any](ctx, c, `
		CREATE type::record("job_log", $id) CONTENT {
			batch_id: $batch,
			job_id: $job,
			event_type: $event,
			message: $message,
			created_at: $at
		} RETURN NONE
	`, map[string]any{
		"id":      e.ID,
		"batch":   e.BatchID,
		"job":     e.JobID,
		"event":   string(e.EventType),
		"message": e.Message,
		"at":      e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("append log: %w", wrapQueryError(err))
	}
	return nil
}

// ListLog returns a batch's log newest first. Entry IDs are time-ordered so
// they break ties between entries written in the same instant.
func (c *Client) ListLog(ctx context.Context, batchID string, limit int) ([]models.LogEntry, error) {
	sql := "SELECT * FROM job_log WHERE batch_id = $batch ORDER BY created_at DESC, id DESC"
	vars := map[string]any{"batch": batchID}
	if limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = limit
	}
	results, err := query[[]logRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	rows := first(results)
	out := make([]models.LogEntry, 0, len(rows))
	for _, r := range rows {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.LogEntry{
			ID:        id,
			BatchID:   r.BatchID,
			JobID:     r.JobID,
			EventType: r.EventType,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
