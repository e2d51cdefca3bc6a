package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/metrics"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

const (
	defaultWorkers  = 4
	jobTimeout      = 5 * time.Minute
	cleanupInterval = time.Hour

	// jobLease outlives jobTimeout so a live runner always records the
	// outcome before another runner may take the job back.
	jobLease        = jobTimeout + time.Minute
	recoverInterval = time.Minute
)

// CleanupFunc is a periodic housekeeping task run by the runner.
type CleanupFunc func(ctx context.Context) (int, error)

// Runner executes queued jobs. It claims jobs from claimable batches while
// honoring each batch's max_concurrent and delay_between_ms, and hands the
// outcome back to the batch controller.
type Runner struct {
	batches  *BatchService
	store    BatchStore
	exec     Executor
	settings *config.SettingsStore
	log      *slog.Logger
	metrics  *metrics.Collector
	workers  int
	wake     chan struct{}
	cleanups map[string]CleanupFunc

	mu        sync.Mutex
	inFlight  map[string]int
	nextStart map[string]time.Time
}

// NewRunner creates a runner with at most workers jobs in flight.
func NewRunner(batches *BatchService, exec Executor, settings *config.SettingsStore, workers int, log *slog.Logger) *Runner {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		batches:   batches,
		store:     batches.store,
		exec:      exec,
		settings:  settings,
		log:       log,
		workers:   workers,
		wake:      make(chan struct{}, 1),
		cleanups:  make(map[string]CleanupFunc),
		inFlight:  make(map[string]int),
		nextStart: make(map[string]time.Time),
	}
	batches.OnQueued(r.Wake)
	return r
}

// WithMetrics records job timings on c.
func (r *Runner) WithMetrics(c *metrics.Collector) *Runner {
	r.metrics = c
	return r
}

// AddCleanup registers a housekeeping task run every hour.
func (r *Runner) AddCleanup(name string, fn CleanupFunc) {
	r.cleanups[name] = fn
}

// Wake triggers a dispatch pass without waiting for the next poll.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) pollInterval() time.Duration {
	ms := r.settings.Current().Queue.PollIntervalMs
	if ms <= 0 {
		ms = 2000
	}
	return time.Duration(ms) * time.Millisecond
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs
// to return. Jobs whose lease expired with a dead runner are requeued at
// start and every recoverInterval after.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.recover(ctx); err != nil {
		return err
	}

	var g errgroup.Group
	defer g.Wait()

	interval := r.pollInterval()
	poll := time.NewTicker(interval)
	defer poll.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()
	recovery := time.NewTicker(recoverInterval)
	defer recovery.Stop()

	r.log.Info("job runner started", "workers", r.workers, "poll_interval", interval)
	r.dispatch(ctx, &g)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("job runner stopping")
			return nil
		case <-poll.C:
			if next := r.pollInterval(); next != interval {
				interval = next
				poll.Reset(interval)
			}
			r.dispatch(ctx, &g)
		case <-r.wake:
			r.dispatch(ctx, &g)
		case <-cleanup.C:
			r.cleanup(ctx)
		case <-recovery.C:
			if err := r.recover(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("recover expired jobs", "error", err)
			}
		}
	}
}

func (r *Runner) recover(ctx context.Context) error {
	n, err := r.store.RecoverRunning(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recover running jobs: %w", err)
	}
	if n > 0 {
		r.log.Info("requeued jobs with expired lease", "count", n)
		r.Wake()
	}
	return nil
}

// dispatch claims as many queued jobs as the worker pool and the batches'
// limits allow and starts them.
func (r *Runner) dispatch(ctx context.Context, g *errgroup.Group) {
	batches, err := r.store.ClaimableBatches(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("list claimable batches", "error", err)
		}
		return
	}
	now := time.Now()
	for _, b := range batches {
		n := r.capacity(b, now)
		if n <= 0 {
			continue
		}
		jobs, err := r.store.ClaimQueued(ctx, b.ID, n, now.UTC(), now.Add(jobLease).UTC())
		if err != nil {
			r.log.Error("claim jobs", "batch_id", b.ID, "error", err)
			continue
		}
		for _, job := range jobs {
			r.track(b, now)
			g.Go(func() error {
				r.process(ctx, job, b)
				return nil
			})
		}
	}
}

// capacity is how many jobs may start now for b.
func (r *Runner) capacity(b models.Batch, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.inFlight {
		total += n
	}
	n := min(r.workers-total, b.MaxConcurrent-r.inFlight[b.ID])
	if b.DelayBetweenMs > 0 {
		if now.Before(r.nextStart[b.ID]) {
			return 0
		}
		n = min(n, 1)
	}
	return n
}

func (r *Runner) track(b models.Batch, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight[b.ID]++
	if b.DelayBetweenMs > 0 {
		r.nextStart[b.ID] = now.Add(time.Duration(b.DelayBetweenMs) * time.Millisecond)
	}
}

func (r *Runner) untrack(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[batchID]--; r.inFlight[batchID] <= 0 {
		delete(r.inFlight, batchID)
	}
}

func (r *Runner) process(ctx context.Context, job models.Job, b models.Batch) {
	defer r.Wake()
	defer r.untrack(b.ID)

	log := r.log.With("batch_id", b.ID, "job_id", job.ID, "object_id", job.ObjectID, "task_type", job.TaskType)
	start := time.Now()
	result, runErr := r.execute(ctx, job, b)
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordTiming(metrics.JobOp(string(job.TaskType)), elapsed)
	}

	if ctx.Err() != nil {
		log.Info("job interrupted by shutdown")
		r.release(job)
		return
	}

	var (
		skipErr *SkipError
		err     error
	)
	switch {
	case errors.As(runErr, &skipErr):
		err = r.batches.SkipJob(ctx, job, skipErr.Reason, elapsed)
	case runErr != nil:
		err = r.batches.FailJob(ctx, job, runErr, elapsed)
	default:
		log.Debug("job completed", "duration_ms", elapsed.Milliseconds())
		err = r.batches.CompleteJob(ctx, job, result, elapsed)
	}
	if err != nil {
		log.Error("record job outcome", "error", err)
	}
}

// execute runs one job under the job timeout. A panicking executor fails
// the job instead of taking the runner down.
func (r *Runner) execute(ctx context.Context, job models.Job, b models.Batch) (result map[string]any, err error) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("job panicked", "batch_id", b.ID, "job_id", job.ID, "panic", p)
			result, err = nil, fmt.Errorf("job panicked: %v", p)
		}
	}()
	return r.exec.Execute(ctx, job, b)
}

// release hands a job interrupted by shutdown back to the queue so another
// runner can pick it up without waiting for the lease to run out.
func (r *Runner) release(job models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	job.Status = models.JobQueued
	job.StartedAt = nil
	job.LeaseExpiresAt = nil
	job.QueuedAt = &now
	job.UpdatedAt = now
	if err := r.store.UpdateJob(ctx, job); err != nil {
		r.log.Warn("release interrupted job", "job_id", job.ID, "error", err)
	}
}

func (r *Runner) cleanup(ctx context.Context) {
	if _, err := r.batches.Cleanup(ctx, 0); err != nil {
		r.log.Warn("batch cleanup failed", "error", err)
	}
	for name, fn := range r.cleanups {
		if _, err := fn(ctx); err != nil {
			r.log.Warn("cleanup failed", "task", name, "error", err)
		}
	}
}
