package service

import (
	"context"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// BatchStore persists batches, their jobs and the batch log.
// Status changes go through SetStatus, which only applies when the batch is
// still in one of the expected statuses.
type BatchStore interface {
	CreateBatch(ctx context.Context, b models.Batch, jobs []models.Job) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, f models.BatchFilter) ([]models.Batch, error)
	// ClaimableBatches lists batches the runner may take queued jobs from.
	ClaimableBatches(ctx context.Context) ([]models.Batch, error)
	SetStatus(ctx context.Context, id string, from []models.BatchStatus, to models.BatchStatus, at time.Time) (bool, error)
	SetCounts(ctx context.Context, id string, c models.JobCounts, at time.Time) error
	DeleteBatch(ctx context.Context, id string) error
	// SettledBefore lists batches in statuses whose completed_at is before cutoff.
	SettledBefore(ctx context.Context, statuses []models.BatchStatus, cutoff time.Time) ([]string, error)

	CountJobs(ctx context.Context, batchID string) (models.JobCounts, error)
	BatchStats(ctx context.Context, batchID string) (models.BatchStats, error)
	ListJobs(ctx context.Context, batchID string, f models.JobFilter) ([]models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// QueuePending moves up to n pending jobs to queued, by priority then creation order.
	QueuePending(ctx context.Context, batchID string, n int, at time.Time) (int, error)
	// ClaimQueued moves up to n queued jobs to running under a lease ending
	// at leaseUntil and returns them.
	ClaimQueued(ctx context.Context, batchID string, n int, at, leaseUntil time.Time) ([]models.Job, error)
	UpdateJob(ctx context.Context, j models.Job) error
	// ResetFailed moves failed jobs to status to, clearing errors and attempts.
	ResetFailed(ctx context.Context, batchID string, to models.JobStatus, at time.Time) (int, error)
	// CancelOpen moves pending and queued jobs to cancelled.
	CancelOpen(ctx context.Context, batchID string, at time.Time) (int, error)
	// RecoverRunning returns running jobs whose lease ended before at to queued.
	// Jobs still leased by a live runner are left alone.
	RecoverRunning(ctx context.Context, at time.Time) (int, error)

	AppendLog(ctx context.Context, e models.LogEntry) error
	ListLog(ctx context.Context, batchID string, limit int) ([]models.LogEntry, error)
}

// NERStore persists extraction runs and the entities under review.
type NERStore interface {
	// ReplacePendingEntities deletes the object's pending entities and stores
	// a new extraction with its entities.
	ReplacePendingEntities(ctx context.Context, ext models.NerExtraction, entities []models.NerEntity) error
	PendingEntities(ctx context.Context, objectID int64) ([]models.NerEntity, error)
	GetEntity(ctx context.Context, id string) (*models.NerEntity, error)
	UpdateEntity(ctx context.Context, e models.NerEntity) error
	PendingEntityObjects(ctx context.Context, limit int) ([]models.PendingObject, error)
}

// SuggestionStore persists description suggestions.
type SuggestionStore interface {
	CountPendingSuggestions(ctx context.Context, objectID int64) (int, error)
	CreateSuggestion(ctx context.Context, s models.Suggestion) error
	GetSuggestion(ctx context.Context, id string) (*models.Suggestion, error)
	// UpdateSuggestion writes the review fields of s if the stored status is
	// still from. It reports false when another review got there first.
	UpdateSuggestion(ctx context.Context, s models.Suggestion, from models.SuggestionStatus) (bool, error)
	ListSuggestions(ctx context.Context, f models.SuggestionFilter) ([]models.Suggestion, error)
	SuggestionStats(ctx context.Context) (models.SuggestionStats, error)
	DeleteExpiredSuggestions(ctx context.Context, now time.Time) (int, error)
}

// Store is the full AI state store.
type Store interface {
	BatchStore
	NERStore
	SuggestionStore
}
