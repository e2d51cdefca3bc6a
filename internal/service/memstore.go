package service

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

// MemoryStore is an in-process Store used by tests and ATOMAI_STORE=memory.
// Nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	batches     map[string]*models.Batch
	jobs        map[string]*models.Job
	jobOrder    []string
	log         []models.LogEntry
	extractions map[string]models.NerExtraction
	entities    map[string]*models.NerEntity
	entityOrder []string
	suggestions map[string]*models.Suggestion
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:     make(map[string]*models.Batch),
		jobs:        make(map[string]*models.Job),
		extractions: make(map[string]models.NerExtraction),
		entities:    make(map[string]*models.NerEntity),
		suggestions: make(map[string]*models.Suggestion),
	}
}

func copyBatch(b *models.Batch) models.Batch {
	out := *b
	out.TaskTypes = slices.Clone(b.TaskTypes)
	out.Options = maps.Clone(b.Options)
	return out
}

func copyJob(j *models.Job) models.Job {
	out := *j
	out.Result = maps.Clone(j.Result)
	return out
}

// CreateBatch stores a batch and its jobs.
func (s *MemoryStore) CreateBatch(_ context.Context, b models.Batch, jobs []models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("batch %s: %w", b.ID, models.ErrDuplicate)
	}
	nb := copyBatch(&b)
	s.batches[b.ID] = &nb
	for i := range jobs {
		j := copyJob(&jobs[i])
		s.jobs[j.ID] = &j
		s.jobOrder = append(s.jobOrder, j.ID)
	}
	return nil
}

// GetBatch returns a batch by id.
func (s *MemoryStore) GetBatch(_ context.Context, id string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
	}
	out := copyBatch(b)
	return &out, nil
}

// ListBatches returns batches newest first.
func (s *MemoryStore) ListBatches(_ context.Context, f models.BatchFilter) ([]models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Batch{}
	for _, b := range s.batches {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.CreatedBy != "" && b.CreatedBy != f.CreatedBy {
			continue
		}
		out = append(out, copyBatch(b))
	}
	slices.SortFunc(out, func(a, b models.Batch) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, f.Offset, f.Limit), nil
}

// page returns the window [offset, offset+limit) of items, clamped to its
// bounds. A limit of zero or less means no limit.
func page[T any](items []T, offset, limit int) []T {
	offset = max(0, min(offset, len(items)))
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ClaimableBatches returns running batches and settled batches with queued jobs.
func (s *MemoryStore) ClaimableBatches(_ context.Context) ([]models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queued := make(map[string]bool)
	for _, j := range s.jobs {
		if j.Status == models.JobQueued {
			queued[j.BatchID] = true
		}
	}
	var out []models.Batch
	for _, b := range s.batches {
		switch {
		case b.Status == models.BatchRunning,
			(b.Status == models.BatchCompleted || b.Status == models.BatchFailed) && queued[b.ID]:
			out = append(out, copyBatch(b))
		}
	}
	slices.SortFunc(out, func(a, b models.Batch) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// SetStatus changes the status when the batch is in one of from.
func (s *MemoryStore) SetStatus(_ context.Context, id string, from []models.BatchStatus, to models.BatchStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return false, fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
	}
	if !slices.Contains(from, b.Status) {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	if to == models.BatchRunning && b.StartedAt == nil {
		b.StartedAt = &at
	}
	if to.Terminal() {
		b.CompletedAt = &at
	}
	return true, nil
}

// SetCounts stores recounted totals.
func (s *MemoryStore) SetCounts(_ context.Context, id string, c models.JobCounts, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
	}
	b.TotalItems = c.Total
	b.CompletedItems = c.Completed
	b.FailedItems = c.Failed
	b.UpdatedAt = at
	return nil
}

// DeleteBatch removes a batch with its jobs and log.
func (s *MemoryStore) DeleteBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[id]; !ok {
		return fmt.Errorf("batch %s: %w", id, models.ErrNotFound)
	}
	delete(s.batches, id)
	s.jobOrder = slices.DeleteFunc(s.jobOrder, func(jid string) bool {
		if s.jobs[jid].BatchID == id {
			delete(s.jobs, jid)
			return true
		}
		return false
	})
	s.log = slices.DeleteFunc(s.log, func(e models.LogEntry) bool { return e.BatchID == id })
	return nil
}

// SettledBefore lists batches in statuses completed before cutoff.
func (s *MemoryStore) SettledBefore(_ context.Context, statuses []models.BatchStatus, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, b := range s.batches {
		if slices.Contains(statuses, b.Status) && b.CompletedAt != nil && b.CompletedAt.Before(cutoff) {
			ids = append(ids, b.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) batchJobs(batchID string) []*models.Job {
	var out []*models.Job
	for _, id := range s.jobOrder {
		if j := s.jobs[id]; j.BatchID == batchID {
			out = append(out, j)
		}
	}
	return out
}

// CountJobs tallies job statuses for a batch.
func (s *MemoryStore) CountJobs(_ context.Context, batchID string) (models.JobCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c models.JobCounts
	for _, j := range s.batchJobs(batchID) {
		c.Add(j.Status)
	}
	return c, nil
}

// BatchStats computes detailed statistics for a batch.
func (s *MemoryStore) BatchStats(_ context.Context, batchID string) (models.BatchStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.BatchStats{ByTaskType: make(map[models.TaskType]models.TaskTypeStats)}
	var totalMs, timed int64
	for _, j := range s.batchJobs(batchID) {
		stats.Add(j.Status)
		tt := stats.ByTaskType[j.TaskType]
		tt.Count++
		if j.Status == models.JobCompleted {
			tt.Completed++
			if j.ProcessingTimeMs > 0 {
				totalMs += j.ProcessingTimeMs
				timed++
			}
		}
		stats.ByTaskType[j.TaskType] = tt
	}
	if timed > 0 {
		stats.AvgProcessingTimeMs = totalMs / timed
	}
	return stats, nil
}

// ListJobs returns a batch's jobs in creation order.
func (s *MemoryStore) ListJobs(_ context.Context, batchID string, f models.JobFilter) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Job{}
	for _, j := range s.batchJobs(batchID) {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.TaskType != "" && j.TaskType != f.TaskType {
			continue
		}
		out = append(out, copyJob(j))
	}
	return page(out, f.Offset, f.Limit), nil
}

// GetJob returns a job by id.
func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	out := copyJob(j)
	return &out, nil
}

// orderedByPriority returns the batch's jobs in status, lowest priority value first.
func (s *MemoryStore) orderedByPriority(batchID string, status models.JobStatus) []*models.Job {
	var out []*models.Job
	for _, j := range s.batchJobs(batchID) {
		if j.Status == status {
			out = append(out, j)
		}
	}
	slices.SortStableFunc(out, func(a, b *models.Job) int { return cmp.Compare(a.Priority, b.Priority) })
	return out
}

// QueuePending moves up to n pending jobs to queued.
func (s *MemoryStore) QueuePending(_ context.Context, batchID string, n int, at time.Time) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := 0
	for _, j := range s.orderedByPriority(batchID, models.JobPending) {
		if moved == n {
			break
		}
		j.Status = models.JobQueued
		j.QueuedAt = &at
		j.UpdatedAt = at
		moved++
	}
	return moved, nil
}

// ClaimQueued moves up to n queued jobs to running.
func (s *MemoryStore) ClaimQueued(_ context.Context, batchID string, n int, at, leaseUntil time.Time) ([]models.Job, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.orderedByPriority(batchID, models.JobQueued) {
		if len(out) == n {
			break
		}
		j.Status = models.JobRunning
		j.StartedAt = &at
		j.UpdatedAt = at
		j.LeaseExpiresAt = &leaseUntil
		out = append(out, copyJob(j))
	}
	return out, nil
}

// UpdateJob overwrites a job's mutable fields.
func (s *MemoryStore) UpdateJob(_ context.Context, j models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return fmt.Errorf("job %s: %w", j.ID, models.ErrNotFound)
	}
	nj := copyJob(&j)
	if nj.Status != models.JobRunning {
		nj.LeaseExpiresAt = nil
	}
	s.jobs[j.ID] = &nj
	return nil
}

// ResetFailed moves failed jobs to status to with a fresh retry budget.
func (s *MemoryStore) ResetFailed(_ context.Context, batchID string, to models.JobStatus, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.batchJobs(batchID) {
		if j.Status != models.JobFailed {
			continue
		}
		j.Status = to
		j.AttemptCount = 0
		j.ErrorMessage = ""
		j.ErrorCode = ""
		j.CompletedAt = nil
		j.UpdatedAt = at
		if to == models.JobQueued {
			j.QueuedAt = &at
		}
		n++
	}
	return n, nil
}

// CancelOpen cancels pending and queued jobs.
func (s *MemoryStore) CancelOpen(_ context.Context, batchID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.batchJobs(batchID) {
		if j.Status == models.JobPending || j.Status == models.JobQueued {
			j.Status = models.JobCancelled
			j.CompletedAt = &at
			j.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// RecoverRunning requeues running jobs whose lease has expired.
func (s *MemoryStore) RecoverRunning(_ context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status != models.JobRunning || leaseHeld(j, at) {
			continue
		}
		j.Status = models.JobQueued
		j.StartedAt = nil
		j.LeaseExpiresAt = nil
		j.QueuedAt = &at
		j.UpdatedAt = at
		n++
	}
	return n, nil
}

func leaseHeld(j *models.Job, at time.Time) bool {
	return j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.Before(at)
}

// AppendLog records a log entry.
func (s *MemoryStore) AppendLog(_ context.Context, e models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, e)
	return nil
}

// ListLog returns a batch's log newest first.
func (s *MemoryStore) ListLog(_ context.Context, batchID string, limit int) ([]models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.LogEntry{}
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].BatchID == batchID {
			out = append(out, s.log[i])
		}
	}
	return page(out, 0, limit), nil
}

// ReplacePendingEntities swaps the object's pending entities for a new extraction.
func (s *MemoryStore) ReplacePendingEntities(_ context.Context, ext models.NerExtraction, entities []models.NerEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entityOrder = slices.DeleteFunc(s.entityOrder, func(id string) bool {
		e := s.entities[id]
		if e.ObjectID == ext.ObjectID && e.Status == models.EntityPending {
			delete(s.entities, id)
			return true
		}
		return false
	})
	s.extractions[ext.ID] = ext
	for i := range entities {
		e := entities[i]
		s.entities[e.ID] = &e
		s.entityOrder = append(s.entityOrder, e.ID)
	}
	return nil
}

// PendingEntities lists the object's pending entities in extraction order.
func (s *MemoryStore) PendingEntities(_ context.Context, objectID int64) ([]models.NerEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.NerEntity{}
	for _, id := range s.entityOrder {
		if e := s.entities[id]; e.ObjectID == objectID && e.Status == models.EntityPending {
			out = append(out, *e)
		}
	}
	return out, nil
}

// GetEntity returns an entity by id.
func (s *MemoryStore) GetEntity(_ context.Context, id string) (*models.NerEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, models.ErrNotFound)
	}
	out := *e
	return &out, nil
}

// UpdateEntity overwrites an entity.
func (s *MemoryStore) UpdateEntity(_ context.Context, e models.NerEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.ID]; !ok {
		return fmt.Errorf("entity %s: %w", e.ID, models.ErrNotFound)
	}
	s.entities[e.ID] = &e
	return nil
}

// PendingEntityObjects lists objects with pending entities, most first.
func (s *MemoryStore) PendingEntityObjects(_ context.Context, limit int) ([]models.PendingObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int)
	for _, e := range s.entities {
		if e.Status == models.EntityPending {
			counts[e.ObjectID]++
		}
	}
	out := []models.PendingObject{}
	for id, n := range counts {
		out = append(out, models.PendingObject{ObjectID: id, Count: n})
	}
	slices.SortFunc(out, func(a, b models.PendingObject) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.ObjectID, b.ObjectID)
	})
	return page(out, 0, limit), nil
}

// CountPendingSuggestions counts the object's pending suggestions.
func (s *MemoryStore) CountPendingSuggestions(_ context.Context, objectID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sg := range s.suggestions {
		if sg.ObjectID == objectID && sg.Status == models.SuggestionPending {
			n++
		}
	}
	return n, nil
}

// CreateSuggestion stores a suggestion.
func (s *MemoryStore) CreateSuggestion(_ context.Context, sg models.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg.SourceFields = slices.Clone(sg.SourceFields)
	s.suggestions[sg.ID] = &sg
	return nil
}

// GetSuggestion returns a suggestion by id.
func (s *MemoryStore) GetSuggestion(_ context.Context, id string) (*models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sg, ok := s.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("suggestion %s: %w", id, models.ErrNotFound)
	}
	out := *sg
	return &out, nil
}

// UpdateSuggestion overwrites a suggestion whose status is still from.
func (s *MemoryStore) UpdateSuggestion(_ context.Context, sg models.Suggestion, from models.SuggestionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.suggestions[sg.ID]
	if !ok {
		return false, fmt.Errorf("suggestion %s: %w", sg.ID, models.ErrNotFound)
	}
	if cur.Status != from {
		return false, nil
	}
	s.suggestions[sg.ID] = &sg
	return true, nil
}

// ListSuggestions returns suggestions newest first.
func (s *MemoryStore) ListSuggestions(_ context.Context, f models.SuggestionFilter) ([]models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Suggestion{}
	for _, sg := range s.suggestions {
		if f.Status != "" && sg.Status != f.Status {
			continue
		}
		if f.ObjectID != 0 && sg.ObjectID != f.ObjectID {
			continue
		}
		out = append(out, *sg)
	}
	slices.SortFunc(out, func(a, b models.Suggestion) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, 0, f.Limit), nil
}

// SuggestionStats aggregates suggestion outcomes.
func (s *MemoryStore) SuggestionStats(_ context.Context) (models.SuggestionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st models.SuggestionStats
	var totalMs int64
	for _, sg := range s.suggestions {
		st.Total++
		switch sg.Status {
		case models.SuggestionPending:
			st.Pending++
		case models.SuggestionApproved:
			st.Approved++
		case models.SuggestionEdited:
			st.Edited++
		case models.SuggestionRejected:
			st.Rejected++
		}
		st.TotalTokens += sg.TokensUsed
		totalMs += sg.GenerationTimeMs
	}
	if st.Total > 0 {
		st.AvgGenerationTime = float64(totalMs) / float64(st.Total)
	}
	return st, nil
}

// DeleteExpiredSuggestions removes pending suggestions past their expiry.
func (s *MemoryStore) DeleteExpiredSuggestions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sg := range s.suggestions {
		if sg.Status == models.SuggestionPending && sg.ExpiresAt != nil && sg.ExpiresAt.Before(now) {
			delete(s.suggestions, id)
			n++
		}
	}
	return n, nil
}
