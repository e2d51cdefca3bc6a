package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

func TestPage(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}
	tests := []struct {
		name          string
		offset, limit int
		want          []int
	}{
		{"negative offset clamps to start", -3, 2, []int{0, 1}},
		{"zero offset", 0, 0, []int{0, 1, 2, 3, 4}},
		{"window", 2, 2, []int{2, 3}},
		{"limit past the end", 3, 10, []int{3, 4}},
		{"offset at the end", 5, 2, []int{}},
		{"offset past the end", 9, 2, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, page(items, tt.offset, tt.limit))
		})
	}
}

func TestRecoverRunningHonorsLease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	b := models.Batch{ID: "b1", Status: models.BatchRunning, MaxConcurrent: 3, CreatedAt: now, UpdatedAt: now}
	jobs := make([]models.Job, 3)
	for i := range jobs {
		jobs[i] = models.Job{
			ID: string(rune('a' + i)), BatchID: "b1", ObjectID: int64(i + 1),
			TaskType: models.TaskNER, Status: models.JobQueued, CreatedAt: now, UpdatedAt: now,
		}
	}
	require.NoError(t, s.CreateBatch(ctx, b, jobs))

	// a: lease long gone, b: lease ends right now, c: lease still held.
	_, err := s.ClaimQueued(ctx, "b1", 1, now.Add(-time.Hour), now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.ClaimQueued(ctx, "b1", 1, now, now)
	require.NoError(t, err)
	_, err = s.ClaimQueued(ctx, "b1", 1, now, now.Add(time.Minute))
	require.NoError(t, err)

	n, err := s.RecoverRunning(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	want := map[string]models.JobStatus{"a": models.JobQueued, "b": models.JobRunning, "c": models.JobRunning}
	for id, status := range want {
		j, err := s.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, j.Status, "job %s", id)
	}

	n, err = s.RecoverRunning(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "b and c come back once their leases have passed")
}
