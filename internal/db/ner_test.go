//go:build integration

package db

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacePendingEntitiesKeepsReviewed(t *testing.T) {
	wipe(t)
	ctx := context.Background()
	now := time.Now().UTC()

	initial := []models.NerEntity{
		{ID: "e1", ObjectID: 7, Type: models.EntityPerson, Value: "Jan Smuts", Confidence: 1, Status: models.EntityPending, CreatedAt: now},
		{ID: "e2", ObjectID: 7, Type: models.EntityPlace, Value: "Pretoria", Confidence: 1, Status: models.EntityPending, CreatedAt: now},
	}
	require.NoError(t, testDB.ReplacePendingEntities(ctx,
		models.NerExtraction{ID: "x1", ObjectID: 7, Backend: "llm", Status: "done", EntityCount: 2, ExtractedAt: now}, initial))

	e1, err := testDB.GetEntity(ctx, "e1")
	require.NoError(t, err)
	e1.Status = models.EntityLinked
	e1.LinkedTargetID = 42
	e1.ReviewedAt = &now
	require.NoError(t, testDB.UpdateEntity(ctx, *e1))

	second := []models.NerEntity{
		{ID: "e3", ObjectID: 7, Type: models.EntityOrg, Value: "Union Parliament", Confidence: 1, Status: models.EntityPending, CreatedAt: now},
	}
	require.NoError(t, testDB.ReplacePendingEntities(ctx,
		models.NerExtraction{ID: "x2", ObjectID: 7, Backend: "llm", Status: "done", EntityCount: 1, ExtractedAt: now}, second))

	pending, err := testDB.PendingEntities(ctx, 7)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e3", pending[0].ID)

	linked, err := testDB.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EntityLinked, linked.Status)
	assert.Equal(t, int64(42), linked.LinkedTargetID)

	_, err = testDB.GetEntity(ctx, "e2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	objects, err := testDB.PendingEntityObjects(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.PendingObject{{ObjectID: 7, Count: 1}}, objects)
}
