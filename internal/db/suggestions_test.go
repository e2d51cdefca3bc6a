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

func TestSuggestionLifecycle(t *testing.T) {
	wipe(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	for _, s := range []models.Suggestion{
		{ID: "s1", ObjectID: 1, SuggestedText: "a", Status: models.SuggestionPending, TokensUsed: 10, GenerationTimeMs: 100, CreatedAt: now, ExpiresAt: &future},
		{ID: "s2", ObjectID: 1, SuggestedText: "b", Status: models.SuggestionPending, TokensUsed: 30, GenerationTimeMs: 300, CreatedAt: now, ExpiresAt: &past},
	} {
		require.NoError(t, testDB.CreateSuggestion(ctx, s))
	}

	n, err := testDB.CountPendingSuggestions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s1, err := testDB.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	s1.Status = models.SuggestionEdited
	s1.EditedText = "edited"
	s1.ReviewedBy = "archivist"
	s1.ReviewedAt = &now
	ok, err := testDB.UpdateSuggestion(ctx, *s1, models.SuggestionPending)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = testDB.UpdateSuggestion(ctx, *s1, models.SuggestionPending)
	require.NoError(t, err)
	assert.False(t, ok, "a decided suggestion is not decided again")

	deleted, err := testDB.DeleteExpiredSuggestions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	stats, err := testDB.SuggestionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Edited)
	assert.Equal(t, 10, stats.TotalTokens)

	list, err := testDB.ListSuggestions(ctx, models.SuggestionFilter{ObjectID: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "edited", list[0].EditedText)
}
