package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/catalog/catalogtest"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

func newSuggestions(f *fixture, gen Generator) *SuggestionService {
	return NewSuggestionService(f.store, f.catalog, gen, f.settings, quietLogger())
}

func TestGenerateRendersTemplateForLevel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := catalogtest.AddTerm(t, f.catalog, catalog.TaxonomyLevelOfDescription, "Item")
	id := catalogtest.AddObject(t, f.catalog, catalogtest.Object{
		Title: "Photograph of the Union Buildings", LevelID: item, Scope: "Old text",
	})
	actor := catalogtest.AddActor(t, f.catalog, "Herbert Baker")
	catalogtest.AddCreation(t, f.catalog, id, actor, "1913", "1913-01-01", "1913-12-31")
	gen := &stubGen{text: "  A photograph of the Union Buildings.  "}
	svc := newSuggestions(f, gen)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	res, err := svc.Generate(ctx, id, "archivist")
	require.NoError(t, err)
	assert.Equal(t, "Item level photograph", res.TemplateName)
	assert.Equal(t, "A photograph of the Union Buildings.", res.SuggestedText)
	assert.Equal(t, "Old text", res.ExistingText)
	assert.Equal(t, 15, res.TokensUsed)
	assert.Equal(t, "stub-model", res.ModelUsed)
	assert.False(t, res.HasOCR)

	assert.Contains(t, gen.users[0], "Title: Photograph of the Union Buildings")
	assert.Contains(t, gen.users[0], "Creator: Herbert Baker")
	assert.NotContains(t, gen.users[0], "<no value>")

	sg, err := f.store.GetSuggestion(ctx, res.SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionPending, sg.Status)
	assert.Equal(t, "archivist", sg.CreatedBy)
	require.NotNil(t, sg.ExpiresAt)
	assert.Equal(t, fixed.AddDate(0, 0, 30), *sg.ExpiresAt)
}

func TestGenerateLimitsPendingPerObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	gen := &stubGen{text: "Draft"}
	svc := newSuggestions(f, gen)

	for range 3 {
		_, err := svc.Generate(ctx, id, "")
		require.NoError(t, err)
	}
	_, err := svc.Generate(ctx, id, "")
	require.ErrorIs(t, err, models.ErrTooManyPending)
	assert.Equal(t, "Maximum pending suggestions (3) reached for this record. Please review existing suggestions first.", err.Error())
	assert.Equal(t, 3, gen.calls())
}

func TestGenerateWithoutTemplates(t *testing.T) {
	f := newFixture(t)
	cfg := config.DefaultSettings()
	cfg.Suggest.Templates = nil
	svc := NewSuggestionService(f.store, f.catalog, &stubGen{text: "x"}, config.StaticSettings(cfg), quietLogger())

	_, err := svc.Generate(context.Background(), f.objects(t, 1)[0], "")
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, "No prompt template available", err.Error())
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		req        DecisionRequest
		wantStatus models.SuggestionStatus
		wantScope  string
	}{
		{"approve", DecisionRequest{Decision: "approve"}, models.SuggestionApproved, "Drafted description"},
		{"approve unchanged edit", DecisionRequest{Decision: "approve", EditedText: " Drafted description "}, models.SuggestionApproved, "Drafted description"},
		{"approve edited", DecisionRequest{Decision: "approve", EditedText: "Reviewed description"}, models.SuggestionEdited, "Reviewed description"},
		{"reject", DecisionRequest{Decision: "reject", Notes: "too vague"}, models.SuggestionRejected, "Letters and papers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			id := f.objects(t, 1)[0]
			svc := newSuggestions(f, &stubGen{text: "Drafted description"})
			res, err := svc.Generate(ctx, id, "")
			require.NoError(t, err)

			tt.req.ReviewedBy = "reviewer"
			sg, err := svc.Decide(ctx, res.SuggestionID, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, sg.Status)
			assert.Equal(t, "reviewer", sg.ReviewedBy)
			assert.Equal(t, tt.req.Notes, sg.ReviewNotes)
			assert.NotNil(t, sg.ReviewedAt)

			obj, err := f.catalog.Object(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScope, obj.ScopeAndContent)

			_, err = svc.Decide(ctx, res.SuggestionID, tt.req)
			require.ErrorIs(t, err, models.ErrAlreadyProcessed)
			assert.Equal(t, "Suggestion already processed", err.Error())
		})
	}
}

func TestDecideConcurrentReviewsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	svc := newSuggestions(f, &stubGen{text: "Drafted description"})
	res, err := svc.Generate(ctx, id, "")
	require.NoError(t, err)

	const reviewers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for i := range reviewers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision := "approve"
			if i%2 == 1 {
				decision = "reject"
			}
			_, err := svc.Decide(ctx, res.SuggestionID, DecisionRequest{Decision: decision, ReviewedBy: fmt.Sprintf("r%d", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, models.ErrAlreadyProcessed):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	assert.Equal(t, reviewers-1, rejected)
}

func TestDecideReopensWhenDescriptionSaveFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	svc := newSuggestions(f, &stubGen{text: "Drafted description"})
	res, err := svc.Generate(ctx, id, "")
	require.NoError(t, err)

	_, err = f.catalog.DB().Exec(`DELETE FROM information_object WHERE id = ?`, id)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, res.SuggestionID, DecisionRequest{Decision: "approve"})
	require.ErrorIs(t, err, models.ErrNotFound)

	sg, err := f.store.GetSuggestion(ctx, res.SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionPending, sg.Status)
	assert.Nil(t, sg.ReviewedAt)
}

func TestDecideUnknownSuggestion(t *testing.T) {
	f := newFixture(t)
	_, err := newSuggestions(f, &stubGen{}).Decide(context.Background(), "nope", DecisionRequest{Decision: "approve"})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestViewListStatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := f.objects(t, 2)
	svc := newSuggestions(f, &stubGen{text: "Draft"})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	first, err := svc.Generate(ctx, ids[0], "")
	require.NoError(t, err)
	second, err := svc.Generate(ctx, ids[1], "")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, second.SuggestionID, DecisionRequest{Decision: "reject"})
	require.NoError(t, err)

	view, err := svc.View(ctx, first.SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, "Object", view.ObjectTitle)
	assert.Equal(t, fmt.Sprintf("object-%d", ids[0]), view.ObjectSlug)

	pending, err := svc.List(ctx, models.SuggestionFilter{Status: models.SuggestionPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.SuggestionID, pending[0].ID)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 30, stats.TotalTokens)

	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return start.AddDate(0, 0, 31) }
	n, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the pending suggestion expires")
	_, err = svc.View(ctx, first.SuggestionID)
	require.ErrorIs(t, err, models.ErrNotFound)
}
