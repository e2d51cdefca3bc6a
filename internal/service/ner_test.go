package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/catalog/catalogtest"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

func newNER(t *testing.T, f *fixture, gen Generator) *NERService {
	t.Helper()
	return NewNERService(f.store, f.catalog, gen, f.settings, quietLogger())
}

func TestExtractReplacesPendingEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := catalogtest.AddObject(t, f.catalog, catalogtest.Object{
		Title: "Smuts papers", Scope: "Letters from Jan Smuts written in Pretoria, 1921.",
	})
	gen := &stubGen{text: "```json\n" + `{"PERSON": ["Jan Smuts", " jan smuts ", ""], "GPE": ["Pretoria"], "DATE": ["1921"]}` + "\n```"}
	svc := newNER(t, f, gen)

	res, err := svc.Extract(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, res.EntityCount)
	assert.Equal(t, []string{"Jan Smuts"}, res.Entities["PERSON"])
	assert.Equal(t, "llm", res.Source)
	assert.Equal(t, "stub-model", res.Model)
	assert.Contains(t, gen.users[0], "Letters from Jan Smuts")

	pending, err := f.store.PendingEntities(ctx, id)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	types := []string{pending[0].Type, pending[1].Type, pending[2].Type}
	assert.Equal(t, []string{"DATE", "GPE", "PERSON"}, types)

	// A reviewed entity survives re-extraction; pending ones are replaced.
	reviewed := pending[0]
	reviewed.Status = models.EntityRejected
	require.NoError(t, f.store.UpdateEntity(ctx, reviewed))

	gen.text = `{"ORG": ["Union Government"]}`
	_, err = svc.Extract(ctx, id)
	require.NoError(t, err)
	pending, err = f.store.PendingEntities(ctx, id)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Union Government", pending[0].Value)
	got, err := f.store.GetEntity(ctx, reviewed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntityRejected, got.Status)
}

func TestExtractWithoutText(t *testing.T) {
	f := newFixture(t)
	id := catalogtest.AddObject(t, f.catalog, catalogtest.Object{})
	gen := &stubGen{text: "{}"}

	_, err := newNER(t, f, gen).Extract(context.Background(), id)
	require.ErrorIs(t, err, ErrNoText)
	assert.Zero(t, gen.calls())
}

func TestExtractTruncatesLongText(t *testing.T) {
	f := newFixture(t)
	cfg := config.DefaultSettings()
	cfg.NER.MaxTextChars = 10
	id := catalogtest.AddObject(t, f.catalog, catalogtest.Object{Title: "abcdefghijklmnopqrstuvwxyz"})
	gen := &stubGen{text: "{}"}
	svc := NewNERService(f.store, f.catalog, gen, config.StaticSettings(cfg), quietLogger())

	_, err := svc.Extract(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, gen.users[0], "abcdefghij\n")
	assert.NotContains(t, gen.users[0], "abcdefghijk")
}

func TestDefaultAction(t *testing.T) {
	tests := []struct {
		name string
		in   models.EntityCandidates
		want models.Decision
	}{
		{
			name: "exact match links",
			in:   models.EntityCandidates{ID: "e1", Type: "PERSON", ExactMatches: []models.Match{{ID: 7}, {ID: 9}}},
			want: models.Decision{EntityID: "e1", EntityType: "PERSON", Action: models.DecisionLink, TargetID: 7},
		},
		{
			name: "person creates actor",
			in:   models.EntityCandidates{ID: "e2", Type: "PERSON"},
			want: models.Decision{EntityID: "e2", EntityType: "PERSON", Action: models.DecisionCreate, CreateType: models.CreateActor},
		},
		{
			name: "organization creates actor",
			in:   models.EntityCandidates{ID: "e3", Type: "ORG"},
			want: models.Decision{EntityID: "e3", EntityType: "ORG", Action: models.DecisionCreate, CreateType: models.CreateActor},
		},
		{
			name: "place creates place",
			in:   models.EntityCandidates{ID: "e4", Type: "GPE"},
			want: models.Decision{EntityID: "e4", EntityType: "GPE", Action: models.DecisionCreate, CreateType: models.CreatePlace},
		},
		{
			name: "other type creates subject",
			in:   models.EntityCandidates{ID: "e5", Type: "EVENT"},
			want: models.Decision{EntityID: "e5", EntityType: "EVENT", Action: models.DecisionCreate, CreateType: models.CreateSubject},
		},
		{
			name: "single date",
			in:   models.EntityCandidates{ID: "e6", Type: "DATE", Value: "1921"},
			want: models.Decision{EntityID: "e6", EntityType: "DATE", Action: models.DecisionCreateDate},
		},
		{
			name: "compound date splits",
			in:   models.EntityCandidates{ID: "e7", Type: "DATE", Value: "1921; 1925"},
			want: models.Decision{EntityID: "e7", EntityType: "DATE", Action: models.DecisionCreateDate, SplitDates: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultAction(tt.in))
		})
	}
}

// seedEntities stores pending entities for an object and returns them by value.
func seedEntities(t *testing.T, f *fixture, objectID int64, kv ...string) map[string]models.NerEntity {
	t.Helper()
	var entities []models.NerEntity
	for i := 0; i+1 < len(kv); i += 2 {
		entities = append(entities, models.NerEntity{
			ID: kv[i+1] + "-id", ObjectID: objectID, Type: kv[i], Value: kv[i+1], Status: models.EntityPending,
		})
	}
	require.NoError(t, f.store.ReplacePendingEntities(context.Background(),
		models.NerExtraction{ID: "ext", ObjectID: objectID}, entities))
	out := make(map[string]models.NerEntity, len(entities))
	for _, e := range entities {
		out[e.Value] = e
	}
	return out
}

func TestEntitiesGroupsWithCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	smuts := catalogtest.AddActor(t, f.catalog, "Jan Smuts")
	catalogtest.AddActor(t, f.catalog, "Jan Smuts Jr")
	seedEntities(t, f, id, "PERSON", "Jan Smuts", "DATE", "1920, 1921, 1922", "GPE", "Pretoria")

	got, err := newNER(t, f, &stubGen{}).Entities(ctx, id)
	require.NoError(t, err)

	require.Len(t, got["PERSON"], 1)
	person := got["PERSON"][0]
	assert.Equal(t, []models.Match{{ID: smuts, Name: "Jan Smuts"}}, person.ExactMatches)
	assert.Len(t, person.PartialMatches, 1)
	assert.Equal(t, models.DecisionLink, person.Suggested.Action)
	assert.Equal(t, smuts, person.Suggested.TargetID)

	require.Len(t, got["DATE"], 1)
	date := got["DATE"][0]
	assert.True(t, date.Suggested.SplitDates)
	assert.Equal(t, []string{"1920", "1921", "1922"}, date.DateParts)
	assert.Empty(t, date.ExactMatches)
	assert.NotNil(t, date.ExactMatches)

	require.Len(t, got["GPE"], 1)
	assert.Equal(t, models.CreatePlace, got["GPE"][0].Suggested.CreateType)
}

func countRows(t *testing.T, c *catalog.Catalog, q string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, c.DB().QueryRow(q, args...).Scan(&n))
	return n
}

func TestBulkSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	pretoria := catalogtest.AddTerm(t, f.catalog, catalog.TaxonomyPlace, "Pretoria")
	seeded := seedEntities(t, f, id,
		"PERSON", "J. Smuts",
		"ORG", "Union Government",
		"GPE", "Pretoria",
		"DATE", "1920; March 1921",
		"PERSON", "Nobody",
		"DATE", "1930",
	)
	svc := newNER(t, f, &stubGen{})

	res := svc.BulkSave(ctx, []models.Decision{
		{EntityID: seeded["J. Smuts"].ID, Action: models.DecisionCreate, EditedValue: "Jan Smuts"},
		{EntityID: seeded["Union Government"].ID, Action: models.DecisionCreate, CreateType: models.CreateActor},
		{EntityID: seeded["Pretoria"].ID, Action: models.DecisionLink, TargetID: pretoria},
		{EntityID: seeded["1920; March 1921"].ID, Action: models.DecisionCreateDate, SplitDates: true},
		{EntityID: seeded["Nobody"].ID, Action: models.DecisionReject},
		{EntityID: "missing", Action: models.DecisionReject},
		{EntityID: seeded["1930"].ID, Action: models.DecisionLink, TargetID: 5},
	})

	assert.Equal(t, 5, res.Success)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "Entity missing not found", res.Errors[0])
	assert.Contains(t, res.Errors[1], "dates are created, not linked")

	edited, err := f.store.GetEntity(ctx, seeded["J. Smuts"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntityLinked, edited.Status)
	assert.Equal(t, "Jan Smuts", edited.Value)
	assert.Equal(t, "J. Smuts", edited.OriginalValue)
	assert.Equal(t, models.CorrectionValueEdit, edited.CorrectionType)
	assert.NotNil(t, edited.ReviewedAt)
	assert.Equal(t, 1, countRows(t, f.catalog,
		`SELECT COUNT(*) FROM actor WHERE authorized_form_of_name = 'Jan Smuts' AND entity_type_id = ?`, catalog.ActorPerson))
	assert.Equal(t, 1, countRows(t, f.catalog,
		`SELECT COUNT(*) FROM actor WHERE authorized_form_of_name = 'Union Government' AND entity_type_id = ?`, catalog.ActorCorporateBody))
	assert.Equal(t, 2, countRows(t, f.catalog, `SELECT COUNT(*) FROM relation WHERE subject_id = ?`, id))

	assert.Equal(t, 1, countRows(t, f.catalog,
		`SELECT COUNT(*) FROM object_term_relation WHERE object_id = ? AND term_id = ?`, id, pretoria))

	assert.Equal(t, 1, countRows(t, f.catalog,
		`SELECT COUNT(*) FROM event WHERE object_id = ? AND start_date = '1920-01-01' AND end_date = '1920-12-31'`, id))
	assert.Equal(t, 1, countRows(t, f.catalog,
		`SELECT COUNT(*) FROM event WHERE object_id = ? AND start_date = '1921-03-01' AND end_date = '1921-03-31'`, id))

	rejected, err := f.store.GetEntity(ctx, seeded["Nobody"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntityRejected, rejected.Status)
	assert.Equal(t, models.CorrectionRejected, rejected.CorrectionType)

	untouched, err := f.store.GetEntity(ctx, seeded["1930"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntityPending, untouched.Status)
}

func TestBulkSaveTypeChangeAndMissingTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.objects(t, 1)[0]
	seeded := seedEntities(t, f, id, "PERSON", "Cape Town", "GPE", "Durban")
	svc := newNER(t, f, &stubGen{})

	res := svc.BulkSave(ctx, []models.Decision{
		{EntityID: seeded["Cape Town"].ID, Action: models.DecisionCreate, EditedType: "gpe"},
		{EntityID: seeded["Durban"].ID, Action: models.DecisionLink, TargetID: 999},
	})
	assert.Equal(t, 1, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "link target 999")

	changed, err := f.store.GetEntity(ctx, seeded["Cape Town"].ID)
	require.NoError(t, err)
	assert.Equal(t, "GPE", changed.Type)
	assert.Equal(t, "PERSON", changed.OriginalType)
	assert.Equal(t, models.CorrectionTypeChange, changed.CorrectionType)
	assert.Equal(t, 1, countRows(t, f.catalog,
		`SELECT COUNT(*) FROM term WHERE taxonomy_id = ? AND name = 'Cape Town'`, catalog.TaxonomyPlace))
}

func TestReviewQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := f.objects(t, 2)
	seedEntities(t, f, ids[0], "PERSON", "A")
	require.NoError(t, f.store.ReplacePendingEntities(ctx, models.NerExtraction{ID: "ext2", ObjectID: ids[1]}, []models.NerEntity{
		{ID: "b1", ObjectID: ids[1], Type: "PERSON", Value: "B", Status: models.EntityPending},
		{ID: "b2", ObjectID: ids[1], Type: "PERSON", Value: "C", Status: models.EntityPending},
	}))

	got, err := newNER(t, f, &stubGen{}).ReviewQueue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []models.PendingObject{
		{ObjectID: ids[1], Title: "Object", Count: 2},
		{ObjectID: ids[0], Title: "Object", Count: 1},
	}, got)
}
