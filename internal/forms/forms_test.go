package forms

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/catalog/catalogtest"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

func newService(t *testing.T) (*Service, *catalog.Catalog) {
	t.Helper()
	c := catalogtest.New(t)
	s := New(c.DB(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.InitSchema(context.Background()))
	return s, c
}

func ptr[T any](v T) *T { return &v }

func createTemplate(t *testing.T, s *Service, name string, fields ...models.FormField) *models.FormTemplate {
	t.Helper()
	ctx := context.Background()
	tpl, err := s.CreateTemplate(ctx, TemplateInput{Name: name})
	require.NoError(t, err)
	for _, f := range fields {
		_, err := s.AddField(ctx, tpl.ID, f)
		require.NoError(t, err)
	}
	tpl, err = s.Template(ctx, tpl.ID)
	require.NoError(t, err)
	return tpl
}

func TestTemplateLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	tpl, err := s.CreateTemplate(ctx, TemplateInput{Name: "  Photographs ", Config: map[string]any{"columns": 2.0}})
	require.NoError(t, err)
	assert.Equal(t, "Photographs", tpl.Name)
	assert.Equal(t, models.FormInformationObject, tpl.FormType)
	assert.Equal(t, 1, tpl.Version)
	assert.True(t, tpl.IsActive)
	assert.Equal(t, map[string]any{"columns": 2.0}, tpl.Config)

	updated, err := s.UpdateTemplate(ctx, tpl.ID, TemplateUpdate{Description: ptr("Glass plates"), IsDefault: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "Glass plates", updated.Description)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, 2, updated.Version)
	assert.NotNil(t, updated.UpdatedAt)

	_, err = s.UpdateTemplate(ctx, tpl.ID, TemplateUpdate{Name: ptr(" ")})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.CreateTemplate(ctx, TemplateInput{Name: "Odd", FormType: "donor"})
	require.ErrorIs(t, err, models.ErrValidation)

	list, err := s.Templates(ctx, models.FormInformationObject)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteTemplate(ctx, tpl.ID))
	_, err = s.Template(ctx, tpl.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
	require.ErrorIs(t, s.DeleteTemplate(ctx, tpl.ID), models.ErrNotFound)
}

func TestSystemTemplatesAreReadOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	n, err := s.InstallLibrary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.InstallLibrary(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "library installs once")

	list, err := s.Templates(ctx, models.FormInformationObject)
	require.NoError(t, err)
	require.Len(t, list, 1)
	sys, err := s.Template(ctx, list[0].ID)
	require.NoError(t, err)
	assert.True(t, sys.IsSystem)
	assert.True(t, sys.IsDefault)
	require.Len(t, sys.Fields, 8)
	assert.Equal(t, "identifier", sys.Fields[0].FieldName)
	assert.Equal(t, ptr(int64(111)), sys.Fields[2].Mappings[0].TargetTypeID)

	_, err = s.UpdateTemplate(ctx, sys.ID, TemplateUpdate{Name: ptr("Mine")})
	require.ErrorIs(t, err, models.ErrReadOnly)
	require.ErrorIs(t, s.DeleteTemplate(ctx, sys.ID), models.ErrReadOnly)
	_, err = s.AddField(ctx, sys.ID, models.FormField{FieldName: "x", Label: "X"})
	require.ErrorIs(t, err, models.ErrReadOnly)
	require.ErrorIs(t, s.DeleteField(ctx, sys.Fields[0].ID), models.ErrReadOnly)

	clone, err := s.CloneTemplate(ctx, sys.ID, "", "editor")
	require.NoError(t, err)
	assert.Equal(t, "ISAD-G Minimal (copy)", clone.Name)
	assert.False(t, clone.IsSystem)
	assert.False(t, clone.IsDefault)
	assert.Equal(t, "editor", clone.CreatedBy)
	require.Len(t, clone.Fields, len(sys.Fields))

	strip := func(fs []models.FormField) []models.FormField {
		out := make([]models.FormField, len(fs))
		for i, f := range fs {
			f.ID, f.TemplateID = 0, 0
			out[i] = f
		}
		return out
	}
	if diff := cmp.Diff(strip(sys.Fields), strip(clone.Fields)); diff != "" {
		t.Errorf("cloned fields differ (-system +clone):\n%s", diff)
	}
}

func TestFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	tpl := createTemplate(t, s, "Items",
		models.FormField{FieldName: "title", Label: "Title"},
		models.FormField{FieldName: "date", Label: "Date", FieldType: "date"},
		models.FormField{FieldName: "notes", Label: "Notes", FieldType: "textarea",
			Options: []any{"a", "b"}, LabelI18n: map[string]string{"af": "Notas"}},
	)
	require.Len(t, tpl.Fields, 3)
	title := tpl.Fields[0]
	assert.Equal(t, "text", title.FieldType)
	assert.Equal(t, "full", title.Width)
	assert.Equal(t, []int{1, 2, 3}, []int{tpl.Fields[0].SortOrder, tpl.Fields[1].SortOrder, tpl.Fields[2].SortOrder})
	assert.Equal(t, []any{"a", "b"}, tpl.Fields[2].Options)
	assert.Equal(t, map[string]string{"af": "Notas"}, tpl.Fields[2].LabelI18n)
	assert.Equal(t, 4, tpl.Version, "each field change bumps the version")

	tests := []struct {
		name  string
		field models.FormField
	}{
		{"missing label", models.FormField{FieldName: "x"}},
		{"missing name", models.FormField{Label: "X"}},
		{"unknown type", models.FormField{FieldName: "x", Label: "X", FieldType: "slider"}},
		{"incomplete mapping", models.FormField{FieldName: "x", Label: "X",
			Mappings: []models.FieldMapping{{TargetTable: "information_object"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddField(ctx, tpl.ID, tt.field)
			require.ErrorIs(t, err, models.ErrValidation)
		})
	}

	upd, err := s.UpdateField(ctx, title.ID, models.FormField{
		FieldName: "title", Label: "Title proper", IsRequired: true,
		Mappings: []models.FieldMapping{{TargetTable: "information_object_i18n", TargetColumn: "title", IsI18n: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Title proper", upd.Label)
	assert.True(t, upd.IsRequired)
	assert.Equal(t, 1, upd.SortOrder, "sort order kept")
	require.Len(t, upd.Mappings, 1)

	require.NoError(t, s.ReorderFields(ctx, tpl.ID, []int64{tpl.Fields[2].ID, tpl.Fields[0].ID, tpl.Fields[1].ID}))
	got, err := s.Template(ctx, tpl.ID)
	require.NoError(t, err)
	names := make([]string, len(got.Fields))
	for i, f := range got.Fields {
		names[i] = f.FieldName
	}
	assert.Equal(t, []string{"notes", "title", "date"}, names)

	require.NoError(t, s.DeleteField(ctx, title.ID))
	got, err = s.Template(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, got.Fields, 2)
	require.ErrorIs(t, s.DeleteField(ctx, title.ID), models.ErrNotFound)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s, c := newService(t)

	fonds := catalogtest.AddObject(t, c, catalogtest.Object{Lft: 1, Rgt: 10, Title: "Fonds"})
	series := catalogtest.AddObject(t, c, catalogtest.Object{ParentID: fonds, Lft: 2, Rgt: 5, Title: "Series"})
	other := catalogtest.AddObject(t, c, catalogtest.Object{Lft: 11, Rgt: 12, Title: "Elsewhere"})

	repoTpl := createTemplate(t, s, "Repository")
	levelTpl := createTemplate(t, s, "Level")
	colTpl := createTemplate(t, s, "Collection")
	tieTpl := createTemplate(t, s, "Tie")

	assign := func(a models.FormAssignment) {
		_, err := s.CreateAssignment(ctx, a)
		require.NoError(t, err)
	}
	assign(models.FormAssignment{TemplateID: repoTpl.ID, RepositoryID: ptr(int64(7))})
	assign(models.FormAssignment{TemplateID: levelTpl.ID, LevelOfDescriptionID: ptr(int64(236))})
	assign(models.FormAssignment{TemplateID: colTpl.ID, CollectionID: ptr(fonds)})
	assign(models.FormAssignment{TemplateID: tieTpl.ID, CollectionID: ptr(fonds)})

	tests := []struct {
		name string
		req  models.ResolveRequest
		want int64
	}{
		{"no context keeps first eligible", models.ResolveRequest{}, colTpl.ID},
		{"repository beats level", models.ResolveRequest{RepositoryID: ptr(int64(7)), LevelID: ptr(int64(236))}, repoTpl.ID},
		{"level", models.ResolveRequest{LevelID: ptr(int64(236))}, levelTpl.ID},
		{"other repository excluded", models.ResolveRequest{RepositoryID: ptr(int64(8))}, colTpl.ID},
		{"inside collection, tie keeps first", models.ResolveRequest{ParentID: ptr(series)}, colTpl.ID},
		{"collection itself is not inside", models.ResolveRequest{ParentID: ptr(fonds)}, colTpl.ID},
		{"outside collection", models.ResolveRequest{ParentID: ptr(other)}, colTpl.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.FormType = models.FormInformationObject
			got, err := s.Resolve(ctx, tt.req)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}

	req := models.ResolveRequest{FormType: models.FormAccession}
	got, err := s.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, got)

	def, err := s.CreateTemplate(ctx, TemplateInput{Name: "Accessions", FormType: models.FormAccession, IsDefault: true})
	require.NoError(t, err)
	got, err = s.Resolve(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, def.ID, got.ID, "default template is the fallback")
}

func TestResolveCollectionBonus(t *testing.T) {
	ctx := context.Background()
	s, c := newService(t)
	fonds := catalogtest.AddObject(t, c, catalogtest.Object{Lft: 1, Rgt: 10})
	series := catalogtest.AddObject(t, c, catalogtest.Object{ParentID: fonds, Lft: 2, Rgt: 5})

	plain := createTemplate(t, s, "Plain")
	col := createTemplate(t, s, "Collection")
	_, err := s.CreateAssignment(ctx, models.FormAssignment{TemplateID: plain.ID, Priority: 110})
	require.NoError(t, err)
	_, err = s.CreateAssignment(ctx, models.FormAssignment{TemplateID: col.ID, CollectionID: ptr(fonds)})
	require.NoError(t, err)

	inside, err := s.Resolve(ctx, models.ResolveRequest{FormType: models.FormInformationObject, ParentID: ptr(series)})
	require.NoError(t, err)
	assert.Equal(t, col.ID, inside.ID, "125 beats 110")

	outside, err := s.Resolve(ctx, models.ResolveRequest{FormType: models.FormInformationObject, ParentID: ptr(fonds)})
	require.NoError(t, err)
	assert.Equal(t, plain.ID, outside.ID)
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	tpl := createTemplate(t, s, "Items")

	_, err := s.CreateAssignment(ctx, models.FormAssignment{TemplateID: 999})
	require.ErrorIs(t, err, models.ErrNotFound)

	low, err := s.CreateAssignment(ctx, models.FormAssignment{TemplateID: tpl.ID})
	require.NoError(t, err)
	assert.Equal(t, defaultPriority, low.Priority)
	high, err := s.CreateAssignment(ctx, models.FormAssignment{TemplateID: tpl.ID, Priority: 200, RepositoryID: ptr(int64(3))})
	require.NoError(t, err)

	list, err := s.Assignments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, high.ID, list[0].ID)
	assert.Equal(t, "Items", list[0].TemplateName)
	assert.Equal(t, ptr(int64(3)), list[0].RepositoryID)

	require.NoError(t, s.DeleteAssignment(ctx, low.ID))
	require.ErrorIs(t, s.DeleteAssignment(ctx, low.ID), models.ErrNotFound)

	require.NoError(t, s.DeleteTemplate(ctx, tpl.ID))
	list, err = s.Assignments(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDrafts(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	tpl := createTemplate(t, s, "Items")

	_, err := s.SaveDraft(ctx, models.FormDraft{TemplateID: tpl.ID})
	require.ErrorIs(t, err, models.ErrValidation)

	created, err := s.SaveDraft(ctx, models.FormDraft{
		TemplateID: tpl.ID, ObjectType: "information_object", UserID: "ann",
		FormData: map[string]any{"title": "First"},
	})
	require.NoError(t, err)
	again, err := s.SaveDraft(ctx, models.FormDraft{
		TemplateID: tpl.ID, ObjectType: "information_object", UserID: "ann",
		FormData: map[string]any{"title": "Second"},
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID, "same key upserts")
	assert.Equal(t, "Second", again.FormData["title"])
	assert.NotNil(t, again.UpdatedAt)

	edit, err := s.SaveDraft(ctx, models.FormDraft{
		TemplateID: tpl.ID, ObjectType: "information_object", ObjectID: ptr(int64(42)), UserID: "ann",
	})
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, edit.ID)
	assert.Empty(t, edit.FormData)

	list, err := s.Drafts(ctx, "ann")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = s.Drafts(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.DeleteDraft(ctx, created.ID, true))
	require.NoError(t, s.DeleteDraft(ctx, edit.ID, true))
	require.ErrorIs(t, s.DeleteDraft(ctx, edit.ID, false), models.ErrNotFound)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ActionCreate: 1, ActionUpdate: 1}, stats.Submissions30Days)
	assert.Equal(t, map[string]int{models.FormInformationObject: 1}, stats.TemplatesByType)
	assert.Zero(t, stats.PendingDrafts)
}

func TestStatsIgnoresOldSubmissions(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	tpl := createTemplate(t, s, "Items")

	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	d, err := s.SaveDraft(ctx, models.FormDraft{TemplateID: tpl.ID, ObjectType: "accession", UserID: "ann"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteDraft(ctx, d.ID, true))

	s.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	_, err = s.SaveDraft(ctx, models.FormDraft{TemplateID: tpl.ID, ObjectType: "accession", UserID: "ann"})
	require.NoError(t, err)
	_, err = s.CreateAssignment(ctx, models.FormAssignment{TemplateID: tpl.ID})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.Submissions30Days)
	assert.Equal(t, 1, stats.PendingDrafts)
	assert.Equal(t, 1, stats.ActiveAssignments)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	src := createTemplate(t, s, "Photographs",
		models.FormField{FieldName: "title", Label: "Title", IsRequired: true,
			Mappings: []models.FieldMapping{{TargetTable: "information_object_i18n", TargetColumn: "title", IsI18n: true}}},
		models.FormField{FieldName: "process", Label: "Process", FieldType: "select",
			Options: []any{"albumen", "gelatin silver"}, ValidationRules: map[string]any{"max": 40}},
	)

	for _, format := range []string{FormatYAML, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			data, contentType, err := s.Export(ctx, src.ID, format)
			require.NoError(t, err)
			assert.Contains(t, contentType, format)
			assert.NotContains(t, string(data), "template_id")

			imported, err := s.Import(ctx, data, "Photographs "+format, "ann")
			require.NoError(t, err)
			assert.Equal(t, "Photographs "+format, imported.Name)
			require.Len(t, imported.Fields, 2)
			assert.Equal(t, src.Fields[0].Mappings, imported.Fields[0].Mappings)
			assert.Equal(t, []any{"albumen", "gelatin silver"}, imported.Fields[1].Options)
			assert.EqualValues(t, 40, imported.Fields[1].ValidationRules["max"])
		})
	}

	_, _, err := s.Export(ctx, src.ID, "xml")
	require.ErrorIs(t, err, models.ErrValidation)

	tests := []struct {
		name string
		doc  string
	}{
		{"garbage", "{not json"},
		{"no name", "form_type: information_object\nfields: []\n"},
		{"field without label", "name: Broken\nfields:\n  - field_name: title\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Import(ctx, []byte(tt.doc), "", "ann")
			require.ErrorIs(t, err, models.ErrValidation)
		})
	}

	all, err := s.Templates(ctx, "")
	require.NoError(t, err)
	for _, tpl := range all {
		assert.False(t, strings.HasPrefix(tpl.Name, "Broken"), "failed import is rolled back")
	}
}
