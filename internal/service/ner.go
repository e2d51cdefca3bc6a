package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/atom-ai/internal/catalog"
	"github.com/raphaelgruber/atom-ai/internal/config"
	"github.com/raphaelgruber/atom-ai/internal/llm"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

// Generator produces text from a system and user prompt.
type Generator interface {
	GenerateWithSystem(ctx context.Context, system, user string) (llm.Completion, error)
	Model() string
}

// ErrNoText is returned when an object has no text to work on.
var ErrNoText = errors.New("no text content")

var errEntityMissing = errors.New("entity not found")

// ExtractResult is the outcome of one entity extraction.
type ExtractResult struct {
	ObjectID         int64               `json:"object_id"`
	Entities         map[string][]string `json:"entities"`
	EntityCount      int                 `json:"entity_count"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	Source           string              `json:"source"`
	Model            string              `json:"model,omitempty"`
}

// ReviewItem is a pending entity with its candidates and the action the
// review screen preselects.
type ReviewItem struct {
	models.EntityCandidates
	Suggested models.Decision `json:"suggested"`
	DateParts []string        `json:"date_parts,omitempty"`
}

// NERService extracts entities and applies reviewer decisions to the catalog.
type NERService struct {
	store    NERStore
	catalog  *catalog.Catalog
	gen      Generator
	settings *config.SettingsStore
	log      *slog.Logger
	now      func() time.Time
}

// NewNERService creates the NER workflow service.
func NewNERService(store NERStore, cat *catalog.Catalog, gen Generator, settings *config.SettingsStore, log *slog.Logger) *NERService {
	if log == nil {
		log = slog.Default()
	}
	return &NERService{
		store:    store,
		catalog:  cat,
		gen:      gen,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Extract runs the extractor over an object's text and replaces the object's
// pending entities with the result.
func (s *NERService) Extract(ctx context.Context, objectID int64) (*ExtractResult, error) {
	start := time.Now()
	obj, err := s.catalog.Object(ctx, objectID)
	if err != nil {
		return nil, err
	}
	text := obj.ExtractionText()
	if ocr, err := s.catalog.OCRText(ctx, objectID); err != nil {
		return nil, err
	} else if strings.TrimSpace(ocr) != "" {
		text = strings.TrimSpace(text + "\n\n" + ocr)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	if limit := s.settings.Current().NER.MaxTextChars; limit > 0 {
		if r := []rune(text); len(r) > limit {
			text = string(r[:limit])
		}
	}

	system, user := llm.EntityPrompt(text)
	out, err := s.gen.GenerateWithSystem(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	found, err := llm.ParseEntities(out.Text)
	if err != nil {
		return nil, err
	}
	found = dedupeEntities(found)

	now := s.now()
	ext := models.NerExtraction{
		ID:          uuid.NewString(),
		ObjectID:    objectID,
		Backend:     "llm",
		Status:      "completed",
		ExtractedAt: now,
	}
	types := make([]string, 0, len(found))
	for typ := range found {
		types = append(types, typ)
	}
	slices.Sort(types)
	var entities []models.NerEntity
	for _, typ := range types {
		for _, v := range found[typ] {
			entities = append(entities, models.NerEntity{
				ID:           uuid.NewString(),
				ExtractionID: ext.ID,
				ObjectID:     objectID,
				Type:         typ,
				Value:        v,
				Confidence:   1,
				Status:       models.EntityPending,
				CreatedAt:    now,
			})
		}
	}
	ext.EntityCount = len(entities)
	if err := s.store.ReplacePendingEntities(ctx, ext, entities); err != nil {
		return nil, fmt.Errorf("store entities: %w", err)
	}

	elapsed := time.Since(start)
	s.log.Info("entities extracted", "object_id", objectID, "count", len(entities), "duration_ms", elapsed.Milliseconds())
	return &ExtractResult{
		ObjectID:         objectID,
		Entities:         found,
		EntityCount:      len(entities),
		ProcessingTimeMs: elapsed.Milliseconds(),
		Source:           "llm",
		Model:            out.Model,
	}, nil
}

// dedupeEntities drops repeated values per type, comparing trimmed values
// case-insensitively and keeping the first spelling seen.
func dedupeEntities(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for typ, values := range in {
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			v = strings.TrimSpace(v)
			key := strings.ToLower(v)
			if v == "" || seen[key] {
				continue
			}
			seen[key] = true
			out[typ] = append(out[typ], v)
		}
	}
	return out
}

// Entities returns an object's pending entities grouped by type, each with
// match candidates and a preselected action.
func (s *NERService) Entities(ctx context.Context, objectID int64) (map[string][]ReviewItem, error) {
	pending, err := s.store.PendingEntities(ctx, objectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]ReviewItem)
	for _, e := range pending {
		exact, partial, err := s.candidates(ctx, e.Type, e.Value)
		if err != nil {
			return nil, fmt.Errorf("match %s %q: %w", e.Type, e.Value, err)
		}
		c := models.EntityCandidates{
			ID:             e.ID,
			Value:          e.Value,
			Type:           e.Type,
			ExactMatches:   exact,
			PartialMatches: partial,
		}
		item := ReviewItem{EntityCandidates: c, Suggested: DefaultAction(c)}
		if item.Suggested.SplitDates {
			item.DateParts = SplitDates(e.Value)
		}
		out[e.Type] = append(out[e.Type], item)
	}
	return out, nil
}

func (s *NERService) candidates(ctx context.Context, typ, value string) (exact, partial []models.Match, err error) {
	switch typ {
	case models.EntityPerson, models.EntityOrg:
		exact, partial, err = s.catalog.MatchActors(ctx, value)
	case models.EntityPlace:
		exact, partial, err = s.catalog.MatchTerms(ctx, catalog.TaxonomyPlace, value)
	case models.EntityDate:
	default:
		exact, partial, err = s.catalog.MatchTerms(ctx, catalog.TaxonomySubject, value)
	}
	if exact == nil {
		exact = []models.Match{}
	}
	if partial == nil {
		partial = []models.Match{}
	}
	return exact, partial, err
}

// DefaultAction preselects a review decision: link to the first exact match,
// create a date event (split when the value lists several dates), or create
// an authority record of the entity's kind.
func DefaultAction(e models.EntityCandidates) models.Decision {
	d := models.Decision{EntityID: e.ID, EntityType: e.Type}
	switch {
	case len(e.ExactMatches) > 0:
		d.Action = models.DecisionLink
		d.TargetID = e.ExactMatches[0].ID
	case e.Type == models.EntityDate:
		d.Action = models.DecisionCreateDate
		d.SplitDates = IsCompoundDate(e.Value)
	default:
		d.Action = models.DecisionCreate
		d.CreateType = createTypeFor(e.Type)
	}
	return d
}

func createTypeFor(typ string) string {
	switch typ {
	case models.EntityPerson, models.EntityOrg:
		return models.CreateActor
	case models.EntityPlace:
		return models.CreatePlace
	case models.EntityDate:
		return models.CreateDate
	default:
		return models.CreateSubject
	}
}

// BulkSave applies each decision on its own; one failing decision does not
// stop the others.
func (s *NERService) BulkSave(ctx context.Context, decisions []models.Decision) models.BulkResult {
	res := models.BulkResult{Errors: []string{}}
	for _, d := range decisions {
		if err := s.apply(ctx, d); err != nil {
			res.Failed++
			if errors.Is(err, errEntityMissing) {
				res.Errors = append(res.Errors, fmt.Sprintf("Entity %s not found", d.EntityID))
			} else {
				res.Errors = append(res.Errors, fmt.Sprintf("Entity %s: %v", d.EntityID, err))
			}
			continue
		}
		res.Success++
	}
	s.log.Info("entity decisions saved", "success", res.Success, "failed", res.Failed)
	return res
}

func (s *NERService) apply(ctx context.Context, d models.Decision) error {
	e, err := s.store.GetEntity(ctx, d.EntityID)
	if errors.Is(err, models.ErrNotFound) {
		return errEntityMissing
	}
	if err != nil {
		return err
	}
	applyEdits(e, d)
	now := s.now()

	switch d.Action {
	case models.DecisionCreate:
		createType := d.CreateType
		if createType == "" {
			createType = createTypeFor(e.Type)
		}
		id, err := s.create(ctx, e, createType, d.SplitDates)
		if err != nil {
			return err
		}
		e.Status, e.LinkedTargetID = models.EntityLinked, id
	case models.DecisionCreateDate:
		id, err := s.createDates(ctx, e, d.SplitDates)
		if err != nil {
			return err
		}
		e.Status, e.LinkedTargetID = models.EntityLinked, id
	case models.DecisionLink:
		if err := s.link(ctx, e, d.TargetID); err != nil {
			return err
		}
		e.Status, e.LinkedTargetID = models.EntityLinked, d.TargetID
	case models.DecisionReject:
		e.Status, e.CorrectionType = models.EntityRejected, models.CorrectionRejected
	case models.DecisionApproved:
		e.Status, e.CorrectionType = models.EntityApproved, models.CorrectionApproved
	default:
		return fmt.Errorf("%w: unknown action %q", models.ErrValidation, d.Action)
	}
	e.ReviewedAt = &now
	return s.store.UpdateEntity(ctx, *e)
}

// applyEdits records a reviewer's correction of the value or type, keeping
// the extractor's original.
func applyEdits(e *models.NerEntity, d models.Decision) {
	value := strings.TrimSpace(d.EditedValue)
	typ := strings.ToUpper(strings.TrimSpace(d.EditedType))
	valueChanged := value != "" && value != e.Value
	typeChanged := typ != "" && typ != e.Type
	if !valueChanged && !typeChanged {
		return
	}
	if valueChanged {
		if e.OriginalValue == "" {
			e.OriginalValue = e.Value
		}
		e.Value = value
	}
	if typeChanged {
		if e.OriginalType == "" {
			e.OriginalType = e.Type
		}
		e.Type = typ
	}
	switch {
	case valueChanged && typeChanged:
		e.CorrectionType = models.CorrectionBoth
	case valueChanged:
		e.CorrectionType = models.CorrectionValueEdit
	default:
		e.CorrectionType = models.CorrectionTypeChange
	}
}

func (s *NERService) create(ctx context.Context, e *models.NerEntity, createType string, split bool) (int64, error) {
	switch createType {
	case models.CreateActor:
		typeID := catalog.ActorPerson
		if e.Type == models.EntityOrg {
			typeID = catalog.ActorCorporateBody
		}
		id, _, err := s.catalog.FindOrCreateActor(ctx, e.Value, typeID)
		if err != nil {
			return 0, err
		}
		return id, s.catalog.LinkActor(ctx, e.ObjectID, id)
	case models.CreatePlace, models.CreateSubject:
		taxonomy := catalog.TaxonomySubject
		if createType == models.CreatePlace {
			taxonomy = catalog.TaxonomyPlace
		}
		id, _, err := s.catalog.FindOrCreateTerm(ctx, taxonomy, e.Value)
		if err != nil {
			return 0, err
		}
		return id, s.catalog.LinkTerm(ctx, e.ObjectID, id)
	case models.CreateDate:
		return s.createDates(ctx, e, split)
	}
	return 0, fmt.Errorf("%w: unknown create type %q", models.ErrValidation, createType)
}

// createDates adds one creation event, or one per part of a compound date,
// and returns the first event id.
func (s *NERService) createDates(ctx context.Context, e *models.NerEntity, split bool) (int64, error) {
	parts := []string{strings.TrimSpace(e.Value)}
	if split {
		parts = SplitDates(e.Value)
	}
	var first int64
	for _, p := range parts {
		id, _, err := s.catalog.AddDateEvent(ctx, e.ObjectID, p, ParseDate(p))
		if err != nil {
			return 0, err
		}
		if first == 0 {
			first = id
		}
	}
	return first, nil
}

func (s *NERService) link(ctx context.Context, e *models.NerEntity, targetID int64) error {
	if targetID <= 0 {
		return fmt.Errorf("%w: target_id is required to link", models.ErrValidation)
	}
	var (
		ok  bool
		err error
	)
	switch e.Type {
	case models.EntityPerson, models.EntityOrg:
		if ok, err = s.catalog.ActorExists(ctx, targetID); err == nil && ok {
			return s.catalog.LinkActor(ctx, e.ObjectID, targetID)
		}
	case models.EntityDate:
		return fmt.Errorf("%w: dates are created, not linked", models.ErrValidation)
	case models.EntityPlace:
		if ok, err = s.catalog.TermExists(ctx, catalog.TaxonomyPlace, targetID); err == nil && ok {
			return s.catalog.LinkTerm(ctx, e.ObjectID, targetID)
		}
	default:
		if ok, err = s.catalog.TermExists(ctx, catalog.TaxonomySubject, targetID); err == nil && ok {
			return s.catalog.LinkTerm(ctx, e.ObjectID, targetID)
		}
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("link target %d: %w", targetID, models.ErrNotFound)
}

// ReviewQueue lists objects with pending entities, most pending first.
func (s *NERService) ReviewQueue(ctx context.Context, limit int) ([]models.PendingObject, error) {
	if limit <= 0 {
		limit = 50
	}
	objs, err := s.store.PendingEntityObjects(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range objs {
		o, err := s.catalog.Object(ctx, objs[i].ObjectID)
		switch {
		case err == nil:
			objs[i].Title = o.Title
		case !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	}
	return objs, nil
}
