package db

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/raphaelgruber/atom-ai/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type entityRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	ExtractionID   string                 `json:"extraction_id"`
	ObjectID       int64                  `json:"object_id"`
	Type           string                 `json:"type"`
	Value          string                 `json:"value"`
	OriginalValue  string                 `json:"original_value"`
	OriginalType   string                 `json:"original_type"`
	CorrectionType string                 `json:"correction_type"`
	Confidence     float64                `json:"confidence"`
	Status         models.EntityStatus    `json:"status"`
	LinkedTargetID int64                  `json:"linked_target_id"`
	ReviewedAt     *time.Time             `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

func (r entityRow) model() (models.NerEntity, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.NerEntity{}, err
	}
	return models.NerEntity{
		ID:             id,
		ExtractionID:   r.ExtractionID,
		ObjectID:       r.ObjectID,
		Type:           r.Type,
		Value:          r.Value,
		OriginalValue:  r.OriginalValue,
		OriginalType:   r.OriginalType,
		CorrectionType: r.CorrectionType,
		Confidence:     r.Confidence,
		Status:         r.Status,
		LinkedTargetID: r.LinkedTargetID,
		ReviewedAt:     r.ReviewedAt,
		CreatedAt:      r.CreatedAt,
	}, nil
}

// ReplacePendingEntities records an extraction run and replaces the
// object's still-pending entities with the new ones. Reviewed entities
// from earlier runs are kept.
func (c *Client) ReplacePendingEntities(ctx context.Context, ext models.NerExtraction, entities []models.NerEntity) error {
	rows := make([]map[string]any, 0, len(entities))
	for i, e := range entities {
		rows = append(rows, map[string]any{
			"id":            e.ID,
			"extraction_id": ext.ID,
			"object_id":     e.ObjectID,
			"type":          e.Type,
			"value":         e.Value,
			"confidence":    e.Confidence,
			"status":        string(e.Status),
			"seq":           i,
			"created_at":    e.CreatedAt,
		})
	}

	_, err := query[any](ctx, c, `
		BEGIN TRANSACTION;
		DELETE ner_entity WHERE object_id = $object AND status = 'pending';
		CREATE type::record("ner_extraction", $ext_id) CONTENT {
			object_id: $object,
			backend: $backend,
			status: $status,
			entity_count: $count,
			extracted_at: $at
		} RETURN NONE;
		INSERT INTO ner_entity $entities RETURN NONE;
		COMMIT TRANSACTION;
	`, map[string]any{
		"object":   ext.ObjectID,
		"ext_id":   ext.ID,
		"backend":  ext.Backend,
		"status":   ext.Status,
		"count":    ext.EntityCount,
		"at":       ext.ExtractedAt,
		"entities": rows,
	})
	if err != nil {
		return fmt.Errorf("replace pending entities: %w", wrapQueryError(err))
	}
	return nil
}

// PendingEntities lists an object's pending entities in extraction order.
func (c *Client) PendingEntities(ctx context.Context, objectID int64) ([]models.NerEntity, error) {
	results, err := query[[]entityRow](ctx, c, `
		SELECT * FROM ner_entity
		WHERE object_id = $object AND status = 'pending'
		ORDER BY created_at ASC, seq ASC
	`, map[string]any{"object": objectID})
	if err != nil {
		return nil, fmt.Errorf("pending entities: %w", err)
	}
	rows := first(results)
	out := make([]models.NerEntity, 0, len(rows))
	for _, r := range rows {
		e, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetEntity retrieves an extracted entity by ID.
func (c *Client) GetEntity(ctx context.Context, id string) (*models.NerEntity, error) {
	results, err := query[[]entityRow](ctx, c, `
		SELECT * FROM type::record("ner_entity", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("entity %s: %w", id, models.ErrNotFound)
	}
	e, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEntity writes review fields of an entity.
func (c *Client) UpdateEntity(ctx context.Context, e models.NerEntity) error {
	results, err := query[[]entityRow](ctx, c, `
		UPDATE type::record("ner_entity", $id) SET
			type = $type,
			value = $value,
			original_value = $original_value,
			original_type = $original_type,
			correction_type = $correction_type,
			status = $status,
			linked_target_id = $linked,
			reviewed_at = $reviewed_at ?? NONE
		WHERE id != NONE
		RETURN AFTER
	`, map[string]any{
		"id":              e.ID,
		"type":            e.Type,
		"value":           e.Value,
		"original_value":  e.OriginalValue,
		"original_type":   e.OriginalType,
		"correction_type": e.CorrectionType,
		"status":          string(e.Status),
		"linked":          e.LinkedTargetID,
		"reviewed_at":     e.ReviewedAt,
	})
	if err != nil {
		return fmt.Errorf("update entity: %w", wrapQueryError(err))
	}
	if len(first(results)) == 0 {
		return fmt.Errorf("entity %s: %w", e.ID, models.ErrNotFound)
	}
	return nil
}

// PendingEntityObjects lists objects with pending entities, most pending first.
func (c *Client) PendingEntityObjects(ctx context.Context, limit int) ([]models.PendingObject, error) {
	results, err := query[[]models.PendingObject](ctx, c, `
		SELECT object_id, count() AS count FROM ner_entity
		WHERE status = 'pending'
		GROUP BY object_id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("pending entity objects: %w", err)
	}
	out := first(results)
	slices.SortFunc(out, func(a, b models.PendingObject) int {
		if n := cmp.Compare(b.Count, a.Count); n != 0 {
			return n
		}
		return cmp.Compare(a.ObjectID, b.ObjectID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []models.PendingObject{}
	}
	return out, nil
}
