package models

import "time"

// Entity types produced by the extractor.
const (
	EntityPerson = "PERSON"
	EntityOrg    = "ORG"
	EntityPlace  = "GPE"
	EntityDate   = "DATE"
)

// EntityStatus is the review state of an extracted entity.
type EntityStatus string

const (
	EntityPending  EntityStatus = "pending"
	EntityApproved EntityStatus = "approved"
	EntityLinked   EntityStatus = "linked"
	EntityRejected EntityStatus = "rejected"
)

// NerExtraction records one extraction run against a catalog object.
type NerExtraction struct {
	ID          string    `json:"id"`
	ObjectID    int64     `json:"object_id"`
	Backend     string    `json:"backend"`
	Status      string    `json:"status"`
	EntityCount int       `json:"entity_count"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// NerEntity is one extracted mention awaiting or past human review.
type NerEntity struct {
	ID             string       `json:"id"`
	ExtractionID   string       `json:"extraction_id,omitempty"`
	ObjectID       int64        `json:"object_id"`
	Type           string       `json:"type"`
	Value          string       `json:"value"`
	OriginalValue  string       `json:"original_value,omitempty"`
	OriginalType   string       `json:"original_type,omitempty"`
	CorrectionType string       `json:"correction_type,omitempty"`
	Confidence     float64      `json:"confidence"`
	Status         EntityStatus `json:"status"`
	LinkedTargetID int64        `json:"linked_target_id,omitempty"`
	ReviewedAt     *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Match is a candidate authority, place or subject record for an entity.
type Match struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EntityCandidates is an entity with its exact and partial match candidates.
type EntityCandidates struct {
	ID             string  `json:"id"`
	Value          string  `json:"value"`
	Type           string  `json:"type"`
	ExactMatches   []Match `json:"exact_matches"`
	PartialMatches []Match `json:"partial_matches"`
}

// Review actions accepted by bulk save.
const (
	DecisionCreate     = "create"
	DecisionCreateDate = "create_date"
	DecisionLink       = "link"
	DecisionReject     = "reject"
	DecisionApproved   = "approved"
)

// Create types for DecisionCreate.
const (
	CreateActor   = "create_actor"
	CreatePlace   = "create_place"
	CreateSubject = "create_subject"
	CreateDate    = "create_date"
)

// Correction types recorded for training feedback.
const (
	CorrectionBoth       = "both"
	CorrectionValueEdit  = "value_edit"
	CorrectionTypeChange = "type_change"
	CorrectionRejected   = "rejected"
	CorrectionApproved   = "approved"
)

// Decision is one reviewer verdict submitted through bulk save.
type Decision struct {
	EntityID    string `json:"entity_id" binding:"required"`
	Action      string `json:"action" binding:"required,oneof=create create_date link reject approved"`
	TargetID    int64  `json:"target_id,omitempty"`
	EditedValue string `json:"edited_value,omitempty"`
	EditedType  string `json:"edited_type,omitempty"`
	SplitDates  bool   `json:"split_dates,omitempty"`
	CreateType  string `json:"create_type,omitempty"`
	EntityType  string `json:"entity_type,omitempty"`
}

// BulkResult tallies a bulk save.
type BulkResult struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Merge adds other into r.
func (r *BulkResult) Merge(other BulkResult) {
	r.Success += other.Success
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// DateRange is a parsed date expression.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PendingObject is a catalog object with entities awaiting review.
type PendingObject struct {
	ObjectID int64  `json:"object_id"`
	Title    string `json:"title,omitempty"`
	Count    int    `json:"count"`
}
