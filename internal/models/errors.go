package models

import "errors"

// Sentinel errors shared by the stores and services.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a batch action that the current status does not allow.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNothingToRetry is returned by retry when a batch has no failed jobs.
	ErrNothingToRetry = errors.New("no failed jobs to retry")

	// ErrDuplicate indicates an insert whose id is already taken.
	ErrDuplicate = errors.New("duplicate record")

	// ErrValidation indicates bad input (missing field, unknown task type, empty selection).
	ErrValidation = errors.New("validation failed")

	// ErrTooManyPending is returned when an object already holds the maximum
	// number of pending description suggestions.
	ErrTooManyPending = errors.New("too many pending suggestions")

	// ErrAlreadyProcessed is returned when deciding on a suggestion that is no longer pending.
	ErrAlreadyProcessed = errors.New("suggestion already processed")

	// ErrReadOnly is returned when modifying a system form template.
	ErrReadOnly = errors.New("system template is read-only")
)
