package models

import "fmt"

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchPaused    BatchStatus = "paused"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// Terminal reports whether no user action other than retry can move the batch.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// Valid reports whether s is a known batch status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPending, BatchRunning, BatchPaused, BatchCompleted, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// JobStatus is the state of a single job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
	JobCancelled JobStatus = "cancelled"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobQueued, JobRunning, JobCompleted, JobFailed, JobSkipped, JobCancelled:
		return true
	}
	return false
}

// BatchAction is a user-initiated batch command.
type BatchAction string

const (
	ActionStart  BatchAction = "start"
	ActionPause  BatchAction = "pause"
	ActionResume BatchAction = "resume"
	ActionCancel BatchAction = "cancel"
	ActionRetry  BatchAction = "retry"
)

// ParseBatchAction validates an action name.
func ParseBatchAction(s string) (BatchAction, error) {
	switch a := BatchAction(s); a {
	case ActionStart, ActionPause, ActionResume, ActionCancel, ActionRetry:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

// transition is one row of the batch state machine.
type transition struct {
	from []BatchStatus
	// to is empty when the action leaves the batch status alone.
	to BatchStatus
}

// BatchTransitions is the single source of truth for which user actions a
// batch status admits and where they lead.
var BatchTransitions = map[BatchAction]transition{
	ActionStart:  {from: []BatchStatus{BatchPending}, to: BatchRunning},
	ActionPause:  {from: []BatchStatus{BatchRunning}, to: BatchPaused},
	ActionResume: {from: []BatchStatus{BatchPaused}, to: BatchRunning},
	ActionCancel: {from: []BatchStatus{BatchPending, BatchRunning, BatchPaused}, to: BatchCancelled},
	ActionRetry:  {from: []BatchStatus{BatchRunning, BatchPaused, BatchCompleted, BatchFailed}},
}

// Transition returns the status a batch moves to when action is applied from
// status `from`. The returned status equals `from` for actions that do not
// change status. An action not allowed from `from` yields ErrInvalidTransition.
func Transition(from BatchStatus, action BatchAction) (BatchStatus, error) {
	t, ok := BatchTransitions[action]
	if !ok {
		return from, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	for _, s := range t.from {
		if s == from {
			if t.to == "" {
				return from, nil
			}
			return t.to, nil
		}
	}
	return from, fmt.Errorf("%w: cannot %s a batch that is %s", ErrInvalidTransition, action, from)
}

// CanTransition reports whether action is allowed from status.
func CanTransition(from BatchStatus, action BatchAction) bool {
	_, err := Transition(from, action)
	return err == nil
}

// AllowedActions lists the actions the status admits, in a stable order.
func AllowedActions(from BatchStatus) []BatchAction {
	var out []BatchAction
	for _, a := range []BatchAction{ActionStart, ActionPause, ActionResume, ActionCancel, ActionRetry} {
		if CanTransition(from, a) {
			out = append(out, a)
		}
	}
	return out
}

// SettledStatus decides the terminal status of a batch whose jobs have all
// settled: failed when nothing completed and something failed, else completed.
func SettledStatus(c JobCounts) BatchStatus {
	if c.Completed == 0 && c.Failed > 0 {
		return BatchFailed
	}
	return BatchCompleted
}
