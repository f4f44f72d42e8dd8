package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition reports a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotTerminal reports an attempt to remove a job that is still queued or running.
	ErrNotTerminal = errors.New("job is not terminal")
	// ErrInvalidJob reports a create request missing required fields.
	ErrInvalidJob = errors.New("invalid job")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: %s -> %s: %v", e.ID, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
