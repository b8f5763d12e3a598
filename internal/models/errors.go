package models

import "fmt"

// ValidationError reports a bad input (group composition, proposal target).
// It is never retried and is surfaced directly to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ExternalServiceError reports a failed provider call after retries were
// exhausted. Recovery carries a human-readable suggested action.
type ExternalServiceError struct {
	Service  string
	Reason   string
	Recovery string
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Service, e.Reason)
}

// StateConflictError reports an operation against an entity in the wrong
// state (vote on a resolved proposal, join a full group). Not retryable.
type StateConflictError struct {
	Reason string
}

func (e *StateConflictError) Error() string { return "state conflict: " + e.Reason }
