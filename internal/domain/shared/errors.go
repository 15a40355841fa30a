// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")

	// Workflow errors
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrMissingReason         = errors.New("missing reason")
	ErrAlreadyTerminal       = errors.New("practice is in a terminal state")
	ErrInvalidState          = errors.New("invalid state")
	ErrEvaluationsIncomplete = errors.New("evaluations incomplete")
	ErrAlreadyClosed         = errors.New("closure already validated")
	ErrInvalidConfiguration  = errors.New("invalid grading configuration")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Collaborator errors
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "practice", "closure", "deadline"
	Op      string // Operation that failed, e.g., "Transition", "Close"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Unavailable wraps a collaborator failure (storage, cache, configuration source)
// so callers can tell it apart from a business-rule violation.
func Unavailable(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrDependencyUnavailable, "dependency unavailable", err)
}

// Practice domain errors
var (
	ErrPracticeNotFound = NewDomainError("practice", "Find", ErrNotFound, "practice not found")
	ErrVersionConflict  = NewDomainError("practice", "Save", ErrConcurrentModification, "practice was modified by another request")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is an input validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsBusinessRule reports whether err is a workflow rule violation.
// These are never retried: retrying cannot change the outcome.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrMissingReason) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrEvaluationsIncomplete) ||
		errors.Is(err, ErrAlreadyClosed) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// IsDependencyUnavailable checks if the error comes from a failing collaborator.
func IsDependencyUnavailable(err error) bool {
	return errors.Is(err, ErrDependencyUnavailable)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDependencyUnavailable) ||
		errors.Is(err, ErrConcurrentModification)
}

// UserMessage maps an error to a message that can be shown to the person
// who triggered the operation.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyTerminal):
		return "The practice is closed and can no longer change state."
	case errors.Is(err, ErrInvalidTransition):
		return "The practice cannot move to the requested state from its current state."
	case errors.Is(err, ErrMissingReason):
		return "Voiding a practice requires a reason between 10 and 500 characters."
	case errors.Is(err, ErrEvaluationsIncomplete):
		return "Both the report and the employer evaluation are required before closing."
	case errors.Is(err, ErrAlreadyClosed):
		return "The final record has already been validated and cannot be changed."
	case errors.Is(err, ErrInvalidConfiguration):
		return "The grading configuration is invalid: weights must add up to 100."
	case errors.Is(err, ErrInvalidState):
		return "The practice is not in a state that allows this operation."
	case errors.Is(err, ErrConcurrentModification):
		return "The practice was changed by someone else. Reload and try again."
	case errors.Is(err, ErrNotFound):
		return "The requested practice does not exist."
	case IsValidation(err):
		return "The request contains invalid data."
	case errors.Is(err, ErrDependencyUnavailable):
		return "The system is temporarily unavailable. Please try again."
	default:
		return "Unexpected error."
	}
}
