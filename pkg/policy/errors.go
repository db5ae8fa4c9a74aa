package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common sentinel errors.
var (
	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("policy store closed")

	// ErrEmptyID indicates a policy with no id.
	ErrEmptyID = errors.New("policy id must not be empty")
)

// Machine-readable error codes returned on the API surface.
const (
	CodeValidation = "validation_error"
	CodeNotFound   = "not_found"
	CodeConflict   = "conflict"
	CodeTimeout    = "evaluation_timeout"
	CodeStorage    = "storage_error"
)

// ValidationError describes a single problem with a policy definition.
type ValidationError struct {
	PolicyID string
	Field    string
	Message  string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("policy %q: field %q: %s", e.PolicyID, e.Field, e.Message)
	}
	return fmt.Sprintf("policy %q: %s", e.PolicyID, e.Message)
}

// ValidationErrors aggregates every validation problem found in a
// definition set. Loads are atomic: a non-empty aggregate rejects the
// whole set.
type ValidationErrors struct {
	Errors []*ValidationError
}

// Error returns the aggregated error message.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Add appends a validation problem to the aggregate.
func (e *ValidationErrors) Add(policyID, field, message string) {
	e.Errors = append(e.Errors, &ValidationError{PolicyID: policyID, Field: field, Message: message})
}

// HasErrors reports whether any problem was recorded.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// NotFoundError indicates an unknown policy id.
type NotFoundError struct {
	PolicyID string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("policy not found: %q", e.PolicyID)
}

// ConflictError indicates a duplicate policy id on create.
type ConflictError struct {
	PolicyID string
}

// Error returns the error message.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("policy already exists: %q", e.PolicyID)
}

// TimeoutError indicates an evaluation exceeded its wall-clock budget.
// The engine resolves it to a fail-safe Decision; it is surfaced only in
// logs and metrics.
type TimeoutError struct {
	PolicyType string
	Timeout    time.Duration
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluation of type %q timed out after %v", e.PolicyType, e.Timeout)
}

// StorageError wraps a persistence failure.
type StorageError struct {
	Backend string
	Op      string
	Cause   error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage: %s: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ErrorCode maps an error to its machine-readable API code. Unknown errors
// map to the storage code so callers never see an unclassified failure.
func ErrorCode(err error) string {
	var ve *ValidationErrors
	var v *ValidationError
	var nf *NotFoundError
	var cf *ConflictError
	var to *TimeoutError
	switch {
	case errors.As(err, &ve), errors.As(err, &v):
		return CodeValidation
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &cf):
		return CodeConflict
	case errors.As(err, &to):
		return CodeTimeout
	default:
		return CodeStorage
	}
}
