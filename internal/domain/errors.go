package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that a request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrConstraintViolation indicates a database constraint rejection.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrStageFailed indicates a failure inside a stage worker's domain logic.
	ErrStageFailed = errors.New("stage failed")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError is returned when an external source rate-limits us.
// Callers should suppress further calls to the source for the RetryAfter
// window rather than retrying immediately.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// SourceAPIError provides details about an error from the bibliographic
// source API: transient HTTP failures, unexpected status codes, or
// malformed payloads.
type SourceAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *SourceAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *SourceAPIError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps entity store failures. Connectivity failures are
// treated as a systemic condition and additionally raise an auto-recovery
// trigger in the workers.
type PersistenceError struct {
	Op           string
	Connectivity bool
	Cause        error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// StageExecutionError wraps any failure inside a stage worker's domain
// logic so the task-execution boundary can translate it into a bounded
// retry without crashing the worker process.
type StageExecutionError struct {
	Stage   TaskType
	PaperID string
	Cause   error
}

// Error implements the error interface.
func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("%s stage failed for paper %s: %v", e.Stage, e.PaperID, e.Cause)
}

// Unwrap returns the underlying cause error chained to ErrStageFailed.
func (e *StageExecutionError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match StageExecutionError against ErrStageFailed.
func (e *StageExecutionError) Is(target error) bool {
	return target == ErrStageFailed
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Source: source, RetryAfter: retryAfter}
}

// NewSourceAPIError creates a new SourceAPIError.
func NewSourceAPIError(source string, statusCode int, message string, cause error) *SourceAPIError {
	return &SourceAPIError{Source: source, StatusCode: statusCode, Message: message, Cause: cause}
}

// NewStageExecutionError creates a new StageExecutionError.
func NewStageExecutionError(stage TaskType, paperID string, cause error) *StageExecutionError {
	return &StageExecutionError{Stage: stage, PaperID: paperID, Cause: cause}
}
