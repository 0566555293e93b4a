package services

import (
	"errors"
	"fmt"

	"github.com/markiskorova/reviewpipeline/ent"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentModification is returned when optimistic locking fails
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTooManyConcurrentRuns is returned when the queued+running count
	// across all documents already meets REVIEW_MAX_CONCURRENT_RUNS
	ErrTooManyConcurrentRuns = errors.New("too many concurrent runs")

	// ErrRateLimited is returned when a request fingerprint has exceeded
	// REVIEW_RATE_LIMIT_PER_MINUTE
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrEnqueueFailed is returned when a run was created but could not be
	// handed off for processing
	ErrEnqueueFailed = errors.New("failed to enqueue run")
)

// IdempotencyExpiredError is returned when an idempotency key matches a
// run whose reuse window has elapsed. RunID identifies the surviving run
// so callers can report it alongside the rejection.
type IdempotencyExpiredError struct {
	RunID string
}

func (e *IdempotencyExpiredError) Error() string {
	return fmt.Sprintf("idempotency key expired; previous run %s is older than the reuse window", e.RunID)
}

// EnqueueFailedError is returned when a run row was created but the
// hand-off to the worker pool failed. The run has already been marked
// failed; Run carries the terminal row for the HTTP response.
type EnqueueFailedError struct {
	Run   *ent.ReviewRun
	Cause error
}

func (e *EnqueueFailedError) Error() string {
	return fmt.Sprintf("failed to enqueue run %s: %v", e.Run.ID, e.Cause)
}

func (e *EnqueueFailedError) Unwrap() error { return e.Cause }

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
