package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages
var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrSaturated is returned when a bounded queue or worker pool is full
	// and the operation is rejected rather than buffered.
	ErrSaturated = errors.New("service saturated, request rejected")

	// ErrAllItemsFailed is returned by batch operations when every item failed
	ErrAllItemsFailed = errors.New("all items in batch failed")
)

// ValidationError indicates invalid caller input: empty text, zero-norm
// vectors, dimension mismatches. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError with a formatted message
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError indicates a vector backend failure. Transient conditions are
// retried with bounded backoff before being surfaced; persistent conditions
// abort the operation.
type StorageError struct {
	Op        string
	Backend   string
	Retryable bool
	Err       error
}

// NewStorageError wraps err as a StorageError
func NewStorageError(backend, op string, retryable bool, err error) *StorageError {
	return &StorageError{Op: op, Backend: backend, Retryable: retryable, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage error during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryableStorageError reports whether err is a StorageError marked retryable
func IsRetryableStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Retryable
}

// TenantIsolationError indicates a vector or query crossed a tenant
// boundary. This is a programming-bug class invariant violation, always
// fatal for the operation and logged loudly.
type TenantIsolationError struct {
	Expected string
	Actual   string
	Detail   string
}

func (e *TenantIsolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation (%s): expected tenant %s, got %s",
		e.Detail, e.Expected, e.Actual)
}

// IsTenantIsolationError reports whether err is a TenantIsolationError
func IsTenantIsolationError(err error) bool {
	var te *TenantIsolationError
	return errors.As(err, &te)
}
