package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrConstraintViolation is returned when a record breaks a storage constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrInvalidCursor is returned when a paging cursor cannot be decoded.
	ErrInvalidCursor = errors.New("persistence: invalid cursor")
	// ErrUnavailable marks transient backing store failures. Callers may retry.
	ErrUnavailable = errors.New("persistence: store unavailable")
)

// StoreError carries the operation and key of a failed backing store call.
type StoreError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Key == "" {
		return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as a retryable StoreError.
func Unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
}
