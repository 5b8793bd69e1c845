// Package core provides the memory cache client: storing, retrieving and
// forgetting embedded memories partitioned by owner and domain.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidInput indicates that the provided input is invalid. It is
	// returned before any I/O happens.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrStorageUnavailable indicates that the table store could not complete a write.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")

	// ErrClosed indicates that the client has been closed.
	ErrClosed = errors.New("client closed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Store",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "mtmemory: Store: invalid input"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "mtmemory: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("mtmemory: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Store", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// invalidInput builds a validation error for op.
func invalidInput(op, format string, args ...interface{}) error {
	return NewMemoryError(op, fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...)))
}

// storageUnavailable wraps a backend error for op.
func storageUnavailable(op string, err error) error {
	return NewMemoryError(op, fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
}

// IsValidationError reports whether err was caused by invalid input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
