// Package errors provides standardized error types for the allocation shim.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for shim and digest failures
const (
	CodeSymbolNotFound   = "SYMBOL_NOT_FOUND"
	CodeArenaExhausted   = "ARENA_EXHAUSTED"
	CodeTableSealed      = "TABLE_SEALED"
	CodeBuilderConsumed  = "BUILDER_CONSUMED"
	CodeAllocationFailed = "ALLOCATION_FAILED"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeInternal         = "INTERNAL_ERROR"
)

// ShimError represents a shim error with code, message, and optional details.
type ShimError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *ShimError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ShimError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *ShimError) Is(target error) bool {
	t, ok := target.(*ShimError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a single detail to the error.
func (e *ShimError) WithDetail(key string, value interface{}) *ShimError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrSymbolNotFound  = &ShimError{Code: CodeSymbolNotFound, Message: "allocator symbol not found"}
	ErrArenaExhausted  = &ShimError{Code: CodeArenaExhausted, Message: "bootstrap arena exhausted"}
	ErrTableSealed     = &ShimError{Code: CodeTableSealed, Message: "interpose table already applied"}
	ErrBuilderConsumed = &ShimError{Code: CodeBuilderConsumed, Message: "builder already consumed by build"}
	ErrAllocationFail  = &ShimError{Code: CodeAllocationFailed, Message: "allocation failed"}
)

// New creates a new ShimError with the given code and message.
func New(code, message string) *ShimError {
	return &ShimError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with a ShimError.
func Wrap(err error, code, message string) *ShimError {
	if err == nil {
		return nil
	}
	return &ShimError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *ShimError {
	if err == nil {
		return nil
	}
	return &ShimError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsSymbolNotFound checks if an error is a symbol resolution failure.
func IsSymbolNotFound(err error) bool {
	var shimErr *ShimError
	if errors.As(err, &shimErr) {
		return shimErr.Code == CodeSymbolNotFound
	}
	return false
}

// IsBuilderConsumed checks if an error is a use-after-consume error.
func IsBuilderConsumed(err error) bool {
	var shimErr *ShimError
	if errors.As(err, &shimErr) {
		return shimErr.Code == CodeBuilderConsumed
	}
	return false
}
