package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateNode     = "DUPLICATE_NODE"
	ErrCodeInvalidDependency = "INVALID_DEPENDENCY"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeHandler           = "HANDLER_ERROR"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// CascadeError is the structured error type for all engine operations.
type CascadeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CascadeError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CascadeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CascadeError.
func NewError(code, message string) *CascadeError {
	return &CascadeError{Code: code, Message: message}
}

// NewErrorf creates a new CascadeError with a formatted message.
func NewErrorf(code, format string, args ...any) *CascadeError {
	return &CascadeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *CascadeError) WithNode(nodeID string) *CascadeError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *CascadeError) WithCause(err error) *CascadeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CascadeError) WithDetails(details map[string]any) *CascadeError {
	e.Details = details
	return e
}

// HasCode reports whether err is a CascadeError with the given code.
func HasCode(err error, code string) bool {
	var ce *CascadeError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsNotFound reports whether err indicates a missing execution, node or workflow.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsTransport reports whether err indicates a store/queue connectivity failure.
func IsTransport(err error) bool {
	return HasCode(err, ErrCodeTransport)
}

// IsValidation reports whether err was produced by submission-time validation.
func IsValidation(err error) bool {
	var ce *CascadeError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case ErrCodeValidation, ErrCodeDuplicateNode, ErrCodeInvalidDependency, ErrCodeCycleDetected:
		return true
	}
	return false
}
