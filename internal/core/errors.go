package core

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeInvalidRequest        = "invalid_request"
	ErrCodeValidationError       = "validation_error"
	ErrCodeNotFound              = "not_found"
	ErrCodeConflict              = "conflict"
	ErrCodeDuplicateRegistration = "duplicate_registration"
	ErrCodeConcurrencyRejected   = "concurrency_rejected"
	ErrCodePersistence           = "persistence_error"
	ErrCodeInternalError         = "internal_error"
)

// OJSError is the structured error type shared by the engine, the stores and the API.
type OJSError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`

	cause error
}

func (e *OJSError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *OJSError) Unwrap() error {
	return e.cause
}

// NewInvalidRequestError creates an error for malformed input.
func NewInvalidRequestError(message string, details map[string]any) *OJSError {
	return &OJSError{Code: ErrCodeInvalidRequest, Message: message, Details: details}
}

// NewValidationError creates an error for input that parsed but is not acceptable,
// such as an unparseable cron expression.
func NewValidationError(message string, details map[string]any) *OJSError {
	return &OJSError{Code: ErrCodeValidationError, Message: message, Details: details}
}

// NewNotFoundError creates an error for a missing resource.
func NewNotFoundError(resourceType, resourceID string) *OJSError {
	return &OJSError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewConflictError creates an error for a state conflict.
func NewConflictError(message string, details map[string]any) *OJSError {
	return &OJSError{Code: ErrCodeConflict, Message: message, Details: details}
}

// NewDuplicateRegistrationError reports a second registration under an existing id.
func NewDuplicateRegistrationError(kind, id string) *OJSError {
	return &OJSError{
		Code:    ErrCodeDuplicateRegistration,
		Message: fmt.Sprintf("%s '%s' is already registered.", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewConcurrencyRejectedError reports that a workflow's admission policy refused a new run.
func NewConcurrencyRejectedError(workflowID, reason string) *OJSError {
	return &OJSError{
		Code:    ErrCodeConcurrencyRejected,
		Message: reason,
		Details: map[string]any{"workflow_id": workflowID},
	}
}

// NewPersistenceError wraps a store failure.
func NewPersistenceError(message string, cause error) *OJSError {
	return &OJSError{Code: ErrCodePersistence, Message: message, Retryable: true, cause: cause}
}

// NewInternalError creates a retryable internal error.
func NewInternalError(message string) *OJSError {
	return &OJSError{Code: ErrCodeInternalError, Message: message, Retryable: true}
}

// HasCode reports whether err wraps an *OJSError with the given code.
func HasCode(err error, code string) bool {
	var ojsErr *OJSError
	if errors.As(err, &ojsErr) {
		return ojsErr.Code == code
	}
	return false
}

// IsNotFound reports whether err wraps a not_found error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}
