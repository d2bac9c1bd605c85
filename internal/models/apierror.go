package models

import "fmt"

// Error codes for structured error handling
const (
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeAlreadyExists        = "ALREADY_EXISTS"
	ErrCodePortExhausted        = "PORT_EXHAUSTED"
	ErrCodeDeploymentInProgress = "DEPLOYMENT_IN_PROGRESS"
	ErrCodeAlreadyRunning       = "ALREADY_RUNNING"
	ErrCodeNotRunning           = "NOT_RUNNING"
	ErrCodeEngineUnavailable    = "ENGINE_UNAVAILABLE"
	ErrCodeAuthFailed           = "AUTH_FAILED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// APIError represents a structured error with code and optional details
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"` // Original error (not exposed to client)
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError
func NewAPIError(code, message string, details map[string]interface{}) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapError wraps an existing error with an APIError
func WrapError(code, message string, err error, details map[string]interface{}) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *APIError {
	return NewAPIError(
		ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource),
		map[string]interface{}{
			"resource": resource,
		},
	)
}

// NewValidationError creates a validation error
func NewValidationError(message string, fields []string) *APIError {
	return NewAPIError(
		ErrCodeValidationFailed,
		message,
		map[string]interface{}{
			"invalid_fields": fields,
		},
	)
}

// NewGitValidationError creates a validation error listing every problem with a Git config
func NewGitValidationError(problems []string) *APIError {
	return NewAPIError(
		ErrCodeValidationFailed,
		"Invalid Git configuration",
		map[string]interface{}{
			"errors": problems,
		},
	)
}

// NewPortExhaustedError creates a port exhaustion error for the configured range
func NewPortExhaustedError(r PortRange) *APIError {
	return NewAPIError(
		ErrCodePortExhausted,
		fmt.Sprintf("No free port available in range %d-%d", r.Start, r.End),
		map[string]interface{}{
			"range_start": r.Start,
			"range_end":   r.End,
		},
	)
}
