package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Editor errors
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeInvalidReference  ErrorType = "INVALID_REFERENCE"
	ErrorTypeMalformedDocument ErrorType = "MALFORMED_DOCUMENT"
	ErrorTypeUnauthorized      ErrorType = "UNAUTHORIZED"

	// Infrastructure errors
	ErrorTypeRemoteUnavailable ErrorType = "REMOTE_UNAVAILABLE"
	ErrorTypeTimeout           ErrorType = "TIMEOUT"
	ErrorTypeInternal          ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewInvalidReferenceError reports an operation that named a node id the
// graph does not hold. The graph itself treats these as no-ops; this error is
// only produced by callers that need to tell the user.
func NewInvalidReferenceError(nodeID string) *AppError {
	return &AppError{
		Type:       ErrorTypeInvalidReference,
		Message:    fmt.Sprintf("node '%s' does not exist", nodeID),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewMalformedDocumentError creates an error for a remote document that does
// not have the flow shape.
func NewMalformedDocumentError(key string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeMalformedDocument,
		Message:    fmt.Sprintf("flow document '%s' is malformed", key),
		Cause:      err,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewRemoteUnavailableError creates a retryable error for a failed call to the
// hosted document store.
func NewRemoteUnavailableError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeRemoteUnavailable,
		Message:    fmt.Sprintf("remote store operation '%s' failed", operation),
		Cause:      err,
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		Retryable:  true,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsRemoteUnavailable checks if an error came from the remote store
func IsRemoteUnavailable(err error) bool {
	return IsType(err, ErrorTypeRemoteUnavailable) || IsType(err, ErrorTypeTimeout)
}

// IsMalformedDocument checks if an error is a malformed document error
func IsMalformedDocument(err error) bool {
	return IsType(err, ErrorTypeMalformedDocument)
}

// IsRetryable reports whether the operation may succeed if attempted again.
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Retryable
}

// HTTPStatus returns the status code an error maps to.
func HTTPStatus(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
