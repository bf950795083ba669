// Package errors defines the service error model shared by every layer.
// Handlers, middleware and services wrap failures in a ServiceError carrying
// a stable machine code, a human message and the HTTP status to respond with.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeValidation        ErrorCode = "validation_failed"
	CodeInvalidFormat     ErrorCode = "invalid_format"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeInvalidToken      ErrorCode = "invalid_token"
	CodeForbidden         ErrorCode = "forbidden"
	CodeNotFound          ErrorCode = "not_found"
	CodeConflict          ErrorCode = "conflict"
	CodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	CodeInternal          ErrorCode = "internal_error"
	CodeUnavailable       ErrorCode = "service_unavailable"
)

// ServiceError is the single error shape the API surfaces. Details is
// optional structured context safe to expose to callers.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`

	cause error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails returns the error with an extra detail attached. The receiver
// is mutated and returned for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetServiceError returns err as a *ServiceError if it is one (directly or
// wrapped), nil otherwise.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// BadRequest reports a malformed request.
func BadRequest(message string) *ServiceError {
	return &ServiceError{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Validation reports a request that parsed but failed domain validation.
func Validation(message string) *ServiceError {
	return &ServiceError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// InvalidFormat reports a field that does not match its expected format.
func InvalidFormat(field, expected string) *ServiceError {
	e := &ServiceError{
		Code:       CodeInvalidFormat,
		Message:    fmt.Sprintf("invalid format for %s", field),
		HTTPStatus: http.StatusBadRequest,
	}
	return e.WithDetails("field", field).WithDetails("expected", expected)
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// InvalidToken reports a credential that was presented but failed
// verification. The cause is kept for logging, never serialized.
func InvalidToken(cause error) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidToken,
		Message:    "Invalid or expired token",
		HTTPStatus: http.StatusUnauthorized,
		cause:      cause,
	}
}

// Forbidden reports an authenticated caller lacking permission.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Permission denied"
	}
	return &ServiceError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	e := &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
	if id != "" {
		e.WithDetails("id", id)
	}
	return e
}

// Conflict reports a uniqueness or state conflict.
func Conflict(message string) *ServiceError {
	return &ServiceError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// RateLimitExceeded reports that the caller exceeded its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := &ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// Internal reports an unexpected server-side failure. The cause is kept for
// logging, never serialized.
func Internal(message string, cause error) *ServiceError {
	if message == "" {
		message = "Internal server error"
	}
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		cause:      cause,
	}
}

// Unavailable reports a dependency outage.
func Unavailable(message string, cause error) *ServiceError {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return &ServiceError{
		Code:       CodeUnavailable,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		cause:      cause,
	}
}
