// Package errors provides unified error handling for the trigger pipeline
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeCacheError        ErrorCode = "SVC_5003"
	ErrCodeExternalAPI       ErrorCode = "SVC_5004"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"
	ErrCodeQueueError        ErrorCode = "SVC_5007"

	// Pipeline errors (6xxx)
	ErrCodeSecurityViolation ErrorCode = "PIPE_6001"
	ErrCodeTemplateViolation ErrorCode = "PIPE_6002"
	ErrCodeCircuitOpen       ErrorCode = "PIPE_6003"
	ErrCodeDispatchFailed    ErrorCode = "PIPE_6004"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// InvalidInput creates a validation error
func InvalidInput(message string) *ServiceError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// NotFound creates a not-found error
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), http.StatusNotFound)
}

// Internal creates an internal service error
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// Database creates a database error
func Database(message string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, message, http.StatusInternalServerError, err)
}

// RateLimitExceeded creates a rate limit error carrying limit metadata
func RateLimitExceeded(limit, windowSeconds int) *ServiceError {
	e := New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests)
	return e.WithDetails("limit", limit).WithDetails("window", windowSeconds)
}

// Queue creates a job-queue error
func Queue(message string, err error) *ServiceError {
	return Wrap(ErrCodeQueueError, message, http.StatusInternalServerError, err)
}

// Unavailable creates a dependency-outage error
func Unavailable(code ErrorCode, message string, err error) *ServiceError {
	return Wrap(code, message, http.StatusServiceUnavailable, err)
}

// Timeout creates a timeout error
func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, fmt.Sprintf("operation timed out: %s", operation), http.StatusGatewayTimeout)
}

// IsCode reports whether err is (or wraps) a ServiceError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code == code
	}
	return false
}

// From extracts the ServiceError from err, or wraps an uncoded error as an
// internal one so callers always have a code and status to render.
func From(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return Internal("internal error", err)
}
