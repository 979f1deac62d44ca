// Package errors provides unified error handling for the ingestion core
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the closed taxonomy used at the HTTP
// boundary. Handlers dispatch on Kind, never on driver-specific strings.
type Kind string

const (
	KindBadRequest   Kind = "BadRequest"
	KindUnauthorized Kind = "Unauthorized"
	KindForbidden    Kind = "Forbidden"
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "Conflict"
	KindRateLimited  Kind = "RateLimited"
	KindDatabase     Kind = "Database"
	KindMessaging    Kind = "Messaging"
	KindPolicy       Kind = "Policy"
	KindInternal     Kind = "Internal"
)

// ServiceError represents a structured error with kind, message, and HTTP status
type ServiceError struct {
	Kind       Kind                   `json:"error"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
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
func New(kind Kind, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(kind Kind, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation errors

func BadRequest(message string) *ServiceError {
	return New(KindBadRequest, message, http.StatusBadRequest)
}

func InvalidInput(field, reason string) *ServiceError {
	return New(KindBadRequest, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(KindBadRequest, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidIdentifier(value string, err error) *ServiceError {
	return Wrap(KindBadRequest, "Invalid identifier format", http.StatusBadRequest, err).
		WithDetails("value", value)
}

func SchemaValidationFailed(violations []map[string]interface{}) *ServiceError {
	return New(KindBadRequest, "Payload does not validate against receiver schema", http.StatusBadRequest).
		WithDetails("violations", violations)
}

// Authentication errors

func Unauthorized(message string) *ServiceError {
	return New(KindUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(KindUnauthorized, "Invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(KindUnauthorized, "Authentication token has expired", http.StatusUnauthorized)
}

// Authorization errors

func Forbidden(message string) *ServiceError {
	return New(KindForbidden, message, http.StatusForbidden)
}

// Resource errors

func NotFound(resource, id string) *ServiceError {
	return New(KindNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(KindConflict, message, http.StatusConflict)
}

func VersionConflict(resource, id string, expected int) *ServiceError {
	return New(KindConflict, "Resource version mismatch", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id).
		WithDetails("expected_version", expected)
}

func DuplicateFingerprint(fingerprint string) *ServiceError {
	return New(KindConflict, "Receiver with identical fingerprint already exists", http.StatusConflict).
		WithDetails("fingerprint", fingerprint)
}

// Rate limiting

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(KindRateLimited, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Service errors

func Internal(message string, err error) *ServiceError {
	return Wrap(KindInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(KindDatabase, "Database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func MessagingError(operation string, err error) *ServiceError {
	// Publish failures after a successful persist are logged and counted,
	// never surfaced to the caller.
	return Wrap(KindMessaging, "Message publication failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func PolicyError(err error) *ServiceError {
	return Wrap(KindPolicy, "Policy evaluation failed", http.StatusInternalServerError, err)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.Kind == kind
	}
	return false
}
