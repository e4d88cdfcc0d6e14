package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for clients. Kinds are stable wire strings.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindNotFound         Kind = "not_found"
	KindAuthentication   Kind = "authentication_error"
	KindProvider         Kind = "provider_error"
	KindToolExecution    Kind = "tool_execution_error"
	KindCompilation      Kind = "workflow_compilation_error"
	KindExecution        Kind = "execution_error"
	KindSchemaValidation Kind = "schema_validation_error"
	KindConflict         Kind = "conflict"
	KindRateLimited      Kind = "rate_limit_exceeded"
	KindInternal         Kind = "internal_error"
)

// Error is the application error carried across layers and rendered as
// {"error": kind, "message": ..., "details": ...} at the HTTP boundary.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}

	// Optional explicit HTTP status, overrides the kind mapping
	Status int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails attaches structured context for the client
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithStatus overrides the HTTP status derived from the kind
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// HTTPStatus returns the status code this error maps to
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return statusFor(e.Kind)
}

func statusFor(kind Kind) int {
	switch kind {
	case KindValidation, KindCompilation, KindToolExecution, KindSchemaValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// NotFound creates a not_found error for an entity
func NotFound(entity string, id interface{}) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found: %v", entity, id),
	}
}

// Validation creates a validation_error with a formatted message
func Validation(format string, args ...interface{}) *Error {
	return Newf(KindValidation, format, args...)
}

// As extracts an *Error from err's chain, if any
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// From coerces any error into an *Error, defaulting to internal_error
func From(err error) *Error {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return &Error{Kind: KindInternal, Message: err.Error(), cause: err}
}

// MessageOf returns the human-readable message of err without the kind
// prefix Error() adds. Non-application errors render as-is.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return err.Error()
	}
	if appErr.cause != nil {
		return fmt.Sprintf("%s: %v", appErr.Message, appErr.cause)
	}
	return appErr.Message
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	if appErr, ok := As(err); ok {
		return appErr.Kind == kind
	}
	return false
}
