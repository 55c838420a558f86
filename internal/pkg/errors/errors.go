// Package errors provides the service's typed error taxonomy.
//
// Every error surfaced by a service operation carries a Code so transports
// can map it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL"
)

// Error is an application error with a stable code.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a single detail to the error
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing entity.
func NotFound(resource, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).WithDetail("id", id)
}

// InvalidInput reports malformed or missing input on a named field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// Conflict reports an action attempted against an entity whose state
// disallows it.
func Conflict(message string) *Error {
	return New(ErrCodeConflict, message)
}

// Forbidden reports a principal that may not perform the action.
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// CodeOf returns the code of err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps err to a gRPC status code.
func GRPCCode(err error) codes.Code {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeInvalidInput:
		return codes.InvalidArgument
	case ErrCodeForbidden:
		return codes.PermissionDenied
	case ErrCodeUnauthorized:
		return codes.Unauthenticated
	case ErrCodeConflict:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
