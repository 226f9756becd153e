// Package apperr provides standardized domain error types for the application.
// Domain services return these typed errors, and the HTTP layer maps them to
// status codes and operator-facing messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindNotFound indicates a resource was not found.
	KindNotFound
	// KindValidation indicates malformed request input (bad JSON, bad ids).
	KindValidation
	// KindUnauthorized indicates authentication is required or failed.
	KindUnauthorized
	// KindForbidden indicates the action is not allowed for the caller.
	KindForbidden
	// KindInternal indicates an unexpected internal error.
	KindInternal
	// KindInvalidState indicates an operation attempted from a state that forbids it.
	KindInvalidState
	// KindInvalidPayload indicates a missing or out-of-range outcome payload.
	KindInvalidPayload
	// KindAlreadyEnrolled indicates the lead already has an active nurturing enrollment.
	KindAlreadyEnrolled
	// KindProviderFault indicates a telephony or transport failure.
	KindProviderFault
	// KindDependencyFailure indicates a collaborator (calendar, scoring, audit) failed.
	KindDependencyFailure
)

// String returns the stable machine name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindInternal:
		return "internal"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindAlreadyEnrolled:
		return "already_enrolled"
	case KindProviderFault:
		return "provider_fault"
	case KindDependencyFailure:
		return "dependency_failure"
	default:
		return "unknown"
	}
}

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Op      string // Operation that failed (optional)
	Err     error  // Underlying error (optional)
	Details any    // Additional details for response (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so sentinel
// values like ErrAlreadyEnrolled match any error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidState, KindAlreadyEnrolled:
		return http.StatusConflict
	case KindInvalidPayload:
		return http.StatusUnprocessableEntity
	case KindProviderFault:
		return http.StatusBadGateway
	case KindDependencyFailure:
		return http.StatusServiceUnavailable
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp sets the operation name and returns the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails sets additional details and returns the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// Internal creates an internal server error.
func Internal(message string) *Error {
	return New(KindInternal, message)
}

// InvalidState creates an error for an operation attempted from a forbidding state.
func InvalidState(message string) *Error {
	return New(KindInvalidState, message)
}

// InvalidPayload creates an error for a missing or out-of-range payload.
func InvalidPayload(message string) *Error {
	return New(KindInvalidPayload, message)
}

// AlreadyEnrolled creates a nurturing invariant violation error.
func AlreadyEnrolled(message string) *Error {
	return New(KindAlreadyEnrolled, message)
}

// ProviderFault wraps a telephony/transport failure.
func ProviderFault(message string, err error) *Error {
	return Wrap(KindProviderFault, message, err)
}

// DependencyFailure wraps a collaborator failure.
func DependencyFailure(message string, err error) *Error {
	return Wrap(KindDependencyFailure, message, err)
}

// GetKind extracts the error kind from an error chain.
// Returns KindUnknown if no *Error is found.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if err carries an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
