// Package ormerr defines the error taxonomy shared by every resource operation.
// Each public operation returns either a result or an *Error carrying one Kind.
package ormerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an operation failure.
type Kind int

const (
	// KindUnexpected signals a broken internal invariant.
	KindUnexpected Kind = iota
	KindInvalidConfiguration
	KindInvalidField
	KindMissingField
	KindInvalidRequest
	KindDoesNotExist
	KindAlreadyExists
)

var kindCodes = map[Kind]string{
	KindUnexpected:           "unexpected",
	KindInvalidConfiguration: "invalid_configuration",
	KindInvalidField:         "invalid_field",
	KindMissingField:         "missing_field",
	KindInvalidRequest:       "invalid_request",
	KindDoesNotExist:         "does_not_exist",
	KindAlreadyExists:        "already_exists",
}

// String returns the snake-case code for the kind.
func (k Kind) String() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return "unexpected"
}

// Error is the concrete error type returned by resource operations.
type Error struct {
	Kind    Kind
	Message string
	// Field names the offending field for field-level failures.
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the stable machine-readable code for the error.
func (e *Error) Code() string {
	return e.Kind.String()
}

// Extensions returns a response-safe description of the error.
// Wrapped driver errors are never included.
func (e *Error) Extensions() map[string]interface{} {
	extensions := map[string]interface{}{
		"code":    e.Code(),
		"message": e.Message,
	}
	if e.Field != "" {
		extensions["field"] = e.Field
	}
	return extensions
}

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindInvalidField, KindMissingField:
		return http.StatusUnprocessableEntity
	case KindDoesNotExist:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidConfiguration reports a schema definition that violates its own invariants.
func InvalidConfiguration(format string, args ...interface{}) *Error {
	return newError(KindInvalidConfiguration, format, args...)
}

// InvalidField reports a write field that is unknown or fails validation.
func InvalidField(field, format string, args ...interface{}) *Error {
	e := newError(KindInvalidField, format, args...)
	e.Field = field
	return e
}

// MissingField reports required write fields that were omitted.
func MissingField(field, format string, args ...interface{}) *Error {
	e := newError(KindMissingField, format, args...)
	e.Field = field
	return e
}

// InvalidRequest reports malformed or out-of-policy read parameters.
func InvalidRequest(format string, args ...interface{}) *Error {
	return newError(KindInvalidRequest, format, args...)
}

// DoesNotExist reports a missing primary key or related target.
func DoesNotExist(format string, args ...interface{}) *Error {
	return newError(KindDoesNotExist, format, args...)
}

// AlreadyExists reports a uniqueness violation.
func AlreadyExists(format string, args ...interface{}) *Error {
	return newError(KindAlreadyExists, format, args...)
}

// Unexpected reports a broken internal invariant.
func Unexpected(format string, args ...interface{}) *Error {
	return newError(KindUnexpected, format, args...)
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	e := newError(kind, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of err, or KindUnexpected when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Ensure returns err unchanged when it already carries a kind, otherwise wraps
// it as unexpected so callers never see an unlabelled failure.
func Ensure(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(KindUnexpected, err, format, args...)
}
