package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Status is the classified outcome of a delivery operation.
// Code decides the response status, Message is safe to show to clients.
type Status struct {
	Code    StatusCode
	Message string
}

type StatusCode int32

const (
	// The operation completed successfully.
	Status_OK StatusCode = iota
	// A required parameter is missing or malformed.
	Status_VALIDATION
	// The capability token is absent, malformed, mismatched or expired.
	// The message never reveals which check failed.
	Status_AUTH
	// The canonical path is valid but no file exists there.
	Status_NOT_FOUND
	// The requested path escapes the storage root.
	Status_INVALID_PATH
	// The requested byte range cannot be served.
	Status_RANGE_NOT_SATISFIABLE
	// The transform backend rejected the input or the result could not be written.
	// The cache is left unmodified.
	Status_TRANSFORM
	// Internal errors. This means that some invariants expected by the underlying system have been broken.
	// Details are logged, never shown to clients.
	Status_INTERNAL
)

func (c StatusCode) String() string {
	switch c {
	case Status_OK:
		return "ok"
	case Status_VALIDATION:
		return "validation"
	case Status_AUTH:
		return "auth"
	case Status_NOT_FOUND:
		return "not_found"
	case Status_INVALID_PATH:
		return "invalid_path"
	case Status_RANGE_NOT_SATISFIABLE:
		return "range_not_satisfiable"
	case Status_TRANSFORM:
		return "transform"
	}
	return "internal"
}

// HTTPStatus maps a code to the response status of the HTTP surface.
func (c StatusCode) HTTPStatus() int {
	switch c {
	case Status_OK:
		return http.StatusOK
	case Status_VALIDATION, Status_INVALID_PATH:
		return http.StatusBadRequest
	case Status_AUTH:
		return http.StatusForbidden
	case Status_NOT_FOUND:
		return http.StatusNotFound
	case Status_RANGE_NOT_SATISFIABLE:
		return http.StatusRequestedRangeNotSatisfiable
	}
	return http.StatusInternalServerError
}

// Error carries a Status through the regular error chain.
// Err is the underlying cause, kept for logging.
type Error struct {
	Status
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code StatusCode, message string, cause error) *Error {
	return &Error{Status: Status{Code: code, Message: message}, Err: cause}
}

func Validation(message string) error {
	return newError(Status_VALIDATION, message, nil)
}

// Auth returns the single, generic authorization failure.
func Auth() error {
	return newError(Status_AUTH, authMessage, nil)
}

func NotFound(message string) error {
	return newError(Status_NOT_FOUND, message, nil)
}

func InvalidPath(message string) error {
	return newError(Status_INVALID_PATH, message, nil)
}

func RangeNotSatisfiable(message string) error {
	return newError(Status_RANGE_NOT_SATISFIABLE, message, nil)
}

func Transform(cause error) error {
	return newError(Status_TRANSFORM, transformMessage, cause)
}

func Internal(cause error) error {
	return newError(Status_INTERNAL, internalMessage, cause)
}

// FromError classifies any error.
// Errors that were never classified are internal failures with a generic message.
func FromError(err error) Status {
	if err == nil {
		return Status{Code: Status_OK}
	}
	var statusErr *Error
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return Status{Code: Status_INTERNAL, Message: internalMessage}
}

// CodeOf is a shorthand for FromError(err).Code.
func CodeOf(err error) StatusCode {
	return FromError(err).Code
}

const (
	authMessage      = "invalid or expired token"
	transformMessage = "transform failed"
	internalMessage  = "internal server error"
)
