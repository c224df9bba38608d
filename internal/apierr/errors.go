// Package apierr defines the runtime's error taxonomy and the mapping from
// those errors to HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code categorizes a failure for propagation and status mapping.
type Code string

const (
	// NotFound indicates a session, tool, or service does not exist.
	NotFound Code = "not_found"

	// AlreadyExists indicates a duplicate creation attempt.
	AlreadyExists Code = "already_exists"

	// Busy indicates a concurrent turn is already running on the session.
	Busy Code = "busy"

	// InvalidInput indicates a missing or malformed request field.
	InvalidInput Code = "invalid_input"

	// ServerUnavailable indicates a tool server is dead or reconnecting.
	ServerUnavailable Code = "server_unavailable"

	// ProviderError indicates the model provider returned an error or the
	// connection to it failed.
	ProviderError Code = "provider_error"

	// Cancelled indicates cooperative cancellation of an in-flight operation.
	Cancelled Code = "cancelled"

	// Internal indicates an invariant violation; treat as a bug.
	Internal Code = "internal"
)

// Error is a taxonomy-tagged error returned by session and engine operations.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error with the given code, message, and underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the taxonomy code from err, defaulting to Internal for
// errors that were never classified.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return Internal
}

// StatusCode maps a taxonomy code to its HTTP status.
func StatusCode(code Code) int {
	switch code {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case Busy:
		return http.StatusConflict
	case InvalidInput:
		return http.StatusBadRequest
	case ServerUnavailable:
		return http.StatusServiceUnavailable
	case ProviderError:
		return http.StatusBadGateway
	case Cancelled:
		return 499 // client closed request, matches common proxy convention
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus maps err directly to an HTTP status code.
func HTTPStatus(err error) int {
	return StatusCode(CodeOf(err))
}
