// Package domain holds the error taxonomy shared by the services and the
// HTTP layer.
package domain

import (
	"errors"
	"net/http"
)

// HTTPError is an error that knows which status code it maps to.
type HTTPError interface {
	error
	StatusCode() int
}

type (
	// ValidationError indicates a missing or malformed input field.
	ValidationError struct {
		Message string
	}

	// NotFoundError indicates an unknown workspace, folder or file.
	NotFoundError struct {
		Message string
	}

	// AuthError indicates a workspace password mismatch.
	AuthError struct {
		Message string
	}

	// ConflictError indicates a duplicate workspace name or a folder that
	// cannot be deleted in its current state.
	ConflictError struct {
		Message string
	}

	// RateLimitError indicates too many attempts from one client.
	RateLimitError struct {
		Message string
	}
)

func (e *ValidationError) Error() string { return e.Message }
func (e *NotFoundError) Error() string   { return e.Message }
func (e *AuthError) Error() string       { return e.Message }
func (e *ConflictError) Error() string   { return e.Message }
func (e *RateLimitError) Error() string  { return e.Message }

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *AuthError) StatusCode() int       { return http.StatusUnauthorized }

// StatusCode is 400, not 409: existing clients expect a plain bad request
// for a taken workspace name.
func (e *ConflictError) StatusCode() int  { return http.StatusBadRequest }
func (e *RateLimitError) StatusCode() int { return http.StatusTooManyRequests }

// InternalError wraps a storage or dependency failure. Message is what the
// caller sees; Err is only logged.
type InternalError struct {
	Message string
	Err     error
}

// Internal wraps err with a caller-facing message.
func Internal(message string, err error) *InternalError {
	return &InternalError{Message: message, Err: err}
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error   { return e.Err }
func (e *InternalError) StatusCode() int { return http.StatusInternalServerError }

// StatusOf returns the HTTP status for err and the message safe to show the
// caller. Unclassified errors become a generic 500.
func StatusOf(err error) (int, string) {
	var internal *InternalError
	if errors.As(err, &internal) {
		return internal.StatusCode(), internal.Message
	}
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode(), httpErr.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}
