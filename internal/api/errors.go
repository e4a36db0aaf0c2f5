package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/scanwell/taskledger/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes
// without leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrActivityNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrNotPending),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Transient persistence trouble; the client should retry.
	case errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized message for the error.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrActivityNotFound), errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, store.ErrNotPending):
		return "Task is no longer pending"
	case errors.Is(err, store.ErrDuplicate):
		return "Already exists"
	case errors.Is(err, store.ErrConflict):
		return "Temporarily unavailable, retry the request"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError reduces a validator error to a message safe
// to show the client.
func SanitizeValidationError(err error) string {
	msg := err.Error()
	if !strings.Contains(msg, "Field validation") {
		return "Validation error"
	}
	// "Key: 'SubmitTaskRequest.Type' Error:Field validation for 'Type'
	// failed on the 'required' tag"
	parts := strings.Split(msg, "'")
	if len(parts) >= 4 {
		return "Invalid " + parts[3]
	}
	return "Validation error"
}
