package api

import (
	"errors"
	"net/http"

	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/generation"
	"github.com/imgbatch/imgbatch/internal/scheduler"
	"github.com/imgbatch/imgbatch/internal/service/auth"
	"github.com/imgbatch/imgbatch/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, scheduler.ErrItemNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, scheduler.ErrTaskActive):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, generation.ErrUnknownFamily),
		errors.Is(err, domain.ErrEmptyTaskName),
		errors.Is(err, domain.ErrNoTaskItems),
		errors.Is(err, domain.ErrEmptyPrompt),
		errors.Is(err, domain.ErrEmptyModel),
		errors.Is(err, domain.ErrEmptyModelFamily),
		errors.Is(err, domain.ErrInvalidConcurrentLimit),
		errors.Is(err, domain.ErrNegativeRetryAttempts),
		errors.Is(err, domain.ErrNegativeRetryDelay),
		errors.Is(err, domain.ErrInvalidGenerateCount):
		return http.StatusBadRequest

	// Storage quota exhaustion is surfaced, never silently dropped
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusInsufficientStorage

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for the
// error type.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"

	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, scheduler.ErrItemNotFound):
		return "Task item not found"

	case errors.Is(err, scheduler.ErrTaskActive):
		return "Task is still running; stop or pause it first"

	case errors.Is(err, generation.ErrUnknownFamily):
		return "Unknown model family"

	case errors.Is(err, store.ErrQuotaExceeded):
		return "Storage quota exceeded; the task was not saved"

	case MapErrorToStatusCode(err) == http.StatusBadRequest:
		// Domain validation sentinels carry no sensitive detail.
		return err.Error()

	default:
		return "An unexpected error occurred"
	}
}
