// Package storage provides an HTTP client for a Supabase-style object
// storage API with per-call timeouts and error classification. The client
// performs no retries of its own; the upload orchestrator owns the retry
// budget.
package storage

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, storage.ErrNotFound) to check.
var (
	ErrInvalidInput  = errors.New("storage: invalid input")
	ErrUnauthorized  = errors.New("storage: unauthorized")
	ErrForbidden     = errors.New("storage: forbidden")
	ErrNotFound      = errors.New("storage: not found")
	ErrConflict      = errors.New("storage: conflict")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	ErrServerError   = errors.New("storage: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the API
// error message body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storage: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrInvalidInput
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
