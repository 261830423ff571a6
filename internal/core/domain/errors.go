package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested key or resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSyncInProgress indicates a replay pass is already running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrTokenExpired indicates the access token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the access token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrServiceUnavailable indicates the backend could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrOffline indicates the device reports no connectivity
	ErrOffline = errors.New("network offline")

	// ErrUnknownActionKind indicates a persisted action carries an unrecognised kind
	ErrUnknownActionKind = errors.New("unknown action kind")

	// ErrBlockedByPredecessor indicates an earlier action for the same entity failed in this pass
	ErrBlockedByPredecessor = errors.New("blocked by failed predecessor")

	// ErrActionExpired indicates an action exhausted its replay attempts
	ErrActionExpired = errors.New("action exceeded max attempts")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int               `json:"status_code"`
	Message    string            `json:"message"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 401 onto ErrUnauthorized so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// NetworkError is a failure where no response reached the client
// (DNS, refused connection, timeout).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsValidationError reports whether err is a 4xx rejection other than 401.
func IsValidationError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusUnauthorized
}

// IsAuthError reports whether err should pause the pipeline pending re-authentication.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalid)
}
