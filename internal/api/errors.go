// Package api provides an authenticated HTTP client for the ETF Portfolio
// Advisor backend. It owns the credential pair (access + refresh token),
// transparently renews expired sessions, retries transient failures with
// exponential backoff, and exposes typed wrappers for the optimization,
// agent, and admin endpoints.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classifying backend responses.
// Use errors.Is(err, api.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrValidation   = errors.New("api: validation rejected")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")

	// ErrBadCredentials is a declined login, not a transport failure.
	// Callers recover by re-prompting rather than retrying.
	ErrBadCredentials = errors.New("api: incorrect username or password")

	// ErrNotLoggedIn indicates no credential pair is available.
	ErrNotLoggedIn = errors.New("api: not logged in")

	// ErrSessionLost indicates a 401 whose silent renewal also failed.
	// The credential pair has been cleared; re-authentication is required.
	ErrSessionLost = errors.New("api: session lost")
)

// APIError wraps a sentinel error with the HTTP status code, the request
// correlation ID, and the backend's detail message for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Detail     string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request %s): %s", e.StatusCode, e.RequestID, e.Detail)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried
// at the transport layer. 401 is deliberately absent — expiry recovery is
// the renewal protocol's job, one layer up.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
