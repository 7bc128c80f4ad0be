// Package globus provides HTTP clients for the Globus Auth and Globus
// Transfer services: native-app OAuth2 login with credential bundle
// persistence, and transfer task submission/polling with automatic retry
// and error classification.
package globus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotLoggedIn indicates no usable credential bundle exists on disk.
var ErrNotLoggedIn = errors.New("globus: not logged in (run login first)")

// ErrNoTransferToken indicates the bundle has no record for the transfer
// resource server. Re-login with the transfer scope is required.
var ErrNoTransferToken = errors.New("globus: credential bundle has no transfer.api.globus.org record")

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, globus.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("globus: bad request")
	ErrUnauthorized = errors.New("globus: unauthorized")
	ErrForbidden    = errors.New("globus: forbidden")
	ErrNotFound     = errors.New("globus: not found")
	ErrConflict     = errors.New("globus: conflict")
	ErrThrottled    = errors.New("globus: throttled")
	ErrServerError  = errors.New("globus: server error")
)

// APIError wraps a sentinel error with the HTTP status plus the code,
// request ID, and message fields the Transfer API returns in error bodies.
type APIError struct {
	StatusCode int
	Code       string
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("globus: HTTP %d %s (request id: %s): %s", e.StatusCode, e.Code, e.RequestID, e.Message)
	}

	return fmt.Sprintf("globus: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// apiErrorBody is the JSON error document the Transfer API returns.
type apiErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// newAPIError builds an APIError from a response body, falling back to the
// raw body text when it is not the standard error document.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{
		StatusCode: status,
		Message:    string(body),
		Err:        classifyStatus(status),
	}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Code != "" {
		e.Code = parsed.Code
		e.Message = parsed.Message
		e.RequestID = parsed.RequestID
	}

	return e
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
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
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
