package llm

import (
	"fmt"
	"net/http"
)

// APIError is returned when a backend answers with a non-200 status.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func newAPIError(provider string, status int, body []byte) *APIError {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &APIError{Provider: provider, StatusCode: status, Message: msg}
}
