package failover

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/opencopilot/copilot/internal/llm"
)

func statusOf(err error) int {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func IsRateLimitError(err error) bool {
	return statusOf(err) == http.StatusTooManyRequests
}

func IsAuthError(err error) bool {
	s := statusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsRetryable reports whether err is worth another attempt. Transport
// failures count; cancellation never does.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// shouldFallback reports whether a different model may succeed where
// this one did not.
func shouldFallback(err error) bool {
	return IsRetryable(err) || IsAuthError(err) || statusOf(err) == http.StatusNotFound
}

type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted, attempted: %v: %v", e.Attempted, e.Last)
}

func (e *AllExhaustedError) Unwrap() error { return e.Last }
