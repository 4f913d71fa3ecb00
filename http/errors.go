package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RateLimitError indicates the server throttled the request (429 or 503).
type RateLimitError struct {
	// StatusCode is the HTTP status code (429 or 503)
	StatusCode int
	// RetryAfter is the server-suggested wait, zero when absent
	RetryAfter time.Duration
	// Message is the API error message, if any
	Message string
}

// Error returns a string representation of the rate limit error.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// HTTPError indicates a non-2xx HTTP response.
type HTTPError struct {
	// StatusCode is the HTTP status code
	StatusCode int
	// Message is the API error message, if the body carried one
	Message string
	// Body is the response body
	Body []byte
}

// Error returns a string representation of the HTTP error.
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}

// ErrRequestFailed indicates the request itself failed (network error).
var ErrRequestFailed = errors.New("http request failed")

// ErrReadTimeout indicates a streamed body delivered no data for longer
// than the client's ReadTimeout.
var ErrReadTimeout = errors.New("http read timeout")

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.StatusCode
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// IsTransient reports whether err is a throttling or authorization-class
// response that is expected to clear on its own: 401 (token refresh), 403
// (quota/permission hiccup), 429 and 503.
func IsTransient(err error) bool {
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}
