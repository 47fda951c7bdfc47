package client

import (
	"errors"
	"fmt"
	"time"
)

// Standard errors returned by the client. Callers match them with
// errors.Is.
var (
	// ErrUnknownIdentifier is returned when the upstream reports the
	// requested symbol or resource does not exist. Never retried.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrRateLimited is returned once throttle retries are exhausted. The
	// concrete error is a *RateLimitError carrying a suggested wait.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrAuthenticationFailed is returned when the upstream keeps rejecting
	// credentials after the session has been refreshed the allowed number
	// of times.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUpstreamServer is returned when the upstream keeps responding with
	// server errors after retries.
	ErrUpstreamServer = errors.New("upstream server error")

	// ErrTransport is returned when the request could not complete at the
	// network level after retries.
	ErrTransport = errors.New("transport error")
)

// RateLimitError is the terminal throttling failure. It unwraps to
// ErrRateLimited and carries how long the caller should wait before
// trying again.
type RateLimitError struct {
	// RetryAfter is the suggested wait before the next attempt.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by upstream, retry after %s", e.RetryAfter)
}

// Unwrap makes errors.Is(err, ErrRateLimited) work.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RequestError wraps a failure with the endpoint and last observed HTTP
// status for context. It unwraps to the underlying standard error.
type RequestError struct {
	// Endpoint is the request path that failed.
	Endpoint string

	// Status is the last HTTP status observed, or zero when the request
	// never produced a response.
	Status int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request %s failed with status %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("request %s failed: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As matching.
func (e *RequestError) Unwrap() error {
	return e.Err
}
