package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// Throttling phrases the upstream embeds in otherwise unremarkable bodies.
// Matched case-insensitively because the provider is not consistent about
// casing across endpoints.
var throttleMarkers = []string{
	"too many requests",
	"rate limit",
}

// Policy classifies throttled responses and computes exponential backoff
// delays for them. The upstream publishes no limits, so the thresholds here
// are reactive: a response is treated as throttled when it says so, either
// by status code or by a known phrase in the body.
type Policy struct {
	// BaseDelay is the delay before the first retry; each subsequent retry
	// doubles it.
	BaseDelay time.Duration

	// MaxAttempts bounds throttle retries. Once exceeded the request fails
	// with a rate-limited error instead of retrying indefinitely.
	MaxAttempts int

	// RetryAfter is the suggested wait carried on the terminal rate-limited
	// error.
	RetryAfter time.Duration
}

// DefaultPolicy returns the policy used against Yahoo Finance: 1s base
// delay doubling up to 5 attempts (1s, 2s, 4s, 8s, 16s), then a terminal
// failure suggesting a 60s wait.
func DefaultPolicy() *Policy {
	return &Policy{
		BaseDelay:   time.Second,
		MaxAttempts: 5,
		RetryAfter:  60 * time.Second,
	}
}

// IsThrottled reports whether a response indicates upstream rate limiting.
func (p *Policy) IsThrottled(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if len(body) == 0 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, marker := range throttleMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Delay returns the backoff delay for the given zero-based retry attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}
