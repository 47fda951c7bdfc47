// Package ratelimit controls the pace of requests against the upstream
// provider. It combines two mechanisms:
//
//  1. A proactive token-bucket limiter (backed by Uber's rate limiter) that
//     spaces outgoing requests so the undisclosed upstream limits are less
//     likely to be hit in the first place.
//
//  2. A reactive backoff Policy that classifies throttled responses and
//     computes exponential retry delays once the upstream starts pushing
//     back anyway.
//
// The request executor in pkg/client consults both: the limiter before every
// send, the policy after every throttled response.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/ratelimit"
)

// Rate represents a rate limit configuration with a specified number of
// operations allowed within a given time interval.
type Rate struct {
	// Limit specifies the maximum number of operations allowed within the
	// interval.
	Limit int

	// Interval defines the time duration over which the limit applies.
	Interval time.Duration
}

// RateLimiter defines the interface for rate limiting functionality.
type RateLimiter interface {
	// Wait blocks until a token is available (i.e., an operation is
	// permitted) or the context is cancelled.
	Wait(ctx context.Context) error

	// SetLimit updates the rate limiting configuration. Returns an error if
	// the provided rate is invalid.
	SetLimit(limit Rate) error
}

// uberLimiter implements RateLimiter using Uber's token bucket limiter.
type uberLimiter struct {
	limiter ratelimit.Limiter
	rate    Rate
}

// NewTokenBucketLimiter creates a rate limiter allowing rate.Limit
// operations per rate.Interval, converted to operations per second as
// required by the underlying implementation. Fractional rates round up
// so a sub-1-rps configuration still admits at least one operation per
// second instead of producing a zero bucket.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	return &uberLimiter{
		limiter: ratelimit.New(perSecond(rate)),
		rate:    rate,
	}
}

func perSecond(rate Rate) int {
	rps := int(math.Ceil(float64(rate.Limit) / rate.Interval.Seconds()))
	if rps < 1 {
		rps = 1
	}
	return rps
}

// Wait implements the RateLimiter interface.
func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

// SetLimit implements the RateLimiter interface.
func (l *uberLimiter) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	l.limiter = ratelimit.New(perSecond(rate))
	l.rate = rate
	return nil
}
