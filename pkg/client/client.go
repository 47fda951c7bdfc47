// Package client implements the resilient request executor: every fetch
// runs through a proactive rate limiter, the TTL response cache, and a
// retry state machine that classifies failures into not-found, throttle,
// auth, server, and transport categories with independent retry budgets.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CalvinPangch/yfinance-sub000/pkg/cache"
	"github.com/CalvinPangch/yfinance-sub000/pkg/logging"
	"github.com/CalvinPangch/yfinance-sub000/pkg/ratelimit"
	"github.com/CalvinPangch/yfinance-sub000/pkg/session"
)

// crumb rejections arrive as 200s with an error body on some endpoints
const invalidCrumbMarker = "invalid crumb"

// Client executes requests against the upstream provider with caching,
// rate limiting, and failure-class-specific retries.
type Client interface {
	// Fetch performs a GET against endpoint with the given query
	// parameters. Successful bodies are cached; a later identical call
	// within the TTL is served locally. Returns errors matchable against
	// the package sentinels.
	Fetch(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)

	// Submit performs a non-idempotent POST. Exactly one attempt, never
	// cached, never retried.
	Submit(ctx context.Context, endpoint string, params map[string]string, body []byte) ([]byte, error)

	// InvalidateCache drops all cached responses.
	InvalidateCache()
}

// Config holds the executor configuration.
type Config struct {
	// BaseURL is the host relative endpoints resolve against.
	BaseURL string

	// UserAgent is sent on every request.
	UserAgent string

	// Timeout bounds a single HTTP send, not the whole retry sequence.
	Timeout time.Duration

	// AuthRetries is how many session refreshes are attempted before an
	// auth failure becomes terminal.
	AuthRetries int

	// ServerRetries is how many retries server errors and transport
	// failures get before becoming terminal.
	ServerRetries int

	// BackoffBase is the first retry delay for server and transport
	// failures; it doubles on each retry.
	BackoffBase time.Duration

	// CacheTTL is how long successful bodies are served from cache.
	CacheTTL time.Duration

	// RateLimit paces outgoing sends. Zero disables proactive limiting.
	RateLimit ratelimit.Rate

	// Policy classifies and backs off throttled responses. Nil uses
	// ratelimit.DefaultPolicy.
	Policy *ratelimit.Policy

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger is optional; defaults to logging.NewLogger().
	Logger logging.Logger
}

// DefaultConfig returns the configuration used against Yahoo Finance.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       BaseURL,
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Timeout:       30 * time.Second,
		AuthRetries:   3,
		ServerRetries: 3,
		BackoffBase:   time.Second,
		CacheTTL:      cache.DefaultTTL,
		RateLimit:     ratelimit.Rate{Limit: 60, Interval: time.Minute},
		Policy:        ratelimit.DefaultPolicy(),
		Logger:        logging.NewLogger(),
	}
}

type client struct {
	config     *Config
	sessions   *session.Manager
	cache      *cache.Cache
	limiter    ratelimit.RateLimiter
	policy     *ratelimit.Policy
	httpClient *http.Client
	logger     logging.Logger
}

// New creates a request executor bound to the given session manager.
func New(sessions *session.Manager, config *Config) Client {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	policy := config.Policy
	if policy == nil {
		policy = ratelimit.DefaultPolicy()
	}
	var limiter ratelimit.RateLimiter
	if config.RateLimit.Limit > 0 && config.RateLimit.Interval > 0 {
		limiter = ratelimit.NewTokenBucketLimiter(config.RateLimit)
	}
	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout}
	}
	return &client{
		config:     config,
		sessions:   sessions,
		cache:      cache.New(config.CacheTTL),
		limiter:    limiter,
		policy:     policy,
		httpClient: hc,
		logger:     logger,
	}
}

// Fetch implements the Client interface.
func (c *client) Fetch(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	key := cache.Key(endpoint, params)
	if body, ok := c.cache.Get(key); ok {
		c.logger.Debug("cache hit", logging.String("endpoint", endpoint))
		return body, nil
	}

	body, err := c.execute(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, body)
	return body, nil
}

// Submit implements the Client interface. Non-idempotent sends get
// exactly one attempt; a duplicate POST is worse than a failed one.
func (c *client) Submit(ctx context.Context, endpoint string, params map[string]string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	creds, err := c.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	status, respBody, err := c.send(ctx, http.MethodPost, endpoint, params, body, creds, requestID)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}

	switch {
	case status == http.StatusNotFound:
		return nil, &RequestError{Endpoint: endpoint, Status: status, Err: ErrUnknownIdentifier}
	case c.policy.IsThrottled(status, respBody):
		return nil, &RequestError{Endpoint: endpoint, Status: status,
			Err: &RateLimitError{RetryAfter: c.policy.RetryAfter}}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &RequestError{Endpoint: endpoint, Status: status, Err: ErrAuthenticationFailed}
	case status >= 500:
		return nil, &RequestError{Endpoint: endpoint, Status: status, Err: ErrUpstreamServer}
	case status < 200 || status >= 300:
		return nil, &RequestError{Endpoint: endpoint, Status: status,
			Err: fmt.Errorf("unexpected status %d", status)}
	}
	return respBody, nil
}

// InvalidateCache implements the Client interface.
func (c *client) InvalidateCache() {
	c.cache.Clear()
}

// execute drives the retry state machine for idempotent requests. Each
// failure class keeps its own attempt counter so a throttle streak does
// not eat the auth budget and vice versa.
func (c *client) execute(ctx context.Context, method, endpoint string, params map[string]string, payload []byte) ([]byte, error) {
	requestID := uuid.NewString()
	log := c.logger.WithFields(
		logging.String("request_id", requestID),
		logging.String("endpoint", endpoint),
	)

	creds, err := c.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var throttleAttempts, authAttempts, serverAttempts int

	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		status, body, sendErr := c.send(ctx, method, endpoint, params, payload, creds, requestID)

		switch {
		case sendErr != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if serverAttempts >= c.config.ServerRetries {
				return nil, &RequestError{Endpoint: endpoint,
					Err: fmt.Errorf("%w: %v", ErrTransport, sendErr)}
			}
			delay := c.config.BackoffBase << uint(serverAttempts)
			serverAttempts++
			log.Warn("transport failure, retrying",
				logging.Error(sendErr),
				logging.Int("attempt", serverAttempts),
				logging.Duration("delay", delay))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}

		case status == http.StatusNotFound:
			return nil, &RequestError{Endpoint: endpoint, Status: status, Err: ErrUnknownIdentifier}

		case c.policy.IsThrottled(status, body):
			if throttleAttempts >= c.policy.MaxAttempts {
				return nil, &RequestError{Endpoint: endpoint, Status: status,
					Err: &RateLimitError{RetryAfter: c.policy.RetryAfter}}
			}
			delay := c.policy.Delay(throttleAttempts)
			throttleAttempts++
			log.Warn("throttled by upstream, backing off",
				logging.Int("attempt", throttleAttempts),
				logging.Duration("delay", delay))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}

		case isAuthRejection(status, body):
			if authAttempts >= c.config.AuthRetries {
				return nil, &RequestError{Endpoint: endpoint, Status: status, Err: ErrAuthenticationFailed}
			}
			authAttempts++
			log.Info("credentials rejected, refreshing session",
				logging.Int("attempt", authAttempts))
			creds, err = c.sessions.Refresh(ctx)
			if err != nil {
				return nil, err
			}

		case status >= 200 && status < 300:
			return body, nil

		case status >= 500:
			if serverAttempts >= c.config.ServerRetries {
				return nil, &RequestError{Endpoint: endpoint, Status: status, Err: ErrUpstreamServer}
			}
			delay := c.config.BackoffBase << uint(serverAttempts)
			serverAttempts++
			log.Warn("server error, retrying",
				logging.Int("status", status),
				logging.Int("attempt", serverAttempts),
				logging.Duration("delay", delay))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}

		default:
			return nil, &RequestError{Endpoint: endpoint, Status: status,
				Err: fmt.Errorf("unexpected status %d", status)}
		}
	}
}

// isAuthRejection covers both the honest 401/403 and the endpoints that
// report crumb rejection inside a 200 body. The body marker is only
// trusted on 2xx/4xx responses; a 5xx mentioning the crumb is still a
// server error and belongs to the server retry budget.
func isAuthRejection(status int, body []byte) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	if status >= 500 {
		return false
	}
	return bytes.Contains(bytes.ToLower(body), []byte(invalidCrumbMarker))
}

// send performs one HTTP exchange with the given credentials. Status and
// body are returned for classification; only network-level failures
// surface as errors.
func (c *client) send(ctx context.Context, method, endpoint string, params map[string]string, payload []byte, creds *session.Credentials, requestID string) (int, []byte, error) {
	u, err := c.buildURL(endpoint, params, creds.Crumb)
	if err != nil {
		return 0, nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The jar belongs to the credential set, not the shared transport, so
	// a refresh mid-flight cannot leak stale cookies into this send.
	hc := *c.httpClient
	hc.Jar = creds.Jar

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// buildURL resolves the endpoint against the base URL and appends the
// query parameters plus the crumb when one is held.
func (c *client) buildURL(endpoint string, params map[string]string, crumb string) (string, error) {
	base := c.config.BaseURL
	var raw string
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		raw = endpoint
	} else {
		raw = strings.TrimSuffix(base, "/") + endpoint
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	if crumb != "" {
		q.Set("crumb", crumb)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
