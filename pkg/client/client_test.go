package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CalvinPangch/yfinance-sub000/pkg/logging"
	"github.com/CalvinPangch/yfinance-sub000/pkg/ratelimit"
	"github.com/CalvinPangch/yfinance-sub000/pkg/session"
)

// newTestSessions points the session manager at a stub server so no
// request leaves the test process.
func newTestSessions(t *testing.T, crumb string) *session.Manager {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(crumb))
	}))
	t.Cleanup(srv.Close)
	return session.NewManager(&session.Config{
		ConsentURL:        srv.URL,
		CrumbURL:          srv.URL,
		LandingURL:        srv.URL,
		ConsentSubmitURL:  srv.URL,
		ConsentConfirmURL: srv.URL,
		UserAgent:         "test-agent",
		Timeout:           2 * time.Second,
		Logger:            logging.NewLogger(),
	})
}

func newTestClient(t *testing.T, baseURL string, sessions *session.Manager) Client {
	t.Helper()
	return New(sessions, &Config{
		BaseURL:       baseURL,
		UserAgent:     "test-agent",
		Timeout:       2 * time.Second,
		AuthRetries:   3,
		ServerRetries: 3,
		BackoffBase:   time.Millisecond,
		CacheTTL:      time.Minute,
		Policy: &ratelimit.Policy{
			BaseDelay:   time.Millisecond,
			MaxAttempts: 5,
			RetryAfter:  60 * time.Second,
		},
		Logger: logging.NewLogger(),
	})
}

func TestFetchSuccessAndCacheHit(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"chart":{}}`))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	params := map[string]string{"interval": "1d", "range": "1mo"}
	body, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", params)
	require.NoError(t, err)
	assert.Equal(t, `{"chart":{}}`, string(body))

	// Same parameters in a different insertion order still hit the cache.
	body, err = c.Fetch(context.Background(), "/v8/finance/chart/AAPL",
		map[string]string{"range": "1mo", "interval": "1d"})
	require.NoError(t, err)
	assert.Equal(t, `{"chart":{}}`, string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchSendsCrumb(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crumb-token", r.URL.Query().Get("crumb"))
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb-token"))

	_, err := c.Fetch(context.Background(), "/v1/finance/search", nil)
	require.NoError(t, err)
}

func TestFetchNotFoundIsImmediate(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/NOPE", nil)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "not-found must not be retried")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.Status)
	assert.Equal(t, "/v8/finance/chart/NOPE", reqErr.Endpoint)
}

func TestFetchServerErrorRetriesThenFails(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	assert.ErrorIs(t, err, ErrUpstreamServer)
	// Initial send plus three retries.
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestFetchServerErrorThenRecovers(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	body, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchThrottledExhaustsBudget(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 60*time.Second, rlErr.RetryAfter)
	// Initial send plus five throttle retries.
	assert.Equal(t, int32(6), atomic.LoadInt32(&hits))
}

func TestFetchThrottleDetectedInBody(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			// Throttling reported inside a 200 body.
			w.Write([]byte(`{"error":"Too Many Requests"}`))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	body, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchAuthRejectionTriggersRefresh(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	body, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestFetchInvalidCrumbBodyTriggersRefresh(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			// Crumb rejection hidden inside a 200 response.
			w.Write([]byte(`{"finance":{"error":{"description":"Invalid Crumb"}}}`))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	body, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchServerErrorBodyMentioningCrumbStaysServerError(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"invalid crumb state during restart"}`))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	// A 5xx belongs to the server budget even when the body mentions the
	// crumb; it must not burn auth refreshes.
	assert.ErrorIs(t, err, ErrUpstreamServer)
	assert.NotErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestFetchAuthExhaustsRefreshBudget(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	// Initial send plus three post-refresh sends.
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestFetchUnexpectedStatusIsImmediate(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstreamServer)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	sessions := newTestSessions(t, "crumb")
	c := New(sessions, &Config{
		BaseURL:       upstream.URL,
		UserAgent:     "test-agent",
		Timeout:       2 * time.Second,
		AuthRetries:   3,
		ServerRetries: 3,
		BackoffBase:   5 * time.Second,
		CacheTTL:      time.Minute,
		Policy:        ratelimit.DefaultPolicy(),
		Logger:        logging.NewLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, "/v8/finance/chart/AAPL", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFailedFetchNotCached(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.Error(t, err)

	body, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestSubmitSingleAttemptNoCache(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Submit(context.Background(), "/submit", nil, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUpstreamServer)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "non-idempotent sends are never retried")

	_, err = c.Submit(context.Background(), "/submit", nil, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "submit results are never cached")
}

func TestInvalidateCache(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, newTestSessions(t, "crumb"))

	_, err := c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.NoError(t, err)

	c.InvalidateCache()

	_, err = c.Fetch(context.Background(), "/v8/finance/chart/AAPL", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestChartParams(t *testing.T) {
	params := ChartParams("1d", "1mo")
	assert.Equal(t, "1d", params["interval"])
	assert.Equal(t, "1mo", params["range"])
	assert.Equal(t, "div,split", params["events"])
	assert.Equal(t, "/v8/finance/chart/AAPL", ChartPath("AAPL"))
	assert.Equal(t, "/v10/finance/quoteSummary/AAPL", QuoteSummaryPath("AAPL"))
}
