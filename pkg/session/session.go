// Package session owns the credential lifecycle against Yahoo Finance,
// which has no formal auth contract: a cookie jar seeded from consent
// pages plus an optional rotating "crumb" token. Authentication is
// best-effort by design; a session without a crumb is still usable.
package session

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/CalvinPangch/yfinance-sub000/pkg/logging"
)

// Credentials is one live credential set: the cookie jar shared by all
// requests and the crumb token, when one could be obtained.
type Credentials struct {
	// Jar holds the session cookies, keyed by domain.
	Jar http.CookieJar

	// Crumb is the anti-automation token. Empty when the upstream refused
	// to hand one out; requests proceed without it.
	Crumb string

	// AuthenticatedAt records when this credential set was established.
	AuthenticatedAt time.Time
}

// Config holds the endpoints and knobs for the authentication sequence.
// All URLs are configurable so tests can point the manager at local
// servers.
type Config struct {
	// ConsentURL is fetched first to seed the cookie jar.
	ConsentURL string

	// CrumbURL is the dedicated crumb endpoint.
	CrumbURL string

	// LandingURL is a primary landing resource re-fetched to pick up
	// additional cookies when the first crumb attempt comes back empty.
	LandingURL string

	// ConsentSubmitURL receives the consent form POST in the CSRF fallback
	// flow.
	ConsentSubmitURL string

	// ConsentConfirmURL is fetched after the form submission to finalize
	// consent.
	ConsentConfirmURL string

	// UserAgent is sent on every bootstrap request; the upstream rejects
	// obviously non-browser agents.
	UserAgent string

	// Timeout bounds each bootstrap request.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests. The manager
	// installs its own cookie jar on a copy.
	HTTPClient *http.Client

	// Logger is optional; defaults to logging.NewLogger().
	Logger logging.Logger
}

// DefaultConfig returns the production Yahoo Finance endpoints.
func DefaultConfig() *Config {
	return &Config{
		ConsentURL:        "https://fc.yahoo.com",
		CrumbURL:          "https://query1.finance.yahoo.com/v1/test/getcrumb",
		LandingURL:        "https://query2.finance.yahoo.com",
		ConsentSubmitURL:  "https://consent.yahoo.com/v2/collectConsent",
		ConsentConfirmURL: "https://consent.yahoo.com/v2/consent",
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Timeout:           10 * time.Second,
		Logger:            logging.NewLogger(),
	}
}

// Manager owns exactly one live credential set at a time. Acquisition is
// single-flight: concurrent callers during an in-flight authentication
// block on the same attempt instead of racing N bootstrap flows.
type Manager struct {
	config *Config
	logger logging.Logger

	mu      sync.Mutex
	current *Credentials
}

// NewManager creates a session manager with the given configuration.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Manager{
		config: config,
		logger: logger,
	}
}

// Acquire returns the current credential set, authenticating lazily on
// first use. Authentication itself cannot fail; at worst it produces a
// crumb-less session. The only returned error is context cancellation.
func (m *Manager) Acquire(ctx context.Context) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the lock: another caller may have
	// finished authenticating while we waited.
	if m.current != nil {
		return m.current, nil
	}

	creds := m.authenticate(ctx)
	m.current = creds
	return creds, nil
}

// Refresh invalidates the live credential set and authenticates again.
// Used by the request executor when the upstream rejects the crumb or
// returns 401/403.
func (m *Manager) Refresh(ctx context.Context) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = m.authenticate(ctx)
	return m.current, nil
}

// Invalidate drops the live credential set without authenticating; the
// next Acquire will bootstrap a fresh one.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// authenticate runs the best-effort bootstrap sequence. Network failures
// at any step are swallowed and treated as "crumb absent"; the session is
// marked authenticated regardless.
func (m *Manager) authenticate(ctx context.Context) *Credentials {
	jar, _ := cookiejar.New(nil)
	hc := m.httpClient(jar)

	// Seed the jar from the consent host.
	m.discard(m.get(ctx, hc, m.config.ConsentURL))

	crumb := m.fetchCrumb(ctx, hc)

	// The consent host alone often isn't enough; the landing page sets the
	// cookies the crumb endpoint actually checks.
	if crumb == "" {
		m.discard(m.get(ctx, hc, m.config.LandingURL))
		crumb = m.fetchCrumb(ctx, hc)
	}

	// Last resort: walk the consent form like a browser would.
	if crumb == "" {
		m.submitConsentForm(ctx, hc)
		crumb = m.fetchCrumb(ctx, hc)
	}

	if crumb == "" {
		m.logger.Warn("authenticated without crumb; requests proceed unsigned")
	} else {
		m.logger.Debug("session authenticated", logging.Int("crumb_length", len(crumb)))
	}

	return &Credentials{
		Jar:             jar,
		Crumb:           crumb,
		AuthenticatedAt: time.Now(),
	}
}

// fetchCrumb asks the crumb endpoint using the current jar. Retried once
// on failure since the endpoint is flaky right after the jar is seeded.
func (m *Manager) fetchCrumb(ctx context.Context, hc *http.Client) string {
	var crumb string
	err := retry.Do(
		func() error {
			body, err := m.get(ctx, hc, m.config.CrumbURL)
			if err != nil {
				return err
			}
			crumb = sanitizeCrumb(body)
			return nil
		},
		retry.Attempts(2),
		retry.Delay(200*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		m.logger.Debug("crumb fetch failed", logging.Error(err))
		return ""
	}
	return crumb
}

// hidden-form inputs on the consent landing page
var inputValuePatterns = map[string]*regexp.Regexp{
	"csrfToken": regexp.MustCompile(`(?i)name="csrfToken"\s+value="([^"]+)"`),
	"sessionId": regexp.MustCompile(`(?i)name="sessionId"\s+value="([^"]+)"`),
}

// submitConsentForm runs the consent-form fallback: fetch the landing
// page HTML, pull the csrfToken and sessionId hidden inputs, POST the
// consent form, then fetch the confirmation URL. Every step is
// best-effort.
func (m *Manager) submitConsentForm(ctx context.Context, hc *http.Client) {
	html, err := m.get(ctx, hc, m.config.LandingURL)
	if err != nil {
		return
	}

	csrfToken := extractInputValue(html, "csrfToken")
	sessionID := extractInputValue(html, "sessionId")
	if csrfToken == "" || sessionID == "" {
		return
	}

	form := url.Values{
		"csrfToken":       {csrfToken},
		"sessionId":       {sessionID},
		"originalDoneUrl": {m.config.LandingURL},
		"namespace":       {"yahoo"},
		"agree":           {"agree"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.ConsentSubmitURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", m.config.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hc.Do(req)
	if err != nil {
		m.logger.Debug("consent form submission failed", logging.Error(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	confirmURL := m.config.ConsentConfirmURL + "?sessionId=" + url.QueryEscape(sessionID)
	m.discard(m.get(ctx, hc, confirmURL))
}

// get issues a GET with the bootstrap user agent and returns the body.
func (m *Manager) get(ctx context.Context, hc *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", m.config.UserAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{url: rawURL, status: resp.StatusCode}
	}
	return string(body), nil
}

// discard swallows a best-effort step's result, logging at debug only.
func (m *Manager) discard(_ string, err error) {
	if err != nil {
		m.logger.Debug("session bootstrap step failed", logging.Error(err))
	}
}

// httpClient builds the bootstrap client around the configured jar.
func (m *Manager) httpClient(jar http.CookieJar) *http.Client {
	if m.config.HTTPClient != nil {
		hc := *m.config.HTTPClient
		hc.Jar = jar
		return &hc
	}
	return &http.Client{
		Jar:     jar,
		Timeout: m.config.Timeout,
	}
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return "unexpected status " + http.StatusText(e.status) + " from " + e.url
}

// sanitizeCrumb rejects bodies that are clearly not a crumb (HTML error
// pages, empty strings).
func sanitizeCrumb(body string) string {
	crumb := strings.TrimSpace(body)
	if crumb == "" || strings.Contains(crumb, "<html") || len(crumb) > 64 {
		return ""
	}
	return crumb
}

func extractInputValue(html, name string) string {
	pattern, ok := inputValuePatterns[name]
	if !ok {
		return ""
	}
	match := pattern.FindStringSubmatch(html)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}
