// Package yfinance provides a resilient client core for Yahoo Finance's
// undocumented market data API.
//
// Yahoo Finance offers no stable API contract: endpoints require session
// cookies and a rotating "crumb" token, rate limits are undisclosed, price
// history occasionally arrives with scale errors or stale zeros, and live
// prices are pushed over a persistent socket in a binary framed encoding.
// This library packages everything needed to make requests against that
// surface reliable and the data it returns correct.
//
// Core Features:
//
//   - Session lifecycle management (cookie jar + crumb) with single-flight
//     authentication and graceful degradation when no crumb can be obtained
//   - A request executor with endpoint-aware retry, rate-limit backoff,
//     credential refresh, and an in-memory TTL response cache
//   - A bounded-concurrency batch orchestrator with per-symbol failure
//     isolation
//   - Post-hoc numerical repair of OHLC series (zero fill, 100x scale
//     errors, outliers, bad split adjustments)
//   - Calendar-correct exchange-local time conversion across DST transitions
//   - A forward-compatible decoder for the live pricing stream
//
// # Standard Errors
//
// The client package defines standardized errors so callers can branch on
// failure kinds rather than raw transport errors:
//
//   - client.ErrUnknownIdentifier: the upstream returned 404 for a symbol;
//     never retried
//
//   - client.ErrRateLimited: the rate-limit retry budget was exhausted; the
//     wrapping RateLimitError carries a suggested retry-after duration
//
//   - client.ErrAuthenticationFailed: credential refresh exhausted its
//     retry budget
//
//   - client.ErrUpstreamServer: 5xx responses exhausted the retry budget
//
//   - client.ErrTransport: network-level failures exhausted the retry budget
//
//   - stream.ErrMalformedFrame: a pricing frame could not be decoded; the
//     frame is dropped, the connection survives
//
// # Examples
//
// Fetching raw chart data:
//
//	sessions := session.NewManager(session.DefaultConfig())
//	c := client.New(sessions, client.DefaultConfig())
//
//	body, err := c.Fetch(ctx, client.ChartPath("AAPL"), client.ChartParams("1d", "1mo"))
//	if err != nil {
//	    switch {
//	    case errors.Is(err, client.ErrUnknownIdentifier):
//	        log.Fatalf("no such symbol")
//	    case errors.Is(err, client.ErrRateLimited):
//	        log.Fatalf("throttled by upstream")
//	    default:
//	        log.Fatalf("fetch failed: %v", err)
//	    }
//	}
//
// Fanning a fetch out over many symbols:
//
//	results := batch.Run(ctx, symbols, func(ctx context.Context, symbol string) ([]byte, error) {
//	    return c.Fetch(ctx, client.ChartPath(symbol), client.ChartParams("1d", "1y"))
//	}, batch.Options{MaxConcurrency: 8})
//	// symbols that failed are simply absent from results
//
// Streaming live prices:
//
//	feed := stream.NewFeed(stream.DefaultConfig())
//	err := feed.Connect(ctx, func(ev *stream.PriceEvent) {
//	    if ev.Price != nil {
//	        fmt.Printf("%s %.2f\n", ev.ID, *ev.Price)
//	    }
//	})
//	if err != nil {
//	    log.Fatalf("connect failed: %v", err)
//	}
//	defer feed.Close()
//
//	feed.Subscribe("AAPL", "MSFT")
//
// Repairing history the provider mangled:
//
//	fixed := repair.Repair(series, repair.DefaultOptions())
//	ts := timezone.FixAmbiguousOrSkipped(fixed.Timestamps, "America/New_York")
package yfinance
