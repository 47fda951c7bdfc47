// Package batch fans a single-symbol operation out over many symbols
// with bounded concurrency and per-item failure isolation: one bad
// symbol never fails the batch, it is simply absent from the result.
package batch

import (
	"context"
	"runtime"
	"strings"
	"sync"

	"github.com/CalvinPangch/yfinance-sub000/pkg/logging"
)

// Operation fetches one symbol's value. Implementations typically close
// over a client.Client call plus parsing.
type Operation[T any] func(ctx context.Context, symbol string) (T, error)

// Options tunes a batch run.
type Options struct {
	// MaxConcurrency bounds in-flight operations. Non-positive picks a
	// default based on the machine and batch size.
	MaxConcurrency int

	// Logger is optional; defaults to logging.NewLogger().
	Logger logging.Logger
}

// Normalize canonicalizes a symbol list: trims whitespace, drops blanks,
// uppercases, and removes duplicates while preserving first-seen order.
func Normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Run executes op for every normalized symbol with at most
// opts.MaxConcurrency in flight. The result maps symbol to value for the
// operations that succeeded; failed symbols are absent, with the error
// logged rather than propagated. A panicking operation is contained the
// same way. Cancellation stops admission of not-yet-started symbols.
func Run[T any](ctx context.Context, symbols []string, op Operation[T], opts Options) map[string]T {
	symbols = Normalize(symbols)
	if len(symbols) == 0 {
		return map[string]T{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}

	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = 2 * runtime.GOMAXPROCS(0)
	}
	if limit > len(symbols) {
		limit = len(symbols)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]T, len(symbols))
		wg      sync.WaitGroup
		gate    = make(chan struct{}, limit)
	)

admission:
	for _, symbol := range symbols {
		select {
		case gate <- struct{}{}:
		case <-ctx.Done():
			break admission
		}
		wg.Add(1)
		go func(symbol string) {
			// Release unconditionally so a failing item cannot starve the
			// gate.
			defer func() {
				if r := recover(); r != nil {
					logger.Error("batch operation panicked",
						logging.String("symbol", symbol),
						logging.Any("panic", r))
				}
				<-gate
				wg.Done()
			}()

			value, err := op(ctx, symbol)
			if err != nil {
				logger.Warn("batch operation failed",
					logging.String("symbol", symbol),
					logging.Error(err))
				return
			}

			mu.Lock()
			results[symbol] = value
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()
	return results
}
