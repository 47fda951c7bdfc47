package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CalvinPangch/yfinance-sub000/pkg/batch"
	"github.com/CalvinPangch/yfinance-sub000/pkg/client"
	"github.com/CalvinPangch/yfinance-sub000/pkg/config"
	"github.com/CalvinPangch/yfinance-sub000/pkg/logging"
	"github.com/CalvinPangch/yfinance-sub000/pkg/ratelimit"
	"github.com/CalvinPangch/yfinance-sub000/pkg/session"
	"github.com/CalvinPangch/yfinance-sub000/pkg/stream"
)

func main() {
	// Local overrides from .env, if present.
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("YFINANCE_CONFIG"))
	if err != nil {
		logging.NewLogger().Error("failed to load config", logging.Error(err))
		os.Exit(1)
	}

	logger := logging.NewLogger()
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authenticate lazily; the first fetch bootstraps the session.
	sessions := session.NewManager(session.DefaultConfig())

	clientCfg := client.DefaultConfig()
	clientCfg.Timeout = cfg.Client.Timeout()
	clientCfg.AuthRetries = cfg.Client.AuthRetries
	clientCfg.ServerRetries = cfg.Client.ServerRetries
	clientCfg.CacheTTL = cfg.Client.CacheTTL()
	clientCfg.Logger = logger
	if cfg.Client.BaseURL != "" {
		clientCfg.BaseURL = cfg.Client.BaseURL
	}
	if cfg.Client.RequestsPerMinute > 0 {
		clientCfg.RateLimit = ratelimit.Rate{
			Limit:    cfg.Client.RequestsPerMinute,
			Interval: time.Minute,
		}
	}
	c := client.New(sessions, clientCfg)

	// Single-symbol fetch: one month of daily bars.
	logger.Info("fetching chart", logging.String("symbol", "AAPL"))
	body, err := c.Fetch(ctx, client.ChartPath("AAPL"), client.ChartParams("1d", "1mo"))
	if err != nil {
		logger.Error("chart fetch failed", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("chart fetched", logging.Int("bytes", len(body)))

	// Batch fetch: failed symbols are absent from the result, the rest
	// come back.
	symbols := []string{"AAPL", "MSFT", "GOOG", "NOT-A-SYMBOL"}
	results := batch.Run(ctx, symbols, func(ctx context.Context, symbol string) ([]byte, error) {
		return c.Fetch(ctx, client.ChartPath(symbol), client.ChartParams("1d", "5d"))
	}, batch.Options{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		Logger:         logger,
	})
	for symbol, payload := range results {
		logger.Info("batch result",
			logging.String("symbol", symbol),
			logging.Int("bytes", len(payload)))
	}

	// Live pricing until interrupted.
	feedCfg := stream.DefaultConfig()
	feedCfg.ReconnectInterval = cfg.Stream.ReconnectInterval()
	feedCfg.MaxRetries = uint(cfg.Stream.MaxRetries)
	feedCfg.Logger = logger
	if cfg.Stream.URL != "" {
		feedCfg.URL = cfg.Stream.URL
	}

	feed := stream.NewFeed(feedCfg)
	err = feed.Connect(ctx, func(event *stream.PriceEvent) {
		fields := []logging.Field{logging.String("id", event.ID)}
		if event.Price != nil {
			fields = append(fields, logging.Float64("price", *event.Price))
		}
		if event.DayVolume != nil {
			fields = append(fields, logging.Int64("day_volume", *event.DayVolume))
		}
		logger.Info("live price", fields...)
	})
	if err != nil {
		logger.Error("feed connect failed", logging.Error(err))
		os.Exit(1)
	}
	defer feed.Close()

	if err := feed.Subscribe("AAPL", "BTC-USD"); err != nil {
		logger.Error("subscribe failed", logging.Error(err))
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}
