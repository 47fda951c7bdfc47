// Package stream maintains the persistent live pricing feed: one socket,
// one subscription control message, and a decoder for the binary frames
// the provider pushes back.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/gorilla/websocket"

	"github.com/CalvinPangch/yfinance-sub000/pkg/logging"
)

// Handler receives each decoded pricing event. Called from the feed's
// single read loop; slow handlers delay frame processing.
type Handler func(*PriceEvent)

// Config holds the feed configuration.
type Config struct {
	// URL is the streaming endpoint.
	URL string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// ReconnectInterval is the delay between reconnect attempts after the
	// socket drops.
	ReconnectInterval time.Duration

	// MaxRetries bounds reconnect attempts before the feed gives up.
	MaxRetries uint

	// Logger is optional; defaults to logging.NewLogger().
	Logger logging.Logger
}

// DefaultConfig returns the production streaming endpoint configuration.
func DefaultConfig() *Config {
	return &Config{
		URL:               "wss://streamer.finance.yahoo.com/?version=2",
		HandshakeTimeout:  10 * time.Second,
		ReconnectInterval: 2 * time.Second,
		MaxRetries:        5,
		Logger:            logging.NewLogger(),
	}
}

// Feed owns one persistent streaming connection. The socket has a single
// reader; subscription writes may run concurrently with the read loop
// but are serialized against each other.
type Feed struct {
	config *Config
	logger logging.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	subscribed []string
	closed     bool

	writeMu sync.Mutex

	handler Handler
	done    chan struct{}
}

// NewFeed creates a feed with the given configuration.
func NewFeed(config *Config) *Feed {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Feed{
		config: config,
		logger: logger,
	}
}

// Connect dials the streaming endpoint and starts the read loop. Decoded
// events are delivered to handler; malformed frames are dropped with a
// debug log and never tear down the connection.
func (f *Feed) Connect(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		return errors.New("already connected")
	}

	conn, err := f.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to feed: %w", err)
	}

	f.conn = conn
	f.closed = false
	f.handler = handler
	f.done = make(chan struct{})

	go f.readLoop(ctx, conn, f.done)

	f.logger.Info("feed connected", logging.String("url", f.config.URL))
	return nil
}

// Subscribe sends the subscription control message for the given
// instrument ids and remembers them for resubscription after reconnects.
func (f *Feed) Subscribe(ids ...string) error {
	f.mu.Lock()
	conn := f.conn
	f.subscribed = mergeIDs(f.subscribed, ids)
	payload := f.subscribed
	f.mu.Unlock()

	if conn == nil {
		return errors.New("not connected")
	}
	return f.writeSubscription(conn, payload)
}

// IsConnected reports whether the feed currently holds a live socket.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.conn != nil && !f.closed
}

// Close shuts the feed down. The read loop exits and no reconnection is
// attempted.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.conn == nil {
		return nil
	}
	f.closed = true
	close(f.done)

	f.writeMu.Lock()
	f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	f.writeMu.Unlock()

	err := f.conn.Close()
	f.conn = nil
	f.logger.Info("feed closed")
	return err
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: f.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, f.config.URL, nil)
	return conn, err
}

// readLoop is the socket's single reader. It runs until Close or until
// reconnection is exhausted.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			conn = f.reconnect(ctx, done)
			if conn == nil {
				return
			}
			continue
		}

		event, decodeErr := DecodeFrame(frame)
		if decodeErr != nil {
			// One bad frame is not worth the connection.
			f.logger.Debug("dropped malformed frame", logging.Error(decodeErr))
			continue
		}
		f.handler(event)
	}
}

// reconnect re-dials with backoff and restores the subscription. Returns
// nil when retries are exhausted or the feed was closed meanwhile.
func (f *Feed) reconnect(ctx context.Context, done chan struct{}) *websocket.Conn {
	f.logger.Warn("feed connection lost, reconnecting")

	var conn *websocket.Conn
	err := retry.Do(
		func() error {
			select {
			case <-done:
				return retry.Unrecoverable(errors.New("feed closed"))
			default:
			}
			c, dialErr := f.dial(ctx)
			if dialErr != nil {
				return dialErr
			}
			conn = c
			return nil
		},
		retry.Attempts(f.config.MaxRetries),
		retry.Delay(f.config.ReconnectInterval),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		f.logger.Error("feed reconnection failed", logging.Error(err))
		return nil
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return nil
	}
	f.conn = conn
	ids := f.subscribed
	f.mu.Unlock()

	if len(ids) > 0 {
		if err := f.writeSubscription(conn, ids); err != nil {
			f.logger.Warn("resubscription failed", logging.Error(err))
		}
	}

	f.logger.Info("feed reconnected")
	return conn
}

func (f *Feed) writeSubscription(conn *websocket.Conn, ids []string) error {
	msg, err := json.Marshal(map[string][]string{"subscribe": ids})
	if err != nil {
		return err
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, id := range existing {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range added {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
