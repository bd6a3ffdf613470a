package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quantfold/backtester/internal/event"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WSFeed is a live source backed by a websocket price stream. A reader
// goroutine parses price updates into market events and hands them to the
// simulation thread over a bounded channel; the producer never blocks on the
// consumer, dropping the oldest update when the buffer is full.
type WSFeed struct {
	mu     sync.Mutex
	logger *zap.Logger
	config WSFeedConfig
	conn   *websocket.Conn
	events chan *event.MarketEvent
	cancel context.CancelFunc
}

// WSFeedConfig configures the live feed.
type WSFeedConfig struct {
	URL        string
	BufferSize int
	// ReconnectWait is the pause before redialing a dropped connection.
	ReconnectWait time.Duration
}

// DefaultWSFeedConfig returns the default feed configuration.
func DefaultWSFeedConfig(url string) WSFeedConfig {
	return WSFeedConfig{
		URL:           url,
		BufferSize:    1024,
		ReconnectWait: 5 * time.Second,
	}
}

// priceUpdate is the wire format of one feed message.
type priceUpdate struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// subscribeRequest is the wire format of the subscription handshake.
type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// NewWSFeed creates a live feed. No connection is made until Subscribe.
func NewWSFeed(logger *zap.Logger, config WSFeedConfig) *WSFeed {
	return &WSFeed{logger: logger, config: config}
}

// Subscribe implements LiveSource: it dials the feed, subscribes the given
// symbols, and returns the bounded event channel fed by the reader
// goroutine. The channel is closed when ctx ends or Close is called.
func (f *WSFeed) Subscribe(ctx context.Context, symbols []string) (<-chan *event.MarketEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil {
		return nil, fmt.Errorf("%w: already subscribed", ErrSession)
	}

	if err := f.dial(symbols); err != nil {
		return nil, err
	}

	ctx, f.cancel = context.WithCancel(ctx)
	f.events = make(chan *event.MarketEvent, f.config.BufferSize)
	go f.readLoop(ctx, symbols)
	return f.events, nil
}

// Close tears down the subscription and closes the event channel.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) dial(symbols []string) error {
	conn, _, err := websocket.DefaultDialer.Dial(f.config.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrSession, f.config.URL, err)
	}
	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbols: symbols}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: subscribe: %v", ErrSession, err)
	}
	f.conn = conn
	return nil
}

// readLoop reads the wire, converts updates to market events, and pushes
// them without ever blocking. Dropped connections are redialed until ctx
// ends.
func (f *WSFeed) readLoop(ctx context.Context, symbols []string) {
	defer close(f.events)
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("feed connection lost, reconnecting", zap.Error(err))
			time.Sleep(f.config.ReconnectWait)
			f.mu.Lock()
			dialErr := f.dial(symbols)
			f.mu.Unlock()
			if dialErr != nil {
				f.logger.Error("feed reconnect failed", zap.Error(dialErr))
			}
			continue
		}

		var update priceUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			f.logger.Warn("unparseable feed message", zap.Error(err))
			continue
		}
		if update.Symbol == "" {
			continue
		}

		ev := event.NewMarketEvent(
			time.Unix(0, update.Timestamp*int64(time.Millisecond)).UTC(),
			map[string]decimal.Decimal{update.Symbol: update.Price},
		)
		select {
		case f.events <- ev:
		default:
			// Buffer full: shed the oldest update so the producer never
			// stalls behind a slow simulation thread.
			select {
			case <-f.events:
			default:
			}
			select {
			case f.events <- ev:
			default:
			}
		}
	}
}
