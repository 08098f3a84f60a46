package kraken

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

const websocketURL = "wss://ws.kraken.com"

// TickerHandler receives the last trade price for a symbol on every ticker
// push. Handlers must not block; they run on the read goroutine.
type TickerHandler func(symbol string, last decimal.Decimal)

// WebSocketFeed subscribes to Kraken's public ticker channel and pushes
// price updates to a handler. It reconnects with exponential backoff when
// the connection drops.
type WebSocketFeed struct {
	pairs   []string
	handler TickerHandler
	wsURL   string
}

// NewWebSocketFeed creates a feed for the given pairs.
func NewWebSocketFeed(pairs []string, handler TickerHandler) *WebSocketFeed {
	return &WebSocketFeed{pairs: pairs, handler: handler, wsURL: websocketURL}
}

// SetURL overrides the WebSocket endpoint; intended for tests.
func (f *WebSocketFeed) SetURL(u string) {
	f.wsURL = u
}

// Run connects and consumes ticker messages until the context is cancelled.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := f.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Ticker feed disconnected: %v. Reconnecting in %v...", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

type subscribeMessage struct {
	Event        string   `json:"event"`
	Pair         []string `json:"pair"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

func (f *WebSocketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Infof("Connected to %s, subscribing to ticker for %v", f.wsURL, f.pairs)

	sub := subscribeMessage{Event: "subscribe", Pair: f.pairs}
	sub.Subscription.Name = "ticker"
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// Close the connection when the context is cancelled so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(message)
	}
}

// tickerPayload carries the fields we consume from a ticker push.
// c = [last trade price, lot volume].
type tickerPayload struct {
	Closed []string `json:"c"`
}

// handleMessage parses a raw frame. Ticker data frames are arrays of the
// form [channelID, payload, "ticker", pair]; everything else (heartbeats,
// subscription acks) is ignored.
func (f *WebSocketFeed) handleMessage(message []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) != 4 {
		return
	}

	var channel, pair string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "ticker" {
		return
	}
	if err := json.Unmarshal(frame[3], &pair); err != nil {
		return
	}

	var payload tickerPayload
	if err := json.Unmarshal(frame[1], &payload); err != nil || len(payload.Closed) == 0 {
		logger.Debugf("Skipping malformed ticker payload for %s", pair)
		return
	}
	last, err := decimal.NewFromString(payload.Closed[0])
	if err != nil {
		logger.Errorf("Bad last price %q in ticker for %s: %v", payload.Closed[0], pair, err)
		return
	}
	f.handler(pair, last)
}
