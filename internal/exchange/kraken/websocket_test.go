package kraken

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickerRecorder struct {
	symbols []string
	prices  []decimal.Decimal
}

func (r *tickerRecorder) handle(symbol string, last decimal.Decimal) {
	r.symbols = append(r.symbols, symbol)
	r.prices = append(r.prices, last)
}

func TestHandleMessage_TickerFrame(t *testing.T) {
	rec := &tickerRecorder{}
	f := NewWebSocketFeed([]string{"XBT/USD"}, rec.handle)

	f.handleMessage([]byte(`[340,{"a":["100.01","5","5.000"],"b":["99.99","2","2.000"],"c":["100.25","0.1"]},"ticker","XBT/USD"]`))

	require.Len(t, rec.symbols, 1)
	assert.Equal(t, "XBT/USD", rec.symbols[0])
	assert.True(t, rec.prices[0].Equal(decimal.RequireFromString("100.25")))
}

func TestHandleMessage_IgnoresNonTickerTraffic(t *testing.T) {
	rec := &tickerRecorder{}
	f := NewWebSocketFeed([]string{"XBT/USD"}, rec.handle)

	// Heartbeats, subscription acks, other channels, truncated frames.
	f.handleMessage([]byte(`{"event":"heartbeat"}`))
	f.handleMessage([]byte(`{"event":"subscriptionStatus","status":"subscribed"}`))
	f.handleMessage([]byte(`[340,{"c":["1.0","1"]},"trade","XBT/USD"]`))
	f.handleMessage([]byte(`[340,{"c":["1.0","1"]},"ticker"]`))
	f.handleMessage([]byte(`not json at all`))

	assert.Empty(t, rec.symbols)
}

func TestHandleMessage_MalformedPayload(t *testing.T) {
	rec := &tickerRecorder{}
	f := NewWebSocketFeed([]string{"XBT/USD"}, rec.handle)

	// Missing close array and an unparsable price must both be dropped.
	f.handleMessage([]byte(`[340,{"a":["100.01","5","5.000"]},"ticker","XBT/USD"]`))
	f.handleMessage([]byte(`[340,{"c":["garbage","0.1"]},"ticker","XBT/USD"]`))

	assert.Empty(t, rec.symbols)
}
