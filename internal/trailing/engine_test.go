package trailing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kraken-scalp-bot/internal/alert"
	"github.com/your-org/kraken-scalp-bot/internal/bracket"
	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/exchange"
	"github.com/your-org/kraken-scalp-bot/internal/position"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func trailingCfg() config.TrailingConfig {
	return config.TrailingConfig{
		ActivationPct:       0.005,
		DistancePct:         0.003,
		PollIntervalSeconds: 1,
	}
}

type fixture struct {
	client   *exchange.StubClient
	store    *position.Store
	brackets *bracket.Engine
	engine   *Engine
	order    *bracket.Order
}

// newFixture opens a protected position at entry 100 with tp 100.8 and
// sl 99.6, and returns a trailing engine wired to it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := exchange.NewStubClient(true)
	client.SetTicker("XBT/USD", exchange.Ticker{Last: d("100")})
	store := position.NewStore()
	brackets := bracket.NewEngine(client, store, alert.NewNoOpNotifier(), config.BracketConfig{
		ProfitTargetPct: 0.008,
		StopLossPct:     0.004,
		RetryBackoffMs:  1,
	})
	o, err := brackets.PlaceBracket(context.Background(), "XBT/USD", d("1"), nil, 0.008, 0.004)
	require.NoError(t, err)
	return &fixture{
		client:   client,
		store:    store,
		brackets: brackets,
		engine:   NewEngine(client, store, brackets, trailingCfg()),
		order:    o,
	}
}

func (f *fixture) stopPrice(t *testing.T) decimal.Decimal {
	t.Helper()
	o, err := f.brackets.Get(f.order.ID)
	require.NoError(t, err)
	return o.StopLossPrice
}

func TestOnPrice_ArmsBelowActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// +0.2% profit is below the 0.5% activation threshold.
	f.engine.OnPrice(ctx, "XBT/USD", d("100.2"))

	assert.Equal(t, StateArmed, f.engine.State("XBT/USD"))
	assert.True(t, f.stopPrice(t).Equal(d("99.6")), "stop moved while armed")
}

func TestOnPrice_ActivatesAndTrails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.OnPrice(ctx, "XBT/USD", d("100.5"))
	assert.Equal(t, StateTrailing, f.engine.State("XBT/USD"))

	// Stop trails 0.3% behind the price: 100.5 * 0.997 = 100.1985.
	assert.True(t, f.stopPrice(t).Equal(d("100.1985")), "stop was %s", f.stopPrice(t))
}

func TestOnPrice_MonotonicRatchet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.OnPrice(ctx, "XBT/USD", d("101"))
	// 101 * 0.997 = 100.697.
	require.True(t, f.stopPrice(t).Equal(d("100.697")), "stop was %s", f.stopPrice(t))

	// A pullback must never lower the stop.
	f.engine.OnPrice(ctx, "XBT/USD", d("100.50"))
	assert.True(t, f.stopPrice(t).Equal(d("100.697")), "stop regressed to %s", f.stopPrice(t))

	// A new high raises it again.
	f.engine.OnPrice(ctx, "XBT/USD", d("100.75"))
	expected := d("100.75").Mul(d("0.997"))
	assert.True(t, f.stopPrice(t).Equal(expected), "stop was %s", f.stopPrice(t))
}

func TestOnPrice_TracksHighestPriceSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.OnPrice(ctx, "XBT/USD", d("100.4"))
	f.engine.OnPrice(ctx, "XBT/USD", d("100.1"))

	p, err := f.store.Get("XBT/USD")
	require.NoError(t, err)
	assert.True(t, p.HighestPriceSeen.Equal(d("100.4")))
}

func TestOnPrice_ClosedPositionTransitionsToTriggered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.OnPrice(ctx, "XBT/USD", d("101"))
	require.Equal(t, StateTrailing, f.engine.State("XBT/USD"))

	// Simulate the stop filling and the position closing.
	require.NoError(t, f.brackets.HandleFill(ctx, f.order.StopLossOrderID, d("100.697")))
	f.engine.OnPrice(ctx, "XBT/USD", d("100.7"))

	assert.Equal(t, StateTriggered, f.engine.State("XBT/USD"))
}

func TestOnPrice_UnknownSymbolStaysInactive(t *testing.T) {
	f := newFixture(t)
	f.engine.OnPrice(context.Background(), "ETH/USD", d("50"))
	assert.Equal(t, StateInactive, f.engine.State("ETH/USD"))
}

func TestMarkCancelledAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.OnPrice(ctx, "XBT/USD", d("100.2"))
	require.Equal(t, StateArmed, f.engine.State("XBT/USD"))

	f.engine.MarkCancelled("XBT/USD")
	assert.Equal(t, StateCancelled, f.engine.State("XBT/USD"))

	f.engine.Reset("XBT/USD")
	assert.Equal(t, StateInactive, f.engine.State("XBT/USD"))
}

func TestOnPrice_ConcurrentUpdatesStayMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prices := []string{"100.6", "100.9", "100.7", "100.75", "100.65", "100.8"}
	var wg sync.WaitGroup
	for _, p := range prices {
		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			f.engine.OnPrice(ctx, "XBT/USD", d(raw))
		}(p)
	}
	wg.Wait()

	// Whatever the interleaving, the stop lands at the trail of the
	// highest price.
	expected := d("100.9").Mul(d("0.997"))
	assert.True(t, f.stopPrice(t).Equal(expected), "stop was %s", f.stopPrice(t))
}

func TestRun_PollsTickers(t *testing.T) {
	f := newFixture(t)
	f.client.SetTicker("XBT/USD", exchange.Ticker{Last: d("100.6")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.engine.Run(ctx)

	require.Eventually(t, func() bool {
		return f.engine.State("XBT/USD") == StateTrailing
	}, 5*time.Second, 50*time.Millisecond)

	expected := d("100.6").Mul(d("0.997"))
	assert.True(t, f.stopPrice(t).Equal(expected), "stop was %s", f.stopPrice(t))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "INACTIVE", StateInactive.String())
	assert.Equal(t, "ARMED", StateArmed.String())
	assert.Equal(t, "TRAILING", StateTrailing.String())
	assert.Equal(t, "TRIGGERED", StateTriggered.String())
	assert.Equal(t, "CANCELLED", StateCancelled.String())
}
