package bracket_test

import (
	"context"
	"errors"
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

func testCfg() config.BracketConfig {
	return config.BracketConfig{
		ProfitTargetPct:    0.008,
		StopLossPct:        0.004,
		MaxPlaceRetries:    3,
		RetryBackoffMs:     1,
		CallTimeoutSeconds: 5,
		MaxInflightOrders:  4,
	}
}

// recordingNotifier captures alerts for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

type recordedAlert struct {
	severity alert.Severity
	message  string
}

func (r *recordingNotifier) Send(severity alert.Severity, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, recordedAlert{severity, message})
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) bySeverity(severity alert.Severity) []recordedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedAlert
	for _, a := range r.alerts {
		if a.severity == severity {
			out = append(out, a)
		}
	}
	return out
}

// failingSellClient rejects protective leg placements while letting the
// entry order through.
type failingSellClient struct {
	*exchange.StubClient
}

func (c *failingSellClient) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, qty, price decimal.Decimal) (*exchange.OrderResult, error) {
	if side == exchange.SideSell {
		return nil, errors.New("insufficient funds")
	}
	return c.StubClient.PlaceLimitOrder(ctx, symbol, side, qty, price)
}

func newEngine(t *testing.T, client exchange.Client) (*bracket.Engine, *position.Store, *recordingNotifier) {
	t.Helper()
	store := position.NewStore()
	notifier := &recordingNotifier{}
	return bracket.NewEngine(client, store, notifier, testCfg()), store, notifier
}

func placeTestBracket(t *testing.T, e *bracket.Engine, client *exchange.StubClient) *bracket.Order {
	t.Helper()
	client.SetTicker("XBT/USD", exchange.Ticker{Last: d("100")})
	o, err := e.PlaceBracket(context.Background(), "XBT/USD", d("1"), nil, 0.008, 0.004)
	require.NoError(t, err)
	return o
}

func TestPlaceBracket_MarketEntry(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, store, _ := newEngine(t, client)

	o := placeTestBracket(t, e, client)

	assert.True(t, o.EntryPrice.Equal(d("100")))
	assert.True(t, o.TakeProfitPrice.Equal(d("100.8")), "tp was %s", o.TakeProfitPrice)
	assert.True(t, o.StopLossPrice.Equal(d("99.6")), "sl was %s", o.StopLossPrice)
	assert.Equal(t, bracket.StatusActive, o.Status)
	assert.NotEmpty(t, o.TakeProfitOrderID)
	assert.NotEmpty(t, o.StopLossOrderID)
	assert.NotEqual(t, o.TakeProfitOrderID, o.StopLossOrderID)

	// One market entry plus two sell limit legs.
	assert.Len(t, client.PlacedMarket, 1)
	assert.Len(t, client.PlacedLimit, 2)
	for _, leg := range client.PlacedLimit {
		assert.Equal(t, exchange.SideSell, leg.Side)
		assert.True(t, leg.Qty.Equal(d("1")))
	}

	p, err := store.Get("XBT/USD")
	require.NoError(t, err)
	assert.True(t, p.EntryPrice.Equal(d("100")))

	got, err := e.GetBySymbol("XBT/USD")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestPlaceBracket_LimitEntryWaitsForFill(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)

	limit := d("99.5")
	done := make(chan error, 1)
	go func() {
		_, err := e.PlaceBracket(context.Background(), "XBT/USD", d("1"), &limit, 0.008, 0.004)
		done <- err
	}()

	// Wait for the resting entry order, then fill it.
	require.Eventually(t, func() bool {
		open, err := client.OpenOrders(context.Background())
		if err != nil {
			return false
		}
		for _, o := range open {
			if o.Side == exchange.SideBuy {
				client.MarkFilled(o.OrderID, d("99.5"))
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, <-done)

	o, err := e.GetBySymbol("XBT/USD")
	require.NoError(t, err)
	assert.True(t, o.EntryPrice.Equal(d("99.5")))
}

func TestPlaceBracket_InvalidPercentages(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)

	_, err := e.PlaceBracket(context.Background(), "XBT/USD", d("1"), nil, 0, 0.004)
	assert.Error(t, err)
	_, err = e.PlaceBracket(context.Background(), "XBT/USD", d("1"), nil, 0.008, 1.5)
	assert.Error(t, err)
	assert.Empty(t, client.PlacedMarket)
}

func TestPlaceBracket_EntryRetriesExhausted(t *testing.T) {
	client := exchange.NewStubClient(true)
	client.SetTicker("XBT/USD", exchange.Ticker{Last: d("100")})
	client.PlaceErr = errors.New("rate limited")
	client.FailPlaces = 3
	e, store, _ := newEngine(t, client)

	_, err := e.PlaceBracket(context.Background(), "XBT/USD", d("1"), nil, 0.008, 0.004)
	assert.ErrorIs(t, err, bracket.ErrOrderPlacementFailed)

	_, err = store.Get("XBT/USD")
	assert.ErrorIs(t, err, position.ErrPositionNotFound)
}

func TestPlaceBracket_EntryRetrySucceeds(t *testing.T) {
	client := exchange.NewStubClient(true)
	client.SetTicker("XBT/USD", exchange.Ticker{Last: d("100")})
	client.PlaceErr = errors.New("rate limited")
	client.FailPlaces = 2 // fewer than the 3 allowed attempts
	e, _, _ := newEngine(t, client)

	_, err := e.PlaceBracket(context.Background(), "XBT/USD", d("1"), nil, 0.008, 0.004)
	assert.NoError(t, err)
}

func TestPlaceBracket_UnprotectedPositionEscalated(t *testing.T) {
	stub := exchange.NewStubClient(true)
	stub.SetTicker("XBT/USD", exchange.Ticker{Last: d("100")})
	client := &failingSellClient{StubClient: stub}
	e, _, notifier := newEngine(t, client)

	_, err := e.PlaceBracket(context.Background(), "XBT/USD", d("1"), nil, 0.008, 0.004)
	assert.ErrorIs(t, err, bracket.ErrPositionUnprotected)

	critical := notifier.bySeverity(alert.SeverityCritical)
	require.Len(t, critical, 1)
	assert.Contains(t, critical[0].message, "UNPROTECTED POSITION")
	assert.Contains(t, critical[0].message, "XBT/USD")
}

func TestAmend_InPlace(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	newTP := 0.012
	require.NoError(t, e.Amend(context.Background(), o.ID, &newTP, nil))

	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.True(t, got.TakeProfitPrice.Equal(d("101.2")), "tp was %s", got.TakeProfitPrice)
	assert.Equal(t, bracket.StatusAmended, got.Status)
	assert.Equal(t, 1, got.AmendCount)
	// Amend kept the original order ID and queue priority.
	assert.Equal(t, o.TakeProfitOrderID, got.TakeProfitOrderID)
	assert.Len(t, client.Amends[o.TakeProfitOrderID], 1)
	assert.Empty(t, client.Cancels)
}

func TestAmend_Idempotent(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	sameTP := 0.008
	require.NoError(t, e.Amend(context.Background(), o.ID, &sameTP, nil))
	require.NoError(t, e.Amend(context.Background(), o.ID, &sameTP, nil))

	// Same target price never hits the exchange.
	assert.Empty(t, client.Amends[o.TakeProfitOrderID])
	assert.Empty(t, client.Cancels)
}

func TestAmend_CancelAndReplaceFallback(t *testing.T) {
	client := exchange.NewStubClient(false)
	e, _, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	newSL := 0.006
	require.NoError(t, e.Amend(context.Background(), o.ID, nil, &newSL))

	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.True(t, got.StopLossPrice.Equal(d("99.4")), "sl was %s", got.StopLossPrice)
	// Replacement produced a fresh order ID and cancelled the old leg.
	assert.NotEqual(t, o.StopLossOrderID, got.StopLossOrderID)
	assert.Contains(t, client.Cancels, o.StopLossOrderID)

	// Fill routing follows the replacement order ID.
	require.NoError(t, e.HandleFill(context.Background(), got.StopLossOrderID, d("99.4")))
	final, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.StatusTriggered, final.Status)
}

func TestAmend_RejectsInvariantViolation(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	// A negative profit target would put the take-profit below entry.
	badTP := -0.01
	err := e.Amend(context.Background(), o.ID, &badTP, nil)
	assert.Error(t, err)

	// Nothing reached the exchange and the bracket is untouched.
	assert.Empty(t, client.Amends)
	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.True(t, got.TakeProfitPrice.Equal(d("100.8")))
	assert.Equal(t, bracket.StatusActive, got.Status)
}

func TestAmend_UnknownBracket(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)

	tp := 0.01
	err := e.Amend(context.Background(), "missing", &tp, nil)
	assert.ErrorIs(t, err, bracket.ErrBracketNotFound)
}

func TestAmend_TriggeredBracketRejected(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)
	require.NoError(t, e.HandleFill(context.Background(), o.TakeProfitOrderID, d("100.8")))

	tp := 0.01
	err := e.Amend(context.Background(), o.ID, &tp, nil)
	assert.ErrorIs(t, err, bracket.ErrBracketNotActive)
}

func TestUpdateStopPrice_RatchetsUpOnly(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	// Raise the stop above entry; legal once the position is in profit.
	require.NoError(t, e.UpdateStopPrice(context.Background(), "XBT/USD", d("100.4")))
	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.True(t, got.StopLossPrice.Equal(d("100.4")))
	assert.Equal(t, 1, got.AmendCount)

	// A lower stop is silently ignored.
	require.NoError(t, e.UpdateStopPrice(context.Background(), "XBT/USD", d("100.1")))
	got, err = e.Get(o.ID)
	require.NoError(t, err)
	assert.True(t, got.StopLossPrice.Equal(d("100.4")))
	assert.Equal(t, 1, got.AmendCount)
}

func TestUpdateStopPrice_CannotCrossTakeProfit(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	placeTestBracket(t, e, client)

	err := e.UpdateStopPrice(context.Background(), "XBT/USD", d("100.8"))
	assert.Error(t, err)
	err = e.UpdateStopPrice(context.Background(), "XBT/USD", d("101"))
	assert.Error(t, err)
}

func TestHandleFill_TakeProfit(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, store, notifier := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	require.NoError(t, e.HandleFill(context.Background(), o.TakeProfitOrderID, d("100.8")))

	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.StatusTriggered, got.Status)
	assert.Contains(t, client.Cancels, o.StopLossOrderID)

	_, err = store.Get("XBT/USD")
	assert.ErrorIs(t, err, position.ErrPositionNotFound)

	infos := notifier.bySeverity(alert.SeverityInfo)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].message, "take-profit")
}

func TestHandleFill_StopLossCancelsSibling(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, store, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	require.NoError(t, e.HandleFill(context.Background(), o.StopLossOrderID, d("99.6")))

	assert.Contains(t, client.Cancels, o.TakeProfitOrderID)
	_, err := store.Get("XBT/USD")
	assert.ErrorIs(t, err, position.ErrPositionNotFound)
}

func TestHandleFill_DuplicateIsNoOp(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, notifier := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	require.NoError(t, e.HandleFill(context.Background(), o.TakeProfitOrderID, d("100.8")))
	require.NoError(t, e.HandleFill(context.Background(), o.TakeProfitOrderID, d("100.8")))

	assert.Len(t, notifier.bySeverity(alert.SeverityInfo), 1)
	// Sibling cancelled exactly once.
	count := 0
	for _, id := range client.Cancels {
		if id == o.StopLossOrderID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCancelBracket(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	require.NoError(t, e.CancelBracket(context.Background(), o.ID))

	assert.Contains(t, client.Cancels, o.TakeProfitOrderID)
	assert.Contains(t, client.Cancels, o.StopLossOrderID)

	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.StatusCancelled, got.Status)

	_, err = e.GetBySymbol("XBT/USD")
	assert.ErrorIs(t, err, bracket.ErrBracketNotFound)
}

func TestReduceAndRebracket_Partial(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, store, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	require.NoError(t, e.ReduceAndRebracket(context.Background(), "XBT/USD", d("0.4")))

	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(d("0.6")))
	// Both legs were replaced at the remaining quantity.
	assert.NotEqual(t, o.TakeProfitOrderID, got.TakeProfitOrderID)
	assert.NotEqual(t, o.StopLossOrderID, got.StopLossOrderID)
	assert.Contains(t, client.Cancels, o.TakeProfitOrderID)
	assert.Contains(t, client.Cancels, o.StopLossOrderID)

	p, err := store.Get("XBT/USD")
	require.NoError(t, err)
	assert.True(t, p.Quantity.Equal(d("0.6")))

	// Prices are preserved across the resize.
	assert.True(t, got.TakeProfitPrice.Equal(o.TakeProfitPrice))
	assert.True(t, got.StopLossPrice.Equal(o.StopLossPrice))
}

func TestReduceAndRebracket_FullExit(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, store, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	require.NoError(t, e.ReduceAndRebracket(context.Background(), "XBT/USD", d("1")))

	got, err := e.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.StatusCancelled, got.Status)
	assert.Contains(t, client.Cancels, o.TakeProfitOrderID)
	assert.Contains(t, client.Cancels, o.StopLossOrderID)

	_, err = store.Get("XBT/USD")
	assert.ErrorIs(t, err, position.ErrPositionNotFound)
}

func TestReduceAndRebracket_InsufficientQuantity(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, _, _ := newEngine(t, client)
	placeTestBracket(t, e, client)

	err := e.ReduceAndRebracket(context.Background(), "XBT/USD", d("2"))
	assert.ErrorIs(t, err, position.ErrInsufficientQuantity)
	// Legs untouched after the rejected reduction.
	assert.Empty(t, client.Cancels)
}

func TestRebuild(t *testing.T) {
	client := exchange.NewStubClient(true)
	ctx := context.Background()

	// Two resting sells from a previous run: tp at 100.8, sl at 99.6.
	tp, err := client.PlaceLimitOrder(ctx, "XBT/USD", exchange.SideSell, d("1"), d("100.8"))
	require.NoError(t, err)
	sl, err := client.PlaceLimitOrder(ctx, "XBT/USD", exchange.SideSell, d("1"), d("99.6"))
	require.NoError(t, err)

	e, store, _ := newEngine(t, client)
	require.NoError(t, e.Rebuild(ctx))

	o, err := e.GetBySymbol("XBT/USD")
	require.NoError(t, err)
	assert.Equal(t, tp.OrderID, o.TakeProfitOrderID)
	assert.Equal(t, sl.OrderID, o.StopLossOrderID)
	// Entry back-derived from the configured 0.8% profit target.
	assert.True(t, o.EntryPrice.Equal(d("100")), "entry was %s", o.EntryPrice)

	p, err := store.Get("XBT/USD")
	require.NoError(t, err)
	assert.True(t, p.EntryPrice.Equal(d("100")))
	assert.True(t, p.Quantity.Equal(d("1")))
}

func TestRebuild_SkipsOddOrderCounts(t *testing.T) {
	client := exchange.NewStubClient(true)
	ctx := context.Background()
	_, err := client.PlaceLimitOrder(ctx, "XBT/USD", exchange.SideSell, d("1"), d("100.8"))
	require.NoError(t, err)

	e, store, _ := newEngine(t, client)
	require.NoError(t, e.Rebuild(ctx))

	_, err = e.GetBySymbol("XBT/USD")
	assert.ErrorIs(t, err, bracket.ErrBracketNotFound)
	_, err = store.Get("XBT/USD")
	assert.ErrorIs(t, err, position.ErrPositionNotFound)
}

func TestPollFills_DetectsFilledLeg(t *testing.T) {
	client := exchange.NewStubClient(true)
	e, store, _ := newEngine(t, client)
	o := placeTestBracket(t, e, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.PollFills(ctx, 10*time.Millisecond)

	client.MarkFilled(o.TakeProfitOrderID, d("100.8"))

	require.Eventually(t, func() bool {
		got, err := e.Get(o.ID)
		return err == nil && got.Status == bracket.StatusTriggered
	}, 2*time.Second, 10*time.Millisecond)

	_, err := store.Get("XBT/USD")
	assert.ErrorIs(t, err, position.ErrPositionNotFound)
}
