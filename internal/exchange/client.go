package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrTimeout is returned when a single exchange call exceeds its deadline.
// Callers holding a per-symbol lock use it to decide whether to retry or
// abort the overall operation.
var ErrTimeout = errors.New("exchange call timed out")

// ErrAmendUnsupported is returned by AmendOrder on clients that cannot
// modify resting orders in place. Callers fall back to cancel-and-replace.
var ErrAmendUnsupported = errors.New("amend not supported by exchange")

// Client is the interface the trading core uses to talk to the exchange.
// Implementations must be safe for concurrent use.
type Client interface {
	// PlaceMarketOrder submits a market order and returns once the exchange
	// acknowledges it. FillPrice is populated for immediately-executed orders.
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (*OrderResult, error)

	// PlaceLimitOrder submits a limit order at the given price.
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) (*OrderResult, error)

	// AmendOrder modifies the price of a resting order in place, preserving
	// its queue priority. Returns ErrAmendUnsupported when the venue (or
	// account tier) lacks the primitive; SupportsAmend reports this up front.
	AmendOrder(ctx context.Context, orderID string, price decimal.Decimal) (*Ack, error)

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, orderID string) (*Ack, error)

	// GetTicker fetches the current market snapshot for a symbol.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetOrderStatus queries the lifecycle state of an order.
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)

	// GetBalance returns the free balance of an asset.
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// OpenOrders lists all resting orders for the account.
	OpenOrders(ctx context.Context) ([]OpenOrder, error)

	// SupportsAmend reports whether AmendOrder is usable. Decided once at
	// construction, never probed per call.
	SupportsAmend() bool
}
