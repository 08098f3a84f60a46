// Package exchange defines the collaborator interface the trading core
// consumes, together with the shared order and market data types.
package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side string

const (
	// SideBuy is a buy order.
	SideBuy Side = "buy"
	// SideSell is a sell order.
	SideSell Side = "sell"
)

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderResult is returned by order placement calls.
type OrderResult struct {
	OrderID   string
	FillPrice decimal.Decimal // zero until the order has filled
	PlacedAt  time.Time
}

// Ack acknowledges an amend or cancel request.
type Ack struct {
	OrderID string
}

// Ticker is a point-in-time market snapshot for a symbol.
type Ticker struct {
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Volume decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
}

// OrderState describes the lifecycle state of an exchange order.
type OrderState string

const (
	// OrderOpen means the order is resting on the book.
	OrderOpen OrderState = "open"
	// OrderFilled means the order has fully executed.
	OrderFilled OrderState = "filled"
	// OrderCancelled means the order was cancelled before filling.
	OrderCancelled OrderState = "cancelled"
)

// OrderStatus is returned by order status queries.
type OrderStatus struct {
	OrderID     string
	State       OrderState
	FilledPrice decimal.Decimal // valid only when State == OrderFilled
}

// OpenOrder describes a resting order, used to rebuild local state on restart.
type OpenOrder struct {
	OrderID string
	Symbol  string
	Side    Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
}
