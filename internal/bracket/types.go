// Package bracket places and maintains paired take-profit and stop-loss
// orders protecting open positions.
package bracket

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrOrderPlacementFailed is returned when an order could not be placed
	// after bounded retries.
	ErrOrderPlacementFailed = errors.New("order placement failed")
	// ErrPositionUnprotected is returned when a protective leg could not be
	// placed for a filled entry. Capital is exposed with no stop; this is
	// the most dangerous failure mode in the system and is always escalated.
	ErrPositionUnprotected = errors.New("position is unprotected")
	// ErrBracketNotFound is returned for operations on unknown bracket IDs.
	ErrBracketNotFound = errors.New("bracket not found")
	// ErrBracketNotActive is returned when amending a bracket that has
	// already triggered or been cancelled.
	ErrBracketNotActive = errors.New("bracket is not active")
)

// Status is the lifecycle state of a bracket.
type Status string

const (
	// StatusActive means both protective legs are resting.
	StatusActive Status = "active"
	// StatusAmended means the bracket is active and has been re-priced at
	// least once.
	StatusAmended Status = "amended"
	// StatusTriggered means one protective leg filled and the position was
	// closed or reduced accordingly.
	StatusTriggered Status = "triggered"
	// StatusCancelled means the bracket was explicitly unwound.
	StatusCancelled Status = "cancelled"
)

// Order is a bracket: one take-profit and one stop-loss order jointly
// protecting a position. For a long position the invariant
// StopLossPrice < EntryPrice < TakeProfitPrice holds at all times.
type Order struct {
	ID                string
	Symbol            string
	EntryOrderID      string
	EntryPrice        decimal.Decimal
	Quantity          decimal.Decimal
	TakeProfitOrderID string
	TakeProfitPrice   decimal.Decimal
	StopLossOrderID   string
	StopLossPrice     decimal.Decimal
	ProfitTargetPct   float64
	StopLossPct       float64
	Status            Status
	CreatedAt         time.Time
	AmendCount        int
}

// checkInvariant validates the long-bracket price ordering.
func (o *Order) checkInvariant() error {
	if !o.StopLossPrice.LessThan(o.EntryPrice) || !o.EntryPrice.LessThan(o.TakeProfitPrice) {
		return fmt.Errorf("bracket %s violates sl < entry < tp: sl=%s entry=%s tp=%s",
			o.ID, o.StopLossPrice, o.EntryPrice, o.TakeProfitPrice)
	}
	return nil
}
