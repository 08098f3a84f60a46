package bracket

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/your-org/kraken-scalp-bot/internal/alert"
	"github.com/your-org/kraken-scalp-bot/internal/exchange"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

// Amend re-prices one or both legs of an active bracket from new target
// percentages. Passing nil leaves a leg unchanged. Re-submitting the same
// target price is a no-op, so repeated amendments are idempotent.
func (e *Engine) Amend(ctx context.Context, bracketID string, newProfitTargetPct, newStopLossPct *float64) error {
	e.mu.RLock()
	o, ok := e.brackets[bracketID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", bracketID, ErrBracketNotFound)
	}

	e.locks.Lock(o.Symbol)
	defer e.locks.Unlock(o.Symbol)

	e.mu.RLock()
	status := o.Status
	e.mu.RUnlock()
	if status != StatusActive && status != StatusAmended {
		return fmt.Errorf("%s in state %s: %w", bracketID, status, ErrBracketNotActive)
	}

	// Validate the target prices before touching the exchange, so a failed
	// half-amendment can never leave the invariant broken.
	next := *o
	if newProfitTargetPct != nil {
		next.ProfitTargetPct = *newProfitTargetPct
		next.TakeProfitPrice = o.EntryPrice.Mul(decimal.NewFromFloat(1 + *newProfitTargetPct))
	}
	if newStopLossPct != nil {
		next.StopLossPct = *newStopLossPct
		next.StopLossPrice = o.EntryPrice.Mul(decimal.NewFromFloat(1 - *newStopLossPct))
	}
	if err := next.checkInvariant(); err != nil {
		return err
	}

	if newProfitTargetPct != nil && !next.TakeProfitPrice.Equal(o.TakeProfitPrice) {
		newID, err := e.amendOrReplace(ctx, o.Symbol, o.TakeProfitOrderID, o.Quantity, next.TakeProfitPrice)
		if err != nil {
			return fmt.Errorf("amend take-profit of %s: %w", bracketID, err)
		}
		e.mu.Lock()
		if newID != o.TakeProfitOrderID {
			delete(e.byChild, o.TakeProfitOrderID)
			e.byChild[newID] = o.ID
			o.TakeProfitOrderID = newID
		}
		o.TakeProfitPrice = next.TakeProfitPrice
		o.ProfitTargetPct = next.ProfitTargetPct
		e.mu.Unlock()
	}

	if newStopLossPct != nil && !next.StopLossPrice.Equal(o.StopLossPrice) {
		newID, err := e.amendOrReplace(ctx, o.Symbol, o.StopLossOrderID, o.Quantity, next.StopLossPrice)
		if err != nil {
			return fmt.Errorf("amend stop-loss of %s: %w", bracketID, err)
		}
		e.mu.Lock()
		if newID != o.StopLossOrderID {
			delete(e.byChild, o.StopLossOrderID)
			e.byChild[newID] = o.ID
			o.StopLossOrderID = newID
		}
		o.StopLossPrice = next.StopLossPrice
		o.StopLossPct = next.StopLossPct
		e.mu.Unlock()
	}

	e.mu.Lock()
	o.Status = StatusAmended
	o.AmendCount++
	e.mu.Unlock()
	return nil
}

// UpdateStopPrice raises the stop-loss leg to an absolute price. It is the
// trailing engine's entry point: the new stop may sit above the entry price
// once the position is in profit, but must stay below the take-profit and
// never move down.
func (e *Engine) UpdateStopPrice(ctx context.Context, symbol string, newStop decimal.Decimal) error {
	e.mu.RLock()
	id, ok := e.bySymbol[symbol]
	var o *Order
	if ok {
		o = e.brackets[id]
	}
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrBracketNotFound)
	}

	e.locks.Lock(symbol)
	defer e.locks.Unlock(symbol)

	e.mu.RLock()
	status := o.Status
	current := o.StopLossPrice
	tp := o.TakeProfitPrice
	qty := o.Quantity
	stopID := o.StopLossOrderID
	e.mu.RUnlock()

	if status != StatusActive && status != StatusAmended {
		return fmt.Errorf("%s in state %s: %w", id, status, ErrBracketNotActive)
	}
	if !newStop.GreaterThan(current) {
		// Stops only ratchet upward for a long position.
		return nil
	}
	if !newStop.LessThan(tp) {
		return fmt.Errorf("new stop %s would cross take-profit %s on %s", newStop, tp, symbol)
	}

	newID, err := e.amendOrReplace(ctx, symbol, stopID, qty, newStop)
	if err != nil {
		return fmt.Errorf("trail stop of %s: %w", id, err)
	}

	e.mu.Lock()
	if newID != stopID {
		delete(e.byChild, stopID)
		e.byChild[newID] = o.ID
		o.StopLossOrderID = newID
	}
	o.StopLossPrice = newStop
	o.Status = StatusAmended
	o.AmendCount++
	e.mu.Unlock()

	logger.Infof("Trailed stop on %s to %s", symbol, newStop)
	return nil
}

// amendOrReplace re-prices a resting order, preferring the in-place amend
// primitive which preserves matching-engine queue priority. When the client
// lacks amend support the order is cancelled and re-placed; that path loses
// queue priority and is logged as degraded.
func (e *Engine) amendOrReplace(ctx context.Context, symbol, orderID string, qty, price decimal.Decimal) (string, error) {
	if e.client.SupportsAmend() {
		err := e.withCall(ctx, func(callCtx context.Context) error {
			_, amendErr := e.client.AmendOrder(callCtx, orderID, price)
			return amendErr
		})
		if err != nil {
			return "", err
		}
		return orderID, nil
	}

	logger.Warnf("Exchange lacks amend support; cancel-and-replace for %s on %s loses queue priority", orderID, symbol)
	err := e.withCall(ctx, func(callCtx context.Context) error {
		_, cancelErr := e.client.CancelOrder(callCtx, orderID)
		return cancelErr
	})
	if err != nil {
		return "", fmt.Errorf("cancel before replace: %w", err)
	}

	res, err := e.placeWithRetry(ctx, "replacement order", func(callCtx context.Context) (*exchange.OrderResult, error) {
		return e.client.PlaceLimitOrder(callCtx, symbol, exchange.SideSell, qty, price)
	})
	if err != nil {
		return "", err
	}
	return res.OrderID, nil
}

// ReduceAndRebracket records a partial manual exit of soldQty and shrinks
// both protective legs to the remaining quantity, so every open unit stays
// protected. A full exit cancels the bracket instead.
func (e *Engine) ReduceAndRebracket(ctx context.Context, symbol string, soldQty decimal.Decimal) error {
	e.mu.RLock()
	id, ok := e.bySymbol[symbol]
	var o *Order
	if ok {
		o = e.brackets[id]
	}
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrBracketNotFound)
	}

	e.locks.Lock(symbol)
	defer e.locks.Unlock(symbol)

	remaining, err := e.store.Reduce(symbol, soldQty)
	if err != nil {
		return err
	}
	if remaining == nil {
		// Fully exited: unwind the now-oversized protective legs.
		e.mu.Lock()
		o.Status = StatusCancelled
		o.Quantity = decimal.Zero
		delete(e.bySymbol, symbol)
		tpID, slID := o.TakeProfitOrderID, o.StopLossOrderID
		e.mu.Unlock()

		for _, childID := range []string{tpID, slID} {
			cid := childID
			cancelErr := e.withCall(ctx, func(callCtx context.Context) error {
				_, cErr := e.client.CancelOrder(callCtx, cid)
				return cErr
			})
			if cancelErr != nil {
				logger.Errorf("Failed to cancel stale leg %s on %s after full exit: %v", cid, symbol, cancelErr)
			}
		}
		logger.Infof("Position on %s fully exited, bracket %s unwound", symbol, id)
		return nil
	}

	// The amend primitive is price-only, so resizing requires replacing
	// both legs at the remaining quantity.
	e.mu.RLock()
	tpID, slID := o.TakeProfitOrderID, o.StopLossOrderID
	tpPrice, slPrice := o.TakeProfitPrice, o.StopLossPrice
	e.mu.RUnlock()

	newTP, err := e.replaceLeg(ctx, symbol, tpID, remaining.Quantity, tpPrice)
	if err != nil {
		return e.escalateUnprotected(symbol, fmt.Errorf("resize take-profit: %w", err))
	}
	newSL, err := e.replaceLeg(ctx, symbol, slID, remaining.Quantity, slPrice)
	if err != nil {
		return e.escalateUnprotected(symbol, fmt.Errorf("resize stop-loss: %w", err))
	}

	e.mu.Lock()
	delete(e.byChild, tpID)
	delete(e.byChild, slID)
	e.byChild[newTP] = o.ID
	e.byChild[newSL] = o.ID
	o.TakeProfitOrderID = newTP
	o.StopLossOrderID = newSL
	o.Quantity = remaining.Quantity
	o.Status = StatusAmended
	e.mu.Unlock()

	logger.Infof("Rebracketed %s remainder qty=%s (tp=%s sl=%s)", symbol, remaining.Quantity, tpPrice, slPrice)
	return nil
}

func (e *Engine) replaceLeg(ctx context.Context, symbol, orderID string, qty, price decimal.Decimal) (string, error) {
	err := e.withCall(ctx, func(callCtx context.Context) error {
		_, cancelErr := e.client.CancelOrder(callCtx, orderID)
		return cancelErr
	})
	if err != nil {
		return "", fmt.Errorf("cancel %s: %w", orderID, err)
	}
	res, err := e.placeWithRetry(ctx, "resized leg", func(callCtx context.Context) (*exchange.OrderResult, error) {
		return e.client.PlaceLimitOrder(callCtx, symbol, exchange.SideSell, qty, price)
	})
	if err != nil {
		return "", err
	}
	return res.OrderID, nil
}

func (e *Engine) escalateUnprotected(symbol string, cause error) error {
	msg := fmt.Sprintf("UNPROTECTED POSITION on %s while rebracketing: %v", symbol, cause)
	if sendErr := e.notifier.Send(alert.SeverityCritical, msg); sendErr != nil {
		logger.Errorf("Failed to send critical alert: %v", sendErr)
	}
	return fmt.Errorf("%s: %w", symbol, ErrPositionUnprotected)
}
