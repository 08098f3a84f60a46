package bracket

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/your-org/kraken-scalp-bot/internal/exchange"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

// Rebuild reconstructs in-memory bracket and position state from the
// exchange's open orders after a restart, instead of trusting a local
// cache. A symbol with exactly two resting sell orders is taken to be a
// protected position: the higher-priced order is the take-profit leg, the
// lower the stop-loss. The entry price is back-derived from the configured
// profit target.
func (e *Engine) Rebuild(ctx context.Context) error {
	var open []exchange.OpenOrder
	err := e.withCall(ctx, func(callCtx context.Context) error {
		var listErr error
		open, listErr = e.client.OpenOrders(callCtx)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("listing open orders for rebuild: %w", err)
	}

	sells := make(map[string][]exchange.OpenOrder)
	for _, o := range open {
		if o.Side == exchange.SideSell {
			sells[o.Symbol] = append(sells[o.Symbol], o)
		}
	}

	rebuilt := 0
	for symbol, orders := range sells {
		if len(orders) != 2 {
			logger.Warnf("Rebuild: %s has %d resting sell orders, expected 2; skipping", symbol, len(orders))
			continue
		}
		sort.Slice(orders, func(i, j int) bool {
			return orders[i].Price.GreaterThan(orders[j].Price)
		})
		tp, sl := orders[0], orders[1]

		entry := tp.Price.Div(decimal.NewFromFloat(1 + e.cfg.ProfitTargetPct))
		if !sl.Price.LessThan(entry) {
			logger.Warnf("Rebuild: derived entry %s for %s does not sit between legs (tp=%s sl=%s); skipping",
				entry, symbol, tp.Price, sl.Price)
			continue
		}

		if _, err := e.store.Open(symbol, tp.Qty, entry); err != nil {
			return fmt.Errorf("rebuild position for %s: %w", symbol, err)
		}

		order := &Order{
			ID:                uuid.NewString(),
			Symbol:            symbol,
			EntryPrice:        entry,
			Quantity:          tp.Qty,
			TakeProfitOrderID: tp.OrderID,
			TakeProfitPrice:   tp.Price,
			StopLossOrderID:   sl.OrderID,
			StopLossPrice:     sl.Price,
			ProfitTargetPct:   e.cfg.ProfitTargetPct,
			StopLossPct:       e.cfg.StopLossPct,
			Status:            StatusActive,
			CreatedAt:         time.Now().UTC(),
		}

		e.mu.Lock()
		e.brackets[order.ID] = order
		e.byChild[tp.OrderID] = order.ID
		e.byChild[sl.OrderID] = order.ID
		e.bySymbol[symbol] = order.ID
		e.mu.Unlock()
		rebuilt++
		logger.Infof("Rebuilt bracket for %s from open orders: entry~%s tp=%s sl=%s qty=%s",
			symbol, entry, tp.Price, sl.Price, tp.Qty)
	}

	logger.Infof("Rebuild complete: %d bracket(s) restored from %d open orders", rebuilt, len(open))
	return nil
}

// PollFills periodically checks the protective legs of all active brackets
// and routes detected fills through HandleFill. It runs until the context
// is cancelled.
func (e *Engine) PollFills(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkFills(ctx)
		}
	}
}

func (e *Engine) checkFills(ctx context.Context) {
	e.mu.RLock()
	children := make([]string, 0, len(e.byChild))
	for childID, bracketID := range e.byChild {
		if o := e.brackets[bracketID]; o.Status == StatusActive || o.Status == StatusAmended {
			children = append(children, childID)
		}
	}
	e.mu.RUnlock()

	for _, childID := range children {
		var status *exchange.OrderStatus
		err := e.withCall(ctx, func(callCtx context.Context) error {
			var qErr error
			status, qErr = e.client.GetOrderStatus(callCtx, childID)
			return qErr
		})
		if err != nil {
			logger.Errorf("Fill poll: status query for %s failed: %v", childID, err)
			continue
		}
		if status.State == exchange.OrderFilled {
			if err := e.HandleFill(ctx, childID, status.FilledPrice); err != nil {
				logger.Errorf("Fill poll: handling fill of %s failed: %v", childID, err)
			}
		}
	}
}
