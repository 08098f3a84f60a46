package bracket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/your-org/kraken-scalp-bot/internal/alert"
	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/exchange"
	"github.com/your-org/kraken-scalp-bot/internal/position"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

// Engine owns all bracket orders. Every mutation of a symbol's bracket and
// position state is serialized through the shared per-symbol lock; across
// symbols operations run concurrently, bounded by a global in-flight
// semaphore so exchange rate limits are respected.
type Engine struct {
	client   exchange.Client
	store    *position.Store
	locks    *position.KeyedMutex
	notifier alert.Notifier
	sem      *semaphore.Weighted
	cfg      config.BracketConfig

	mu       sync.RWMutex
	brackets map[string]*Order // by bracket ID
	byChild  map[string]string // child order ID -> bracket ID
	bySymbol map[string]string // symbol -> bracket ID
}

// NewEngine creates a bracket engine.
func NewEngine(client exchange.Client, store *position.Store, notifier alert.Notifier, cfg config.BracketConfig) *Engine {
	inflight := cfg.MaxInflightOrders
	if inflight <= 0 {
		inflight = 4
	}
	return &Engine{
		client:   client,
		store:    store,
		locks:    store.Locker(),
		notifier: notifier,
		sem:      semaphore.NewWeighted(inflight),
		cfg:      cfg,
		brackets: make(map[string]*Order),
		byChild:  make(map[string]string),
		bySymbol: make(map[string]string),
	}
}

func (e *Engine) callTimeout() time.Duration {
	if e.cfg.CallTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.cfg.CallTimeoutSeconds) * time.Second
}

// withCall wraps one exchange call with the global concurrency limit and a
// per-call timeout. Timeouts surface as exchange.ErrTimeout to the lock
// holder rather than hanging the per-symbol lock.
func (e *Engine) withCall(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout())
	defer cancel()
	err := fn(callCtx)
	if callCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%v: %w", err, exchange.ErrTimeout)
	}
	return err
}

// placeWithRetry retries an order placement with bounded exponential
// backoff. It never retries indefinitely.
func (e *Engine) placeWithRetry(ctx context.Context, what string, fn func(ctx context.Context) (*exchange.OrderResult, error)) (*exchange.OrderResult, error) {
	retries := e.cfg.MaxPlaceRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := time.Duration(e.cfg.RetryBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		var res *exchange.OrderResult
		err := e.withCall(ctx, func(callCtx context.Context) error {
			var placeErr error
			res, placeErr = fn(callCtx)
			return placeErr
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		logger.Warnf("Placement of %s failed (attempt %d/%d): %v", what, attempt, retries, err)
		if attempt < retries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("%s after %d attempts: %w (last: %v)", what, retries, ErrOrderPlacementFailed, lastErr)
}

// PlaceBracket opens a protected position: entry order (market when
// entryPrice is nil), then take-profit and stop-loss legs placed
// concurrently once the entry fills, to minimize the unprotected window.
func (e *Engine) PlaceBracket(ctx context.Context, symbol string, qty decimal.Decimal, entryPrice *decimal.Decimal, profitTargetPct, stopLossPct float64) (*Order, error) {
	if profitTargetPct <= 0 || stopLossPct <= 0 || stopLossPct >= 1 {
		return nil, fmt.Errorf("invalid bracket percentages tp=%f sl=%f", profitTargetPct, stopLossPct)
	}

	e.locks.Lock(symbol)
	defer e.locks.Unlock(symbol)

	entry, err := e.placeEntry(ctx, symbol, qty, entryPrice)
	if err != nil {
		return nil, err
	}
	fillPrice, err := e.awaitFill(ctx, entry.OrderID, entry.FillPrice)
	if err != nil {
		return nil, fmt.Errorf("entry %s placed but fill not confirmed: %w", entry.OrderID, err)
	}

	if _, err := e.store.Open(symbol, qty, fillPrice); err != nil {
		return nil, err
	}

	order := &Order{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		EntryOrderID:    entry.OrderID,
		EntryPrice:      fillPrice,
		Quantity:        qty,
		TakeProfitPrice: fillPrice.Mul(decimal.NewFromFloat(1 + profitTargetPct)),
		StopLossPrice:   fillPrice.Mul(decimal.NewFromFloat(1 - stopLossPct)),
		ProfitTargetPct: profitTargetPct,
		StopLossPct:     stopLossPct,
		Status:          StatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	if err := order.checkInvariant(); err != nil {
		return nil, err
	}

	if err := e.placeProtectiveLegs(ctx, order); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.brackets[order.ID] = order
	e.byChild[order.TakeProfitOrderID] = order.ID
	e.byChild[order.StopLossOrderID] = order.ID
	e.bySymbol[symbol] = order.ID
	e.mu.Unlock()

	logger.Infof("Bracket %s active for %s: entry=%s tp=%s sl=%s qty=%s",
		order.ID, symbol, order.EntryPrice, order.TakeProfitPrice, order.StopLossPrice, qty)
	cp := *order
	return &cp, nil
}

func (e *Engine) placeEntry(ctx context.Context, symbol string, qty decimal.Decimal, entryPrice *decimal.Decimal) (*exchange.OrderResult, error) {
	if entryPrice == nil {
		return e.placeWithRetry(ctx, "entry market order", func(callCtx context.Context) (*exchange.OrderResult, error) {
			return e.client.PlaceMarketOrder(callCtx, symbol, exchange.SideBuy, qty)
		})
	}
	price := *entryPrice
	return e.placeWithRetry(ctx, "entry limit order", func(callCtx context.Context) (*exchange.OrderResult, error) {
		return e.client.PlaceLimitOrder(callCtx, symbol, exchange.SideBuy, qty, price)
	})
}

// awaitFill polls the order status until the entry reports filled.
func (e *Engine) awaitFill(ctx context.Context, orderID string, knownFill decimal.Decimal) (decimal.Decimal, error) {
	if knownFill.Sign() > 0 {
		return knownFill, nil
	}
	const pollInterval = 500 * time.Millisecond
	for {
		var status *exchange.OrderStatus
		err := e.withCall(ctx, func(callCtx context.Context) error {
			var qErr error
			status, qErr = e.client.GetOrderStatus(callCtx, orderID)
			return qErr
		})
		if err != nil {
			return decimal.Decimal{}, err
		}
		switch status.State {
		case exchange.OrderFilled:
			return status.FilledPrice, nil
		case exchange.OrderCancelled:
			return decimal.Decimal{}, fmt.Errorf("entry order %s was cancelled before filling", orderID)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return decimal.Decimal{}, ctx.Err()
		}
	}
}

// placeProtectiveLegs places TP and SL concurrently. A failed leg leaves the
// position partially or fully unprotected; that state is escalated, never
// silently retried beyond the bounded placement retries.
func (e *Engine) placeProtectiveLegs(ctx context.Context, order *Order) error {
	g, gctx := errgroup.WithContext(ctx)

	var tpRes, slRes *exchange.OrderResult
	g.Go(func() error {
		res, err := e.placeWithRetry(gctx, "take-profit leg", func(callCtx context.Context) (*exchange.OrderResult, error) {
			return e.client.PlaceLimitOrder(callCtx, order.Symbol, exchange.SideSell, order.Quantity, order.TakeProfitPrice)
		})
		tpRes = res
		return err
	})
	g.Go(func() error {
		res, err := e.placeWithRetry(gctx, "stop-loss leg", func(callCtx context.Context) (*exchange.OrderResult, error) {
			return e.client.PlaceLimitOrder(callCtx, order.Symbol, exchange.SideSell, order.Quantity, order.StopLossPrice)
		})
		slRes = res
		return err
	})

	if err := g.Wait(); err != nil {
		msg := fmt.Sprintf("UNPROTECTED POSITION on %s: entry %s filled at %s but protective leg placement failed: %v",
			order.Symbol, order.EntryOrderID, order.EntryPrice, err)
		if sendErr := e.notifier.Send(alert.SeverityCritical, msg); sendErr != nil {
			logger.Errorf("Failed to send critical alert: %v", sendErr)
		}
		return fmt.Errorf("%s: %w", order.Symbol, ErrPositionUnprotected)
	}

	order.TakeProfitOrderID = tpRes.OrderID
	order.StopLossOrderID = slRes.OrderID
	return nil
}

// Get returns a copy of a bracket by ID.
func (e *Engine) Get(bracketID string) (*Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.brackets[bracketID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", bracketID, ErrBracketNotFound)
	}
	cp := *o
	return &cp, nil
}

// GetBySymbol returns a copy of the active bracket for a symbol.
func (e *Engine) GetBySymbol(symbol string) (*Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.bySymbol[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrBracketNotFound)
	}
	cp := *e.brackets[id]
	return &cp, nil
}

// CancelBracket unwinds both protective legs and marks the bracket
// cancelled. The owning position is left to the caller (manual exits sell
// it separately).
func (e *Engine) CancelBracket(ctx context.Context, bracketID string) error {
	e.mu.RLock()
	o, ok := e.brackets[bracketID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", bracketID, ErrBracketNotFound)
	}

	e.locks.Lock(o.Symbol)
	defer e.locks.Unlock(o.Symbol)

	var firstErr error
	for _, childID := range []string{o.TakeProfitOrderID, o.StopLossOrderID} {
		if childID == "" {
			continue
		}
		err := e.withCall(ctx, func(callCtx context.Context) error {
			_, cancelErr := e.client.CancelOrder(callCtx, childID)
			return cancelErr
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cancel child %s: %w", childID, err)
		}
	}

	e.mu.Lock()
	o.Status = StatusCancelled
	delete(e.bySymbol, o.Symbol)
	e.mu.Unlock()

	logger.Infof("Bracket %s on %s cancelled", bracketID, o.Symbol)
	return firstErr
}

// HandleFill processes a fill report for a protective leg: the sibling leg
// is cancelled, the bracket transitions to Triggered, and the owning
// position is closed synchronously.
func (e *Engine) HandleFill(ctx context.Context, childOrderID string, fillPrice decimal.Decimal) error {
	e.mu.RLock()
	bracketID, ok := e.byChild[childOrderID]
	var o *Order
	if ok {
		o = e.brackets[bracketID]
	}
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("fill for %s: %w", childOrderID, ErrBracketNotFound)
	}

	e.locks.Lock(o.Symbol)
	defer e.locks.Unlock(o.Symbol)

	e.mu.Lock()
	if o.Status == StatusTriggered || o.Status == StatusCancelled {
		e.mu.Unlock()
		return nil // duplicate fill report
	}
	o.Status = StatusTriggered
	sibling := o.TakeProfitOrderID
	if childOrderID == sibling {
		sibling = o.StopLossOrderID
	}
	delete(e.bySymbol, o.Symbol)
	e.mu.Unlock()

	if sibling != "" {
		err := e.withCall(ctx, func(callCtx context.Context) error {
			_, cancelErr := e.client.CancelOrder(callCtx, sibling)
			return cancelErr
		})
		if err != nil {
			logger.Errorf("Failed to cancel sibling %s after fill of %s: %v", sibling, childOrderID, err)
		}
	}

	if _, err := e.store.Reduce(o.Symbol, o.Quantity); err != nil {
		return fmt.Errorf("closing position after bracket trigger: %w", err)
	}

	kind := "take-profit"
	if childOrderID == o.StopLossOrderID {
		kind = "stop-loss"
	}
	logger.Infof("Bracket %s on %s triggered by %s fill at %s", o.ID, o.Symbol, kind, fillPrice)
	if err := e.notifier.Send(alert.SeverityInfo,
		fmt.Sprintf("%s %s filled at %s, position closed", o.Symbol, kind, fillPrice)); err != nil {
		logger.Errorf("Failed to send fill alert: %v", err)
	}
	return nil
}
