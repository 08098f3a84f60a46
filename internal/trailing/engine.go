// Package trailing ratchets stop-loss orders in a position's favor as the
// market moves, independently per symbol.
package trailing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/kraken-scalp-bot/internal/bracket"
	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/exchange"
	"github.com/your-org/kraken-scalp-bot/internal/position"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

// State is the per-symbol trailing state.
type State int

const (
	// StateInactive means no position is open for the symbol.
	StateInactive State = iota
	// StateArmed means a position is open but profit has not reached the
	// activation threshold; the stop stays at its original fixed price.
	StateArmed
	// StateTrailing means the stop ratchets up behind new price highs.
	StateTrailing
	// StateTriggered means the stop order filled and the position closed.
	StateTriggered
	// StateCancelled means the bracket was unwound without triggering.
	StateCancelled
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateArmed:
		return "ARMED"
	case StateTrailing:
		return "TRAILING"
	case StateTriggered:
		return "TRIGGERED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

type symbolState struct {
	state       State
	currentStop decimal.Decimal
}

// Engine tracks trailing-stop state per symbol and issues stop amendments
// through the bracket engine. It supports both a polled cadence (Run) and
// push-based updates (OnPrice) from a live price feed; both may be active
// at once since every amendment is monotonic and idempotent.
type Engine struct {
	client   exchange.Client
	store    *position.Store
	brackets *bracket.Engine
	cfg      config.TrailingConfig

	mu     sync.Mutex
	states map[string]*symbolState
}

// NewEngine creates a trailing engine.
func NewEngine(client exchange.Client, store *position.Store, brackets *bracket.Engine, cfg config.TrailingConfig) *Engine {
	return &Engine{
		client:   client,
		store:    store,
		brackets: brackets,
		cfg:      cfg,
		states:   make(map[string]*symbolState),
	}
}

// State returns the current trailing state for a symbol.
func (e *Engine) State(symbol string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[symbol]
	if !ok {
		return StateInactive
	}
	return st.state
}

// OnPrice processes a price update for a symbol. It is the push-based entry
// point, driven by the websocket ticker feed.
func (e *Engine) OnPrice(ctx context.Context, symbol string, price decimal.Decimal) {
	pos, err := e.store.Get(symbol)
	if err != nil {
		if errors.Is(err, position.ErrPositionNotFound) {
			e.noteClosed(symbol)
			return
		}
		logger.Errorf("Trailing: position lookup for %s failed: %v", symbol, err)
		return
	}

	br, err := e.brackets.GetBySymbol(symbol)
	if err != nil {
		// Position without an active bracket: nothing to trail.
		return
	}

	if _, err := e.store.MarkPrice(symbol, price); err != nil {
		logger.Errorf("Trailing: marking price for %s failed: %v", symbol, err)
		return
	}

	e.mu.Lock()
	st, ok := e.states[symbol]
	if !ok {
		st = &symbolState{state: StateArmed, currentStop: br.StopLossPrice}
		e.states[symbol] = st
	}

	profit := pos.ProfitPct(price)
	if st.state == StateArmed && profit >= e.cfg.ActivationPct {
		st.state = StateTrailing
		logger.Infof("Trailing activated for %s at profit %.4f", symbol, profit)
	}
	if st.state != StateTrailing {
		e.mu.Unlock()
		return
	}

	newStop := price.Mul(decimal.NewFromFloat(1 - e.cfg.DistancePct))
	if !newStop.GreaterThan(st.currentStop) {
		// Stop is monotonically non-decreasing; never trail backwards.
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := e.brackets.UpdateStopPrice(ctx, symbol, newStop); err != nil {
		logger.Errorf("Trailing: stop amendment for %s failed: %v", symbol, err)
		return
	}

	e.mu.Lock()
	if st.currentStop.LessThan(newStop) {
		st.currentStop = newStop
	}
	e.mu.Unlock()
}

// noteClosed transitions a tracked symbol out of the active states once its
// position is gone.
func (e *Engine) noteClosed(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[symbol]; ok && (st.state == StateArmed || st.state == StateTrailing) {
		st.state = StateTriggered
	}
}

// MarkCancelled records that the bracket for a symbol was unwound manually.
func (e *Engine) MarkCancelled(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[symbol]; ok {
		st.state = StateCancelled
	}
}

// Reset clears per-symbol state, returning it to Inactive.
func (e *Engine) Reset(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, symbol)
}

// Run polls tickers for all open positions on a fixed interval until the
// context is cancelled. This is the fallback cadence for symbols without a
// live push feed.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range e.store.Symbols() {
				t, err := e.client.GetTicker(ctx, symbol)
				if err != nil {
					logger.Warnf("Trailing poll: ticker for %s unavailable: %v", symbol, err)
					continue
				}
				e.OnPrice(ctx, symbol, t.Last)
			}
		}
	}
}
