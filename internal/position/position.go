// Package position owns the set of open positions. Pure data and
// invariants; no exchange I/O happens here.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrPositionNotFound is returned when no position exists for a symbol.
	ErrPositionNotFound = errors.New("position not found")
	// ErrInsufficientQuantity is returned when a reduction exceeds the open quantity.
	ErrInsufficientQuantity = errors.New("insufficient position quantity")
	// ErrPositionExists is returned when opening a second position on a symbol.
	ErrPositionExists = errors.New("position already exists for symbol")
)

// Position holds the state of one open long position.
type Position struct {
	ID               string
	Symbol           string
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	OpenedAt         time.Time
	HighestPriceSeen decimal.Decimal
}

// String returns a string representation of the position.
func (p *Position) String() string {
	return fmt.Sprintf("Position{Symbol: %s, Qty: %s, Entry: %s, High: %s}",
		p.Symbol, p.Quantity, p.EntryPrice, p.HighestPriceSeen)
}

// ProfitPct returns the unrealized profit fraction at the given price
// (0.01 == 1%).
func (p *Position) ProfitPct(price decimal.Decimal) float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	pct, _ := price.Sub(p.EntryPrice).Div(p.EntryPrice).Float64()
	return pct
}

// Store tracks open positions, one active position per symbol. All mutation
// goes through Open/Reduce/Close/MarkPrice, each serialized per symbol.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*Position
	locks     *KeyedMutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		positions: make(map[string]*Position),
		locks:     NewKeyedMutex(),
	}
}

// Locker returns the per-symbol mutex shared by all components mutating a
// symbol's position and bracket state.
func (s *Store) Locker() *KeyedMutex {
	return s.locks
}

// Open records a new position. Exactly one position per symbol may be
// active; a second Open returns ErrPositionExists.
func (s *Store) Open(symbol string, qty, price decimal.Decimal) (*Position, error) {
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("open %s: quantity must be positive, got %s", symbol, qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[symbol]; exists {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrPositionExists)
	}
	p := &Position{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		Quantity:         qty,
		EntryPrice:       price,
		OpenedAt:         time.Now().UTC(),
		HighestPriceSeen: price,
	}
	s.positions[symbol] = p
	cp := *p
	return &cp, nil
}

// Get returns a copy of the position for a symbol, or ErrPositionNotFound.
func (s *Store) Get(symbol string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", symbol, ErrPositionNotFound)
	}
	cp := *p
	return &cp, nil
}

// Reduce removes qty from the position (partial exit). Reducing to exactly
// zero closes and removes the position; reducing past zero is a caller error.
// The returned copy reflects the state after the reduction, nil when closed.
func (s *Store) Reduce(symbol string, qty decimal.Decimal) (*Position, error) {
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("reduce %s: quantity must be positive, got %s", symbol, qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("reduce %s: %w", symbol, ErrPositionNotFound)
	}
	if qty.GreaterThan(p.Quantity) {
		return nil, fmt.Errorf("reduce %s by %s with only %s open: %w",
			symbol, qty, p.Quantity, ErrInsufficientQuantity)
	}
	p.Quantity = p.Quantity.Sub(qty)
	if p.Quantity.IsZero() {
		delete(s.positions, symbol)
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// Close removes the position for a symbol regardless of remaining quantity.
func (s *Store) Close(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[symbol]; !ok {
		return fmt.Errorf("close %s: %w", symbol, ErrPositionNotFound)
	}
	delete(s.positions, symbol)
	return nil
}

// MarkPrice ratchets HighestPriceSeen for the symbol. Prices below the
// current high are ignored. Returns the updated copy.
func (s *Store) MarkPrice(symbol string, price decimal.Decimal) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("mark %s: %w", symbol, ErrPositionNotFound)
	}
	if price.GreaterThan(p.HighestPriceSeen) {
		p.HighestPriceSeen = price
	}
	cp := *p
	return &cp, nil
}

// Symbols returns the symbols with an open position.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		out = append(out, sym)
	}
	return out
}
