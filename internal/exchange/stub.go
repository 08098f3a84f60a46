package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// StubClient is an in-memory Client implementation used in tests, following
// the same role the in-memory repository plays for the datastore. Orders are
// acknowledged immediately; market orders fill at the configured ticker's
// last price.
type StubClient struct {
	mu         sync.Mutex
	nextID     int
	tickers    map[string]Ticker
	orders     map[string]*stubOrder
	amendable  bool
	TickerErr  error
	PlaceErr   error // returned by the next FailPlaces placements
	FailPlaces int
	AmendErr   error

	PlacedMarket []OpenOrder
	PlacedLimit  []OpenOrder
	Amends       map[string][]decimal.Decimal
	Cancels      []string
}

type stubOrder struct {
	status OrderStatus
	open   OpenOrder
}

// NewStubClient creates a StubClient. amendable controls SupportsAmend.
func NewStubClient(amendable bool) *StubClient {
	return &StubClient{
		tickers:   make(map[string]Ticker),
		orders:    make(map[string]*stubOrder),
		amendable: amendable,
		Amends:    make(map[string][]decimal.Decimal),
	}
}

// SetTicker sets the snapshot returned by GetTicker for a symbol.
func (s *StubClient) SetTicker(symbol string, t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[symbol] = t
}

// MarkFilled transitions an order to filled at the given price.
func (s *StubClient) MarkFilled(orderID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.status.State = OrderFilled
		o.status.FilledPrice = price
	}
}

func (s *StubClient) newOrder(symbol string, side Side, qty, price decimal.Decimal, state OrderState, fill decimal.Decimal) *OrderResult {
	s.nextID++
	id := fmt.Sprintf("O%04d", s.nextID)
	s.orders[id] = &stubOrder{
		status: OrderStatus{OrderID: id, State: state, FilledPrice: fill},
		open:   OpenOrder{OrderID: id, Symbol: symbol, Side: side, Price: price, Qty: qty},
	}
	return &OrderResult{OrderID: id, FillPrice: fill}
}

// PlaceMarketOrder records the order and fills it at the ticker's last price.
func (s *StubClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPlaces > 0 {
		s.FailPlaces--
		return nil, s.PlaceErr
	}
	last := s.tickers[symbol].Last
	res := s.newOrder(symbol, side, qty, last, OrderFilled, last)
	s.PlacedMarket = append(s.PlacedMarket, s.orders[res.OrderID].open)
	return res, nil
}

// PlaceLimitOrder records a resting limit order.
func (s *StubClient) PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPlaces > 0 {
		s.FailPlaces--
		return nil, s.PlaceErr
	}
	res := s.newOrder(symbol, side, qty, price, OrderOpen, decimal.Zero)
	s.PlacedLimit = append(s.PlacedLimit, s.orders[res.OrderID].open)
	return res, nil
}

// AmendOrder updates the resting order's price in place.
func (s *StubClient) AmendOrder(ctx context.Context, orderID string, price decimal.Decimal) (*Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.amendable {
		return nil, ErrAmendUnsupported
	}
	if s.AmendErr != nil {
		return nil, s.AmendErr
	}
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("stub: unknown order %s", orderID)
	}
	o.open.Price = price
	s.Amends[orderID] = append(s.Amends[orderID], price)
	return &Ack{OrderID: orderID}, nil
}

// CancelOrder marks the order cancelled.
func (s *StubClient) CancelOrder(ctx context.Context, orderID string) (*Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.status.State = OrderCancelled
	}
	s.Cancels = append(s.Cancels, orderID)
	return &Ack{OrderID: orderID}, nil
}

// GetTicker returns the configured snapshot for the symbol.
func (s *StubClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TickerErr != nil {
		return nil, s.TickerErr
	}
	t, ok := s.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("stub: no ticker for %s", symbol)
	}
	return &t, nil
}

// GetOrderStatus returns the recorded order status.
func (s *StubClient) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("stub: unknown order %s", orderID)
	}
	st := o.status
	return &st, nil
}

// GetBalance returns zero; balance-aware tests override via SetTicker-style helpers as needed.
func (s *StubClient) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// OpenOrders lists orders still in the open state.
func (s *StubClient) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OpenOrder
	for _, o := range s.orders {
		if o.status.State == OrderOpen {
			out = append(out, o.open)
		}
	}
	return out, nil
}

// SupportsAmend reports the configured amend capability.
func (s *StubClient) SupportsAmend() bool {
	return s.amendable
}
