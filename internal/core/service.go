// Package core wires the position, bracket, optimizer and monitor
// components behind the surface exposed to upstream strategy code.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/kraken-scalp-bot/internal/bracket"
	"github.com/your-org/kraken-scalp-bot/internal/monitor"
	"github.com/your-org/kraken-scalp-bot/internal/optimizer"
	"github.com/your-org/kraken-scalp-bot/internal/position"
)

// Service is the explicit dependency-injected entry point for strategy
// code. Constructed once at process start; no package-level state.
type Service struct {
	store     *position.Store
	brackets  *bracket.Engine
	optimizer *optimizer.Optimizer
	monitor   *monitor.Monitor
}

// NewService creates the core service.
func NewService(store *position.Store, brackets *bracket.Engine, opt *optimizer.Optimizer, mon *monitor.Monitor) *Service {
	return &Service{store: store, brackets: brackets, optimizer: opt, monitor: mon}
}

// OpenProtectedPosition opens a position and its protective bracket in one
// step. entryPrice nil means a market entry.
func (s *Service) OpenProtectedPosition(ctx context.Context, symbol string, qty decimal.Decimal, entryPrice *decimal.Decimal, profitTargetPct, stopLossPct float64) (*bracket.Order, error) {
	return s.brackets.PlaceBracket(ctx, symbol, qty, entryPrice, profitTargetPct, stopLossPct)
}

// RequestSell optimizes a sell decision against the current position and
// market conditions. The caller executes the returned plan against the
// exchange, then reports the outcome via ReportExecution with the returned
// decision ID.
func (s *Service) RequestSell(ctx context.Context, decision optimizer.SellDecision) (*optimizer.OptimizedSellSignal, monitor.DecisionID, error) {
	id := s.monitor.StartDecision(decision.Symbol)

	pos, err := s.store.Get(decision.Symbol)
	if err != nil {
		return nil, id, err
	}

	signal, err := s.optimizer.Optimize(ctx, decision, pos)
	if err != nil {
		return nil, id, err
	}
	if err := s.monitor.RecordDecisionComplete(id, signal); err != nil {
		return nil, id, err
	}
	return signal, id, nil
}

// ReportExecution records the outcome of an executed sell plan and, for
// partial exits, re-brackets the remaining quantity so it stays protected.
func (s *Service) ReportExecution(ctx context.Context, id monitor.DecisionID, symbol string, soldQty decimal.Decimal, result monitor.ExecutionResult) error {
	if result.Success && soldQty.Sign() > 0 {
		if err := s.brackets.ReduceAndRebracket(ctx, symbol, soldQty); err != nil {
			return err
		}
	}
	return s.monitor.RecordExecutionComplete(id, result)
}

// PerformanceSnapshot returns rolling statistics for the window.
func (s *Service) PerformanceSnapshot(window time.Duration) monitor.Stats {
	return s.monitor.GetStats(window)
}

// Recommendations returns current tuning recommendations derived from
// recorded metrics.
func (s *Service) Recommendations() []monitor.Recommendation {
	return s.monitor.GetRecommendations()
}
