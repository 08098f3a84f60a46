package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/market"
	"github.com/your-org/kraken-scalp-bot/internal/position"
)

// Profit thresholds steering order type and urgency, as fractions.
const (
	microProfitPct    = 0.005 // at or below: speed over price, go to market
	smallProfitPct    = 0.002 // at or below: bump urgency, profit is evaporating
	solidProfitPct    = 0.01
	strongProfitPct   = 0.02
	highVolatility    = 0.05
	illiquidThreshold = 0.5
)

// executionWindows maps urgency level (1..10) to the execution window.
var executionWindows = map[int]time.Duration{
	1:  300 * time.Second,
	2:  240 * time.Second,
	3:  180 * time.Second,
	4:  120 * time.Second,
	5:  90 * time.Second,
	6:  60 * time.Second,
	7:  30 * time.Second,
	8:  15 * time.Second,
	9:  10 * time.Second,
	10: 5 * time.Second,
}

// Optimizer computes execution parameters for sell decisions. It consults
// the market analyzer for every decision; the analyzer's conservative
// fallback guarantees optimization never blocks on missing market data.
type Optimizer struct {
	analyzer *market.Analyzer
	cfg      config.OptimizerConfig
}

// New creates an Optimizer.
func New(analyzer *market.Analyzer, cfg config.OptimizerConfig) *Optimizer {
	return &Optimizer{analyzer: analyzer, cfg: cfg}
}

// Optimize produces an execution plan for selling part of a position. Every
// branch taken is recorded in Reasons for auditability.
func (o *Optimizer) Optimize(ctx context.Context, decision SellDecision, pos *position.Position) (*OptimizedSellSignal, error) {
	if decision.SuggestedFraction <= 0 || decision.SuggestedFraction > 1 {
		return nil, fmt.Errorf("suggested fraction %f outside (0,1]", decision.SuggestedFraction)
	}

	cond := o.analyzer.Analyze(ctx, decision.Symbol)
	sig := &OptimizedSellSignal{Symbol: decision.Symbol}

	refPrice := cond.Last
	if refPrice.Sign() <= 0 {
		refPrice = pos.EntryPrice
		sig.addReason("no live price, sizing against entry price")
	}

	o.shapeAmount(sig, decision, pos, cond, refPrice)
	o.choosePriceAndType(sig, decision, cond)
	o.scoreUrgency(sig, decision, cond)
	o.estimateSlippage(sig, cond)
	o.boostConfidence(sig, decision, cond)

	return sig, nil
}

func (s *OptimizedSellSignal) addReason(format string, args ...interface{}) {
	s.Reasons = append(s.Reasons, fmt.Sprintf(format, args...))
}

// shapeAmount sizes the sell. The amount starts from the suggested fraction
// of the position, shrinks 30% in hostile illiquid markets, is floored at
// the minimum viable order size, and never exceeds the open quantity.
func (o *Optimizer) shapeAmount(sig *OptimizedSellSignal, decision SellDecision, pos *position.Position, cond market.Condition, refPrice decimal.Decimal) {
	amount := pos.Quantity.Mul(decimal.NewFromFloat(decision.SuggestedFraction))
	sig.addReason("base amount %s (%.0f%% of position)", amount, decision.SuggestedFraction*100)

	if cond.ExecutionRisk == market.RiskHigh && cond.LiquidityScore < illiquidThreshold {
		amount = amount.Mul(decimal.NewFromFloat(0.7))
		sig.addReason("high risk and thin liquidity (score %.2f), reducing amount 30%%", cond.LiquidityScore)
	}

	if refPrice.Sign() > 0 {
		minViable := decimal.NewFromFloat(o.cfg.MinOrderNotional).Div(refPrice)
		if amount.LessThan(minViable) {
			amount = minViable
			sig.addReason("raised amount to minimum viable order size %s", minViable)
		}
	}

	if amount.GreaterThan(pos.Quantity) {
		amount = pos.Quantity
		sig.addReason("capped amount at open quantity %s", pos.Quantity)
	}
	sig.OptimizedAmount = amount
}

// choosePriceAndType selects the order type and, for limit styles, the
// price. Branches are ordered and short-circuit.
func (o *Optimizer) choosePriceAndType(sig *OptimizedSellSignal, decision SellDecision, cond market.Condition) {
	switch {
	case decision.ProfitPct <= microProfitPct:
		sig.OrderType = market.OrderTypeMarket
		sig.addReason("profit %.2f%% at or below %.1f%%, speed over price", decision.ProfitPct*100, microProfitPct*100)
	case decision.Urgency == UrgencyHigh || decision.Urgency == UrgencyCritical:
		sig.OrderType = market.OrderTypeMarket
		sig.addReason("urgency %s forces market order", decision.Urgency)
	case cond.ExecutionRisk == market.RiskHigh:
		sig.OrderType = market.OrderTypeMarket
		sig.addReason("high execution risk forces market order")
	case cond.SpreadPct < o.cfg.MinSpreadForLimit && decision.ProfitPct > solidProfitPct:
		sig.OrderType = market.OrderTypeLimit
		// Price inside the spread: capture part of it without crossing.
		improvement := cond.Last.Mul(decimal.NewFromFloat(cond.SpreadPct * 0.3))
		price := cond.Bid.Add(improvement)
		sig.OptimizedPrice = &price
		sig.addReason("tight spread %.4f%% with %.2f%% profit, limit at %s captures spread", cond.SpreadPct*100, decision.ProfitPct*100, price)
	default:
		sig.OrderType = cond.OptimalOrderType
		switch cond.OptimalOrderType {
		case market.OrderTypeLimit:
			price := cond.Bid
			sig.OptimizedPrice = &price
			sig.addReason("analyzer default: passive limit at bid %s", price)
		case market.OrderTypeAggressiveLimit:
			price := cond.Ask
			sig.OptimizedPrice = &price
			sig.addReason("analyzer default: aggressive limit at ask %s", price)
		default:
			sig.addReason("analyzer default: market order")
		}
	}
}

// scoreUrgency computes the 1..10 urgency level and execution window.
func (o *Optimizer) scoreUrgency(sig *OptimizedSellSignal, decision SellDecision, cond market.Condition) {
	level := decision.Urgency.baseLevel()
	sig.addReason("base urgency %d from %s", level, decision.Urgency)

	if decision.ProfitPct >= strongProfitPct {
		level += 2
		sig.addReason("profit at or above %.0f%%, urgency +2", strongProfitPct*100)
	}
	if decision.ProfitPct <= smallProfitPct {
		level++
		sig.addReason("profit at or below %.1f%% risks evaporating, urgency +1", smallProfitPct*100)
	}
	if cond.ExecutionRisk == market.RiskHigh {
		level += 2
		sig.addReason("high execution risk, urgency +2")
	}
	if cond.Volatility > highVolatility {
		level++
		sig.addReason("volatility %.3f above %.2f, urgency +1", cond.Volatility, highVolatility)
	}

	if level < 1 {
		level = 1
	}
	if level > 10 {
		level = 10
	}
	sig.UrgencyLevel = level
	sig.ExecutionWindow = executionWindows[level]
}

// estimateSlippage models expected slippage from spread, order type,
// liquidity and volatility, capped at twice the configured tolerance.
func (o *Optimizer) estimateSlippage(sig *OptimizedSellSignal, cond market.Condition) {
	estimate := cond.SpreadPct / 2

	switch sig.OrderType {
	case market.OrderTypeMarket:
		estimate *= 1.5
	case market.OrderTypeAggressiveLimit:
		estimate *= 0.8
	case market.OrderTypeLimit:
		estimate *= 0.3
	}

	estimate *= 2 - cond.LiquidityScore
	estimate *= 1 + cond.Volatility*10

	limit := 2 * o.cfg.MaxSlippageTolerance
	if estimate > limit {
		estimate = limit
		sig.addReason("slippage estimate capped at %.4f%%", limit*100)
	}
	sig.ExpectedSlippagePct = estimate
}

// boostConfidence adds up to 0.25 of confidence for favorable conditions.
func (o *Optimizer) boostConfidence(sig *OptimizedSellSignal, decision SellDecision, cond market.Condition) {
	var boost float64
	if cond.ExecutionRisk == market.RiskLow {
		boost += 0.1
		sig.addReason("low execution risk, confidence +0.10")
	}
	if cond.LiquidityScore > 0.9 {
		boost += 0.05
		sig.addReason("deep liquidity (score %.2f), confidence +0.05", cond.LiquidityScore)
	}
	if decision.ProfitPct >= solidProfitPct {
		boost += 0.1
		sig.addReason("profit at or above %.0f%%, confidence +0.10", solidProfitPct*100)
	}
	if decision.ProfitPct >= microProfitPct {
		boost += 0.05
		sig.addReason("profit at or above %.1f%%, confidence +0.05", microProfitPct*100)
	}
	if sig.ExpectedSlippagePct < o.cfg.MaxSlippageTolerance/2 {
		boost += 0.05
		sig.addReason("slippage estimate well inside tolerance, confidence +0.05")
	}
	if boost > 0.25 {
		boost = 0.25
		sig.addReason("confidence boost capped at 0.25")
	}
	sig.ConfidenceBoost = boost
}
