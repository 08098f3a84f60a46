// Package optimizer turns raw sell decisions into concrete execution plans
// shaped by current market conditions.
package optimizer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/kraken-scalp-bot/internal/market"
)

// Urgency is the caller-supplied urgency of a sell decision.
type Urgency int

const (
	// UrgencyLow means the sell can wait for a good price.
	UrgencyLow Urgency = iota
	// UrgencyMedium is the default urgency.
	UrgencyMedium
	// UrgencyHigh means the sell should execute promptly.
	UrgencyHigh
	// UrgencyCritical means the sell must execute immediately.
	UrgencyCritical
)

// String returns the string representation of Urgency.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "LOW"
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// baseLevel maps an Urgency to its base score on the 1..10 scale.
func (u Urgency) baseLevel() int {
	switch u {
	case UrgencyLow:
		return 3
	case UrgencyMedium:
		return 5
	case UrgencyHigh:
		return 7
	case UrgencyCritical:
		return 9
	default:
		return 5
	}
}

// SellDecision is a raw sell signal produced by upstream strategy logic.
type SellDecision struct {
	Symbol            string
	ProfitPct         float64 // unrealized profit fraction, 0.01 == 1%
	Confidence        float64 // in [0,1]
	Urgency           Urgency
	SuggestedFraction float64 // fraction of the position to sell, in (0,1]
	Reason            string
}

// OptimizedSellSignal is the execution plan derived from a SellDecision.
// The caller is responsible for executing it against the exchange.
type OptimizedSellSignal struct {
	Symbol              string
	OptimizedAmount     decimal.Decimal
	OptimizedPrice      *decimal.Decimal // nil means market order
	OrderType           market.OrderType
	UrgencyLevel        int // in [1,10]
	ExpectedSlippagePct float64
	ConfidenceBoost     float64
	ExecutionWindow     time.Duration
	Reasons             []string
}
