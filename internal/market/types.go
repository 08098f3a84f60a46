// Package market turns raw ticker snapshots into structured market
// condition assessments used by every downstream sell decision.
package market

import "github.com/shopspring/decimal"

// ExecutionRisk classifies how hostile current conditions are to execution.
type ExecutionRisk int

const (
	// RiskLow indicates tight spread and calm conditions.
	RiskLow ExecutionRisk = iota
	// RiskMedium indicates moderately wide spread or elevated volatility.
	RiskMedium
	// RiskHigh indicates a wide spread or volatile market.
	RiskHigh
)

// String returns the string representation of ExecutionRisk.
func (r ExecutionRisk) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// OrderType is the execution style recommended for an order.
type OrderType int

const (
	// OrderTypeMarket crosses the spread immediately.
	OrderTypeMarket OrderType = iota
	// OrderTypeLimit rests passively at or inside the spread.
	OrderTypeLimit
	// OrderTypeAggressiveLimit prices at or near the touch to fill fast
	// while keeping price protection.
	OrderTypeAggressiveLimit
)

// String returns the string representation of OrderType.
func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeAggressiveLimit:
		return "AGGRESSIVE_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// Condition is a derived, per-decision assessment of a symbol's market.
// It is recomputed for every decision and never persisted.
type Condition struct {
	Symbol           string
	Bid              decimal.Decimal
	Ask              decimal.Decimal
	Last             decimal.Decimal
	Volatility       float64
	SpreadPct        float64
	VolumeRatio      float64
	Momentum         float64
	LiquidityScore   float64 // in [0,1]
	ExecutionRisk    ExecutionRisk
	OptimalOrderType OrderType
}
