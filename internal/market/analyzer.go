package market

import (
	"context"

	"github.com/your-org/kraken-scalp-bot/internal/exchange"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

// Risk classification thresholds.
const (
	highRiskSpreadPct   = 0.002
	highRiskVolatility  = 0.05
	mediumRiskSpreadPct = 0.001
	mediumRiskVolatility = 0.02

	maxVolumeRatio = 2.0
)

// Analyzer derives a Condition from a live ticker snapshot. It must never
// block a sell decision: on data-source failure it returns a conservative
// default instead of an error.
type Analyzer struct {
	client          exchange.Client
	vol             *VolatilityEstimator
	referenceVolume float64
}

// NewAnalyzer creates an Analyzer. referenceVolume is the volume considered
// "normal" for the traded pairs; current volume is normalized against it.
func NewAnalyzer(client exchange.Client, vol *VolatilityEstimator, referenceVolume float64) *Analyzer {
	if referenceVolume <= 0 {
		referenceVolume = 1
	}
	return &Analyzer{client: client, vol: vol, referenceVolume: referenceVolume}
}

// Analyze fetches a ticker for the symbol and computes the current market
// condition. The returned Condition is always usable.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) Condition {
	ticker, err := a.client.GetTicker(ctx, symbol)
	if err != nil {
		logger.Warnf("Market data unavailable for %s (%v), using conservative default", symbol, err)
		return conservativeDefault(symbol)
	}
	return a.assess(symbol, ticker)
}

func (a *Analyzer) assess(symbol string, t *exchange.Ticker) Condition {
	bid, _ := t.Bid.Float64()
	ask, _ := t.Ask.Float64()
	last, _ := t.Last.Float64()
	volume, _ := t.Volume.Float64()
	high, _ := t.High.Float64()
	low, _ := t.Low.Float64()

	var spreadPct float64
	if last > 0 {
		spreadPct = (ask - bid) / last
	}
	if spreadPct < 0 {
		spreadPct = 0
	}

	if a.vol != nil {
		a.vol.Observe(symbol, last)
	}
	volatility, ok := a.volEstimate(symbol)
	if !ok {
		// Heuristic proxy until the return-based estimator has warmed up.
		volatility = spreadPct * 10
	}

	volumeRatio := clamp(volume/a.referenceVolume, 0, maxVolumeRatio)
	liquidityScore := clamp(volumeRatio*(1-spreadPct*100), 0, 1)

	var momentum float64
	if mid := (high + low) / 2; mid > 0 {
		momentum = (last - mid) / mid
	}

	cond := Condition{
		Symbol:         symbol,
		Bid:            t.Bid,
		Ask:            t.Ask,
		Last:           t.Last,
		Volatility:     volatility,
		SpreadPct:      spreadPct,
		VolumeRatio:    volumeRatio,
		Momentum:       momentum,
		LiquidityScore: liquidityScore,
	}

	switch {
	case spreadPct > highRiskSpreadPct || volatility > highRiskVolatility:
		cond.ExecutionRisk = RiskHigh
		cond.OptimalOrderType = OrderTypeMarket
	case spreadPct > mediumRiskSpreadPct || volatility > mediumRiskVolatility:
		cond.ExecutionRisk = RiskMedium
		cond.OptimalOrderType = OrderTypeAggressiveLimit
	default:
		cond.ExecutionRisk = RiskLow
		cond.OptimalOrderType = OrderTypeLimit
	}
	return cond
}

func (a *Analyzer) volEstimate(symbol string) (float64, bool) {
	if a.vol == nil {
		return 0, false
	}
	return a.vol.StdDev(symbol)
}

// conservativeDefault is the assessment used when no market data is
// available: medium risk with market orders, so exits still go through.
func conservativeDefault(symbol string) Condition {
	return Condition{
		Symbol:           symbol,
		SpreadPct:        0.001,
		VolumeRatio:      1.0,
		LiquidityScore:   0.5,
		ExecutionRisk:    RiskMedium,
		OptimalOrderType: OrderTypeMarket,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
