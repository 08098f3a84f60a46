package market

import (
	"math"
	"sync"
)

// VolatilityEstimator maintains an EWMA (Exponentially Weighted Moving
// Average) estimate of the variance of simple price returns per symbol.
// It replaces the crude spread-derived volatility proxy once enough ticks
// have been observed.
type VolatilityEstimator struct {
	mu     sync.Mutex
	lambda float64 // weight of the newest squared return
	states map[string]*volState
}

type volState struct {
	prevPrice float64
	ewmVar    float64
	samples   int
}

// minSamples is the warm-up count before the estimate is considered usable.
const minSamples = 10

// NewVolatilityEstimator creates an estimator with the given decay factor.
// lambda is the weight of the current observation, e.g. 0.1.
func NewVolatilityEstimator(lambda float64) *VolatilityEstimator {
	return &VolatilityEstimator{
		lambda: lambda,
		states: make(map[string]*volState),
	}
}

// Observe feeds a new price for a symbol into the estimator.
func (v *VolatilityEstimator) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.states[symbol]
	if !ok {
		v.states[symbol] = &volState{prevPrice: price}
		return
	}
	if st.prevPrice <= 0 {
		st.prevPrice = price
		return
	}

	ret := (price - st.prevPrice) / st.prevPrice
	// RiskMetrics form with zero assumed mean return:
	// Var_t = (1-lambda) * Var_{t-1} + lambda * R_t^2
	st.ewmVar = (1-v.lambda)*st.ewmVar + v.lambda*(ret*ret)
	st.prevPrice = price
	st.samples++
}

// StdDev returns the current EWMA standard deviation of returns for a
// symbol. ok is false until the estimator has warmed up, in which case
// callers should fall back to a proxy.
func (v *VolatilityEstimator) StdDev(symbol string) (stddev float64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, found := v.states[symbol]
	if !found || st.samples < minSamples {
		return 0, false
	}
	return math.Sqrt(st.ewmVar), true
}
