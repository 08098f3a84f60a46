package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/kraken-scalp-bot/internal/alert"
)

var (
	sellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalp_bot_sells_total",
			Help: "Total number of completed sell executions",
		},
		[]string{"symbol", "success"},
	)

	profitUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalp_bot_profit_usd_total",
			Help: "Cumulative realized profit in USD",
		},
		[]string{"symbol"},
	)

	decisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scalp_bot_decision_latency_ms",
			Help:    "Latency of sell decision optimization in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000},
		},
	)

	executionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scalp_bot_execution_latency_ms",
			Help:    "Latency of sell execution in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	slippagePct = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scalp_bot_slippage_pct",
			Help:    "Observed slippage per sell as a fraction",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005},
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalp_bot_alerts_total",
			Help: "Total number of alerts emitted by severity",
		},
		[]string{"severity"},
	)
)

func init() {
	prometheus.MustRegister(sellsTotal)
	prometheus.MustRegister(profitUSD)
	prometheus.MustRegister(decisionLatency)
	prometheus.MustRegister(executionLatency)
	prometheus.MustRegister(slippagePct)
	prometheus.MustRegister(alertsTotal)
}

func recordSell(metric ExecutionMetric) {
	success := "false"
	if metric.Success {
		success = "true"
	}
	sellsTotal.WithLabelValues(metric.Symbol, success).Inc()
	if metric.ProfitUSD > 0 {
		profitUSD.WithLabelValues(metric.Symbol).Add(metric.ProfitUSD)
	}
	executionLatency.Observe(metric.ExecutionTimeMs)
	slippagePct.Observe(metric.SlippagePct)
}

func observeDecisionLatency(ms float64) {
	decisionLatency.Observe(ms)
}

func countAlert(severity alert.Severity) {
	alertsTotal.WithLabelValues(string(severity)).Inc()
}

// MetricsHandler serves the Prometheus metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
