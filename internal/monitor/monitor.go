// Package monitor records decision and execution latency and outcome for
// every sell, computes rolling statistics, and emits optimization
// recommendations.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/kraken-scalp-bot/internal/alert"
	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/optimizer"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
	"github.com/your-org/kraken-scalp-bot/pkg/ringbuf"
)

// DecisionID identifies one tracked sell decision.
type DecisionID string

// ExecutionResult describes how an optimized sell actually executed.
type ExecutionResult struct {
	Success     bool
	ProfitPct   float64
	ProfitUSD   float64
	Confidence  float64
	SlippagePct float64
	SellReason  string
}

// ExecutionMetric is the per-sell record retained in the bounded history.
type ExecutionMetric struct {
	Symbol          string
	Timestamp       time.Time
	DecisionTimeMs  float64
	ExecutionTimeMs float64
	ProfitPct       float64
	ProfitUSD       float64
	Confidence      float64
	SellReason      string
	Urgency         int
	Success         bool
	SlippagePct     float64
}

// Alert is one entry in the bounded alert history.
type Alert struct {
	Time     time.Time
	Severity alert.Severity
	Message  string
}

// Stats summarizes execution metrics over a time window.
type Stats struct {
	Window          time.Duration
	Count           int
	SuccessCount    int
	SuccessRate     float64
	AvgDecisionMs   float64
	AvgExecutionMs  float64
	AvgSlippagePct  float64
	AvgProfitPct    float64
	TotalProfitUSD  float64
}

// Recommendation is an advisory tuning suggestion derived from recent
// statistics. It is never auto-applied.
type Recommendation struct {
	Subject string
	Message string
}

// decisionState tracks one in-flight decision from start to execution.
type decisionState struct {
	symbol           string
	startedAt        time.Time
	decisionDoneAt   time.Time
	urgencyLevel     int
	decisionRecorded bool
}

// Monitor implements the performance monitoring surface. The active
// decision map is bounded by decision completion; history lives in ring
// buffers, so memory use is constant.
type Monitor struct {
	cfg      config.MonitorConfig
	metrics  *ringbuf.Buffer[ExecutionMetric]
	alerts   *ringbuf.Buffer[Alert]
	sink     MetricSink

	mu     sync.Mutex
	active map[DecisionID]*decisionState
}

// MetricSink receives every completed ExecutionMetric, e.g. for
// persistence. May be nil.
type MetricSink interface {
	SaveExecutionMetric(metric ExecutionMetric)
}

// New creates a Monitor. sink may be nil.
func New(cfg config.MonitorConfig, sink MetricSink) *Monitor {
	metricSize := cfg.MetricBufferSize
	if metricSize <= 0 {
		metricSize = 1000
	}
	alertSize := cfg.AlertBufferSize
	if alertSize <= 0 {
		alertSize = 100
	}
	return &Monitor{
		cfg:     cfg,
		metrics: ringbuf.New[ExecutionMetric](metricSize),
		alerts:  ringbuf.New[Alert](alertSize),
		sink:    sink,
		active:  make(map[DecisionID]*decisionState),
	}
}

// StartDecision begins tracking a sell decision for a symbol.
func (m *Monitor) StartDecision(symbol string) DecisionID {
	id := DecisionID(uuid.NewString())
	m.mu.Lock()
	m.active[id] = &decisionState{symbol: symbol, startedAt: time.Now()}
	m.mu.Unlock()
	return id
}

// RecordDecisionComplete marks the optimization phase of a decision done.
func (m *Monitor) RecordDecisionComplete(id DecisionID, signal *optimizer.OptimizedSellSignal) error {
	m.mu.Lock()
	st, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown decision %s", id)
	}
	st.decisionDoneAt = time.Now()
	st.decisionRecorded = true
	if signal != nil {
		st.urgencyLevel = signal.UrgencyLevel
	}
	decisionMs := float64(st.decisionDoneAt.Sub(st.startedAt)) / float64(time.Millisecond)
	m.mu.Unlock()

	observeDecisionLatency(decisionMs)
	if decisionMs > m.cfg.DecisionCriticalMs {
		m.emitAlert(alert.SeverityWarning,
			fmt.Sprintf("decision for %s took %.1fms (critical threshold %.0fms)", st.symbol, decisionMs, m.cfg.DecisionCriticalMs))
	}
	return nil
}

// RecordExecutionComplete finishes a decision: the metric is appended to
// the bounded history and the decision leaves the active map.
func (m *Monitor) RecordExecutionComplete(id DecisionID, result ExecutionResult) error {
	now := time.Now()
	m.mu.Lock()
	st, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown decision %s", id)
	}
	delete(m.active, id)
	m.mu.Unlock()

	if !st.decisionRecorded {
		st.decisionDoneAt = st.startedAt
	}
	decisionMs := float64(st.decisionDoneAt.Sub(st.startedAt)) / float64(time.Millisecond)
	executionMs := float64(now.Sub(st.decisionDoneAt)) / float64(time.Millisecond)

	metric := ExecutionMetric{
		Symbol:          st.symbol,
		Timestamp:       now,
		DecisionTimeMs:  decisionMs,
		ExecutionTimeMs: executionMs,
		ProfitPct:       result.ProfitPct,
		ProfitUSD:       result.ProfitUSD,
		Confidence:      result.Confidence,
		SellReason:      result.SellReason,
		Urgency:         st.urgencyLevel,
		Success:         result.Success,
		SlippagePct:     result.SlippagePct,
	}
	m.metrics.Add(metric)
	if m.sink != nil {
		m.sink.SaveExecutionMetric(metric)
	}
	recordSell(metric)

	if executionMs > m.cfg.ExecutionTargetMs {
		m.emitAlert(alert.SeverityWarning,
			fmt.Sprintf("execution for %s took %.1fms (target %.0fms)", st.symbol, executionMs, m.cfg.ExecutionTargetMs))
	}
	if result.Success && result.ProfitUSD > 0 {
		m.emitAlert(alert.SeverityInfo,
			fmt.Sprintf("%s sold for +$%.2f (%.2f%%) via %s", st.symbol, result.ProfitUSD, result.ProfitPct*100, result.SellReason))
	}
	return nil
}

// ActiveDecisions returns the number of decisions still being tracked.
func (m *Monitor) ActiveDecisions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Monitor) emitAlert(severity alert.Severity, message string) {
	a := Alert{Time: time.Now(), Severity: severity, Message: message}
	m.alerts.Add(a)
	countAlert(severity)
	switch severity {
	case alert.SeverityCritical:
		logger.Errorf("[monitor] %s", message)
	case alert.SeverityWarning:
		logger.Warnf("[monitor] %s", message)
	default:
		logger.Infof("[monitor] %s", message)
	}
}

// Alerts returns the retained alert history, oldest first.
func (m *Monitor) Alerts() []Alert {
	return m.alerts.Snapshot()
}

// GetStats computes rolling statistics over metrics within the window.
// A zero window covers the whole retained history.
func (m *Monitor) GetStats(window time.Duration) Stats {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	stats := Stats{Window: window}
	var sumDecision, sumExecution, sumSlippage, sumProfitPct float64
	for _, metric := range m.metrics.Snapshot() {
		if metric.Timestamp.Before(cutoff) {
			continue
		}
		stats.Count++
		if metric.Success {
			stats.SuccessCount++
		}
		sumDecision += metric.DecisionTimeMs
		sumExecution += metric.ExecutionTimeMs
		sumSlippage += metric.SlippagePct
		sumProfitPct += metric.ProfitPct
		stats.TotalProfitUSD += metric.ProfitUSD
	}
	if stats.Count > 0 {
		n := float64(stats.Count)
		stats.SuccessRate = float64(stats.SuccessCount) / n
		stats.AvgDecisionMs = sumDecision / n
		stats.AvgExecutionMs = sumExecution / n
		stats.AvgSlippagePct = sumSlippage / n
		stats.AvgProfitPct = sumProfitPct / n
	}
	return stats
}

// GetRecommendations derives advisory tuning suggestions from recent
// statistics. Purely rule-based.
func (m *Monitor) GetRecommendations() []Recommendation {
	stats := m.GetStats(0)
	if stats.Count == 0 {
		return nil
	}

	var recs []Recommendation
	if stats.AvgDecisionMs > m.cfg.DecisionCriticalMs {
		recs = append(recs, Recommendation{
			Subject: "decision latency",
			Message: fmt.Sprintf("average decision time %.1fms exceeds the %.0fms target; consider parallelizing signal validation", stats.AvgDecisionMs, m.cfg.DecisionCriticalMs),
		})
	}
	if stats.AvgExecutionMs > m.cfg.ExecutionTargetMs {
		recs = append(recs, Recommendation{
			Subject: "execution latency",
			Message: fmt.Sprintf("average execution time %.1fms exceeds the %.0fms target; consider preferring market orders in fast regimes", stats.AvgExecutionMs, m.cfg.ExecutionTargetMs),
		})
	}
	if stats.SuccessRate < m.cfg.SuccessRateTarget {
		recs = append(recs, Recommendation{
			Subject: "success rate",
			Message: fmt.Sprintf("success rate %.0f%% is below the %.0f%% target; consider lowering the confidence threshold for accepted signals", stats.SuccessRate*100, m.cfg.SuccessRateTarget*100),
		})
	}
	return recs
}

// notifierAdapter routes external alerts (e.g. unprotected-position
// escalations from the bracket engine) into the monitor's alert history.
type notifierAdapter struct {
	m *Monitor
}

// Notifier returns an alert.Notifier backed by this monitor's alert buffer.
func (m *Monitor) Notifier() alert.Notifier {
	return &notifierAdapter{m: m}
}

// Send records the alert in the monitor's history.
func (n *notifierAdapter) Send(severity alert.Severity, message string) error {
	n.m.emitAlert(severity, message)
	return nil
}

// Close does nothing and returns nil.
func (n *notifierAdapter) Close() error {
	return nil
}
