package monitor

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kraken-scalp-bot/internal/alert"
	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/optimizer"
)

func monCfg() config.MonitorConfig {
	return config.MonitorConfig{
		MetricBufferSize:   10,
		AlertBufferSize:    5,
		DecisionCriticalMs: 200,
		ExecutionTargetMs:  500,
		SuccessRateTarget:  0.85,
	}
}

// recordingSink captures metrics passed to the sink.
type recordingSink struct {
	metrics []ExecutionMetric
}

func (s *recordingSink) SaveExecutionMetric(metric ExecutionMetric) {
	s.metrics = append(s.metrics, metric)
}

func completeDecision(t *testing.T, m *Monitor, result ExecutionResult) {
	t.Helper()
	id := m.StartDecision("XBT/USD")
	require.NoError(t, m.RecordDecisionComplete(id, &optimizer.OptimizedSellSignal{UrgencyLevel: 5}))
	require.NoError(t, m.RecordExecutionComplete(id, result))
}

func TestMonitor_DecisionLifecycle(t *testing.T) {
	sink := &recordingSink{}
	m := New(monCfg(), sink)

	id := m.StartDecision("XBT/USD")
	assert.Equal(t, 1, m.ActiveDecisions())

	require.NoError(t, m.RecordDecisionComplete(id, &optimizer.OptimizedSellSignal{UrgencyLevel: 7}))
	require.NoError(t, m.RecordExecutionComplete(id, ExecutionResult{
		Success:     true,
		ProfitPct:   0.012,
		ProfitUSD:   34.5,
		Confidence:  0.8,
		SlippagePct: 0.0004,
		SellReason:  "take-profit",
	}))

	assert.Zero(t, m.ActiveDecisions())
	require.Len(t, sink.metrics, 1)

	got := sink.metrics[0]
	want := ExecutionMetric{
		Symbol:      "XBT/USD",
		ProfitPct:   0.012,
		ProfitUSD:   34.5,
		Confidence:  0.8,
		SellReason:  "take-profit",
		Urgency:     7,
		Success:     true,
		SlippagePct: 0.0004,
	}
	if diff := cmp.Diff(want, got,
		cmpopts.IgnoreFields(ExecutionMetric{}, "Timestamp", "DecisionTimeMs", "ExecutionTimeMs")); diff != "" {
		t.Errorf("metric mismatch (-want +got):\n%s", diff)
	}
	assert.GreaterOrEqual(t, got.DecisionTimeMs, 0.0)
	assert.GreaterOrEqual(t, got.ExecutionTimeMs, 0.0)
	assert.False(t, got.Timestamp.IsZero())
}

func TestMonitor_UnknownDecision(t *testing.T) {
	m := New(monCfg(), nil)

	assert.Error(t, m.RecordDecisionComplete("nope", nil))
	assert.Error(t, m.RecordExecutionComplete("nope", ExecutionResult{}))
}

func TestMonitor_ExecutionWithoutDecisionPhase(t *testing.T) {
	m := New(monCfg(), nil)

	// Skipping RecordDecisionComplete is allowed; decision time reads zero.
	id := m.StartDecision("XBT/USD")
	require.NoError(t, m.RecordExecutionComplete(id, ExecutionResult{Success: true}))

	stats := m.GetStats(0)
	assert.Equal(t, 1, stats.Count)
	assert.Zero(t, stats.AvgDecisionMs)
}

func TestMonitor_DuplicateCompletionRejected(t *testing.T) {
	m := New(monCfg(), nil)
	id := m.StartDecision("XBT/USD")
	require.NoError(t, m.RecordExecutionComplete(id, ExecutionResult{}))
	assert.Error(t, m.RecordExecutionComplete(id, ExecutionResult{}))
}

func TestMonitor_MetricHistoryBounded(t *testing.T) {
	m := New(monCfg(), nil) // MetricBufferSize 10

	for i := 0; i < 25; i++ {
		completeDecision(t, m, ExecutionResult{Success: true, ProfitUSD: 1})
	}

	stats := m.GetStats(0)
	assert.Equal(t, 10, stats.Count)
	assert.Equal(t, 10.0, stats.TotalProfitUSD)
}

func TestMonitor_AlertHistoryBounded(t *testing.T) {
	m := New(monCfg(), nil) // AlertBufferSize 5
	n := m.Notifier()

	for i := 0; i < 12; i++ {
		require.NoError(t, n.Send(alert.SeverityWarning, "w"))
	}

	assert.Len(t, m.Alerts(), 5)
}

func TestMonitor_ProfitableSellEmitsInfoAlert(t *testing.T) {
	m := New(monCfg(), nil)
	completeDecision(t, m, ExecutionResult{
		Success:    true,
		ProfitPct:  0.01,
		ProfitUSD:  12.0,
		SellReason: "trailing-stop",
	})

	alerts := m.Alerts()
	require.NotEmpty(t, alerts)
	last := alerts[len(alerts)-1]
	assert.Equal(t, alert.SeverityInfo, last.Severity)
	assert.Contains(t, last.Message, "trailing-stop")
	assert.Contains(t, last.Message, "$12.00")
}

func TestMonitor_Stats(t *testing.T) {
	m := New(monCfg(), nil)

	completeDecision(t, m, ExecutionResult{Success: true, ProfitPct: 0.01, ProfitUSD: 10, SlippagePct: 0.001})
	completeDecision(t, m, ExecutionResult{Success: true, ProfitPct: 0.02, ProfitUSD: 20, SlippagePct: 0.002})
	completeDecision(t, m, ExecutionResult{Success: false, ProfitPct: -0.003, ProfitUSD: -3, SlippagePct: 0.003})

	stats := m.GetStats(time.Hour)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.009, stats.AvgProfitPct, 1e-9)
	assert.InDelta(t, 0.002, stats.AvgSlippagePct, 1e-9)
	assert.InDelta(t, 27.0, stats.TotalProfitUSD, 1e-9)
}

func TestMonitor_StatsEmptyWindow(t *testing.T) {
	m := New(monCfg(), nil)
	completeDecision(t, m, ExecutionResult{Success: true})

	// A nanosecond window excludes everything recorded in the past.
	time.Sleep(2 * time.Millisecond)
	stats := m.GetStats(time.Nanosecond)
	assert.Zero(t, stats.Count)
	assert.Zero(t, stats.SuccessRate)
}

func TestMonitor_RecommendationsEmptyWithoutData(t *testing.T) {
	m := New(monCfg(), nil)
	assert.Nil(t, m.GetRecommendations())
}

func TestMonitor_RecommendsOnLowSuccessRate(t *testing.T) {
	m := New(monCfg(), nil)

	for i := 0; i < 4; i++ {
		completeDecision(t, m, ExecutionResult{Success: i%2 == 0})
	}

	recs := m.GetRecommendations()
	require.NotEmpty(t, recs)
	subjects := make([]string, 0, len(recs))
	for _, r := range recs {
		subjects = append(subjects, r.Subject)
	}
	assert.Contains(t, subjects, "success rate")
}

func TestMonitor_NotifierRecordsCritical(t *testing.T) {
	m := New(monCfg(), nil)
	n := m.Notifier()

	require.NoError(t, n.Send(alert.SeverityCritical, "UNPROTECTED POSITION on XBT/USD"))
	require.NoError(t, n.Close())

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "UNPROTECTED")
}
