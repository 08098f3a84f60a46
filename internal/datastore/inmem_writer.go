package datastore

import (
	"sync"

	"github.com/your-org/kraken-scalp-bot/internal/monitor"
)

// InMemWriter is an in-memory implementation of the Writer interface for
// testing.
type InMemWriter struct {
	mu      sync.RWMutex
	metrics []monitor.ExecutionMetric
	closed  bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{}
}

// SaveExecutionMetric records the metric in memory.
func (w *InMemWriter) SaveExecutionMetric(metric monitor.ExecutionMetric) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = append(w.metrics, metric)
}

// Metrics returns a copy of everything saved so far.
func (w *InMemWriter) Metrics() []monitor.ExecutionMetric {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]monitor.ExecutionMetric, len(w.metrics))
	copy(out, w.metrics)
	return out
}

// Closed reports whether Close has been called.
func (w *InMemWriter) Closed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

// Close marks the writer closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}
