package datastore

import (
	"github.com/your-org/kraken-scalp-bot/internal/monitor"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

// dummyWriter is a no-op implementation of the Writer interface.
// It is used when no database connection is configured.
type dummyWriter struct{}

// NewDummyWriter creates a new dummy writer.
func NewDummyWriter() Writer {
	logger.Info("Creating dummy metric writer because no database is configured.")
	return &dummyWriter{}
}

// SaveExecutionMetric does nothing.
func (d *dummyWriter) SaveExecutionMetric(metric monitor.ExecutionMetric) {
	// No-op
}

// Close does nothing.
func (d *dummyWriter) Close() {
}
