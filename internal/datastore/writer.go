// Package datastore persists execution metrics to TimescaleDB. On-disk
// state is advisory: the trading core rebuilds its live state from
// exchange-reported open orders, never from this store.
package datastore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/monitor"
)

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

// Writer is the persistence interface consumed by the rest of the bot.
// It satisfies monitor.MetricSink.
type Writer interface {
	SaveExecutionMetric(metric monitor.ExecutionMetric)
	Close()
}

// TimescaleWriter batches execution metrics and flushes them to
// TimescaleDB on an interval or when the buffer fills.
type TimescaleWriter struct {
	pool   Pool
	logger *zap.Logger
	cfg    config.MetricsWriterConfig

	mu           sync.Mutex
	buffer       []monitor.ExecutionMetric
	flushTicker  *time.Ticker
	shutdownChan chan struct{}
}

// NewTimescaleWriter connects to the database and starts the background
// flush loop.
func NewTimescaleWriter(ctx context.Context, dbCfg config.DatabaseConfig, writerCfg config.MetricsWriterConfig, logger *zap.Logger) (*TimescaleWriter, error) {
	pool, err := pgxpool.New(ctx, dbCfg.ConnString())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return newWriterWithPool(pool, writerCfg, logger), nil
}

// newWriterWithPool wires a writer onto an existing pool; split out so
// tests can inject a mock Pool.
func newWriterWithPool(pool Pool, writerCfg config.MetricsWriterConfig, logger *zap.Logger) *TimescaleWriter {
	if writerCfg.BatchSize <= 0 {
		logger.Warn("metrics writer batch size is zero or negative, defaulting to 100",
			zap.Int("originalValue", writerCfg.BatchSize))
		writerCfg.BatchSize = 100
	}
	if writerCfg.FlushIntervalSeconds <= 0 {
		logger.Warn("metrics writer flush interval is zero or negative, defaulting to 5s",
			zap.Int("originalValue", writerCfg.FlushIntervalSeconds))
		writerCfg.FlushIntervalSeconds = 5
	}

	w := &TimescaleWriter{
		pool:         pool,
		logger:       logger,
		cfg:          writerCfg,
		buffer:       make([]monitor.ExecutionMetric, 0, writerCfg.BatchSize),
		flushTicker:  time.NewTicker(time.Duration(writerCfg.FlushIntervalSeconds) * time.Second),
		shutdownChan: make(chan struct{}),
	}
	go w.run()
	logger.Info("Connected to TimescaleDB and started execution metric writer")
	return w
}

func (w *TimescaleWriter) run() {
	for {
		select {
		case <-w.flushTicker.C:
			w.flush()
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveExecutionMetric buffers a metric for the next batch flush.
func (w *TimescaleWriter) SaveExecutionMetric(metric monitor.ExecutionMetric) {
	w.mu.Lock()
	w.buffer = append(w.buffer, metric)
	shouldFlush := len(w.buffer) >= w.cfg.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

func (w *TimescaleWriter) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]monitor.ExecutionMetric, 0, w.cfg.BatchSize)
	w.mu.Unlock()

	rows := make([][]interface{}, len(batch))
	for i, m := range batch {
		rows[i] = []interface{}{
			m.Timestamp, m.Symbol, m.DecisionTimeMs, m.ExecutionTimeMs,
			m.ProfitPct, m.ProfitUSD, m.Confidence, m.SellReason,
			m.Urgency, m.Success, m.SlippagePct,
		}
	}

	copied, err := w.pool.CopyFrom(
		context.Background(),
		pgx.Identifier{"execution_metrics"},
		[]string{"time", "symbol", "decision_time_ms", "execution_time_ms",
			"profit_pct", "profit_usd", "confidence", "sell_reason",
			"urgency", "success", "slippage_pct"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		w.logger.Error("Failed to flush execution metrics", zap.Error(err), zap.Int("batchSize", len(batch)))
		return
	}
	w.logger.Debug("Flushed execution metrics", zap.Int64("rows", copied))
}

// Close flushes remaining metrics and closes the connection pool.
func (w *TimescaleWriter) Close() {
	w.logger.Info("Closing TimescaleDB metric writer...")
	close(w.shutdownChan)
	w.flushTicker.Stop()
	w.flush()
	w.pool.Close()
	w.logger.Info("TimescaleDB connection pool closed")
}
