// Package main is the entry point of the Kraken scalping bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/kraken-scalp-bot/internal/alert"
	"github.com/your-org/kraken-scalp-bot/internal/bracket"
	"github.com/your-org/kraken-scalp-bot/internal/config"
	"github.com/your-org/kraken-scalp-bot/internal/core"
	"github.com/your-org/kraken-scalp-bot/internal/datastore"
	"github.com/your-org/kraken-scalp-bot/internal/exchange/kraken"
	"github.com/your-org/kraken-scalp-bot/internal/http/handler"
	"github.com/your-org/kraken-scalp-bot/internal/market"
	"github.com/your-org/kraken-scalp-bot/internal/monitor"
	"github.com/your-org/kraken-scalp-bot/internal/optimizer"
	"github.com/your-org/kraken-scalp-bot/internal/position"
	"github.com/your-org/kraken-scalp-bot/internal/trailing"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	supportsAmend := flag.Bool("amend", true, "Use the exchange amend endpoint for stop updates")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.SetGlobalLogLevel(cfg.LogLevel)
	logger.Info("Kraken scalping bot starting...")
	logger.Infof("Loaded configuration from: %s", *configPath)
	logger.Infof("Target pair: %s", cfg.Pair)

	// --- Exchange Client ---
	client, err := kraken.NewClient(cfg.APIKey, cfg.APISecret, *supportsAmend)
	if err != nil {
		logger.Fatalf("Failed to initialize Kraken client: %v", err)
	}

	// --- Execution Metric Writer (Optional) ---
	var writer datastore.Writer = datastore.NewDummyWriter()
	if cfg.MetricsWriter.BatchSize > 0 {
		var zapLogger *zap.Logger
		var zapErr error
		if cfg.LogLevel == "debug" {
			zapLogger, zapErr = zap.NewDevelopment()
		} else {
			zapLogger, zapErr = zap.NewProduction()
		}
		if zapErr != nil {
			logger.Fatalf("Failed to initialize Zap logger for metric writer: %v", zapErr)
		}
		defer func() {
			if err := zapLogger.Sync(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to sync zap logger: %v\n", err)
			}
		}()

		if err := datastore.Migrate(cfg.Database.ConnString()); err != nil {
			logger.Fatalf("Failed to run database migrations: %v", err)
		}
		tsWriter, err := datastore.NewTimescaleWriter(ctx, cfg.Database, cfg.MetricsWriter, zapLogger)
		if err != nil {
			logger.Fatalf("Failed to initialize TimescaleDB writer: %v", err)
		}
		writer = tsWriter
		logger.Info("TimescaleDB metric writer initialized successfully.")
	}
	defer writer.Close()

	// --- Core Components ---
	volEstimator := market.NewVolatilityEstimator(cfg.Market.EWMALambda)
	analyzer := market.NewAnalyzer(client, volEstimator, cfg.Market.ReferenceVolume)
	store := position.NewStore()

	mon := monitor.New(cfg.Monitor, writer)
	notifier := alert.Fanout{alert.NewLogNotifier(), mon.Notifier()}

	brackets := bracket.NewEngine(client, store, notifier, cfg.Bracket)
	trailer := trailing.NewEngine(client, store, brackets, cfg.Trailing)
	opt := optimizer.New(analyzer, cfg.Optimizer)
	svc := core.NewService(store, brackets, opt, mon)

	// --- Restart Recovery ---
	if err := brackets.Rebuild(ctx); err != nil {
		logger.Errorf("Failed to rebuild brackets from open orders: %v", err)
	}

	// --- HTTP Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.HealthCheckHandler)
	mux.Handle("/metrics", monitor.MetricsHandler())
	mux.Handle("/stats", handler.NewStatsHandler(svc))
	go func() {
		logger.Infof("HTTP server starting on %s", cfg.HTTP.Addr)
		if err := http.ListenAndServe(cfg.HTTP.Addr, mux); err != nil {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// --- Graceful Shutdown Setup ---
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// --- Start Services ---
	go brackets.PollFills(ctx, 0)
	go trailer.Run(ctx)

	if cfg.Trailing.PushEnabled.Bool() {
		feed := kraken.NewWebSocketFeed([]string{cfg.Pair}, func(symbol string, last decimal.Decimal) {
			volEstimator.Observe(symbol, last.InexactFloat64())
			trailer.OnPrice(ctx, symbol, last)
		})
		go func() {
			logger.Info("Connecting to Kraken WebSocket ticker feed...")
			if err := feed.Run(ctx); err != nil {
				logger.Errorf("WebSocket feed exited with error: %v", err)
			}
		}()
	}

	// Wait for shutdown signal
	sig := <-sigs
	logger.Infof("Received signal: %s, initiating shutdown...", sig)

	cancel()
	time.Sleep(1 * time.Second)
	logger.Info("Kraken scalping bot shut down gracefully.")
}
