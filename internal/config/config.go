// Package config handles application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines the structure for all application configuration.
type Config struct {
	Pair     string         `yaml:"pair"`
	LogLevel string         `yaml:"log_level"`
	Bracket  BracketConfig  `yaml:"bracket"`
	Trailing TrailingConfig `yaml:"trailing"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Market   MarketConfig   `yaml:"market"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	MetricsWriter MetricsWriterConfig `yaml:"metrics_writer"`

	// Loaded from environment, never from the YAML file.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// BracketConfig holds settings for bracket order placement.
type BracketConfig struct {
	ProfitTargetPct    float64 `yaml:"profit_target_pct"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	MaxPlaceRetries    int     `yaml:"max_place_retries"`
	RetryBackoffMs     int     `yaml:"retry_backoff_ms"`
	CallTimeoutSeconds int     `yaml:"call_timeout_seconds"`
	MaxInflightOrders  int64   `yaml:"max_inflight_orders"`
}

// TrailingConfig holds settings for the trailing stop engine.
type TrailingConfig struct {
	ActivationPct       float64  `yaml:"activation_pct"`
	DistancePct         float64  `yaml:"distance_pct"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	PushEnabled         FlexBool `yaml:"push_enabled"`
}

// OptimizerConfig holds tunables for sell signal optimization.
type OptimizerConfig struct {
	MinOrderNotional     float64 `yaml:"min_order_notional"`
	MinSpreadForLimit    float64 `yaml:"min_spread_for_limit"`
	MaxSlippageTolerance float64 `yaml:"max_slippage_tolerance"`
}

// MonitorConfig holds settings for the performance monitor.
type MonitorConfig struct {
	MetricBufferSize       int     `yaml:"metric_buffer_size"`
	AlertBufferSize        int     `yaml:"alert_buffer_size"`
	DecisionCriticalMs     float64 `yaml:"decision_critical_ms"`
	ExecutionTargetMs      float64 `yaml:"execution_target_ms"`
	SuccessRateTarget      float64 `yaml:"success_rate_target"`
}

// MarketConfig holds settings for market condition analysis.
type MarketConfig struct {
	ReferenceVolume float64 `yaml:"reference_volume"`
	EWMALambda      float64 `yaml:"ewma_lambda"`
}

// HTTPConfig holds settings for the health/metrics server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds TimescaleDB connection settings. All fields may be
// overridden from the environment.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// MetricsWriterConfig holds settings for the buffered execution-metric writer.
type MetricsWriterConfig struct {
	BatchSize            int `yaml:"batch_size"`
	FlushIntervalSeconds int `yaml:"flush_interval_seconds"`
}

// ConnString builds a pgx connection string from the database settings.
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, err
	}

	// Sensitive data and overrides come from the environment.
	if apiKey := os.Getenv("KRAKEN_API_KEY"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	if apiSecret := os.Getenv("KRAKEN_API_SECRET"); apiSecret != "" {
		cfg.APISecret = apiSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		cfg.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Name = dbName
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Pair:     "XBT/USD",
		LogLevel: "info",
		Bracket: BracketConfig{
			ProfitTargetPct:    0.008,
			StopLossPct:        0.004,
			MaxPlaceRetries:    3,
			RetryBackoffMs:     500,
			CallTimeoutSeconds: 10,
			MaxInflightOrders:  4,
		},
		Trailing: TrailingConfig{
			ActivationPct:       0.005,
			DistancePct:         0.003,
			PollIntervalSeconds: 30,
			PushEnabled:         true,
		},
		Optimizer: OptimizerConfig{
			MinOrderNotional:     10.0,
			MinSpreadForLimit:    0.0005,
			MaxSlippageTolerance: 0.002,
		},
		Monitor: MonitorConfig{
			MetricBufferSize:   1000,
			AlertBufferSize:    100,
			DecisionCriticalMs: 200,
			ExecutionTargetMs:  500,
			SuccessRateTarget:  0.85,
		},
		Market: MarketConfig{
			ReferenceVolume: 100.0,
			EWMALambda:      0.1,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		MetricsWriter: MetricsWriterConfig{
			BatchSize:            0, // disabled unless configured
			FlushIntervalSeconds: 5,
		},
	}
}

func (c *Config) validate() error {
	if c.Bracket.ProfitTargetPct <= 0 {
		return fmt.Errorf("bracket.profit_target_pct must be positive, got %f", c.Bracket.ProfitTargetPct)
	}
	if c.Bracket.StopLossPct <= 0 || c.Bracket.StopLossPct >= 1 {
		return fmt.Errorf("bracket.stop_loss_pct must be in (0,1), got %f", c.Bracket.StopLossPct)
	}
	if c.Trailing.DistancePct <= 0 || c.Trailing.DistancePct >= 1 {
		return fmt.Errorf("trailing.distance_pct must be in (0,1), got %f", c.Trailing.DistancePct)
	}
	if c.Optimizer.MaxSlippageTolerance <= 0 {
		return fmt.Errorf("optimizer.max_slippage_tolerance must be positive, got %f", c.Optimizer.MaxSlippageTolerance)
	}
	return nil
}
