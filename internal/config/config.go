// Package config loads the daemon's full configuration surface (§6.5):
// environment/credentials via godotenv, trading parameters via a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
)

// TierConfig is one row of the dynamic take-profit trailing-stop tier table
// (§4.4 Stage II): ProfitThreshold maps to StopCoefficient.
type TierConfig struct {
	ProfitThreshold float64 `json:"profit_threshold"`
	StopCoefficient float64 `json:"stop_coefficient"`
}

// Config is the full §6.5 configuration surface.
type Config struct {
	Environment string `json:"-"`
	LogLevel    string `json:"-"`

	Broker struct {
		Name    string `json:"-"`
		APIKey  string `json:"-"`
		Secret  string `json:"-"`
		Account string `json:"-"`
	} `json:"-"`

	Monitoring struct {
		PrometheusPort int `json:"prometheus_port"`
		HealthPort     int `json:"health_port"`
	} `json:"monitoring"`

	// Core toggles
	SimulationMode                  bool `json:"simulation_mode"`
	EnableAutoTrading                bool `json:"enable_auto_trading"`
	EnableDynamicStopProfit          bool `json:"enable_dynamic_stop_profit"`
	EnableStopLossBuy                bool `json:"enable_stop_loss_buy"`
	EnableGridTrading                bool `json:"enable_grid_trading"`
	RequireProfitTriggered           bool `json:"require_profit_triggered"`
	AllowTakeProfitFullWithPending   bool `json:"allow_take_profit_full_with_pending"`

	// Thresholds
	StopLossRatio        float64      `json:"stop_loss_ratio"`
	FirstTPRatio         float64      `json:"first_tp_ratio"`
	FirstTPPullbackRatio float64      `json:"first_tp_pullback_ratio"`
	FirstTPSellRatio     float64      `json:"first_tp_sell_ratio"`
	DynamicTPTiers       []TierConfig `json:"dynamic_tp_tiers"`
	BuyGridLevels        []float64    `json:"buy_grid_levels"`

	// Sizing
	PositionUnit           float64 `json:"position_unit"`
	MaxSinglePositionValue float64 `json:"max_single_position_value"`
	MaxTotalPositionRatio  float64 `json:"max_total_position_ratio"`

	// Timing
	MonitorLoopInterval  time.Duration `json:"monitor_loop_interval"`
	MonitorCallTimeout   time.Duration `json:"monitor_call_timeout"`
	MonitorNonTradeSleep time.Duration `json:"monitor_non_trade_sleep"`
	PositionSyncInterval time.Duration `json:"position_sync_interval"`
	ThreadCheckInterval  time.Duration `json:"thread_check_interval"`

	// Orders
	PendingOrderTimeoutMinutes  int    `json:"pending_order_timeout_minutes"`
	PendingOrderAutoCancel      bool   `json:"pending_order_auto_cancel"`
	PendingOrderAutoReorder     bool   `json:"pending_order_auto_reorder"`
	PendingOrderReorderPriceMode string `json:"pending_order_reorder_price_mode"` // market|limit|best
	UseSyncOrderAPI             bool   `json:"use_sync_order_api"`
	BrokerOrderRateLimit        int    `json:"broker_order_rate_limit"`         // orders/sec allowed against the broker API
	BrokerOrderRateBurst        int    `json:"broker_order_rate_burst"`         // token bucket capacity

	// Grid defaults
	GridPriceInterval             float64       `json:"grid_price_interval"`
	GridPositionRatio             float64       `json:"grid_position_ratio"`
	GridCallbackRatio             float64       `json:"grid_callback_ratio"`
	GridMaxDeviation              float64       `json:"grid_max_deviation"`
	GridTargetProfit              float64       `json:"grid_target_profit"`
	GridStopLoss                  float64       `json:"grid_stop_loss"`
	GridDurationDays              int           `json:"grid_duration_days"`
	GridLevelCooldown             time.Duration `json:"grid_level_cooldown_seconds"`
	GridLockAcquireTimeout        time.Duration `json:"grid_lock_acquire_timeout_seconds"`
	GridPositionQueryTimeout      time.Duration `json:"grid_position_query_timeout_seconds"`

	// Circuit breakers
	EnableMarketDataCircuitBreaker bool          `json:"enable_market_data_circuit_breaker"`
	MarketDataFailureThreshold     int           `json:"market_data_failure_threshold"`
	MarketDataFailureWindow        time.Duration `json:"market_data_failure_window_seconds"`
	MarketDataCircuitBreakDuration time.Duration `json:"market_data_circuit_break_seconds"`
}

// Default returns the §6.5 default configuration.
func Default() *Config {
	c := &Config{
		SimulationMode:                 true,
		EnableAutoTrading:              false,
		EnableDynamicStopProfit:        true,
		EnableStopLossBuy:              true,
		EnableGridTrading:              true,
		RequireProfitTriggered:         true,
		AllowTakeProfitFullWithPending: false,

		StopLossRatio:        -0.075,
		FirstTPRatio:         0.06,
		FirstTPPullbackRatio: 0.005,
		FirstTPSellRatio:     0.60,
		DynamicTPTiers: []TierConfig{
			{ProfitThreshold: 0.05, StopCoefficient: 0.96},
			{ProfitThreshold: 0.10, StopCoefficient: 0.93},
			{ProfitThreshold: 0.15, StopCoefficient: 0.90},
			{ProfitThreshold: 0.20, StopCoefficient: 0.87},
			{ProfitThreshold: 0.30, StopCoefficient: 0.85},
			{ProfitThreshold: 0.40, StopCoefficient: 0.83},
			{ProfitThreshold: 0.50, StopCoefficient: 0.80},
		},
		BuyGridLevels: []float64{1.0, 0.93, 0.88},

		PositionUnit:           35000,
		MaxSinglePositionValue: 70000,
		MaxTotalPositionRatio:  0.95,

		MonitorLoopInterval:  3 * time.Second,
		MonitorCallTimeout:   8 * time.Second,
		MonitorNonTradeSleep: 60 * time.Second,
		PositionSyncInterval: 15 * time.Second,
		ThreadCheckInterval:  60 * time.Second,

		PendingOrderTimeoutMinutes:   5,
		PendingOrderAutoCancel:       true,
		PendingOrderAutoReorder:      true,
		PendingOrderReorderPriceMode: "best",
		UseSyncOrderAPI:              false,
		BrokerOrderRateLimit:         5,
		BrokerOrderRateBurst:         10,

		GridPriceInterval:        0.05,
		GridPositionRatio:        0.25,
		GridCallbackRatio:        0.005,
		GridMaxDeviation:         0.15,
		GridTargetProfit:         0.10,
		GridStopLoss:             -0.10,
		GridDurationDays:         7,
		GridLevelCooldown:        60 * time.Second,
		GridLockAcquireTimeout:   2 * time.Second,
		GridPositionQueryTimeout: 5 * time.Second,

		EnableMarketDataCircuitBreaker: true,
		MarketDataFailureThreshold:     3,
		MarketDataFailureWindow:        60 * time.Second,
		MarketDataCircuitBreakDuration: 300 * time.Second,
	}
	c.Monitoring.PrometheusPort = 9090
	c.Monitoring.HealthPort = 8081
	return c
}

// Load reads environment/credentials via godotenv then a JSON trading-params
// file, mirroring the teacher's live-bot two-layer load. A missing envFile
// is tolerated (the process may already have its environment populated);
// a missing or malformed configPath is fatal — the daemon refuses to start
// on a broken configuration rather than silently run on defaults.
func Load(envFile, configPath string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile) // best-effort; absence is not fatal
	}

	cfg := Default()
	cfg.Environment = getEnv("ENV", "production")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.Broker.Name = getEnv("BROKER_NAME", "")
	cfg.Broker.APIKey = getEnv("BROKER_API_KEY", "")
	cfg.Broker.Secret = getEnv("BROKER_SECRET", "")
	cfg.Broker.Account = getEnv("BROKER_ACCOUNT", "")
	cfg.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", cfg.Monitoring.PrometheusPort)
	cfg.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", cfg.Monitoring.HealthPort)
	cfg.SimulationMode = getEnvBool("SIMULATION_MODE", cfg.SimulationMode)

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, tradingerrors.NewFatalError("config", "Load", fmt.Sprintf("read config file: %v", err))
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, tradingerrors.NewFatalError("config", "Load", fmt.Sprintf("parse config file: %v", err))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs the §3.2 ratio-bound sanity checks at load time rather than
// at first grid-session start, so a broken operator config fails fast.
func (c *Config) Validate() error {
	type bound struct {
		name       string
		value      float64
		min, max   float64
		inclusiveMin bool
	}
	bounds := []bound{
		{"grid_price_interval", c.GridPriceInterval, 0, 0.2, false},
		{"grid_callback_ratio", c.GridCallbackRatio, 0, 0.05, false},
		{"grid_position_ratio", c.GridPositionRatio, 0, 1, false},
		{"grid_max_deviation", c.GridMaxDeviation, 0, 1, false},
		{"max_total_position_ratio", c.MaxTotalPositionRatio, 0, 1, false},
	}
	for _, b := range bounds {
		if b.value <= 0 && !b.inclusiveMin {
			return tradingerrors.NewFatalError("config", "Validate", fmt.Sprintf("%s must be > 0, got %v", b.name, b.value))
		}
		if b.value > b.max {
			return tradingerrors.NewFatalError("config", "Validate", fmt.Sprintf("%s must be <= %v, got %v", b.name, b.max, b.value))
		}
	}
	if c.GridTargetProfit <= 0 {
		return tradingerrors.NewFatalError("config", "Validate", "grid_target_profit must be > 0")
	}
	if c.GridStopLoss >= 0 {
		return tradingerrors.NewFatalError("config", "Validate", "grid_stop_loss must be < 0")
	}
	if c.PositionUnit <= 0 || c.MaxSinglePositionValue <= 0 {
		return tradingerrors.NewFatalError("config", "Validate", "position_unit and max_single_position_value must be > 0")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
