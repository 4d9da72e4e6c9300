// Package config builds the runtime configuration for the trading bot.
// A single Config value is constructed at startup from environment
// variables (optionally seeded from a .env file) layered over built-in
// defaults; nothing in the program mutates it afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Strategy types selectable via STRATEGY_TYPE.
const (
	StrategyAllOrNothing  = "ALL_OR_NOTHING"
	StrategyAccumulator   = "ACCUMULATOR"
	StrategyCascadeMaster = "CASCADE_MASTER"
	StrategyOneOrMore     = "ONE_OR_MORE"
)

// Quantity sizing modes.
const (
	QuantityModeMinimum    = "MINIMUM"
	QuantityModeFixed      = "FIXED"
	QuantityModePercentage = "PERCENTAGE"
)

// Credential sources.
const (
	CredentialsSourceEnv   = "env"
	CredentialsSourceVault = "vault"
)

var (
	ErrMissingCredentials = errors.New("API_KEY and SECRET_KEY must be set")
	ErrInvalidStrategy    = errors.New("invalid strategy type")
)

// APIConfig holds exchange credentials and endpoints.
type APIConfig struct {
	Key               string `json:"-"`
	Secret            string `json:"-"`
	BaseURL           string `json:"base_url"`
	WSBaseURL         string `json:"ws_base_url"`
	RecvWindow        int64  `json:"recv_window"`
	CredentialsSource string `json:"credentials_source"`
}

// VaultConfig configures the optional Vault credential source.
type VaultConfig struct {
	Address    string `json:"address"`
	Token      string `json:"-"`
	SecretPath string `json:"secret_path"`
}

// ReconnectionConfig bounds WebSocket reconnect behaviour.
type ReconnectionConfig struct {
	Enabled        bool          `json:"enabled"`
	MaxAttempts    int           `json:"max_attempts"`
	Delay          time.Duration `json:"delay"`
	ReceiveTimeout time.Duration `json:"receive_timeout"`
}

// RSIThreshold holds the per-period oversold/overbought bounds.
type RSIThreshold struct {
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
}

// VolumeValidationConfig gates signal confirmation on volume.
type VolumeValidationConfig struct {
	Enabled         bool `json:"enabled"`
	LookbackCandles int  `json:"lookback_candles"`
}

// SignalConfig drives the signal engine.
type SignalConfig struct {
	RSIOnHeikinAshi  bool                 `json:"rsi_on_heikin_ashi"`
	RSIThresholds    map[int]RSIThreshold `json:"rsi_thresholds"`
	VolumeValidation VolumeValidationConfig
}

// SortedRSIPeriods returns the configured RSI periods in ascending order.
func (s *SignalConfig) SortedRSIPeriods() []int {
	periods := make([]int, 0, len(s.RSIThresholds))
	for p := range s.RSIThresholds {
		periods = append(periods, p)
	}
	sort.Ints(periods)
	return periods
}

// TradingConfig controls position sizing.
type TradingConfig struct {
	QuantityMode      string  `json:"quantity_mode"`
	InitialQuantity   float64 `json:"initial_quantity"`
	BalancePercentage float64 `json:"balance_percentage"`
}

// HedgingConfig controls hedge order placement.
type HedgingConfig struct {
	Enabled            bool    `json:"enabled"`
	LookbackCandles    int     `json:"lookback_candles"`
	QuantityMultiplier float64 `json:"quantity_multiplier"`
}

// CascadeConfig controls the cascade ladder.
type CascadeConfig struct {
	Enabled         bool          `json:"enabled"`
	MaxOrders       int           `json:"max_orders"`
	PollingInterval time.Duration `json:"polling_interval"`
	RetryAttempts   int           `json:"retry_attempts"`
	RetryDelay      time.Duration `json:"retry_delay"`
}

// TPConfig controls cascade take-profit levels.
type TPConfig struct {
	Enabled           bool    `json:"enabled"`
	BaseMultiplier    float64 `json:"base_multiplier"`
	PositionIncrement float64 `json:"position_increment"`
	PriceOffset       float64 `json:"price_offset"`
}

// AccumulatorConfig controls the averaging-down strategy.
type AccumulatorConfig struct {
	TPPercent        float64 `json:"tp_percent"`
	MaxAccumulations int     `json:"max_accumulations"`
	PriceOffset      float64 `json:"price_offset"`
}

// DynamicRSIExitConfig enables the opposite-extreme RSI exit.
type DynamicRSIExitConfig struct {
	Enabled bool `json:"enabled"`
}

// TrailingStopConfig enables favourable-direction stop replacement.
type TrailingStopConfig struct {
	Enabled             bool    `json:"enabled"`
	PriceTriggerPercent float64 `json:"price_trigger_percent"`
	SLAdjustmentPercent float64 `json:"sl_adjustment_percent"`
}

// AllOrNothingConfig controls the SL+TP pair strategy.
type AllOrNothingConfig struct {
	SLLookbackCandles int     `json:"sl_lookback_candles"`
	SLOffsetPercent   float64 `json:"sl_offset_percent"`
	TPPercent         float64 `json:"tp_percent"`
	PriceOffset       float64 `json:"price_offset"`
	DynamicRSIExit    DynamicRSIExitConfig
	TrailingStop      TrailingStopConfig
}

// OneOrMoreConfig controls the 1:R hedged single-cycle strategy.
type OneOrMoreConfig struct {
	SLLookbackCandles          int     `json:"sl_lookback_candles"`
	SLOffsetPercent            float64 `json:"sl_offset_percent"`
	HedgeQuantityMultiplier    float64 `json:"hedge_quantity_multiplier"`
	TPSafetyOffsetPercent      float64 `json:"tp_safety_offset_percent"`
	MinDistancePercent         float64 `json:"min_distance_percent"`
	SmallDistanceOffsetPercent float64 `json:"small_distance_offset_percent"`
	RRRatio                    float64 `json:"rr_ratio"`
	CrossStopsEnabled          bool    `json:"cross_stops_enabled"`
}

// RetryConfig bounds protective-order placement retries.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	DelayUnit   time.Duration `json:"delay_unit"` // attempt n sleeps n * DelayUnit
}

// ServerConfig configures the optional read-only status API.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Host    string `json:"host"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

// LedgerConfig points at the loss-recovery ledger file.
type LedgerConfig struct {
	Path string `json:"path"`
}

// Config is the complete runtime configuration.
type Config struct {
	Symbol       string `json:"symbol"`
	Timeframe    string `json:"timeframe"`
	StrategyType string `json:"strategy_type"`

	API          APIConfig
	Vault        VaultConfig
	Reconnection ReconnectionConfig
	Signal       SignalConfig
	Trading      TradingConfig
	Hedging      HedgingConfig
	Cascade      CascadeConfig
	TP           TPConfig
	Accumulator  AccumulatorConfig
	AllOrNothing AllOrNothingConfig
	OneOrMore    OneOrMoreConfig
	Retry        RetryConfig
	Server       ServerConfig
	Logging      LoggingConfig
	Ledger       LedgerConfig
}

// Load builds the configuration from the environment. A .env file in the
// working directory is read first when present; real environment variables
// win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Symbol:       "BTCUSDC",
		Timeframe:    "1m",
		StrategyType: StrategyAllOrNothing,
		API: APIConfig{
			BaseURL:           "https://fapi.binance.com",
			WSBaseURL:         "wss://fstream.binance.com/ws",
			RecvWindow:        10000,
			CredentialsSource: CredentialsSourceEnv,
		},
		Vault: VaultConfig{
			SecretPath: "secret/data/binance",
		},
		Reconnection: ReconnectionConfig{
			Enabled:        true,
			MaxAttempts:    100,
			Delay:          30 * time.Second,
			ReceiveTimeout: time.Hour,
		},
		Signal: SignalConfig{
			RSIOnHeikinAshi: true,
			RSIThresholds: map[int]RSIThreshold{
				3: {Oversold: 10, Overbought: 90},
				5: {Oversold: 20, Overbought: 80},
				7: {Oversold: 30, Overbought: 70},
			},
			VolumeValidation: VolumeValidationConfig{
				Enabled:         false,
				LookbackCandles: 14,
			},
		},
		Trading: TradingConfig{
			QuantityMode:      QuantityModeFixed,
			InitialQuantity:   0.002,
			BalancePercentage: 0.01,
		},
		Hedging: HedgingConfig{
			Enabled:            true,
			LookbackCandles:    5,
			QuantityMultiplier: 2,
		},
		Cascade: CascadeConfig{
			Enabled:         true,
			MaxOrders:       10,
			PollingInterval: 30 * time.Second,
			RetryAttempts:   3,
			RetryDelay:      5 * time.Second,
		},
		TP: TPConfig{
			Enabled:           true,
			BaseMultiplier:    2.0,
			PositionIncrement: 0.001,
			PriceOffset:       0.001,
		},
		Accumulator: AccumulatorConfig{
			TPPercent:        0.003,
			MaxAccumulations: 5,
			PriceOffset:      0.001,
		},
		AllOrNothing: AllOrNothingConfig{
			SLLookbackCandles: 5,
			SLOffsetPercent:   0.00001,
			TPPercent:         0.003,
			PriceOffset:       0.001,
			DynamicRSIExit:    DynamicRSIExitConfig{Enabled: false},
			TrailingStop: TrailingStopConfig{
				Enabled:             false,
				PriceTriggerPercent: 0.002,
				SLAdjustmentPercent: 0.001,
			},
		},
		OneOrMore: OneOrMoreConfig{
			SLLookbackCandles:          5,
			SLOffsetPercent:            0.00001,
			HedgeQuantityMultiplier:    2,
			TPSafetyOffsetPercent:      0.0005,
			MinDistancePercent:         0.002,
			SmallDistanceOffsetPercent: 0.0015,
			RRRatio:                    1,
			CrossStopsEnabled:          false,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			DelayUnit:   2 * time.Second,
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
			Host:    "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			JSONFormat: false,
		},
		Ledger: LedgerConfig{
			Path: "loss_recovery.json",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Symbol = getEnvOrDefault("SYMBOL", cfg.Symbol)
	cfg.Timeframe = getEnvOrDefault("TIMEFRAME", cfg.Timeframe)
	cfg.StrategyType = strings.ToUpper(getEnvOrDefault("STRATEGY_TYPE", cfg.StrategyType))

	cfg.API.Key = os.Getenv("API_KEY")
	cfg.API.Secret = os.Getenv("SECRET_KEY")
	cfg.API.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.API.BaseURL)
	cfg.API.WSBaseURL = getEnvOrDefault("BINANCE_WS_BASE_URL", cfg.API.WSBaseURL)
	cfg.API.CredentialsSource = strings.ToLower(getEnvOrDefault("CREDENTIALS_SOURCE", cfg.API.CredentialsSource))

	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = os.Getenv("VAULT_TOKEN")
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	cfg.Reconnection.Enabled = getEnvBoolOrDefault("RECONNECTION_ENABLED", cfg.Reconnection.Enabled)
	cfg.Reconnection.MaxAttempts = getEnvIntOrDefault("RECONNECTION_MAX_ATTEMPTS", cfg.Reconnection.MaxAttempts)
	cfg.Reconnection.Delay = getEnvDurationOrDefault("RECONNECTION_DELAY", cfg.Reconnection.Delay)
	cfg.Reconnection.ReceiveTimeout = getEnvDurationOrDefault("RECONNECTION_RECEIVE_TIMEOUT", cfg.Reconnection.ReceiveTimeout)

	cfg.Signal.RSIOnHeikinAshi = getEnvBoolOrDefault("RSI_ON_HEIKIN_ASHI", cfg.Signal.RSIOnHeikinAshi)
	cfg.Signal.VolumeValidation.Enabled = getEnvBoolOrDefault("VOLUME_VALIDATION_ENABLED", cfg.Signal.VolumeValidation.Enabled)
	cfg.Signal.VolumeValidation.LookbackCandles = getEnvIntOrDefault("VOLUME_VALIDATION_LOOKBACK", cfg.Signal.VolumeValidation.LookbackCandles)

	cfg.Trading.QuantityMode = strings.ToUpper(getEnvOrDefault("QUANTITY_MODE", cfg.Trading.QuantityMode))
	cfg.Trading.InitialQuantity = getEnvFloatOrDefault("INITIAL_QUANTITY", cfg.Trading.InitialQuantity)
	cfg.Trading.BalancePercentage = getEnvFloatOrDefault("BALANCE_PERCENTAGE", cfg.Trading.BalancePercentage)

	cfg.Hedging.Enabled = getEnvBoolOrDefault("HEDGING_ENABLED", cfg.Hedging.Enabled)
	cfg.Hedging.LookbackCandles = getEnvIntOrDefault("HEDGING_LOOKBACK_CANDLES", cfg.Hedging.LookbackCandles)
	cfg.Hedging.QuantityMultiplier = getEnvFloatOrDefault("HEDGING_QUANTITY_MULTIPLIER", cfg.Hedging.QuantityMultiplier)

	cfg.Cascade.Enabled = getEnvBoolOrDefault("CASCADE_ENABLED", cfg.Cascade.Enabled)
	cfg.Cascade.MaxOrders = getEnvIntOrDefault("CASCADE_MAX_ORDERS", cfg.Cascade.MaxOrders)
	cfg.Cascade.PollingInterval = getEnvDurationOrDefault("CASCADE_POLLING_INTERVAL", cfg.Cascade.PollingInterval)
	cfg.Cascade.RetryAttempts = getEnvIntOrDefault("CASCADE_RETRY_ATTEMPTS", cfg.Cascade.RetryAttempts)
	cfg.Cascade.RetryDelay = getEnvDurationOrDefault("CASCADE_RETRY_DELAY", cfg.Cascade.RetryDelay)

	cfg.TP.Enabled = getEnvBoolOrDefault("TP_ENABLED", cfg.TP.Enabled)
	cfg.TP.BaseMultiplier = getEnvFloatOrDefault("TP_BASE_MULTIPLIER", cfg.TP.BaseMultiplier)
	cfg.TP.PositionIncrement = getEnvFloatOrDefault("TP_POSITION_INCREMENT", cfg.TP.PositionIncrement)
	cfg.TP.PriceOffset = getEnvFloatOrDefault("TP_PRICE_OFFSET", cfg.TP.PriceOffset)

	cfg.Accumulator.TPPercent = getEnvFloatOrDefault("ACCUMULATOR_TP_PERCENT", cfg.Accumulator.TPPercent)
	cfg.Accumulator.MaxAccumulations = getEnvIntOrDefault("ACCUMULATOR_MAX_ACCUMULATIONS", cfg.Accumulator.MaxAccumulations)
	cfg.Accumulator.PriceOffset = getEnvFloatOrDefault("ACCUMULATOR_PRICE_OFFSET", cfg.Accumulator.PriceOffset)

	cfg.AllOrNothing.SLLookbackCandles = getEnvIntOrDefault("AON_SL_LOOKBACK_CANDLES", cfg.AllOrNothing.SLLookbackCandles)
	cfg.AllOrNothing.SLOffsetPercent = getEnvFloatOrDefault("AON_SL_OFFSET_PERCENT", cfg.AllOrNothing.SLOffsetPercent)
	cfg.AllOrNothing.TPPercent = getEnvFloatOrDefault("AON_TP_PERCENT", cfg.AllOrNothing.TPPercent)
	cfg.AllOrNothing.PriceOffset = getEnvFloatOrDefault("AON_PRICE_OFFSET", cfg.AllOrNothing.PriceOffset)
	cfg.AllOrNothing.DynamicRSIExit.Enabled = getEnvBoolOrDefault("AON_DYNAMIC_RSI_EXIT", cfg.AllOrNothing.DynamicRSIExit.Enabled)
	cfg.AllOrNothing.TrailingStop.Enabled = getEnvBoolOrDefault("AON_TRAILING_STOP_ENABLED", cfg.AllOrNothing.TrailingStop.Enabled)
	cfg.AllOrNothing.TrailingStop.PriceTriggerPercent = getEnvFloatOrDefault("AON_TRAILING_TRIGGER_PERCENT", cfg.AllOrNothing.TrailingStop.PriceTriggerPercent)
	cfg.AllOrNothing.TrailingStop.SLAdjustmentPercent = getEnvFloatOrDefault("AON_TRAILING_ADJUSTMENT_PERCENT", cfg.AllOrNothing.TrailingStop.SLAdjustmentPercent)

	cfg.OneOrMore.SLLookbackCandles = getEnvIntOrDefault("OOM_SL_LOOKBACK_CANDLES", cfg.OneOrMore.SLLookbackCandles)
	cfg.OneOrMore.SLOffsetPercent = getEnvFloatOrDefault("OOM_SL_OFFSET_PERCENT", cfg.OneOrMore.SLOffsetPercent)
	cfg.OneOrMore.HedgeQuantityMultiplier = getEnvFloatOrDefault("OOM_HEDGE_QUANTITY_MULTIPLIER", cfg.OneOrMore.HedgeQuantityMultiplier)
	cfg.OneOrMore.TPSafetyOffsetPercent = getEnvFloatOrDefault("OOM_TP_SAFETY_OFFSET_PERCENT", cfg.OneOrMore.TPSafetyOffsetPercent)
	cfg.OneOrMore.MinDistancePercent = getEnvFloatOrDefault("OOM_MIN_DISTANCE_PERCENT", cfg.OneOrMore.MinDistancePercent)
	cfg.OneOrMore.SmallDistanceOffsetPercent = getEnvFloatOrDefault("OOM_SMALL_DISTANCE_OFFSET_PERCENT", cfg.OneOrMore.SmallDistanceOffsetPercent)
	cfg.OneOrMore.RRRatio = getEnvFloatOrDefault("OOM_RR_RATIO", cfg.OneOrMore.RRRatio)
	cfg.OneOrMore.CrossStopsEnabled = getEnvBoolOrDefault("OOM_CROSS_STOPS_ENABLED", cfg.OneOrMore.CrossStopsEnabled)

	cfg.Retry.MaxAttempts = getEnvIntOrDefault("PROTECTIVE_RETRY_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.DelayUnit = getEnvDurationOrDefault("PROTECTIVE_RETRY_DELAY_UNIT", cfg.Retry.DelayUnit)

	cfg.Server.Enabled = getEnvBoolOrDefault("API_SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("API_SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("API_SERVER_HOST", cfg.Server.Host)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	cfg.Ledger.Path = getEnvOrDefault("LEDGER_PATH", cfg.Ledger.Path)
}

// Validate reports configuration fatals.
func (c *Config) Validate() error {
	if c.API.CredentialsSource == CredentialsSourceEnv && (c.API.Key == "" || c.API.Secret == "") {
		return ErrMissingCredentials
	}
	if c.API.CredentialsSource == CredentialsSourceVault && c.Vault.Address == "" {
		return fmt.Errorf("VAULT_ADDR must be set when CREDENTIALS_SOURCE=vault")
	}
	switch c.StrategyType {
	case StrategyAllOrNothing, StrategyAccumulator, StrategyCascadeMaster, StrategyOneOrMore:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, c.StrategyType)
	}
	switch c.Trading.QuantityMode {
	case QuantityModeMinimum, QuantityModeFixed, QuantityModePercentage:
	default:
		return fmt.Errorf("invalid quantity mode: %q", c.Trading.QuantityMode)
	}
	if len(c.Signal.RSIThresholds) == 0 {
		return fmt.Errorf("at least one RSI threshold must be configured")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	return nil
}

// Redacted returns a copy safe for the status API: credentials removed.
func (c *Config) Redacted() Config {
	out := *c
	out.API.Key = ""
	out.API.Secret = ""
	out.Vault.Token = ""
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
