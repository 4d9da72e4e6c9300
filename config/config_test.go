package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.StrategyType != StrategyAllOrNothing {
		t.Errorf("default strategy = %s, want ALL_OR_NOTHING", cfg.StrategyType)
	}
	if cfg.Timeframe != "1m" {
		t.Errorf("default timeframe = %s, want 1m", cfg.Timeframe)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.DelayUnit != 2*time.Second {
		t.Errorf("default retry = %d attempts / %s unit, want 5 / 2s",
			cfg.Retry.MaxAttempts, cfg.Retry.DelayUnit)
	}
	if len(cfg.Signal.RSIThresholds) != 3 {
		t.Errorf("default RSI thresholds = %d periods, want 3", len(cfg.Signal.RSIThresholds))
	}
	if cfg.API.CredentialsSource != CredentialsSourceEnv {
		t.Errorf("default credentials source = %s, want env", cfg.API.CredentialsSource)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOL", "ETHUSDT")
	t.Setenv("STRATEGY_TYPE", "cascade_master")
	t.Setenv("QUANTITY_MODE", "percentage")
	t.Setenv("INITIAL_QUANTITY", "0.01")
	t.Setenv("PROTECTIVE_RETRY_ATTEMPTS", "3")
	t.Setenv("PROTECTIVE_RETRY_DELAY_UNIT", "500ms")
	t.Setenv("RECONNECTION_DELAY", "15")
	t.Setenv("VOLUME_VALIDATION_ENABLED", "true")

	cfg := defaults()
	applyEnvOverrides(cfg)

	if cfg.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %s, want ETHUSDT", cfg.Symbol)
	}
	if cfg.StrategyType != StrategyCascadeMaster {
		t.Errorf("strategy = %s, want CASCADE_MASTER (uppercased)", cfg.StrategyType)
	}
	if cfg.Trading.QuantityMode != QuantityModePercentage {
		t.Errorf("quantity mode = %s, want PERCENTAGE", cfg.Trading.QuantityMode)
	}
	if cfg.Trading.InitialQuantity != 0.01 {
		t.Errorf("initial quantity = %v, want 0.01", cfg.Trading.InitialQuantity)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.DelayUnit != 500*time.Millisecond {
		t.Errorf("retry = %d / %s, want 3 / 500ms", cfg.Retry.MaxAttempts, cfg.Retry.DelayUnit)
	}
	// Bare integers are read as seconds.
	if cfg.Reconnection.Delay != 15*time.Second {
		t.Errorf("reconnection delay = %s, want 15s", cfg.Reconnection.Delay)
	}
	if !cfg.Signal.VolumeValidation.Enabled {
		t.Error("volume validation should be enabled")
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Validate = %v, want ErrMissingCredentials", err)
	}
}

func TestValidateVaultRequiresAddress(t *testing.T) {
	cfg := defaults()
	cfg.API.CredentialsSource = CredentialsSourceVault
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when vault source has no address")
	}

	cfg.Vault.Address = "http://127.0.0.1:8200"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with vault address: %v", err)
	}
}

func TestValidateStrategyType(t *testing.T) {
	cfg := defaults()
	cfg.API.Key, cfg.API.Secret = "k", "s"

	cfg.StrategyType = "MARTINGALE"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("Validate = %v, want ErrInvalidStrategy", err)
	}

	for _, st := range []string{StrategyAllOrNothing, StrategyAccumulator, StrategyCascadeMaster, StrategyOneOrMore} {
		cfg.StrategyType = st
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate(%s): %v", st, err)
		}
	}
}

func TestValidateQuantityMode(t *testing.T) {
	cfg := defaults()
	cfg.API.Key, cfg.API.Secret = "k", "s"
	cfg.Trading.QuantityMode = "ALL_IN"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid quantity mode")
	}
}

func TestRedacted(t *testing.T) {
	cfg := defaults()
	cfg.API.Key, cfg.API.Secret = "key", "secret"
	cfg.Vault.Token = "token"

	red := cfg.Redacted()
	if red.API.Key != "" || red.API.Secret != "" || red.Vault.Token != "" {
		t.Error("Redacted must strip credentials")
	}
	if cfg.API.Key != "key" {
		t.Error("Redacted must not mutate the original")
	}
}

func TestSortedRSIPeriods(t *testing.T) {
	s := SignalConfig{RSIThresholds: map[int]RSIThreshold{
		7: {}, 3: {}, 5: {},
	}}
	periods := s.SortedRSIPeriods()
	want := []int{3, 5, 7}
	for i, p := range want {
		if periods[i] != p {
			t.Fatalf("SortedRSIPeriods = %v, want %v", periods, want)
		}
	}
}
