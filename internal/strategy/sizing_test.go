package strategy

import (
	"math"
	"testing"

	"binance-futures-bot/config"
)

func TestComputeQuantityMinimum(t *testing.T) {
	gw := testGateway(t)
	cfg := config.TradingConfig{QuantityMode: config.QuantityModeMinimum}

	qty, err := computeQuantity(cfg, gw, testSymbol, 100, 96)
	if err != nil {
		t.Fatalf("computeQuantity: %v", err)
	}
	if qty != 0.001 {
		t.Errorf("quantity = %v, want exchange minimum 0.001", qty)
	}
}

func TestComputeQuantityFixed(t *testing.T) {
	gw := testGateway(t)
	cfg := config.TradingConfig{QuantityMode: config.QuantityModeFixed, InitialQuantity: 0.002}

	qty, err := computeQuantity(cfg, gw, testSymbol, 100, 96)
	if err != nil {
		t.Fatalf("computeQuantity: %v", err)
	}
	if qty != 0.002 {
		t.Errorf("quantity = %v, want 0.002", qty)
	}
}

func TestComputeQuantityPercentage(t *testing.T) {
	gw := testGateway(t)
	gw.SetBalance("USDT", 1000)
	cfg := config.TradingConfig{QuantityMode: config.QuantityModePercentage, BalancePercentage: 0.01}

	// Risk 1% of 1000 USDT against a 4-point stop distance: 10/4 = 2.5.
	qty, err := computeQuantity(cfg, gw, testSymbol, 100, 96)
	if err != nil {
		t.Fatalf("computeQuantity: %v", err)
	}
	if math.Abs(qty-2.5) > 1e-9 {
		t.Errorf("quantity = %v, want 2.5", qty)
	}

	// A zero protective distance cannot be sized.
	if _, err := computeQuantity(cfg, gw, testSymbol, 100, 100); err == nil {
		t.Error("expected error for zero protective distance")
	}
}

func TestComputeQuantityUnknownMode(t *testing.T) {
	gw := testGateway(t)
	if _, err := computeQuantity(config.TradingConfig{QuantityMode: "WHATEVER"}, gw, testSymbol, 100, 96); err == nil {
		t.Error("expected error for unknown quantity mode")
	}
}
