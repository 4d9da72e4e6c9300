package bot

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/market"
	"binance-futures-bot/internal/strategy"
)

func runtimeConfig() *config.Config {
	return &config.Config{
		Symbol:       "BTCUSDT",
		Timeframe:    "1m",
		StrategyType: config.StrategyAllOrNothing,
		Signal: config.SignalConfig{
			RSIOnHeikinAshi: false,
			RSIThresholds: map[int]config.RSIThreshold{
				2: {Oversold: 30, Overbought: 70},
			},
		},
		Trading: config.TradingConfig{
			QuantityMode:    config.QuantityModeFixed,
			InitialQuantity: 0.002,
		},
		AllOrNothing: config.AllOrNothingConfig{
			SLLookbackCandles: 5,
			SLOffsetPercent:   0.00001,
			TPPercent:         0.003,
			PriceOffset:       0.001,
		},
		Retry: config.RetryConfig{MaxAttempts: 5, DelayUnit: time.Millisecond},
	}
}

func runtimeGateway() *binance.MockFuturesGateway {
	gw := binance.NewMockFuturesGateway()
	gw.SetPrecision(binance.SymbolPrecision{
		Symbol:   "BTCUSDT",
		TickSize: decimal.RequireFromString("0.1"),
		StepSize: decimal.RequireFromString("0.001"),
		MinQty:   decimal.RequireFromString("0.001"),
	})
	return gw
}

func pipelineCandle(i int, open, high, low, close float64) market.Candle {
	return market.Candle{
		OpenTime:  int64(i) * 60000,
		CloseTime: int64(i+1)*60000 - 1,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    10,
		IsClosed:  true,
	}
}

// Five declining closes arm the signal engine; a strong green candle
// confirms, and the dispatched signal drives the strategy through the
// gateway — the full candle-close pipeline in one pass.
func TestBotCandlePipelineDispatchesSignal(t *testing.T) {
	gw := runtimeGateway()
	b, err := New(runtimeConfig(), gw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lows := []float64{100, 99, 98, 97, 96}
	for i, low := range lows {
		c := pipelineCandle(i+1, low+2, low+5, low, low+1)
		if err := b.handleClosedCandle(c); err != nil {
			t.Fatalf("handleClosedCandle(%d): %v", i, err)
		}
	}
	if len(gw.PlacedOrders()) != 0 {
		t.Fatal("no orders may be placed before confirmation")
	}
	if b.SignalState() != "PENDING_LONG" {
		t.Fatalf("signal state = %s, want PENDING_LONG", b.SignalState())
	}

	// Confirming green candle; the strategy opens entry + SL + TP.
	if err := b.handleClosedCandle(pipelineCandle(6, 97, 120, 97, 118)); err != nil {
		t.Fatalf("confirming candle: %v", err)
	}

	placed := gw.PlacedOrders()
	if len(placed) != 3 {
		t.Fatalf("placed %d orders, want entry, stop, take profit", len(placed))
	}
	if placed[0].Side != binance.OrderSideBuy {
		t.Errorf("entry side = %s, want BUY", placed[0].Side)
	}
	if placed[1].StopPrice != "95.9" {
		t.Errorf("stop price = %q, want 95.9", placed[1].StopPrice)
	}
	// The latched signal was consumed on dispatch.
	if b.SignalState() != "WAITING" {
		t.Errorf("signal state = %s, want WAITING after dispatch", b.SignalState())
	}
}

func TestBotSuppressesDuplicateClosedCandle(t *testing.T) {
	gw := runtimeGateway()
	b, err := New(runtimeConfig(), gw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c := pipelineCandle(1, 100, 105, 99, 101)
	if err := b.handleClosedCandle(c); err != nil {
		t.Fatalf("handleClosedCandle: %v", err)
	}
	if err := b.handleClosedCandle(c); err != nil {
		t.Fatalf("duplicate handleClosedCandle: %v", err)
	}
	if b.history.Len() != 1 {
		t.Errorf("history length = %d, want 1 after duplicate", b.history.Len())
	}
}

func TestBotCheckFatalEscalation(t *testing.T) {
	gw := runtimeGateway()
	b, err := New(runtimeConfig(), gw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Ordinary errors are logged and absorbed.
	if got := b.checkFatal(errors.New("transient")); got != nil {
		t.Errorf("checkFatal(transient) = %v, want nil", got)
	}

	// Fatal sentinels terminate the run loop.
	fatal := fmt.Errorf("%w: stop loss placement", strategy.ErrFatal)
	if got := b.checkFatal(fatal); !errors.Is(got, strategy.ErrFatal) {
		t.Errorf("checkFatal(fatal) = %v, want the error back", got)
	}
	protective := fmt.Errorf("wrapped: %w", binance.ErrProtectiveOrderFailed)
	if got := b.checkFatal(protective); !errors.Is(got, binance.ErrProtectiveOrderFailed) {
		t.Errorf("checkFatal(protective) = %v, want the error back", got)
	}
}

func TestBotOrderUpdateRouting(t *testing.T) {
	gw := runtimeGateway()
	cfg := runtimeConfig()
	cfg.StrategyType = config.StrategyAccumulator
	cfg.Accumulator = config.AccumulatorConfig{TPPercent: 0.003, MaxAccumulations: 5, PriceOffset: 0.001}
	b, err := New(cfg, gw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Non-FILLED updates are ignored by every strategy.
	update := binance.OrderUpdate{
		OrderID: 42,
		Symbol:  "BTCUSDT",
		Status:  binance.FuturesOrderStatusNew,
	}
	if err := b.handleOrderUpdate(update); err != nil {
		t.Fatalf("handleOrderUpdate: %v", err)
	}
}
