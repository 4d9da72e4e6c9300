package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/market"
	"binance-futures-bot/internal/signal"
)

const testSymbol = "BTCUSDT"

// testConfig builds a config with fast retries and the grid used across
// the strategy tests: tick 0.1, step 0.001.
func testConfig(strategyType string) *config.Config {
	return &config.Config{
		Symbol:       testSymbol,
		Timeframe:    "1m",
		StrategyType: strategyType,
		Signal: config.SignalConfig{
			RSIOnHeikinAshi: false,
			RSIThresholds: map[int]config.RSIThreshold{
				2: {Oversold: 30, Overbought: 70},
			},
		},
		Trading: config.TradingConfig{
			QuantityMode:      config.QuantityModeFixed,
			InitialQuantity:   0.002,
			BalancePercentage: 0.01,
		},
		Hedging: config.HedgingConfig{
			Enabled:            true,
			LookbackCandles:    5,
			QuantityMultiplier: 2,
		},
		Cascade: config.CascadeConfig{
			Enabled:       true,
			MaxOrders:     10,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
		},
		TP: config.TPConfig{
			Enabled:           true,
			BaseMultiplier:    2.0,
			PositionIncrement: 0.001,
			PriceOffset:       0.001,
		},
		Accumulator: config.AccumulatorConfig{
			TPPercent:        0.003,
			MaxAccumulations: 5,
			PriceOffset:      0.001,
		},
		AllOrNothing: config.AllOrNothingConfig{
			SLLookbackCandles: 5,
			SLOffsetPercent:   0.00001,
			TPPercent:         0.003,
			PriceOffset:       0.001,
		},
		OneOrMore: config.OneOrMoreConfig{
			SLLookbackCandles:          5,
			SLOffsetPercent:            0.00001,
			HedgeQuantityMultiplier:    2,
			TPSafetyOffsetPercent:      0.0005,
			MinDistancePercent:         0.002,
			SmallDistanceOffsetPercent: 0.0015,
			RRRatio:                    1,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 5,
			DelayUnit:   time.Millisecond,
		},
	}
}

func testGateway(t *testing.T) *binance.MockFuturesGateway {
	t.Helper()
	gw := binance.NewMockFuturesGateway()
	gw.SetPrecision(binance.SymbolPrecision{
		Symbol:   testSymbol,
		TickSize: decimal.RequireFromString("0.1"),
		StepSize: decimal.RequireFromString("0.001"),
		MinQty:   decimal.RequireFromString("0.001"),
	})
	gw.SetBalance("USDT", 1000)
	return gw
}

// declineHistory holds five candles with lows stepping 100 down to 96,
// so the 5-candle swing low is 96 and the swing high is 105.
func declineHistory() *market.History {
	h := market.NewHistory(50)
	lows := []float64{100, 99, 98, 97, 96}
	for i, low := range lows {
		h.Append(market.Candle{
			OpenTime:  int64(i+1) * 60000,
			CloseTime: int64(i+2)*60000 - 1,
			Open:      low + 2,
			High:      low + 5,
			Low:       low,
			Close:     low + 1,
			Volume:    10,
			IsClosed:  true,
		})
	}
	return h
}

func longSignal(price float64) signal.Signal {
	return signal.Signal{Side: signal.SideLong, Price: price, CloseTime: 360000}
}

func shortSignal(price float64) signal.Signal {
	return signal.Signal{Side: signal.SideShort, Price: price, CloseTime: 360000}
}

func filledUpdate(orderID int64, price float64) binance.OrderUpdate {
	return binance.OrderUpdate{
		OrderID:   orderID,
		Symbol:    testSymbol,
		Status:    binance.FuturesOrderStatusFilled,
		LastPrice: price,
		AvgPrice:  price,
	}
}

func containsOrderID(ids []int64, want int64) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestStrategyFactory(t *testing.T) {
	gw := testGateway(t)
	for _, st := range []string{
		config.StrategyAllOrNothing,
		config.StrategyAccumulator,
		config.StrategyCascadeMaster,
		config.StrategyOneOrMore,
	} {
		s, err := New(testConfig(st), gw)
		if err != nil {
			t.Fatalf("New(%s): %v", st, err)
		}
		if s.Name() != st {
			t.Errorf("Name() = %s, want %s", s.Name(), st)
		}
	}

	cfg := testConfig("BOGUS")
	if _, err := New(cfg, gw); err == nil {
		t.Error("expected error for unknown strategy type")
	}
}

func TestQuoteAssetOf(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "USDT",
		"btcusdc":  "USDC",
		"ETHBTC":   "BTC",
		"WEIRDXYZ": "USDT",
	}
	for symbol, want := range cases {
		if got := quoteAssetOf(symbol); got != want {
			t.Errorf("quoteAssetOf(%s) = %s, want %s", symbol, got, want)
		}
	}
}
