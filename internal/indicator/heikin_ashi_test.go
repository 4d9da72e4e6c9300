package indicator

import (
	"math"
	"testing"

	"binance-futures-bot/internal/market"
)

func candle(open, high, low, close float64) market.Candle {
	return market.Candle{Open: open, High: high, Low: low, Close: close, IsClosed: true}
}

// TestHeikinAshiRecurrence checks the transform against hand-computed
// values.
func TestHeikinAshiRecurrence(t *testing.T) {
	candles := []market.Candle{
		candle(100, 110, 90, 105),
		candle(105, 115, 100, 110),
		candle(110, 112, 95, 98),
	}

	ha := HeikinAshi(candles)
	if len(ha) != 3 {
		t.Fatalf("expected 3 HA candles, got %d", len(ha))
	}

	// First candle: ha_open = (100+105)/2 = 102.5, ha_close = (100+110+90+105)/4 = 101.25
	if ha[0].Open != 102.5 {
		t.Errorf("ha_open[0] = %v, want 102.5", ha[0].Open)
	}
	if ha[0].Close != 101.25 {
		t.Errorf("ha_close[0] = %v, want 101.25", ha[0].Close)
	}
	if ha[0].Color != ColorRed {
		t.Errorf("color[0] = %s, want red", ha[0].Color)
	}

	// Second: ha_open = (102.5+101.25)/2 = 101.875, ha_close = (105+115+100+110)/4 = 107.5
	if ha[1].Open != 101.875 {
		t.Errorf("ha_open[1] = %v, want 101.875", ha[1].Open)
	}
	if ha[1].Close != 107.5 {
		t.Errorf("ha_close[1] = %v, want 107.5", ha[1].Close)
	}
	if ha[1].Color != ColorGreen {
		t.Errorf("color[1] = %s, want green", ha[1].Color)
	}

	// High/low envelope includes the synthetic open and close.
	if ha[1].High != 115 {
		t.Errorf("ha_high[1] = %v, want 115", ha[1].High)
	}
	if ha[1].Low != 100 {
		t.Errorf("ha_low[1] = %v, want 100", ha[1].Low)
	}
}

// TestHeikinAshiDeterministic verifies identical inputs give identical
// outputs across runs.
func TestHeikinAshiDeterministic(t *testing.T) {
	candles := []market.Candle{
		candle(100, 110, 90, 105),
		candle(105, 115, 100, 110),
		candle(110, 112, 95, 98),
		candle(98, 99, 80, 82),
	}

	first := HeikinAshi(candles)
	second := HeikinAshi(candles)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("HA output differs at index %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestHeikinAshiDoji(t *testing.T) {
	// Flat candle: ha_open == ha_close.
	ha := HeikinAshi([]market.Candle{candle(100, 100, 100, 100)})
	if ha[0].Color != ColorDoji {
		t.Errorf("flat candle color = %s, want doji", ha[0].Color)
	}
}

func TestHeikinAshiEmpty(t *testing.T) {
	ha := HeikinAshi(nil)
	if len(ha) != 0 {
		t.Errorf("expected empty output for empty input, got %d", len(ha))
	}
}

func TestHeikinAshiEnvelope(t *testing.T) {
	candles := []market.Candle{
		candle(100, 110, 90, 105),
		candle(105, 106, 104, 105.5),
	}
	ha := HeikinAshi(candles)

	for i, h := range ha {
		if h.High < math.Max(h.Open, h.Close) {
			t.Errorf("candle %d: high %v below body", i, h.High)
		}
		if h.Low > math.Min(h.Open, h.Close) {
			t.Errorf("candle %d: low %v above body", i, h.Low)
		}
	}
}
