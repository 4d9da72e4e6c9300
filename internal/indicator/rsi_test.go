package indicator

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestRSIEMARecurrence verifies the plain EMA smoothing with
// alpha = 1/period, seeded from the first delta.
func TestRSIEMARecurrence(t *testing.T) {
	closes := []float64{1, 2, 3, 2}
	out := RSI(closes, 2)

	if !math.IsNaN(out[0]) {
		t.Errorf("out[0] = %v, want NaN", out[0])
	}
	// Only gains so far: RSI pins at 100.
	if out[1] != 100 {
		t.Errorf("out[1] = %v, want 100", out[1])
	}
	if out[2] != 100 {
		t.Errorf("out[2] = %v, want 100", out[2])
	}
	// avgGain = 0.5*0 + 0.5*1 = 0.5, avgLoss = 0.5*1 + 0.5*0 = 0.5 → RSI 50.
	if !almostEqual(out[3], 50) {
		t.Errorf("out[3] = %v, want 50", out[3])
	}
}

func TestRSIShortInputAllNaN(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104}
	out := RSI(closes, 14)

	if len(out) != len(closes) {
		t.Fatalf("output length %d, want %d", len(out), len(closes))
	}
	for i, v := range out {
		if !math.IsNaN(v) {
			t.Errorf("out[%d] = %v, want NaN for short input", i, v)
		}
	}
}

func TestRSIInvalidPeriod(t *testing.T) {
	out := RSI([]float64{1, 2, 3}, 0)
	for i, v := range out {
		if !math.IsNaN(v) {
			t.Errorf("out[%d] = %v, want NaN for period 0", i, v)
		}
	}
}

// TestRSIFlatSeries verifies a series with no movement yields an
// undefined RSI rather than a division error.
func TestRSIFlatSeries(t *testing.T) {
	closes := []float64{50, 50, 50, 50, 50}
	if _, ok := RSILast(closes, 3); ok {
		t.Error("RSILast on flat series should be undefined")
	}
}

func TestRSILast(t *testing.T) {
	closes := []float64{1, 2, 3, 2}
	value, ok := RSILast(closes, 2)
	if !ok {
		t.Fatal("RSILast should be defined")
	}
	if !almostEqual(value, 50) {
		t.Errorf("RSILast = %v, want 50", value)
	}

	if _, ok := RSILast([]float64{1, 2}, 2); ok {
		t.Error("RSILast on short input should be undefined")
	}
}
