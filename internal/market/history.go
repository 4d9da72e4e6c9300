package market

// History is a bounded window of closed candles, newest last. Appends are
// idempotent on OpenTime so a replayed close message cannot double-count.
// It is not safe for concurrent use; the runtime owns it from a single
// goroutine.
type History struct {
	candles []Candle
	max     int
}

// NewHistory creates a history holding at most max closed candles.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 500
	}
	return &History{
		candles: make([]Candle, 0, max),
		max:     max,
	}
}

// Append adds a closed candle. Candles that are not closed, or whose
// OpenTime is not strictly newer than the last stored candle, are dropped.
// Returns true when the candle was stored.
func (h *History) Append(c Candle) bool {
	if !c.IsClosed {
		return false
	}
	if n := len(h.candles); n > 0 && c.OpenTime <= h.candles[n-1].OpenTime {
		return false
	}
	h.candles = append(h.candles, c)
	if len(h.candles) > h.max {
		h.candles = h.candles[len(h.candles)-h.max:]
	}
	return true
}

// Len returns the number of stored candles.
func (h *History) Len() int {
	return len(h.candles)
}

// Candles returns the stored candles, oldest first. The returned slice is
// shared; callers must not modify it.
func (h *History) Candles() []Candle {
	return h.candles
}

// Last returns the newest candle and whether one exists.
func (h *History) Last() (Candle, bool) {
	if len(h.candles) == 0 {
		return Candle{}, false
	}
	return h.candles[len(h.candles)-1], true
}

// Closes returns the close series, oldest first.
func (h *History) Closes() []float64 {
	out := make([]float64, len(h.candles))
	for i, c := range h.candles {
		out[i] = c.Close
	}
	return out
}

// Volumes returns the volume series, oldest first.
func (h *History) Volumes() []float64 {
	out := make([]float64, len(h.candles))
	for i, c := range h.candles {
		out[i] = c.Volume
	}
	return out
}

// LowestLow returns the minimum low over the last n closed candles.
// Returns false when fewer than n candles are stored.
func (h *History) LowestLow(n int) (float64, bool) {
	if n <= 0 || len(h.candles) < n {
		return 0, false
	}
	low := h.candles[len(h.candles)-n].Low
	for _, c := range h.candles[len(h.candles)-n:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low, true
}

// HighestHigh returns the maximum high over the last n closed candles.
// Returns false when fewer than n candles are stored.
func (h *History) HighestHigh(n int) (float64, bool) {
	if n <= 0 || len(h.candles) < n {
		return 0, false
	}
	high := h.candles[len(h.candles)-n].High
	for _, c := range h.candles[len(h.candles)-n:] {
		if c.High > high {
			high = c.High
		}
	}
	return high, true
}
