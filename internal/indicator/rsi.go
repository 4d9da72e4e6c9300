package indicator

import "math"

// RSI computes the Relative Strength Index over the close series using
// exponential smoothing with alpha = 1/period. This is the plain EMA
// recurrence seeded with the first gain/loss value; it is not the Wilder
// variant and carries no SMA warm-up.
//
// The result has the same length as closes. Index 0 is always NaN (no
// delta exists there). Inputs shorter than period+1 yield an all-NaN
// result rather than an error.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64

	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)

		if i == 1 {
			avgGain = gain
			avgLoss = loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}

		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

// RSILast returns the most recent RSI value. ok is false when the series
// is too short to produce a defined value.
func RSILast(closes []float64, period int) (float64, bool) {
	series := RSI(closes, period)
	if len(series) == 0 {
		return 0, false
	}
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return 0, false
	}
	return last, true
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN()
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
