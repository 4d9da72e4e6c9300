// Package indicator provides the pure technical-indicator functions used
// by the signal engine: the Heikin-Ashi transform and an EMA-based RSI.
// All functions operate on time-ordered series, oldest first.
package indicator

import "binance-futures-bot/internal/market"

// Color classifies a Heikin-Ashi candle body.
type Color string

const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
	ColorDoji  Color = "doji"
)

// HACandle is a Heikin-Ashi transformed candle.
type HACandle struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Color    Color
}

// HeikinAshi transforms raw candles into Heikin-Ashi candles.
//
//	ha_close = (o + h + l + c) / 4
//	ha_open[0] = (o[0] + c[0]) / 2
//	ha_open[i] = (ha_open[i-1] + ha_close[i-1]) / 2
//	ha_high = max(h, ha_open, ha_close)
//	ha_low  = min(l, ha_open, ha_close)
func HeikinAshi(candles []market.Candle) []HACandle {
	out := make([]HACandle, len(candles))
	for i, c := range candles {
		haClose := (c.Open + c.High + c.Low + c.Close) / 4

		var haOpen float64
		if i == 0 {
			haOpen = (c.Open + c.Close) / 2
		} else {
			haOpen = (out[i-1].Open + out[i-1].Close) / 2
		}

		haHigh := max3(c.High, haOpen, haClose)
		haLow := min3(c.Low, haOpen, haClose)

		out[i] = HACandle{
			OpenTime: c.OpenTime,
			Open:     haOpen,
			High:     haHigh,
			Low:      haLow,
			Close:    haClose,
			Volume:   c.Volume,
			Color:    colorOf(haOpen, haClose),
		}
	}
	return out
}

func colorOf(open, close float64) Color {
	switch {
	case close > open:
		return ColorGreen
	case close < open:
		return ColorRed
	default:
		return ColorDoji
	}
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
