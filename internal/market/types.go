// Package market ingests live kline data and maintains the closed-candle
// history used by the signal engine and strategies.
package market

// Candle is a single kline. Times are epoch milliseconds as delivered by
// the exchange.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsClosed  bool    `json:"is_closed"`
}
