package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/logging"
)

// klineEvent mirrors the exchange's kline stream payload.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

// KlineStream maintains the kline WebSocket subscription for one
// (symbol, timeframe) pair and emits closed candles exactly once each.
type KlineStream struct {
	mu        sync.RWMutex
	wsBaseURL string
	symbol    string
	interval  string
	reconnect config.ReconnectionConfig
	logger    *logging.Logger

	conn    *websocket.Conn
	stopCh  chan struct{}
	stopped bool

	lastClosedOpenTime int64

	onClosedCandle func(Candle)
	onLivePrice    func(price, volume float64)
	onFatal        func(error)
}

// NewKlineStream creates a stream for the given symbol and interval.
func NewKlineStream(wsBaseURL, symbol, interval string, reconnect config.ReconnectionConfig) *KlineStream {
	return &KlineStream{
		wsBaseURL: wsBaseURL,
		symbol:    strings.ToUpper(symbol),
		interval:  interval,
		reconnect: reconnect,
		logger:    logging.WithComponent("kline_stream"),
		stopCh:    make(chan struct{}),
	}
}

// SetClosedCandleCallback registers the closed-candle handler.
func (ks *KlineStream) SetClosedCandleCallback(cb func(Candle)) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.onClosedCandle = cb
}

// SetLivePriceCallback registers the live (unclosed) price handler.
func (ks *KlineStream) SetLivePriceCallback(cb func(price, volume float64)) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.onLivePrice = cb
}

// SetFatalCallback registers the handler invoked when reconnection
// attempts are exhausted.
func (ks *KlineStream) SetFatalCallback(cb func(error)) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.onFatal = cb
}

// StreamName returns the exchange stream identifier.
func (ks *KlineStream) StreamName() string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(ks.symbol), ks.interval)
}

// Start connects and launches the read loop.
func (ks *KlineStream) Start() error {
	if err := ks.connect(); err != nil {
		return err
	}
	go ks.readLoop()
	return nil
}

// Stop closes the connection and halts reconnection.
func (ks *KlineStream) Stop() {
	ks.mu.Lock()
	if ks.stopped {
		ks.mu.Unlock()
		return
	}
	ks.stopped = true
	close(ks.stopCh)
	conn := ks.conn
	ks.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	ks.logger.Info("Kline stream stopped", "stream", ks.StreamName())
}

func (ks *KlineStream) connect() error {
	url := fmt.Sprintf("%s/%s", ks.wsBaseURL, ks.StreamName())

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect kline stream: %w", err)
	}

	ks.mu.Lock()
	ks.conn = conn
	ks.mu.Unlock()

	ks.logger.Info("Kline stream connected", "stream", ks.StreamName())
	return nil
}

func (ks *KlineStream) readLoop() {
	for {
		select {
		case <-ks.stopCh:
			return
		default:
		}

		ks.mu.RLock()
		conn := ks.conn
		timeout := ks.reconnect.ReceiveTimeout
		ks.mu.RUnlock()

		if conn == nil {
			if !ks.reconnectWithBackoff() {
				return
			}
			continue
		}

		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ks.stopCh:
				return
			default:
			}
			ks.logger.Warn("Kline stream read error", "error", err)
			conn.Close()
			ks.mu.Lock()
			ks.conn = nil
			ks.mu.Unlock()
			continue
		}

		ks.handleMessage(message)
	}
}

// reconnectWithBackoff retries the connection up to the configured attempt
// limit. Returns false when the loop should terminate.
func (ks *KlineStream) reconnectWithBackoff() bool {
	if !ks.reconnect.Enabled {
		ks.fatal(fmt.Errorf("kline stream disconnected and reconnection is disabled"))
		return false
	}

	for attempt := 1; attempt <= ks.reconnect.MaxAttempts; attempt++ {
		select {
		case <-ks.stopCh:
			return false
		case <-time.After(ks.reconnect.Delay):
		}

		if err := ks.connect(); err != nil {
			ks.logger.Warn("Kline stream reconnect failed",
				"attempt", attempt, "max_attempts", ks.reconnect.MaxAttempts, "error", err)
			continue
		}
		return true
	}

	ks.fatal(fmt.Errorf("kline stream reconnection exhausted after %d attempts", ks.reconnect.MaxAttempts))
	return false
}

func (ks *KlineStream) fatal(err error) {
	ks.logger.Error("Kline stream fatal", "error", err)
	ks.mu.RLock()
	cb := ks.onFatal
	ks.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

func (ks *KlineStream) handleMessage(message []byte) {
	var event klineEvent
	if err := json.Unmarshal(message, &event); err != nil {
		ks.logger.Warn("Failed to parse kline message", "error", err)
		return
	}
	if event.EventType != "kline" {
		return
	}

	candle, err := candleFromEvent(&event)
	if err != nil {
		ks.logger.Warn("Failed to decode kline fields", "error", err)
		return
	}

	ks.mu.RLock()
	onLive := ks.onLivePrice
	onClosed := ks.onClosedCandle
	ks.mu.RUnlock()

	if onLive != nil {
		onLive(candle.Close, candle.Volume)
	}

	if !candle.IsClosed {
		return
	}

	// The exchange can replay the closing message; suppress duplicates
	// by open time.
	ks.mu.Lock()
	if candle.OpenTime <= ks.lastClosedOpenTime {
		ks.mu.Unlock()
		return
	}
	ks.lastClosedOpenTime = candle.OpenTime
	ks.mu.Unlock()

	if onClosed != nil {
		onClosed(candle)
	}
}

func candleFromEvent(event *klineEvent) (Candle, error) {
	open, err := strconv.ParseFloat(event.Kline.Open, 64)
	if err != nil {
		return Candle{}, err
	}
	high, err := strconv.ParseFloat(event.Kline.High, 64)
	if err != nil {
		return Candle{}, err
	}
	low, err := strconv.ParseFloat(event.Kline.Low, 64)
	if err != nil {
		return Candle{}, err
	}
	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return Candle{}, err
	}
	volume, err := strconv.ParseFloat(event.Kline.Volume, 64)
	if err != nil {
		return Candle{}, err
	}

	return Candle{
		OpenTime:  event.Kline.OpenTime,
		CloseTime: event.Kline.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		IsClosed:  event.Kline.IsClosed,
	}, nil
}
