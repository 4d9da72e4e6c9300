package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/logging"
)

// listenKeyKeepAliveInterval is how often the subscription token is
// renewed. Binance expires listen keys after 60 minutes.
const listenKeyKeepAliveInterval = 30 * time.Minute

// OrderUpdate is the normalized order event handed to the strategy
// runtime. Only FILLED updates drive state transitions; the rest are
// observed for logging.
type OrderUpdate struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	PositionSide  PositionSide
	Status        FuturesOrderStatus
	ExecutionType string
	Kind          string // MARKET, STOP_MARKET, TAKE_PROFIT, ...
	OrigQty       float64
	ExecutedQty   float64
	LastPrice     float64
	AvgPrice      float64
	StopPrice     float64
	EventTime     int64
}

// orderTradeUpdateEvent mirrors the ORDER_TRADE_UPDATE wire payload.
type orderTradeUpdateEvent struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	TransactionTime int64  `json:"T"`
	Order           struct {
		Symbol              string  `json:"s"`
		ClientOrderId       string  `json:"c"`
		Side                string  `json:"S"`
		OrderType           string  `json:"o"`
		OriginalQuantity    float64 `json:"q,string"`
		OriginalPrice       float64 `json:"p,string"`
		AveragePrice        float64 `json:"ap,string"`
		StopPrice           float64 `json:"sp,string"`
		ExecutionType       string  `json:"x"`
		OrderStatus         string  `json:"X"`
		OrderId             int64   `json:"i"`
		LastFilledQty       float64 `json:"l,string"`
		CumulativeFilledQty float64 `json:"z,string"`
		LastFilledPrice     float64 `json:"L,string"`
		PositionSide        string  `json:"ps"`
		OriginalOrderType   string  `json:"ot"`
	} `json:"o"`
}

// UserDataStream maintains the authenticated order-event subscription:
// listen key lifecycle, the persistent WebSocket, and normalization of
// ORDER_TRADE_UPDATE events for the configured symbol.
type UserDataStream struct {
	mu sync.RWMutex

	client    FuturesGateway
	wsBaseURL string
	symbol    string
	reconnect config.ReconnectionConfig
	logger    *logging.Logger

	listenKey string
	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	onOrderUpdate func(OrderUpdate)
	onFatal       func(error)
}

// NewUserDataStream creates a stream bound to one symbol.
func NewUserDataStream(client FuturesGateway, wsBaseURL, symbol string, reconnect config.ReconnectionConfig) *UserDataStream {
	return &UserDataStream{
		client:    client,
		wsBaseURL: strings.TrimRight(wsBaseURL, "/"),
		symbol:    strings.ToUpper(symbol),
		reconnect: reconnect,
		logger:    logging.WithComponent("user_data_stream"),
		stopChan:  make(chan struct{}),
	}
}

// SetOrderUpdateCallback sets the callback for normalized order updates.
func (s *UserDataStream) SetOrderUpdateCallback(cb func(OrderUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOrderUpdate = cb
}

// SetFatalCallback sets the handler invoked when reconnection attempts
// are exhausted.
func (s *UserDataStream) SetFatalCallback(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = cb
}

// Start acquires a listen key and launches the connection and keepalive
// loops.
func (s *UserDataStream) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	listenKey, err := s.client.GetListenKey()
	if err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return fmt.Errorf("failed to acquire listen key: %w", err)
	}

	s.mu.Lock()
	s.listenKey = listenKey
	s.mu.Unlock()

	go s.connectLoop()
	go s.keepAliveLoop()

	s.logger.Info("User data stream started")
	return nil
}

// Stop closes the connection and deletes the listen key.
func (s *UserDataStream) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	conn := s.wsConn
	listenKey := s.listenKey
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if listenKey != "" {
		if err := s.client.CloseListenKey(listenKey); err != nil {
			s.logger.Warn("Failed to close listen key", "error", err)
		}
	}

	s.logger.Info("User data stream stopped")
}

// IsRunning reports whether the stream loops are active.
func (s *UserDataStream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// connectLoop dials and re-dials the stream until stopped or the retry
// budget is exhausted.
func (s *UserDataStream) connectLoop() {
	failures := 0

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		wsURL := s.wsBaseURL + "/" + s.listenKey
		timeout := s.reconnect.ReceiveTimeout
		s.mu.RUnlock()

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			failures++
			s.logger.Warn("User data stream connect failed",
				"attempt", failures, "max_attempts", s.reconnect.MaxAttempts, "error", err)

			// A stale listen key is the usual cause; recreate it before
			// the next attempt.
			s.refreshListenKey()

			if !s.reconnect.Enabled || failures >= s.reconnect.MaxAttempts {
				s.fatal(fmt.Errorf("user data stream reconnection exhausted after %d attempts", failures))
				return
			}

			select {
			case <-s.stopChan:
				return
			case <-time.After(s.reconnect.Delay):
			}
			continue
		}

		failures = 0
		s.mu.Lock()
		s.wsConn = conn
		s.mu.Unlock()
		s.logger.Info("User data stream connected")

		s.readLoop(conn, timeout)

		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}
	}
}

// readLoop reads messages until the connection drops.
func (s *UserDataStream) readLoop(conn *websocket.Conn, timeout time.Duration) {
	for {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("User data stream closed")
			} else {
				s.logger.Warn("User data stream read error", "error", err)
			}
			conn.Close()
			return
		}

		s.handleMessage(message)
	}
}

// handleMessage routes an incoming event by type.
func (s *UserDataStream) handleMessage(message []byte) {
	var baseEvent struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(message, &baseEvent); err != nil {
		s.logger.Warn("Failed to parse event type", "error", err)
		return
	}

	switch baseEvent.EventType {
	case "ORDER_TRADE_UPDATE":
		s.handleOrderUpdate(message)

	case "ACCOUNT_UPDATE":
		// Balance and position deltas arrive here; position state is
		// queried over REST when needed, so these are log-only.
		s.logger.Debug("Account update received")

	case "listenKeyExpired":
		s.logger.Warn("Listen key expired, refreshing")
		s.refreshListenKey()

	default:
		s.logger.Debug("Ignoring event", "type", baseEvent.EventType)
	}
}

// handleOrderUpdate normalizes and dispatches ORDER_TRADE_UPDATE events
// for the configured symbol.
func (s *UserDataStream) handleOrderUpdate(message []byte) {
	var event orderTradeUpdateEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Warn("Failed to parse ORDER_TRADE_UPDATE", "error", err)
		return
	}

	if !strings.EqualFold(event.Order.Symbol, s.symbol) {
		return
	}

	update := OrderUpdate{
		OrderID:       event.Order.OrderId,
		ClientOrderID: event.Order.ClientOrderId,
		Symbol:        event.Order.Symbol,
		Side:          OrderSide(event.Order.Side),
		PositionSide:  PositionSide(event.Order.PositionSide),
		Status:        FuturesOrderStatus(event.Order.OrderStatus),
		ExecutionType: event.Order.ExecutionType,
		Kind:          event.Order.OriginalOrderType,
		OrigQty:       event.Order.OriginalQuantity,
		ExecutedQty:   event.Order.CumulativeFilledQty,
		LastPrice:     event.Order.LastFilledPrice,
		AvgPrice:      event.Order.AveragePrice,
		StopPrice:     event.Order.StopPrice,
		EventTime:     event.EventTime,
	}
	if update.Kind == "" {
		update.Kind = event.Order.OrderType
	}

	s.logger.Debug("Order update",
		"order_id", update.OrderID, "kind", update.Kind,
		"status", string(update.Status), "executed_qty", update.ExecutedQty)

	s.mu.RLock()
	cb := s.onOrderUpdate
	s.mu.RUnlock()
	if cb != nil {
		cb(update)
	}
}

// keepAliveLoop renews the listen key on a fixed interval, with a short
// retry ladder and a full refresh after repeated failure.
func (s *UserDataStream) keepAliveLoop() {
	ticker := time.NewTicker(listenKeyKeepAliveInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	const maxConsecutiveFailures = 3

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.RLock()
			listenKey := s.listenKey
			running := s.isRunning
			s.mu.RUnlock()

			if !running {
				return
			}

			var lastErr error
			success := false
			for attempt := 1; attempt <= 3; attempt++ {
				if err := s.client.KeepAliveListenKey(listenKey); err != nil {
					lastErr = err
					s.logger.Warn("Keepalive attempt failed", "attempt", attempt, "error", err)
					if attempt < 3 {
						time.Sleep(5 * time.Second)
					}
				} else {
					success = true
					break
				}
			}

			if success {
				consecutiveFailures = 0
				s.logger.Debug("Listen key kept alive")
				continue
			}

			consecutiveFailures++
			s.logger.Error("All keepalive attempts failed",
				"error", lastErr, "consecutive_failures", consecutiveFailures)

			if consecutiveFailures >= maxConsecutiveFailures {
				s.refreshListenKey()
				consecutiveFailures = 0
			}
		}
	}
}

// refreshListenKey acquires a new listen key and forces a reconnect so
// the socket follows it.
func (s *UserDataStream) refreshListenKey() {
	listenKey, err := s.client.GetListenKey()
	if err != nil {
		s.logger.Error("Failed to refresh listen key", "error", err)
		return
	}

	s.mu.Lock()
	s.listenKey = listenKey
	if s.wsConn != nil {
		s.wsConn.Close()
	}
	s.mu.Unlock()

	s.logger.Info("Listen key refreshed")
}

func (s *UserDataStream) fatal(err error) {
	s.logger.Error("User data stream fatal", "error", err)
	s.mu.RLock()
	cb := s.onFatal
	s.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}
