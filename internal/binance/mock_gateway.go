package binance

import (
	"fmt"
	"sync"
	"time"
)

// PlacedOrder captures one order submission exactly as it would go on
// the wire, with grid-formatted quantity and price strings.
type PlacedOrder struct {
	OrderID      int64
	Symbol       string
	Side         OrderSide
	PositionSide PositionSide
	Type         FuturesOrderType
	Quantity     string
	Price        string
	StopPrice    string
}

// MockFuturesGateway is an in-memory FuturesGateway used by tests. Order
// placements are recorded rather than executed; fills are injected by the
// test through the runtime's order-update path. Individual operations can
// be scripted to fail a number of times.
type MockFuturesGateway struct {
	mu sync.Mutex

	balances  map[string]float64
	positions map[string]*FuturesPosition
	orders    map[int64]*FuturesOrder
	placed    []PlacedOrder
	cancelled []int64
	precision map[string]SymbolPrecision
	klines    []Kline

	// failures maps an operation name to the number of remaining
	// scripted failures for it.
	failures map[string]int

	nextOrderID int64
	listenKey   string
	keepAlives  int
}

// NewMockFuturesGateway creates an empty mock gateway.
func NewMockFuturesGateway() *MockFuturesGateway {
	return &MockFuturesGateway{
		balances:    make(map[string]float64),
		positions:   make(map[string]*FuturesPosition),
		orders:      make(map[int64]*FuturesOrder),
		precision:   make(map[string]SymbolPrecision),
		failures:    make(map[string]int),
		nextOrderID: 1000,
		listenKey:   "mock-listen-key",
	}
}

// ==================== TEST SCRIPTING ====================

// SetBalance sets the available balance for an asset.
func (m *MockFuturesGateway) SetBalance(asset string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = balance
}

// SetPosition installs a position snapshot.
func (m *MockFuturesGateway) SetPosition(pos FuturesPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Symbol+"_"+pos.PositionSide] = &pos
}

// ClearPosition removes a position snapshot.
func (m *MockFuturesGateway) ClearPosition(symbol string, positionSide PositionSide) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol+"_"+string(positionSide))
}

// SetPrecision installs the price/quantity grids for a symbol.
func (m *MockFuturesGateway) SetPrecision(p SymbolPrecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.precision[p.Symbol] = p
}

// SetKlines sets the candles returned by GetKlines.
func (m *MockFuturesGateway) SetKlines(klines []Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.klines = klines
}

// FailNext makes the named operation fail the next n times. Operation
// names match the FuturesGateway method names.
func (m *MockFuturesGateway) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = n
}

// PlacedOrders returns every recorded order submission in order.
func (m *MockFuturesGateway) PlacedOrders() []PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlacedOrder, len(m.placed))
	copy(out, m.placed)
	return out
}

// LastPlacedOrder returns the most recent submission, or nil.
func (m *MockFuturesGateway) LastPlacedOrder() *PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.placed) == 0 {
		return nil
	}
	last := m.placed[len(m.placed)-1]
	return &last
}

// CancelledOrderIDs returns the IDs passed to CancelOrder.
func (m *MockFuturesGateway) CancelledOrderIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

// KeepAliveCount returns how many keepalive calls were made.
func (m *MockFuturesGateway) KeepAliveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keepAlives
}

// takeFailure consumes one scripted failure for op if any remain.
// Caller must hold m.mu.
func (m *MockFuturesGateway) takeFailure(op string) error {
	if n := m.failures[op]; n > 0 {
		m.failures[op] = n - 1
		return fmt.Errorf("mock: scripted %s failure (%d remaining)", op, n-1)
	}
	return nil
}

// ==================== ACCOUNT ====================

func (m *MockFuturesGateway) GetAvailableBalance(asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetAvailableBalance"); err != nil {
		return 0, err
	}
	return m.balances[asset], nil
}

func (m *MockFuturesGateway) GetPosition(symbol string, positionSide PositionSide) (*FuturesPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetPosition"); err != nil {
		return nil, err
	}
	if pos, ok := m.positions[symbol+"_"+string(positionSide)]; ok {
		copied := *pos
		return &copied, nil
	}
	return &FuturesPosition{
		Symbol:       symbol,
		PositionSide: string(positionSide),
	}, nil
}

func (m *MockFuturesGateway) GetPositions(symbol string) ([]FuturesPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetPositions"); err != nil {
		return nil, err
	}
	positions := make([]FuturesPosition, 0, len(m.positions))
	for _, pos := range m.positions {
		if symbol == "" || pos.Symbol == symbol {
			positions = append(positions, *pos)
		}
	}
	return positions, nil
}

// ==================== ORDERS ====================

func (m *MockFuturesGateway) record(op string, symbol string, side OrderSide, positionSide PositionSide, orderType FuturesOrderType, quantity, price, stopPrice string, status FuturesOrderStatus) (*FuturesOrderResponse, error) {
	if err := m.takeFailure(op); err != nil {
		return nil, err
	}

	orderID := m.nextOrderID
	m.nextOrderID++

	m.placed = append(m.placed, PlacedOrder{
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         side,
		PositionSide: positionSide,
		Type:         orderType,
		Quantity:     quantity,
		Price:        price,
		StopPrice:    stopPrice,
	})
	m.orders[orderID] = &FuturesOrder{
		OrderId:      orderID,
		Symbol:       symbol,
		Status:       string(status),
		Type:         string(orderType),
		Side:         string(side),
		PositionSide: string(positionSide),
		Time:         time.Now().UnixMilli(),
		UpdateTime:   time.Now().UnixMilli(),
	}

	return &FuturesOrderResponse{
		OrderId:      orderID,
		Symbol:       symbol,
		Status:       string(status),
		Type:         string(orderType),
		Side:         string(side),
		PositionSide: string(positionSide),
		UpdateTime:   time.Now().UnixMilli(),
	}, nil
}

func (m *MockFuturesGateway) PlaceMarketOrder(symbol string, side OrderSide, positionSide PositionSide, quantity float64) (*FuturesOrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, err := m.formatQuantityLocked(symbol, quantity)
	if err != nil {
		return nil, err
	}
	return m.record("PlaceMarketOrder", symbol, side, positionSide, FuturesOrderTypeMarket, qty, "", "", FuturesOrderStatusFilled)
}

func (m *MockFuturesGateway) PlaceStopMarketOrder(symbol string, side OrderSide, positionSide PositionSide, quantity, stopPrice float64) (*FuturesOrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, err := m.formatQuantityLocked(symbol, quantity)
	if err != nil {
		return nil, err
	}
	stop, err := m.formatPriceLocked(symbol, stopPrice)
	if err != nil {
		return nil, err
	}
	return m.record("PlaceStopMarketOrder", symbol, side, positionSide, FuturesOrderTypeStopMarket, qty, "", stop, FuturesOrderStatusNew)
}

func (m *MockFuturesGateway) PlaceTakeProfitOrder(symbol string, side OrderSide, positionSide PositionSide, quantity, stopPrice, limitPrice float64) (*FuturesOrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, err := m.formatQuantityLocked(symbol, quantity)
	if err != nil {
		return nil, err
	}
	stop, err := m.formatPriceLocked(symbol, stopPrice)
	if err != nil {
		return nil, err
	}
	limit, err := m.formatPriceLocked(symbol, limitPrice)
	if err != nil {
		return nil, err
	}
	return m.record("PlaceTakeProfitOrder", symbol, side, positionSide, FuturesOrderTypeTakeProfit, qty, limit, stop, FuturesOrderStatusNew)
}

func (m *MockFuturesGateway) CancelOrder(symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CancelOrder"); err != nil {
		return err
	}
	m.cancelled = append(m.cancelled, orderID)
	if order, ok := m.orders[orderID]; ok {
		order.Status = string(FuturesOrderStatusCanceled)
	}
	return nil
}

func (m *MockFuturesGateway) CancelAllOpenOrders(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CancelAllOpenOrders"); err != nil {
		return err
	}
	for _, order := range m.orders {
		if order.Symbol == symbol && order.Status == string(FuturesOrderStatusNew) {
			order.Status = string(FuturesOrderStatusCanceled)
			m.cancelled = append(m.cancelled, order.OrderId)
		}
	}
	return nil
}

func (m *MockFuturesGateway) GetOrder(symbol string, orderID int64) (*FuturesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetOrder"); err != nil {
		return nil, err
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("mock: order not found: %d", orderID)
	}
	copied := *order
	return &copied, nil
}

func (m *MockFuturesGateway) GetOpenOrders(symbol string) ([]FuturesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetOpenOrders"); err != nil {
		return nil, err
	}
	orders := make([]FuturesOrder, 0)
	for _, order := range m.orders {
		if order.Status == string(FuturesOrderStatusNew) && (symbol == "" || order.Symbol == symbol) {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

// MarkOrderFilled transitions a recorded order to FILLED, as the
// exchange would after a trigger.
func (m *MockFuturesGateway) MarkOrderFilled(orderID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[orderID]; ok {
		order.Status = string(FuturesOrderStatusFilled)
	}
}

// ==================== PRECISION ====================

func (m *MockFuturesGateway) GetSymbolPrecision(symbol string) (SymbolPrecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.precision[symbol]
	if !ok {
		return SymbolPrecision{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return p, nil
}

func (m *MockFuturesGateway) FormatPrice(symbol string, price float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formatPriceLocked(symbol, price)
}

func (m *MockFuturesGateway) FormatQuantity(symbol string, quantity float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formatQuantityLocked(symbol, quantity)
}

func (m *MockFuturesGateway) formatPriceLocked(symbol string, price float64) (string, error) {
	p, ok := m.precision[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return p.FormatPrice(price), nil
}

func (m *MockFuturesGateway) formatQuantityLocked(symbol string, quantity float64) (string, error) {
	p, ok := m.precision[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return p.FormatQuantity(quantity), nil
}

// ==================== MARKET DATA ====================

func (m *MockFuturesGateway) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetKlines"); err != nil {
		return nil, err
	}
	klines := m.klines
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	out := make([]Kline, len(klines))
	copy(out, klines)
	return out, nil
}

// ==================== USER DATA STREAM ====================

func (m *MockFuturesGateway) GetListenKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetListenKey"); err != nil {
		return "", err
	}
	return m.listenKey, nil
}

func (m *MockFuturesGateway) KeepAliveListenKey(listenKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("KeepAliveListenKey"); err != nil {
		return err
	}
	m.keepAlives++
	return nil
}

func (m *MockFuturesGateway) CloseListenKey(listenKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeFailure("CloseListenKey")
}

var _ FuturesGateway = (*MockFuturesGateway)(nil)
