package binance

// FuturesGateway is the typed operation surface the strategies and the
// runtime depend on. The production implementation is *FuturesClient; the
// in-memory mock used by tests implements the same interface.
type FuturesGateway interface {
	// Account
	GetAvailableBalance(asset string) (float64, error)
	GetPosition(symbol string, positionSide PositionSide) (*FuturesPosition, error)
	GetPositions(symbol string) ([]FuturesPosition, error)

	// Orders
	PlaceMarketOrder(symbol string, side OrderSide, positionSide PositionSide, quantity float64) (*FuturesOrderResponse, error)
	PlaceStopMarketOrder(symbol string, side OrderSide, positionSide PositionSide, quantity, stopPrice float64) (*FuturesOrderResponse, error)
	PlaceTakeProfitOrder(symbol string, side OrderSide, positionSide PositionSide, quantity, stopPrice, limitPrice float64) (*FuturesOrderResponse, error)
	CancelOrder(symbol string, orderID int64) error
	CancelAllOpenOrders(symbol string) error
	GetOrder(symbol string, orderID int64) (*FuturesOrder, error)
	GetOpenOrders(symbol string) ([]FuturesOrder, error)

	// Precision and formatting
	GetSymbolPrecision(symbol string) (SymbolPrecision, error)
	FormatPrice(symbol string, price float64) (string, error)
	FormatQuantity(symbol string, quantity float64) (string, error)

	// Market data
	GetKlines(symbol, interval string, limit int) ([]Kline, error)

	// User data stream lifecycle
	GetListenKey() (string, error)
	KeepAliveListenKey(listenKey string) error
	CloseListenKey(listenKey string) error
}
