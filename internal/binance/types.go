// Package binance is the typed gateway to the Binance USDT-M Futures API:
// signed REST operations, the symbol precision cache with grid formatting,
// the user-data stream, and the protective-order retry wrapper.
package binance

import "strconv"

// OrderSide is the order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other order direction.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PositionSide distinguishes simultaneous opposing positions in hedge mode.
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Opposite returns the other hedge-mode position side.
func (p PositionSide) Opposite() PositionSide {
	if p == PositionSideLong {
		return PositionSideShort
	}
	return PositionSideLong
}

// FuturesOrderType represents order types for futures
type FuturesOrderType string

const (
	FuturesOrderTypeLimit      FuturesOrderType = "LIMIT"
	FuturesOrderTypeMarket     FuturesOrderType = "MARKET"
	FuturesOrderTypeStopMarket FuturesOrderType = "STOP_MARKET"
	FuturesOrderTypeTakeProfit FuturesOrderType = "TAKE_PROFIT"
)

// TimeInForce represents order time-in-force options
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// FuturesOrderStatus represents order status
type FuturesOrderStatus string

const (
	FuturesOrderStatusNew             FuturesOrderStatus = "NEW"
	FuturesOrderStatusPartiallyFilled FuturesOrderStatus = "PARTIALLY_FILLED"
	FuturesOrderStatusFilled          FuturesOrderStatus = "FILLED"
	FuturesOrderStatusCanceled        FuturesOrderStatus = "CANCELED"
	FuturesOrderStatusExpired         FuturesOrderStatus = "EXPIRED"
	FuturesOrderStatusRejected        FuturesOrderStatus = "REJECTED"
)

// WorkingType for TP/SL trigger price source
type WorkingType string

const (
	WorkingTypeContractPrice WorkingType = "CONTRACT_PRICE"
	WorkingTypeMarkPrice     WorkingType = "MARK_PRICE"
)

// FuturesBalance is one asset entry from /fapi/v2/balance
type FuturesBalance struct {
	AccountAlias       string  `json:"accountAlias"`
	Asset              string  `json:"asset"`
	Balance            float64 `json:"balance,string"`
	CrossWalletBalance float64 `json:"crossWalletBalance,string"`
	CrossUnPnl         float64 `json:"crossUnPnl,string"`
	AvailableBalance   float64 `json:"availableBalance,string"`
	MaxWithdrawAmount  float64 `json:"maxWithdrawAmount,string"`
	UpdateTime         int64   `json:"updateTime"`
}

// FuturesPosition represents a futures position from the positionRisk endpoint
type FuturesPosition struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	LiquidationPrice float64 `json:"liquidationPrice,string"`
	Leverage         int     `json:"leverage,string"`
	MarginType       string  `json:"marginType"`
	IsolatedMargin   float64 `json:"isolatedMargin,string"`
	PositionSide     string  `json:"positionSide"`
	Notional         float64 `json:"notional,string"`
	UpdateTime       int64   `json:"updateTime"`
}

// FuturesOrderParams represents parameters for placing a futures order.
// Quantity and price fields are pre-formatted grid-conforming decimal
// strings; raw floats never reach the wire.
type FuturesOrderParams struct {
	Symbol           string
	Side             OrderSide
	PositionSide     PositionSide
	Type             FuturesOrderType
	Quantity         string
	Price            string
	StopPrice        string
	TimeInForce      TimeInForce
	ReduceOnly       bool
	ClosePosition    bool
	WorkingType      WorkingType
	NewClientOrderId string
}

// FuturesOrder represents a futures order as returned by query endpoints
type FuturesOrder struct {
	OrderId       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderId string  `json:"clientOrderId"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	CumQuote      float64 `json:"cumQuote,string"`
	TimeInForce   string  `json:"timeInForce"`
	Type          string  `json:"type"`
	ReduceOnly    bool    `json:"reduceOnly"`
	ClosePosition bool    `json:"closePosition"`
	Side          string  `json:"side"`
	PositionSide  string  `json:"positionSide"`
	StopPrice     float64 `json:"stopPrice,string"`
	WorkingType   string  `json:"workingType"`
	OrigType      string  `json:"origType"`
	Time          int64   `json:"time"`
	UpdateTime    int64   `json:"updateTime"`
}

// FuturesOrderResponse represents the response from placing an order
type FuturesOrderResponse struct {
	OrderId       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderId string  `json:"clientOrderId"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	CumQty        float64 `json:"cumQty,string"`
	CumQuote      float64 `json:"cumQuote,string"`
	TimeInForce   string  `json:"timeInForce"`
	Type          string  `json:"type"`
	ReduceOnly    bool    `json:"reduceOnly"`
	ClosePosition bool    `json:"closePosition"`
	Side          string  `json:"side"`
	PositionSide  string  `json:"positionSide"`
	StopPrice     float64 `json:"stopPrice,string"`
	WorkingType   string  `json:"workingType"`
	OrigType      string  `json:"origType"`
	UpdateTime    int64   `json:"updateTime"`
}

// Kline is one candlestick from the REST klines endpoint
type Kline struct {
	OpenTime                 int64
	Open                     float64
	High                     float64
	Low                      float64
	Close                    float64
	Volume                   float64
	CloseTime                int64
	QuoteAssetVolume         float64
	NumberOfTrades           int
	TakerBuyBaseAssetVolume  float64
	TakerBuyQuoteAssetVolume float64
}

// FuturesSymbolFilter represents a filter from the symbol's filters array
type FuturesSymbolFilter struct {
	FilterType string `json:"filterType"`
	MinPrice   string `json:"minPrice,omitempty"`
	MaxPrice   string `json:"maxPrice,omitempty"`
	TickSize   string `json:"tickSize,omitempty"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	Notional   string `json:"notional,omitempty"`
}

// FuturesSymbolInfo represents futures symbol information
type FuturesSymbolInfo struct {
	Symbol            string                `json:"symbol"`
	Pair              string                `json:"pair"`
	ContractType      string                `json:"contractType"`
	Status            string                `json:"status"`
	BaseAsset         string                `json:"baseAsset"`
	QuoteAsset        string                `json:"quoteAsset"`
	MarginAsset       string                `json:"marginAsset"`
	PricePrecision    int                   `json:"pricePrecision"`
	QuantityPrecision int                   `json:"quantityPrecision"`
	OrderTypes        []string              `json:"orderTypes"`
	TimeInForce       []string              `json:"timeInForce"`
	Filters           []FuturesSymbolFilter `json:"filters"`
}

// FuturesExchangeInfo represents futures exchange information
type FuturesExchangeInfo struct {
	ServerTime int64               `json:"serverTime"`
	Symbols    []FuturesSymbolInfo `json:"symbols"`
	Timezone   string              `json:"timezone"`
}

// ListenKeyResponse represents response from listen key endpoints
type ListenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

func parseFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
