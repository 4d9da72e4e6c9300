// Package strategy implements the trading strategies and their shared
// dispatch surface. All callbacks are invoked from the runtime's single
// event-processing goroutine; strategies do not lock their own state.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/market"
	"binance-futures-bot/internal/signal"
)

// ErrFatal marks conditions the supervisor must treat as unrecoverable,
// typically protective-order retry exhaustion after an entry fill.
var ErrFatal = errors.New("fatal strategy condition")

// Strategy is the dispatch surface shared by all strategies.
type Strategy interface {
	Name() string

	// OnSignal reacts to a confirmed entry signal.
	OnSignal(sig signal.Signal, history *market.History) error

	// OnClosedCandle runs per-candle maintenance (trailing stops,
	// dynamic exits).
	OnClosedCandle(history *market.History) error

	// OnOrderUpdate reacts to a normalized order event. Only FILLED
	// updates drive state transitions.
	OnOrderUpdate(update binance.OrderUpdate) error

	// CanAcceptSignal reports whether a new signal for the side can be
	// honored right now.
	CanAcceptSignal(side signal.Side) bool

	// HasOutstandingTakeProfits reports whether any TP order from the
	// current cycle is still live.
	HasOutstandingTakeProfits() bool

	// Snapshot returns the strategy's state for the status API.
	Snapshot() map[string]interface{}

	// Shutdown stops the strategy. Live protective orders are left on
	// the exchange so an operator restart does not unwind positions.
	Shutdown() error
}

// New constructs the strategy selected by cfg.StrategyType.
func New(cfg *config.Config, gateway binance.FuturesGateway) (Strategy, error) {
	switch cfg.StrategyType {
	case config.StrategyAllOrNothing:
		return NewAllOrNothing(cfg, gateway), nil
	case config.StrategyAccumulator:
		return NewAccumulator(cfg, gateway), nil
	case config.StrategyCascadeMaster:
		return NewCascadeMaster(cfg, gateway), nil
	case config.StrategyOneOrMore:
		return NewOneOrMore(cfg, gateway), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidStrategy, cfg.StrategyType)
	}
}

// quoteAssetOf extracts the quote asset from a symbol name.
func quoteAssetOf(symbol string) string {
	symbol = strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return quote
		}
	}
	return "USDT"
}

// entrySide maps a signal side to the opening order side and position
// side.
func entrySide(side signal.Side) (binance.OrderSide, binance.PositionSide) {
	if side == signal.SideLong {
		return binance.OrderSideBuy, binance.PositionSideLong
	}
	return binance.OrderSideSell, binance.PositionSideShort
}

// fillPrice prefers the order-status average price over the placement
// response, falling back to the response and then to the signal price.
func fillPrice(gateway binance.FuturesGateway, symbol string, resp *binance.FuturesOrderResponse, fallback float64) float64 {
	if resp != nil {
		if order, err := gateway.GetOrder(symbol, resp.OrderId); err == nil && order.AvgPrice > 0 {
			return order.AvgPrice
		}
		if resp.AvgPrice > 0 {
			return resp.AvgPrice
		}
	}
	return fallback
}
