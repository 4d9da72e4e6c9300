package strategy

import (
	"fmt"
	"math"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
)

// computeQuantity resolves the entry size per the configured mode.
// PERCENTAGE risks a fixed share of the available quote balance against
// the distance to the protective level.
func computeQuantity(cfg config.TradingConfig, gateway binance.FuturesGateway, symbol string, entry, protective float64) (float64, error) {
	switch cfg.QuantityMode {
	case config.QuantityModeMinimum:
		precision, err := gateway.GetSymbolPrecision(symbol)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve minimum quantity: %w", err)
		}
		minQty, _ := precision.MinQty.Float64()
		return minQty, nil

	case config.QuantityModeFixed:
		return cfg.InitialQuantity, nil

	case config.QuantityModePercentage:
		distance := math.Abs(entry - protective)
		if distance <= 0 {
			return 0, fmt.Errorf("invalid protective distance: entry=%v protective=%v", entry, protective)
		}
		balance, err := gateway.GetAvailableBalance(quoteAssetOf(symbol))
		if err != nil {
			return 0, fmt.Errorf("failed to fetch balance for sizing: %w", err)
		}
		return balance * cfg.BalancePercentage / distance, nil

	default:
		return 0, fmt.Errorf("unknown quantity mode: %s", cfg.QuantityMode)
	}
}
