package binance

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"binance-futures-bot/internal/logging"
)

// ErrSymbolNotFound is returned when exchangeInfo has no entry for a symbol.
var ErrSymbolNotFound = errors.New("symbol not found in exchange info")

// SymbolPrecision holds the price and quantity grids for one symbol.
type SymbolPrecision struct {
	Symbol   string
	TickSize decimal.Decimal
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// precisionFromSymbolInfo extracts the grids from the exchangeInfo filters.
func precisionFromSymbolInfo(info *FuturesSymbolInfo) (SymbolPrecision, error) {
	p := SymbolPrecision{Symbol: info.Symbol}

	for _, f := range info.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			tick, err := decimal.NewFromString(f.TickSize)
			if err != nil {
				return p, fmt.Errorf("invalid tickSize %q for %s: %w", f.TickSize, info.Symbol, err)
			}
			p.TickSize = tick
		case "LOT_SIZE":
			step, err := decimal.NewFromString(f.StepSize)
			if err != nil {
				return p, fmt.Errorf("invalid stepSize %q for %s: %w", f.StepSize, info.Symbol, err)
			}
			p.StepSize = step
			if f.MinQty != "" {
				minQty, err := decimal.NewFromString(f.MinQty)
				if err != nil {
					return p, fmt.Errorf("invalid minQty %q for %s: %w", f.MinQty, info.Symbol, err)
				}
				p.MinQty = minQty
			}
		}
	}

	if p.TickSize.IsZero() || p.StepSize.IsZero() {
		return p, fmt.Errorf("incomplete precision filters for %s", info.Symbol)
	}
	return p, nil
}

// FormatPrice rounds price down to the tick grid and renders it as a plain
// decimal string with trailing zeros trimmed.
func (p SymbolPrecision) FormatPrice(price float64) string {
	return snapDown(decimal.NewFromFloat(price), p.TickSize)
}

// FormatQuantity rounds quantity down to the step grid and renders it as a
// plain decimal string with trailing zeros trimmed.
func (p SymbolPrecision) FormatQuantity(quantity float64) string {
	return snapDown(decimal.NewFromFloat(quantity), p.StepSize)
}

// snapDown floors value onto the grid and renders it without exponent
// notation or trailing zeros.
func snapDown(value, grid decimal.Decimal) string {
	if grid.IsZero() {
		return value.String()
	}
	snapped := value.Div(grid).Floor().Mul(grid)
	out := snapped.String()
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	if out == "" || out == "-" {
		out = "0"
	}
	return out
}

// exchangeInfoSource is the subset of the gateway the cache needs.
type exchangeInfoSource interface {
	GetExchangeInfo() (*FuturesExchangeInfo, error)
}

// PrecisionCache lazily fetches and caches symbol precision process-wide.
// Entries are invalidated only by an explicit Reload.
type PrecisionCache struct {
	mu     sync.RWMutex
	source exchangeInfoSource
	byName map[string]SymbolPrecision
	logger *logging.Logger
}

// NewPrecisionCache creates an empty cache backed by source.
func NewPrecisionCache(source exchangeInfoSource) *PrecisionCache {
	return &PrecisionCache{
		source: source,
		byName: make(map[string]SymbolPrecision),
		logger: logging.WithComponent("precision_cache"),
	}
}

// Get returns the precision for symbol, fetching exchange info on first use.
func (pc *PrecisionCache) Get(symbol string) (SymbolPrecision, error) {
	symbol = strings.ToUpper(symbol)

	pc.mu.RLock()
	if p, ok := pc.byName[symbol]; ok {
		pc.mu.RUnlock()
		return p, nil
	}
	pc.mu.RUnlock()

	if err := pc.Reload(); err != nil {
		return SymbolPrecision{}, err
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if p, ok := pc.byName[symbol]; ok {
		return p, nil
	}
	return SymbolPrecision{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

// Reload refetches exchange info and replaces the cache contents.
func (pc *PrecisionCache) Reload() error {
	info, err := pc.source.GetExchangeInfo()
	if err != nil {
		return fmt.Errorf("failed to load exchange info: %w", err)
	}

	byName := make(map[string]SymbolPrecision, len(info.Symbols))
	for i := range info.Symbols {
		p, err := precisionFromSymbolInfo(&info.Symbols[i])
		if err != nil {
			// Symbols without full filters are unusable for trading; skip.
			continue
		}
		byName[strings.ToUpper(p.Symbol)] = p
	}

	pc.mu.Lock()
	pc.byName = byName
	pc.mu.Unlock()

	pc.logger.Info("Symbol precision cache loaded", "symbols", len(byName))
	return nil
}

// Put inserts a precision entry directly. Used by tests and the mock.
func (pc *PrecisionCache) Put(p SymbolPrecision) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.byName[strings.ToUpper(p.Symbol)] = p
}
