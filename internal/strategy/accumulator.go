package strategy

import (
	"fmt"
	"math"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/logging"
	"binance-futures-bot/internal/market"
	"binance-futures-bot/internal/orders"
	"binance-futures-bot/internal/signal"
)

// accSideState is the per-side state of the ACCUMULATOR strategy.
type accSideState struct {
	accumulationCount int
	tpOrderID         int64
	totalQuantity     float64
	avgPrice          float64
}

// Accumulator averages down: every accepted signal adds a base-sized
// entry, and one take profit covers the full position at the averaged
// entry price. It never places a stop loss or hedge.
type Accumulator struct {
	cfg     *config.Config
	gateway binance.FuturesGateway
	tracker *orders.Tracker
	logger  *logging.Logger

	sides map[signal.Side]*accSideState
}

// NewAccumulator creates the strategy with both sides idle.
func NewAccumulator(cfg *config.Config, gateway binance.FuturesGateway) *Accumulator {
	return &Accumulator{
		cfg:     cfg,
		gateway: gateway,
		tracker: orders.NewTracker(),
		logger:  logging.WithComponent("accumulator"),
		sides: map[signal.Side]*accSideState{
			signal.SideLong:  {},
			signal.SideShort: {},
		},
	}
}

func (s *Accumulator) Name() string { return config.StrategyAccumulator }

func (s *Accumulator) CanAcceptSignal(side signal.Side) bool {
	return s.sides[side].accumulationCount < s.cfg.Accumulator.MaxAccumulations
}

// HasOutstandingTakeProfits always reports false: the strategy is built
// to keep accumulating while its take profit is live.
func (s *Accumulator) HasOutstandingTakeProfits() bool { return false }

// OnSignal adds one base-sized entry and re-anchors the take profit on
// the exchange-reported average entry price.
func (s *Accumulator) OnSignal(sig signal.Signal, history *market.History) error {
	state := s.sides[sig.Side]
	if state.accumulationCount >= s.cfg.Accumulator.MaxAccumulations {
		s.logger.Debug("Signal rejected, accumulation limit reached",
			"side", string(sig.Side), "count", state.accumulationCount)
		return nil
	}

	acc := s.cfg.Accumulator
	// The TP distance doubles as the protective distance for
	// percent-risk sizing; the strategy carries no stop loss.
	protective := sig.Price * (1 - acc.TPPercent)
	if sig.Side == signal.SideShort {
		protective = sig.Price * (1 + acc.TPPercent)
	}
	quantity, err := computeQuantity(s.cfg.Trading, s.gateway, s.cfg.Symbol, sig.Price, protective)
	if err != nil {
		return fmt.Errorf("sizing failed: %w", err)
	}

	orderSide, positionSide := entrySide(sig.Side)
	entryResp, err := s.gateway.PlaceMarketOrder(s.cfg.Symbol, orderSide, positionSide, quantity)
	if err != nil {
		return fmt.Errorf("accumulation entry failed: %w", err)
	}
	entry := fillPrice(s.gateway, s.cfg.Symbol, entryResp, sig.Price)

	position, err := s.gateway.GetPosition(s.cfg.Symbol, positionSide)
	if err != nil {
		return fmt.Errorf("failed to read position after accumulation: %w", err)
	}
	avgPrice := position.EntryPrice
	totalQty := math.Abs(position.PositionAmt)
	if totalQty == 0 {
		avgPrice = entry
		totalQty = quantity
	}

	if state.tpOrderID != 0 {
		if err := s.gateway.CancelOrder(s.cfg.Symbol, state.tpOrderID); err != nil {
			s.logger.Warn("Failed to cancel previous take profit", "order_id", state.tpOrderID, "error", err)
		}
		s.tracker.Forget(state.tpOrderID)
		state.tpOrderID = 0
	}

	tpLimit := avgPrice * (1 + acc.TPPercent)
	tpStop := tpLimit * (1 - acc.PriceOffset)
	exitSide := orderSide.Opposite()
	if sig.Side == signal.SideShort {
		tpLimit = avgPrice * (1 - acc.TPPercent)
		tpStop = tpLimit * (1 + acc.PriceOffset)
	}

	tpResp, err := binance.RetryProtectiveOrder("take_profit", s.cfg.Retry.MaxAttempts, s.cfg.Retry.DelayUnit, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceTakeProfitOrder(s.cfg.Symbol, exitSide, positionSide, totalQty, tpStop, tpLimit)
	})
	if err != nil {
		return fmt.Errorf("%w: take profit for accumulated %s position: %v", ErrFatal, sig.Side, err)
	}

	state.tpOrderID = tpResp.OrderId
	state.accumulationCount++
	state.totalQuantity = totalQty
	state.avgPrice = avgPrice
	s.tracker.Track(orders.Ref{
		OrderID: tpResp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleTakeProfit,
		Side: string(exitSide), PositionSide: string(positionSide), Quantity: totalQty, StopPrice: tpStop,
	})

	s.logger.Info("Accumulation placed",
		"side", string(sig.Side), "count", state.accumulationCount,
		"avg_price", avgPrice, "total_quantity", totalQty, "tp", tpLimit)
	return nil
}

// OnClosedCandle is a no-op; the strategy reacts only to signals and
// fills.
func (s *Accumulator) OnClosedCandle(history *market.History) error { return nil }

// OnOrderUpdate resets a side when its take profit fills.
func (s *Accumulator) OnOrderUpdate(update binance.OrderUpdate) error {
	if update.Status != binance.FuturesOrderStatusFilled {
		return nil
	}

	for _, side := range []signal.Side{signal.SideLong, signal.SideShort} {
		state := s.sides[side]
		if state.tpOrderID != 0 && update.OrderID == state.tpOrderID {
			s.logger.Info("Take profit filled, side reset",
				"side", string(side), "accumulations", state.accumulationCount, "price", update.LastPrice)
			s.tracker.Forget(state.tpOrderID)
			s.sides[side] = &accSideState{}
			return nil
		}
	}

	s.logger.Debug("Ignoring update for untracked order", "order_id", update.OrderID)
	return nil
}

func (s *Accumulator) Snapshot() map[string]interface{} {
	snapshot := map[string]interface{}{"strategy": s.Name()}
	for _, side := range []signal.Side{signal.SideLong, signal.SideShort} {
		state := s.sides[side]
		snapshot[string(side)] = map[string]interface{}{
			"accumulation_count": state.accumulationCount,
			"total_quantity":     state.totalQuantity,
			"avg_price":          state.avgPrice,
			"has_tp":             state.tpOrderID != 0,
		}
	}
	return snapshot
}

func (s *Accumulator) Shutdown() error {
	s.logger.Info("Shutting down, take profits remain live", "tracked_orders", s.tracker.Len())
	return nil
}
