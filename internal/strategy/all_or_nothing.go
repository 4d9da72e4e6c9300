package strategy

import (
	"fmt"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/indicator"
	"binance-futures-bot/internal/logging"
	"binance-futures-bot/internal/market"
	"binance-futures-bot/internal/orders"
	"binance-futures-bot/internal/signal"
)

// aonSideState is the per-side state of the ALL_OR_NOTHING strategy.
type aonSideState struct {
	active      bool
	entryPrice  float64
	quantity    float64
	slOrderID   int64
	slPrice     float64
	tpOrderID   int64
	trailingRef float64
}

// AllOrNothing holds one position per side protected by a fixed stop
// loss, with an optional fixed take profit, trailing stop, and dynamic
// RSI exit.
type AllOrNothing struct {
	cfg     *config.Config
	gateway binance.FuturesGateway
	tracker *orders.Tracker
	logger  *logging.Logger

	sides map[signal.Side]*aonSideState
}

// NewAllOrNothing creates the strategy with both sides idle.
func NewAllOrNothing(cfg *config.Config, gateway binance.FuturesGateway) *AllOrNothing {
	return &AllOrNothing{
		cfg:     cfg,
		gateway: gateway,
		tracker: orders.NewTracker(),
		logger:  logging.WithComponent("all_or_nothing"),
		sides: map[signal.Side]*aonSideState{
			signal.SideLong:  {},
			signal.SideShort: {},
		},
	}
}

func (s *AllOrNothing) Name() string { return config.StrategyAllOrNothing }

func (s *AllOrNothing) CanAcceptSignal(side signal.Side) bool {
	return !s.sides[side].active
}

func (s *AllOrNothing) HasOutstandingTakeProfits() bool {
	return s.sides[signal.SideLong].tpOrderID != 0 || s.sides[signal.SideShort].tpOrderID != 0
}

// OnSignal opens the entry and installs its protective orders. The side
// is marked active immediately after the entry fills, before any
// protective order exists, so no second entry can race in.
func (s *AllOrNothing) OnSignal(sig signal.Signal, history *market.History) error {
	state := s.sides[sig.Side]
	if state.active {
		s.logger.Debug("Signal rejected, side already active", "side", string(sig.Side))
		return nil
	}

	aon := s.cfg.AllOrNothing
	prelimSL, ok := s.stopLevel(sig.Side, history, sig.Price)
	if !ok {
		s.logger.Warn("Not enough candle history for stop level", "side", string(sig.Side))
		return nil
	}

	quantity, err := computeQuantity(s.cfg.Trading, s.gateway, s.cfg.Symbol, sig.Price, prelimSL)
	if err != nil {
		return fmt.Errorf("sizing failed: %w", err)
	}

	orderSide, positionSide := entrySide(sig.Side)
	entryResp, err := s.gateway.PlaceMarketOrder(s.cfg.Symbol, orderSide, positionSide, quantity)
	if err != nil {
		return fmt.Errorf("entry order failed: %w", err)
	}

	entry := fillPrice(s.gateway, s.cfg.Symbol, entryResp, sig.Price)
	slLevel, _ := s.stopLevel(sig.Side, history, entry)

	state.active = true
	state.entryPrice = entry
	state.quantity = quantity
	state.trailingRef = entry

	s.logger.Info("Entry filled",
		"side", string(sig.Side), "price", entry, "quantity", quantity, "stop_level", slLevel)

	exitSide := orderSide.Opposite()

	slResp, err := binance.RetryProtectiveOrder("stop_loss", s.cfg.Retry.MaxAttempts, s.cfg.Retry.DelayUnit, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceStopMarketOrder(s.cfg.Symbol, exitSide, positionSide, quantity, slLevel)
	})
	if err != nil {
		s.resetSide(sig.Side)
		return fmt.Errorf("%w: stop loss for open %s position: %v", ErrFatal, sig.Side, err)
	}
	state.slOrderID = slResp.OrderId
	state.slPrice = slLevel
	s.tracker.Track(orders.Ref{
		OrderID: slResp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleStopLoss,
		Side: string(exitSide), PositionSide: string(positionSide), Quantity: quantity, StopPrice: slLevel,
	})

	if aon.DynamicRSIExit.Enabled {
		return nil
	}

	tpLimit, tpStop := s.takeProfitLevels(sig.Side, entry)
	tpResp, err := binance.RetryProtectiveOrder("take_profit", s.cfg.Retry.MaxAttempts, s.cfg.Retry.DelayUnit, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceTakeProfitOrder(s.cfg.Symbol, exitSide, positionSide, quantity, tpStop, tpLimit)
	})
	if err != nil {
		if cancelErr := s.gateway.CancelOrder(s.cfg.Symbol, state.slOrderID); cancelErr != nil {
			s.logger.Error("Failed to cancel stop loss after take profit failure", "error", cancelErr)
		}
		s.tracker.Forget(state.slOrderID)
		s.resetSide(sig.Side)
		return fmt.Errorf("%w: take profit for open %s position: %v", ErrFatal, sig.Side, err)
	}
	state.tpOrderID = tpResp.OrderId
	s.tracker.Track(orders.Ref{
		OrderID: tpResp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleTakeProfit,
		Side: string(exitSide), PositionSide: string(positionSide), Quantity: quantity, StopPrice: tpStop,
	})

	return nil
}

// OnClosedCandle applies the dynamic RSI exit and the trailing stop to
// each active side.
func (s *AllOrNothing) OnClosedCandle(history *market.History) error {
	for _, side := range []signal.Side{signal.SideLong, signal.SideShort} {
		state := s.sides[side]
		if !state.active {
			continue
		}

		if s.cfg.AllOrNothing.DynamicRSIExit.Enabled && s.shouldExitOnRSI(side, history) {
			if err := s.marketExit(side, state); err != nil {
				return err
			}
			continue
		}

		if s.cfg.AllOrNothing.TrailingStop.Enabled {
			s.applyTrailingStop(side, state, history)
		}
	}
	return nil
}

// OnOrderUpdate handles fills of our protective orders: the sibling of
// the filled pair is cancelled and the side goes idle.
func (s *AllOrNothing) OnOrderUpdate(update binance.OrderUpdate) error {
	if update.Status != binance.FuturesOrderStatusFilled {
		return nil
	}

	for _, side := range []signal.Side{signal.SideLong, signal.SideShort} {
		state := s.sides[side]
		if !state.active {
			continue
		}

		switch update.OrderID {
		case state.slOrderID:
			s.logger.Info("Stop loss filled", "side", string(side), "price", update.LastPrice)
			s.cancelIfLive(state.tpOrderID)
			s.resetSide(side)
			return nil
		case state.tpOrderID:
			s.logger.Info("Take profit filled", "side", string(side), "price", update.LastPrice)
			s.cancelIfLive(state.slOrderID)
			s.resetSide(side)
			return nil
		}
	}

	s.logger.Debug("Ignoring update for untracked order", "order_id", update.OrderID)
	return nil
}

func (s *AllOrNothing) Snapshot() map[string]interface{} {
	snapshot := map[string]interface{}{"strategy": s.Name()}
	for _, side := range []signal.Side{signal.SideLong, signal.SideShort} {
		state := s.sides[side]
		snapshot[string(side)] = map[string]interface{}{
			"active":       state.active,
			"entry_price":  state.entryPrice,
			"quantity":     state.quantity,
			"stop_loss":    state.slPrice,
			"has_tp":       state.tpOrderID != 0,
			"trailing_ref": state.trailingRef,
		}
	}
	return snapshot
}

// Shutdown leaves protective orders on the exchange.
func (s *AllOrNothing) Shutdown() error {
	s.logger.Info("Shutting down, protective orders remain live",
		"tracked_orders", s.tracker.Len())
	return nil
}

// stopLevel computes the protective level from the swing extreme over
// the lookback window, pinned to the reference price.
func (s *AllOrNothing) stopLevel(side signal.Side, history *market.History, reference float64) (float64, bool) {
	aon := s.cfg.AllOrNothing
	if side == signal.SideLong {
		low, ok := history.LowestLow(aon.SLLookbackCandles)
		if !ok {
			return 0, false
		}
		if reference < low {
			low = reference
		}
		return low * (1 - aon.SLOffsetPercent), true
	}

	high, ok := history.HighestHigh(aon.SLLookbackCandles)
	if !ok {
		return 0, false
	}
	if reference > high {
		high = reference
	}
	return high * (1 + aon.SLOffsetPercent), true
}

// takeProfitLevels returns the TP limit price and its stop trigger,
// offset toward the entry so the trigger leads the limit.
func (s *AllOrNothing) takeProfitLevels(side signal.Side, entry float64) (limit, stop float64) {
	aon := s.cfg.AllOrNothing
	if side == signal.SideLong {
		limit = entry * (1 + aon.TPPercent)
		stop = limit * (1 - aon.PriceOffset)
		return limit, stop
	}
	limit = entry * (1 - aon.TPPercent)
	stop = limit * (1 + aon.PriceOffset)
	return limit, stop
}

// shouldExitOnRSI is true when every RSI period sits at the extreme
// opposite the open position.
func (s *AllOrNothing) shouldExitOnRSI(side signal.Side, history *market.History) bool {
	closes := history.Closes()
	if s.cfg.Signal.RSIOnHeikinAshi {
		ha := indicator.HeikinAshi(history.Candles())
		closes = make([]float64, len(ha))
		for i, c := range ha {
			closes[i] = c.Close
		}
	}

	oversold, overbought := signal.Extremes(closes, s.cfg.Signal.RSIThresholds)
	if side == signal.SideLong {
		return overbought
	}
	return oversold
}

// marketExit closes the position at market and retires its protective
// orders.
func (s *AllOrNothing) marketExit(side signal.Side, state *aonSideState) error {
	orderSide, positionSide := entrySide(side)
	exitSide := orderSide.Opposite()

	s.logger.Info("Dynamic RSI exit triggered", "side", string(side))

	if _, err := s.gateway.PlaceMarketOrder(s.cfg.Symbol, exitSide, positionSide, state.quantity); err != nil {
		return fmt.Errorf("dynamic exit order failed: %w", err)
	}

	s.cancelIfLive(state.slOrderID)
	s.cancelIfLive(state.tpOrderID)
	s.resetSide(side)
	return nil
}

// applyTrailingStop advances the stop loss after a favorable move of at
// least the trigger percent from the trailing reference. A failed
// replacement is logged but does not close the position.
func (s *AllOrNothing) applyTrailingStop(side signal.Side, state *aonSideState, history *market.History) {
	last, ok := history.Last()
	if !ok || state.slOrderID == 0 {
		return
	}

	trailing := s.cfg.AllOrNothing.TrailingStop
	var triggered bool
	var newSL float64
	if side == signal.SideLong {
		triggered = last.Close >= state.trailingRef*(1+trailing.PriceTriggerPercent)
		newSL = state.slPrice * (1 + trailing.SLAdjustmentPercent)
	} else {
		triggered = last.Close <= state.trailingRef*(1-trailing.PriceTriggerPercent)
		newSL = state.slPrice * (1 - trailing.SLAdjustmentPercent)
	}
	if !triggered {
		return
	}

	orderSide, positionSide := entrySide(side)
	exitSide := orderSide.Opposite()

	if err := s.gateway.CancelOrder(s.cfg.Symbol, state.slOrderID); err != nil {
		s.logger.Warn("Trailing stop cancel failed", "error", err)
		return
	}
	s.tracker.Forget(state.slOrderID)

	resp, err := s.gateway.PlaceStopMarketOrder(s.cfg.Symbol, exitSide, positionSide, state.quantity, newSL)
	if err != nil {
		s.logger.Error("Trailing stop replacement failed, position unprotected", "error", err)
		state.slOrderID = 0
		return
	}

	state.slOrderID = resp.OrderId
	state.slPrice = newSL
	state.trailingRef = last.Close
	s.tracker.Track(orders.Ref{
		OrderID: resp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleStopLoss,
		Side: string(exitSide), PositionSide: string(positionSide), Quantity: state.quantity, StopPrice: newSL,
	})
	s.logger.Info("Trailing stop advanced", "side", string(side), "new_stop", newSL)
}

func (s *AllOrNothing) cancelIfLive(orderID int64) {
	if orderID == 0 {
		return
	}
	if err := s.gateway.CancelOrder(s.cfg.Symbol, orderID); err != nil {
		s.logger.Warn("Cancel failed", "order_id", orderID, "error", err)
	}
	s.tracker.Forget(orderID)
}

func (s *AllOrNothing) resetSide(side signal.Side) {
	s.sides[side] = &aonSideState{}
}
