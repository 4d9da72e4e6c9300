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

// OneOrMore runs a single hedged cycle: a market entry with an
// oversized hedge stop at the swing extreme, symmetrical distance-based
// take profits on both legs, and a full teardown when either TP fills.
// Only one cycle may exist at a time across both sides.
type OneOrMore struct {
	cfg     *config.Config
	gateway binance.FuturesGateway
	tracker *orders.Tracker
	logger  *logging.Logger

	active      bool
	side        signal.Side
	signalPrice float64
	hedgePrice  float64
	distance    float64
	quantity    float64
	hedgeFilled bool

	hedgeOrderID int64
	tpSignalID   int64
	tpHedgeID    int64
	stopSignalID int64
	stopHedgeID  int64
}

// NewOneOrMore creates the strategy with no cycle open.
func NewOneOrMore(cfg *config.Config, gateway binance.FuturesGateway) *OneOrMore {
	return &OneOrMore{
		cfg:     cfg,
		gateway: gateway,
		tracker: orders.NewTracker(),
		logger:  logging.WithComponent("one_or_more"),
	}
}

func (s *OneOrMore) Name() string { return config.StrategyOneOrMore }

// CanAcceptSignal is false for both sides while any cycle sub-state is
// active.
func (s *OneOrMore) CanAcceptSignal(side signal.Side) bool {
	return !s.active
}

func (s *OneOrMore) HasOutstandingTakeProfits() bool {
	return s.tpSignalID != 0 || s.tpHedgeID != 0
}

// OnSignal opens the cycle: entry, hedge stop, and the signal-leg TP.
func (s *OneOrMore) OnSignal(sig signal.Signal, history *market.History) error {
	if s.active {
		s.logger.Debug("Signal rejected, cycle in progress")
		return nil
	}

	oom := s.cfg.OneOrMore
	hedgeLevel, ok := s.hedgeLevel(sig.Side, history)
	if !ok {
		s.logger.Warn("Not enough candle history for hedge level", "side", string(sig.Side))
		return nil
	}

	quantity, err := computeQuantity(s.cfg.Trading, s.gateway, s.cfg.Symbol, sig.Price, hedgeLevel)
	if err != nil {
		return fmt.Errorf("sizing failed: %w", err)
	}

	orderSide, positionSide := entrySide(sig.Side)
	entryResp, err := s.gateway.PlaceMarketOrder(s.cfg.Symbol, orderSide, positionSide, quantity)
	if err != nil {
		return fmt.Errorf("entry order failed: %w", err)
	}
	entry := fillPrice(s.gateway, s.cfg.Symbol, entryResp, sig.Price)

	s.active = true
	s.side = sig.Side
	s.signalPrice = entry
	s.quantity = quantity

	hedgeQty := quantity * oom.HedgeQuantityMultiplier
	hedgeOrderSide := orderSide.Opposite()
	hedgePositionSide := positionSide.Opposite()

	hedgeResp, err := binance.RetryProtectiveOrder("hedge", s.cfg.Retry.MaxAttempts, s.cfg.Retry.DelayUnit, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceStopMarketOrder(s.cfg.Symbol, hedgeOrderSide, hedgePositionSide, hedgeQty, hedgeLevel)
	})
	if err != nil {
		s.clear()
		return fmt.Errorf("%w: hedge for open %s entry: %v", ErrFatal, sig.Side, err)
	}
	s.hedgeOrderID = hedgeResp.OrderId
	s.hedgePrice = hedgeLevel
	s.distance = math.Abs(entry - hedgeLevel)
	s.tracker.Track(orders.Ref{
		OrderID: hedgeResp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleHedge,
		Side: string(hedgeOrderSide), PositionSide: string(hedgePositionSide), Quantity: hedgeQty, StopPrice: hedgeLevel,
	})

	tpLevel := s.takeProfitLevel(entry, sig.Side == signal.SideLong)
	tpStop := s.triggerFor(tpLevel, hedgeOrderSide)
	tpResp, err := binance.RetryProtectiveOrder("take_profit", s.cfg.Retry.MaxAttempts, s.cfg.Retry.DelayUnit, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceTakeProfitOrder(s.cfg.Symbol, hedgeOrderSide, positionSide, quantity, tpStop, tpLevel)
	})
	if err != nil {
		s.cancelIfLive(s.hedgeOrderID)
		s.clear()
		return fmt.Errorf("%w: take profit for open %s entry: %v", ErrFatal, sig.Side, err)
	}
	s.tpSignalID = tpResp.OrderId
	s.tracker.Track(orders.Ref{
		OrderID: tpResp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleTakeProfit,
		Side: string(hedgeOrderSide), PositionSide: string(positionSide), Quantity: quantity, StopPrice: tpStop,
	})

	s.logger.Info("Cycle opened",
		"side", string(sig.Side), "entry", entry, "quantity", quantity,
		"hedge_level", hedgeLevel, "distance", s.distance, "tp_signal", tpLevel)
	return nil
}

// OnClosedCandle is a no-op; the cycle advances purely on fills.
func (s *OneOrMore) OnClosedCandle(history *market.History) error { return nil }

// OnOrderUpdate places the hedge-leg TP on hedge fill and tears the
// whole cycle down when either TP fills.
func (s *OneOrMore) OnOrderUpdate(update binance.OrderUpdate) error {
	if update.Status != binance.FuturesOrderStatusFilled || !s.active {
		return nil
	}

	switch update.OrderID {
	case s.hedgeOrderID:
		return s.onHedgeFill(update)
	case s.tpSignalID, s.tpHedgeID:
		return s.teardown(update)
	case s.stopSignalID, s.stopHedgeID:
		s.logger.Info("Cross stop filled, payout locked", "order_id", update.OrderID)
		return nil
	default:
		s.logger.Debug("Ignoring update for untracked order", "order_id", update.OrderID)
		return nil
	}
}

// onHedgeFill installs the hedge leg's symmetrical TP, plus the
// optional cross stops that lock the payout whichever leg runs.
func (s *OneOrMore) onHedgeFill(update binance.OrderUpdate) error {
	s.hedgeFilled = true
	s.tracker.Forget(s.hedgeOrderID)
	s.hedgeOrderID = 0

	fill := update.AvgPrice
	if fill == 0 {
		fill = update.LastPrice
	}
	if fill > 0 {
		s.hedgePrice = fill
	}

	orderSide, positionSide := entrySide(s.side)
	hedgeOrderSide := orderSide.Opposite()
	hedgePositionSide := positionSide.Opposite()
	hedgeQty := s.quantity * s.cfg.OneOrMore.HedgeQuantityMultiplier

	tpLevel := s.takeProfitLevel(s.hedgePrice, s.side != signal.SideLong)
	tpStop := s.triggerFor(tpLevel, orderSide)
	tpResp, err := binance.RetryProtectiveOrder("hedge_take_profit", s.cfg.Retry.MaxAttempts, s.cfg.Retry.DelayUnit, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceTakeProfitOrder(s.cfg.Symbol, orderSide, hedgePositionSide, hedgeQty, tpStop, tpLevel)
	})
	if err != nil {
		s.cancelIfLive(s.tpSignalID)
		s.clear()
		return fmt.Errorf("%w: hedge take profit: %v", ErrFatal, err)
	}
	s.tpHedgeID = tpResp.OrderId
	s.tracker.Track(orders.Ref{
		OrderID: tpResp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleTakeProfit,
		Side: string(orderSide), PositionSide: string(hedgePositionSide), Quantity: hedgeQty, StopPrice: tpStop,
	})

	s.logger.Info("Hedge filled, hedge take profit placed",
		"hedge_price", s.hedgePrice, "tp_hedge", tpLevel)

	if s.cfg.OneOrMore.CrossStopsEnabled {
		s.placeCrossStops(orderSide, positionSide, hedgeOrderSide, hedgePositionSide, hedgeQty)
	}
	return nil
}

// placeCrossStops locks the realized payout: each leg gets a stop at
// the other leg's reference price. Failures are logged; the TPs still
// bound the cycle.
func (s *OneOrMore) placeCrossStops(orderSide binance.OrderSide, positionSide binance.PositionSide, hedgeOrderSide binance.OrderSide, hedgePositionSide binance.PositionSide, hedgeQty float64) {
	if resp, err := s.gateway.PlaceStopMarketOrder(s.cfg.Symbol, hedgeOrderSide, positionSide, s.quantity, s.hedgePrice); err != nil {
		s.logger.Warn("Cross stop for signal leg failed", "error", err)
	} else {
		s.stopSignalID = resp.OrderId
		s.tracker.Track(orders.Ref{
			OrderID: resp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleStopLoss,
			Side: string(hedgeOrderSide), PositionSide: string(positionSide), Quantity: s.quantity, StopPrice: s.hedgePrice,
		})
	}

	if resp, err := s.gateway.PlaceStopMarketOrder(s.cfg.Symbol, orderSide, hedgePositionSide, hedgeQty, s.signalPrice); err != nil {
		s.logger.Warn("Cross stop for hedge leg failed", "error", err)
	} else {
		s.stopHedgeID = resp.OrderId
		s.tracker.Track(orders.Ref{
			OrderID: resp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleStopLoss,
			Side: string(orderSide), PositionSide: string(hedgePositionSide), Quantity: hedgeQty, StopPrice: s.signalPrice,
		})
	}
}

// teardown cancels every outstanding order of the cycle, flattens any
// residual positions, and clears all state.
func (s *OneOrMore) teardown(update binance.OrderUpdate) error {
	s.logger.Info("Take profit filled, tearing down cycle",
		"order_id", update.OrderID, "price", update.LastPrice)

	for _, orderID := range []int64{s.hedgeOrderID, s.tpSignalID, s.tpHedgeID, s.stopSignalID, s.stopHedgeID} {
		if orderID != 0 && orderID != update.OrderID {
			s.cancelIfLive(orderID)
		}
	}

	positions, err := s.gateway.GetPositions(s.cfg.Symbol)
	if err != nil {
		s.logger.Error("Failed to read positions during teardown", "error", err)
	}
	for _, pos := range positions {
		if pos.PositionAmt == 0 {
			continue
		}
		flattenSide := binance.OrderSideSell
		if pos.PositionAmt < 0 {
			flattenSide = binance.OrderSideBuy
		}
		if _, err := s.gateway.PlaceMarketOrder(s.cfg.Symbol, flattenSide, binance.PositionSide(pos.PositionSide), math.Abs(pos.PositionAmt)); err != nil {
			s.logger.Error("Failed to flatten position during teardown",
				"position_side", pos.PositionSide, "error", err)
		}
	}

	s.tracker.ForgetAll()
	s.clear()
	return nil
}

func (s *OneOrMore) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"strategy":     s.Name(),
		"active":       s.active,
		"side":         string(s.side),
		"signal_price": s.signalPrice,
		"hedge_price":  s.hedgePrice,
		"distance":     s.distance,
		"quantity":     s.quantity,
		"hedge_filled": s.hedgeFilled,
		"has_tp":       s.HasOutstandingTakeProfits(),
	}
}

func (s *OneOrMore) Shutdown() error {
	s.logger.Info("Shutting down, cycle orders remain live", "tracked_orders", s.tracker.Len())
	return nil
}

// hedgeLevel is the offset swing extreme over the lookback window.
func (s *OneOrMore) hedgeLevel(side signal.Side, history *market.History) (float64, bool) {
	oom := s.cfg.OneOrMore
	if side == signal.SideLong {
		low, ok := history.LowestLow(oom.SLLookbackCandles)
		return low * (1 - oom.SLOffsetPercent), ok
	}
	high, ok := history.HighestHigh(oom.SLLookbackCandles)
	return high * (1 + oom.SLOffsetPercent), ok
}

// takeProfitLevel projects the adjusted distance from a reference
// price. above selects the direction of the projection.
func (s *OneOrMore) takeProfitLevel(reference float64, above bool) float64 {
	oom := s.cfg.OneOrMore

	adjusted := s.distance * oom.RRRatio
	adjusted += oom.TPSafetyOffsetPercent * s.signalPrice
	if s.distance < oom.MinDistancePercent*s.signalPrice {
		adjusted += oom.SmallDistanceOffsetPercent * s.signalPrice
	}

	if above {
		return reference + adjusted
	}
	return reference - adjusted
}

// triggerFor offsets the TP stop trigger toward the market from the
// limit price.
func (s *OneOrMore) triggerFor(limit float64, exitSide binance.OrderSide) float64 {
	if exitSide == binance.OrderSideSell {
		return limit * (1 - s.cfg.OneOrMore.TPSafetyOffsetPercent)
	}
	return limit * (1 + s.cfg.OneOrMore.TPSafetyOffsetPercent)
}

func (s *OneOrMore) cancelIfLive(orderID int64) {
	if orderID == 0 {
		return
	}
	if err := s.gateway.CancelOrder(s.cfg.Symbol, orderID); err != nil {
		s.logger.Warn("Cancel failed", "order_id", orderID, "error", err)
	}
	s.tracker.Forget(orderID)
}

func (s *OneOrMore) clear() {
	s.active = false
	s.side = ""
	s.signalPrice = 0
	s.hedgePrice = 0
	s.distance = 0
	s.quantity = 0
	s.hedgeFilled = false
	s.hedgeOrderID = 0
	s.tpSignalID = 0
	s.tpHedgeID = 0
	s.stopSignalID = 0
	s.stopHedgeID = 0
}
