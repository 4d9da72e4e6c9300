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

// CascadeState is the cascade machine's phase.
type CascadeState string

const (
	CascadeInactive     CascadeState = "INACTIVE"
	CascadeWaitingHedge CascadeState = "WAITING_HEDGE"
	CascadeActive       CascadeState = "ACTIVE"
	CascadeStopped      CascadeState = "STOPPED"
)

// CascadeMaster runs a hedged, self-propagating alternating ladder: an
// entry plus an oversized hedge establish two reference prices, and each
// fill spawns a rebalancing stop order on the dominated side until
// either take profit fills or the ladder reaches its order limit.
type CascadeMaster struct {
	cfg     *config.Config
	gateway binance.FuturesGateway
	tracker *orders.Tracker
	logger  *logging.Logger

	state             CascadeState
	signalSide        signal.Side
	initialLongPrice  float64
	initialShortPrice float64
	currentLongQty    float64
	currentShortQty   float64
	cascadeCount      int
	positionCount     int
	incLong           int
	incShort          int

	hedgeOrderID      int64
	childOrderID      int64
	childPositionSide binance.PositionSide
	tpLongID          int64
	tpShortID         int64
	tpLongPrice       float64
	tpShortPrice      float64
}

// NewCascadeMaster creates the strategy in the INACTIVE state.
func NewCascadeMaster(cfg *config.Config, gateway binance.FuturesGateway) *CascadeMaster {
	return &CascadeMaster{
		cfg:     cfg,
		gateway: gateway,
		tracker: orders.NewTracker(),
		logger:  logging.WithComponent("cascade_master"),
		state:   CascadeInactive,
	}
}

func (s *CascadeMaster) Name() string { return config.StrategyCascadeMaster }

// State returns the cascade phase.
func (s *CascadeMaster) State() CascadeState { return s.state }

// CanAcceptSignal allows exactly one cascade cycle process-wide.
func (s *CascadeMaster) CanAcceptSignal(side signal.Side) bool {
	return s.state == CascadeInactive
}

func (s *CascadeMaster) HasOutstandingTakeProfits() bool {
	return s.tpLongID != 0 || s.tpShortID != 0
}

// OnSignal opens the initial entry and arms the hedge.
func (s *CascadeMaster) OnSignal(sig signal.Signal, history *market.History) error {
	if s.state != CascadeInactive {
		s.logger.Debug("Signal rejected, cascade in progress", "state", string(s.state))
		return nil
	}

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
		return fmt.Errorf("cascade entry failed: %w", err)
	}
	entry := fillPrice(s.gateway, s.cfg.Symbol, entryResp, sig.Price)

	s.signalSide = sig.Side
	if sig.Side == signal.SideLong {
		s.initialLongPrice = entry
		s.currentLongQty = quantity
	} else {
		s.initialShortPrice = entry
		s.currentShortQty = quantity
	}

	hedgeQty := quantity * s.cfg.Hedging.QuantityMultiplier
	hedgeOrderSide := orderSide.Opposite()
	hedgePositionSide := positionSide.Opposite()

	hedgeResp, err := binance.RetryProtectiveOrder("hedge", s.cfg.Cascade.RetryAttempts, s.cfg.Cascade.RetryDelay, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceStopMarketOrder(s.cfg.Symbol, hedgeOrderSide, hedgePositionSide, hedgeQty, hedgeLevel)
	})
	if err != nil {
		s.reset()
		return fmt.Errorf("%w: hedge for open cascade %s entry: %v", ErrFatal, sig.Side, err)
	}

	s.hedgeOrderID = hedgeResp.OrderId
	s.state = CascadeWaitingHedge
	s.tracker.Track(orders.Ref{
		OrderID: hedgeResp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleHedge,
		Side: string(hedgeOrderSide), PositionSide: string(hedgePositionSide), Quantity: hedgeQty, StopPrice: hedgeLevel,
	})

	s.logger.Info("Cascade armed",
		"side", string(sig.Side), "entry", entry, "quantity", quantity,
		"hedge_level", hedgeLevel, "hedge_quantity", hedgeQty)
	return nil
}

// OnClosedCandle is a no-op; the cascade advances purely on fills.
func (s *CascadeMaster) OnClosedCandle(history *market.History) error { return nil }

// OnOrderUpdate advances the ladder on hedge, child, and TP fills.
func (s *CascadeMaster) OnOrderUpdate(update binance.OrderUpdate) error {
	if update.Status != binance.FuturesOrderStatusFilled {
		return nil
	}

	switch update.OrderID {
	case s.hedgeOrderID:
		if s.state == CascadeWaitingHedge {
			return s.onHedgeFill(update)
		}
	case s.childOrderID:
		if s.state == CascadeActive {
			return s.onChildFill(update)
		}
	case s.tpLongID, s.tpShortID:
		if s.state == CascadeActive || s.state == CascadeStopped {
			return s.teardown(update)
		}
	default:
		s.logger.Debug("Ignoring update for untracked order", "order_id", update.OrderID)
	}
	return nil
}

// onHedgeFill establishes the second reference price, installs both
// take profits, and launches the first cascade child.
func (s *CascadeMaster) onHedgeFill(update binance.OrderUpdate) error {
	price := update.AvgPrice
	if price == 0 {
		price = update.LastPrice
	}

	s.tracker.Forget(s.hedgeOrderID)
	s.hedgeOrderID = 0

	if s.signalSide == signal.SideLong {
		s.initialShortPrice = price
		s.currentShortQty += update.ExecutedQty
	} else {
		s.initialLongPrice = price
		s.currentLongQty += update.ExecutedQty
	}

	s.positionCount = 1
	// The original side's TP is bumped one increment step immediately;
	// the hedge side starts at its base level.
	if s.signalSide == signal.SideLong {
		s.incLong, s.incShort = 1, 0
	} else {
		s.incLong, s.incShort = 0, 1
	}

	s.state = CascadeActive
	s.logger.Info("Hedge filled, cascade active",
		"initial_long", s.initialLongPrice, "initial_short", s.initialShortPrice,
		"long_qty", s.currentLongQty, "short_qty", s.currentShortQty)

	if err := s.refreshTakeProfits(); err != nil {
		return err
	}
	return s.placeNextChild()
}

// onChildFill rebalances the running totals, bumps both TPs one
// increment step, and spawns the next child if the ladder may grow.
func (s *CascadeMaster) onChildFill(update binance.OrderUpdate) error {
	s.tracker.Forget(s.childOrderID)
	s.childOrderID = 0

	if s.childPositionSide == binance.PositionSideLong {
		s.currentLongQty += update.ExecutedQty
	} else {
		s.currentShortQty += update.ExecutedQty
	}
	s.cascadeCount++
	s.positionCount++
	s.incLong++
	s.incShort++

	s.logger.Info("Cascade child filled",
		"count", s.cascadeCount, "long_qty", s.currentLongQty, "short_qty", s.currentShortQty)

	if err := s.refreshTakeProfits(); err != nil {
		return err
	}

	if s.cascadeCount >= s.cfg.Cascade.MaxOrders {
		s.state = CascadeStopped
		s.logger.Warn("Cascade order limit reached, ladder stopped",
			"max_orders", s.cfg.Cascade.MaxOrders)
		return nil
	}
	return s.placeNextChild()
}

// placeNextChild applies the alternation rule: the dominated side gets
// a stop order at its initial price sized so the fill swaps dominance.
func (s *CascadeMaster) placeNextChild() error {
	long, short := s.currentLongQty, s.currentShortQty

	var orderSide binance.OrderSide
	var positionSide binance.PositionSide
	var price, quantity float64
	if long > short {
		orderSide = binance.OrderSideSell
		positionSide = binance.PositionSideShort
		price = s.initialShortPrice
		quantity = 2*long - short
	} else {
		orderSide = binance.OrderSideBuy
		positionSide = binance.PositionSideLong
		price = s.initialLongPrice
		quantity = 2*short - long
	}

	resp, err := binance.RetryProtectiveOrder("cascade_child", s.cfg.Cascade.RetryAttempts, s.cfg.Cascade.RetryDelay, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceStopMarketOrder(s.cfg.Symbol, orderSide, positionSide, quantity, price)
	})
	if err != nil {
		s.abortLadder()
		return fmt.Errorf("%w: cascade child placement: %v", ErrFatal, err)
	}

	s.childOrderID = resp.OrderId
	s.childPositionSide = positionSide
	s.tracker.Track(orders.Ref{
		OrderID: resp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleCascadeChild,
		Side: string(orderSide), PositionSide: string(positionSide), Quantity: quantity, StopPrice: price,
	})

	s.logger.Info("Cascade child placed",
		"side", string(orderSide), "price", price, "quantity", quantity)
	return nil
}

// refreshTakeProfits recomputes both TP levels from the reference
// distance and replaces the live orders.
func (s *CascadeMaster) refreshTakeProfits() error {
	d := math.Abs(s.initialLongPrice-s.initialShortPrice) * s.cfg.TP.BaseMultiplier
	k := float64(s.positionCount)
	inc := s.cfg.TP.PositionIncrement

	s.tpLongPrice = (s.initialLongPrice + k*d) * (1 + float64(s.incLong)*inc)
	s.tpShortPrice = (s.initialShortPrice - k*d) * (1 - float64(s.incShort)*inc)

	if err := s.replaceTP(&s.tpLongID, binance.OrderSideSell, binance.PositionSideLong, s.currentLongQty, s.tpLongPrice); err != nil {
		return err
	}
	return s.replaceTP(&s.tpShortID, binance.OrderSideBuy, binance.PositionSideShort, s.currentShortQty, s.tpShortPrice)
}

func (s *CascadeMaster) replaceTP(orderID *int64, orderSide binance.OrderSide, positionSide binance.PositionSide, quantity, limit float64) error {
	if quantity <= 0 {
		return nil
	}

	if *orderID != 0 {
		if err := s.gateway.CancelOrder(s.cfg.Symbol, *orderID); err != nil {
			s.logger.Warn("Failed to cancel take profit before refresh", "order_id", *orderID, "error", err)
		}
		s.tracker.Forget(*orderID)
		*orderID = 0
	}

	stop := limit * (1 - s.cfg.TP.PriceOffset)
	if orderSide == binance.OrderSideBuy {
		stop = limit * (1 + s.cfg.TP.PriceOffset)
	}

	resp, err := binance.RetryProtectiveOrder("cascade_tp", s.cfg.Retry.MaxAttempts, s.cfg.Retry.DelayUnit, func() (*binance.FuturesOrderResponse, error) {
		return s.gateway.PlaceTakeProfitOrder(s.cfg.Symbol, orderSide, positionSide, quantity, stop, limit)
	})
	if err != nil {
		s.abortLadder()
		return fmt.Errorf("%w: cascade take profit refresh: %v", ErrFatal, err)
	}

	*orderID = resp.OrderId
	s.tracker.Track(orders.Ref{
		OrderID: resp.OrderId, Symbol: s.cfg.Symbol, Role: orders.RoleTakeProfit,
		Side: string(orderSide), PositionSide: string(positionSide), Quantity: quantity, StopPrice: stop,
	})
	return nil
}

// abortLadder is the fatal-path cleanup: any cycle orders surviving a
// failed protective placement are cancelled and the machine returns to
// INACTIVE.
func (s *CascadeMaster) abortLadder() {
	for _, orderID := range []int64{s.tpLongID, s.tpShortID, s.childOrderID, s.hedgeOrderID} {
		if orderID == 0 {
			continue
		}
		if err := s.gateway.CancelOrder(s.cfg.Symbol, orderID); err != nil {
			s.logger.Warn("Cancel failed during abort", "order_id", orderID, "error", err)
		}
	}
	s.tracker.ForgetAll()
	s.reset()
}

// teardown retires the whole cycle after a TP fill: every live order is
// cancelled, residual positions are flattened, state returns to
// INACTIVE.
func (s *CascadeMaster) teardown(update binance.OrderUpdate) error {
	s.logger.Info("Take profit filled, tearing down cascade",
		"order_id", update.OrderID, "price", update.LastPrice)

	if err := s.gateway.CancelAllOpenOrders(s.cfg.Symbol); err != nil {
		s.logger.Error("Failed to cancel open orders during teardown", "error", err)
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
	s.reset()
	return nil
}

func (s *CascadeMaster) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"strategy":            s.Name(),
		"state":               string(s.state),
		"initial_long_price":  s.initialLongPrice,
		"initial_short_price": s.initialShortPrice,
		"current_long_qty":    s.currentLongQty,
		"current_short_qty":   s.currentShortQty,
		"cascade_count":       s.cascadeCount,
		"tp_long":             s.tpLongPrice,
		"tp_short":            s.tpShortPrice,
	}
}

func (s *CascadeMaster) Shutdown() error {
	s.logger.Info("Shutting down, ladder orders remain live",
		"state", string(s.state), "tracked_orders", s.tracker.Len())
	return nil
}

// hedgeLevel is the swing extreme over the hedging lookback window.
func (s *CascadeMaster) hedgeLevel(side signal.Side, history *market.History) (float64, bool) {
	if side == signal.SideLong {
		return history.LowestLow(s.cfg.Hedging.LookbackCandles)
	}
	return history.HighestHigh(s.cfg.Hedging.LookbackCandles)
}

func (s *CascadeMaster) reset() {
	s.state = CascadeInactive
	s.signalSide = ""
	s.initialLongPrice = 0
	s.initialShortPrice = 0
	s.currentLongQty = 0
	s.currentShortQty = 0
	s.cascadeCount = 0
	s.positionCount = 0
	s.incLong = 0
	s.incShort = 0
	s.hedgeOrderID = 0
	s.childOrderID = 0
	s.tpLongID = 0
	s.tpShortID = 0
	s.tpLongPrice = 0
	s.tpShortPrice = 0
}
