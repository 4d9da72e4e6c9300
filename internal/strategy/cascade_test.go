package strategy

import (
	"errors"
	"testing"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/signal"
)

func hedgeFill(orderID int64, price, qty float64) binance.OrderUpdate {
	u := filledUpdate(orderID, price)
	u.ExecutedQty = qty
	return u
}

func TestCascadeArmsHedgeOnSignal(t *testing.T) {
	gw := testGateway(t)
	s := NewCascadeMaster(testConfig(config.StrategyCascadeMaster), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(100), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	if s.State() != CascadeWaitingHedge {
		t.Fatalf("state = %s, want WAITING_HEDGE", s.State())
	}

	placed := gw.PlacedOrders()
	if len(placed) != 2 {
		t.Fatalf("placed %d orders, want entry and hedge", len(placed))
	}
	entry, hedge := placed[0], placed[1]
	if entry.Side != binance.OrderSideBuy || entry.Quantity != "0.002" {
		t.Errorf("entry = %s %s, want BUY 0.002", entry.Side, entry.Quantity)
	}
	// Hedge is double-sized on the opposite side, at the 5-candle swing low.
	if hedge.Side != binance.OrderSideSell || hedge.PositionSide != binance.PositionSideShort {
		t.Errorf("hedge = %s %s, want SELL SHORT", hedge.Side, hedge.PositionSide)
	}
	if hedge.Quantity != "0.004" || hedge.StopPrice != "96" {
		t.Errorf("hedge = %s @ %s, want 0.004 @ 96", hedge.Quantity, hedge.StopPrice)
	}

	if s.CanAcceptSignal(signal.SideLong) || s.CanAcceptSignal(signal.SideShort) {
		t.Error("no signal may be accepted while a cascade runs")
	}
}

// The ladder alternates: whichever side is dominated gets a stop order at
// its initial price, sized to swap dominance when it fills.
func TestCascadeAlternation(t *testing.T) {
	gw := testGateway(t)
	s := NewCascadeMaster(testConfig(config.StrategyCascadeMaster), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(100), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	hedgeID := gw.PlacedOrders()[1].OrderID

	// Hedge fills at 96: long 0.002 vs short 0.004.
	if err := s.OnOrderUpdate(hedgeFill(hedgeID, 96, 0.004)); err != nil {
		t.Fatalf("hedge fill: %v", err)
	}
	if s.State() != CascadeActive {
		t.Fatalf("state = %s, want ACTIVE", s.State())
	}

	placed := gw.PlacedOrders()
	// entry, hedge, tp long, tp short, first child.
	if len(placed) != 5 {
		t.Fatalf("placed %d orders, want 5", len(placed))
	}

	// d = |100-96| * 2 = 8. TP long (100+8)*1.001 = 108.108 → 108.1.
	tpLong := placed[2]
	if tpLong.Side != binance.OrderSideSell || tpLong.Price != "108.1" {
		t.Errorf("tp long = %s @ %s, want SELL @ 108.1", tpLong.Side, tpLong.Price)
	}
	// TP short (96-8) with no increment yet = 88.
	tpShort := placed[3]
	if tpShort.Side != binance.OrderSideBuy || tpShort.Price != "88" {
		t.Errorf("tp short = %s @ %s, want BUY @ 88", tpShort.Side, tpShort.Price)
	}

	// Short dominates, so the child rebuilds the long side:
	// 2*0.004 - 0.002 = 0.006 at the initial long price.
	child := placed[4]
	if child.Side != binance.OrderSideBuy || child.PositionSide != binance.PositionSideLong {
		t.Errorf("child = %s %s, want BUY LONG", child.Side, child.PositionSide)
	}
	if child.Quantity != "0.006" || child.StopPrice != "100" {
		t.Errorf("child = %s @ %s, want 0.006 @ 100", child.Quantity, child.StopPrice)
	}

	// Child fills: long 0.008 vs short 0.004, dominance swaps.
	if err := s.OnOrderUpdate(hedgeFill(child.OrderID, 100, 0.006)); err != nil {
		t.Fatalf("child fill: %v", err)
	}

	placed = gw.PlacedOrders()
	next := placed[len(placed)-1]
	if next.Side != binance.OrderSideSell || next.PositionSide != binance.PositionSideShort {
		t.Errorf("next child = %s %s, want SELL SHORT", next.Side, next.PositionSide)
	}
	if next.Quantity != "0.012" || next.StopPrice != "96" {
		t.Errorf("next child = %s @ %s, want 0.012 @ 96", next.Quantity, next.StopPrice)
	}
}

func TestCascadeStopsAtOrderLimit(t *testing.T) {
	cfg := testConfig(config.StrategyCascadeMaster)
	cfg.Cascade.MaxOrders = 1
	gw := testGateway(t)
	s := NewCascadeMaster(cfg, gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(100), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	hedgeID := gw.PlacedOrders()[1].OrderID
	if err := s.OnOrderUpdate(hedgeFill(hedgeID, 96, 0.004)); err != nil {
		t.Fatalf("hedge fill: %v", err)
	}

	childID := gw.PlacedOrders()[4].OrderID
	if err := s.OnOrderUpdate(hedgeFill(childID, 100, 0.006)); err != nil {
		t.Fatalf("child fill: %v", err)
	}

	if s.State() != CascadeStopped {
		t.Fatalf("state = %s, want STOPPED", s.State())
	}
	// TPs were refreshed but no further child was placed.
	last := gw.LastPlacedOrder()
	if last.Type == binance.FuturesOrderTypeStopMarket {
		t.Errorf("last order = %+v, ladder must not grow past the limit", last)
	}
}

// A TP fill retires the whole cycle: open orders cancelled, residual
// positions flattened at market, state back to INACTIVE.
func TestCascadeTeardownOnTakeProfitFill(t *testing.T) {
	gw := testGateway(t)
	s := NewCascadeMaster(testConfig(config.StrategyCascadeMaster), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(100), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	hedgeID := gw.PlacedOrders()[1].OrderID
	if err := s.OnOrderUpdate(hedgeFill(hedgeID, 96, 0.004)); err != nil {
		t.Fatalf("hedge fill: %v", err)
	}

	placed := gw.PlacedOrders()
	tpLongID, tpShortID := placed[2].OrderID, placed[3].OrderID
	childID := placed[4].OrderID

	gw.SetPosition(binance.FuturesPosition{Symbol: testSymbol, PositionSide: "LONG", PositionAmt: 0.002})
	gw.SetPosition(binance.FuturesPosition{Symbol: testSymbol, PositionSide: "SHORT", PositionAmt: -0.004})

	if err := s.OnOrderUpdate(filledUpdate(tpLongID, 108.1)); err != nil {
		t.Fatalf("tp fill: %v", err)
	}

	if s.State() != CascadeInactive {
		t.Fatalf("state = %s, want INACTIVE after teardown", s.State())
	}
	if !s.CanAcceptSignal(signal.SideLong) {
		t.Error("a new signal must be acceptable after teardown")
	}

	// The sibling TP and the pending child were cancelled.
	cancelled := gw.CancelledOrderIDs()
	if !containsOrderID(cancelled, tpShortID) {
		t.Error("sibling take profit should be cancelled")
	}
	if !containsOrderID(cancelled, childID) {
		t.Error("pending child should be cancelled")
	}

	// Both residual positions were flattened at market.
	var flattens []binance.PlacedOrder
	for _, o := range gw.PlacedOrders() {
		if o.Type == binance.FuturesOrderTypeMarket && o.OrderID > childID {
			flattens = append(flattens, o)
		}
	}
	if len(flattens) != 2 {
		t.Fatalf("flatten orders = %d, want 2", len(flattens))
	}
}

// Retry exhaustion while refreshing a TP after a child fill must not
// leave the sibling TP live: the surviving orders are cancelled and the
// machine returns to INACTIVE before the fatal surfaces.
func TestCascadeTakeProfitRefreshExhaustionAbortsLadder(t *testing.T) {
	gw := testGateway(t)
	s := NewCascadeMaster(testConfig(config.StrategyCascadeMaster), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(100), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	hedgeID := gw.PlacedOrders()[1].OrderID
	if err := s.OnOrderUpdate(hedgeFill(hedgeID, 96, 0.004)); err != nil {
		t.Fatalf("hedge fill: %v", err)
	}
	placed := gw.PlacedOrders()
	tpShortID, childID := placed[3].OrderID, placed[4].OrderID

	gw.FailNext("PlaceTakeProfitOrder", 5)
	err := s.OnOrderUpdate(hedgeFill(childID, 100, 0.006))
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("error %v should wrap ErrFatal", err)
	}

	if !containsOrderID(gw.CancelledOrderIDs(), tpShortID) {
		t.Error("sibling take profit must be cancelled on refresh exhaustion")
	}
	if s.State() != CascadeInactive {
		t.Errorf("state = %s, want INACTIVE after fatal cleanup", s.State())
	}
	if s.HasOutstandingTakeProfits() {
		t.Error("no take profit may remain after the fatal cleanup")
	}
}

func TestCascadeHedgeFailureIsFatal(t *testing.T) {
	gw := testGateway(t)
	s := NewCascadeMaster(testConfig(config.StrategyCascadeMaster), gw)
	h := declineHistory()

	gw.FailNext("PlaceStopMarketOrder", 3)
	err := s.OnSignal(longSignal(100), h)
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("error %v should wrap ErrFatal", err)
	}
	if s.State() != CascadeInactive {
		t.Errorf("state = %s, want INACTIVE after fatal", s.State())
	}
}
