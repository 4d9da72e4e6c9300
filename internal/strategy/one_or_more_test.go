package strategy

import (
	"errors"
	"testing"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/signal"
)

func TestOneOrMoreOpensCycle(t *testing.T) {
	gw := testGateway(t)
	s := NewOneOrMore(testConfig(config.StrategyOneOrMore), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(101), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}

	placed := gw.PlacedOrders()
	if len(placed) != 3 {
		t.Fatalf("placed %d orders, want entry, hedge, take profit", len(placed))
	}

	entry := placed[0]
	if entry.Type != binance.FuturesOrderTypeMarket || entry.Quantity != "0.002" {
		t.Errorf("entry = %s %s, want MARKET 0.002", entry.Type, entry.Quantity)
	}

	// Hedge is double-sized on the opposite side at the offset swing low.
	hedge := placed[1]
	if hedge.Side != binance.OrderSideSell || hedge.PositionSide != binance.PositionSideShort {
		t.Errorf("hedge = %s %s, want SELL SHORT", hedge.Side, hedge.PositionSide)
	}
	if hedge.Quantity != "0.004" || hedge.StopPrice != "95.9" {
		t.Errorf("hedge = %s @ %s, want 0.004 @ 95.9", hedge.Quantity, hedge.StopPrice)
	}

	// TP projects the hedge distance (plus safety offset) above the entry:
	// 101 + (5.00096 + 0.0505) → 106 on the grid.
	tp := placed[2]
	if tp.Type != binance.FuturesOrderTypeTakeProfit || tp.Side != binance.OrderSideSell {
		t.Errorf("tp = %s %s, want TAKE_PROFIT SELL", tp.Type, tp.Side)
	}
	if tp.Price != "106" {
		t.Errorf("tp limit = %q, want 106", tp.Price)
	}

	// One cycle blocks both sides.
	if s.CanAcceptSignal(signal.SideLong) || s.CanAcceptSignal(signal.SideShort) {
		t.Error("no side may accept a signal while the cycle runs")
	}
	if !s.HasOutstandingTakeProfits() {
		t.Error("signal-leg take profit should be outstanding")
	}
}

func TestOneOrMoreHedgeFillPlacesOppositeTakeProfit(t *testing.T) {
	gw := testGateway(t)
	s := NewOneOrMore(testConfig(config.StrategyOneOrMore), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(101), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	hedgeID := gw.PlacedOrders()[1].OrderID

	update := filledUpdate(hedgeID, 95.9)
	update.ExecutedQty = 0.004
	if err := s.OnOrderUpdate(update); err != nil {
		t.Fatalf("hedge fill: %v", err)
	}

	tp := gw.LastPlacedOrder()
	if tp.Type != binance.FuturesOrderTypeTakeProfit {
		t.Fatalf("last order = %s, want hedge-leg TAKE_PROFIT", tp.Type)
	}
	if tp.Side != binance.OrderSideBuy || tp.PositionSide != binance.PositionSideShort {
		t.Errorf("hedge tp = %s %s, want BUY SHORT", tp.Side, tp.PositionSide)
	}
	if tp.Quantity != "0.004" {
		t.Errorf("hedge tp quantity = %q, want 0.004", tp.Quantity)
	}
	// Same adjusted distance below the hedge fill: 95.9 - 5.05146 → 90.8.
	if tp.Price != "90.8" {
		t.Errorf("hedge tp limit = %q, want 90.8", tp.Price)
	}
}

func TestOneOrMoreCrossStops(t *testing.T) {
	cfg := testConfig(config.StrategyOneOrMore)
	cfg.OneOrMore.CrossStopsEnabled = true
	gw := testGateway(t)
	s := NewOneOrMore(cfg, gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(101), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	hedgeID := gw.PlacedOrders()[1].OrderID

	update := filledUpdate(hedgeID, 95.9)
	update.ExecutedQty = 0.004
	if err := s.OnOrderUpdate(update); err != nil {
		t.Fatalf("hedge fill: %v", err)
	}

	placed := gw.PlacedOrders()
	// entry, hedge, tp signal, tp hedge, two cross stops.
	if len(placed) != 6 {
		t.Fatalf("placed %d orders, want 6 with cross stops", len(placed))
	}

	signalStop := placed[4]
	if signalStop.Side != binance.OrderSideSell || signalStop.PositionSide != binance.PositionSideLong {
		t.Errorf("signal-leg stop = %s %s, want SELL LONG", signalStop.Side, signalStop.PositionSide)
	}
	if signalStop.StopPrice != "95.9" {
		t.Errorf("signal-leg stop price = %q, want hedge fill 95.9", signalStop.StopPrice)
	}

	hedgeStop := placed[5]
	if hedgeStop.Side != binance.OrderSideBuy || hedgeStop.PositionSide != binance.PositionSideShort {
		t.Errorf("hedge-leg stop = %s %s, want BUY SHORT", hedgeStop.Side, hedgeStop.PositionSide)
	}
	if hedgeStop.StopPrice != "101" {
		t.Errorf("hedge-leg stop price = %q, want entry 101", hedgeStop.StopPrice)
	}
}

// Either TP fill retires the whole cycle: every sibling order cancelled,
// residual positions flattened, both sides open for signals again.
func TestOneOrMoreTeardownOnTakeProfitFill(t *testing.T) {
	gw := testGateway(t)
	s := NewOneOrMore(testConfig(config.StrategyOneOrMore), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(101), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	placed := gw.PlacedOrders()
	hedgeID, tpID := placed[1].OrderID, placed[2].OrderID

	gw.SetPosition(binance.FuturesPosition{
		Symbol: testSymbol, PositionSide: "LONG", PositionAmt: 0.002,
	})

	if err := s.OnOrderUpdate(filledUpdate(tpID, 106)); err != nil {
		t.Fatalf("tp fill: %v", err)
	}

	if !containsOrderID(gw.CancelledOrderIDs(), hedgeID) {
		t.Error("unfilled hedge must be cancelled during teardown")
	}
	flatten := gw.LastPlacedOrder()
	if flatten.Type != binance.FuturesOrderTypeMarket || flatten.Side != binance.OrderSideSell {
		t.Errorf("flatten = %+v, want MARKET SELL", flatten)
	}
	if !s.CanAcceptSignal(signal.SideLong) || !s.CanAcceptSignal(signal.SideShort) {
		t.Error("both sides must be open after teardown")
	}
	if s.HasOutstandingTakeProfits() {
		t.Error("no take profit may remain after teardown")
	}
}

func TestOneOrMoreHedgeFailureIsFatal(t *testing.T) {
	gw := testGateway(t)
	s := NewOneOrMore(testConfig(config.StrategyOneOrMore), gw)
	h := declineHistory()

	gw.FailNext("PlaceStopMarketOrder", 5)
	err := s.OnSignal(longSignal(101), h)
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("error %v should wrap ErrFatal", err)
	}
	if !s.CanAcceptSignal(signal.SideLong) {
		t.Error("cycle state must be cleared after fatal")
	}
}

// Retry exhaustion on the hedge-leg TP must not strand the cycle: the
// signal-leg TP is cancelled and both sides reopen before the fatal
// surfaces.
func TestOneOrMoreHedgeTakeProfitExhaustionClearsCycle(t *testing.T) {
	gw := testGateway(t)
	s := NewOneOrMore(testConfig(config.StrategyOneOrMore), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(101), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	placed := gw.PlacedOrders()
	hedgeID, tpSignalID := placed[1].OrderID, placed[2].OrderID

	gw.FailNext("PlaceTakeProfitOrder", 5)
	update := filledUpdate(hedgeID, 95.9)
	update.ExecutedQty = 0.004
	err := s.OnOrderUpdate(update)
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("error %v should wrap ErrFatal", err)
	}

	if !containsOrderID(gw.CancelledOrderIDs(), tpSignalID) {
		t.Error("signal-leg take profit must be cancelled when the hedge TP cannot be placed")
	}
	if !s.CanAcceptSignal(signal.SideLong) || !s.CanAcceptSignal(signal.SideShort) {
		t.Error("cycle state must be cleared after fatal")
	}
	if s.HasOutstandingTakeProfits() {
		t.Error("no take profit may remain after the fatal cleanup")
	}
}

// The exchange may replay execution reports; a second FILLED for the
// consumed hedge must not spawn another hedge-leg TP.
func TestOneOrMoreReplayedHedgeFillIgnored(t *testing.T) {
	gw := testGateway(t)
	s := NewOneOrMore(testConfig(config.StrategyOneOrMore), gw)
	h := declineHistory()

	if err := s.OnSignal(longSignal(101), h); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	hedgeID := gw.PlacedOrders()[1].OrderID

	update := filledUpdate(hedgeID, 95.9)
	update.ExecutedQty = 0.004
	if err := s.OnOrderUpdate(update); err != nil {
		t.Fatalf("hedge fill: %v", err)
	}
	before := len(gw.PlacedOrders())

	if err := s.OnOrderUpdate(update); err != nil {
		t.Fatalf("replayed hedge fill: %v", err)
	}
	if got := len(gw.PlacedOrders()); got != before {
		t.Errorf("placed orders grew from %d to %d on a replayed fill", before, got)
	}
}

func TestOneOrMoreTakeProfitFailureCancelsHedge(t *testing.T) {
	gw := testGateway(t)
	s := NewOneOrMore(testConfig(config.StrategyOneOrMore), gw)
	h := declineHistory()

	gw.FailNext("PlaceTakeProfitOrder", 5)
	err := s.OnSignal(longSignal(101), h)
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("error %v should wrap ErrFatal", err)
	}

	hedgeID := gw.PlacedOrders()[1].OrderID
	if !containsOrderID(gw.CancelledOrderIDs(), hedgeID) {
		t.Error("hedge must be cancelled when the take profit cannot be placed")
	}
	if !s.CanAcceptSignal(signal.SideLong) {
		t.Error("cycle state must be cleared after fatal")
	}
}
