package orders

import "testing"

func TestTrackerTrackResolveForget(t *testing.T) {
	tr := NewTracker()

	tr.Track(Ref{OrderID: 1001, Symbol: "BTCUSDT", Role: RoleStopLoss, Quantity: 0.002, StopPrice: 95.9})
	tr.Track(Ref{OrderID: 1002, Symbol: "BTCUSDT", Role: RoleTakeProfit, Quantity: 0.002, StopPrice: 101.2})

	if tr.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tr.Len())
	}

	ref, ok := tr.Resolve(1001)
	if !ok || ref.Role != RoleStopLoss {
		t.Errorf("Resolve(1001) = %+v, %t; want stop loss ref", ref, ok)
	}
	if ref.PlacedAt.IsZero() {
		t.Error("Track should stamp PlacedAt")
	}

	forgotten, ok := tr.Forget(1001)
	if !ok || forgotten.OrderID != 1001 {
		t.Errorf("Forget(1001) = %+v, %t", forgotten, ok)
	}
	if _, ok := tr.Resolve(1001); ok {
		t.Error("forgotten order should not resolve")
	}
	if _, ok := tr.Forget(1001); ok {
		t.Error("double Forget should report not found")
	}
}

func TestTrackerByRole(t *testing.T) {
	tr := NewTracker()
	tr.Track(Ref{OrderID: 1, Role: RoleTakeProfit})
	tr.Track(Ref{OrderID: 2, Role: RoleTakeProfit})
	tr.Track(Ref{OrderID: 3, Role: RoleHedge})

	if tps := tr.ByRole(RoleTakeProfit); len(tps) != 2 {
		t.Errorf("ByRole(take_profit) = %d refs, want 2", len(tps))
	}
	if hedges := tr.ByRole(RoleHedge); len(hedges) != 1 {
		t.Errorf("ByRole(hedge) = %d refs, want 1", len(hedges))
	}
}

func TestTrackerForgetAll(t *testing.T) {
	tr := NewTracker()
	tr.Track(Ref{OrderID: 1, Role: RoleEntry})
	tr.Track(Ref{OrderID: 2, Role: RoleCascadeChild})

	refs := tr.ForgetAll()
	if len(refs) != 2 {
		t.Errorf("ForgetAll returned %d refs, want 2", len(refs))
	}
	if tr.Len() != 0 {
		t.Errorf("Len after ForgetAll = %d, want 0", tr.Len())
	}
}
