package ledger

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsZeroState(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ledger.json"))
	state, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.RecoveryAmount != 0 || state.BalanceMax != 0 {
		t.Errorf("missing file state = %+v, want zero", state)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ledger.json"))
	if err := l.Save(State{RecoveryAmount: 12.5, BalanceMax: 1000}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	state, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.RecoveryAmount != 12.5 || state.BalanceMax != 1000 {
		t.Errorf("state = %+v, want 12.5 / 1000", state)
	}
	if state.Timestamp.IsZero() {
		t.Error("Save should stamp the timestamp")
	}
}

func TestRecordLossAccumulates(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ledger.json"))

	if _, err := l.RecordLoss(5); err != nil {
		t.Fatalf("RecordLoss: %v", err)
	}
	state, err := l.RecordLoss(2.5)
	if err != nil {
		t.Fatalf("RecordLoss: %v", err)
	}
	if state.RecoveryAmount != 7.5 {
		t.Errorf("recovery amount = %v, want 7.5", state.RecoveryAmount)
	}
}

func TestUpdateBalanceMaxIsHighWaterMark(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ledger.json"))

	if _, err := l.UpdateBalanceMax(100); err != nil {
		t.Fatalf("UpdateBalanceMax: %v", err)
	}
	state, err := l.UpdateBalanceMax(50)
	if err != nil {
		t.Fatalf("UpdateBalanceMax: %v", err)
	}
	if state.BalanceMax != 100 {
		t.Errorf("balance max = %v, want high-water mark 100", state.BalanceMax)
	}
}
