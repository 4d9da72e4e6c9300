// Package ledger maintains the operational loss-recovery file used by
// the balance utilities. It is not consulted by the trading core.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// State is the persisted ledger content.
type State struct {
	RecoveryAmount float64   `json:"recovery_amount"`
	BalanceMax     float64   `json:"balance_max"`
	Timestamp      time.Time `json:"timestamp"`
}

// Ledger reads and writes the JSON state file.
type Ledger struct {
	path string
}

// New creates a ledger bound to path.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Load reads the state file. A missing file yields a zero state.
func (l *Ledger) Load() (State, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read ledger: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to parse ledger: %w", err)
	}
	return state, nil
}

// Save writes the state atomically via a temp file rename.
func (l *Ledger) Save(state State) error {
	state.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// RecordLoss adds amount to the outstanding recovery total.
func (l *Ledger) RecordLoss(amount float64) (State, error) {
	state, err := l.Load()
	if err != nil {
		return State{}, err
	}
	state.RecoveryAmount += amount
	if err := l.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// UpdateBalanceMax raises the recorded balance high-water mark.
func (l *Ledger) UpdateBalanceMax(balance float64) (State, error) {
	state, err := l.Load()
	if err != nil {
		return State{}, err
	}
	if balance > state.BalanceMax {
		state.BalanceMax = balance
	}
	if err := l.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}
