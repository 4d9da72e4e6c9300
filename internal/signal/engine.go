// Package signal implements the candle-close signal state machine:
// multi-period RSI extremes arm a pending side, and the next
// Heikin-Ashi candle of matching color confirms it.
package signal

import (
	"math"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/indicator"
	"binance-futures-bot/internal/logging"
	"binance-futures-bot/internal/market"
)

// Side is the direction of a trading signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// State is the engine's position in the confirmation cycle.
type State string

const (
	StateWaiting      State = "WAITING"
	StatePendingLong  State = "PENDING_LONG"
	StatePendingShort State = "PENDING_SHORT"
	StateConfirmed    State = "CONFIRMED"
)

// Signal is a confirmed entry signal.
type Signal struct {
	Side      Side
	Price     float64 // close of the confirming candle
	CloseTime int64
}

// Gate is the runtime's veto over signal emission. The engine never
// latches a signal the runtime cannot honor.
type Gate interface {
	CanAcceptSignal(side Side) bool
	HasOutstandingTakeProfits() bool
}

// Engine evaluates the state machine on every closed candle. It is
// driven from a single goroutine; no internal locking.
type Engine struct {
	cfg    config.SignalConfig
	gate   Gate
	logger *logging.Logger

	state     State
	confirmed *Signal
}

// NewEngine creates an engine in the WAITING state.
func NewEngine(cfg config.SignalConfig, gate Gate) *Engine {
	return &Engine{
		cfg:    cfg,
		gate:   gate,
		logger: logging.WithComponent("signal_engine"),
		state:  StateWaiting,
	}
}

// State returns the current machine state.
func (e *Engine) State() State {
	return e.state
}

// Consume returns the latched signal, if any, and resets the machine.
func (e *Engine) Consume() *Signal {
	if e.state != StateConfirmed {
		return nil
	}
	sig := e.confirmed
	e.confirmed = nil
	e.state = StateWaiting
	return sig
}

// OnClosedCandle advances the state machine. Returns the newly latched
// signal when this candle produced one, otherwise nil. A previously
// latched signal stays latched until Consume is called.
func (e *Engine) OnClosedCandle(history *market.History) *Signal {
	if e.state == StateConfirmed {
		return nil
	}

	candles := history.Candles()
	if len(candles) == 0 {
		return nil
	}

	ha := indicator.HeikinAshi(candles)
	closes := history.Closes()
	if e.cfg.RSIOnHeikinAshi {
		closes = haCloses(ha)
	}

	last := candles[len(candles)-1]
	lastHA := ha[len(ha)-1]

	if e.state == StatePendingLong || e.state == StatePendingShort {
		if e.tryConfirm(lastHA, last, history) {
			return e.confirmed
		}
		// Confirmation failed; fall through and re-evaluate the RSI
		// extremes on this close.
		e.state = StateWaiting
	}

	oversold, overbought := e.extremes(closes)
	switch {
	case oversold:
		e.state = StatePendingLong
		e.logger.Info("All RSI periods oversold, awaiting confirmation", "close", last.Close)
	case overbought:
		e.state = StatePendingShort
		e.logger.Info("All RSI periods overbought, awaiting confirmation", "close", last.Close)
	}
	return nil
}

// tryConfirm checks the pending side against the confirming candle.
func (e *Engine) tryConfirm(lastHA indicator.HACandle, last market.Candle, history *market.History) bool {
	var side Side
	switch {
	case e.state == StatePendingLong && lastHA.Color == indicator.ColorGreen:
		side = SideLong
	case e.state == StatePendingShort && lastHA.Color == indicator.ColorRed:
		side = SideShort
	default:
		return false
	}

	if e.cfg.VolumeValidation.Enabled && !e.volumeAboveMean(last, history) {
		e.logger.Info("Confirmation rejected by volume filter", "side", string(side))
		return false
	}

	if e.gate != nil {
		if !e.gate.CanAcceptSignal(side) {
			e.logger.Debug("Signal suppressed, runtime cannot accept", "side", string(side))
			return false
		}
		if e.gate.HasOutstandingTakeProfits() {
			e.logger.Debug("Signal suppressed, take profits outstanding", "side", string(side))
			return false
		}
	}

	e.confirmed = &Signal{Side: side, Price: last.Close, CloseTime: last.CloseTime}
	e.state = StateConfirmed
	e.logger.Info("Signal confirmed", "side", string(side), "price", last.Close)
	return true
}

// volumeAboveMean requires the confirming candle's volume to exceed the
// arithmetic mean of the previous lookback volumes.
func (e *Engine) volumeAboveMean(last market.Candle, history *market.History) bool {
	volumes := history.Volumes()
	if len(volumes) < 2 {
		return false
	}

	prev := volumes[:len(volumes)-1]
	lookback := e.cfg.VolumeValidation.LookbackCandles
	if lookback > 0 && len(prev) > lookback {
		prev = prev[len(prev)-lookback:]
	}

	sum := 0.0
	for _, v := range prev {
		sum += v
	}
	mean := sum / float64(len(prev))
	return last.Volume > mean
}

// extremes reports whether every configured RSI period is at its
// oversold or overbought threshold on the last close.
func (e *Engine) extremes(closes []float64) (oversold, overbought bool) {
	return Extremes(closes, e.cfg.RSIThresholds)
}

// Extremes evaluates the multi-period RSI extreme condition on the last
// element of closes. Both results are false when any period's RSI is
// undefined.
func Extremes(closes []float64, thresholds map[int]config.RSIThreshold) (oversold, overbought bool) {
	if len(thresholds) == 0 {
		return false, false
	}

	oversold, overbought = true, true
	for period, threshold := range thresholds {
		value, ok := indicator.RSILast(closes, period)
		if !ok || math.IsNaN(value) {
			return false, false
		}
		if value > threshold.Oversold {
			oversold = false
		}
		if value < threshold.Overbought {
			overbought = false
		}
	}
	return oversold, overbought
}

func haCloses(ha []indicator.HACandle) []float64 {
	closes := make([]float64, len(ha))
	for i, c := range ha {
		closes[i] = c.Close
	}
	return closes
}
