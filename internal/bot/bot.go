// Package bot wires the market-data stream, the user-data stream, the
// signal engine, and the selected strategy into one supervised runtime.
// All strategy and engine state is touched from a single
// event-processing goroutine; the two ingest loops only feed channels.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/logging"
	"binance-futures-bot/internal/market"
	"binance-futures-bot/internal/signal"
	"binance-futures-bot/internal/strategy"
)

const (
	historyCapacity  = 500
	bootstrapCandles = 200
	drainTimeout     = 10 * time.Second
)

// Bot is the trading runtime supervisor.
type Bot struct {
	cfg      *config.Config
	gateway  binance.FuturesGateway
	strategy strategy.Strategy
	engine   *signal.Engine
	history  *market.History

	klineStream *market.KlineStream
	userStream  *binance.UserDataStream
	logger      *logging.Logger

	candleCh chan market.Candle
	updateCh chan binance.OrderUpdate
	fatalCh  chan error

	mu        sync.RWMutex
	livePrice float64
	started   time.Time
}

// New builds the runtime for the configured strategy.
func New(cfg *config.Config, gateway binance.FuturesGateway) (*Bot, error) {
	strat, err := strategy.New(cfg, gateway)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		cfg:      cfg,
		gateway:  gateway,
		strategy: strat,
		history:  market.NewHistory(historyCapacity),
		logger:   logging.WithComponent("bot"),
		candleCh: make(chan market.Candle, 16),
		updateCh: make(chan binance.OrderUpdate, 16),
		fatalCh:  make(chan error, 4),
	}
	b.engine = signal.NewEngine(cfg.Signal, strat)

	b.klineStream = market.NewKlineStream(cfg.API.WSBaseURL, cfg.Symbol, cfg.Timeframe, cfg.Reconnection)
	b.klineStream.SetClosedCandleCallback(func(c market.Candle) {
		b.candleCh <- c
	})
	b.klineStream.SetLivePriceCallback(func(price, volume float64) {
		b.mu.Lock()
		b.livePrice = price
		b.mu.Unlock()
	})
	b.klineStream.SetFatalCallback(func(err error) {
		b.fatal(fmt.Errorf("kline stream: %w", err))
	})

	b.userStream = binance.NewUserDataStream(gateway, cfg.API.WSBaseURL, cfg.Symbol, cfg.Reconnection)
	b.userStream.SetOrderUpdateCallback(func(update binance.OrderUpdate) {
		b.updateCh <- update
	})
	b.userStream.SetFatalCallback(func(err error) {
		b.fatal(fmt.Errorf("user data stream: %w", err))
	})

	return b, nil
}

// Run bootstraps candle history, starts both streams, and processes
// events until ctx is cancelled or a fatal condition surfaces. Exchange
// orders are left in place on shutdown.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.started = time.Now()
	b.mu.Unlock()

	if err := b.bootstrapHistory(); err != nil {
		return fmt.Errorf("history bootstrap failed: %w", err)
	}

	// Warm the precision cache before any order can need it.
	if _, err := b.gateway.GetSymbolPrecision(b.cfg.Symbol); err != nil {
		return fmt.Errorf("symbol precision unavailable: %w", err)
	}

	if err := b.userStream.Start(); err != nil {
		return err
	}
	if err := b.klineStream.Start(); err != nil {
		b.userStream.Stop()
		return err
	}

	b.logger.Info("Bot running",
		"symbol", b.cfg.Symbol, "timeframe", b.cfg.Timeframe,
		"strategy", b.strategy.Name(), "candles", b.history.Len())

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-b.fatalCh:
			runErr = err
			break loop
		case candle := <-b.candleCh:
			if err := b.handleClosedCandle(candle); err != nil {
				runErr = err
				break loop
			}
		case update := <-b.updateCh:
			if err := b.handleOrderUpdate(update); err != nil {
				runErr = err
				break loop
			}
		}
	}

	b.shutdown()
	return runErr
}

// handleClosedCandle runs the per-candle pipeline: history append with
// open-time dedupe, strategy maintenance, then signal evaluation and
// dispatch.
func (b *Bot) handleClosedCandle(candle market.Candle) error {
	if !b.history.Append(candle) {
		b.logger.Debug("Duplicate closed candle suppressed", "open_time", candle.OpenTime)
		return nil
	}

	if err := b.strategy.OnClosedCandle(b.history); err != nil {
		return b.checkFatal(err)
	}

	b.engine.OnClosedCandle(b.history)
	if sig := b.engine.Consume(); sig != nil {
		b.logger.Info("Dispatching signal", "side", string(sig.Side), "price", sig.Price)
		if err := b.strategy.OnSignal(*sig, b.history); err != nil {
			return b.checkFatal(err)
		}
	}
	return nil
}

func (b *Bot) handleOrderUpdate(update binance.OrderUpdate) error {
	if update.Status == binance.FuturesOrderStatusFilled {
		logging.OrderContext(update.OrderID, update.Symbol, string(update.Side), update.Kind).
			Info("Order filled", "avg_price", update.AvgPrice, "executed_qty", update.ExecutedQty)
	}
	if err := b.strategy.OnOrderUpdate(update); err != nil {
		return b.checkFatal(err)
	}
	return nil
}

// checkFatal escalates fatal strategy errors and logs the rest.
func (b *Bot) checkFatal(err error) error {
	if errors.Is(err, strategy.ErrFatal) || errors.Is(err, binance.ErrProtectiveOrderFailed) {
		return err
	}
	b.logger.Error("Strategy callback failed", "error", err)
	return nil
}

// bootstrapHistory seeds the candle window over REST so the lookback
// computations are valid from the first live close.
func (b *Bot) bootstrapHistory() error {
	klines, err := b.gateway.GetKlines(b.cfg.Symbol, b.cfg.Timeframe, bootstrapCandles)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, k := range klines {
		if k.CloseTime > now {
			continue // skip the still-open candle
		}
		b.history.Append(market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
			IsClosed:  true,
		})
	}
	return nil
}

// shutdown stops the ingest loops, drains in-flight events briefly, and
// releases the listen key. Protective orders stay on the exchange.
func (b *Bot) shutdown() {
	b.logger.Info("Shutting down")

	b.klineStream.Stop()

	deadline := time.After(drainTimeout)
drain:
	for {
		select {
		case candle := <-b.candleCh:
			if err := b.handleClosedCandle(candle); err != nil {
				b.logger.Error("Error while draining candles", "error", err)
				break drain
			}
		case update := <-b.updateCh:
			if err := b.handleOrderUpdate(update); err != nil {
				b.logger.Error("Error while draining order updates", "error", err)
				break drain
			}
		case <-deadline:
			break drain
		default:
			break drain
		}
	}

	if err := b.strategy.Shutdown(); err != nil {
		b.logger.Error("Strategy shutdown failed", "error", err)
	}
	b.userStream.Stop()

	b.logger.Info("Shutdown complete")
}

func (b *Bot) fatal(err error) {
	select {
	case b.fatalCh <- err:
	default:
	}
}

// Snapshot returns runtime state for the status API. Strategy state is
// read outside the serialization domain, so this is advisory only.
func (b *Bot) Snapshot() map[string]interface{} {
	b.mu.RLock()
	livePrice := b.livePrice
	started := b.started
	b.mu.RUnlock()

	return map[string]interface{}{
		"symbol":       b.cfg.Symbol,
		"timeframe":    b.cfg.Timeframe,
		"strategy":     b.strategy.Name(),
		"signal_state": string(b.engine.State()),
		"live_price":   livePrice,
		"candles":      b.history.Len(),
		"uptime_sec":   int(time.Since(started).Seconds()),
		"state":        b.strategy.Snapshot(),
	}
}

// SignalState returns the engine's current state.
func (b *Bot) SignalState() string {
	return string(b.engine.State())
}
