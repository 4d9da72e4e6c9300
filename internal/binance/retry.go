package binance

import (
	"errors"
	"fmt"
	"time"

	"binance-futures-bot/internal/logging"
)

// ErrProtectiveOrderFailed is returned when SL/TP placement retries are
// exhausted. The position the order was meant to protect is still open on
// the exchange; the caller must cancel any sibling and surface a fatal.
var ErrProtectiveOrderFailed = errors.New("protective order placement failed after retries")

// RetryProtectiveOrder retries a protective-order placement with a
// linearly increasing delay: attempt n waits n * delayUnit before the
// next try. A nil response from place counts as a failure.
func RetryProtectiveOrder(label string, attempts int, delayUnit time.Duration, place func() (*FuturesOrderResponse, error)) (*FuturesOrderResponse, error) {
	logger := logging.WithComponent("protective_retry").WithField("order", label)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := place()
		if err == nil && resp != nil {
			if attempt > 1 {
				logger.Info("Protective order placed after retry", "attempt", attempt)
			}
			return resp, nil
		}

		if err == nil {
			err = errors.New("empty order response")
		}
		lastErr = err
		logger.Warn("Protective order attempt failed",
			"attempt", attempt, "max_attempts", attempts, "error", err)

		if attempt < attempts {
			time.Sleep(time.Duration(attempt) * delayUnit)
		}
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrProtectiveOrderFailed, label, lastErr)
}
