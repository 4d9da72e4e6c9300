package binance

import (
	"fmt"
	"sync"
	"time"

	"binance-futures-bot/internal/logging"
)

// RequestPriority defines priority levels for API requests.
type RequestPriority int

const (
	// PriorityCritical - orders, cancellations, listen key keepalive
	PriorityCritical RequestPriority = iota
	// PriorityHigh - position checks, account info
	PriorityHigh
	// PriorityNormal - market data, klines
	PriorityNormal
)

func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// AcquireResult reports the outcome of a TryAcquire call.
type AcquireResult struct {
	Acquired     bool
	WaitTime     time.Duration
	Reason       string
	CurrentUsage float64
}

// RateLimiter implements proactive weight-based rate limiting with a
// circuit breaker that opens on exchange rate-limit responses.
type RateLimiter struct {
	mu sync.RWMutex

	circuitOpen   bool
	circuitOpenAt time.Time
	banUntil      time.Time

	currentWeight int
	weightResetAt time.Time
	maxWeight     int // 2400 per minute for futures

	consecutiveErrors int
	lastErrorAt       time.Time

	logger *logging.Logger
}

// Endpoint weights for the Binance Futures API
var endpointWeights = map[string]int{
	"/fapi/v2/balance":       5,
	"/fapi/v2/account":       5,
	"/fapi/v2/positionRisk":  5,
	"/fapi/v1/order":         1,
	"/fapi/v1/openOrders":    1, // 1 with symbol, 40 without
	"/fapi/v1/allOpenOrders": 1,
	"/fapi/v1/klines":        5,
	"/fapi/v1/exchangeInfo":  1,
	"/fapi/v1/listenKey":     1,
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		maxWeight:     2400, // Binance Futures limit
		weightResetAt: time.Now().Add(time.Minute),
		logger:        logging.WithComponent("rate_limiter"),
	}
}

var globalRateLimiter = NewRateLimiter()

// GetRateLimiter returns the process-wide rate limiter.
func GetRateLimiter() *RateLimiter {
	return globalRateLimiter
}

// canMakeRequest is a read-only check against the priority threshold.
func (r *RateLimiter) canMakeRequest(endpoint string, priority RequestPriority) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.circuitOpen && time.Now().Before(r.banUntil) {
		return false
	}

	now := time.Now()
	if now.After(r.weightResetAt) {
		return true // will reset on actual request
	}

	threshold := int(float64(r.maxWeight) * thresholdForPriority(priority))
	return r.currentWeight+endpointWeight(endpoint) <= threshold
}

// TryAcquire atomically checks and records weight for a request. An open
// circuit denies everything except the caller's decision to proceed anyway
// for critical operations.
func (r *RateLimiter) TryAcquire(endpoint string, priority RequestPriority) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	if r.circuitOpen && now.Before(r.banUntil) {
		return AcquireResult{
			Acquired:     false,
			WaitTime:     time.Until(r.banUntil),
			Reason:       "circuit_breaker_open",
			CurrentUsage: 100.0,
		}
	}
	if r.circuitOpen && now.After(r.banUntil) {
		r.circuitOpen = false
		r.logger.Info("Circuit breaker auto-closed, ban expired")
	}

	weight := endpointWeight(endpoint)
	threshold := int(float64(r.maxWeight) * thresholdForPriority(priority))

	if r.currentWeight+weight > threshold {
		waitTime := time.Until(r.weightResetAt)
		if waitTime < 0 {
			waitTime = 100 * time.Millisecond
		}
		return AcquireResult{
			Acquired:     false,
			WaitTime:     waitTime,
			Reason:       fmt.Sprintf("weight_limit_exceeded_for_%s_priority", priority.String()),
			CurrentUsage: float64(r.currentWeight) / float64(r.maxWeight) * 100,
		}
	}

	r.currentWeight += weight
	r.consecutiveErrors = 0

	return AcquireResult{
		Acquired:     true,
		CurrentUsage: float64(r.currentWeight) / float64(r.maxWeight) * 100,
	}
}

// thresholdForPriority returns the share of the weight budget a priority
// level may consume. Higher priority keeps more headroom.
func thresholdForPriority(priority RequestPriority) float64 {
	switch priority {
	case PriorityCritical:
		return 0.95
	case PriorityHigh:
		return 0.80
	case PriorityNormal:
		return 0.60
	default:
		return 0.50
	}
}

// WaitForSlot blocks until a request can be made or the timeout elapses.
func (r *RateLimiter) WaitForSlot(endpoint string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if r.canMakeRequest(endpoint, PriorityNormal) {
			return true
		}

		r.mu.RLock()
		var waitTime time.Duration
		if r.circuitOpen && time.Now().Before(r.banUntil) {
			waitTime = time.Until(r.banUntil)
		} else {
			waitTime = time.Until(r.weightResetAt)
			if waitTime < 0 {
				waitTime = 100 * time.Millisecond
			}
		}
		r.mu.RUnlock()

		if waitTime > 5*time.Second {
			waitTime = 5 * time.Second
		}
		time.Sleep(waitTime)
	}

	return false
}

// RecordRequest records a successful request.
func (r *RateLimiter) RecordRequest(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	r.currentWeight += endpointWeight(endpoint)
	r.consecutiveErrors = 0

	if r.circuitOpen && now.After(r.banUntil) {
		r.logger.Info("Circuit breaker closed after successful request")
		r.circuitOpen = false
	}
}

// RecordRateLimitError records a rate limit error and opens the circuit
// breaker. banUntilMs of 0 falls back to exponential backoff.
func (r *RateLimiter) RecordRateLimitError(banUntilMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++
	r.lastErrorAt = time.Now()

	var banUntil time.Time
	if banUntilMs > 0 {
		banUntil = time.UnixMilli(banUntilMs)
	} else {
		backoff := time.Duration(1<<uint(r.consecutiveErrors)) * time.Minute
		if backoff > 30*time.Minute {
			backoff = 30 * time.Minute
		}
		banUntil = time.Now().Add(backoff)
	}

	r.circuitOpen = true
	r.circuitOpenAt = time.Now()
	r.banUntil = banUntil

	r.logger.Warn("Circuit breaker open",
		"ban_until", banUntil.Format("15:04:05"),
		"consecutive_errors", r.consecutiveErrors)
}

// IsCircuitOpen returns true while the circuit breaker is open.
func (r *RateLimiter) IsCircuitOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.circuitOpen {
		return false
	}
	return time.Now().Before(r.banUntil)
}

// GetStatus returns the current rate limiter state for the status API.
func (r *RateLimiter) GetStatus() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	timeUntilReset := time.Until(r.weightResetAt)
	if timeUntilReset < 0 {
		timeUntilReset = 0
	}

	status := map[string]interface{}{
		"circuit_open":       r.circuitOpen,
		"current_weight":     r.currentWeight,
		"max_weight":         r.maxWeight,
		"weight_usage_pct":   float64(r.currentWeight) / float64(r.maxWeight) * 100,
		"consecutive_errors": r.consecutiveErrors,
		"reset_in_seconds":   int(timeUntilReset.Seconds()),
	}
	if r.circuitOpen {
		status["ban_until"] = r.banUntil.Format(time.RFC3339)
	}
	return status
}

// UpdateFromHeaders reconciles the tracked weight with the exchange's
// X-MBX-USED-WEIGHT-1M response header.
func (r *RateLimiter) UpdateFromHeaders(usedWeight1m int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if usedWeight1m > r.currentWeight {
		r.currentWeight = usedWeight1m
	}
}

func endpointWeight(endpoint string) int {
	if weight, ok := endpointWeights[endpoint]; ok {
		return weight
	}
	return 1
}

// ParseBanUntilFromError extracts the ban timestamp from a Binance error
// message of the form "... banned until 1766824120342".
func ParseBanUntilFromError(errMsg string) int64 {
	var banUntil int64
	_, err := fmt.Sscanf(errMsg, "%*[^0-9]%d", &banUntil)
	if err != nil {
		return 0
	}

	// Sanity check - should be a millisecond timestamp in the near future
	if banUntil > time.Now().UnixMilli() && banUntil < time.Now().Add(24*time.Hour).UnixMilli() {
		return banUntil
	}
	return 0
}
