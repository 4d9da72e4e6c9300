package orders

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Role identifies what an in-flight order is for.
type Role string

const (
	RoleEntry        Role = "entry"
	RoleStopLoss     Role = "stop_loss"
	RoleTakeProfit   Role = "take_profit"
	RoleHedge        Role = "hedge"
	RoleCascadeChild Role = "cascade_child"
)

// Ref is the runtime's record of one order it has placed on the
// exchange.
type Ref struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Role          Role
	Side          string
	PositionSide  string
	Quantity      float64
	StopPrice     float64
	PlacedAt      time.Time
}

// Tracker keeps the set of orders the runtime currently owns on the
// exchange, keyed by exchange order ID.
type Tracker struct {
	mu     sync.RWMutex
	byID   map[int64]Ref
	logger zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "orders").Logger()
	return &Tracker{
		byID:   make(map[int64]Ref),
		logger: logger,
	}
}

// Track records an order the runtime just placed.
func (t *Tracker) Track(ref Ref) {
	if ref.PlacedAt.IsZero() {
		ref.PlacedAt = time.Now()
	}

	t.mu.Lock()
	t.byID[ref.OrderID] = ref
	t.mu.Unlock()

	t.logger.Debug().
		Int64("order_id", ref.OrderID).
		Str("client_order_id", ref.ClientOrderID).
		Str("role", string(ref.Role)).
		Str("side", ref.Side).
		Float64("quantity", ref.Quantity).
		Msg("tracking order")
}

// Resolve looks up a tracked order by exchange ID.
func (t *Tracker) Resolve(orderID int64) (Ref, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.byID[orderID]
	return ref, ok
}

// Forget drops a tracked order, returning its ref if it was known.
func (t *Tracker) Forget(orderID int64) (Ref, bool) {
	t.mu.Lock()
	ref, ok := t.byID[orderID]
	if ok {
		delete(t.byID, orderID)
	}
	t.mu.Unlock()

	if ok {
		t.logger.Debug().
			Int64("order_id", orderID).
			Str("role", string(ref.Role)).
			Msg("forgetting order")
	}
	return ref, ok
}

// ForgetAll clears the tracker and returns what was tracked.
func (t *Tracker) ForgetAll() []Ref {
	t.mu.Lock()
	refs := make([]Ref, 0, len(t.byID))
	for _, ref := range t.byID {
		refs = append(refs, ref)
	}
	t.byID = make(map[int64]Ref)
	t.mu.Unlock()
	return refs
}

// ByRole returns the tracked orders with the given role.
func (t *Tracker) ByRole(role Role) []Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()
	refs := make([]Ref, 0)
	for _, ref := range t.byID {
		if ref.Role == role {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
