// Package orders provides client order ID generation and in-flight
// order tracking for the strategy runtime.
package orders

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Binance rejects client order IDs longer than 36 characters.
const maxClientOrderIDLen = 36

// IDGenerator produces readable client order IDs of the form
// BOT-<DDMMM>-<NNNNN>-<TYPE>, e.g. BOT-25AUG-00041-SL. The sequence
// resets at UTC midnight.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	day    string
	seq    int64
	now    func() time.Time
}

// NewIDGenerator creates a generator with the given prefix (defaults to
// "BOT" when empty).
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "BOT"
	}
	return &IDGenerator{prefix: prefix, now: time.Now}
}

// Next returns a fresh client order ID tagged with kind (EN, SL, TP,
// HG, CC, ...). If the assembled ID would exceed the exchange limit it
// falls back to a UUID.
func (g *IDGenerator) Next(kind string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := strings.ToUpper(g.now().UTC().Format("02Jan"))
	if day != g.day {
		g.day = day
		g.seq = 0
	}
	g.seq++

	id := fmt.Sprintf("%s-%s-%05d-%s", g.prefix, day, g.seq, strings.ToUpper(kind))
	if len(id) > maxClientOrderIDLen {
		return uuid.New().String()
	}
	return id
}
