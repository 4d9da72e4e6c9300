package orders

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIDGeneratorFormat(t *testing.T) {
	g := NewIDGenerator("BOT")
	g.now = fixedClock(time.Date(2025, time.August, 25, 12, 0, 0, 0, time.UTC))

	if id := g.Next("en"); id != "BOT-25AUG-00001-EN" {
		t.Errorf("first id = %q, want BOT-25AUG-00001-EN", id)
	}
	if id := g.Next("SL"); id != "BOT-25AUG-00002-SL" {
		t.Errorf("second id = %q, want BOT-25AUG-00002-SL", id)
	}
}

func TestIDGeneratorSequenceResetsAtMidnight(t *testing.T) {
	g := NewIDGenerator("")
	g.now = fixedClock(time.Date(2025, time.August, 25, 23, 59, 0, 0, time.UTC))
	g.Next("EN")
	g.Next("EN")

	g.now = fixedClock(time.Date(2025, time.August, 26, 0, 1, 0, 0, time.UTC))
	if id := g.Next("TP"); id != "BOT-26AUG-00001-TP" {
		t.Errorf("post-midnight id = %q, want BOT-26AUG-00001-TP", id)
	}
}

func TestIDGeneratorOverlongFallsBackToUUID(t *testing.T) {
	g := NewIDGenerator(strings.Repeat("X", 40))
	id := g.Next("EN")
	if len(id) > maxClientOrderIDLen {
		t.Errorf("fallback id %q exceeds %d characters", id, maxClientOrderIDLen)
	}
	if strings.HasPrefix(id, "X") {
		t.Errorf("fallback id %q should not carry the overlong prefix", id)
	}
}

func TestIDGeneratorUniqueWithinDay(t *testing.T) {
	g := NewIDGenerator("BOT")
	g.now = fixedClock(time.Date(2025, time.August, 25, 12, 0, 0, 0, time.UTC))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.Next("TP")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
