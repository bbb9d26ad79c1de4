package engine

import (
	"time"

	"github.com/roach88/qbar/internal/scan"
)

// dedupeCache suppresses the same code seen again within a cooldown window.
// Continuous scanning sees each code on many consecutive frames; without the
// window every frame would re-report it. Loop-owned, not thread-safe.
type dedupeCache struct {
	window time.Duration
	seen   map[dedupeKey]time.Time
}

type dedupeKey struct {
	payload   string
	symbology scan.Symbology
}

func newDedupeCache(window time.Duration) *dedupeCache {
	return &dedupeCache{window: window, seen: make(map[dedupeKey]time.Time)}
}

// Observe records the code at now and reports whether it was a duplicate.
// A duplicate extends the window, so a code held in view stays suppressed.
func (c *dedupeCache) Observe(payload string, sym scan.Symbology, now time.Time) bool {
	if c.window <= 0 {
		return false
	}

	c.evict(now)

	key := dedupeKey{payload: payload, symbology: sym}
	last, ok := c.seen[key]
	c.seen[key] = now
	return ok && now.Sub(last) < c.window
}

func (c *dedupeCache) evict(now time.Time) {
	for k, t := range c.seen {
		if now.Sub(t) >= c.window {
			delete(c.seen, k)
		}
	}
}

// Clear forgets every code.
func (c *dedupeCache) Clear() {
	clear(c.seen)
}

// Len returns the number of codes inside the window.
func (c *dedupeCache) Len() int {
	return len(c.seen)
}
