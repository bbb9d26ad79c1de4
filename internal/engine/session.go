package engine

import (
	"sync"

	"github.com/google/uuid"
)

// SessionGenerator names engine sessions. Every transition recorded by one
// engine carries the same session id.
type SessionGenerator interface {
	Generate() string
}

// UUIDv7Generator returns time-sortable session ids, so journal sessions
// list in creation order.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7. Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out predetermined ids, for golden traces.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator returns a generator yielding ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id. Panics when the ids run out, which means a
// test created more sessions than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
