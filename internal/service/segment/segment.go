package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out transcript segment IDs for one session.
type Generator struct {
	sessionID string
	counter   uint64
}

// New returns a generator producing "<sessionID>-seg-N" IDs.
func New(sessionID string) *Generator {
	return &Generator{sessionID: sessionID}
}

// Next returns the next segment ID. Safe for concurrent use.
func (g *Generator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", g.sessionID, n)
}

// Issued returns how many IDs have been handed out.
func (g *Generator) Issued() uint64 {
	return atomic.LoadUint64(&g.counter)
}
