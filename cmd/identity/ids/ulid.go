// Package ids provides ULID primitives used for message, capture, and artifact identifiers.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable and work well in distributed systems.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Generator issues ULIDs that sort in generation order, even within the same millisecond
// and even when the caller-supplied time goes backwards.
// Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	lastMS  uint64
}

// NewGenerator returns a Generator using monotonic entropy seeded from crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns the next ULID for the given time.
func (g *Generator) New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(now)
	if ms < g.lastMS {
		ms = g.lastMS
	}
	g.lastMS = ms

	id, err := ulid.New(ms, g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNew is New for callers that treat entropy exhaustion as fatal.
func (g *Generator) MustNew(now time.Time) string {
	id, err := g.New(now)
	if err != nil {
		panic(err)
	}
	return id
}
