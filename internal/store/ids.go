package store

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces resource UIDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 resource IDs.
//
// UUIDv7 embeds a millisecond timestamp in the high bits, so IDs created
// later sort after IDs created earlier.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator returns "1", "2", "3", ... in order.
//
// Thread-safety: SequentialGenerator is safe for concurrent use via internal mutex.
type SequentialGenerator struct {
	mu   sync.Mutex
	next int
}

// Generate returns the next sequence number as a string.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return strconv.Itoa(g.next)
}
