package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out message ids. Implementations must never return the
// same id twice within a process.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random v4 UUIDs; collisions are negligible.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.New().String()
}

// SequenceGenerator issues monotonically increasing ids with a fixed prefix.
type SequenceGenerator struct {
	Prefix string
	next   atomic.Uint64
}

func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("%s%d", g.Prefix, g.next.Add(1))
}
