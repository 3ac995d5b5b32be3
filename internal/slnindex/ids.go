package slnindex

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out entry identifiers.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator draws random v4 identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequenceGenerator yields deterministic identifiers, for tests and
// reproducible output.
type SequenceGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", g.next)
}
