package session

import (
	"sync"

	"github.com/Iron-Ham/sketchround/internal/errors"
)

// Guard admits at most one controller per shared resource (capture device or
// display) within a process.
type Guard struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{owners: make(map[string]string)}
}

// defaultGuard is used by controllers constructed without an explicit guard.
var defaultGuard = NewGuard()

// Acquire claims resource for owner. The returned release func is idempotent.
// A second claim fails with an AlreadyExistsError wrapping ErrControllerExists.
func (g *Guard) Acquire(resource, owner string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if holder, ok := g.owners[resource]; ok {
		return nil, errors.NewAlreadyExistsError("controller", resource).
			WithCause(errors.Wrapf(errors.ErrControllerExists, "held by %s", holder))
	}
	g.owners[resource] = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.owners[resource] == owner {
				delete(g.owners, resource)
			}
		})
	}, nil
}

// Owner returns the current holder of resource.
func (g *Guard) Owner(resource string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	owner, ok := g.owners[resource]
	return owner, ok
}
