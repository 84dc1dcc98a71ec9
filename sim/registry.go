package sim

import (
	"context"
	"math/rand"
	"sync"
)

// Randoms is the process-wide registry used by Environment batches.
var Randoms = NewRandomRegistry()

type registryKey struct{}

// registration is the token stored in a context by Register.
type registration struct {
	owner *RandomRegistry
	id    uint64
}

// RandomRegistry maps logical execution contexts to the random generator they run with,
// so that code deep in a call chain can recover the generator of its batch from ctx.
//
// Each Register call derives a new context carrying its own token; concurrent replicas
// registering from a common parent never observe each other's generator.
// At most one live registration per context: registering again on a context that
// already carries a live token fails, as does unregistering an unregistered context.
type RandomRegistry struct {
	mu     sync.Mutex
	next   uint64
	active map[uint64]*rand.Rand
}

// NewRandomRegistry creates an empty registry.
func NewRandomRegistry() *RandomRegistry {
	return &RandomRegistry{active: make(map[uint64]*rand.Rand)}
}

// Register binds rng to a context derived from ctx and returns it.
func (r *RandomRegistry) Register(ctx context.Context, rng *rand.Rand) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.tokenOf(ctx); ok {
		if _, live := r.active[reg.id]; live {
			return ctx, ErrAlreadyRegistered
		}
	}
	r.next++
	r.active[r.next] = rng
	return context.WithValue(ctx, registryKey{}, registration{owner: r, id: r.next}), nil
}

// Unregister releases the registration carried by ctx.
func (r *RandomRegistry) Unregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.tokenOf(ctx)
	if !ok {
		return ErrNotRegistered
	}
	if _, live := r.active[reg.id]; !live {
		return ErrNotRegistered
	}
	delete(r.active, reg.id)
	return nil
}

// Lookup returns the generator registered for ctx.
func (r *RandomRegistry) Lookup(ctx context.Context) (*rand.Rand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.tokenOf(ctx)
	if !ok {
		return nil, ErrNotRegistered
	}
	rng, live := r.active[reg.id]
	if !live {
		return nil, ErrNotRegistered
	}
	return rng, nil
}

// Len returns the number of live registrations.
func (r *RandomRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *RandomRegistry) tokenOf(ctx context.Context) (registration, bool) {
	reg, ok := ctx.Value(registryKey{}).(registration)
	if !ok || reg.owner != r {
		return registration{}, false
	}
	return reg, true
}
