package venue

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps pool addresses to the venue implementation that manages them.
// A deployment normally has one venue serving many pools, but nothing stops
// several coexisting (e.g. a live adapter plus a dev pool).
type Registry struct {
	mu     sync.RWMutex
	venues map[common.Address]Venue
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{venues: make(map[common.Address]Venue)}
}

// Register binds a pool address to a venue.
// Returns an error if the pool is already bound.
func (r *Registry) Register(pool common.Address, v Venue) error {
	if v == nil {
		return fmt.Errorf("cannot register nil venue for %s", pool.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.venues[pool]; exists {
		return fmt.Errorf("pool %s already registered", pool.Hex())
	}
	r.venues[pool] = v
	return nil
}

// Get returns the venue managing pool.
func (r *Registry) Get(pool common.Address) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.venues[pool]
	if !exists {
		return nil, fmt.Errorf("pool %s: %w", pool.Hex(), ErrUnknownPool)
	}
	return v, nil
}

// Exists reports whether pool is bound.
func (r *Registry) Exists(pool common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.venues[pool]
	return exists
}

// Pools returns all bound pool addresses.
func (r *Registry) Pools() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pools := make([]common.Address, 0, len(r.venues))
	for p := range r.venues {
		pools = append(pools, p)
	}
	return pools
}
