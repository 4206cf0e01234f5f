package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	store    *Store
	lastUsed time.Time
}

// Registry holds one Store per signed-in user so that a user's requests share state.
type Registry struct {
	deps Deps

	mu     sync.Mutex
	stores map[string]*entry
}

// NewRegistry creates a Registry whose stores share deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{deps: deps, stores: make(map[string]*entry)}
}

// For returns the store of userID. Signed-out callers get a fresh, empty store each time.
func (r *Registry) For(userID string) *Store {
	if userID == "" {
		return New("", r.deps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.stores[userID]
	if !ok {
		e = &entry{store: New(userID, r.deps)}
		r.stores[userID] = e
	}
	e.lastUsed = r.deps.Now()
	return e.store
}

// Evict drops the stores of the given users. Their next request starts from a fresh fetch.
func (r *Registry) Evict(userIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range userIDs {
		delete(r.stores, id)
	}
}

// Invalidate discards everything held for the given users after a write made elsewhere,
// such as a webhook or a background job.
func (r *Registry) Invalidate(ctx context.Context, userIDs ...string) {
	if r.deps.Cache != nil {
		r.deps.Cache.Invalidate(ctx, userIDs...)
	}
	r.Evict(userIDs...)
}

// Sweep evicts stores unused for longer than idle and returns how many were dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.deps.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, e := range r.stores {
		if e.lastUsed.Before(cutoff) {
			delete(r.stores, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
