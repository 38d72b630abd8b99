package storage

import (
	"sync"
	"time"
)

// registry tracks live assets by name. It stores the pointer handed to the
// deletion timer so a timer can tell whether its asset was replaced.
type registry struct {
	mu     sync.RWMutex
	assets map[string]*Asset
}

func newRegistry() *registry {
	return &registry{assets: make(map[string]*Asset)}
}

// put registers a and returns the asset it replaced, if any.
func (r *registry) put(a *Asset) *Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.assets[a.Name]
	r.assets[a.Name] = a
	return prev
}

// get returns a copy of the named asset.
func (r *registry) get(name string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[name]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// retime updates the expiry of name and returns the registered pointer.
func (r *registry) retime(name string, expiresAt time.Time) (*Asset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[name]
	if ok {
		a.ExpiresAt = expiresAt
	}
	return a, ok
}

// removeIf unregisters name only if it still refers to a.
func (r *registry) removeIf(a *Asset) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.assets[a.Name]; !ok || cur != a {
		return false
	}
	delete(r.assets, a.Name)
	return true
}

// drain removes and returns every asset.
func (r *registry) drain() []*Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Asset, 0, len(r.assets))
	for name, a := range r.assets {
		out = append(out, a)
		delete(r.assets, name)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
