package environment

import (
	"context"
	"sync"
)

// Cached memoizes successful loads of an underlying store. Failures are not
// cached so a definition added later becomes visible.
type Cached struct {
	store Store
	mu    sync.RWMutex
	defs  map[string]Definition
}

func NewCached(store Store) *Cached {
	return &Cached{store: store, defs: make(map[string]Definition)}
}

func (c *Cached) Load(ctx context.Context, name string) (Definition, error) {
	c.mu.RLock()
	def, ok := c.defs[name]
	c.mu.RUnlock()
	if ok {
		return def, nil
	}
	def, err := c.store.Load(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	c.mu.Lock()
	c.defs[name] = def
	c.mu.Unlock()
	return def, nil
}
