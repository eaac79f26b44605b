package draft

import (
	"context"
	"fmt"
	"sync"
)

// Cache is the in-memory view of every draft touched during a session.
// Entries are loaded from the store on first access and never evicted;
// call Reset when the session ends.
type Cache struct {
	mu     sync.Mutex
	store  Store
	drafts map[string]*Draft
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:  store,
		drafts: make(map[string]*Draft),
	}
}

// Get returns a copy of the cached draft, reading through to the store the
// first time a key is seen. A nil draft means the conversation has none.
func (c *Cache) Get(ctx context.Context, key string) (*Draft, error) {
	c.mu.Lock()
	if d, ok := c.drafts[key]; ok {
		c.mu.Unlock()
		return d.Clone(), nil
	}
	c.mu.Unlock()

	var loaded *Draft
	if c.store != nil {
		d, err := c.store.GetDraft(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load draft %s: %w", key, err)
		}
		loaded = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a concurrent Set wins over the stale store read
	if d, ok := c.drafts[key]; ok {
		return d.Clone(), nil
	}
	c.drafts[key] = loaded
	return loaded.Clone(), nil
}

// Set records the latest draft for key.
func (c *Cache) Set(key string, d *Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[key] = d.Clone()
}

// Delete forgets the draft without reloading it from the store later.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[key] = nil
}

// Reset drops every entry. The next Get reads from the store again.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts = make(map[string]*Draft)
}

// Len returns the number of non-empty cached drafts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.drafts {
		if d != nil {
			n++
		}
	}
	return n
}
