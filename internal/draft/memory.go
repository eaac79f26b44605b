package draft

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps drafts in process memory. Used for ephemeral sessions
// and tests.
type MemoryStore struct {
	mu     sync.Mutex
	drafts map[string]*Draft
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]*Draft)}
}

func (m *MemoryStore) GetDraft(_ context.Context, key string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[key].Clone(), nil
}

func (m *MemoryStore) SetDraft(_ context.Context, key string, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if d == nil {
		delete(m.drafts, key)
		return nil
	}
	m.drafts[key] = d.Clone()
	return nil
}

func (m *MemoryStore) RemoveAllWithPrefix(_ context.Context, prefix string, transform func(*Draft) *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, d := range m.drafts {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var next *Draft
		if transform != nil {
			next = transform(d.Clone())
		}
		if next == nil {
			delete(m.drafts, key)
			continue
		}
		m.drafts[key] = next.Clone()
	}
	return nil
}

// Writes returns how many SetDraft calls the store has seen.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Keys lists stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.drafts))
	for key := range m.drafts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
