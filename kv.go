package hal

import (
	"context"
	"sort"
	"sync"
)

// KeyValueStore defines the durable string store the cache persists to
type KeyValueStore interface {
	// GetItem returns the value stored under key; ok is false when absent
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, overwriting any previous value
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key; removing an absent key is not an error
	RemoveItem(ctx context.Context, key string) error

	// Clear deletes every key owned by the store
	Clear(ctx context.Context) error
}

// MemoryStore is an in-memory implementation of KeyValueStore
type MemoryStore struct {
	items map[string]string
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory key-value store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]string),
	}
}

// GetItem implements KeyValueStore
func (m *MemoryStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem implements KeyValueStore
func (m *MemoryStore) SetItem(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = value
	return nil
}

// RemoveItem implements KeyValueStore
func (m *MemoryStore) RemoveItem(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

// Clear implements KeyValueStore
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]string)
	return nil
}

// Keys returns the stored keys in sorted order
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
