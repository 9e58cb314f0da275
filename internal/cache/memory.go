package cache

import (
	"context"
	"sync"
	"time"

	"consensus-trader/internal/models"
)

type memoryItem struct {
	opinion  models.SourceOpinion
	expireAt time.Time
}

func (m memoryItem) expired(at time.Time) bool {
	return at.After(m.expireAt)
}

// MemoryStore is the default in-process cache backend. Entries are evicted
// lazily on read-after-expiry.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryItem

	now func() time.Time
}

// NewMemoryStore creates an in-memory cache backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

// Get returns the cached opinion for key, deleting it if expired.
func (m *MemoryStore) Get(_ context.Context, key string) (models.SourceOpinion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.data[key]
	if !ok {
		return models.SourceOpinion{}, ErrCacheMiss
	}
	if item.expired(m.now()) {
		delete(m.data, key)
		return models.SourceOpinion{}, ErrCacheMiss
	}
	return item.opinion, nil
}

// Set stores the opinion under key for ttl, overwriting any existing entry.
func (m *MemoryStore) Set(_ context.Context, key string, opinion models.SourceOpinion, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = memoryItem{
		opinion:  opinion,
		expireAt: m.now().Add(ttl),
	}
	return nil
}

// Delete removes the entry for key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of live and expired entries currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error {
	return nil
}
