package pending

import (
	"context"
	"time"

	"github.com/fractal-lba/banditd/internal/cache"
)

// MemoryStore is a bounded in-process ledger. When full, the least recently
// issued decision is forgotten.
type MemoryStore struct {
	cache *cache.Expiring[string, *Decision]
}

// NewMemoryStore creates a ledger holding at most capacity decisions.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultConfig().Capacity
	}
	c, err := cache.NewExpiring[string, *Decision](capacity, 0)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: c}, nil
}

func (m *MemoryStore) Put(_ context.Context, d *Decision, ttl time.Duration) error {
	m.cache.SetIfAbsent(d.ID, d, ttl)
	return nil
}

func (m *MemoryStore) Take(_ context.Context, id string) (*Decision, error) {
	d, ok := m.cache.Take(id)
	if !ok {
		return nil, nil
	}
	return d, nil
}

// Sweep drops expired decisions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	return m.cache.CleanupExpired()
}

// Stats exposes hit/miss counters of the underlying cache.
func (m *MemoryStore) Stats() cache.Stats {
	return m.cache.Stats()
}

func (m *MemoryStore) Close() error {
	return m.cache.Close()
}
