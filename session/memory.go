package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/room4-2/OpenBooking/slots"
)

// MemoryStore is the in-process Store backed by go-cache.
type MemoryStore struct {
	cache *cache.Cache
	mu    sync.Mutex
	now   func() time.Time
}

// NewMemoryStore creates a store whose entries expire ttl after their last
// write. Expired entries are purged every cleanupInterval.
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &MemoryStore{
		cache: cache.New(ttl, cleanupInterval),
		now:   time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, conversationID string) State {
	if x, found := m.cache.Get(keyPrefix + conversationID); found {
		return x.(State).clone()
	}
	return emptyState()
}

func (m *MemoryStore) Update(ctx context.Context, conversationID string, updates slots.Slots) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := applyUpdates(m.Get(ctx, conversationID), updates, m.now())
	m.cache.Set(keyPrefix+conversationID, next.clone(), cache.DefaultExpiration)
	return next, nil
}

func (m *MemoryStore) Clear(_ context.Context, conversationID string) error {
	m.cache.Delete(keyPrefix + conversationID)
	return nil
}

func (m *MemoryStore) Backend() string {
	return "memory"
}

// Count returns the number of live conversations, including expired entries
// not yet purged.
func (m *MemoryStore) Count() int {
	return m.cache.ItemCount()
}

func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}
