package storage

import (
	"context"
	"sync"
	"time"

	"github.com/vucciaro/dealsbot/internal/models"
)

// MemoryStore is a process-local Store. Safe for concurrent use.
type MemoryStore struct {
	ttl    time.Duration
	mu     sync.RWMutex
	posted map[string]time.Time
	states map[string]*models.ChannelState
	now    func() time.Time
}

// NewMemoryStore creates a MemoryStore with the given dedup TTL; a
// non-positive TTL falls back to DefaultDedupTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryStore{
		ttl:    ttl,
		posted: make(map[string]time.Time),
		states: make(map[string]*models.ChannelState),
		now:    time.Now,
	}
}

func (m *MemoryStore) IsRecentlyPosted(_ context.Context, asin string) (bool, error) {
	m.mu.RLock()
	postedAt, ok := m.posted[asin]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return m.now().Sub(postedAt) < m.ttl, nil
}

func (m *MemoryStore) MarkPosted(_ context.Context, asin string, at time.Time) error {
	m.mu.Lock()
	m.posted[asin] = at
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PruneExpired(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for asin, postedAt := range m.posted {
		if postedAt.Before(before) {
			delete(m.posted, asin)
		}
	}
	return nil
}

func (m *MemoryStore) LoadChannelState(_ context.Context, channelID string) (*models.ChannelState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[channelID]
	if !ok {
		return nil, nil
	}
	return cloneState(state), nil
}

func (m *MemoryStore) SaveChannelState(_ context.Context, state *models.ChannelState) error {
	m.mu.Lock()
	m.states[state.ChannelID] = cloneState(state)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneState(s *models.ChannelState) *models.ChannelState {
	clone := *s
	clone.StrategyCounts = make(map[models.Strategy]int, len(s.StrategyCounts))
	for k, v := range s.StrategyCounts {
		clone.StrategyCounts[k] = v
	}
	return &clone
}
