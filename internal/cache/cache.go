// Package cache stores fetched deal batches per (strategy, category) so
// repeated scheduling ticks reuse upstream results instead of spending
// API tokens. Entries expire after a configurable TTL.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vucciaro/dealsbot/internal/models"
)

// DefaultTTL is the freshness window for a fetched batch.
const DefaultTTL = 6 * time.Hour

// Batch is a fetched sequence of deals plus its provenance. Stale is set
// when the batch was served past its TTL because a refresh attempt failed.
type Batch struct {
	Deals     []models.Deal
	FetchedAt time.Time
	Stale     bool
}

// FetchFunc performs the upstream API call on a cache miss.
type FetchFunc func(ctx context.Context, strategy models.Strategy, category models.Category) ([]models.Deal, error)

type entry struct {
	deals     []models.Deal
	fetchedAt time.Time
}

// Cache is safe for concurrent use. Concurrent misses on the same key are
// collapsed into a single upstream call.
type Cache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time
}

// New creates a Cache with the given TTL; a non-positive TTL falls back to
// DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func cacheKey(strategy models.Strategy, category models.Category) string {
	return string(strategy) + "/" + string(category)
}

// GetOrFetch returns the cached batch for (strategy, category) if it is
// still fresh, otherwise invokes fetch and stores the result. A failed
// fetch never overwrites a stored entry: if a stale entry exists it is
// returned flagged Stale, and only when no entry exists at all does the
// fetch error propagate.
func (c *Cache) GetOrFetch(ctx context.Context, strategy models.Strategy, category models.Category, fetch FetchFunc) (Batch, error) {
	key := cacheKey(strategy, category)

	if b, ok := c.fresh(key); ok {
		return b, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have refreshed the entry while we waited.
		if b, ok := c.fresh(key); ok {
			return b, nil
		}

		deals, fetchErr := fetch(ctx, strategy, category)
		if fetchErr != nil {
			if stale, ok := c.any(key); ok {
				slog.Warn("Upstream fetch failed, serving stale batch",
					"strategy", strategy, "category", category, "error", fetchErr)
				stale.Stale = true
				return stale, nil
			}
			return Batch{}, fmt.Errorf("fetch %s/%s: %w", strategy, category, fetchErr)
		}

		fetchedAt := c.now()
		c.mu.Lock()
		c.entries[key] = entry{deals: deals, fetchedAt: fetchedAt}
		c.mu.Unlock()
		return Batch{Deals: deals, FetchedAt: fetchedAt}, nil
	})
	if err != nil {
		return Batch{}, err
	}
	return v.(Batch), nil
}

// fresh returns the entry for key if it is within the TTL.
func (c *Cache) fresh(key string) (Batch, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return Batch{}, false
	}
	return Batch{Deals: e.deals, FetchedAt: e.fetchedAt}, true
}

// any returns the entry for key regardless of age.
func (c *Cache) any(key string) (Batch, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Batch{}, false
	}
	return Batch{Deals: e.deals, FetchedAt: e.fetchedAt}, true
}
