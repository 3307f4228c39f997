package quota

import (
	"context"
	"sync"
	"time"

	"github.com/valinor-ai/haven/internal/entitlement"
)

// LimitCache holds resolved limit sets per store. Invalidate satisfies the
// synchronizer's limit-change listener.
type LimitCache interface {
	Get(ctx context.Context, storeID string) (entitlement.Limits, bool, error)
	Set(ctx context.Context, storeID string, limits entitlement.Limits) error
	Invalidate(ctx context.Context, storeID string) error
}

type memEntry struct {
	limits  entitlement.Limits
	expires time.Time
}

// MemoryLimitCache is a process-local LimitCache.
type MemoryLimitCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemoryLimitCache creates a cache whose entries live for ttl; a ttl of
// zero keeps entries until invalidated.
func NewMemoryLimitCache(ttl time.Duration) *MemoryLimitCache {
	return &MemoryLimitCache{ttl: ttl, entries: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryLimitCache) Get(_ context.Context, storeID string) (entitlement.Limits, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[storeID]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		delete(c.entries, storeID)
		return nil, false, nil
	}
	return entry.limits.Clone(), true, nil
}

func (c *MemoryLimitCache) Set(_ context.Context, storeID string, limits entitlement.Limits) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memEntry{limits: limits.Clone()}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}
	c.entries[storeID] = entry
	return nil
}

func (c *MemoryLimitCache) Invalidate(_ context.Context, storeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, storeID)
	return nil
}
