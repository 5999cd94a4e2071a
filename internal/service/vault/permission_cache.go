package vault

import (
	"context"
	"sync"
	"time"

	models "filevault/internal/domain/models/vault"

	"golang.org/x/sync/singleflight"
)

const maxCacheEntries = 10000

// capabilityLoader computes a subject's effective set. validUntil is the
// earliest expiry among the rows that contributed, zero when none expires.
type capabilityLoader func(ctx context.Context) (caps models.Capability, validUntil time.Time, err error)

type cacheEntry struct {
	caps      models.Capability
	expiresAt time.Time
}

// permissionCache memoizes effective capability sets per (file, subject).
// Writers invalidate synchronously before returning. A load that started
// before an invalidation is never stored, and invalidate detaches the key
// from singleflight so later callers cannot join a stale load.
type permissionCache struct {
	ttl   time.Duration
	clock Clock

	mu         sync.Mutex
	entries    map[string]cacheEntry
	generation uint64

	group singleflight.Group
}

func newPermissionCache(ttl time.Duration, clock Clock) *permissionCache {
	return &permissionCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(fileID string, subject models.Subject) string {
	return fileID + "|" + subject.Key()
}

// get returns the cached set or loads it. hit reports a cache hit.
func (c *permissionCache) get(ctx context.Context, fileID string, subject models.Subject, load capabilityLoader) (models.Capability, bool, error) {
	if c.ttl <= 0 {
		caps, _, err := load(ctx)
		return caps, false, err
	}

	key := cacheKey(fileID, subject)
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.clock.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.caps, true, nil
	}
	gen := c.generation
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		caps, validUntil, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, gen, caps, validUntil)
		return caps, nil
	})
	if err != nil {
		return models.CapNone, false, err
	}
	return v.(models.Capability), false, nil
}

func (c *permissionCache) store(key string, gen uint64, caps models.Capability, validUntil time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return
	}
	now := c.clock.Now()
	expiresAt := now.Add(c.ttl)
	if !validUntil.IsZero() && validUntil.Before(expiresAt) {
		expiresAt = validUntil
	}
	if len(c.entries) >= maxCacheEntries {
		c.pruneLocked(now)
	}
	c.entries[key] = cacheEntry{caps: caps, expiresAt: expiresAt}
}

// invalidate drops the entry for (file, subject)
func (c *permissionCache) invalidate(fileID string, subject models.Subject) {
	key := cacheKey(fileID, subject)
	c.mu.Lock()
	c.generation++
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

func (c *permissionCache) pruneLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= maxCacheEntries {
		clear(c.entries)
	}
}

func (c *permissionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
