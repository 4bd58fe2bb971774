package registry

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// GrantChecker answers whether a user holds a grant on a service.
type GrantChecker interface {
	HasGrant(ctx context.Context, userID int64, serviceID string) (bool, error)
}

// CachedGrants wraps a GrantChecker with local TTL caching of check results.
// Denials use their own (usually shorter) TTL so a fresh approval shows up fast.
type CachedGrants struct {
	inner  GrantChecker
	ttl    time.Duration
	negTTL time.Duration

	mu    sync.Mutex
	cache map[string]grantEntry
	// gen is bumped by Forget and Clear. A lookup that started under an older
	// generation returns its answer without storing it.
	gen uint64
}

type grantEntry struct {
	allow   bool
	expires time.Time
}

func NewCachedGrants(inner GrantChecker, ttl, negTTL time.Duration) *CachedGrants {
	return &CachedGrants{inner: inner, ttl: ttl, negTTL: negTTL, cache: make(map[string]grantEntry)}
}

func grantKey(userID int64, serviceID string) string {
	return strconv.FormatInt(userID, 10) + "@" + serviceID
}

func (c *CachedGrants) HasGrant(ctx context.Context, userID int64, serviceID string) (bool, error) {
	k := grantKey(userID, serviceID)
	c.mu.Lock()
	ent, ok := c.cache[k]
	gen := c.gen
	c.mu.Unlock()
	if ok && time.Now().Before(ent.expires) {
		return ent.allow, nil
	}
	allow, err := c.inner.HasGrant(ctx, userID, serviceID)
	if err != nil {
		return false, err
	}
	ttl := c.ttl
	if !allow && c.negTTL > 0 {
		ttl = c.negTTL
	}
	c.mu.Lock()
	if c.gen == gen {
		c.cache[k] = grantEntry{allow: allow, expires: time.Now().Add(ttl)}
	}
	c.mu.Unlock()
	return allow, nil
}

// Forget drops the cached answer for one pair.
func (c *CachedGrants) Forget(userID int64, serviceID string) {
	c.mu.Lock()
	delete(c.cache, grantKey(userID, serviceID))
	c.gen++
	c.mu.Unlock()
}

// Clear resets all cache entries (used on write or external invalidation)
func (c *CachedGrants) Clear() {
	c.mu.Lock()
	c.cache = make(map[string]grantEntry)
	c.gen++
	c.mu.Unlock()
}
