package health

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Cache memoizes probe results per service id.
type Cache interface {
	Get(ctx context.Context, serviceID string) (Result, bool)
	Put(ctx context.Context, r Result)
	Invalidate(ctx context.Context, serviceID string)
}

// StatusCache is the in-process Cache. Entries expire after TTL.
type StatusCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedResult
}

type cachedResult struct {
	res     Result
	expires time.Time
}

func NewStatusCache(ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &StatusCache{ttl: ttl, now: time.Now, entries: make(map[string]cachedResult)}
}

func (c *StatusCache) Get(_ context.Context, serviceID string) (Result, bool) {
	c.mu.RLock()
	ent, ok := c.entries[serviceID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(ent.expires) {
		return Result{}, false
	}
	return ent.res, true
}

func (c *StatusCache) Put(_ context.Context, r Result) {
	c.mu.Lock()
	c.entries[r.ServiceID] = cachedResult{res: r, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *StatusCache) Invalidate(_ context.Context, serviceID string) {
	c.mu.Lock()
	delete(c.entries, serviceID)
	c.mu.Unlock()
}

// RedisStatusCache shares results between replicas. Redis errors degrade to
// cache misses.
type RedisStatusCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStatusCache(rdb *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisStatusCache{rdb: rdb, ttl: ttl, prefix: "portal:status:"}
}

func (c *RedisStatusCache) Get(ctx context.Context, serviceID string) (Result, bool) {
	b, err := c.rdb.Get(ctx, c.prefix+serviceID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Debug("status cache: redis get failed")
		}
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return Result{}, false
	}
	return r, true
}

func (c *RedisStatusCache) Put(ctx context.Context, r Result) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+r.ServiceID, b, c.ttl).Err(); err != nil {
		log.WithError(err).Debug("status cache: redis set failed")
	}
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, serviceID string) {
	if err := c.rdb.Del(ctx, c.prefix+serviceID).Err(); err != nil {
		log.WithError(err).Warn("status cache: redis delete failed")
	}
}
