package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// Deduper answers "is this the first time we see key?" across the window.
type Deduper interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RedisDeduper struct {
	rdb *redis.Client
}

func NewRedisDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe %s: %w", key, err)
	}
	return ok, nil
}

// LRUDeduper bounds memory by evicting the oldest keys. An evicted key may
// be seen as new again, which only costs a duplicate preview job.
type LRUDeduper struct {
	mu    sync.Mutex
	now   func() time.Time
	cache *lru.Cache
}

func NewLRUDeduper(size int, now func() time.Time) (*LRUDeduper, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &LRUDeduper{now: now, cache: c}, nil
}

func (d *LRUDeduper) FirstSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if v, ok := d.cache.Get(key); ok {
		if now.Before(v.(time.Time)) {
			return false, nil
		}
	}
	d.cache.Add(key, now.Add(ttl))
	return true, nil
}
