package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// generationTTL outlives any single recompute by a wide margin. A
// generation key that expires mid-recompute only costs one skipped write.
const generationTTL = time.Hour

// Lookup is the result of UnreadCache.Get. On a miss, Generation must be
// handed back to SetIfUnchanged.
type Lookup struct {
	Count      int64
	Hit        bool
	Generation int64
}

// UnreadCache stores computed unread counts. Callers must treat errors as
// misses; the cache is never authoritative.
//
// Every Delete bumps the key's generation. SetIfUnchanged only stores a
// count if no Delete happened since the Get that produced its generation,
// so a recompute that raced an invalidation cannot overwrite the fresher
// value.
type UnreadCache interface {
	Get(ctx context.Context, key string) (Lookup, error)
	SetIfUnchanged(ctx context.Context, key string, generation, count int64, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

func generationKey(key string) string { return key + ":gen" }

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[1].
// A missing generation key counts as 0.
var setIfGeneration = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if not cur then cur = '0' end
if cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type RedisUnreadCache struct {
	rdb *redis.Client
}

func NewRedisUnreadCache(rdb *redis.Client) *RedisUnreadCache {
	return &RedisUnreadCache{rdb: rdb}
}

// Get reads the count and its generation in one round trip.
func (c *RedisUnreadCache) Get(ctx context.Context, key string) (Lookup, error) {
	vals, err := c.rdb.MGet(ctx, key, generationKey(key)).Result()
	if err != nil {
		return Lookup{}, fmt.Errorf("get unread %s: %w", key, err)
	}

	var l Lookup
	if s, ok := vals[1].(string); ok {
		if l.Generation, err = strconv.ParseInt(s, 10, 64); err != nil {
			return Lookup{}, fmt.Errorf("parse generation of %s: %w", key, err)
		}
	}
	s, ok := vals[0].(string)
	if !ok {
		return l, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Garbage under our key; drop it and recompute.
		_ = c.rdb.Del(ctx, key).Err()
		return l, nil
	}
	l.Count, l.Hit = n, true
	return l, nil
}

func (c *RedisUnreadCache) SetIfUnchanged(ctx context.Context, key string, generation, count int64, ttl time.Duration) (bool, error) {
	stored, err := setIfGeneration.Run(ctx, c.rdb,
		[]string{key, generationKey(key)},
		strconv.FormatInt(generation, 10), count, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set unread %s: %w", key, err)
	}
	return stored == 1, nil
}

// Delete bumps each key's generation and drops the cached count in one
// transaction.
func (c *RedisUnreadCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, generationKey(k))
			pipe.Expire(ctx, generationKey(k), generationTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete unread: %w", err)
	}
	return nil
}

// NoopUnreadCache is selected when redis is not configured. Every read is a
// miss, so counts are always computed from the database.
type NoopUnreadCache struct{}

func (NoopUnreadCache) Get(context.Context, string) (Lookup, error) { return Lookup{}, nil }

func (NoopUnreadCache) SetIfUnchanged(context.Context, string, int64, int64, time.Duration) (bool, error) {
	return false, nil
}

func (NoopUnreadCache) Delete(context.Context, ...string) error { return nil }
