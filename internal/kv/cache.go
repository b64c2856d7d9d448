package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the general-purpose cache over the shared KV client. Callers pass
// logical keys ("qr:abc", "metrics:response_time:team:...") and the cache
// namespaces them under the cache purpose.
type Cache struct {
	c *Client
}

func NewCache(c *Client) *Cache {
	return &Cache{c: c}
}

// Get returns the cached value and whether it was present. A missing key is
// not an error.
func (ch *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := ch.c.rdb.Get(ctx, ch.c.Key(PurposeCache, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache key: %w", err)
	}
	return val, true, nil
}

// GetJSON unmarshals the cached value into dest and reports whether the key
// was present.
func (ch *Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, ok, err := ch.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set stores a value with the given TTL. A non-positive TTL falls back to the
// client default.
func (ch *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ch.c.ttl
	}
	if err := ch.c.rdb.Set(ctx, ch.c.Key(PurposeCache, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

func (ch *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return ch.Set(ctx, key, string(data), ttl)
}

func (ch *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = ch.c.Key(PurposeCache, k)
	}
	if err := ch.c.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// DeletePattern removes all cache keys matching the logical pattern, e.g.
// "metrics:*:team-id:*". It scans rather than using KEYS so a large keyspace
// does not block the store.
func (ch *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	fullPattern := ch.c.Key(PurposeCache, pattern)
	var deleted int

	iter := ch.c.rdb.Scan(ctx, 0, fullPattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := ch.c.rdb.Del(ctx, batch...).Err(); err != nil {
				return deleted, fmt.Errorf("failed to delete matched keys: %w", err)
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(batch) > 0 {
		if err := ch.c.rdb.Del(ctx, batch...).Err(); err != nil {
			return deleted, fmt.Errorf("failed to delete matched keys: %w", err)
		}
		deleted += len(batch)
	}
	return deleted, nil
}

// GetOrSet returns the cached value, or fills the cache with the result of
// fill on a miss. Concurrent callers may race and fill twice; the work must
// be idempotent.
func (ch *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fill func(ctx context.Context) (string, error)) (string, error) {
	val, ok, err := ch.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return val, nil
	}

	val, err = fill(ctx)
	if err != nil {
		return "", err
	}
	if err := ch.Set(ctx, key, val, ttl); err != nil {
		return "", err
	}
	return val, nil
}
