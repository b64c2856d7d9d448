package kv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitResult reports a single admission decision.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter implements a sliding-window limiter on a sorted set: each
// request is a member scored by its arrival time, and the window is enforced
// by trimming members older than (now - window) before counting.
type RateLimiter struct {
	c *Client
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// Allow records one request against the key and reports whether it fits the
// limit for the window. Keys are logical ("team:abc:api"); callers choose the
// granularity.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	if limit <= 0 {
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(window)}, nil
	}

	now := time.Now()
	k := r.c.Key(PurposeRateLimit, key)
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := r.c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", cutoff)
	countCmd := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to trim rate limit window: %w", err)
	}

	count := int(countCmd.Val())
	if count >= limit {
		// The window frees up when the oldest remaining entry ages out.
		resetAt := now.Add(window)
		if oldest, err := r.c.rdb.ZRangeWithScores(ctx, k, 0, 0).Result(); err == nil && len(oldest) > 0 {
			resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
		}
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	pipe = r.c.rdb.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, k, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to record rate limit entry: %w", err)
	}

	return RateLimitResult{
		Allowed:   true,
		Remaining: limit - count - 1,
		ResetAt:   now.Add(window),
	}, nil
}
