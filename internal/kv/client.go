package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"whatslens/internal/constants"
	"whatslens/internal/models"
	"whatslens/internal/retry"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Key purposes. Every key is namespaced prefix:purpose:rest so unrelated
// subsystems sharing the store can never collide.
const (
	PurposeCache     = "cache"
	PurposeSession   = "session"
	PurposeRateLimit = "ratelimit"
	PurposeChannel   = "channel"
	PurposeQueue     = "queue"
)

// Client wraps the Redis connection shared by the cache, session store, rate
// limiter, pub/sub and queue components.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

// New connects to the KV store and pings it until it answers. Startup retries
// are linear (1s, 2s, 3s, ...) capped at one minute so a slow Redis container
// does not take the whole service down with it.
func New(ctx context.Context, cfg models.RedisConfig, logger *logrus.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = constants.DefaultRedisPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Duration(constants.DefaultRedisTTLSec) * time.Second
	}

	rdb := redis.NewClient(opts)

	backoff := retry.NewBackoff(retry.LinearBackoffConfig(
		time.Duration(constants.DefaultKVRetryBaseDelayMs)*time.Millisecond,
		time.Duration(constants.DefaultKVRetryMaxDelayMs)*time.Millisecond,
		constants.DefaultKVConnectAttempts,
	))
	if err := backoff.Retry(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if pingErr := rdb.Ping(pingCtx).Err(); pingErr != nil {
			logger.WithError(pingErr).Warn("KV store not reachable yet, will retry")
			return pingErr
		}
		return nil
	}); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to KV store: %w", err)
	}

	logger.WithField("prefix", prefix).Info("KV store connected")

	return &Client{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Key builds a fully qualified key: prefix:purpose:part1:part2:...
func (c *Client) Key(purpose string, parts ...string) string {
	elems := make([]string, 0, len(parts)+2)
	elems = append(elems, c.prefix, purpose)
	elems = append(elems, parts...)
	return strings.Join(elems, ":")
}

// DefaultTTL returns the configured fallback expiry for cached values.
func (c *Client) DefaultTTL() time.Duration {
	return c.ttl
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv health check failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
