package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO work queue on a Redis list: producers LPUSH, the consumer
// BRPOPs, so entries come out in arrival order.
type Queue struct {
	c   *Client
	key string
}

func NewQueue(c *Client, name string) *Queue {
	return &Queue{c: c, key: c.Key(PurposeQueue, name)}
}

func (q *Queue) Push(ctx context.Context, payload []byte) error {
	if err := q.c.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push to queue: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next entry. It returns nil with no error
// when the queue stayed empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.c.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return []byte(res[1]), nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.c.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

func (q *Queue) Clear(ctx context.Context) error {
	if err := q.c.rdb.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}
