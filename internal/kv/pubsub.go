package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one pub/sub delivery. Channel carries the logical name with the
// store prefix already stripped.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription wraps a live pub/sub consumer. Close it to release the
// connection; the Messages channel closes shortly after.
type Subscription struct {
	messages <-chan Message
	close    func() error
}

func (s *Subscription) Messages() <-chan Message {
	return s.messages
}

func (s *Subscription) Close() error {
	return s.close()
}

// Publish sends a payload to a logical channel ("team:abc", "realtime:abc").
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, c.Key(PurposeChannel, channel), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a consumer on one or more logical channels. Channel names
// ending in "*" subscribe by pattern. go-redis keeps SUBSCRIBE and PSUBSCRIBE
// on separate consumers, so mixed channel lists use two connections fanned in
// to a single message stream.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	var plain, patterns []string
	for _, ch := range channels {
		full := c.Key(PurposeChannel, ch)
		if strings.HasSuffix(ch, "*") {
			patterns = append(patterns, full)
		} else {
			plain = append(plain, full)
		}
	}

	out := make(chan Message, 64)
	strip := c.Key(PurposeChannel, "")

	var wg sync.WaitGroup
	var closers []func() error

	pump := func(in <-chan *redis.Message) {
		defer wg.Done()
		for m := range in {
			select {
			case out <- Message{Channel: strings.TrimPrefix(m.Channel, strip), Payload: []byte(m.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}

	closeAll := func() error {
		var firstErr error
		for _, cl := range closers {
			if err := cl(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	if len(plain) > 0 {
		ps := c.rdb.Subscribe(ctx, plain...)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			_ = closeAll()
			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}
		closers = append(closers, ps.Close)
		wg.Add(1)
		go pump(ps.Channel())
	}
	if len(patterns) > 0 {
		ps := c.rdb.PSubscribe(ctx, patterns...)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			_ = closeAll()
			return nil, fmt.Errorf("failed to subscribe by pattern: %w", err)
		}
		closers = append(closers, ps.Close)
		wg.Add(1)
		go pump(ps.Channel())
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return &Subscription{messages: out, close: closeAll}, nil
}
