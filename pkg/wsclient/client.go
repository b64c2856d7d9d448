package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"whatslens/pkg/constants"
)

// Event mirrors the server's wire envelope.
type Event struct {
	Type      string          `json:"type"`
	TeamID    string          `json:"teamId"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into dest.
func (e *Event) Decode(dest interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event has no payload")
	}
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Options tunes reconnection and queue behavior. Zero values fall back to
// the package defaults.
type Options struct {
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	ReconnectionAttempts int
	QueueCap             int
	PingInterval         time.Duration
}

// Client maintains a resilient connection to the realtime endpoint. It
// dials, pumps events to registered handlers, and redials with exponential
// backoff when the link drops. Outbound sends are queued locally and survive
// a reconnect; delivery is best effort, like the bus it fronts.
type Client struct {
	url    string
	token  string
	opts   Options
	logger *logrus.Logger

	mu        sync.Mutex
	handlers  []func(Event)
	queue     [][]byte
	connected bool
	closed    bool
	cancel    context.CancelFunc

	ctx  context.Context
	kick chan struct{}
	done chan struct{}
}

func New(url, token string, opts *Options) *Client {
	return NewWithLogger(url, token, opts, nil)
}

func NewWithLogger(url, token string, opts *Options, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.ReconnectionDelay <= 0 {
		o.ReconnectionDelay = constants.WSReconnectDelay
	}
	if o.ReconnectionDelayMax <= 0 {
		o.ReconnectionDelayMax = constants.WSReconnectDelayMax
	}
	if o.ReconnectionAttempts <= 0 {
		o.ReconnectionAttempts = constants.WSReconnectAttempts
	}
	if o.QueueCap <= 0 {
		o.QueueCap = constants.WSClientQueueCap
	}
	if o.PingInterval <= 0 {
		o.PingInterval = constants.WSPingInterval
	}

	return &Client{
		url:    url,
		token:  token,
		opts:   o,
		logger: logger,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// OnEvent registers a handler invoked for every decoded server event.
// Handlers run on the read goroutine, so they must not block.
func (c *Client) OnEvent(handler func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect dials the endpoint and starts the session loop. The first dial is
// synchronous so bad configuration fails fast; later drops reconnect in the
// background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	conn, err := c.dial(c.ctx)
	if err != nil {
		c.mu.Lock()
		c.cancel()
		c.cancel = nil
		c.mu.Unlock()
		return err
	}

	go c.run(conn)
	return nil
}

// Connected reports whether a live session exists right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send queues an event for delivery. When the queue is at capacity the
// oldest entry is dropped so fresh events win.
func (c *Client) Send(eventType string, payload interface{}) error {
	event := Event{Type: eventType, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		event.Payload = data
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if len(c.queue) >= c.opts.QueueCap {
		c.queue = c.queue[1:]
		c.logger.Warn("Send queue full, dropping oldest event")
	}
	c.queue = append(c.queue, data)
	c.mu.Unlock()

	c.kickFlush()
	return nil
}

// Close stops the session loop and waits for it to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for client shutdown")
	}
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)

	for {
		err := c.session(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.WithError(err).Warn("Connection lost")

		next, ok := c.reconnect()
		if !ok {
			c.logger.Error("Reconnection attempts exhausted, giving up")
			return
		}
		conn = next
	}
}

// session owns one live connection: the read loop runs here, heartbeats and
// queue flushing run alongside, and any failure tears the whole session down
// through the shared cancel.
func (c *Client) session(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	conn.SetReadLimit(constants.WSMaxMessageSize)
	c.setConnected(true)
	defer c.setConnected(false)

	go c.heartbeat(ctx, cancel, conn)
	go c.flushLoop(ctx, cancel, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) heartbeat(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, constants.WSWriteWait)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				c.logger.WithError(err).Debug("Heartbeat failed")
				cancel()
				return
			}
		}
	}
}

func (c *Client) flushLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	for {
		for {
			data, ok := c.pop()
			if !ok {
				break
			}
			wctx, wcancel := context.WithTimeout(ctx, constants.WSWriteWait)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				c.logger.WithError(err).Warn("Write failed, recycling connection")
				cancel()
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}
	}
}

// reconnect dials with exponential backoff. The delay doubles per attempt
// from the base, capped at the max; a successful dial resets the sequence.
func (c *Client) reconnect() (*websocket.Conn, bool) {
	for attempt := 0; attempt < c.opts.ReconnectionAttempts; attempt++ {
		delay := c.backoff(attempt)
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).Info("Reconnecting")

		select {
		case <-c.ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Reconnect dial failed")
			continue
		}
		return conn, true
	}
	return nil, false
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.opts.ReconnectionDelay << attempt
	if delay <= 0 || delay > c.opts.ReconnectionDelayMax {
		delay = c.opts.ReconnectionDelayMax
	}
	return delay
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, constants.WSHandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Client) dispatch(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.WithError(err).Debug("Dropping malformed event")
		return
	}

	c.mu.Lock()
	handlers := make([]func(Event), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (c *Client) pop() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	data := c.queue[0]
	c.queue = c.queue[1:]
	return data, true
}

func (c *Client) kickFlush() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
