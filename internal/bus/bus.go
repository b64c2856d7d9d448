package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"whatslens/internal/kv"

	"github.com/sirupsen/logrus"
)

// Event types carried on the bus.
const (
	EventMessageReceived     = "message_received"
	EventMessageSent         = "message_sent"
	EventMessageAck          = "message_ack"
	EventSessionStatus       = "session_status"
	EventQRUpdated           = "qr_updated"
	EventConversationUpdated = "conversation_updated"
	EventCorrelationCreated  = "correlation_created"
	EventCorrelationVerified = "correlation_verified"
	EventConversionRecorded  = "conversion_recorded"
	EventNotificationCreated = "notification_created"
	EventAlertRaised         = "alert_raised"
)

// TeamChannel is the per-team domain event channel.
func TeamChannel(teamID string) string { return "team:" + teamID }

// RealtimeChannel carries live metric snapshots and alerts for dashboards.
func RealtimeChannel(teamID string) string { return "realtime:" + teamID }

// Envelope is the wire format for every bus event.
type Envelope struct {
	Type      string          `json:"type"`
	TeamID    string          `json:"teamId"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into dest.
func (e *Envelope) Decode(dest interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope has no payload")
	}
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Stream is a live subscription feed.
type Stream interface {
	Messages() <-chan kv.Message
	Close() error
}

// Transport moves raw bytes between publishers and subscribers. The KV store
// implements it in production; tests swap in an in-memory one.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Stream, error)
}

type kvTransport struct {
	c *kv.Client
}

func (t kvTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.c.Publish(ctx, channel, payload)
}

func (t kvTransport) Subscribe(ctx context.Context, channels ...string) (Stream, error) {
	return t.c.Subscribe(ctx, channels...)
}

// Bus distributes domain events between the pipeline, the realtime metrics
// service and the websocket hub. Delivery is at-most-once fan-out; anything
// that must survive a restart goes through the event store, not the bus.
type Bus struct {
	transport Transport
	logger    *logrus.Logger
}

func New(c *kv.Client, logger *logrus.Logger) *Bus {
	return &Bus{transport: kvTransport{c: c}, logger: logger}
}

// NewWithTransport wires a custom transport.
func NewWithTransport(t Transport, logger *logrus.Logger) *Bus {
	return &Bus{transport: t, logger: logger}
}

func (b *Bus) publish(ctx context.Context, channel string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.transport.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}
	return nil
}

// PublishTeam emits a domain event on the team channel.
func (b *Bus) PublishTeam(ctx context.Context, teamID, eventType, sessionID string, payload interface{}) error {
	env, err := buildEnvelope(eventType, teamID, sessionID, payload)
	if err != nil {
		return err
	}
	return b.publish(ctx, TeamChannel(teamID), env)
}

// PublishRealtime emits a live snapshot or alert on the realtime channel.
func (b *Bus) PublishRealtime(ctx context.Context, teamID, eventType string, payload interface{}) error {
	env, err := buildEnvelope(eventType, teamID, "", payload)
	if err != nil {
		return err
	}
	return b.publish(ctx, RealtimeChannel(teamID), env)
}

func buildEnvelope(eventType, teamID, sessionID string, payload interface{}) (Envelope, error) {
	env := Envelope{
		Type:      eventType,
		TeamID:    teamID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Consumer decodes envelopes off one or more channels. Malformed messages are
// logged and skipped so one bad publisher cannot wedge every subscriber.
type Consumer struct {
	stream Stream
	events chan Envelope
}

// Subscribe opens a consumer. Channel names ending in "*" subscribe by
// pattern ("team:*" receives every team's events).
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (*Consumer, error) {
	stream, err := b.transport.Subscribe(ctx, channels...)
	if err != nil {
		return nil, fmt.Errorf("failed to open bus subscription: %w", err)
	}

	c := &Consumer{
		stream: stream,
		events: make(chan Envelope, 64),
	}

	go func() {
		defer close(c.events)
		for msg := range stream.Messages() {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				b.logger.WithError(err).WithField("channel", msg.Channel).
					Warn("Dropping malformed bus message")
				continue
			}
			select {
			case c.events <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return c, nil
}

func (c *Consumer) Events() <-chan Envelope {
	return c.events
}

func (c *Consumer) Close() error {
	return c.stream.Close()
}
