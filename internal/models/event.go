package models

import (
	"time"
)

// Event is an append-only observability record. Rows older than the
// retention window are purged once processed.
type Event struct {
	ID              string                 `db:"id"`
	TeamID          string                 `db:"team_id"`
	SessionID       string                 `db:"session_id"`
	Type            string                 `db:"type"`
	Data            map[string]interface{} `db:"data"`
	Timestamp       time.Time              `db:"timestamp"`
	Processed       bool                   `db:"processed"`
	ProcessedAt     *time.Time             `db:"processed_at"`
	SentToAnalytics bool                   `db:"sent_to_analytics"`
}

// EventEnvelope is the self-describing shape queued on whatsapp:events and
// published on team channels. Tenant carries the originating context so the
// batch writer can restore row-level scoping.
type EventEnvelope struct {
	Tenant    TenantContext          `json:"tenant"`
	EventID   string                 `json:"eventId"`
	SessionID string                 `json:"sessionId"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// BusMessage is the payload published to subscribers on team:{teamId} and
// realtime:{teamId} channels.
type BusMessage struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId,omitempty"`
	EventType string                 `json:"eventType,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
