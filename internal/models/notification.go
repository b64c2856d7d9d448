package models

import (
	"time"
)

type NotificationType string

const (
	NotifySessionStatus       NotificationType = "session_status"
	NotifyVerificationPending NotificationType = "verification_pending"
	NotifyAlert               NotificationType = "alert"
	NotifySystem              NotificationType = "system"
)

type Notification struct {
	ID        string                 `db:"id"`
	TeamID    string                 `db:"team_id"`
	UserID    *string                `db:"user_id"`
	Type      NotificationType       `db:"type"`
	Title     string                 `db:"title"`
	Body      string                 `db:"body"`
	Severity  AlertSeverity          `db:"severity"`
	Read      bool                   `db:"read"`
	ReadAt    *time.Time             `db:"read_at"`
	Dismissed bool                   `db:"dismissed"`
	Metadata  map[string]interface{} `db:"metadata"`
	CreatedAt time.Time              `db:"created_at"`
}

// NotificationPreferences gates which notification types reach a user.
// Stored per (team, user) in the KV cache.
type NotificationPreferences struct {
	Enabled map[NotificationType]bool `json:"enabled"`
}

func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		Enabled: map[NotificationType]bool{
			NotifySessionStatus:       true,
			NotifyVerificationPending: true,
			NotifyAlert:               true,
			NotifySystem:              true,
		},
	}
}
