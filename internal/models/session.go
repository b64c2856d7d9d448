package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusAuthenticating SessionStatus = "authenticating"
	SessionStatusActive         SessionStatus = "active"
	SessionStatusReconnecting   SessionStatus = "reconnecting"
	SessionStatusDisconnected   SessionStatus = "disconnected"
	SessionStatusFailed         SessionStatus = "failed"
)

// Live reports whether a session in this status still occupies the team's
// single-connected-session slot.
func (s SessionStatus) Live() bool {
	switch s {
	case SessionStatusAuthenticating, SessionStatusActive, SessionStatusReconnecting:
		return true
	default:
		return false
	}
}

type Session struct {
	ID          string        `db:"id"`
	TeamID      string        `db:"team_id"`
	Name        string        `db:"name"`
	PhoneNumber *string       `db:"phone_number"`
	Status      SessionStatus `db:"status"`
	QRCode      *string       `db:"qr_code"`
	LastSeenAt  *time.Time    `db:"last_seen_at"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
	DeletedAt   *time.Time    `db:"deleted_at"`
}

// QRCodePayload is the wire shape of GET /sessions/{id}/qr: the raw code for
// driver-side pairing plus a rendered PNG for browsers.
type QRCodePayload struct {
	SessionID string    `json:"sessionId"`
	Code      string    `json:"code"`
	ImagePNG  string    `json:"imagePng,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateSessionRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=120"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
}

type SessionHealth struct {
	SessionID string        `json:"sessionId"`
	TeamID    string        `json:"teamId"`
	Status    SessionStatus `json:"status"`
	Healthy   bool          `json:"healthy"`
	LastSeen  time.Time     `json:"lastSeen"`
}
