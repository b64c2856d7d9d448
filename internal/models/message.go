package models

import (
	"time"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeLocation MessageType = "location"
	MessageTypeContact  MessageType = "contact"
	MessageTypePoll     MessageType = "poll"
	MessageTypeReaction MessageType = "reaction"
)

// Message is the canonical record produced by the message handler from a raw
// driver message. Immutable after insert except IsRead/ReadAt.
type Message struct {
	ID             string                 `db:"id"`
	TeamID         string                 `db:"team_id"`
	SessionID      string                 `db:"session_id"`
	ConversationID *string                `db:"conversation_id"`
	WAMessageID    string                 `db:"wa_message_id"`
	Direction      MessageDirection       `db:"direction"`
	FromPhone      string                 `db:"from_phone"`
	ToPhone        string                 `db:"to_phone"`
	ChatID         string                 `db:"chat_id"`
	Type           MessageType            `db:"type"`
	Body           *string                `db:"body"`
	MediaURL       *string                `db:"media_url"`
	MediaMimeType  *string                `db:"media_mime_type"`
	MediaSize      *int64                 `db:"media_size"`
	Caption        *string                `db:"caption"`
	QuotedMsgID    *string                `db:"quoted_msg_id"`
	Timestamp      time.Time              `db:"timestamp"`
	IsRead         bool                   `db:"is_read"`
	ReadAt         *time.Time             `db:"read_at"`
	Metadata       map[string]interface{} `db:"metadata"`
}

type SendMessageRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid4"`
	To        string `json:"to" validate:"required"`
	Body      string `json:"body" validate:"required_without=MediaURL"`
	// MediaURL accepts a data URL; the payload is decoded and uploaded
	// through the driver before the message goes out.
	MediaURL string `json:"mediaUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type MessageFilter struct {
	ChatID    string
	SessionID string
	Search    string
	Limit     int
	Offset    int
}
