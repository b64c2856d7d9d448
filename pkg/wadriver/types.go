package wadriver

import (
	"context"
	"errors"
	"time"
)

// Driver errors. Callers map these onto their own error taxonomy.
var (
	ErrNotReady       = errors.New("driver is not ready")
	ErrNotInitialized = errors.New("driver is not initialized")
	ErrNoMedia        = errors.New("message has no media")
)

// EventType names the callbacks a driver can surface.
type EventType string

const (
	EventQR                    EventType = "qr"
	EventReady                 EventType = "ready"
	EventAuthenticated         EventType = "authenticated"
	EventAuthFailure           EventType = "auth_failure"
	EventDisconnected          EventType = "disconnected"
	EventMessage               EventType = "message"
	EventMessageCreate         EventType = "message_create"
	EventMessageAck            EventType = "message_ack"
	EventMessageRevokeEveryone EventType = "message_revoke_everyone"
	EventChangeState           EventType = "change_state"
	EventGroupJoin             EventType = "group_join"
	EventGroupLeave            EventType = "group_leave"
	EventGroupUpdate           EventType = "group_update"
	EventCall                  EventType = "call"
)

// State is the raw connection state of the protocol client.
type State string

const (
	StateConnected    State = "CONNECTED"
	StatePairing      State = "PAIRING"
	StateDisconnected State = "DISCONNECTED"
	StateUnpaired     State = "UNPAIRED"
)

// AckLevel mirrors WhatsApp delivery receipts.
type AckLevel int

const (
	AckError   AckLevel = -1
	AckPending AckLevel = 0
	AckServer  AckLevel = 1
	AckDevice  AckLevel = 2
	AckRead    AckLevel = 3
	AckPlayed  AckLevel = 4
)

// MessageID carries both the short id and the serialized form
// fromMe_chatJID_id used for cross-referencing.
type MessageID struct {
	ID         string `json:"id"`
	Serialized string `json:"serialized"`
}

// RawMessage is the driver-level message handed to event handlers, before
// canonicalization.
type RawMessage struct {
	ID            MessageID
	From          string
	To            string
	ChatID        string
	PushName      string
	Body          string
	Type          string
	Timestamp     int64 // seconds since epoch, driver-supplied
	FromMe        bool
	HasMedia      bool
	HasQuotedMsg  bool
	QuotedMsgID   string
	DeviceType    string
	Broadcast     bool
	IsForwarded   bool
	MentionedIDs  []string
	MediaMimeType string
	MediaSize     int64
	MediaFileName string

	// dl is the protocol-level downloadable payload, consumed by
	// DownloadMedia. Opaque outside this package.
	dl interface{}
}

// Ack is a delivery receipt for one message.
type Ack struct {
	MessageID MessageID
	ChatID    string
	Level     AckLevel
}

// Revocation signals a message deleted for everyone.
type Revocation struct {
	MessageID string
	ChatID    string
}

// CallInfo describes an incoming call offer.
type CallInfo struct {
	CallID string
	From   string
}

// GroupUpdate describes a group membership or metadata change.
type GroupUpdate struct {
	GroupJID string
	Action   string
}

// Media is a downloaded payload with its metadata.
type Media struct {
	Data     []byte
	MimeType string
	Size     int64
	FileName string
}

// SendResult reports a successful outbound send.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Info describes the authenticated WhatsApp account.
type Info struct {
	JID         string
	PhoneNumber string
	PushName    string
	Platform    string
}

// Contact is one address book entry from the device store.
type Contact struct {
	JID        string
	Name       string
	PushName   string
	IsBusiness bool
}

// Handler receives one event payload. The concrete type depends on the
// event: qr→string, ready→*Info, authenticated→string (JID),
// auth_failure→error, disconnected→string (reason), message(_create)→
// *RawMessage, message_ack→*Ack, message_revoke_everyone→*Revocation,
// change_state→State, call→*CallInfo, group_*→*GroupUpdate.
type Handler func(payload interface{})

// Driver is the WhatsApp protocol client contract. Implementations must
// deliver events for one session in the order the protocol produces them.
type Driver interface {
	// Initialize connects the underlying client. Idempotent; safe to call on
	// an already-initialized driver.
	Initialize(ctx context.Context) error

	On(event EventType, h Handler)
	Off(event EventType)

	// SendMessage sends a text message. Returns ErrNotReady when the driver
	// is not connected and logged in.
	SendMessage(ctx context.Context, to, body string) (*SendResult, error)

	// SendMedia uploads the payload and sends it as an image, video, audio
	// or document message depending on its MIME type.
	SendMedia(ctx context.Context, to string, media *Media, caption string) (*SendResult, error)

	// DownloadMedia fetches the media payload of a previously delivered
	// message. Returns ErrNoMedia for messages without media.
	DownloadMedia(ctx context.Context, msg *RawMessage) (*Media, error)

	GetState() State
	IsReady() bool
	GetInfo() (*Info, error)

	// GetContacts lists the device's address book. Available once the
	// session is authenticated.
	GetContacts(ctx context.Context) ([]Contact, error)

	// HealthCheck reports true iff the connection state is CONNECTED.
	HealthCheck(ctx context.Context) bool

	// Logout revokes the registration on the phone and tears down.
	Logout(ctx context.Context) error

	// Destroy tears down without revoking auth, so the session can resume.
	Destroy() error
}

// AuthStore persists opaque auth blobs between restarts. Extraction of the
// cryptographic session itself is driver-internal; the blob only carries
// what the driver needs to find its device again.
type AuthStore interface {
	Exists(ctx context.Context, sessionID string) (bool, error)
	Save(ctx context.Context, sessionID string, blob []byte) error
	Extract(ctx context.Context, sessionID string) ([]byte, error)
	Delete(ctx context.Context, sessionID string) error
}

// Options configures one driver instance.
type Options struct {
	SessionID         string
	JID               string // stored JID; when set the factory restores the existing device
	EnableGroupEvents bool
	EnableCallEvents  bool
}

// Factory creates drivers, one per session.
type Factory interface {
	NewDriver(ctx context.Context, opts Options) (Driver, error)
}
