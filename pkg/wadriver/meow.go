package wadriver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// MeowFactory builds drivers backed by whatsmeow. All sessions share one
// device store container; each driver owns its own device row in it.
type MeowFactory struct {
	container *sqlstore.Container
	logger    *logrus.Logger
}

// NewMeowFactory opens the whatsmeow device store on the given Postgres DSN.
func NewMeowFactory(ctx context.Context, dsn string, logger *logrus.Logger) (*MeowFactory, error) {
	container, err := sqlstore.New(ctx, "postgres", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	return &MeowFactory{container: container, logger: logger}, nil
}

// NewDriver creates a driver for one session. When opts.JID names a known
// device, the existing cryptographic session is restored and no QR scan is
// needed; otherwise a fresh device is allocated.
func (f *MeowFactory) NewDriver(ctx context.Context, opts Options) (Driver, error) {
	device := f.container.NewDevice()
	if opts.JID != "" {
		jid, err := types.ParseJID(opts.JID)
		if err != nil {
			return nil, fmt.Errorf("invalid stored JID %q: %w", opts.JID, err)
		}
		existing, err := f.container.GetDevice(ctx, jid)
		if err != nil || existing == nil {
			f.logger.WithError(err).WithField("jid", opts.JID).
				Warn("Stored device not found, session will pair from scratch")
		} else {
			device = existing
		}
	}

	client := whatsmeow.NewClient(device, nil)
	return &meowDriver{
		client:   client,
		opts:     opts,
		logger:   f.logger.WithField("sessionId", opts.SessionID),
		handlers: make(map[EventType]Handler),
	}, nil
}

func (f *MeowFactory) Close() error {
	return f.container.Close()
}

type meowDriver struct {
	client *whatsmeow.Client
	opts   Options
	logger *logrus.Entry

	mu       sync.RWMutex
	handlers map[EventType]Handler

	initMu      sync.Mutex
	initialized bool
	destroyed   bool
	handlerID   uint32
	qrCancel    context.CancelFunc
}

func (d *meowDriver) Initialize(ctx context.Context) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	if d.initialized {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The QR channel must be opened before Connect, and only for devices
	// that have never paired.
	if d.client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := d.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		d.qrCancel = cancel
		go d.pumpQR(qrChan)
	}

	d.handlerID = d.client.AddEventHandler(d.dispatch)

	if err := d.client.Connect(); err != nil {
		d.client.RemoveEventHandler(d.handlerID)
		if d.qrCancel != nil {
			d.qrCancel()
			d.qrCancel = nil
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	d.initialized = true
	return nil
}

func (d *meowDriver) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			d.emit(EventQR, item.Code)
		case "success":
			// PairSuccess and Connected carry the rest of the handshake.
		case "timeout":
			d.emit(EventAuthFailure, fmt.Errorf("qr scan timed out"))
		default:
			if item.Error != nil {
				d.emit(EventAuthFailure, item.Error)
			}
		}
	}
}

// dispatch translates whatsmeow events into the driver event vocabulary.
// Runs on whatsmeow's event loop, so per-session ordering is preserved.
func (d *meowDriver) dispatch(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		d.emit(EventAuthenticated, v.ID.String())
	case *events.PairError:
		d.emit(EventAuthFailure, v.Error)
	case *events.Connected:
		info, _ := d.GetInfo()
		d.emit(EventReady, info)
		d.emit(EventChangeState, StateConnected)
	case *events.Disconnected:
		d.emit(EventDisconnected, "connection closed")
		d.emit(EventChangeState, StateDisconnected)
	case *events.StreamReplaced:
		d.emit(EventDisconnected, "stream replaced by another client")
		d.emit(EventChangeState, StateDisconnected)
	case *events.LoggedOut:
		d.emit(EventAuthFailure, fmt.Errorf("logged out by phone: %v", v.Reason))
	case *events.ConnectFailure:
		d.emit(EventAuthFailure, fmt.Errorf("connect failure: %v", v.Reason))
	case *events.Message:
		d.handleMessage(v)
	case *events.Receipt:
		d.handleReceipt(v)
	case *events.CallOffer:
		if d.opts.EnableCallEvents {
			d.emit(EventCall, &CallInfo{CallID: v.CallID, From: v.From.String()})
		}
	case *events.JoinedGroup:
		if d.opts.EnableGroupEvents {
			d.emit(EventGroupJoin, &GroupUpdate{GroupJID: v.JID.String(), Action: "join"})
		}
	case *events.GroupInfo:
		if d.opts.EnableGroupEvents {
			d.emit(EventGroupUpdate, &GroupUpdate{GroupJID: v.JID.String(), Action: "update"})
		}
	}
}

func (d *meowDriver) handleMessage(evt *events.Message) {
	if pm := evt.Message.GetProtocolMessage(); pm != nil && pm.GetType() == waE2E.ProtocolMessage_REVOKE {
		d.emit(EventMessageRevokeEveryone, &Revocation{
			MessageID: pm.GetKey().GetID(),
			ChatID:    evt.Info.Chat.String(),
		})
		return
	}

	raw := mapMessage(evt, d.ownJID())
	if raw.FromMe {
		d.emit(EventMessageCreate, raw)
	} else {
		d.emit(EventMessage, raw)
	}
}

func (d *meowDriver) handleReceipt(evt *events.Receipt) {
	level := AckDevice
	switch evt.Type {
	case types.ReceiptTypeRead:
		level = AckRead
	case types.ReceiptTypePlayed:
		level = AckPlayed
	}

	chat := evt.Chat.String()
	for _, id := range evt.MessageIDs {
		d.emit(EventMessageAck, &Ack{
			// Receipts arrive for messages this account sent.
			MessageID: MessageID{ID: id, Serialized: fmt.Sprintf("true_%s_%s", chat, id)},
			ChatID:    chat,
			Level:     level,
		})
	}
}

func (d *meowDriver) emit(event EventType, payload interface{}) {
	d.mu.RLock()
	h := d.handlers[event]
	d.mu.RUnlock()
	if h != nil {
		h(payload)
	}
}

func (d *meowDriver) On(event EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = h
}

func (d *meowDriver) Off(event EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, event)
}

func (d *meowDriver) SendMessage(ctx context.Context, to, body string) (*SendResult, error) {
	if !d.IsReady() {
		return nil, ErrNotReady
	}

	jid, err := parseRecipient(to)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (d *meowDriver) SendMedia(ctx context.Context, to string, media *Media, caption string) (*SendResult, error) {
	if !d.IsReady() {
		return nil, ErrNotReady
	}
	if media == nil || len(media.Data) == 0 {
		return nil, ErrNoMedia
	}

	jid, err := parseRecipient(to)
	if err != nil {
		return nil, err
	}

	uploaded, err := d.client.Upload(ctx, media.Data, uploadKind(media.MimeType))
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	msg := buildMediaMessage(media, caption, uploaded)
	resp, err := d.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send media message: %w", err)
	}

	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func uploadKind(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// buildMediaMessage wraps an uploaded payload in the protocol message type
// matching its MIME class.
func buildMediaMessage(media *Media, caption string, up whatsmeow.UploadResponse) *waE2E.Message {
	size := uint64(len(media.Data))
	switch uploadKind(media.MimeType) {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(media.MimeType),
			Caption:       proto.String(caption),
		}}
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(media.MimeType),
			Caption:       proto.String(caption),
		}}
	case whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(media.MimeType),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(media.MimeType),
			FileName:      proto.String(media.FileName),
			Caption:       proto.String(caption),
		}}
	}
}

func (d *meowDriver) DownloadMedia(ctx context.Context, msg *RawMessage) (*Media, error) {
	if msg == nil || msg.dl == nil {
		return nil, ErrNoMedia
	}
	dl, ok := msg.dl.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, ErrNoMedia
	}

	data, err := d.client.Download(ctx, dl)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}

	return &Media{
		Data:     data,
		MimeType: msg.MediaMimeType,
		Size:     int64(len(data)),
		FileName: msg.MediaFileName,
	}, nil
}

func (d *meowDriver) GetState() State {
	switch {
	case d.client.IsConnected() && d.client.IsLoggedIn():
		return StateConnected
	case d.client.IsConnected():
		return StatePairing
	case d.client.Store.ID == nil:
		return StateUnpaired
	default:
		return StateDisconnected
	}
}

func (d *meowDriver) IsReady() bool {
	return d.client.IsConnected() && d.client.IsLoggedIn()
}

func (d *meowDriver) GetInfo() (*Info, error) {
	id := d.client.Store.ID
	if id == nil {
		return nil, ErrNotReady
	}
	return &Info{
		JID:         id.String(),
		PhoneNumber: id.User,
		PushName:    d.client.Store.PushName,
		Platform:    d.client.Store.Platform,
	}, nil
}

func (d *meowDriver) GetContacts(ctx context.Context) ([]Contact, error) {
	if d.client.Store.ID == nil {
		return nil, ErrNotReady
	}
	entries, err := d.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}

	contacts := make([]Contact, 0, len(entries))
	for jid, info := range entries {
		if !info.Found {
			continue
		}
		contacts = append(contacts, Contact{
			JID:        jid.String(),
			Name:       info.FullName,
			PushName:   info.PushName,
			IsBusiness: info.BusinessName != "",
		})
	}
	return contacts, nil
}

func (d *meowDriver) HealthCheck(_ context.Context) bool {
	return d.GetState() == StateConnected
}

func (d *meowDriver) Logout(ctx context.Context) error {
	err := d.client.Logout(ctx)
	d.teardown()
	if err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

func (d *meowDriver) Destroy() error {
	d.teardown()
	return nil
}

func (d *meowDriver) teardown() {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	if d.destroyed {
		return
	}
	d.destroyed = true
	d.initialized = false

	if d.handlerID != 0 {
		d.client.RemoveEventHandler(d.handlerID)
		d.handlerID = 0
	}
	if d.qrCancel != nil {
		d.qrCancel()
		d.qrCancel = nil
	}
	d.client.Disconnect()
}

func (d *meowDriver) ownJID() string {
	if id := d.client.Store.ID; id != nil {
		return id.String()
	}
	return ""
}
