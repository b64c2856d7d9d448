package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/models"
	"whatslens/pkg/wadriver"
)

// MessageStore is the message persistence surface the handler writes to.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) (bool, error)
	UpsertConversationOnMessage(ctx context.Context, teamID, contactPhone string, contactName *string, messageAt time.Time, inbound bool) (string, error)
}

// ContactUpserter records the remote party of a message.
type ContactUpserter interface {
	UpsertFromMessage(ctx context.Context, phone, pushName string, isGroup bool) error
}

// Correlator receives inbound messages for identity correlation. Runs
// asynchronously; correlation failures never affect message storage.
type Correlator interface {
	CorrelateMessage(tenant models.TenantContext, msg *models.Message)
}

// MessageHandler canonicalizes raw driver messages and persists them. It is
// stateless; every dependency is injected.
type MessageHandler struct {
	store      MessageStore
	contacts   ContactUpserter
	events     EventSink
	bus        Publisher
	correlator Correlator
	logger     *logrus.Logger

	mediaTimeout time.Duration
}

func NewMessageHandler(store MessageStore, contacts ContactUpserter, events EventSink, publisher Publisher, logger *logrus.Logger) *MessageHandler {
	return &MessageHandler{
		store:        store,
		contacts:     contacts,
		events:       events,
		bus:          publisher,
		logger:       logger,
		mediaTimeout: 30 * time.Second,
	}
}

// SetCorrelator wires the correlation engine. Optional; without it inbound
// messages are stored but never matched.
func (h *MessageHandler) SetCorrelator(c Correlator) {
	h.correlator = c
}

// HandleRaw converts one driver message into the canonical record, threads
// it into its conversation and stores it. Duplicates (same wa_message_id)
// are dropped silently. Media download failures degrade to a metadata-only
// record.
func (h *MessageHandler) HandleRaw(ctx context.Context, tenant models.TenantContext, sessionID string, raw *wadriver.RawMessage, media MediaFetcher) {
	msg := Canonicalize(tenant.TeamID, sessionID, raw)
	log := h.logger.WithFields(logrus.Fields{
		LogFieldSession:   sessionID,
		LogFieldTeam:      tenant.TeamID,
		LogFieldDirection: string(msg.Direction),
	})

	if raw.HasMedia && media != nil {
		h.attachMediaMetadata(ctx, msg, raw, media, log)
	}

	contactPhone := remotePhone(msg)
	isGroup := strings.Contains(msg.ChatID, "@g.us")

	var contactName *string
	if raw.PushName != "" {
		name := raw.PushName
		contactName = &name
	}

	conversationID, err := h.store.UpsertConversationOnMessage(ctx, tenant.TeamID, contactPhone, contactName, msg.Timestamp, msg.Direction == models.DirectionInbound)
	if err != nil {
		log.WithError(err).Error("Failed to thread message into conversation")
	} else if conversationID != "" {
		msg.ConversationID = &conversationID
	}

	inserted, err := h.store.SaveMessage(ctx, msg)
	if err != nil {
		log.WithError(err).Error("Failed to store message")
		return
	}
	if !inserted {
		log.WithField(LogFieldMessageID, msg.WAMessageID).Debug("Duplicate message dropped")
		return
	}

	LogMessageStored(ctx, h.logger, messageLogInfo{
		Type:        string(msg.Type),
		Direction:   string(msg.Direction),
		SessionID:   sessionID,
		ChatID:      msg.ChatID,
		WAMessageID: msg.WAMessageID,
	})

	if h.contacts != nil {
		if err := h.contacts.UpsertFromMessage(ctx, contactPhone, raw.PushName, isGroup); err != nil {
			log.WithError(err).Warn("Failed to upsert contact")
		}
	}

	busType := "message_received"
	eventType := "message_received"
	if msg.Direction == models.DirectionOutbound {
		busType = "message_sent"
		eventType = "message_sent"
	}

	if err := h.bus.PublishTeam(ctx, tenant.TeamID, busType, sessionID, messagePayload(msg)); err != nil {
		log.WithError(err).Warn("Failed to publish message event")
	}
	if h.events != nil {
		if err := h.events.Enqueue(ctx, tenant, sessionID, eventType, map[string]interface{}{
			"messageId": msg.ID,
			"chatId":    msg.ChatID,
			"type":      string(msg.Type),
		}); err != nil {
			log.WithError(err).Warn("Failed to enqueue message event")
		}
	}

	if h.correlator != nil && msg.Direction == models.DirectionInbound && !isGroup {
		h.correlator.CorrelateMessage(tenant, msg)
	}
}

// HandleAck forwards delivery receipts to subscribers and the event
// pipeline. Acks are not persisted on the message row.
func (h *MessageHandler) HandleAck(ctx context.Context, tenant models.TenantContext, sessionID string, ack *wadriver.Ack) {
	waID := ack.MessageID.Serialized
	if waID == "" {
		waID = ack.MessageID.ID
	}
	data := map[string]interface{}{
		"messageId": waID,
		"chatId":    ack.ChatID,
		"ack":       int(ack.Level),
	}
	if err := h.bus.PublishRealtime(ctx, tenant.TeamID, "message_ack", data); err != nil {
		h.logger.WithError(err).WithField(LogFieldSession, sessionID).Debug("Failed to publish ack")
	}
	if h.events != nil {
		if err := h.events.Enqueue(ctx, tenant, sessionID, "message_ack", data); err != nil {
			h.logger.WithError(err).WithField(LogFieldSession, sessionID).Debug("Failed to enqueue ack event")
		}
	}
}

func (h *MessageHandler) attachMediaMetadata(ctx context.Context, msg *models.Message, raw *wadriver.RawMessage, media MediaFetcher, log *logrus.Entry) {
	dlCtx, cancel := context.WithTimeout(ctx, h.mediaTimeout)
	defer cancel()

	payload, err := media.DownloadMedia(dlCtx, raw)
	if err != nil {
		// Keep the message; the record just carries no media payload info.
		log.WithError(err).Warn("Media download failed, storing metadata only")
		if raw.MediaMimeType != "" {
			msg.MediaMimeType = &raw.MediaMimeType
		}
		return
	}
	msg.MediaMimeType = &payload.MimeType
	if ext := constants.ExtensionForMimeType(payload.MimeType); ext != "" {
		msg.Metadata["fileExtension"] = ext
	}
	size := payload.Size
	if size == 0 {
		size = int64(len(payload.Data))
	}
	msg.MediaSize = &size
}

// Canonicalize maps a raw driver message onto the canonical record. Pure;
// no I/O.
func Canonicalize(teamID, sessionID string, raw *wadriver.RawMessage) *models.Message {
	waID := raw.ID.Serialized
	if waID == "" {
		waID = raw.ID.ID
	}

	direction := models.DirectionInbound
	if raw.FromMe {
		direction = models.DirectionOutbound
	}

	msg := &models.Message{
		TeamID:      teamID,
		SessionID:   sessionID,
		WAMessageID: waID,
		Direction:   direction,
		FromPhone:   phoneFromJID(raw.From),
		ToPhone:     phoneFromJID(raw.To),
		ChatID:      raw.ChatID,
		Type:        mapMessageType(raw.Type),
		Timestamp:   time.Unix(raw.Timestamp, 0).UTC(),
		Metadata: map[string]interface{}{
			"hasMedia":    raw.HasMedia,
			"deviceType":  raw.DeviceType,
			"broadcast":   raw.Broadcast,
			"isForwarded": raw.IsForwarded,
		},
	}
	if len(raw.MentionedIDs) > 0 {
		msg.Metadata["mentionedIds"] = raw.MentionedIDs
	}

	if raw.Body != "" {
		body := raw.Body
		msg.Body = &body
		if raw.HasMedia {
			msg.Caption = &body
		}
	}
	if raw.HasQuotedMsg && raw.QuotedMsgID != "" {
		quoted := raw.QuotedMsgID
		msg.QuotedMsgID = &quoted
	}
	return msg
}

// mapMessageType maps driver message types onto the canonical enum.
// Unknown types fall back to text so nothing is dropped.
func mapMessageType(rawType string) models.MessageType {
	switch rawType {
	case "chat":
		return models.MessageTypeText
	case "image":
		return models.MessageTypeImage
	case "video":
		return models.MessageTypeVideo
	case "audio", "ptt":
		return models.MessageTypeAudio
	case "document":
		return models.MessageTypeDocument
	case "sticker":
		return models.MessageTypeSticker
	case "location":
		return models.MessageTypeLocation
	case "vcard", "multi_vcard":
		return models.MessageTypeContact
	case "poll":
		return models.MessageTypePoll
	case "reaction":
		return models.MessageTypeReaction
	default:
		return models.MessageTypeText
	}
}

// phoneFromJID extracts the phone segment of a JID: everything before the
// first @, with any device suffix (":1") removed.
func phoneFromJID(jid string) string {
	if jid == "" {
		return ""
	}
	phone := jid
	if idx := strings.Index(phone, "@"); idx >= 0 {
		phone = phone[:idx]
	}
	if idx := strings.Index(phone, ":"); idx >= 0 {
		phone = phone[:idx]
	}
	return phone
}

// remotePhone returns the non-own side of the message.
func remotePhone(msg *models.Message) string {
	if msg.Direction == models.DirectionInbound {
		return msg.FromPhone
	}
	return msg.ToPhone
}

func messagePayload(msg *models.Message) map[string]interface{} {
	payload := map[string]interface{}{
		"messageId": msg.ID,
		"waId":      msg.WAMessageID,
		"chatId":    msg.ChatID,
		"from":      msg.FromPhone,
		"to":        msg.ToPhone,
		"type":      string(msg.Type),
		"timestamp": msg.Timestamp,
	}
	if msg.ConversationID != nil {
		payload["conversationId"] = *msg.ConversationID
	}
	if msg.Body != nil {
		payload["body"] = *msg.Body
	}
	return payload
}
