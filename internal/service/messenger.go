package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vincent-petithory/dataurl"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/pkg/wadriver"
)

// SessionConnection is the live driver surface outbound sends go through.
type SessionConnection interface {
	SendMessage(ctx context.Context, to, body string) (*wadriver.SendResult, error)
	SendMedia(ctx context.Context, to string, media *wadriver.Media, caption string) (*wadriver.SendResult, error)
}

// ConnectionProvider resolves a session id to its live connection for the
// calling tenant.
type ConnectionProvider interface {
	Connection(ctx context.Context, sessionID string) (SessionConnection, error)
}

// SessionReader looks up session rows.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
}

// MessageReader is the query surface for stored messages.
type MessageReader interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error)
	ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	CountMessagesByConversation(ctx context.Context, conversationID string) (int, error)
	CountUnreadMessages(ctx context.Context, chatID string) (int, error)
	MarkConversationRead(ctx context.Context, conversationID string) (int64, error)
	MarkMessageRead(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, id string) (bool, error)
}

// Messenger sends outbound messages and serves message reads. Outbound
// rows are persisted immediately from the send result rather than waiting
// for a driver echo.
type Messenger struct {
	store       MessageStore
	reader      MessageReader
	sessions    SessionReader
	connections ConnectionProvider
	bus         Publisher
	events      EventSink
	logger      *logrus.Logger
}

func NewMessenger(store MessageStore, reader MessageReader, sessions SessionReader, connections ConnectionProvider, publisher Publisher, events EventSink, logger *logrus.Logger) *Messenger {
	return &Messenger{
		store:       store,
		reader:      reader,
		sessions:    sessions,
		connections: connections,
		bus:         publisher,
		events:      events,
		logger:      logger,
	}
}

// Send delivers a message through the session's driver and stores the
// canonical outbound record. Media is supplied as a data URL and decoded
// before upload.
func (m *Messenger) Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if req.To == "" {
		return nil, apperrors.NewValidationError("to", "recipient is required")
	}
	if req.Body == "" && req.MediaURL == "" {
		return nil, apperrors.NewValidationError("body", "message body or media is required")
	}

	conn, err := m.connections.Connection(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	var (
		result    *wadriver.SendResult
		media     *wadriver.Media
		mediaMime string
	)
	if req.MediaURL != "" {
		decoded, decodeErr := dataurl.DecodeString(req.MediaURL)
		if decodeErr != nil {
			return nil, apperrors.NewValidationError("mediaUrl", "media must be a valid data URL")
		}
		media = &wadriver.Media{
			Data:     decoded.Data,
			MimeType: decoded.ContentType(),
			Size:     int64(len(decoded.Data)),
		}
		mediaMime = media.MimeType
		caption := req.Caption
		if caption == "" {
			caption = req.Body
		}
		result, err = conn.SendMedia(ctx, req.To, media, caption)
	} else {
		result, err = conn.SendMessage(ctx, req.To, req.Body)
	}
	if err != nil {
		return nil, err
	}

	msg := m.buildOutbound(ctx, tenant, req, result, mediaMime)

	conversationID, convErr := m.store.UpsertConversationOnMessage(ctx, tenant.TeamID, msg.ToPhone, nil, msg.Timestamp, false)
	if convErr != nil {
		m.logger.WithError(convErr).Error("Failed to thread outbound message")
	} else if conversationID != "" {
		msg.ConversationID = &conversationID
	}

	if _, err := m.store.SaveMessage(ctx, msg); err != nil {
		// The message went out; surface the record anyway and let the
		// driver echo repair storage on redelivery.
		m.logger.WithError(err).Error("Failed to store outbound message")
	}

	if err := m.bus.PublishTeam(ctx, tenant.TeamID, "message_sent", req.SessionID, messagePayload(msg)); err != nil {
		m.logger.WithError(err).Warn("Failed to publish outbound message")
	}
	if m.events != nil {
		if err := m.events.Enqueue(ctx, tenant, req.SessionID, "message_sent", map[string]interface{}{
			"messageId": msg.ID,
			"chatId":    msg.ChatID,
			"type":      string(msg.Type),
		}); err != nil {
			m.logger.WithError(err).Warn("Failed to enqueue outbound message event")
		}
	}

	return msg, nil
}

func (m *Messenger) buildOutbound(ctx context.Context, tenant models.TenantContext, req models.SendMessageRequest, result *wadriver.SendResult, mediaMime string) *models.Message {
	chatJID := wadriver.CanonicalChatJID(req.To)

	fromPhone := ""
	if session, err := m.sessions.GetSession(ctx, req.SessionID); err == nil && session != nil && session.PhoneNumber != nil {
		fromPhone = *session.PhoneNumber
	}

	msgType := models.MessageTypeText
	switch {
	case strings.HasPrefix(mediaMime, "image/"):
		msgType = models.MessageTypeImage
	case strings.HasPrefix(mediaMime, "video/"):
		msgType = models.MessageTypeVideo
	case strings.HasPrefix(mediaMime, "audio/"):
		msgType = models.MessageTypeAudio
	case mediaMime != "":
		msgType = models.MessageTypeDocument
	}

	msg := &models.Message{
		TeamID:      tenant.TeamID,
		SessionID:   req.SessionID,
		WAMessageID: wadriver.SerializedMessageID(true, chatJID, result.MessageID),
		Direction:   models.DirectionOutbound,
		FromPhone:   fromPhone,
		ToPhone:     phoneFromJID(chatJID),
		ChatID:      chatJID,
		Type:        msgType,
		Timestamp:   result.Timestamp.UTC(),
		Metadata: map[string]interface{}{
			"hasMedia": mediaMime != "",
		},
	}
	if req.Body != "" {
		body := req.Body
		msg.Body = &body
	}
	if mediaMime != "" {
		msg.MediaMimeType = &mediaMime
		if ext := constants.ExtensionForMimeType(mediaMime); ext != "" {
			msg.Metadata["fileExtension"] = ext
		}
		if req.Caption != "" {
			caption := req.Caption
			msg.Caption = &caption
		}
	}
	return msg
}

// GetMessage returns one message by row id.
func (m *Messenger) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := m.reader.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}
	return msg, nil
}

// ListByConversation returns a page of a conversation's messages, newest
// first, plus the total count for pagination.
func (m *Messenger) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error) {
	messages, err := m.reader.ListMessagesByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.reader.CountMessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// List serves chat-, session- and search-scoped reads.
func (m *Messenger) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	if filter.ChatID == "" && filter.SessionID == "" && filter.Search == "" {
		return nil, apperrors.NewValidationError("filter", "chatId, sessionId or search is required")
	}
	return m.reader.ListMessages(ctx, filter)
}

// UnreadCount counts unread inbound messages, optionally for one chat.
func (m *Messenger) UnreadCount(ctx context.Context, chatID string) (int, error) {
	return m.reader.CountUnreadMessages(ctx, chatID)
}

// MarkRead marks a single message read.
func (m *Messenger) MarkRead(ctx context.Context, id string) error {
	msg, err := m.reader.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperrors.NewNotFoundError("message", id)
	}
	return m.reader.MarkMessageRead(ctx, id)
}

// Delete removes a message row. The driver-side message is untouched;
// deletion only affects the analytics record.
func (m *Messenger) Delete(ctx context.Context, id string) error {
	deleted, err := m.reader.DeleteMessage(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.NewNotFoundError("message", id)
	}
	return nil
}

// MarkConversationRead marks a conversation's inbound messages read and
// publishes the reset so open clients clear their badges.
func (m *Messenger) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return 0, apperrors.NewUnauthorizedError("missing tenant context")
	}
	marked, err := m.reader.MarkConversationRead(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		if err := m.bus.PublishTeam(ctx, tenant.TeamID, "conversation_updated", "", map[string]interface{}{
			"conversationId": conversationID,
			"unreadCount":    0,
		}); err != nil {
			m.logger.WithError(err).Warn("Failed to publish conversation read")
		}
	}
	return marked, nil
}
