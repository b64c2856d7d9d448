package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

// ConversationStore is the storage surface for conversation management.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int, error)
	UpdateConversation(ctx context.Context, id string, req models.UpdateConversationRequest) error
	ListStaleOpenConversations(ctx context.Context, cutoff time.Time) ([]models.Conversation, error)
}

// ThreadReader pulls the message page for detail reads.
type ThreadReader interface {
	ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	CountMessagesByConversation(ctx context.Context, conversationID string) (int, error)
}

// ConversationDetail bundles a conversation with its newest messages.
type ConversationDetail struct {
	Conversation  models.Conversation `json:"conversation"`
	Messages      []models.Message    `json:"messages"`
	TotalMessages int                 `json:"totalMessages"`
}

// Conversations manages the funnel side of chats: list and detail reads,
// stage and status transitions, close and archive, idle auto-close.
type Conversations struct {
	store  ConversationStore
	thread ThreadReader
	bus    Publisher
	logger *logrus.Logger
}

func NewConversations(store ConversationStore, thread ThreadReader, publisher Publisher, logger *logrus.Logger) *Conversations {
	return &Conversations{store: store, thread: thread, bus: publisher, logger: logger}
}

// List returns a filtered page plus the unpaged total.
func (c *Conversations) List(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int, error) {
	for _, status := range filter.Status {
		if !models.ValidConversationStatus(status) {
			return nil, 0, apperrors.NewValidationError("status", "unknown conversation status "+string(status))
		}
	}
	for _, stage := range filter.Stage {
		if !models.ValidFunnelStage(stage) {
			return nil, 0, apperrors.NewValidationError("stage", "unknown funnel stage "+string(stage))
		}
	}
	return c.store.ListConversations(ctx, filter)
}

// Get returns the conversation with a page of its messages, newest first.
func (c *Conversations) Get(ctx context.Context, id string, limit, offset int) (*ConversationDetail, error) {
	conv, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NewNotFoundError("conversation", id)
	}

	if limit <= 0 {
		limit = constants.DefaultPageLimit
	}
	messages, err := c.thread.ListMessagesByConversation(ctx, id, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := c.thread.CountMessagesByConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ConversationDetail{Conversation: *conv, Messages: messages, TotalMessages: total}, nil
}

// Update applies status/stage/assignee/metadata changes. A stage move
// records the prior stage in metadata and announces the funnel change to
// realtime subscribers; every update also lands on the team channel.
func (c *Conversations) Update(ctx context.Context, id string, req models.UpdateConversationRequest) (*models.Conversation, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if req.Status == nil && req.Stage == nil && req.AssignedTo == nil && req.Metadata == nil {
		return nil, apperrors.NewValidationError("update", "at least one field is required")
	}
	if req.Status != nil && !models.ValidConversationStatus(*req.Status) {
		return nil, apperrors.NewValidationError("status", "unknown conversation status "+string(*req.Status))
	}
	if req.Stage != nil && !models.ValidFunnelStage(*req.Stage) {
		return nil, apperrors.NewValidationError("stage", "unknown funnel stage "+string(*req.Stage))
	}

	current, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.NewNotFoundError("conversation", id)
	}

	stageChanged := req.Stage != nil && *req.Stage != current.Stage
	if stageChanged {
		if req.Metadata == nil {
			req.Metadata = map[string]interface{}{}
		}
		req.Metadata["previous_stage"] = string(current.Stage)
	}

	if err := c.store.UpdateConversation(ctx, id, req); err != nil {
		return nil, err
	}
	updated, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperrors.NewNotFoundError("conversation", id)
	}

	if stageChanged {
		if err := c.bus.PublishRealtime(ctx, tenant.TeamID, "funnel_stage_changed", map[string]interface{}{
			"conversationId": id,
			"fromStage":      string(current.Stage),
			"toStage":        string(*req.Stage),
		}); err != nil {
			c.logger.WithError(err).Warn("Failed to publish funnel stage change")
		}
	}
	if err := c.bus.PublishTeam(ctx, tenant.TeamID, "conversation_updated", "", conversationPayload(updated)); err != nil {
		c.logger.WithError(err).Warn("Failed to publish conversation update")
	}

	return updated, nil
}

// Close marks the conversation closed.
func (c *Conversations) Close(ctx context.Context, id string) (*models.Conversation, error) {
	status := models.ConversationClosed
	return c.Update(ctx, id, models.UpdateConversationRequest{Status: &status})
}

// Archive moves the conversation out of the working set.
func (c *Conversations) Archive(ctx context.Context, id string) (*models.Conversation, error) {
	status := models.ConversationArchived
	return c.Update(ctx, id, models.UpdateConversationRequest{Status: &status})
}

// CloseIdle closes open conversations with no activity since the cutoff.
// Runs from the scheduler under a system tenant; returns how many closed.
func (c *Conversations) CloseIdle(ctx context.Context, idleAfter time.Duration) (int, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return 0, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if idleAfter <= 0 {
		idleAfter = constants.IdleConversationAfter
	}

	cutoff := time.Now().Add(-idleAfter)
	stale, err := c.store.ListStaleOpenConversations(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	status := models.ConversationClosed
	closed := 0
	for i := range stale {
		conv := &stale[i]
		if err := c.store.UpdateConversation(ctx, conv.ID, models.UpdateConversationRequest{
			Status:   &status,
			Metadata: map[string]interface{}{"closed_reason": "idle"},
		}); err != nil {
			c.logger.WithError(err).WithField(LogFieldConversation, conv.ID).Warn("Failed to close idle conversation")
			continue
		}
		closed++
		if err := c.bus.PublishTeam(ctx, tenant.TeamID, "conversation_updated", "", map[string]interface{}{
			"conversationId": conv.ID,
			"status":         string(models.ConversationClosed),
			"reason":         "idle",
		}); err != nil {
			c.logger.WithError(err).Warn("Failed to publish idle close")
		}
	}

	if closed > 0 {
		c.logger.WithFields(logrus.Fields{
			LogFieldTeam:  tenant.TeamID,
			LogFieldCount: closed,
		}).Info("Idle conversations closed")
	}
	return closed, nil
}

func conversationPayload(conv *models.Conversation) map[string]interface{} {
	payload := map[string]interface{}{
		"conversationId": conv.ID,
		"contactPhone":   conv.ContactPhone,
		"status":         string(conv.Status),
		"stage":          string(conv.Stage),
		"unreadCount":    conv.UnreadCount,
		"lastMessageAt":  conv.LastMessageAt,
	}
	if conv.AssignedTo != nil {
		payload["assignedTo"] = *conv.AssignedTo
	}
	return payload
}
