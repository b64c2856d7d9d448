package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/database"
	"whatslens/internal/models"
)

// seedDemoData populates the demo team with a disconnected session, a sample
// contact, a short conversation and a verified correlation so a fresh install
// has something to show. Idempotent: a present "demo" session means the seed
// already ran.
func seedDemoData(ctx context.Context, db *database.Database, cfg models.DemoConfig, logger *logrus.Logger) error {
	ctx = models.WithTenant(ctx, models.SystemTenant(cfg.TeamID))

	existing, err := db.GetSessionByName(ctx, "demo")
	if err != nil {
		return fmt.Errorf("check demo session: %w", err)
	}
	if existing != nil {
		logger.WithField("teamId", cfg.TeamID).Debug("Demo data already present, skipping seed")
		return nil
	}

	session := &models.Session{
		TeamID: cfg.TeamID,
		Name:   "demo",
		Status: models.SessionStatusDisconnected,
	}
	if err := db.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("seed session: %w", err)
	}

	const (
		phone    = "14155550100"
		demoLine = "14155550199"
	)
	name := "Demo Visitor"
	contact := &models.Contact{
		TeamID:      cfg.TeamID,
		PhoneNumber: phone,
		Name:        &name,
		IsMyContact: true,
		Metadata:    map[string]interface{}{"demo": true},
	}
	if err := db.UpsertContact(ctx, contact); err != nil {
		return fmt.Errorf("seed contact: %w", err)
	}

	firstAt := time.Now().UTC().Add(-2 * time.Hour)
	convoID, err := db.UpsertConversationOnMessage(ctx, cfg.TeamID, phone, &name, firstAt, true)
	if err != nil {
		return fmt.Errorf("seed conversation: %w", err)
	}

	chatID := phone + "@s.whatsapp.net"
	inbound := "Hi! I was looking at your pricing page and had a question about the team plan."
	outbound := "Happy to help. The team plan covers up to ten seats; what size is your team?"
	messages := []models.Message{
		{
			TeamID:         cfg.TeamID,
			SessionID:      session.ID,
			ConversationID: &convoID,
			WAMessageID:    "demo-msg-001",
			Direction:      models.DirectionInbound,
			FromPhone:      phone,
			ToPhone:        demoLine,
			ChatID:         chatID,
			Type:           models.MessageTypeText,
			Body:           &inbound,
			Timestamp:      firstAt,
		},
		{
			TeamID:         cfg.TeamID,
			SessionID:      session.ID,
			ConversationID: &convoID,
			WAMessageID:    "demo-msg-002",
			Direction:      models.DirectionOutbound,
			FromPhone:      demoLine,
			ToPhone:        phone,
			ChatID:         chatID,
			Type:           models.MessageTypeText,
			Body:           &outbound,
			Timestamp:      firstAt.Add(4 * time.Minute),
		},
	}
	for i := range messages {
		if _, err := db.SaveMessage(ctx, &messages[i]); err != nil {
			return fmt.Errorf("seed message: %w", err)
		}
	}

	demoUser := "demo-user"
	corr := &models.UserIdentityCorrelation{
		TeamID:          cfg.TeamID,
		WAPhone:         phone,
		WAContactName:   &name,
		UmamiUserID:     &demoUser,
		ConfidenceScore: 1.0,
		Method:          models.MethodManual,
		Evidence: []models.Evidence{{
			Method:  models.MethodManual,
			Matched: true,
			Weight:  1.0,
			Quality: 1.0,
			Data:    map[string]interface{}{"websiteId": cfg.WebsiteID, "shareId": cfg.ShareID},
		}},
		Verified:    true,
		UserConsent: true,
		IsActive:    true,
	}
	if err := db.SaveCorrelation(ctx, corr, ""); err != nil {
		return fmt.Errorf("seed correlation: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"teamId":    cfg.TeamID,
		"websiteId": cfg.WebsiteID,
	}).Info("Seeded demo data")
	return nil
}
