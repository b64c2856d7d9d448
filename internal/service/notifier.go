package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/internal/privacy"
)

// NotificationStore is the notification persistence surface.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DismissNotification(ctx context.Context, id string) error
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	DeleteOldNotifications(ctx context.Context, cutoff time.Time) (int64, error)
}

// PrefsCache holds per-user notification preferences.
type PrefsCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Notifier turns lifecycle events into stored notifications and fans them
// out on the team channel. Notifications without a target user are visible
// to the whole team; per-user preferences mute types at read time.
type Notifier struct {
	store  NotificationStore
	cache  PrefsCache
	bus    Publisher
	logger *logrus.Logger
}

func NewNotifier(store NotificationStore, cache PrefsCache, publisher Publisher, logger *logrus.Logger) *Notifier {
	return &Notifier{
		store:  store,
		cache:  cache,
		bus:    publisher,
		logger: logger,
	}
}

// SessionStatusChanged produces a notification for transitions a team needs
// to act on. Routine transitions (authenticating, reconnecting, active) are
// already visible on the realtime channel and stay out of the inbox.
func (n *Notifier) SessionStatusChanged(ctx context.Context, tenant models.TenantContext, session *models.Session, status models.SessionStatus, reason string) {
	var severity models.AlertSeverity
	var title string
	switch status {
	case models.SessionStatusFailed:
		severity = models.SeverityHigh
		title = "WhatsApp session failed"
	case models.SessionStatusDisconnected:
		severity = models.SeverityMedium
		title = "WhatsApp session disconnected"
	default:
		return
	}

	body := fmt.Sprintf("Session %q is %s", session.Name, status)
	if reason != "" {
		body = fmt.Sprintf("%s: %s", body, reason)
	}

	n.create(ctx, tenant, &models.Notification{
		Type:     models.NotifySessionStatus,
		Title:    title,
		Body:     body,
		Severity: severity,
		Metadata: map[string]interface{}{
			"sessionId": session.ID,
			"status":    string(status),
			"reason":    reason,
		},
	})
}

// VerificationPending announces a correlation waiting on manual review.
func (n *Notifier) VerificationPending(ctx context.Context, tenant models.TenantContext, item *models.VerificationItem) {
	severity := models.SeverityLow
	if item.Priority <= constants.DefaultVerificationPriority {
		severity = models.SeverityMedium
	}

	n.create(ctx, tenant, &models.Notification{
		Type:     models.NotifyVerificationPending,
		Title:    "Identity match needs review",
		Severity: severity,
		Body: fmt.Sprintf("Match for %s scored %.2f and is queued for verification",
			privacy.MaskPhoneNumber(item.WAPhone), item.ConfidenceScore),
		Metadata: map[string]interface{}{
			"correlationId": item.CorrelationID,
			"score":         item.ConfidenceScore,
			"method":        string(item.Method),
			"priority":      item.Priority,
		},
	})
}

// AlertRaised records a live-metric threshold breach.
func (n *Notifier) AlertRaised(ctx context.Context, tenant models.TenantContext, alert models.Alert) {
	n.create(ctx, tenant, &models.Notification{
		Type:     models.NotifyAlert,
		Title:    fmt.Sprintf("Threshold breached: %s", alert.Type),
		Body:     fmt.Sprintf("%s is %.1f, above the configured limit of %.1f", alert.Type, alert.Value, alert.Threshold),
		Severity: alert.Severity,
		Metadata: map[string]interface{}{
			"alertType": alert.Type,
			"value":     alert.Value,
			"threshold": alert.Threshold,
		},
	})
}

// create persists and publishes one notification. Producers run off the
// request path, so failures are logged rather than returned.
func (n *Notifier) create(ctx context.Context, tenant models.TenantContext, notification *models.Notification) {
	notification.TeamID = tenant.TeamID

	if notification.UserID != nil {
		prefs := n.preferences(ctx, tenant.TeamID, *notification.UserID)
		if enabled, ok := prefs.Enabled[notification.Type]; ok && !enabled {
			return
		}
	}

	tctx := models.WithTenant(ctx, tenant)
	if err := n.store.SaveNotification(tctx, notification); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldTeam:  tenant.TeamID,
			LogFieldEvent: string(notification.Type),
		}).Error("Failed to save notification")
		return
	}

	if err := n.bus.PublishTeam(ctx, tenant.TeamID, "notification_created", "", map[string]interface{}{
		"notificationId": notification.ID,
		"type":           string(notification.Type),
		"title":          notification.Title,
		"severity":       string(notification.Severity),
	}); err != nil {
		n.logger.WithError(err).WithField(LogFieldTeam, tenant.TeamID).Warn("Failed to publish notification")
	}
}

// List returns the caller's notifications, newest first, with muted types
// filtered out. Pages can come back short when the user has muted a type.
func (n *Notifier) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if limit <= 0 {
		limit = constants.DefaultNotificationLimit
	}

	rows, err := n.store.ListNotifications(ctx, tenant.UserID, unreadOnly, limit, offset)
	if err != nil {
		return nil, apperrors.NewStorageError("list notifications", err)
	}

	prefs := n.preferences(ctx, tenant.TeamID, tenant.UserID)
	filtered := make([]models.Notification, 0, len(rows))
	for _, row := range rows {
		if enabled, found := prefs.Enabled[row.Type]; found && !enabled {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered, nil
}

// UnreadCount reports the badge number. It counts every stored type; muting
// hides rows from List without rewriting history.
func (n *Notifier) UnreadCount(ctx context.Context) (int, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return 0, apperrors.NewUnauthorizedError("missing tenant context")
	}
	count, err := n.store.CountUnreadNotifications(ctx, tenant.UserID)
	if err != nil {
		return 0, apperrors.NewStorageError("count notifications", err)
	}
	return count, nil
}

func (n *Notifier) MarkRead(ctx context.Context, id string) error {
	if err := n.store.MarkNotificationRead(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("notification", id)
		}
		return apperrors.NewStorageError("mark notification read", err)
	}
	return nil
}

func (n *Notifier) MarkAllRead(ctx context.Context) (int64, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return 0, apperrors.NewUnauthorizedError("missing tenant context")
	}
	marked, err := n.store.MarkAllNotificationsRead(ctx, tenant.UserID)
	if err != nil {
		return 0, apperrors.NewStorageError("mark notifications read", err)
	}
	return marked, nil
}

func (n *Notifier) Dismiss(ctx context.Context, id string) error {
	if err := n.store.DismissNotification(ctx, id); err != nil {
		return apperrors.NewStorageError("dismiss notification", err)
	}
	return nil
}

// Preferences returns the caller's notification preferences, falling back
// to everything-enabled defaults.
func (n *Notifier) Preferences(ctx context.Context) (models.NotificationPreferences, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return models.NotificationPreferences{}, apperrors.NewUnauthorizedError("missing tenant context")
	}
	return n.preferences(ctx, tenant.TeamID, tenant.UserID), nil
}

// UpdatePreferences stores the caller's preferences. Types absent from the
// blob fall back to enabled on read.
func (n *Notifier) UpdatePreferences(ctx context.Context, prefs models.NotificationPreferences) error {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return apperrors.NewUnauthorizedError("missing tenant context")
	}
	if prefs.Enabled == nil {
		return apperrors.NewValidationError("enabled", "preference map is required")
	}
	if err := n.cache.SetJSON(ctx, prefsKey(tenant.TeamID, tenant.UserID), prefs, constants.NotificationPrefsTTL); err != nil {
		return apperrors.NewStorageError("save notification preferences", err)
	}
	return nil
}

// CleanupOld purges notifications past the retention window. Runs under a
// system tenant from the scheduler.
func (n *Notifier) CleanupOld(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-constants.NotificationRetention)
	deleted, err := n.store.DeleteOldNotifications(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		n.logger.WithFields(logrus.Fields{
			LogFieldJob:   "notification_retention",
			LogFieldCount: deleted,
		}).Info("Purged old notifications")
	}
	return deleted, nil
}

func (n *Notifier) preferences(ctx context.Context, teamID, userID string) models.NotificationPreferences {
	var prefs models.NotificationPreferences
	found, err := n.cache.GetJSON(ctx, prefsKey(teamID, userID), &prefs)
	if err != nil {
		n.logger.WithError(err).WithField(LogFieldTeam, teamID).Warn("Failed to load notification preferences")
	}
	if !found || prefs.Enabled == nil {
		return models.DefaultNotificationPreferences()
	}
	return prefs
}

func prefsKey(teamID, userID string) string {
	return fmt.Sprintf("notifyprefs:%s:%s", teamID, userID)
}
