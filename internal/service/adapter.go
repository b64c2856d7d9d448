package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/internal/retry"
	"whatslens/pkg/wadriver"
)

// ClientAdapter owns the lifecycle of one driver instance. It translates
// raw driver events into session status transitions, schedules reconnects
// with exponential backoff, and keeps the remote auth blob fresh so the
// session survives process restarts.
//
// Status transitions:
//
//	authenticating -> active          (ready)
//	active         -> reconnecting    (disconnected, auto-reconnect on)
//	reconnecting   -> active          (ready after re-init)
//	reconnecting   -> failed          (attempts exhausted)
//	any            -> failed          (auth_failure, terminal)
//	any            -> disconnected    (auto-reconnect off, or logout)
type ClientAdapter struct {
	sessionID string
	tenant    models.TenantContext
	driver    wadriver.Driver
	auth      wadriver.AuthStore
	cfg       models.SessionConfig
	logger    *logrus.Logger

	onStatus func(status models.SessionStatus, reason string)
	onQR     func(code string)

	mu             sync.Mutex
	status         models.SessionStatus
	attempts       int
	jid            string
	reconnectTimer *time.Timer
	destroyed      bool

	runCtx    context.Context
	runCancel context.CancelFunc

	backupOnce sync.Once
	backupStop chan struct{}
}

func NewClientAdapter(sessionID string, tenant models.TenantContext, driver wadriver.Driver, auth wadriver.AuthStore, cfg models.SessionConfig, logger *logrus.Logger) *ClientAdapter {
	return &ClientAdapter{
		sessionID:  sessionID,
		tenant:     tenant,
		driver:     driver,
		auth:       auth,
		cfg:        cfg,
		logger:     logger,
		status:     models.SessionStatusAuthenticating,
		backupStop: make(chan struct{}),
	}
}

// OnStatusChange registers the status callback. Must be called before Start.
func (a *ClientAdapter) OnStatusChange(fn func(status models.SessionStatus, reason string)) {
	a.onStatus = fn
}

// OnQR registers the QR code callback. Must be called before Start.
func (a *ClientAdapter) OnQR(fn func(code string)) {
	a.onQR = fn
}

// On forwards non-lifecycle events (messages, acks, revocations, group and
// call events) straight to the driver. Lifecycle events are owned by the
// adapter and must not be registered through here.
func (a *ClientAdapter) On(event wadriver.EventType, h wadriver.Handler) {
	a.driver.On(event, h)
}

// Start wires the lifecycle handlers and connects the driver. The supplied
// context bounds the adapter's lifetime; reconnects and auth backups stop
// when it is cancelled.
func (a *ClientAdapter) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.driver.On(wadriver.EventQR, a.handleQR)
	a.driver.On(wadriver.EventReady, a.handleReady)
	a.driver.On(wadriver.EventAuthenticated, a.handleAuthenticated)
	a.driver.On(wadriver.EventAuthFailure, a.handleAuthFailure)
	a.driver.On(wadriver.EventDisconnected, a.handleDisconnected)

	initCtx, cancel := context.WithTimeout(a.runCtx, a.cfg.InitTimeout)
	defer cancel()

	if err := a.driver.Initialize(initCtx); err != nil {
		a.setStatus(models.SessionStatusFailed, "initialization failed")
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to initialize driver")
	}
	return nil
}

// SendMessage sends a text message through the driver. Callers get a
// session_disconnected error when the connection is down so they can
// distinguish transient session state from hard failures.
func (a *ClientAdapter) SendMessage(ctx context.Context, to, body string) (*wadriver.SendResult, error) {
	if !a.driver.IsReady() {
		return nil, apperrors.NewSessionDisconnectedError(a.sessionID)
	}
	result, err := a.driver.SendMessage(ctx, to, body)
	if err != nil {
		if err == wadriver.ErrNotReady {
			return nil, apperrors.NewSessionDisconnectedError(a.sessionID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to send message")
	}
	return result, nil
}

// SendMedia uploads and sends a media payload through the driver.
func (a *ClientAdapter) SendMedia(ctx context.Context, to string, media *wadriver.Media, caption string) (*wadriver.SendResult, error) {
	if !a.driver.IsReady() {
		return nil, apperrors.NewSessionDisconnectedError(a.sessionID)
	}
	result, err := a.driver.SendMedia(ctx, to, media, caption)
	if err != nil {
		if err == wadriver.ErrNotReady {
			return nil, apperrors.NewSessionDisconnectedError(a.sessionID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to send media")
	}
	return result, nil
}

// DownloadMedia fetches the payload of a media message.
func (a *ClientAdapter) DownloadMedia(ctx context.Context, msg *wadriver.RawMessage) (*wadriver.Media, error) {
	return a.driver.DownloadMedia(ctx, msg)
}

// GetContacts reads the session's address book.
func (a *ClientAdapter) GetContacts(ctx context.Context) ([]wadriver.Contact, error) {
	return a.driver.GetContacts(ctx)
}

func (a *ClientAdapter) Status() models.SessionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *ClientAdapter) GetInfo() (*wadriver.Info, error) {
	return a.driver.GetInfo()
}

// HealthCheck reports whether the underlying connection is up.
func (a *ClientAdapter) HealthCheck(ctx context.Context) bool {
	return a.driver.HealthCheck(ctx)
}

// Logout revokes the registration on the phone, deletes the remote auth
// blob and tears the driver down. The session cannot resume afterwards.
func (a *ClientAdapter) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.destroyed = true
	a.cancelReconnectLocked()
	a.mu.Unlock()

	if err := a.driver.Logout(ctx); err != nil {
		a.logger.WithError(err).WithField(LogFieldSession, a.sessionID).Warn("Driver logout failed")
	}
	if err := a.auth.Delete(ctx, a.sessionID); err != nil {
		a.logger.WithError(err).WithField(LogFieldSession, a.sessionID).Warn("Failed to delete auth blob")
	}
	a.stop()
	a.setStatus(models.SessionStatusDisconnected, "logged out")
	return nil
}

// Destroy tears down the driver without revoking auth, cancelling any
// pending reconnect. The session can resume from the stored auth blob.
func (a *ClientAdapter) Destroy() error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil
	}
	a.destroyed = true
	a.cancelReconnectLocked()
	a.mu.Unlock()

	a.stop()
	return a.driver.Destroy()
}

func (a *ClientAdapter) stop() {
	a.backupOnce.Do(func() {}) // mark started so a later start is a no-op
	select {
	case <-a.backupStop:
	default:
		close(a.backupStop)
	}
	if a.runCancel != nil {
		a.runCancel()
	}
}

func (a *ClientAdapter) handleQR(payload interface{}) {
	code, ok := payload.(string)
	if !ok {
		return
	}
	a.logger.WithField(LogFieldSession, a.sessionID).Debug("QR code received")
	if a.onQR != nil {
		a.onQR(code)
	}
}

func (a *ClientAdapter) handleReady(payload interface{}) {
	a.mu.Lock()
	a.attempts = 0
	if info, ok := payload.(*wadriver.Info); ok && info != nil {
		a.jid = info.JID
	}
	a.mu.Unlock()

	a.persistAuth()
	a.startBackupLoop()
	a.setStatus(models.SessionStatusActive, "")
}

func (a *ClientAdapter) handleAuthenticated(payload interface{}) {
	jid, ok := payload.(string)
	if !ok || jid == "" {
		return
	}
	a.mu.Lock()
	a.jid = jid
	a.mu.Unlock()
	a.persistAuth()
}

func (a *ClientAdapter) handleAuthFailure(payload interface{}) {
	a.mu.Lock()
	a.cancelReconnectLocked()
	a.mu.Unlock()
	a.setStatus(models.SessionStatusFailed, "authentication failed")
}

func (a *ClientAdapter) handleDisconnected(payload interface{}) {
	reason, _ := payload.(string)

	a.mu.Lock()
	// Failed is terminal; a late disconnect must not resurrect the session.
	if a.destroyed || a.status == models.SessionStatusFailed {
		a.mu.Unlock()
		return
	}
	if !a.cfg.EnableAutoReconnect {
		a.mu.Unlock()
		a.setStatus(models.SessionStatusDisconnected, reason)
		return
	}
	if a.attempts >= a.cfg.ReconnectAttempts {
		a.mu.Unlock()
		a.setStatus(models.SessionStatusFailed, "reconnect attempts exhausted")
		return
	}

	maxDelay := time.Duration(constants.DefaultReconnectMaxDelayMs) * time.Millisecond
	delay := retry.ReconnectDelay(a.attempts, a.cfg.ReconnectDelay, maxDelay)
	a.attempts++
	attempt := a.attempts
	a.cancelReconnectLocked()
	a.reconnectTimer = time.AfterFunc(delay, a.reconnect)
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		LogFieldSession: a.sessionID,
		LogFieldAttempt: attempt,
		"delay_ms":      delay.Milliseconds(),
		LogFieldReason:  reason,
	}).Info("Scheduling reconnect")

	a.setStatus(models.SessionStatusReconnecting, reason)
}

func (a *ClientAdapter) reconnect() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if a.runCtx.Err() != nil {
		return
	}

	initCtx, cancel := context.WithTimeout(a.runCtx, a.cfg.InitTimeout)
	defer cancel()

	if err := a.driver.Initialize(initCtx); err != nil {
		a.logger.WithError(err).WithField(LogFieldSession, a.sessionID).Warn("Reconnect attempt failed")
		// Feed the failure back through the disconnect path so the next
		// attempt backs off further or gives up.
		a.handleDisconnected("reconnect failed")
	}
}

func (a *ClientAdapter) cancelReconnectLocked() {
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
}

// persistAuth saves the stored JID so the factory can restore the device
// after a restart. The cryptographic session itself lives in the driver's
// own store.
func (a *ClientAdapter) persistAuth() {
	a.mu.Lock()
	jid := a.jid
	a.mu.Unlock()
	if jid == "" || a.auth == nil {
		return
	}
	if err := a.auth.Save(a.runCtx, a.sessionID, []byte(jid)); err != nil {
		a.logger.WithError(err).WithField(LogFieldSession, a.sessionID).Warn("Failed to persist auth blob")
	}
}

// startBackupLoop refreshes the auth blob on an interval while the session
// is up, so its TTL never lapses on a long-lived connection.
func (a *ClientAdapter) startBackupLoop() {
	a.backupOnce.Do(func() {
		if a.cfg.BackupInterval <= 0 {
			return
		}
		go func() {
			ticker := time.NewTicker(a.cfg.BackupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if a.Status() == models.SessionStatusActive {
						a.persistAuth()
					}
				case <-a.backupStop:
					return
				case <-a.runCtx.Done():
					return
				}
			}
		}()
	})
}

func (a *ClientAdapter) setStatus(status models.SessionStatus, reason string) {
	a.mu.Lock()
	if a.status == status {
		a.mu.Unlock()
		return
	}
	a.status = status
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		LogFieldSession: a.sessionID,
		LogFieldTeam:    a.tenant.TeamID,
		"status":        status,
		LogFieldReason:  reason,
	}).Info("Session status changed")

	if a.onStatus != nil {
		a.onStatus(status, reason)
	}
}
