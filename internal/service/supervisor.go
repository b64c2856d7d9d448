package service

import (
	"context"
	"encoding/base64"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/pkg/wadriver"
)

// SessionStore is the session persistence surface the supervisor depends on.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetSessionByName(ctx context.Context, name string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error
	UpdateSessionQR(ctx context.Context, id, qrCode string) error
	MarkSessionAuthenticated(ctx context.Context, id, phoneNumber string) error
	TouchSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
}

// QRCache stores rendered QR payloads under qr:{sessionId} with a TTL.
type QRCache interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Publisher pushes envelopes to team and realtime channels.
type Publisher interface {
	PublishTeam(ctx context.Context, teamID, eventType, sessionID string, payload interface{}) error
	PublishRealtime(ctx context.Context, teamID, eventType string, payload interface{}) error
}

// MediaFetcher downloads the payload of a media message.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, msg *wadriver.RawMessage) (*wadriver.Media, error)
}

// MessageSink consumes raw driver messages for canonicalization and storage.
type MessageSink interface {
	HandleRaw(ctx context.Context, tenant models.TenantContext, sessionID string, raw *wadriver.RawMessage, media MediaFetcher)
	HandleAck(ctx context.Context, tenant models.TenantContext, sessionID string, ack *wadriver.Ack)
}

// EventSink records observability events. Record writes synchronously;
// Enqueue defers to the batch pipeline.
type EventSink interface {
	Record(ctx context.Context, tenant models.TenantContext, sessionID, eventType string, data map[string]interface{}) error
	Enqueue(ctx context.Context, tenant models.TenantContext, sessionID, eventType string, data map[string]interface{}) error
}

// StatusNotifier produces user-facing notifications for lifecycle changes.
type StatusNotifier interface {
	SessionStatusChanged(ctx context.Context, tenant models.TenantContext, session *models.Session, status models.SessionStatus, reason string)
}

// ContactSyncer imports a session's address book once it authenticates.
type ContactSyncer interface {
	SyncSession(ctx context.Context, tenant models.TenantContext, fetch ContactFetcher)
}

// SessionInfo is the supervisor's in-memory view of one tracked session.
// Adapter is nil for dormant sessions (tracked rows without a connection).
type SessionInfo struct {
	Session      models.Session
	Tenant       models.TenantContext
	Adapter      *ClientAdapter
	Status       models.SessionStatus
	LastActivity time.Time
}

// Supervisor owns the lifecycle of every WhatsApp session in the process.
// One instance per process; all registry mutations are serialized so
// admission control cannot race with cleanup.
type Supervisor struct {
	store    SessionStore
	cache    QRCache
	bus      Publisher
	factory  wadriver.Factory
	auth     wadriver.AuthStore
	messages MessageSink
	events   EventSink
	notifier StatusNotifier
	cfg      models.SessionConfig
	features models.FeatureToggles
	logger   *logrus.Logger

	syncer ContactSyncer

	mu       sync.RWMutex
	sessions map[string]*SessionInfo
	teams    map[string]map[string]struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// printQR renders pairing codes on the terminal, for development.
	printQR bool
}

func NewSupervisor(
	store SessionStore,
	cache QRCache,
	publisher Publisher,
	factory wadriver.Factory,
	auth wadriver.AuthStore,
	messages MessageSink,
	events EventSink,
	notifier StatusNotifier,
	cfg models.SessionConfig,
	features models.FeatureToggles,
	logger *logrus.Logger,
) *Supervisor {
	return &Supervisor{
		store:    store,
		cache:    cache,
		bus:      publisher,
		factory:  factory,
		auth:     auth,
		messages: messages,
		events:   events,
		notifier: notifier,
		cfg:      cfg,
		features: features,
		logger:   logger,
		sessions: make(map[string]*SessionInfo),
		teams:    make(map[string]map[string]struct{}),
		baseCtx:  context.Background(),
		stopCh:   make(chan struct{}),
		printQR:  os.Getenv("WHATSLENS_QR_TERMINAL") == "true",
	}
}

// SetContactSyncer wires the contact book import. Optional.
func (s *Supervisor) SetContactSyncer(syncer ContactSyncer) {
	s.syncer = syncer
}

// Run restores previously live sessions and starts the health monitor. It
// returns immediately; background work stops when ctx is cancelled or
// Shutdown is called.
func (s *Supervisor) Run(ctx context.Context) error {
	s.baseCtx, s.cancel = context.WithCancel(ctx)

	if err := s.restoreSessions(s.baseCtx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.monitorLoop()
	return nil
}

// CreateSession admits a new session for the calling tenant, inserts its
// row and spawns driver initialization asynchronously. The returned row is
// in status authenticating; callers poll the QR endpoint to pair.
func (s *Supervisor) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if req.Name == "" {
		return nil, apperrors.NewValidationError("name", "session name is required")
	}

	existing, err := s.store.GetSessionByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.NewConflictError("session", "a session with this name already exists")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	teamSet := s.teams[tenant.TeamID]
	if len(teamSet) >= s.cfg.MaxPerTeam {
		return nil, apperrors.NewSessionLimitError(tenant.TeamID, s.cfg.MaxPerTeam)
	}
	for id := range teamSet {
		if info := s.sessions[id]; info != nil && info.Status.Live() {
			return nil, apperrors.NewConflictError("session", "team already has a connected session")
		}
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		TeamID:    tenant.TeamID,
		Name:      req.Name,
		Status:    models.SessionStatusAuthenticating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.PhoneNumber != "" {
		session.PhoneNumber = &req.PhoneNumber
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	info := &SessionInfo{
		Session:      *session,
		Tenant:       tenant,
		Status:       models.SessionStatusAuthenticating,
		LastActivity: now,
	}
	s.trackLocked(info)

	go s.launch(info, "")

	return session, nil
}

// launch builds a driver for the session and starts its adapter. A non-empty
// jid restores an existing device instead of pairing a new one.
func (s *Supervisor) launch(info *SessionInfo, jid string) {
	ctx := models.WithTenant(s.baseCtx, info.Tenant)
	log := s.logger.WithFields(logrus.Fields{
		LogFieldSession: info.Session.ID,
		LogFieldTeam:    info.Tenant.TeamID,
	})

	driver, err := s.factory.NewDriver(ctx, wadriver.Options{
		SessionID:         info.Session.ID,
		JID:               jid,
		EnableGroupEvents: s.features.EnableGroups,
		EnableCallEvents:  s.features.EnableCalls,
	})
	if err != nil {
		log.WithError(err).Error("Failed to build driver")
		s.markFailed(ctx, info, "driver construction failed")
		return
	}

	adapter := NewClientAdapter(info.Session.ID, info.Tenant, driver, s.auth, s.cfg, s.logger)
	adapter.OnQR(func(code string) { s.persistQR(info, code) })
	adapter.OnStatusChange(func(status models.SessionStatus, reason string) {
		s.onSessionStatus(info, adapter, status, reason)
	})
	s.wireMessageEvents(info, adapter)

	s.mu.Lock()
	info.Adapter = adapter
	s.mu.Unlock()

	if err := adapter.Start(ctx); err != nil {
		log.WithError(err).Error("Driver initialization failed")
		s.markFailed(ctx, info, "initialization failed")
	}
}

func (s *Supervisor) wireMessageEvents(info *SessionInfo, adapter *ClientAdapter) {
	raw := func(payload interface{}) {
		msg, ok := payload.(*wadriver.RawMessage)
		if !ok || msg == nil {
			return
		}
		s.touchActivity(info)
		ctx := models.WithTenant(s.baseCtx, info.Tenant)
		s.messages.HandleRaw(ctx, info.Tenant, info.Session.ID, msg, adapter)
	}
	adapter.On(wadriver.EventMessage, raw)
	adapter.On(wadriver.EventMessageCreate, raw)

	adapter.On(wadriver.EventMessageAck, func(payload interface{}) {
		ack, ok := payload.(*wadriver.Ack)
		if !ok || ack == nil {
			return
		}
		ctx := models.WithTenant(s.baseCtx, info.Tenant)
		s.messages.HandleAck(ctx, info.Tenant, info.Session.ID, ack)
	})

	adapter.On(wadriver.EventMessageRevokeEveryone, func(payload interface{}) {
		rev, ok := payload.(*wadriver.Revocation)
		if !ok || rev == nil {
			return
		}
		ctx := models.WithTenant(s.baseCtx, info.Tenant)
		s.enqueueEvent(ctx, info, "message_revoked", map[string]interface{}{
			"messageId": rev.MessageID,
			"chatId":    rev.ChatID,
		})
	})

	if s.features.EnableGroups {
		group := func(payload interface{}) {
			upd, ok := payload.(*wadriver.GroupUpdate)
			if !ok || upd == nil {
				return
			}
			ctx := models.WithTenant(s.baseCtx, info.Tenant)
			s.enqueueEvent(ctx, info, "group_update", map[string]interface{}{
				"groupJid": upd.GroupJID,
				"action":   upd.Action,
			})
		}
		adapter.On(wadriver.EventGroupJoin, group)
		adapter.On(wadriver.EventGroupLeave, group)
		adapter.On(wadriver.EventGroupUpdate, group)
	}

	if s.features.EnableCalls {
		adapter.On(wadriver.EventCall, func(payload interface{}) {
			call, ok := payload.(*wadriver.CallInfo)
			if !ok || call == nil {
				return
			}
			ctx := models.WithTenant(s.baseCtx, info.Tenant)
			s.enqueueEvent(ctx, info, "call_received", map[string]interface{}{
				"callId": call.CallID,
				"from":   call.From,
			})
		})
	}
}

func (s *Supervisor) enqueueEvent(ctx context.Context, info *SessionInfo, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Enqueue(ctx, info.Tenant, info.Session.ID, eventType, data); err != nil {
		s.logger.WithError(err).WithField(LogFieldSession, info.Session.ID).Warn("Failed to enqueue event")
	}
}

// persistQR stores the pairing code in the row and the cache. Failures are
// logged but never fail the session; a fresh code arrives on the next cycle.
func (s *Supervisor) persistQR(info *SessionInfo, code string) {
	ctx := models.WithTenant(s.baseCtx, info.Tenant)
	log := s.logger.WithField(LogFieldSession, info.Session.ID)

	if err := s.store.UpdateSessionQR(ctx, info.Session.ID, code); err != nil {
		log.WithError(err).Warn("Failed to persist QR code")
	}

	payload := models.QRCodePayload{
		SessionID: info.Session.ID,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(s.cfg.QRCodeExpiry),
	}
	if png, err := qrcode.Encode(code, qrcode.Medium, constants.QRCodeImageSize); err == nil {
		payload.ImagePNG = base64.StdEncoding.EncodeToString(png)
	} else {
		log.WithError(err).Warn("Failed to render QR image")
	}

	if err := s.cache.SetJSON(ctx, qrCacheKey(info.Session.ID), payload, s.cfg.QRCodeExpiry); err != nil {
		log.WithError(err).Warn("Failed to cache QR code")
	}

	if s.printQR {
		qrterminal.GenerateWithConfig(code, qrterminal.Config{
			Level:      qrterminal.L,
			Writer:     os.Stdout,
			HalfBlocks: true,
		})
	}

	if err := s.bus.PublishRealtime(ctx, info.Tenant.TeamID, "qr_updated", payload); err != nil {
		log.WithError(err).Warn("Failed to publish QR update")
	}
}

func (s *Supervisor) onSessionStatus(info *SessionInfo, adapter *ClientAdapter, status models.SessionStatus, reason string) {
	ctx := models.WithTenant(s.baseCtx, info.Tenant)
	log := s.logger.WithFields(logrus.Fields{
		LogFieldSession: info.Session.ID,
		"status":        status,
	})

	s.mu.Lock()
	info.Status = status
	if status == models.SessionStatusActive {
		info.LastActivity = time.Now().UTC()
	}
	s.mu.Unlock()

	if status == models.SessionStatusActive {
		if driverInfo, err := adapter.GetInfo(); err == nil && driverInfo.PhoneNumber != "" {
			if err := s.store.MarkSessionAuthenticated(ctx, info.Session.ID, driverInfo.PhoneNumber); err != nil {
				log.WithError(err).Error("Failed to mark session authenticated")
			}
			s.mu.Lock()
			info.Session.PhoneNumber = &driverInfo.PhoneNumber
			s.mu.Unlock()
		} else if err := s.store.UpdateSessionStatus(ctx, info.Session.ID, status); err != nil {
			log.WithError(err).Error("Failed to update session status")
		}
		// Pairing done, the code is useless now.
		if err := s.cache.Delete(ctx, qrCacheKey(info.Session.ID)); err != nil {
			log.WithError(err).Debug("Failed to drop cached QR code")
		}
		if s.syncer != nil {
			go s.syncer.SyncSession(ctx, info.Tenant, adapter)
		}
	} else {
		if err := s.store.UpdateSessionStatus(ctx, info.Session.ID, status); err != nil {
			log.WithError(err).Error("Failed to update session status")
		}
	}

	statusData := map[string]interface{}{
		"status": string(status),
		"reason": reason,
	}
	if err := s.bus.PublishTeam(ctx, info.Tenant.TeamID, "session_status", info.Session.ID, statusData); err != nil {
		log.WithError(err).Warn("Failed to publish session status")
	}
	if s.events != nil {
		if err := s.events.Record(ctx, info.Tenant, info.Session.ID, "session_status", statusData); err != nil {
			log.WithError(err).Warn("Failed to record session status event")
		}
	}
	if s.notifier != nil {
		session := s.snapshot(info)
		s.notifier.SessionStatusChanged(ctx, info.Tenant, &session, status, reason)
	}
}

func (s *Supervisor) markFailed(ctx context.Context, info *SessionInfo, reason string) {
	s.mu.Lock()
	info.Status = models.SessionStatusFailed
	s.mu.Unlock()
	if err := s.store.UpdateSessionStatus(ctx, info.Session.ID, models.SessionStatusFailed); err != nil {
		s.logger.WithError(err).WithField(LogFieldSession, info.Session.ID).Error("Failed to mark session failed")
	}
	if err := s.bus.PublishTeam(ctx, info.Tenant.TeamID, "session_status", info.Session.ID, map[string]interface{}{
		"status": string(models.SessionStatusFailed),
		"reason": reason,
	}); err != nil {
		s.logger.WithError(err).WithField(LogFieldSession, info.Session.ID).Warn("Failed to publish session status")
	}
}

// GetSession returns the row for one session.
func (s *Supervisor) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NewNotFoundError("session", id)
	}
	return session, nil
}

// ListSessions returns every non-deleted session for the calling tenant.
func (s *Supervisor) ListSessions(ctx context.Context) ([]models.Session, error) {
	return s.store.ListSessions(ctx)
}

// GetActiveSessionByTeam returns the team's live session, or nil when the
// team has none.
func (s *Supervisor) GetActiveSessionByTeam(teamID string) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.teams[teamID] {
		if info := s.sessions[id]; info != nil && info.Status.Live() {
			session := info.Session
			session.Status = info.Status
			return &session
		}
	}
	return nil
}

// Adapter returns the live adapter for a session. Callers get a
// session_disconnected error for dormant or unknown sessions.
func (s *Supervisor) Adapter(sessionID string) (*ClientAdapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.sessions[sessionID]
	if !ok || info.Adapter == nil {
		return nil, apperrors.NewSessionDisconnectedError(sessionID)
	}
	return info.Adapter, nil
}

// Connection resolves a session to its live connection, enforcing that the
// session belongs to the calling tenant. Unknown and foreign sessions both
// read as not found so session ids cannot be probed across teams.
func (s *Supervisor) Connection(ctx context.Context, sessionID string) (SessionConnection, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}

	s.mu.RLock()
	info, tracked := s.sessions[sessionID]
	s.mu.RUnlock()

	if !tracked || info.Tenant.TeamID != tenant.TeamID {
		return nil, apperrors.NewNotFoundError("session", sessionID)
	}
	if info.Adapter == nil {
		return nil, apperrors.NewSessionDisconnectedError(sessionID)
	}
	return info.Adapter, nil
}

// GetQR returns the current pairing payload for a session, falling back to
// the persisted row when the cache entry has lapsed but the code is fresh.
func (s *Supervisor) GetQR(ctx context.Context, sessionID string) (*models.QRCodePayload, error) {
	var payload models.QRCodePayload
	found, err := s.cache.GetJSON(ctx, qrCacheKey(sessionID), &payload)
	if err != nil {
		s.logger.WithError(err).WithField(LogFieldSession, sessionID).Warn("QR cache read failed")
	}
	if found {
		return &payload, nil
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.QRCode != nil && *session.QRCode != "" {
		expiresAt := session.UpdatedAt.Add(s.cfg.QRCodeExpiry)
		if time.Now().UTC().Before(expiresAt) {
			return &models.QRCodePayload{
				SessionID: sessionID,
				Code:      *session.QRCode,
				ExpiresAt: expiresAt,
			}, nil
		}
	}
	return nil, apperrors.NewNotFoundError("qr code", sessionID)
}

// RefreshQR tears down the session's driver and relaunches it so the phone
// is offered a fresh pairing code.
func (s *Supervisor) RefreshQR(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	info, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return apperrors.NewNotFoundError("session", sessionID)
	}
	adapter := info.Adapter
	info.Adapter = nil
	info.Status = models.SessionStatusAuthenticating
	s.mu.Unlock()

	if adapter != nil {
		if err := adapter.Destroy(); err != nil {
			s.logger.WithError(err).WithField(LogFieldSession, sessionID).Warn("Failed to destroy driver for QR refresh")
		}
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID, models.SessionStatusAuthenticating); err != nil {
		return err
	}

	go s.launch(info, "")
	return nil
}

// LogoutSession revokes the session's registration on the phone and marks
// it disconnected. The row survives, so the session can be re-paired with a
// fresh QR; tracking keeps the entry as dormant.
func (s *Supervisor) LogoutSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	info, ok := s.sessions[sessionID]
	var adapter *ClientAdapter
	if ok {
		adapter = info.Adapter
		info.Adapter = nil
		info.Status = models.SessionStatusDisconnected
	}
	s.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError("session", sessionID)
	}

	if adapter != nil {
		if err := adapter.Logout(ctx); err != nil {
			s.logger.WithError(err).WithField(LogFieldSession, sessionID).Warn("Driver logout failed")
		}
	}
	if err := s.cache.Delete(ctx, qrCacheKey(sessionID)); err != nil {
		s.logger.WithError(err).Debug("Failed to drop cached QR code")
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID, models.SessionStatusDisconnected); err != nil {
		return err
	}

	if err := s.bus.PublishTeam(ctx, info.Tenant.TeamID, "session_status", sessionID, map[string]interface{}{
		"status": string(models.SessionStatusDisconnected),
		"reason": "logged_out",
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to publish session logout")
	}
	return nil
}

// TerminateSession logs the session out, removes it from tracking and
// soft-deletes its row. Logout failures are logged; cleanup always runs.
func (s *Supervisor) TerminateSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	info, ok := s.sessions[sessionID]
	if ok {
		s.untrackLocked(info)
	}
	s.mu.Unlock()

	if !ok {
		// Not tracked by this process; still soft-delete the row if present.
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return apperrors.NewNotFoundError("session", sessionID)
		}
		return s.store.DeleteSession(ctx, sessionID)
	}

	if info.Adapter != nil {
		if err := info.Adapter.Logout(ctx); err != nil {
			s.logger.WithError(err).WithField(LogFieldSession, sessionID).Warn("Logout failed during termination")
		}
	}

	if err := s.cache.Delete(ctx, qrCacheKey(sessionID)); err != nil {
		s.logger.WithError(err).Debug("Failed to drop cached QR code")
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	if err := s.bus.PublishTeam(ctx, info.Tenant.TeamID, "session_status", sessionID, map[string]interface{}{
		"status": string(models.SessionStatusDisconnected),
		"reason": "terminated",
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to publish session termination")
	}
	return nil
}

// CleanupInactiveSessions terminates sessions whose last activity is older
// than the idle timeout. Returns the number of sessions evicted.
func (s *Supervisor) CleanupInactiveSessions(ctx context.Context) int {
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().Add(-s.cfg.IdleTimeout)

	s.mu.RLock()
	var idle []*SessionInfo
	for _, info := range s.sessions {
		if info.LastActivity.Before(cutoff) {
			idle = append(idle, info)
		}
	}
	s.mu.RUnlock()

	evicted := 0
	for _, info := range idle {
		tctx := models.WithTenant(ctx, info.Tenant)
		if err := s.TerminateSession(tctx, info.Session.ID); err != nil {
			s.logger.WithError(err).WithField(LogFieldSession, info.Session.ID).Warn("Idle eviction failed")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			LogFieldSession: info.Session.ID,
			LogFieldTeam:    info.Tenant.TeamID,
		}).Info("Evicted idle session")
		evicted++
	}
	return evicted
}

// Health reports per-session health for the calling tenant.
func (s *Supervisor) Health(ctx context.Context) []models.SessionHealth {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SessionHealth
	for id := range s.teams[tenant.TeamID] {
		info := s.sessions[id]
		if info == nil {
			continue
		}
		healthy := false
		if info.Adapter != nil {
			healthy = info.Adapter.HealthCheck(ctx)
		}
		out = append(out, models.SessionHealth{
			SessionID: id,
			TeamID:    tenant.TeamID,
			Status:    info.Status,
			Healthy:   healthy,
			LastSeen:  info.LastActivity,
		})
	}
	return out
}

// Shutdown destroys every driver without revoking auth and clears the
// registry. Sessions resume from their stored auth blobs on the next boot.
func (s *Supervisor) Shutdown() {
	close(s.stopCh)
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	infos := make([]*SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		infos = append(infos, info)
	}
	s.sessions = make(map[string]*SessionInfo)
	s.teams = make(map[string]map[string]struct{})
	s.mu.Unlock()

	for _, info := range infos {
		if info.Adapter == nil {
			continue
		}
		if err := info.Adapter.Destroy(); err != nil {
			s.logger.WithError(err).WithField(LogFieldSession, info.Session.ID).Warn("Driver teardown failed")
		}
	}

	s.wg.Wait()
	s.logger.Info("Session supervisor stopped")
}

// restoreSessions reloads non-deleted rows on boot. Rows that were live
// when the process stopped reconnect from their stored auth blob; rows
// without one are marked disconnected.
func (s *Supervisor) restoreSessions(ctx context.Context) error {
	sysCtx := models.WithTenant(ctx, models.TenantContext{TeamID: "system", UserRole: models.RoleSystem})
	rows, err := s.store.ListSessions(sysCtx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageFailure, "failed to restore sessions")
	}

	for i := range rows {
		row := rows[i]
		tenant := models.SystemTenant(row.TeamID)
		info := &SessionInfo{
			Session:      row,
			Tenant:       tenant,
			Status:       row.Status,
			LastActivity: time.Now().UTC(),
		}
		s.mu.Lock()
		s.trackLocked(info)
		s.mu.Unlock()

		if !row.Status.Live() {
			continue
		}

		tctx := models.WithTenant(ctx, tenant)
		blob, err := s.auth.Extract(tctx, row.ID)
		if err != nil || len(blob) == 0 {
			s.logger.WithField(LogFieldSession, row.ID).Warn("No auth blob for live session, marking disconnected")
			info.Status = models.SessionStatusDisconnected
			if err := s.store.UpdateSessionStatus(tctx, row.ID, models.SessionStatusDisconnected); err != nil {
				s.logger.WithError(err).Error("Failed to mark restored session disconnected")
			}
			continue
		}

		s.logger.WithFields(logrus.Fields{
			LogFieldSession: row.ID,
			LogFieldTeam:    row.TeamID,
		}).Info("Restoring session")
		go s.launch(info, string(blob))
	}
	return nil
}

// monitorLoop runs periodic health checks and refreshes last_seen_at for
// healthy sessions. Unhealthy drivers recover through their own disconnect
// path; the monitor only observes.
func (s *Supervisor) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(constants.DefaultHealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHealth()
		case <-s.stopCh:
			return
		case <-s.baseCtx.Done():
			return
		}
	}
}

func (s *Supervisor) checkHealth() {
	s.mu.RLock()
	infos := make([]*SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		if info.Adapter != nil && info.Status == models.SessionStatusActive {
			infos = append(infos, info)
		}
	}
	s.mu.RUnlock()

	for _, info := range infos {
		ctx := models.WithTenant(s.baseCtx, info.Tenant)
		if info.Adapter.HealthCheck(ctx) {
			if err := s.store.TouchSession(ctx, info.Session.ID); err != nil {
				s.logger.WithError(err).WithField(LogFieldSession, info.Session.ID).Debug("Failed to touch session")
			}
			continue
		}
		s.logger.WithField(LogFieldSession, info.Session.ID).Warn("Active session failed health check")
	}
}

func (s *Supervisor) touchActivity(info *SessionInfo) {
	s.mu.Lock()
	info.LastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Supervisor) snapshot(info *SessionInfo) models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session := info.Session
	session.Status = info.Status
	return session
}

func (s *Supervisor) trackLocked(info *SessionInfo) {
	s.sessions[info.Session.ID] = info
	set, ok := s.teams[info.Tenant.TeamID]
	if !ok {
		set = make(map[string]struct{})
		s.teams[info.Tenant.TeamID] = set
	}
	set[info.Session.ID] = struct{}{}
}

func (s *Supervisor) untrackLocked(info *SessionInfo) {
	delete(s.sessions, info.Session.ID)
	if set, ok := s.teams[info.Tenant.TeamID]; ok {
		delete(set, info.Session.ID)
		if len(set) == 0 {
			delete(s.teams, info.Tenant.TeamID)
		}
	}
}

func qrCacheKey(sessionID string) string { return "qr:" + sessionID }
