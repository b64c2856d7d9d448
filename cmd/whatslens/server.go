package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"whatslens/internal/analytics"
	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/middleware"
	"whatslens/internal/models"
	"whatslens/internal/service"
	"whatslens/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SessionManager is the session lifecycle surface the control plane exposes.
type SessionManager interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	GetQR(ctx context.Context, sessionID string) (*models.QRCodePayload, error)
	RefreshQR(ctx context.Context, sessionID string) error
	LogoutSession(ctx context.Context, sessionID string) error
	TerminateSession(ctx context.Context, sessionID string) error
	Health(ctx context.Context) []models.SessionHealth
}

// MessageService serves outbound sends and message reads.
type MessageService interface {
	Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	List(ctx context.Context, filter models.MessageFilter) ([]models.Message, error)
	UnreadCount(ctx context.Context, chatID string) (int, error)
	MarkRead(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	MarkConversationRead(ctx context.Context, conversationID string) (int64, error)
}

// ConversationService serves the inbox views.
type ConversationService interface {
	List(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int, error)
	Get(ctx context.Context, id string, limit, offset int) (*service.ConversationDetail, error)
	Update(ctx context.Context, id string, req models.UpdateConversationRequest) (*models.Conversation, error)
	Close(ctx context.Context, id string) (*models.Conversation, error)
	Archive(ctx context.Context, id string) (*models.Conversation, error)
}

// ContactService serves the synced address book.
type ContactService interface {
	Get(ctx context.Context, phone string) (*models.Contact, error)
	List(ctx context.Context, filter models.ContactFilter) ([]models.Contact, int, error)
	Update(ctx context.Context, phone string, req models.UpdateContactRequest) (*models.Contact, error)
}

// AnalyticsService serves the aggregated dashboard queries.
type AnalyticsService interface {
	Overview(ctx context.Context, tr models.TimeRange) (*analytics.Overview, error)
	Collect(ctx context.Context, names []string, tr models.TimeRange, interval models.BucketInterval) (map[string]interface{}, error)
	Timeseries(ctx context.Context, metric string, tr models.TimeRange, interval models.BucketInterval) ([]models.VolumeBucket, error)
}

// MetricProvider serves the attribution and cohort aggregations.
type MetricProvider interface {
	Attribution(ctx context.Context, model models.AttributionModel, tr models.TimeRange) (*analytics.ChannelAttribution, error)
	Cohorts(ctx context.Context, cohortType models.CohortType, tr models.TimeRange) ([]models.CohortRow, error)
}

// RealtimeService serves the live dashboard snapshots.
type RealtimeService interface {
	LiveMetrics(ctx context.Context) (*models.LiveMetrics, error)
	ActiveConversations(ctx context.Context, limit int) ([]models.ActiveConversation, error)
	FunnelDistribution(ctx context.Context) ([]models.FunnelSlice, error)
}

// ReportService generates and serves downloadable report artifacts.
type ReportService interface {
	Generate(ctx context.Context, req models.GenerateReportRequest) (*models.ReportMeta, error)
	History(ctx context.Context) ([]models.ReportMeta, error)
	Download(ctx context.Context, reportID string) (string, *models.ReportMeta, error)
}

// CorrelationService runs identity correlation and serves its results.
type CorrelationService interface {
	CorrelateIdentity(ctx context.Context, req models.CorrelationRequest) (*models.CorrelationResult, error)
	ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]models.UserIdentityCorrelation, int, error)
	GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error)
	DeleteCorrelation(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*models.CorrelationStats, error)
}

// VerificationService is the manual review surface.
type VerificationService interface {
	GetPendingVerifications(ctx context.Context, tenant models.TenantContext, limit int) ([]models.VerificationItem, error)
	ApproveCorrelation(ctx context.Context, tenant models.TenantContext, correlationID, verifiedBy string, adjustedConfidence *float64) error
	RejectCorrelation(ctx context.Context, tenant models.TenantContext, correlationID, verifiedBy, reason string) error
	AnalyzeVerificationPatterns(ctx context.Context, tenant models.TenantContext) (*models.PatternAnalysis, error)
}

// NotificationService serves the per-user notification feed.
type NotificationService interface {
	List(ctx context.Context, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
	Dismiss(ctx context.Context, id string) error
	Preferences(ctx context.Context) (models.NotificationPreferences, error)
	UpdatePreferences(ctx context.Context, prefs models.NotificationPreferences) error
}

// Services bundles everything the HTTP layer fronts.
type Services struct {
	Sessions      SessionManager
	Messages      MessageService
	Conversations ConversationService
	Contacts      ContactService
	Analytics     AnalyticsService
	Metrics       MetricProvider
	Realtime      RealtimeService
	Reports       ReportService
	Correlations  CorrelationService
	Verification  VerificationService
	Notifications NotificationService
}

type Server struct {
	router    *mux.Router
	server    *http.Server
	svc       Services
	verifier  *middleware.Verifier
	limiter   middleware.Limiter
	wsHandler http.Handler
	cfg       *models.Config
	logger    *logrus.Logger
}

func NewServer(cfg *models.Config, svc Services, verifier *middleware.Verifier, limiter middleware.Limiter, wsHandler http.Handler, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		svc:       svc,
		verifier:  verifier,
		limiter:   limiter,
		wsHandler: wsHandler,
		cfg:       cfg,
		logger:    logger,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(versioning.NewVersionMiddleware(s.logger).VersionHandler)
	s.router.Use(middleware.CORS(s.cfg.Server.CORSOrigins))
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	if s.wsHandler != nil {
		s.router.Handle("/ws", s.wsHandler).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(middleware.RateLimit(s.limiter, s.cfg.Server.RateLimitMax, s.cfg.Server.RateLimitWindow, s.logger))
	}
	api.Use(middleware.Auth(s.verifier, s.logger))

	sessions := api.PathPrefix("/whatsapp/sessions").Subrouter()
	sessions.HandleFunc("", s.handleListSessions()).Methods(http.MethodGet)
	sessions.HandleFunc("", s.handleCreateSession()).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/status", s.handleSessionStatus()).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/qr", s.handleSessionQR()).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/qr/refresh", s.handleRefreshQR()).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/logout", s.handleLogoutSession()).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}", s.handleTerminateSession()).Methods(http.MethodDelete)

	messages := api.PathPrefix("/messages").Subrouter()
	messages.HandleFunc("", s.handleListMessages()).Methods(http.MethodGet)
	messages.HandleFunc("", s.handleSendMessage()).Methods(http.MethodPost)
	messages.HandleFunc("/unread-count", s.handleUnreadCount()).Methods(http.MethodGet)
	messages.HandleFunc("/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	messages.HandleFunc("/{id}", s.handleDeleteMessage()).Methods(http.MethodDelete)
	messages.HandleFunc("/{id}/read", s.handleMarkMessageRead()).Methods(http.MethodPost)

	conversations := api.PathPrefix("/conversations").Subrouter()
	conversations.HandleFunc("", s.handleListConversations()).Methods(http.MethodGet)
	conversations.HandleFunc("/{id}", s.handleGetConversation()).Methods(http.MethodGet)
	conversations.HandleFunc("/{id}", s.handleUpdateConversation()).Methods(http.MethodPatch)
	conversations.HandleFunc("/{id}/close", s.handleCloseConversation()).Methods(http.MethodPost)
	conversations.HandleFunc("/{id}/archive", s.handleArchiveConversation()).Methods(http.MethodPost)
	conversations.HandleFunc("/{id}/read", s.handleMarkConversationRead()).Methods(http.MethodPost)

	contacts := api.PathPrefix("/contacts").Subrouter()
	contacts.HandleFunc("", s.handleListContacts()).Methods(http.MethodGet)
	contacts.HandleFunc("/{phone}", s.handleGetContact()).Methods(http.MethodGet)
	contacts.HandleFunc("/{phone}", s.handleUpdateContact()).Methods(http.MethodPatch)

	analyticsAPI := api.PathPrefix("/analytics").Subrouter()
	analyticsAPI.HandleFunc("/overview", s.handleAnalyticsOverview()).Methods(http.MethodGet)
	analyticsAPI.HandleFunc("/metrics", s.handleCollectMetrics()).Methods(http.MethodPost)
	analyticsAPI.HandleFunc("/timeseries", s.handleTimeseries()).Methods(http.MethodGet)
	analyticsAPI.HandleFunc("/funnel", s.handleFunnel()).Methods(http.MethodGet)
	analyticsAPI.HandleFunc("/attribution", s.handleAttribution()).Methods(http.MethodGet)
	analyticsAPI.HandleFunc("/cohorts", s.handleCohorts()).Methods(http.MethodGet)
	analyticsAPI.HandleFunc("/realtime", s.handleRealtime()).Methods(http.MethodGet)
	analyticsAPI.HandleFunc("/realtime/active", s.handleActiveConversations()).Methods(http.MethodGet)

	reports := api.PathPrefix("/reports").Subrouter()
	reports.HandleFunc("/generate", s.handleGenerateReport()).Methods(http.MethodPost)
	reports.HandleFunc("/history", s.handleReportHistory()).Methods(http.MethodGet)
	reports.HandleFunc("/{id}/download", s.handleDownloadReport()).Methods(http.MethodGet)

	correlations := api.PathPrefix("/correlations").Subrouter()
	correlations.HandleFunc("", s.handleListCorrelations()).Methods(http.MethodGet)
	correlations.HandleFunc("", s.handleCorrelateIdentity()).Methods(http.MethodPost)
	correlations.HandleFunc("/stats", s.handleCorrelationStats()).Methods(http.MethodGet)
	correlations.HandleFunc("/pending", s.handlePendingVerifications()).Methods(http.MethodGet)
	correlations.HandleFunc("/patterns", s.handleVerificationPatterns()).Methods(http.MethodGet)
	correlations.HandleFunc("/{id}", s.handleGetCorrelation()).Methods(http.MethodGet)
	correlations.HandleFunc("/{id}", s.handleDeleteCorrelation()).Methods(http.MethodDelete)
	correlations.HandleFunc("/{id}/verify", s.handleVerifyCorrelation()).Methods(http.MethodPost)

	notifications := api.PathPrefix("/notifications").Subrouter()
	notifications.HandleFunc("", s.handleListNotifications()).Methods(http.MethodGet)
	notifications.HandleFunc("/unread-count", s.handleNotificationUnreadCount()).Methods(http.MethodGet)
	notifications.HandleFunc("/read-all", s.handleMarkAllNotificationsRead()).Methods(http.MethodPost)
	notifications.HandleFunc("/preferences", s.handleGetNotificationPreferences()).Methods(http.MethodGet)
	notifications.HandleFunc("/preferences", s.handleUpdateNotificationPreferences()).Methods(http.MethodPut)
	notifications.HandleFunc("/{id}/read", s.handleMarkNotificationRead()).Methods(http.MethodPost)
	notifications.HandleFunc("/{id}", s.handleDismissNotification()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// pageParams reads limit/offset, clamping limit to the API maximum.
func pageParams(r *http.Request) (limit, offset int) {
	limit = constants.DefaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > constants.MaxPageLimit {
		limit = constants.MaxPageLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

// timeRangeParams reads an RFC 3339 start/end pair, defaulting to the
// trailing thirty days.
func timeRangeParams(r *http.Request) (models.TimeRange, error) {
	q := r.URL.Query()
	end := time.Now()
	start := end.AddDate(0, 0, -30)

	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return models.TimeRange{}, apperrors.NewValidationError("end", "must be an RFC 3339 timestamp")
		}
		end = t
		start = end.AddDate(0, 0, -30)
	}
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return models.TimeRange{}, apperrors.NewValidationError("start", "must be an RFC 3339 timestamp")
		}
		start = t
	}

	tr := models.TimeRange{Start: start, End: end}
	if !tr.Valid() {
		return models.TimeRange{}, apperrors.NewValidationError("start", "must be before end")
	}
	return tr, nil
}
