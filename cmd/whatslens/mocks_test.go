package main

import (
	"context"

	"whatslens/internal/analytics"
	"whatslens/internal/models"
	"whatslens/internal/service"
)

// The handler tests stub services with function fields so each test can
// pin down exactly the call it expects.

type stubSessions struct {
	createFn    func(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	getFn       func(ctx context.Context, id string) (*models.Session, error)
	listFn      func(ctx context.Context) ([]models.Session, error)
	qrFn        func(ctx context.Context, id string) (*models.QRCodePayload, error)
	refreshFn   func(ctx context.Context, id string) error
	logoutFn    func(ctx context.Context, id string) error
	terminateFn func(ctx context.Context, id string) error
}

func (s *stubSessions) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	return s.createFn(ctx, req)
}

func (s *stubSessions) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.getFn(ctx, id)
}

func (s *stubSessions) ListSessions(ctx context.Context) ([]models.Session, error) {
	return s.listFn(ctx)
}

func (s *stubSessions) GetQR(ctx context.Context, id string) (*models.QRCodePayload, error) {
	return s.qrFn(ctx, id)
}

func (s *stubSessions) RefreshQR(ctx context.Context, id string) error { return s.refreshFn(ctx, id) }

func (s *stubSessions) LogoutSession(ctx context.Context, id string) error {
	return s.logoutFn(ctx, id)
}

func (s *stubSessions) TerminateSession(ctx context.Context, id string) error {
	return s.terminateFn(ctx, id)
}

func (s *stubSessions) Health(ctx context.Context) []models.SessionHealth { return nil }

type stubMessages struct {
	sendFn        func(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	getFn         func(ctx context.Context, id string) (*models.Message, error)
	listFn        func(ctx context.Context, filter models.MessageFilter) ([]models.Message, error)
	unreadFn      func(ctx context.Context, chatID string) (int, error)
	markReadFn    func(ctx context.Context, id string) error
	deleteFn      func(ctx context.Context, id string) error
	markConvoFn func(ctx context.Context, conversationID string) (int64, error)
}

func (m *stubMessages) Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	return m.sendFn(ctx, req)
}

func (m *stubMessages) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return m.getFn(ctx, id)
}

func (m *stubMessages) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	return m.listFn(ctx, filter)
}

func (m *stubMessages) UnreadCount(ctx context.Context, chatID string) (int, error) {
	return m.unreadFn(ctx, chatID)
}

func (m *stubMessages) MarkRead(ctx context.Context, id string) error { return m.markReadFn(ctx, id) }

func (m *stubMessages) Delete(ctx context.Context, id string) error { return m.deleteFn(ctx, id) }

func (m *stubMessages) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	return m.markConvoFn(ctx, conversationID)
}

type stubConversations struct {
	listFn    func(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int, error)
	getFn     func(ctx context.Context, id string, limit, offset int) (*service.ConversationDetail, error)
	updateFn  func(ctx context.Context, id string, req models.UpdateConversationRequest) (*models.Conversation, error)
	closeFn   func(ctx context.Context, id string) (*models.Conversation, error)
	archiveFn func(ctx context.Context, id string) (*models.Conversation, error)
}

func (c *stubConversations) List(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int, error) {
	return c.listFn(ctx, filter)
}

func (c *stubConversations) Get(ctx context.Context, id string, limit, offset int) (*service.ConversationDetail, error) {
	return c.getFn(ctx, id, limit, offset)
}

func (c *stubConversations) Update(ctx context.Context, id string, req models.UpdateConversationRequest) (*models.Conversation, error) {
	return c.updateFn(ctx, id, req)
}

func (c *stubConversations) Close(ctx context.Context, id string) (*models.Conversation, error) {
	return c.closeFn(ctx, id)
}

func (c *stubConversations) Archive(ctx context.Context, id string) (*models.Conversation, error) {
	return c.archiveFn(ctx, id)
}

type stubNotifications struct {
	listFn        func(ctx context.Context, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	unreadFn      func(ctx context.Context) (int, error)
	markReadFn    func(ctx context.Context, id string) error
	markAllFn     func(ctx context.Context) (int64, error)
	dismissFn     func(ctx context.Context, id string) error
	prefsFn       func(ctx context.Context) (models.NotificationPreferences, error)
	updatePrefsFn func(ctx context.Context, prefs models.NotificationPreferences) error
}

func (n *stubNotifications) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	return n.listFn(ctx, unreadOnly, limit, offset)
}

func (n *stubNotifications) UnreadCount(ctx context.Context) (int, error) { return n.unreadFn(ctx) }

func (n *stubNotifications) MarkRead(ctx context.Context, id string) error {
	return n.markReadFn(ctx, id)
}

func (n *stubNotifications) MarkAllRead(ctx context.Context) (int64, error) {
	return n.markAllFn(ctx)
}

func (n *stubNotifications) Dismiss(ctx context.Context, id string) error {
	return n.dismissFn(ctx, id)
}

func (n *stubNotifications) Preferences(ctx context.Context) (models.NotificationPreferences, error) {
	return n.prefsFn(ctx)
}

func (n *stubNotifications) UpdatePreferences(ctx context.Context, prefs models.NotificationPreferences) error {
	return n.updatePrefsFn(ctx, prefs)
}

type stubReports struct {
	generateFn func(ctx context.Context, req models.GenerateReportRequest) (*models.ReportMeta, error)
	historyFn  func(ctx context.Context) ([]models.ReportMeta, error)
	downloadFn func(ctx context.Context, reportID string) (string, *models.ReportMeta, error)
}

func (s *stubReports) Generate(ctx context.Context, req models.GenerateReportRequest) (*models.ReportMeta, error) {
	return s.generateFn(ctx, req)
}

func (s *stubReports) History(ctx context.Context) ([]models.ReportMeta, error) {
	return s.historyFn(ctx)
}

func (s *stubReports) Download(ctx context.Context, reportID string) (string, *models.ReportMeta, error) {
	return s.downloadFn(ctx, reportID)
}

type stubRealtime struct {
	liveFn   func(ctx context.Context) (*models.LiveMetrics, error)
	activeFn func(ctx context.Context, limit int) ([]models.ActiveConversation, error)
	funnelFn func(ctx context.Context) ([]models.FunnelSlice, error)
}

func (r *stubRealtime) LiveMetrics(ctx context.Context) (*models.LiveMetrics, error) {
	return r.liveFn(ctx)
}

func (r *stubRealtime) ActiveConversations(ctx context.Context, limit int) ([]models.ActiveConversation, error) {
	return r.activeFn(ctx, limit)
}

func (r *stubRealtime) FunnelDistribution(ctx context.Context) ([]models.FunnelSlice, error) {
	return r.funnelFn(ctx)
}

type stubCorrelations struct {
	correlateFn func(ctx context.Context, req models.CorrelationRequest) (*models.CorrelationResult, error)
	listFn      func(ctx context.Context, filter models.CorrelationFilter) ([]models.UserIdentityCorrelation, int, error)
	getFn       func(ctx context.Context, id string) (*models.UserIdentityCorrelation, error)
	deleteFn    func(ctx context.Context, id string) error
	statsFn     func(ctx context.Context) (*models.CorrelationStats, error)
}

func (c *stubCorrelations) CorrelateIdentity(ctx context.Context, req models.CorrelationRequest) (*models.CorrelationResult, error) {
	return c.correlateFn(ctx, req)
}

func (c *stubCorrelations) ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]models.UserIdentityCorrelation, int, error) {
	return c.listFn(ctx, filter)
}

func (c *stubCorrelations) GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error) {
	return c.getFn(ctx, id)
}

func (c *stubCorrelations) DeleteCorrelation(ctx context.Context, id string) error {
	return c.deleteFn(ctx, id)
}

func (c *stubCorrelations) GetStats(ctx context.Context) (*models.CorrelationStats, error) {
	return c.statsFn(ctx)
}

type stubVerification struct {
	pendingFn  func(ctx context.Context, tenant models.TenantContext, limit int) ([]models.VerificationItem, error)
	approveFn  func(ctx context.Context, tenant models.TenantContext, id, verifiedBy string, adjusted *float64) error
	rejectFn   func(ctx context.Context, tenant models.TenantContext, id, verifiedBy, reason string) error
	patternsFn func(ctx context.Context, tenant models.TenantContext) (*models.PatternAnalysis, error)
}

func (v *stubVerification) GetPendingVerifications(ctx context.Context, tenant models.TenantContext, limit int) ([]models.VerificationItem, error) {
	return v.pendingFn(ctx, tenant, limit)
}

func (v *stubVerification) ApproveCorrelation(ctx context.Context, tenant models.TenantContext, id, verifiedBy string, adjusted *float64) error {
	return v.approveFn(ctx, tenant, id, verifiedBy, adjusted)
}

func (v *stubVerification) RejectCorrelation(ctx context.Context, tenant models.TenantContext, id, verifiedBy, reason string) error {
	return v.rejectFn(ctx, tenant, id, verifiedBy, reason)
}

func (v *stubVerification) AnalyzeVerificationPatterns(ctx context.Context, tenant models.TenantContext) (*models.PatternAnalysis, error) {
	return v.patternsFn(ctx, tenant)
}

type stubAnalytics struct {
	overviewFn   func(ctx context.Context, tr models.TimeRange) (*analytics.Overview, error)
	collectFn    func(ctx context.Context, names []string, tr models.TimeRange, interval models.BucketInterval) (map[string]interface{}, error)
	timeseriesFn func(ctx context.Context, metric string, tr models.TimeRange, interval models.BucketInterval) ([]models.VolumeBucket, error)
}

func (a *stubAnalytics) Overview(ctx context.Context, tr models.TimeRange) (*analytics.Overview, error) {
	return a.overviewFn(ctx, tr)
}

func (a *stubAnalytics) Collect(ctx context.Context, names []string, tr models.TimeRange, interval models.BucketInterval) (map[string]interface{}, error) {
	return a.collectFn(ctx, names, tr, interval)
}

func (a *stubAnalytics) Timeseries(ctx context.Context, metric string, tr models.TimeRange, interval models.BucketInterval) ([]models.VolumeBucket, error) {
	return a.timeseriesFn(ctx, metric, tr, interval)
}
