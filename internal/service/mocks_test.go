package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"whatslens/internal/models"
	"whatslens/pkg/wadriver"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testTenant() models.TenantContext {
	return models.TenantContext{TeamID: "team-1", UserRole: models.RoleMember, UserID: "user-1"}
}

func tenantCtx(tenant models.TenantContext) context.Context {
	return models.WithTenant(context.Background(), tenant)
}

// Mock session store

type mockSessionStore struct {
	mock.Mock
}

func (m *mockSessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockSessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockSessionStore) GetSessionByName(ctx context.Context, name string) (*models.Session, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockSessionStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Session), args.Error(1)
}

func (m *mockSessionStore) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockSessionStore) UpdateSessionQR(ctx context.Context, id, qrCode string) error {
	args := m.Called(ctx, id, qrCode)
	return args.Error(0)
}

func (m *mockSessionStore) MarkSessionAuthenticated(ctx context.Context, id, phoneNumber string) error {
	args := m.Called(ctx, id, phoneNumber)
	return args.Error(0)
}

func (m *mockSessionStore) TouchSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionStore) DeleteSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Mock KV cache

type mockCache struct {
	mock.Mock
}

func (m *mockCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *mockCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	args := m.Called(ctx, key, dest)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) Delete(ctx context.Context, keys ...string) error {
	callArgs := make([]interface{}, 0, len(keys)+1)
	callArgs = append(callArgs, ctx)
	for _, key := range keys {
		callArgs = append(callArgs, key)
	}
	args := m.Called(callArgs...)
	return args.Error(0)
}

// Mock bus publisher

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishTeam(ctx context.Context, teamID, eventType, sessionID string, payload interface{}) error {
	args := m.Called(ctx, teamID, eventType, sessionID, payload)
	return args.Error(0)
}

func (m *mockPublisher) PublishRealtime(ctx context.Context, teamID, eventType string, payload interface{}) error {
	args := m.Called(ctx, teamID, eventType, payload)
	return args.Error(0)
}

// Mock event sink

type mockEventSink struct {
	mock.Mock
}

func (m *mockEventSink) Record(ctx context.Context, tenant models.TenantContext, sessionID, eventType string, data map[string]interface{}) error {
	args := m.Called(ctx, tenant, sessionID, eventType, data)
	return args.Error(0)
}

func (m *mockEventSink) Enqueue(ctx context.Context, tenant models.TenantContext, sessionID, eventType string, data map[string]interface{}) error {
	args := m.Called(ctx, tenant, sessionID, eventType, data)
	return args.Error(0)
}

// Mock message sink

type mockMessageSink struct {
	mock.Mock
}

func (m *mockMessageSink) HandleRaw(ctx context.Context, tenant models.TenantContext, sessionID string, raw *wadriver.RawMessage, media MediaFetcher) {
	m.Called(ctx, tenant, sessionID, raw, media)
}

func (m *mockMessageSink) HandleAck(ctx context.Context, tenant models.TenantContext, sessionID string, ack *wadriver.Ack) {
	m.Called(ctx, tenant, sessionID, ack)
}

// Mock status notifier

type mockStatusNotifier struct {
	mock.Mock
}

func (m *mockStatusNotifier) SessionStatusChanged(ctx context.Context, tenant models.TenantContext, session *models.Session, status models.SessionStatus, reason string) {
	m.Called(ctx, tenant, session, status, reason)
}

// Mock contact syncer

type mockContactSyncer struct {
	mock.Mock
}

func (m *mockContactSyncer) SyncSession(ctx context.Context, tenant models.TenantContext, fetch ContactFetcher) {
	m.Called(ctx, tenant, fetch)
}

// Mock message store

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *mockMessageStore) UpsertConversationOnMessage(ctx context.Context, teamID, contactPhone string, contactName *string, messageAt time.Time, inbound bool) (string, error) {
	args := m.Called(ctx, teamID, contactPhone, contactName, messageAt, inbound)
	return args.String(0), args.Error(1)
}

// Mock conversation store

type mockConversationStore struct {
	mock.Mock
}

func (m *mockConversationStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *mockConversationStore) ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.Conversation), args.Int(1), args.Error(2)
}

func (m *mockConversationStore) UpdateConversation(ctx context.Context, id string, req models.UpdateConversationRequest) error {
	args := m.Called(ctx, id, req)
	return args.Error(0)
}

func (m *mockConversationStore) ListStaleOpenConversations(ctx context.Context, cutoff time.Time) ([]models.Conversation, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

// Mock contact upserter

type mockContactUpserter struct {
	mock.Mock
}

func (m *mockContactUpserter) UpsertFromMessage(ctx context.Context, phone, pushName string, isGroup bool) error {
	args := m.Called(ctx, phone, pushName, isGroup)
	return args.Error(0)
}

// Mock correlator

type mockCorrelator struct {
	mock.Mock
}

func (m *mockCorrelator) CorrelateMessage(tenant models.TenantContext, msg *models.Message) {
	m.Called(tenant, msg)
}

// Mock media fetcher

type mockMediaFetcher struct {
	mock.Mock
}

func (m *mockMediaFetcher) DownloadMedia(ctx context.Context, msg *wadriver.RawMessage) (*wadriver.Media, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wadriver.Media), args.Error(1)
}

// Mock session connection

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) SendMessage(ctx context.Context, to, body string) (*wadriver.SendResult, error) {
	args := m.Called(ctx, to, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wadriver.SendResult), args.Error(1)
}

func (m *mockConnection) SendMedia(ctx context.Context, to string, media *wadriver.Media, caption string) (*wadriver.SendResult, error) {
	args := m.Called(ctx, to, media, caption)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wadriver.SendResult), args.Error(1)
}

// Mock connection provider

type mockConnectionProvider struct {
	mock.Mock
}

func (m *mockConnectionProvider) Connection(ctx context.Context, sessionID string) (SessionConnection, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(SessionConnection), args.Error(1)
}

// Mock session reader

type mockSessionReader struct {
	mock.Mock
}

func (m *mockSessionReader) GetSession(ctx context.Context, id string) (*models.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

// Mock message reader

type mockMessageReader struct {
	mock.Mock
}

func (m *mockMessageReader) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *mockMessageReader) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockMessageReader) ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockMessageReader) CountMessagesByConversation(ctx context.Context, conversationID string) (int, error) {
	args := m.Called(ctx, conversationID)
	return args.Int(0), args.Error(1)
}

func (m *mockMessageReader) CountUnreadMessages(ctx context.Context, chatID string) (int, error) {
	args := m.Called(ctx, chatID)
	return args.Int(0), args.Error(1)
}

func (m *mockMessageReader) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMessageReader) MarkMessageRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockMessageReader) DeleteMessage(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// Mock event store

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) SaveEvent(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockEventStore) SaveEventBatch(ctx context.Context, envelopes []models.EventEnvelope) error {
	args := m.Called(ctx, envelopes)
	return args.Error(0)
}

func (m *mockEventStore) DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// Mock contact store

type mockContactStore struct {
	mock.Mock
}

func (m *mockContactStore) UpsertContact(ctx context.Context, contact *models.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

func (m *mockContactStore) GetContactByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contact), args.Error(1)
}

func (m *mockContactStore) ListContacts(ctx context.Context, search string, limit, offset int) ([]models.Contact, int, error) {
	args := m.Called(ctx, search, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.Contact), args.Int(1), args.Error(2)
}

func (m *mockContactStore) UpdateContact(ctx context.Context, phoneNumber string, req models.UpdateContactRequest) (bool, error) {
	args := m.Called(ctx, phoneNumber, req)
	return args.Bool(0), args.Error(1)
}

// Mock contact fetcher

type mockContactFetcher struct {
	mock.Mock
}

func (m *mockContactFetcher) GetContacts(ctx context.Context) ([]wadriver.Contact, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]wadriver.Contact), args.Error(1)
}

// Mock notification store

type mockNotificationStore struct {
	mock.Mock
}

func (m *mockNotificationStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *mockNotificationStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, unreadOnly, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *mockNotificationStore) MarkNotificationRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockNotificationStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotificationStore) DismissNotification(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockNotificationStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationStore) DeleteOldNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// Fake driver. Hand-rolled so tests can fire protocol events into the
// adapter the way the real driver does.

type fakeDriver struct {
	mu           sync.Mutex
	handlers     map[wadriver.EventType]wadriver.Handler
	initErr      error
	initCalls    int
	destroyCalls int
	logoutCalls  int
	logoutErr    error
	ready        bool
	healthy      bool
	state        wadriver.State
	info         *wadriver.Info
	infoErr      error
	contacts     []wadriver.Contact
	contactsErr  error
	sendResult   *wadriver.SendResult
	sendErr      error
	media        *wadriver.Media
	mediaErr     error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		handlers: make(map[wadriver.EventType]wadriver.Handler),
		state:    wadriver.StateDisconnected,
	}
}

func (d *fakeDriver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	d.initCalls++
	err := d.initErr
	d.mu.Unlock()
	return err
}

func (d *fakeDriver) On(event wadriver.EventType, h wadriver.Handler) {
	d.mu.Lock()
	d.handlers[event] = h
	d.mu.Unlock()
}

func (d *fakeDriver) Off(event wadriver.EventType) {
	d.mu.Lock()
	delete(d.handlers, event)
	d.mu.Unlock()
}

// fire invokes the registered handler synchronously, like the real driver's
// event pump.
func (d *fakeDriver) fire(event wadriver.EventType, payload interface{}) {
	d.mu.Lock()
	h := d.handlers[event]
	d.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (d *fakeDriver) SendMessage(ctx context.Context, to, body string) (*wadriver.SendResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil, wadriver.ErrNotReady
	}
	return d.sendResult, d.sendErr
}

func (d *fakeDriver) SendMedia(ctx context.Context, to string, media *wadriver.Media, caption string) (*wadriver.SendResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil, wadriver.ErrNotReady
	}
	return d.sendResult, d.sendErr
}

func (d *fakeDriver) DownloadMedia(ctx context.Context, msg *wadriver.RawMessage) (*wadriver.Media, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.media, d.mediaErr
}

func (d *fakeDriver) GetState() wadriver.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDriver) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *fakeDriver) GetInfo() (*wadriver.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info, d.infoErr
}

func (d *fakeDriver) GetContacts(ctx context.Context) ([]wadriver.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contacts, d.contactsErr
}

func (d *fakeDriver) HealthCheck(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.healthy
}

func (d *fakeDriver) Logout(ctx context.Context) error {
	d.mu.Lock()
	d.logoutCalls++
	err := d.logoutErr
	d.mu.Unlock()
	return err
}

func (d *fakeDriver) Destroy() error {
	d.mu.Lock()
	d.destroyCalls++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) setReady(ready bool) {
	d.mu.Lock()
	d.ready = ready
	d.mu.Unlock()
}

func (d *fakeDriver) setInitErr(err error) {
	d.mu.Lock()
	d.initErr = err
	d.mu.Unlock()
}

func (d *fakeDriver) initCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initCalls
}

func (d *fakeDriver) destroyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyCalls
}

func (d *fakeDriver) logoutCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logoutCalls
}

// Fake factory handing out a prebuilt driver and recording options.

type fakeFactory struct {
	mu      sync.Mutex
	driver  *fakeDriver
	err     error
	created chan wadriver.Options
}

func newFakeFactory(driver *fakeDriver) *fakeFactory {
	return &fakeFactory{driver: driver, created: make(chan wadriver.Options, 8)}
}

func (f *fakeFactory) NewDriver(ctx context.Context, opts wadriver.Options) (wadriver.Driver, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case f.created <- opts:
	default:
	}
	return f.driver, nil
}

// Fake auth store, an in-memory blob map.

type fakeAuthStore struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	saveErr    error
	extractErr error
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{blobs: make(map[string][]byte)}
}

func (s *fakeAuthStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[sessionID]
	return ok, nil
}

func (s *fakeAuthStore) Save(ctx context.Context, sessionID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.blobs[sessionID] = append([]byte(nil), blob...)
	return nil
}

func (s *fakeAuthStore) Extract(ctx context.Context, sessionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.extractErr != nil {
		return nil, s.extractErr
	}
	return s.blobs[sessionID], nil
}

func (s *fakeAuthStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, sessionID)
	return nil
}

func (s *fakeAuthStore) get(sessionID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[sessionID]
}

// Fake event queue backed by a slice, for batch-drain tests.

type fakeQueue struct {
	mu       sync.Mutex
	payloads [][]byte
	popErr   error
	// block, when non-nil, stalls Pop until closed. Used to hold a batch
	// open while asserting single-flight behavior.
	block chan struct{}
	// popStarted, when non-nil, receives a signal as Pop is entered.
	popStarted chan struct{}
}

func (q *fakeQueue) Push(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, append([]byte(nil), payload...))
	return nil
}

func (q *fakeQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	q.mu.Lock()
	block := q.block
	started := q.popStarted
	q.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.popErr != nil {
		return nil, q.popErr
	}
	if len(q.payloads) == 0 {
		return nil, nil
	}
	head := q.payloads[0]
	q.payloads = q.payloads[1:]
	return head, nil
}

func (q *fakeQueue) Length(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.payloads)), nil
}
