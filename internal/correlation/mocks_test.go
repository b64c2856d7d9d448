package correlation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"whatslens/internal/database"
	"whatslens/internal/models"
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

// Mock identity searcher

type mockIdentitySearcher struct {
	mock.Mock
}

func (m *mockIdentitySearcher) SearchWebSessionData(ctx context.Context, teamID string, patterns []string, since time.Time) ([]database.WebDataMatchRow, error) {
	args := m.Called(ctx, teamID, patterns, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.WebDataMatchRow), args.Error(1)
}

func (m *mockIdentitySearcher) SearchWebEventData(ctx context.Context, teamID string, patterns []string, since time.Time) ([]database.WebDataMatchRow, error) {
	args := m.Called(ctx, teamID, patterns, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.WebDataMatchRow), args.Error(1)
}

// Fake cache with a real JSON round trip, doubling as MatchCache and
// DecisionCache.

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *fakeCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

// Mock web session reader

type mockWebSessionReader struct {
	mock.Mock
}

func (m *mockWebSessionReader) GetWebSessionsBetween(ctx context.Context, teamID string, from, to time.Time) ([]database.WebSessionRow, error) {
	args := m.Called(ctx, teamID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.WebSessionRow), args.Error(1)
}

// Mock behavior reader

type mockBehaviorReader struct {
	mock.Mock
}

func (m *mockBehaviorReader) GetMessageTimesByPhone(ctx context.Context, phone string, since time.Time) ([]database.MessageTime, error) {
	args := m.Called(ctx, phone, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.MessageTime), args.Error(1)
}

func (m *mockBehaviorReader) GetMessageBodiesByPhone(ctx context.Context, phone string, since time.Time, limit int) ([]database.MessageBody, error) {
	args := m.Called(ctx, phone, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.MessageBody), args.Error(1)
}

func (m *mockBehaviorReader) GetConversationByPhone(ctx context.Context, contactPhone string) (*models.Conversation, error) {
	args := m.Called(ctx, contactPhone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *mockBehaviorReader) GetActiveWebUsers(ctx context.Context, teamID string, since time.Time, limit int) ([]database.WebUserActivity, error) {
	args := m.Called(ctx, teamID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.WebUserActivity), args.Error(1)
}

func (m *mockBehaviorReader) GetWebActivityHistogram(ctx context.Context, teamID, distinctID string, since time.Time) ([]database.ActivityBucket, error) {
	args := m.Called(ctx, teamID, distinctID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.ActivityBucket), args.Error(1)
}

func (m *mockBehaviorReader) GetWebEventsByUser(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]database.WebEventRow, error) {
	args := m.Called(ctx, teamID, distinctID, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.WebEventRow), args.Error(1)
}

func (m *mockBehaviorReader) GetWebConversionEvents(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]database.WebConversionRow, error) {
	args := m.Called(ctx, teamID, distinctID, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.WebConversionRow), args.Error(1)
}

// Mock correlation store

type mockCorrelationStore struct {
	mock.Mock
}

func (m *mockCorrelationStore) GetActiveCorrelationByPhone(ctx context.Context, waPhone string) (*models.UserIdentityCorrelation, error) {
	args := m.Called(ctx, waPhone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserIdentityCorrelation), args.Error(1)
}

func (m *mockCorrelationStore) SaveCorrelation(ctx context.Context, corr *models.UserIdentityCorrelation, supersededID string) error {
	args := m.Called(ctx, corr, supersededID)
	return args.Error(0)
}

func (m *mockCorrelationStore) GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserIdentityCorrelation), args.Error(1)
}

func (m *mockCorrelationStore) ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]models.UserIdentityCorrelation, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.UserIdentityCorrelation), args.Int(1), args.Error(2)
}

func (m *mockCorrelationStore) DeactivateCorrelation(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockCorrelationStore) GetCorrelationStats(ctx context.Context) (*models.CorrelationStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CorrelationStats), args.Error(1)
}

// Mock verification store

type mockVerificationStore struct {
	mock.Mock
}

func (m *mockVerificationStore) GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserIdentityCorrelation), args.Error(1)
}

func (m *mockVerificationStore) VerifyCorrelation(ctx context.Context, id, verifiedBy string, adjustedConfidence *float64, keepActive bool) error {
	args := m.Called(ctx, id, verifiedBy, adjustedConfidence, keepActive)
	return args.Error(0)
}

func (m *mockVerificationStore) RejectCorrelation(ctx context.Context, id, verifiedBy string, evidence []models.Evidence) error {
	args := m.Called(ctx, id, verifiedBy, evidence)
	return args.Error(0)
}

func (m *mockVerificationStore) ListUnverifiedHighConfidence(ctx context.Context, threshold float64, limit int) ([]models.UserIdentityCorrelation, error) {
	args := m.Called(ctx, threshold, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserIdentityCorrelation), args.Error(1)
}

// Fake review queue with the same FIFO contract as the Redis-backed one.

type fakeReviewQueue struct {
	mu      sync.Mutex
	entries [][]byte
}

func (q *fakeReviewQueue) Push(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	q.entries = append(q.entries, cp)
	return nil
}

func (q *fakeReviewQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, nil
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, nil
}

func (q *fakeReviewQueue) Length(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

func (q *fakeReviewQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	return nil
}

// Mock matchers for the engine

type mockPhoneMatching struct {
	mock.Mock
}

func (m *mockPhoneMatching) Match(ctx context.Context, tenant models.TenantContext, phone string) (models.Evidence, error) {
	args := m.Called(ctx, tenant, phone)
	return args.Get(0).(models.Evidence), args.Error(1)
}

type mockEmailMatching struct {
	mock.Mock
}

func (m *mockEmailMatching) ExtractEmails(text string) []string {
	args := m.Called(text)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

func (m *mockEmailMatching) Match(ctx context.Context, tenant models.TenantContext, email string) (models.Evidence, error) {
	args := m.Called(ctx, tenant, email)
	return args.Get(0).(models.Evidence), args.Error(1)
}

type mockSessionMatching struct {
	mock.Mock
}

func (m *mockSessionMatching) Match(ctx context.Context, tenant models.TenantContext, messageAt time.Time, userAgent string) ([]models.Evidence, error) {
	args := m.Called(ctx, tenant, messageAt, userAgent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Evidence), args.Error(1)
}

type mockBehavioralMatching struct {
	mock.Mock
}

func (m *mockBehavioralMatching) Match(ctx context.Context, tenant models.TenantContext, phone string) (models.Evidence, error) {
	args := m.Called(ctx, tenant, phone)
	return args.Get(0).(models.Evidence), args.Error(1)
}

// Mock review enqueuer

type mockReviewEnqueuer struct {
	mock.Mock
}

func (m *mockReviewEnqueuer) QueueForVerification(ctx context.Context, tenant models.TenantContext, correlationID, reason string, priority int) error {
	args := m.Called(ctx, tenant, correlationID, reason, priority)
	return args.Error(0)
}

// Mock journey builder

type mockJourneyBuilder struct {
	mock.Mock
}

func (m *mockJourneyBuilder) BuildJourney(ctx context.Context, tenant models.TenantContext, waPhone, umamiUserID string, dayRange int) (*models.UserJourney, error) {
	args := m.Called(ctx, tenant, waPhone, umamiUserID, dayRange)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserJourney), args.Error(1)
}

// Mock review notifier

type mockReviewNotifier struct {
	mock.Mock
}

func (m *mockReviewNotifier) VerificationPending(ctx context.Context, tenant models.TenantContext, item *models.VerificationItem) {
	m.Called(ctx, tenant, item)
}
