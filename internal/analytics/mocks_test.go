package analytics

import (
	"context"
	"encoding/json"
	"path"
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

func tenantCtx() context.Context {
	return models.WithTenant(context.Background(), testTenant())
}

type mockMetricStore struct {
	mock.Mock
}

func (m *mockMetricStore) GetResponsePairs(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) ([]database.ResponsePair, error) {
	args := m.Called(ctx, tr, pairingWindow)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.ResponsePair), args.Error(1)
}

func (m *mockMetricStore) GetVolumeRows(ctx context.Context, tr models.TimeRange, interval models.BucketInterval) ([]database.VolumeRow, error) {
	args := m.Called(ctx, tr, interval)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.VolumeRow), args.Error(1)
}

func (m *mockMetricStore) GetVolumeByHour(ctx context.Context, tr models.TimeRange) (map[int]int, error) {
	args := m.Called(ctx, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int]int), args.Error(1)
}

func (m *mockMetricStore) GetConversationStats(ctx context.Context, tr models.TimeRange) (*database.ConversationStatsRow, error) {
	args := m.Called(ctx, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.ConversationStatsRow), args.Error(1)
}

func (m *mockMetricStore) GetStageDistribution(ctx context.Context) (map[models.FunnelStage]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.FunnelStage]int), args.Error(1)
}

func (m *mockMetricStore) GetEngagementCounts(ctx context.Context, now time.Time) (*database.EngagementRow, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.EngagementRow), args.Error(1)
}

func (m *mockMetricStore) GetAgentStats(ctx context.Context, tr models.TimeRange) ([]database.AgentRow, error) {
	args := m.Called(ctx, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.AgentRow), args.Error(1)
}

func (m *mockMetricStore) GetAgentResponseTimes(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) (map[string]float64, error) {
	args := m.Called(ctx, tr, pairingWindow)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

func (m *mockMetricStore) GetCohortCells(ctx context.Context, interval models.BucketInterval, periodSeconds int64, tr models.TimeRange) ([]database.CohortCell, error) {
	args := m.Called(ctx, interval, periodSeconds, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.CohortCell), args.Error(1)
}

func (m *mockMetricStore) ListConversions(ctx context.Context, tr models.TimeRange, limit, offset int) ([]models.Conversion, error) {
	args := m.Called(ctx, tr, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversion), args.Error(1)
}

type mockRealtimeStore struct {
	mock.Mock
}

func (m *mockRealtimeStore) GetLiveCounts(ctx context.Context) (*database.LiveCounts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.LiveCounts), args.Error(1)
}

func (m *mockRealtimeStore) GetResponsePairs(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) ([]database.ResponsePair, error) {
	args := m.Called(ctx, tr, pairingWindow)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.ResponsePair), args.Error(1)
}

func (m *mockRealtimeStore) GetActiveConversations(ctx context.Context, limit int) ([]models.ActiveConversation, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ActiveConversation), args.Error(1)
}

func (m *mockRealtimeStore) GetStageDistribution(ctx context.Context) (map[models.FunnelStage]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.FunnelStage]int), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishRealtime(ctx context.Context, teamID, eventType string, payload interface{}) error {
	args := m.Called(ctx, teamID, eventType, payload)
	return args.Error(0)
}

type mockAlertNotifier struct {
	mock.Mock
}

func (m *mockAlertNotifier) AlertRaised(ctx context.Context, tenant models.TenantContext, alert models.Alert) {
	m.Called(ctx, tenant, alert)
}

// fakeKV backs the metric cache, the live cache, and the report history
// with a real JSON round trip.
type fakeKV struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{entries: make(map[string][]byte)}
}

func (f *fakeKV) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeKV) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = raw
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

func (f *fakeKV) DeletePattern(ctx context.Context, pattern string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for key := range f.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(f.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeKV) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

func (f *fakeKV) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
