package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"whatslens/internal/database"
	"whatslens/internal/models"
	"whatslens/pkg/circuitbreaker"
)

func testBreaker() *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New("test", 3, time.Second)
}

func messageTimesAround(base time.Time) []database.MessageTime {
	// Three messages Tuesday 9am, two Wednesday 10am, one Thursday 11am.
	return []database.MessageTime{
		{Timestamp: base, Direction: models.DirectionInbound},
		{Timestamp: base.Add(15 * time.Minute), Direction: models.DirectionOutbound},
		{Timestamp: base.Add(30 * time.Minute), Direction: models.DirectionInbound},
		{Timestamp: base.Add(25 * time.Hour), Direction: models.DirectionInbound},
		{Timestamp: base.Add(25*time.Hour + 20*time.Minute), Direction: models.DirectionOutbound},
		{Timestamp: base.Add(50 * time.Hour), Direction: models.DirectionInbound},
	}
}

func TestBehavioralMatcher_Match_SimilarPattern(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	base := time.Date(2026, 1, 6, 9, 15, 0, 0, time.UTC) // a Tuesday
	store.On("GetMessageTimesByPhone", mock.Anything, "+14155550100", mock.Anything).
		Return(messageTimesAround(base), nil).Once()
	store.On("GetActiveWebUsers", mock.Anything, "team-1", mock.Anything, behavioralCandidateLimit).
		Return([]database.WebUserActivity{{DistinctID: "visitor-1", EventCount: 6}}, nil).Once()
	store.On("GetWebActivityHistogram", mock.Anything, "team-1", "visitor-1", mock.Anything).
		Return([]database.ActivityBucket{
			{Hour: 9, Day: 2, Count: 3},
			{Hour: 10, Day: 3, Count: 2},
			{Hour: 11, Day: 4, Count: 1},
		}, nil).Once()

	ev, err := m.Match(tenantCtx(testTenant()), testTenant(), "+14155550100")

	require.NoError(t, err)
	assert.Equal(t, models.MethodMLModel, ev.Method)
	assert.True(t, ev.Matched)
	// Identical peaks and identical daily rates score a perfect similarity,
	// damped by the behavioral quality factor.
	assert.InDelta(t, behavioralQualityFactor, ev.Quality, 0.001)
	assert.Equal(t, "visitor-1", ev.Data["umamiUserId"])
	assert.Equal(t, 6, ev.Data["interactions"])
	store.AssertExpectations(t)
}

func TestBehavioralMatcher_Match_TooFewMessages(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	store.On("GetMessageTimesByPhone", mock.Anything, mock.Anything, mock.Anything).
		Return([]database.MessageTime{
			{Timestamp: time.Now().Add(-time.Hour)},
			{Timestamp: time.Now().Add(-2 * time.Hour)},
		}, nil).Once()

	ev, err := m.Match(tenantCtx(testTenant()), testTenant(), "+14155550100")

	require.NoError(t, err)
	assert.False(t, ev.Matched)
	store.AssertNotCalled(t, "GetActiveWebUsers", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBehavioralMatcher_Match_CircuitOpenDegrades(t *testing.T) {
	store := &mockBehaviorReader{}
	breaker := circuitbreaker.New("test", 1, time.Minute)
	tripErr := breaker.Execute(context.Background(), func(ctx context.Context) error {
		return assert.AnError
	})
	require.Error(t, tripErr)
	m := NewBehavioralMatcher(store, breaker, testLogger())

	store.On("GetMessageTimesByPhone", mock.Anything, mock.Anything, mock.Anything).
		Return(messageTimesAround(time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)), nil).Once()

	ev, err := m.Match(tenantCtx(testTenant()), testTenant(), "+14155550100")

	require.NoError(t, err)
	assert.False(t, ev.Matched)
	store.AssertNotCalled(t, "GetActiveWebUsers", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBehavioralMatcher_Match_SkipsQuietCandidates(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	store.On("GetMessageTimesByPhone", mock.Anything, mock.Anything, mock.Anything).
		Return(messageTimesAround(time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)), nil).Once()
	store.On("GetActiveWebUsers", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]database.WebUserActivity{{DistinctID: "visitor-1", EventCount: 2}}, nil).Once()

	ev, err := m.Match(tenantCtx(testTenant()), testTenant(), "+14155550100")

	require.NoError(t, err)
	assert.False(t, ev.Matched)
	store.AssertNotCalled(t, "GetWebActivityHistogram", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBehavioralMatcher_Match_HistoryError(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	store.On("GetMessageTimesByPhone", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()

	ev, err := m.Match(tenantCtx(testTenant()), testTenant(), "+14155550100")

	assert.ErrorContains(t, err, "failed to get message history")
	assert.False(t, ev.Matched)
}

func TestBehavioralMatcher_TopicCorrelation(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	store.On("GetMessageBodiesByPhone", mock.Anything, "+14155550100", mock.Anything, topicSampleLimit).
		Return([]database.MessageBody{
			{Body: "interested in the premium plan pricing"},
		}, nil).Once()
	store.On("GetWebEventsByUser", mock.Anything, "team-1", "visitor-1", mock.Anything).
		Return([]database.WebEventRow{
			{URLPath: "/pricing/premium", EventName: "view_pricing"},
		}, nil).Once()

	score, err := m.TopicCorrelation(tenantCtx(testTenant()), testTenant(), "+14155550100", "visitor-1")

	require.NoError(t, err)
	// premium and pricing overlap out of four chat words.
	assert.InDelta(t, 0.5, score, 0.001)
	store.AssertExpectations(t)
}

func TestBehavioralMatcher_ConversionAlignment(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	closedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 7 * 24 * time.Hour
	store.On("GetConversationByPhone", mock.Anything, "+14155550100").
		Return(&models.Conversation{
			ID:        "conv-1",
			Status:    models.ConversationClosed,
			UpdatedAt: closedAt,
		}, nil).Once()
	store.On("GetWebConversionEvents", mock.Anything, "team-1", "visitor-1",
		models.TimeRange{Start: closedAt.Add(-window), End: closedAt.Add(window)}).
		Return([]database.WebConversionRow{
			{EventID: "e-1", EventName: "purchase", CreatedAt: closedAt.Add(24 * time.Hour)},
			{EventID: "e-2", EventName: "signup_completed", CreatedAt: closedAt.Add(48 * time.Hour)},
		}, nil).Once()

	ev, err := m.ConversionAlignment(tenantCtx(testTenant()), testTenant(), "+14155550100", "visitor-1")

	require.NoError(t, err)
	assert.True(t, ev.Matched)
	// Average gap is 36 of a possible 168 hours.
	assert.InDelta(t, 0.55, ev.Quality, 0.01)
	assert.Equal(t, 2, ev.Data["pairs"])
	assert.Equal(t, "visitor-1", ev.Data["umamiUserId"])
	store.AssertExpectations(t)
}

func TestBehavioralMatcher_ConversionAlignment_SkipsOpenConversations(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	store.On("GetConversationByPhone", mock.Anything, mock.Anything).
		Return(&models.Conversation{Status: models.ConversationOpen}, nil).Once()

	ev, err := m.ConversionAlignment(tenantCtx(testTenant()), testTenant(), "+14155550100", "visitor-1")

	require.NoError(t, err)
	assert.False(t, ev.Matched)
	store.AssertNotCalled(t, "GetWebConversionEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBehavioralMatcher_ConversionAlignment_NoConversation(t *testing.T) {
	store := &mockBehaviorReader{}
	m := NewBehavioralMatcher(store, testBreaker(), testLogger())

	store.On("GetConversationByPhone", mock.Anything, mock.Anything).Return(nil, nil).Once()

	ev, err := m.ConversionAlignment(tenantCtx(testTenant()), testTenant(), "+14155550100", "visitor-1")

	require.NoError(t, err)
	assert.False(t, ev.Matched)
}

func TestHistogramSimilarity_DisjointPatterns(t *testing.T) {
	night := activityHistogram{total: 30}
	night.hours[22] = 15
	night.hours[23] = 15
	night.days[5] = 30

	morning := activityHistogram{total: 30}
	morning.hours[8] = 30
	morning.days[1] = 30

	// No shared peaks; only the frequency ratio contributes.
	assert.InDelta(t, 0.3, histogramSimilarity(night, morning, 30), 0.001)
	assert.Zero(t, histogramSimilarity(activityHistogram{}, morning, 30))
}

func TestTopBuckets(t *testing.T) {
	counts := make([]int, 24)
	counts[3] = 5
	counts[10] = 9
	counts[17] = 7
	counts[20] = 1

	assert.Equal(t, []int{10, 17, 3}, topBuckets(counts, 3))
	assert.Equal(t, []int{10}, topBuckets(counts, 1))
	assert.Empty(t, topBuckets(make([]int, 24), 3))
}

func TestWordOverlap(t *testing.T) {
	a := map[string]int{"pricing": 2, "demo": 1}
	b := map[string]int{"pricing": 1, "docs": 4}

	// One shared pricing occurrence against the smaller total of three.
	assert.InDelta(t, 1.0/3, wordOverlap(a, b), 0.001)
	assert.Zero(t, wordOverlap(nil, b))
}
