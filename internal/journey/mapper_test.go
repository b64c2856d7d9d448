package journey

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"whatslens/internal/constants"
	"whatslens/internal/database"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

type mockJourneyStore struct {
	mock.Mock
}

func (m *mockJourneyStore) GetJourneyMessages(ctx context.Context, phone string, tr models.TimeRange) ([]database.JourneyMessageRow, error) {
	args := m.Called(ctx, phone, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.JourneyMessageRow), args.Error(1)
}

func (m *mockJourneyStore) GetWebEventsByUser(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]database.WebEventRow, error) {
	args := m.Called(ctx, teamID, distinctID, tr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.WebEventRow), args.Error(1)
}

func (m *mockJourneyStore) UpdateConversionAttribution(ctx context.Context, id string, touchpoints []models.Touchpoint, attribution map[models.AttributionModel][]models.AttributionCredit) error {
	args := m.Called(ctx, id, touchpoints, attribution)
	return args.Error(0)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testTenant() models.TenantContext {
	return models.TenantContext{TeamID: "team-1", UserRole: models.RoleMember, UserID: "user-1"}
}

func waRow(id string, ts time.Time, direction models.MessageDirection, stage models.FunnelStage) database.JourneyMessageRow {
	return database.JourneyMessageRow{
		MessageID: id,
		Timestamp: ts,
		Direction: direction,
		Type:      models.MessageTypeText,
		Stage:     stage,
	}
}

func TestMapper_BuildJourney_MergesChannels(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, "+14155550100", mock.Anything).Return([]database.JourneyMessageRow{
		waRow("msg-1", base, models.DirectionInbound, models.StageInitialContact),
		waRow("msg-2", base.Add(time.Hour), models.DirectionOutbound, models.StageQualification),
		waRow("msg-3", base.Add(50*time.Hour), models.DirectionInbound, models.StageClose),
	}, nil)
	store.On("GetWebEventsByUser", mock.Anything, "team-1", "visitor-9", mock.Anything).Return([]database.WebEventRow{
		{EventID: "ev-1", CreatedAt: base.Add(2 * time.Hour), URLPath: "/pricing"},
		{EventID: "ev-2", CreatedAt: base.Add(49 * time.Hour), URLPath: "/checkout/success", EventName: "purchase_completed"},
	}, nil)

	mapper := NewMapper(store, testLogger())
	journey, err := mapper.BuildJourney(context.Background(), testTenant(), "+14155550100", "visitor-9", 90)

	require.NoError(t, err)
	require.NotNil(t, journey)
	assert.Equal(t, "+14155550100", journey.WAPhone)
	assert.Equal(t, "visitor-9", journey.UmamiUserID)

	require.Len(t, journey.Touchpoints, 5)
	ids := make([]string, 0, len(journey.Touchpoints))
	for _, tp := range journey.Touchpoints {
		ids = append(ids, tp.ID)
	}
	assert.Equal(t, []string{"wa-msg-1", "wa-msg-2", "web-ev-1", "web-ev-2", "wa-msg-3"}, ids)

	first := journey.Touchpoints[0]
	assert.Equal(t, models.ChannelWhatsApp, first.Channel)
	assert.Equal(t, "message", first.Type)
	assert.Equal(t, models.JourneyAwareness, first.Stage)
	assert.Equal(t, "inbound", first.Data["direction"])
	assert.Equal(t, "initial_contact", first.Data["funnelStage"])

	pricing := journey.Touchpoints[2]
	assert.Equal(t, models.ChannelWeb, pricing.Channel)
	assert.Equal(t, "pageview", pricing.Type)
	assert.Equal(t, models.JourneyConsideration, pricing.Stage)
	assert.Equal(t, "/pricing", pricing.Data["urlPath"])

	require.Len(t, journey.Stages, 3)
	assert.Equal(t, models.JourneyAwareness, journey.Stages[0].Stage)
	assert.Equal(t, 1, journey.Stages[0].Touchpoints)
	require.NotNil(t, journey.Stages[0].ExitedAt)
	assert.Equal(t, base.Add(time.Hour), *journey.Stages[0].ExitedAt)

	assert.Equal(t, models.JourneyConsideration, journey.Stages[1].Stage)
	assert.Equal(t, 2, journey.Stages[1].Touchpoints)
	require.NotNil(t, journey.Stages[1].ExitedAt)
	assert.Equal(t, base.Add(49*time.Hour), *journey.Stages[1].ExitedAt)

	assert.Equal(t, models.JourneyConversion, journey.Stages[2].Stage)
	assert.Equal(t, 2, journey.Stages[2].Touchpoints)
	assert.Nil(t, journey.Stages[2].ExitedAt)

	require.Len(t, journey.Conversions, 2)
	assert.Equal(t, "web-ev-2", journey.Conversions[0].ID)
	assert.Equal(t, "purchase_completed", journey.Conversions[0].Type)
	assert.Equal(t, models.ChannelWeb, journey.Conversions[0].Channel)
	assert.Len(t, journey.Conversions[0].Touchpoints, 4)

	assert.Equal(t, "wa-msg-3", journey.Conversions[1].ID)
	assert.Equal(t, "deal_closed", journey.Conversions[1].Type)
	assert.Equal(t, models.ChannelWhatsApp, journey.Conversions[1].Channel)
	assert.Len(t, journey.Conversions[1].Touchpoints, 5)

	assert.Equal(t, 5, journey.Metrics.TotalTouchpoints)
	assert.Equal(t, 50*time.Hour, journey.Metrics.TotalDuration)
	assert.Equal(t, base, journey.Metrics.FirstTouch)
	assert.Equal(t, base.Add(50*time.Hour), journey.Metrics.LastTouch)
	assert.Equal(t, 12*time.Hour+30*time.Minute, journey.Metrics.AvgTouchInterval)
	assert.Equal(t, 3, journey.Metrics.ChannelDistribution[models.ChannelWhatsApp])
	assert.Equal(t, 2, journey.Metrics.ChannelDistribution[models.ChannelWeb])

	// 0.30 channels + 0.15 touchpoints + 0.20 stages + 0.20 conversions.
	assert.InDelta(t, 0.85, journey.QualityScore, 0.001)

	store.AssertExpectations(t)
}

func TestMapper_BuildJourney_DefaultDayRange(t *testing.T) {
	var captured models.TimeRange

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, "+14155550100", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(models.TimeRange)
		}).
		Return(nil, nil)

	mapper := NewMapper(store, testLogger())
	journey, err := mapper.BuildJourney(context.Background(), testTenant(), "+14155550100", "", 0)

	require.NoError(t, err)
	require.NotNil(t, journey)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -constants.DefaultJourneyDayRange), captured.Start, time.Minute)
	assert.WithinDuration(t, time.Now(), captured.End, time.Minute)
}

func TestMapper_BuildJourney_TooFewTouchpoints(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, "+14155550100", mock.Anything).Return([]database.JourneyMessageRow{
		waRow("msg-1", base, models.DirectionInbound, models.StageInitialContact),
	}, nil)

	mapper := NewMapper(store, testLogger())
	journey, err := mapper.BuildJourney(context.Background(), testTenant(), "+14155550100", "", 90)

	require.NoError(t, err)
	require.NotNil(t, journey)
	assert.Equal(t, "+14155550100", journey.WAPhone)
	assert.Empty(t, journey.Touchpoints)
	assert.Empty(t, journey.Stages)
	assert.Empty(t, journey.Conversions)
	assert.Zero(t, journey.QualityScore)
}

func TestMapper_BuildJourney_RequiresIdentity(t *testing.T) {
	mapper := NewMapper(new(mockJourneyStore), testLogger())

	journey, err := mapper.BuildJourney(context.Background(), testTenant(), "", "", 90)

	require.Error(t, err)
	assert.Nil(t, journey)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestMapper_BuildJourney_DegradesOnSourceFailure(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, "+14155550100", mock.Anything).
		Return(nil, assert.AnError)
	store.On("GetWebEventsByUser", mock.Anything, "team-1", "visitor-9", mock.Anything).Return([]database.WebEventRow{
		{EventID: "ev-1", CreatedAt: base, URLPath: "/docs"},
		{EventID: "ev-2", CreatedAt: base.Add(time.Hour), URLPath: "/pricing"},
	}, nil)

	mapper := NewMapper(store, testLogger())
	journey, err := mapper.BuildJourney(context.Background(), testTenant(), "+14155550100", "visitor-9", 90)

	require.NoError(t, err)
	require.Len(t, journey.Touchpoints, 2)
	assert.Equal(t, models.ChannelWeb, journey.Touchpoints[0].Channel)
	assert.Equal(t, 2, journey.Metrics.ChannelDistribution[models.ChannelWeb])
}

func TestMapper_BuildJourney_AttributionWindowExcludesStale(t *testing.T) {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	closedAt := base.Add(40 * 24 * time.Hour)

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, "+14155550100", mock.Anything).Return([]database.JourneyMessageRow{
		waRow("msg-1", base, models.DirectionInbound, models.StageInitialContact),
		waRow("msg-2", closedAt, models.DirectionInbound, models.StageClose),
	}, nil)

	mapper := NewMapper(store, testLogger())
	journey, err := mapper.BuildJourney(context.Background(), testTenant(), "+14155550100", "", 90)

	require.NoError(t, err)
	require.Len(t, journey.Conversions, 1)
	require.Len(t, journey.Conversions[0].Touchpoints, 1)
	assert.Equal(t, "wa-msg-2", journey.Conversions[0].Touchpoints[0].ID)
}

func TestMapper_BuildJourney_OutboundCloseIsNotConversion(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, "+14155550100", mock.Anything).Return([]database.JourneyMessageRow{
		waRow("msg-1", base, models.DirectionInbound, models.StageInitialContact),
		waRow("msg-2", base.Add(time.Hour), models.DirectionOutbound, models.StageClose),
	}, nil)

	mapper := NewMapper(store, testLogger())
	journey, err := mapper.BuildJourney(context.Background(), testTenant(), "+14155550100", "", 90)

	require.NoError(t, err)
	assert.Empty(t, journey.Conversions)
	assert.Len(t, journey.Touchpoints, 2)
}

func TestMapper_AttributeConversion(t *testing.T) {
	conversionAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	phone := "+14155550100"
	window := time.Duration(constants.AttributionWindowDays) * 24 * time.Hour
	expectedRange := models.TimeRange{
		Start: conversionAt.Add(-window),
		End:   conversionAt.Add(time.Second),
	}

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, phone, expectedRange).Return([]database.JourneyMessageRow{
		waRow("msg-1", conversionAt.Add(-24*time.Hour), models.DirectionInbound, models.StageNegotiation),
	}, nil)
	store.On("GetWebEventsByUser", mock.Anything, "team-1", "visitor-9", expectedRange).Return([]database.WebEventRow{
		{EventID: "ev-1", CreatedAt: conversionAt.Add(-48 * time.Hour), URLPath: "/pricing"},
	}, nil)

	var savedTouchpoints []models.Touchpoint
	var savedAttribution map[models.AttributionModel][]models.AttributionCredit
	store.On("UpdateConversionAttribution", mock.Anything, "cv-1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			savedTouchpoints = args.Get(2).([]models.Touchpoint)
			savedAttribution = args.Get(3).(map[models.AttributionModel][]models.AttributionCredit)
		}).
		Return(nil)

	conv := &models.Conversion{
		ID:        "cv-1",
		TeamID:    "team-1",
		UserID:    "visitor-9",
		WAPhone:   &phone,
		Type:      models.ConversionPurchase,
		Timestamp: conversionAt,
	}

	mapper := NewMapper(store, testLogger())
	err := mapper.AttributeConversion(context.Background(), testTenant(), conv)

	require.NoError(t, err)
	require.Len(t, savedTouchpoints, 2)
	assert.Equal(t, "web-ev-1", savedTouchpoints[0].ID)
	assert.Equal(t, "wa-msg-1", savedTouchpoints[1].ID)

	require.Len(t, savedAttribution, 5)
	linear := savedAttribution[models.AttributionLinear]
	require.Len(t, linear, 2)
	assert.InDelta(t, 0.5, linear[0].Credit, 1e-9)
	assert.InDelta(t, 0.5, linear[1].Credit, 1e-9)

	last := savedAttribution[models.AttributionLastTouch]
	require.Len(t, last, 1)
	assert.Equal(t, "wa-msg-1", last[0].TouchpointID)

	assert.Equal(t, savedTouchpoints, conv.Touchpoints)
	store.AssertExpectations(t)
}

func TestMapper_AttributeConversion_NoTouchpoints(t *testing.T) {
	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	phone := "+14155550100"
	conv := &models.Conversion{ID: "cv-1", WAPhone: &phone, Timestamp: time.Now()}

	mapper := NewMapper(store, testLogger())
	err := mapper.AttributeConversion(context.Background(), testTenant(), conv)

	require.NoError(t, err)
	store.AssertNotCalled(t, "UpdateConversionAttribution", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMapper_AttributeConversion_RequiresIdentity(t *testing.T) {
	mapper := NewMapper(new(mockJourneyStore), testLogger())

	err := mapper.AttributeConversion(context.Background(), testTenant(), &models.Conversion{ID: "cv-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	err = mapper.AttributeConversion(context.Background(), testTenant(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestMapper_AttributeConversion_StorageError(t *testing.T) {
	conversionAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	phone := "+14155550100"

	store := new(mockJourneyStore)
	store.On("GetJourneyMessages", mock.Anything, phone, mock.Anything).Return([]database.JourneyMessageRow{
		waRow("msg-1", conversionAt.Add(-time.Hour), models.DirectionInbound, models.StageClose),
	}, nil)
	store.On("UpdateConversionAttribution", mock.Anything, "cv-1", mock.Anything, mock.Anything).
		Return(assert.AnError)

	conv := &models.Conversion{ID: "cv-1", WAPhone: &phone, Timestamp: conversionAt}

	mapper := NewMapper(store, testLogger())
	err := mapper.AttributeConversion(context.Background(), testTenant(), conv)

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStorageFailure))
}

func TestStageFromFunnel(t *testing.T) {
	tests := []struct {
		funnel   models.FunnelStage
		expected models.JourneyStage
	}{
		{models.StageInitialContact, models.JourneyAwareness},
		{models.StageQualification, models.JourneyConsideration},
		{models.StageProposal, models.JourneyConsideration},
		{models.StageNegotiation, models.JourneyConversion},
		{models.StageClose, models.JourneyConversion},
		{models.FunnelStage(""), models.JourneyAwareness},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, stageFromFunnel(tt.funnel), "funnel stage %q", tt.funnel)
	}
}

func TestClassifyWebStage(t *testing.T) {
	tests := []struct {
		name      string
		urlPath   string
		eventName string
		expected  models.JourneyStage
	}{
		{name: "checkout path", urlPath: "/checkout/step-2", expected: models.JourneyConversion},
		{name: "purchase event", urlPath: "/app", eventName: "purchase_completed", expected: models.JourneyConversion},
		{name: "pricing page", urlPath: "/pricing", expected: models.JourneyConsideration},
		{name: "add to cart", urlPath: "/products/42", eventName: "add_to_cart", expected: models.JourneyConsideration},
		{name: "dashboard", urlPath: "/dashboard/settings", expected: models.JourneyRetention},
		{name: "login event", urlPath: "/", eventName: "user_login", expected: models.JourneyRetention},
		{name: "plain pageview", urlPath: "/blog/post", expected: models.JourneyAwareness},
		{name: "case insensitive", urlPath: "/Pricing/Enterprise", expected: models.JourneyConsideration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyWebStage(tt.urlPath, tt.eventName))
		})
	}
}

func TestIsWebConversion(t *testing.T) {
	assert.True(t, isWebConversion("/order/success", ""))
	assert.True(t, isWebConversion("/thank-you", ""))
	assert.True(t, isWebConversion("/app", "purchase_completed"))
	assert.False(t, isWebConversion("/checkout/start", ""))
	assert.False(t, isWebConversion("/pricing", "view_item"))
}
