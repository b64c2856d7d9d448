package correlation

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

type verificationFixture struct {
	store   *mockVerificationStore
	cache   *fakeCache
	queue   *fakeReviewQueue
	manager *Manager
}

func newVerificationFixture() *verificationFixture {
	f := &verificationFixture{
		store: &mockVerificationStore{},
		cache: newFakeCache(),
		queue: &fakeReviewQueue{},
	}
	f.manager = NewManager(f.store, f.cache, func(teamID string) ReviewQueue { return f.queue }, testLogger())
	return f
}

func pushItem(t *testing.T, queue *fakeReviewQueue, item models.VerificationItem) {
	t.Helper()
	payload, err := json.Marshal(item)
	require.NoError(t, err)
	require.NoError(t, queue.Push(context.Background(), payload))
}

func queuedCorrelation() *models.UserIdentityCorrelation {
	name := "Alice"
	userID := "visitor-9"
	return &models.UserIdentityCorrelation{
		ID:              "corr-1",
		TeamID:          "team-1",
		WAPhone:         "+14155550100",
		WAContactName:   &name,
		UmamiUserID:     &userID,
		ConfidenceScore: 0.72,
		Method:          models.MethodPhone,
		Evidence:        []models.Evidence{{Method: models.MethodPhone, Matched: true, Weight: 0.9, Quality: 0.8}},
	}
}

func TestManager_QueueForVerification(t *testing.T) {
	f := newVerificationFixture()
	notifier := &mockReviewNotifier{}
	f.manager.SetNotifier(notifier)

	f.store.On("GetCorrelation", mock.Anything, "corr-1").Return(queuedCorrelation(), nil).Once()
	notifier.On("VerificationPending", mock.Anything, testTenant(), mock.Anything).Once()

	err := f.manager.QueueForVerification(tenantCtx(testTenant()), testTenant(), "corr-1", "confidence 0.72", 0)

	require.NoError(t, err)
	payload, popErr := f.queue.Pop(context.Background(), popTimeout)
	require.NoError(t, popErr)
	require.NotNil(t, payload)

	var item models.VerificationItem
	require.NoError(t, json.Unmarshal(payload, &item))
	assert.Equal(t, "corr-1", item.CorrelationID)
	assert.Equal(t, "team-1", item.TeamID)
	assert.Equal(t, "+14155550100", item.WAPhone)
	assert.Equal(t, "Alice", item.WAContactName)
	assert.Equal(t, "visitor-9", item.UmamiUserID)
	assert.Equal(t, "confidence 0.72", item.Reason)
	assert.Equal(t, constants.DefaultVerificationPriority, item.Priority)
	assert.False(t, item.QueuedAt.IsZero())
	notifier.AssertExpectations(t)
}

func TestManager_QueueForVerification_ClampsPriority(t *testing.T) {
	f := newVerificationFixture()
	f.store.On("GetCorrelation", mock.Anything, "corr-1").Return(queuedCorrelation(), nil).Once()

	err := f.manager.QueueForVerification(tenantCtx(testTenant()), testTenant(), "corr-1", "manual", 99)

	require.NoError(t, err)
	payload, _ := f.queue.Pop(context.Background(), popTimeout)
	var item models.VerificationItem
	require.NoError(t, json.Unmarshal(payload, &item))
	assert.Equal(t, 10, item.Priority)
}

func TestManager_QueueForVerification_NotFound(t *testing.T) {
	f := newVerificationFixture()
	f.store.On("GetCorrelation", mock.Anything, "missing").Return(nil, nil).Once()

	err := f.manager.QueueForVerification(tenantCtx(testTenant()), testTenant(), "missing", "manual", 5)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	length, _ := f.queue.Length(context.Background())
	assert.Zero(t, length)
}

func TestManager_GetPendingVerifications_SortsByUrgency(t *testing.T) {
	f := newVerificationFixture()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "c-late", Priority: 5, QueuedAt: base.Add(5 * time.Minute)})
	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "c-early", Priority: 5, QueuedAt: base})
	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "c-urgent", Priority: 2, QueuedAt: base.Add(10 * time.Minute)})

	items, err := f.manager.GetPendingVerifications(tenantCtx(testTenant()), testTenant(), 0)

	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c-urgent", items[0].CorrelationID)
	assert.Equal(t, "c-early", items[1].CorrelationID)
	assert.Equal(t, "c-late", items[2].CorrelationID)

	// Peeking must not consume: same queue, same order on a limited read.
	length, _ := f.queue.Length(context.Background())
	assert.EqualValues(t, 3, length)

	top, err := f.manager.GetPendingVerifications(tenantCtx(testTenant()), testTenant(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "c-urgent", top[0].CorrelationID)
	assert.Equal(t, "c-early", top[1].CorrelationID)
}

func TestManager_GetPendingVerifications_EmptyQueue(t *testing.T) {
	f := newVerificationFixture()

	items, err := f.manager.GetPendingVerifications(tenantCtx(testTenant()), testTenant(), 10)

	require.NoError(t, err)
	assert.Nil(t, items)
}

func TestManager_GetPendingVerifications_DropsMalformedItems(t *testing.T) {
	f := newVerificationFixture()
	require.NoError(t, f.queue.Push(context.Background(), []byte("not json")))
	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "c-1", Priority: 5})

	items, err := f.manager.GetPendingVerifications(tenantCtx(testTenant()), testTenant(), 0)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c-1", items[0].CorrelationID)

	length, _ := f.queue.Length(context.Background())
	assert.EqualValues(t, 1, length)
}

func TestManager_ApproveCorrelation(t *testing.T) {
	f := newVerificationFixture()
	adjusted := 0.95

	f.store.On("GetCorrelation", mock.Anything, "corr-1").Return(queuedCorrelation(), nil).Once()
	f.store.On("VerifyCorrelation", mock.Anything, "corr-1", "reviewer-1", &adjusted, true).Return(nil).Once()

	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "c-other", Priority: 5})
	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "corr-1", Priority: 7})

	err := f.manager.ApproveCorrelation(tenantCtx(testTenant()), testTenant(), "corr-1", "reviewer-1", &adjusted)

	require.NoError(t, err)
	f.store.AssertExpectations(t)

	length, _ := f.queue.Length(context.Background())
	assert.EqualValues(t, 1, length)
	payload, _ := f.queue.Pop(context.Background(), popTimeout)
	var remaining models.VerificationItem
	require.NoError(t, json.Unmarshal(payload, &remaining))
	assert.Equal(t, "c-other", remaining.CorrelationID)

	var decisions []models.VerificationDecision
	found, cacheErr := f.cache.GetJSON(context.Background(), "decisions:team-1", &decisions)
	require.NoError(t, cacheErr)
	require.True(t, found)
	require.Len(t, decisions, 1)
	assert.Equal(t, "corr-1", decisions[0].CorrelationID)
	assert.True(t, decisions[0].Approved)
	assert.Equal(t, "reviewer-1", decisions[0].DecidedBy)
	assert.Equal(t, models.MethodPhone, decisions[0].Method)
}

func TestManager_ApproveCorrelation_RowGone(t *testing.T) {
	f := newVerificationFixture()
	f.store.On("GetCorrelation", mock.Anything, "corr-1").Return(queuedCorrelation(), nil).Once()
	f.store.On("VerifyCorrelation", mock.Anything, "corr-1", "reviewer-1", (*float64)(nil), true).
		Return(sql.ErrNoRows).Once()

	err := f.manager.ApproveCorrelation(tenantCtx(testTenant()), testTenant(), "corr-1", "reviewer-1", nil)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestManager_RejectCorrelation(t *testing.T) {
	f := newVerificationFixture()
	f.store.On("GetCorrelation", mock.Anything, "corr-1").Return(queuedCorrelation(), nil).Once()

	var merged []models.Evidence
	f.store.On("RejectCorrelation", mock.Anything, "corr-1", "reviewer-1", mock.Anything).
		Run(func(args mock.Arguments) {
			merged = args.Get(3).([]models.Evidence)
		}).Return(nil).Once()

	err := f.manager.RejectCorrelation(tenantCtx(testTenant()), testTenant(), "corr-1", "reviewer-1", "wrong person")

	require.NoError(t, err)
	require.Len(t, merged, 2)
	audit := merged[1]
	assert.Equal(t, models.MethodManual, audit.Method)
	assert.False(t, audit.Matched)
	assert.Equal(t, constants.WeightManual, audit.Weight)
	assert.Equal(t, "wrong person", audit.Data["rejection_reason"])
	assert.Equal(t, "reviewer-1", audit.Data["rejected_by"])

	var decisions []models.VerificationDecision
	_, cacheErr := f.cache.GetJSON(context.Background(), "decisions:team-1", &decisions)
	require.NoError(t, cacheErr)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Approved)
	assert.Equal(t, "wrong person", decisions[0].Reason)
}

func TestManager_AutoApprove(t *testing.T) {
	f := newVerificationFixture()

	f.store.On("ListUnverifiedHighConfidence", mock.Anything, constants.DefaultAutoVerifyThreshold, 100).
		Return([]models.UserIdentityCorrelation{{ID: "c-1"}, {ID: "c-2"}, {ID: "c-3"}}, nil).Once()
	f.store.On("VerifyCorrelation", mock.Anything, "c-1", "system", (*float64)(nil), true).Return(nil).Once()
	f.store.On("VerifyCorrelation", mock.Anything, "c-2", "system", (*float64)(nil), true).
		Return(assert.AnError).Once()
	f.store.On("VerifyCorrelation", mock.Anything, "c-3", "system", (*float64)(nil), true).Return(nil).Once()

	approved, err := f.manager.AutoApprove(context.Background(), 0, "system")

	require.NoError(t, err)
	assert.Equal(t, 2, approved)
	f.store.AssertExpectations(t)
}

func TestManager_AnalyzeVerificationPatterns_NeedsMoreData(t *testing.T) {
	f := newVerificationFixture()

	analysis, err := f.manager.AnalyzeVerificationPatterns(tenantCtx(testTenant()), testTenant())

	require.NoError(t, err)
	assert.Zero(t, analysis.TotalDecisions)
	require.Len(t, analysis.Recommendations, 1)
	assert.Contains(t, analysis.Recommendations[0], "need at least")
}

func TestManager_AnalyzeVerificationPatterns(t *testing.T) {
	f := newVerificationFixture()

	var decisions []models.VerificationDecision
	for i := 0; i < 6; i++ {
		decisions = append(decisions, models.VerificationDecision{Method: models.MethodPhone, Approved: true})
	}
	decisions = append(decisions,
		models.VerificationDecision{Method: models.MethodUserAgent, Approved: true},
		models.VerificationDecision{Method: models.MethodUserAgent, Approved: true},
		models.VerificationDecision{Method: models.MethodUserAgent},
		models.VerificationDecision{Method: models.MethodUserAgent},
		models.VerificationDecision{Method: models.MethodUserAgent},
		models.VerificationDecision{Method: models.MethodUserAgent},
	)
	require.NoError(t, f.cache.SetJSON(context.Background(), "decisions:team-1", decisions, time.Minute))

	analysis, err := f.manager.AnalyzeVerificationPatterns(tenantCtx(testTenant()), testTenant())

	require.NoError(t, err)
	assert.Equal(t, 12, analysis.TotalDecisions)
	assert.Equal(t, 1.0, analysis.MethodApprovalRate[models.MethodPhone])
	assert.InDelta(t, 1.0/3, analysis.MethodApprovalRate[models.MethodUserAgent], 0.001)
	assert.Contains(t, analysis.AccuratePatterns, models.MethodPhone)
	assert.Contains(t, analysis.InaccuratePatterns, models.MethodUserAgent)
	require.Len(t, analysis.Recommendations, 1)
	assert.Contains(t, analysis.Recommendations[0], "approved only 33%")
}

func TestManager_ClearQueue(t *testing.T) {
	f := newVerificationFixture()
	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "c-1"})
	pushItem(t, f.queue, models.VerificationItem{CorrelationID: "c-2"})

	dropped, err := f.manager.ClearQueue(tenantCtx(testTenant()), testTenant())

	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	length, _ := f.queue.Length(context.Background())
	assert.Zero(t, length)
}

func TestVerificationQueueName(t *testing.T) {
	assert.Equal(t, "verification_queue:team-1", VerificationQueueName("team-1"))
	assert.Equal(t, "decisions:team-1", decisionLogKey("team-1"))
}
