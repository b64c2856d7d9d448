package correlation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/internal/privacy"
)

// VerificationStore is the persistence surface the review manager needs.
type VerificationStore interface {
	GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error)
	VerifyCorrelation(ctx context.Context, id, verifiedBy string, adjustedConfidence *float64, keepActive bool) error
	RejectCorrelation(ctx context.Context, id, verifiedBy string, evidence []models.Evidence) error
	ListUnverifiedHighConfidence(ctx context.Context, threshold float64, limit int) ([]models.UserIdentityCorrelation, error)
}

// ReviewQueue holds serialized verification items for one team.
type ReviewQueue interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Length(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// QueueProvider mints the review queue for a team. Queues are cheap handles;
// the provider is called per operation rather than cached.
type QueueProvider func(teamID string) ReviewQueue

// DecisionCache keeps the capped per-team decision log for pattern analysis.
type DecisionCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ReviewNotifier announces a newly queued item to reviewers. Optional.
type ReviewNotifier interface {
	VerificationPending(ctx context.Context, tenant models.TenantContext, item *models.VerificationItem)
}

// VerificationQueueName is the queue name for a team's manual review queue.
func VerificationQueueName(teamID string) string {
	return "verification_queue:" + teamID
}

func decisionLogKey(teamID string) string {
	return "decisions:" + teamID
}

// popTimeout bounds each queue read while draining; entries are already
// there or they are not.
const popTimeout = time.Second

// Manager owns the manual review flow: queueing borderline correlations,
// listing them for reviewers, and recording approve/reject decisions.
type Manager struct {
	store    VerificationStore
	cache    DecisionCache
	queues   QueueProvider
	notifier ReviewNotifier
	logger   *logrus.Logger
}

func NewManager(store VerificationStore, cache DecisionCache, queues QueueProvider, logger *logrus.Logger) *Manager {
	return &Manager{
		store:  store,
		cache:  cache,
		queues: queues,
		logger: logger,
	}
}

// SetNotifier wires reviewer notifications. Optional.
func (m *Manager) SetNotifier(n ReviewNotifier) {
	m.notifier = n
}

// QueueForVerification snapshots the correlation onto the team's review
// queue. Priority outside 1..10 is clamped; zero means the default.
func (m *Manager) QueueForVerification(ctx context.Context, tenant models.TenantContext, correlationID, reason string, priority int) error {
	if priority <= 0 {
		priority = constants.DefaultVerificationPriority
	}
	if priority > 10 {
		priority = 10
	}

	corr, err := m.store.GetCorrelation(ctx, correlationID)
	if err != nil {
		return apperrors.NewStorageError("get correlation", err)
	}
	if corr == nil {
		return apperrors.NewNotFoundError("correlation", correlationID)
	}

	item := &models.VerificationItem{
		CorrelationID:   corr.ID,
		TeamID:          tenant.TeamID,
		WAPhone:         corr.WAPhone,
		ConfidenceScore: corr.ConfidenceScore,
		Method:          corr.Method,
		Evidence:        corr.Evidence,
		Reason:          reason,
		QueuedAt:        time.Now().UTC(),
		Priority:        priority,
	}
	if corr.WAContactName != nil {
		item.WAContactName = *corr.WAContactName
	}
	if corr.UmamiUserID != nil {
		item.UmamiUserID = *corr.UmamiUserID
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal verification item: %w", err)
	}
	if err := m.queues(tenant.TeamID).Push(ctx, payload); err != nil {
		return apperrors.NewStorageError("queue verification", err)
	}

	m.logger.WithFields(logrus.Fields{
		"team_id":        tenant.TeamID,
		"correlation_id": correlationID,
		"phone":          privacy.MaskPhoneNumber(corr.WAPhone),
		"priority":       priority,
	}).Info("Correlation queued for review")

	if m.notifier != nil {
		m.notifier.VerificationPending(ctx, tenant, item)
	}
	return nil
}

// GetPendingVerifications returns up to limit queued items, most urgent
// first. The queue is drained and re-pushed in sorted order so repeated
// peeks stay stable.
func (m *Manager) GetPendingVerifications(ctx context.Context, tenant models.TenantContext, limit int) ([]models.VerificationItem, error) {
	queue := m.queues(tenant.TeamID)

	length, err := queue.Length(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("get queue length", err)
	}
	if length == 0 {
		return nil, nil
	}
	if limit <= 0 || int64(limit) > length {
		limit = int(length)
	}

	items, err := m.drainQueue(ctx, queue, int(length))
	if err != nil {
		return nil, err
	}

	// Priority 1 is most urgent; within a priority, oldest first.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].QueuedAt.Before(items[j].QueuedAt)
	})

	if err := m.requeue(ctx, queue, items); err != nil {
		return nil, err
	}

	if limit > len(items) {
		limit = len(items)
	}
	return items[:limit], nil
}

// ApproveCorrelation confirms a link. The row stays active and verified;
// the queue entry, if any, is removed.
func (m *Manager) ApproveCorrelation(ctx context.Context, tenant models.TenantContext, correlationID, verifiedBy string, adjustedConfidence *float64) error {
	corr, err := m.store.GetCorrelation(ctx, correlationID)
	if err != nil {
		return apperrors.NewStorageError("get correlation", err)
	}
	if corr == nil {
		return apperrors.NewNotFoundError("correlation", correlationID)
	}

	if err := m.store.VerifyCorrelation(ctx, correlationID, verifiedBy, adjustedConfidence, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("correlation", correlationID)
		}
		return apperrors.NewStorageError("verify correlation", err)
	}

	m.removeFromQueue(ctx, tenant, correlationID)
	m.recordDecision(ctx, tenant, corr, true, verifiedBy, "")

	m.logger.WithFields(logrus.Fields{
		"team_id":        tenant.TeamID,
		"correlation_id": correlationID,
		"verified_by":    verifiedBy,
	}).Info("Correlation approved")
	return nil
}

// RejectCorrelation voids a link. The row is deactivated but kept verified
// with an audit evidence entry, so the pattern analyzer can learn from
// rejections too.
func (m *Manager) RejectCorrelation(ctx context.Context, tenant models.TenantContext, correlationID, verifiedBy, reason string) error {
	corr, err := m.store.GetCorrelation(ctx, correlationID)
	if err != nil {
		return apperrors.NewStorageError("get correlation", err)
	}
	if corr == nil {
		return apperrors.NewNotFoundError("correlation", correlationID)
	}

	merged := append(corr.Evidence, models.Evidence{
		Method:  models.MethodManual,
		Matched: false,
		Weight:  constants.WeightManual,
		Data: map[string]interface{}{
			"rejection_reason": reason,
			"rejected_by":      verifiedBy,
		},
	})
	if err := m.store.RejectCorrelation(ctx, correlationID, verifiedBy, merged); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("correlation", correlationID)
		}
		return apperrors.NewStorageError("reject correlation", err)
	}

	m.removeFromQueue(ctx, tenant, correlationID)
	m.recordDecision(ctx, tenant, corr, false, verifiedBy, reason)

	m.logger.WithFields(logrus.Fields{
		"team_id":        tenant.TeamID,
		"correlation_id": correlationID,
		"verified_by":    verifiedBy,
	}).Info("Correlation rejected")
	return nil
}

// AutoApprove verifies every unverified correlation at or above threshold.
// It is a bulk sweep for the scheduler: rows are verified in place without
// touching the review queue or the decision log.
func (m *Manager) AutoApprove(ctx context.Context, threshold float64, systemUserID string) (int, error) {
	if threshold <= 0 {
		threshold = constants.DefaultAutoVerifyThreshold
	}

	rows, err := m.store.ListUnverifiedHighConfidence(ctx, threshold, 100)
	if err != nil {
		return 0, apperrors.NewStorageError("list unverified correlations", err)
	}

	approved := 0
	for _, corr := range rows {
		if err := m.store.VerifyCorrelation(ctx, corr.ID, systemUserID, nil, true); err != nil {
			m.logger.WithError(err).WithField("correlation_id", corr.ID).Warn("Auto-approve failed for correlation")
			continue
		}
		approved++
	}
	if approved > 0 {
		m.logger.WithField("approved", approved).Info("Auto-approved high-confidence correlations")
	}
	return approved, nil
}

// AnalyzeVerificationPatterns aggregates the decision log into per-method
// approval rates. Below the minimum sample it returns counts only.
func (m *Manager) AnalyzeVerificationPatterns(ctx context.Context, tenant models.TenantContext) (*models.PatternAnalysis, error) {
	var decisions []models.VerificationDecision
	if _, err := m.cache.GetJSON(ctx, decisionLogKey(tenant.TeamID), &decisions); err != nil {
		return nil, apperrors.NewStorageError("get decision log", err)
	}

	analysis := &models.PatternAnalysis{
		TotalDecisions:     len(decisions),
		MethodApprovalRate: make(map[models.CorrelationMethod]float64),
	}
	if len(decisions) < constants.MinDecisionsForAnalysis {
		analysis.Recommendations = append(analysis.Recommendations,
			fmt.Sprintf("need at least %d decisions for pattern analysis, have %d",
				constants.MinDecisionsForAnalysis, len(decisions)))
		return analysis, nil
	}

	totals := make(map[models.CorrelationMethod]int)
	approvals := make(map[models.CorrelationMethod]int)
	for _, d := range decisions {
		totals[d.Method]++
		if d.Approved {
			approvals[d.Method]++
		}
	}

	for method, total := range totals {
		rate := float64(approvals[method]) / float64(total)
		analysis.MethodApprovalRate[method] = rate
		switch {
		case rate >= constants.AccuratePatternThreshold:
			analysis.AccuratePatterns = append(analysis.AccuratePatterns, method)
		case rate < constants.InaccuratePatternThreshold:
			analysis.InaccuratePatterns = append(analysis.InaccuratePatterns, method)
			analysis.Recommendations = append(analysis.Recommendations,
				fmt.Sprintf("method %s approved only %.0f%% of the time, consider lowering its weight", method, rate*100))
		}
	}
	return analysis, nil
}

// ClearQueue drops every pending item and returns how many were dropped.
func (m *Manager) ClearQueue(ctx context.Context, tenant models.TenantContext) (int, error) {
	queue := m.queues(tenant.TeamID)
	length, err := queue.Length(ctx)
	if err != nil {
		return 0, apperrors.NewStorageError("get queue length", err)
	}
	if err := queue.Clear(ctx); err != nil {
		return 0, apperrors.NewStorageError("clear queue", err)
	}
	return int(length), nil
}

// drainQueue pops up to n items, dropping entries that no longer parse.
func (m *Manager) drainQueue(ctx context.Context, queue ReviewQueue, n int) ([]models.VerificationItem, error) {
	var items []models.VerificationItem
	for i := 0; i < n; i++ {
		payload, err := queue.Pop(ctx, popTimeout)
		if err != nil {
			return nil, apperrors.NewStorageError("pop verification item", err)
		}
		if payload == nil {
			break
		}
		var item models.VerificationItem
		if err := json.Unmarshal(payload, &item); err != nil {
			m.logger.WithError(err).Warn("Dropping malformed verification item")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// requeue pushes items back in slice order. With LPUSH/BRPOP the first push
// is the first pop, so the slice order is the queue order.
func (m *Manager) requeue(ctx context.Context, queue ReviewQueue, items []models.VerificationItem) error {
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal verification item: %w", err)
		}
		if err := queue.Push(ctx, payload); err != nil {
			return apperrors.NewStorageError("requeue verification item", err)
		}
	}
	return nil
}

// removeFromQueue drains the team queue and re-pushes everything except the
// decided correlation. Queue errors are logged, not returned; the decision
// itself already persisted.
func (m *Manager) removeFromQueue(ctx context.Context, tenant models.TenantContext, correlationID string) {
	queue := m.queues(tenant.TeamID)
	length, err := queue.Length(ctx)
	if err != nil || length == 0 {
		if err != nil {
			m.logger.WithError(err).Warn("Failed to read review queue length")
		}
		return
	}

	items, err := m.drainQueue(ctx, queue, int(length))
	if err != nil {
		m.logger.WithError(err).Warn("Failed to drain review queue")
		return
	}

	kept := items[:0]
	for _, item := range items {
		if item.CorrelationID != correlationID {
			kept = append(kept, item)
		}
	}
	if err := m.requeue(ctx, queue, kept); err != nil {
		m.logger.WithError(err).Warn("Failed to restore review queue")
	}
}

// recordDecision prepends the decision to the capped per-team log. Failures
// are logged only; the log is advisory.
func (m *Manager) recordDecision(ctx context.Context, tenant models.TenantContext, corr *models.UserIdentityCorrelation, approved bool, decidedBy, reason string) {
	decision := models.VerificationDecision{
		CorrelationID: corr.ID,
		Method:        corr.Method,
		Score:         corr.ConfidenceScore,
		Approved:      approved,
		DecidedBy:     decidedBy,
		Reason:        reason,
		DecidedAt:     time.Now().UTC(),
	}

	key := decisionLogKey(tenant.TeamID)
	var decisions []models.VerificationDecision
	if _, err := m.cache.GetJSON(ctx, key, &decisions); err != nil {
		m.logger.WithError(err).Warn("Failed to read decision log")
		return
	}

	decisions = append([]models.VerificationDecision{decision}, decisions...)
	if len(decisions) > constants.DecisionLogCap {
		decisions = decisions[:constants.DecisionLogCap]
	}
	if err := m.cache.SetJSON(ctx, key, decisions, constants.DecisionLogTTL); err != nil {
		m.logger.WithError(err).Warn("Failed to write decision log")
	}
}
