package analytics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/bus"
	"whatslens/internal/constants"
	"whatslens/internal/database"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

// RealtimeStore is the live-query surface of the storage gateway.
type RealtimeStore interface {
	GetLiveCounts(ctx context.Context) (*database.LiveCounts, error)
	GetResponsePairs(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) ([]database.ResponsePair, error)
	GetActiveConversations(ctx context.Context, limit int) ([]models.ActiveConversation, error)
	GetStageDistribution(ctx context.Context) (map[models.FunnelStage]int, error)
}

// LiveCache holds the short-lived snapshot between collection ticks.
type LiveCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RealtimePublisher pushes snapshots and alerts to dashboard subscribers.
type RealtimePublisher interface {
	PublishRealtime(ctx context.Context, teamID, eventType string, payload interface{}) error
}

// Subscriber taps the bus for cache-invalidating activity.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*bus.Consumer, error)
}

// AlertNotifier turns threshold breaches into persisted notifications.
type AlertNotifier interface {
	AlertRaised(ctx context.Context, tenant models.TenantContext, alert models.Alert)
}

// TeamLister reports which teams currently have live consumers attached.
type TeamLister interface {
	ActiveTeams() []string
}

type RealtimeOptions struct {
	Interval   time.Duration
	Thresholds models.AlertThresholds
}

// Realtime serves live metrics and drives the periodic collection loop.
type Realtime struct {
	store      RealtimeStore
	cache      LiveCache
	publisher  RealtimePublisher
	subscriber Subscriber
	notifier   AlertNotifier
	opts       RealtimeOptions
	logger     *logrus.Logger
}

func NewRealtime(store RealtimeStore, cache LiveCache, publisher RealtimePublisher, subscriber Subscriber, opts RealtimeOptions, logger *logrus.Logger) *Realtime {
	if opts.Interval < constants.MinRealtimeInterval {
		opts.Interval = constants.DefaultRealtimeInterval
	}
	return &Realtime{
		store:      store,
		cache:      cache,
		publisher:  publisher,
		subscriber: subscriber,
		opts:       opts,
		logger:     logger,
	}
}

// SetNotifier attaches notification production for threshold breaches.
func (r *Realtime) SetNotifier(n AlertNotifier) { r.notifier = n }

func liveKey(teamID string) string { return "live:" + teamID }

// LiveMetrics snapshots the team's current load. The two source queries run
// in parallel and the result is cached briefly between dashboard polls.
func (r *Realtime) LiveMetrics(ctx context.Context) (*models.LiveMetrics, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}

	key := liveKey(tenant.TeamID)
	if r.cache != nil {
		var cached models.LiveMetrics
		found, err := r.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			r.logger.WithError(err).Debug("Live metrics cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	var (
		wg        sync.WaitGroup
		counts    *database.LiveCounts
		countsErr error
		pairs     []database.ResponsePair
		pairsErr  error
	)
	now := time.Now()

	wg.Add(2)
	go func() {
		defer wg.Done()
		counts, countsErr = r.store.GetLiveCounts(ctx)
	}()
	go func() {
		defer wg.Done()
		lastHour := models.TimeRange{Start: now.Add(-time.Hour), End: now}
		pairs, pairsErr = r.store.GetResponsePairs(ctx, lastHour, constants.ResponsePairingWindow)
	}()
	wg.Wait()

	if countsErr != nil {
		return nil, apperrors.NewStorageError("get live counts", countsErr)
	}
	if pairsErr != nil {
		return nil, apperrors.NewStorageError("get response pairs", pairsErr)
	}

	live := &models.LiveMetrics{
		OpenConversations:  counts.OpenConversations,
		MessagesLastHour:   counts.MessagesLastHour,
		MessagesLastMinute: counts.MessagesLastMinute,
		GeneratedAt:        now,
	}
	if len(pairs) > 0 {
		var total float64
		for _, p := range pairs {
			total += p.Seconds
		}
		live.AvgResponseSeconds = total / float64(len(pairs))
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, key, live, constants.LiveMetricsCacheTTL); err != nil {
			r.logger.WithError(err).Debug("Live metrics cache write failed")
		}
	}
	return live, nil
}

// ActiveConversations lists the busiest open conversations with how long
// each contact has been waiting since their last message.
func (r *Realtime) ActiveConversations(ctx context.Context, limit int) ([]models.ActiveConversation, error) {
	if _, ok := models.TenantFromContext(ctx); !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if limit <= 0 {
		limit = constants.DefaultActiveConvosLimit
	}

	active, err := r.store.GetActiveConversations(ctx, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("get active conversations", err)
	}

	now := time.Now()
	for i := range active {
		waiting := now.Sub(active[i].LastMessageAt)
		if waiting < 0 {
			waiting = 0
		}
		active[i].WaitingTime = waiting
	}
	return active, nil
}

var funnelOrder = []models.FunnelStage{
	models.StageInitialContact,
	models.StageQualification,
	models.StageProposal,
	models.StageNegotiation,
	models.StageClose,
}

// FunnelDistribution reports conversation counts and percentages per stage,
// including stages with no conversations.
func (r *Realtime) FunnelDistribution(ctx context.Context) ([]models.FunnelSlice, error) {
	if _, ok := models.TenantFromContext(ctx); !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}

	distribution, err := r.store.GetStageDistribution(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("get stage distribution", err)
	}

	var total int
	for _, count := range distribution {
		total += count
	}

	slices := make([]models.FunnelSlice, 0, len(funnelOrder))
	for _, stage := range funnelOrder {
		slice := models.FunnelSlice{Stage: stage, Count: distribution[stage]}
		if total > 0 {
			slice.Percentage = float64(slice.Count) / float64(total) * 100
		}
		slices = append(slices, slice)
	}
	return slices, nil
}

// EvaluateAlerts compares a live snapshot against the configured thresholds.
// Zero thresholds are disabled.
func EvaluateAlerts(live *models.LiveMetrics, active []models.ActiveConversation, thresholds models.AlertThresholds) []models.Alert {
	var alerts []models.Alert

	if thresholds.MaxResponseSeconds > 0 && live.AvgResponseSeconds > thresholds.MaxResponseSeconds {
		alerts = append(alerts, models.Alert{
			Type:      "response_time",
			Severity:  severityFor(live.AvgResponseSeconds, thresholds.MaxResponseSeconds),
			Value:     live.AvgResponseSeconds,
			Threshold: thresholds.MaxResponseSeconds,
		})
	}

	if thresholds.MaxQueueLength > 0 && live.OpenConversations > thresholds.MaxQueueLength {
		value := float64(live.OpenConversations)
		threshold := float64(thresholds.MaxQueueLength)
		alerts = append(alerts, models.Alert{
			Type:      "queue_length",
			Severity:  severityFor(value, threshold),
			Value:     value,
			Threshold: threshold,
		})
	}

	if thresholds.MaxWaitingSeconds > 0 {
		var maxWait float64
		for _, conv := range active {
			if secs := conv.WaitingTime.Seconds(); secs > maxWait {
				maxWait = secs
			}
		}
		if maxWait > thresholds.MaxWaitingSeconds {
			alerts = append(alerts, models.Alert{
				Type:      "waiting_time",
				Severity:  severityFor(maxWait, thresholds.MaxWaitingSeconds),
				Value:     maxWait,
				Threshold: thresholds.MaxWaitingSeconds,
			})
		}
	}

	return alerts
}

func severityFor(value, threshold float64) models.AlertSeverity {
	switch {
	case value >= 2*threshold:
		return models.SeverityHigh
	case value >= 1.5*threshold:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Run drives the collection loop: every interval it snapshots each active
// team, publishes the metrics, and raises threshold alerts. Blocks until
// the context is cancelled.
func (r *Realtime) Run(ctx context.Context, teams TeamLister) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.WithField("interval", r.opts.Interval).Info("Realtime collection loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Realtime collection loop stopped")
			return
		case <-ticker.C:
			r.collect(ctx, teams.ActiveTeams())
		}
	}
}

func (r *Realtime) collect(ctx context.Context, teamIDs []string) {
	for _, teamID := range teamIDs {
		tenant := models.SystemTenant(teamID)
		tctx := models.WithTenant(ctx, tenant)

		live, err := r.LiveMetrics(tctx)
		if err != nil {
			r.logger.WithError(err).WithField("team_id", teamID).Warn("Live metrics collection failed")
			continue
		}
		if err := r.publisher.PublishRealtime(tctx, teamID, "metrics_update", live); err != nil {
			r.logger.WithError(err).WithField("team_id", teamID).Warn("Failed to publish live metrics")
		}

		active, err := r.ActiveConversations(tctx, constants.DefaultActiveConvosLimit)
		if err != nil {
			r.logger.WithError(err).WithField("team_id", teamID).Warn("Active conversation lookup failed")
			continue
		}

		for _, alert := range EvaluateAlerts(live, active, r.opts.Thresholds) {
			if err := r.publisher.PublishRealtime(tctx, teamID, bus.EventAlertRaised, alert); err != nil {
				r.logger.WithError(err).WithField("team_id", teamID).Warn("Failed to publish alert")
			}
			if r.notifier != nil {
				r.notifier.AlertRaised(tctx, tenant, alert)
			}
		}
	}
}

// WatchInvalidations drops the live snapshot whenever message or
// conversation activity lands for a team, so the next poll recomputes.
// Blocks until the context is cancelled.
func (r *Realtime) WatchInvalidations(ctx context.Context, teamIDs ...string) error {
	channels := make([]string, 0, len(teamIDs)*2)
	for _, teamID := range teamIDs {
		channels = append(channels, bus.TeamChannel(teamID), bus.RealtimeChannel(teamID))
	}

	consumer, err := r.subscriber.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer consumer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-consumer.Events():
			if !ok {
				return nil
			}
			if invalidatesLive(env.Type) {
				r.invalidate(ctx, env.TeamID)
			}
		}
	}
}

func invalidatesLive(eventType string) bool {
	return strings.HasPrefix(eventType, "message_") ||
		strings.HasPrefix(eventType, "conversation_") ||
		eventType == "funnel_stage_changed"
}

func (r *Realtime) invalidate(ctx context.Context, teamID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, liveKey(teamID)); err != nil {
		r.logger.WithError(err).WithField("team_id", teamID).Debug("Live metrics invalidation failed")
	}
}
