// Package analytics computes the business metric families over WhatsApp
// activity: response times, volume, conversation health, engagement, and
// agent performance, plus the realtime and cohort views backing the
// dashboard.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/database"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

// MetricStore is the aggregation surface of the storage gateway.
type MetricStore interface {
	GetResponsePairs(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) ([]database.ResponsePair, error)
	GetVolumeRows(ctx context.Context, tr models.TimeRange, interval models.BucketInterval) ([]database.VolumeRow, error)
	GetVolumeByHour(ctx context.Context, tr models.TimeRange) (map[int]int, error)
	GetConversationStats(ctx context.Context, tr models.TimeRange) (*database.ConversationStatsRow, error)
	GetStageDistribution(ctx context.Context) (map[models.FunnelStage]int, error)
	GetEngagementCounts(ctx context.Context, now time.Time) (*database.EngagementRow, error)
	GetAgentStats(ctx context.Context, tr models.TimeRange) ([]database.AgentRow, error)
	GetAgentResponseTimes(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) (map[string]float64, error)
	GetCohortCells(ctx context.Context, interval models.BucketInterval, periodSeconds int64, tr models.TimeRange) ([]database.CohortCell, error)
	ListConversions(ctx context.Context, tr models.TimeRange, limit, offset int) ([]models.Conversion, error)
}

// MetricCache memoizes computed aggregations between dashboard refreshes.
type MetricCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Options is the shared knob set; one switch governs caching for every
// metric family.
type Options struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func DefaultOptions() Options {
	return Options{CacheEnabled: true, CacheTTL: constants.MetricCacheTTL}
}

// Metrics serves the historical aggregations.
type Metrics struct {
	store  MetricStore
	cache  MetricCache
	opts   Options
	logger *logrus.Logger
}

func NewMetrics(store MetricStore, cache MetricCache, opts Options, logger *logrus.Logger) *Metrics {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = constants.MetricCacheTTL
	}
	return &Metrics{store: store, cache: cache, opts: opts, logger: logger}
}

func metricKey(metric, teamID string, tr models.TimeRange) string {
	return fmt.Sprintf("%s:%s:%d-%d", metric, teamID, tr.Start.UnixMilli(), tr.End.UnixMilli())
}

func (m *Metrics) lookupCache(ctx context.Context, key string, dest interface{}) bool {
	if !m.opts.CacheEnabled || m.cache == nil {
		return false
	}
	found, err := m.cache.GetJSON(ctx, key, dest)
	if err != nil {
		m.logger.WithError(err).WithField("key", key).Debug("Metric cache read failed")
		return false
	}
	return found
}

func (m *Metrics) storeCache(ctx context.Context, key string, value interface{}) {
	if !m.opts.CacheEnabled || m.cache == nil {
		return
	}
	if err := m.cache.SetJSON(ctx, key, value, m.opts.CacheTTL); err != nil {
		m.logger.WithError(err).WithField("key", key).Debug("Metric cache write failed")
	}
}

func requireTenantAndRange(ctx context.Context, tr models.TimeRange) (models.TenantContext, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return models.TenantContext{}, apperrors.NewUnauthorizedError("missing tenant context")
	}
	if !tr.Valid() {
		return models.TenantContext{}, apperrors.NewValidationError("period", "start must be before end")
	}
	return tenant, nil
}

// ResponseTime pairs each inbound message with the next outbound reply in
// the same conversation within the pairing window, then aggregates.
func (m *Metrics) ResponseTime(ctx context.Context, tr models.TimeRange) (*models.ResponseTimeMetrics, error) {
	tenant, err := requireTenantAndRange(ctx, tr)
	if err != nil {
		return nil, err
	}

	key := metricKey("response_time", tenant.TeamID, tr)
	var cached models.ResponseTimeMetrics
	if m.lookupCache(ctx, key, &cached) {
		return &cached, nil
	}

	pairs, err := m.store.GetResponsePairs(ctx, tr, constants.ResponsePairingWindow)
	if err != nil {
		return nil, apperrors.NewStorageError("get response pairs", err)
	}

	result := buildResponseTimeMetrics(pairs)
	m.storeCache(ctx, key, result)
	return result, nil
}

func buildResponseTimeMetrics(pairs []database.ResponsePair) *models.ResponseTimeMetrics {
	result := &models.ResponseTimeMetrics{
		ByHourOfDay: make(map[int]float64),
		ByDayOfWeek: make(map[string]float64),
		SampleCount: len(pairs),
	}
	if len(pairs) == 0 {
		return result
	}

	seconds := make([]float64, 0, len(pairs))
	firstByConversation := make(map[string]database.ResponsePair)
	hourSums := make(map[int]float64)
	hourCounts := make(map[int]int)
	daySums := make(map[string]float64)
	dayCounts := make(map[string]int)

	var total float64
	for _, p := range pairs {
		seconds = append(seconds, p.Seconds)
		total += p.Seconds

		if first, ok := firstByConversation[p.ConversationID]; !ok || p.InboundAt.Before(first.InboundAt) {
			firstByConversation[p.ConversationID] = p
		}

		at := p.InboundAt.UTC()
		hourSums[at.Hour()] += p.Seconds
		hourCounts[at.Hour()]++
		day := at.Weekday().String()
		daySums[day] += p.Seconds
		dayCounts[day]++
	}

	sort.Float64s(seconds)
	result.AvgSeconds = total / float64(len(pairs))
	result.MedianSeconds = percentile(seconds, 0.5)
	result.P95Seconds = percentile(seconds, 0.95)

	var firstTotal float64
	for _, p := range firstByConversation {
		firstTotal += p.Seconds
	}
	result.FirstResponseSeconds = firstTotal / float64(len(firstByConversation))

	for hour, sum := range hourSums {
		result.ByHourOfDay[hour] = sum / float64(hourCounts[hour])
	}
	for day, sum := range daySums {
		result.ByDayOfWeek[day] = sum / float64(dayCounts[day])
	}
	return result
}

// percentile reads the ceil(p*n)-th value from an ascending sample.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Volume aggregates message counts into interval buckets and finds the
// five busiest hours of day.
func (m *Metrics) Volume(ctx context.Context, tr models.TimeRange, interval models.BucketInterval) (*models.VolumeMetrics, error) {
	tenant, err := requireTenantAndRange(ctx, tr)
	if err != nil {
		return nil, err
	}
	if !models.ValidBucketInterval(interval) {
		return nil, apperrors.NewValidationError("interval", fmt.Sprintf("unknown bucket interval %q", interval))
	}

	key := metricKey("volume_"+string(interval), tenant.TeamID, tr)
	var cached models.VolumeMetrics
	if m.lookupCache(ctx, key, &cached) {
		return &cached, nil
	}

	rows, err := m.store.GetVolumeRows(ctx, tr, interval)
	if err != nil {
		return nil, apperrors.NewStorageError("get volume rows", err)
	}
	byHour, err := m.store.GetVolumeByHour(ctx, tr)
	if err != nil {
		return nil, apperrors.NewStorageError("get hourly volume", err)
	}

	result := buildVolumeMetrics(rows, byHour)
	m.storeCache(ctx, key, result)
	return result, nil
}

func buildVolumeMetrics(rows []database.VolumeRow, byHour map[int]int) *models.VolumeMetrics {
	result := &models.VolumeMetrics{}

	index := make(map[time.Time]int)
	for _, row := range rows {
		i, ok := index[row.Bucket]
		if !ok {
			i = len(result.Buckets)
			index[row.Bucket] = i
			result.Buckets = append(result.Buckets, models.VolumeBucket{Bucket: row.Bucket})
		}
		result.Buckets[i].Total += row.Count
		switch row.Direction {
		case models.DirectionInbound:
			result.Buckets[i].Inbound += row.Count
		case models.DirectionOutbound:
			result.Buckets[i].Outbound += row.Count
		}
		result.Total += row.Count
		if row.Direction == models.DirectionInbound {
			result.Inbound += row.Count
		} else {
			result.Outbound += row.Count
		}
	}

	result.PeakHours = peakHours(byHour, 5)
	return result
}

// peakHours ranks hours by message count, ties broken by earlier hour.
func peakHours(byHour map[int]int, n int) []int {
	hours := make([]int, 0, len(byHour))
	for hour := range byHour {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool {
		if byHour[hours[i]] != byHour[hours[j]] {
			return byHour[hours[i]] > byHour[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

// Conversations reports totals, status and stage breakdowns, and the
// resolution rate over the range.
func (m *Metrics) Conversations(ctx context.Context, tr models.TimeRange) (*models.ConversationMetrics, error) {
	tenant, err := requireTenantAndRange(ctx, tr)
	if err != nil {
		return nil, err
	}

	key := metricKey("conversations", tenant.TeamID, tr)
	var cached models.ConversationMetrics
	if m.lookupCache(ctx, key, &cached) {
		return &cached, nil
	}

	stats, err := m.store.GetConversationStats(ctx, tr)
	if err != nil {
		return nil, apperrors.NewStorageError("get conversation stats", err)
	}
	stages, err := m.store.GetStageDistribution(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("get stage distribution", err)
	}

	result := &models.ConversationMetrics{
		Total: stats.Total,
		ByStatus: map[models.ConversationStatus]int{
			models.ConversationOpen:     stats.Open,
			models.ConversationClosed:   stats.Closed,
			models.ConversationArchived: stats.Archived,
		},
		ByStage:         stages,
		AvgMessages:     stats.AvgMessages,
		AvgDurationSecs: stats.AvgDurationSecs,
	}
	if stats.Total > 0 {
		result.ResolutionRate = float64(stats.Closed) / float64(stats.Total)
	}

	m.storeCache(ctx, key, result)
	return result, nil
}

// Engagement counts distinct inbound senders over the trailing day, week,
// and month windows ending now.
func (m *Metrics) Engagement(ctx context.Context) (*models.EngagementMetrics, error) {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("missing tenant context")
	}

	// The key is truncated to the TTL so repeated reads inside one cache
	// window share an entry despite the moving "now" anchor.
	now := time.Now()
	anchor := now.Truncate(m.opts.CacheTTL)
	key := metricKey("engagement", tenant.TeamID, models.TimeRange{Start: anchor.AddDate(0, -1, 0), End: anchor})
	var cached models.EngagementMetrics
	if m.lookupCache(ctx, key, &cached) {
		return &cached, nil
	}

	row, err := m.store.GetEngagementCounts(ctx, now)
	if err != nil {
		return nil, apperrors.NewStorageError("get engagement counts", err)
	}

	result := &models.EngagementMetrics{
		ActiveUsersDay:   row.ActiveDay,
		ActiveUsersWeek:  row.ActiveWeek,
		ActiveUsersMonth: row.ActiveMonth,
	}
	if row.ActiveDay > 0 {
		result.MsgsPerUserPerDay = float64(row.MessagesDay) / float64(row.ActiveDay)
	}

	m.storeCache(ctx, key, result)
	return result, nil
}

// Agents reports per-assignee workload and responsiveness.
func (m *Metrics) Agents(ctx context.Context, tr models.TimeRange) ([]models.AgentPerformance, error) {
	tenant, err := requireTenantAndRange(ctx, tr)
	if err != nil {
		return nil, err
	}

	key := metricKey("agents", tenant.TeamID, tr)
	var cached []models.AgentPerformance
	if m.lookupCache(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := m.store.GetAgentStats(ctx, tr)
	if err != nil {
		return nil, apperrors.NewStorageError("get agent stats", err)
	}
	responseTimes, err := m.store.GetAgentResponseTimes(ctx, tr, constants.ResponsePairingWindow)
	if err != nil {
		return nil, apperrors.NewStorageError("get agent response times", err)
	}

	result := make([]models.AgentPerformance, 0, len(rows))
	for _, row := range rows {
		result = append(result, models.AgentPerformance{
			AgentID:             row.AgentID,
			MessagesHandled:     row.Messages,
			AvgResponseSeconds:  responseTimes[row.AgentID],
			ConversationsClosed: row.Closed,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AgentID < result[j].AgentID })

	m.storeCache(ctx, key, result)
	return result, nil
}

// InvalidateTeam drops every cached aggregation for a team.
func (m *Metrics) InvalidateTeam(ctx context.Context, teamID string) {
	if m.cache == nil {
		return
	}
	for _, metric := range []string{"response_time", "volume_*", "conversations", "engagement", "agents"} {
		if _, err := m.cache.DeletePattern(ctx, metric+":"+teamID+":*"); err != nil {
			m.logger.WithError(err).WithField("team_id", teamID).Debug("Metric cache invalidation failed")
		}
	}
}
