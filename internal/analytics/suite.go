package analytics

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

// Overview is the dashboard landing bundle.
type Overview struct {
	ResponseTime  *models.ResponseTimeMetrics `json:"responseTime"`
	Volume        *models.VolumeMetrics       `json:"volume"`
	Conversations *models.ConversationMetrics `json:"conversations"`
	Engagement    *models.EngagementMetrics   `json:"engagement"`
	Period        models.TimeRange            `json:"period"`
}

// Suite fronts the metric modules for the HTTP layer.
type Suite struct {
	Metrics  *Metrics
	Realtime *Realtime
	logger   *logrus.Logger
}

func NewSuite(metrics *Metrics, realtime *Realtime, logger *logrus.Logger) *Suite {
	return &Suite{Metrics: metrics, Realtime: realtime, logger: logger}
}

// Overview bundles the four headline families over one period. Each family
// hits its own cache entry.
func (s *Suite) Overview(ctx context.Context, tr models.TimeRange) (*Overview, error) {
	responseTime, err := s.Metrics.ResponseTime(ctx, tr)
	if err != nil {
		return nil, err
	}
	volume, err := s.Metrics.Volume(ctx, tr, models.BucketDay)
	if err != nil {
		return nil, err
	}
	conversations, err := s.Metrics.Conversations(ctx, tr)
	if err != nil {
		return nil, err
	}
	engagement, err := s.Metrics.Engagement(ctx)
	if err != nil {
		return nil, err
	}

	return &Overview{
		ResponseTime:  responseTime,
		Volume:        volume,
		Conversations: conversations,
		Engagement:    engagement,
		Period:        tr,
	}, nil
}

// Collect serves the batch metrics request: each requested family is
// computed and keyed by its name. Unknown names fail the whole request.
func (s *Suite) Collect(ctx context.Context, names []string, tr models.TimeRange, interval models.BucketInterval) (map[string]interface{}, error) {
	if len(names) == 0 {
		return nil, apperrors.NewValidationError("metrics", "at least one metric is required")
	}
	if interval == "" {
		interval = models.BucketDay
	}

	result := make(map[string]interface{}, len(names))
	for _, name := range names {
		var (
			value interface{}
			err   error
		)
		switch name {
		case "response_time":
			value, err = s.Metrics.ResponseTime(ctx, tr)
		case "volume":
			value, err = s.Metrics.Volume(ctx, tr, interval)
		case "conversations":
			value, err = s.Metrics.Conversations(ctx, tr)
		case "engagement":
			value, err = s.Metrics.Engagement(ctx)
		case "agents":
			value, err = s.Metrics.Agents(ctx, tr)
		case "funnel":
			value, err = s.Realtime.FunnelDistribution(ctx)
		case "live":
			value, err = s.Realtime.LiveMetrics(ctx)
		default:
			return nil, apperrors.NewValidationError("metrics", fmt.Sprintf("unknown metric %q", name))
		}
		if err != nil {
			return nil, err
		}
		result[name] = value
	}
	return result, nil
}

// Timeseries serves the bucketed series endpoint. Message volume is the
// only family the gateway buckets server-side.
func (s *Suite) Timeseries(ctx context.Context, metric string, tr models.TimeRange, interval models.BucketInterval) ([]models.VolumeBucket, error) {
	switch metric {
	case "messages", "volume":
		volume, err := s.Metrics.Volume(ctx, tr, interval)
		if err != nil {
			return nil, err
		}
		return volume.Buckets, nil
	default:
		return nil, apperrors.NewValidationError("metric", fmt.Sprintf("metric %q has no timeseries", metric))
	}
}
