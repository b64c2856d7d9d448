// Package journey assembles cross-channel user journeys from WhatsApp
// messages and web analytics events, and attributes conversions to the
// touchpoints that preceded them.
package journey

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/database"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/internal/privacy"
)

// Store is the persistence surface journey assembly reads from.
type Store interface {
	GetJourneyMessages(ctx context.Context, phone string, tr models.TimeRange) ([]database.JourneyMessageRow, error)
	GetWebEventsByUser(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]database.WebEventRow, error)
	UpdateConversionAttribution(ctx context.Context, id string, touchpoints []models.Touchpoint, attribution map[models.AttributionModel][]models.AttributionCredit) error
}

// Journey quality scoring weights.
const (
	qualityChannelWeight = 0.15
	qualityChannelCap    = 0.30
	qualityTouchWeight   = 0.03
	qualityTouchCap      = 0.30
	qualityStageBonus    = 0.20
	qualityConvBonus     = 0.20
)

// Mapper builds UserJourney views and persists conversion attribution.
type Mapper struct {
	store          Store
	logger         *logrus.Logger
	minTouchpoints int
}

func NewMapper(store Store, logger *logrus.Logger) *Mapper {
	return &Mapper{
		store:          store,
		logger:         logger,
		minTouchpoints: constants.DefaultMinTouchpoints,
	}
}

// BuildJourney assembles the journey for a correlated identity over the last
// dayRange days. Source fetch failures degrade to a partial journey rather
// than failing the build; too few touchpoints yields an empty journey.
func (m *Mapper) BuildJourney(ctx context.Context, tenant models.TenantContext, waPhone, umamiUserID string, dayRange int) (*models.UserJourney, error) {
	if waPhone == "" && umamiUserID == "" {
		return nil, apperrors.NewValidationError("identity", "waPhone or umamiUserId is required")
	}
	if dayRange <= 0 {
		dayRange = constants.DefaultJourneyDayRange
	}

	now := time.Now()
	tr := models.TimeRange{Start: now.AddDate(0, 0, -dayRange), End: now}

	journey := &models.UserJourney{WAPhone: waPhone, UmamiUserID: umamiUserID}

	touchpoints, seeds := m.collectTouchpoints(ctx, tenant, waPhone, umamiUserID, tr)
	if len(touchpoints) < m.minTouchpoints {
		m.logger.WithFields(logrus.Fields{
			"team_id":     tenant.TeamID,
			"phone":       privacy.MaskPhoneNumber(waPhone),
			"touchpoints": len(touchpoints),
		}).Debug("Too few touchpoints for a journey")
		return journey, nil
	}

	journey.Touchpoints = touchpoints
	journey.Stages = stageSpans(touchpoints)
	journey.Conversions = conversionEvents(touchpoints, seeds)
	journey.Metrics = computeMetrics(touchpoints)
	journey.QualityScore = qualityScore(journey)

	m.logger.WithFields(logrus.Fields{
		"team_id":     tenant.TeamID,
		"phone":       privacy.MaskPhoneNumber(waPhone),
		"touchpoints": len(touchpoints),
		"stages":      len(journey.Stages),
		"conversions": len(journey.Conversions),
		"quality":     journey.QualityScore,
	}).Debug("Journey assembled")

	return journey, nil
}

// AttributeConversion recomputes and persists attribution for a recorded
// conversion using the touchpoints inside the attribution window.
func (m *Mapper) AttributeConversion(ctx context.Context, tenant models.TenantContext, conv *models.Conversion) error {
	if conv == nil || conv.ID == "" {
		return apperrors.NewValidationError("conversion", "conversion with id is required")
	}

	waPhone := ""
	if conv.WAPhone != nil {
		waPhone = *conv.WAPhone
	}
	if waPhone == "" && conv.UserID == "" {
		return apperrors.NewValidationError("conversion", "waPhone or userId is required")
	}

	window := time.Duration(constants.AttributionWindowDays) * 24 * time.Hour
	// End is padded because message windows are end-exclusive; eligibility
	// inside Attribute still enforces touchpoint <= conversion time.
	tr := models.TimeRange{
		Start: conv.Timestamp.Add(-window),
		End:   conv.Timestamp.Add(time.Second),
	}

	touchpoints, _ := m.collectTouchpoints(ctx, tenant, waPhone, conv.UserID, tr)
	if len(touchpoints) == 0 {
		m.logger.WithFields(logrus.Fields{
			"team_id":       tenant.TeamID,
			"conversion_id": conv.ID,
		}).Debug("No touchpoints inside attribution window")
		return nil
	}

	conv.Touchpoints = touchpoints
	conv.Attribution = AttributeAll(touchpoints, conv.Timestamp)

	if err := m.store.UpdateConversionAttribution(ctx, conv.ID, conv.Touchpoints, conv.Attribution); err != nil {
		return apperrors.NewStorageError("update conversion attribution", err)
	}
	return nil
}

type conversionSeed struct {
	touchpoint models.Touchpoint
	eventType  string
}

// collectTouchpoints merges both channels into one timestamp-sorted list and
// flags the touchpoints that count as conversions.
func (m *Mapper) collectTouchpoints(ctx context.Context, tenant models.TenantContext, waPhone, umamiUserID string, tr models.TimeRange) ([]models.Touchpoint, []conversionSeed) {
	var touchpoints []models.Touchpoint
	var seeds []conversionSeed

	if waPhone != "" {
		rows, err := m.store.GetJourneyMessages(ctx, waPhone, tr)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"team_id": tenant.TeamID,
				"phone":   privacy.MaskPhoneNumber(waPhone),
			}).Warn("Failed to load WhatsApp touchpoints")
		}
		for _, row := range rows {
			tp := models.Touchpoint{
				ID:        "wa-" + row.MessageID,
				Timestamp: row.Timestamp,
				Channel:   models.ChannelWhatsApp,
				Type:      "message",
				Stage:     stageFromFunnel(row.Stage),
				Data: map[string]interface{}{
					"direction":   string(row.Direction),
					"messageType": string(row.Type),
				},
			}
			if row.Stage != "" {
				tp.Data["funnelStage"] = string(row.Stage)
			}
			touchpoints = append(touchpoints, tp)

			if row.Stage == models.StageClose && row.Direction == models.DirectionInbound {
				seeds = append(seeds, conversionSeed{touchpoint: tp, eventType: "deal_closed"})
			}
		}
	}

	if umamiUserID != "" {
		events, err := m.store.GetWebEventsByUser(ctx, tenant.TeamID, umamiUserID, tr)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"team_id":       tenant.TeamID,
				"umami_user_id": privacy.MaskUserID(umamiUserID),
			}).Warn("Failed to load web touchpoints")
		}
		for _, ev := range events {
			tp := models.Touchpoint{
				ID:        "web-" + ev.EventID,
				Timestamp: ev.CreatedAt,
				Channel:   models.ChannelWeb,
				Type:      webEventType(ev),
				Stage:     classifyWebStage(ev.URLPath, ev.EventName),
				Data:      map[string]interface{}{"urlPath": ev.URLPath},
			}
			if ev.ReferrerDomain != "" {
				tp.Data["referrer"] = ev.ReferrerDomain
			}
			touchpoints = append(touchpoints, tp)

			if isWebConversion(ev.URLPath, ev.EventName) {
				seeds = append(seeds, conversionSeed{touchpoint: tp, eventType: tp.Type})
			}
		}
	}

	sort.SliceStable(touchpoints, func(i, j int) bool {
		return touchpoints[i].Timestamp.Before(touchpoints[j].Timestamp)
	})
	sort.SliceStable(seeds, func(i, j int) bool {
		return seeds[i].touchpoint.Timestamp.Before(seeds[j].touchpoint.Timestamp)
	})
	return touchpoints, seeds
}

func stageFromFunnel(stage models.FunnelStage) models.JourneyStage {
	switch stage {
	case models.StageQualification, models.StageProposal:
		return models.JourneyConsideration
	case models.StageNegotiation, models.StageClose:
		return models.JourneyConversion
	default:
		return models.JourneyAwareness
	}
}

func classifyWebStage(urlPath, eventName string) models.JourneyStage {
	path := strings.ToLower(urlPath)
	name := strings.ToLower(eventName)
	switch {
	case containsAny(path, "/checkout", "/purchase", "/thank", "/success") ||
		containsAny(name, "purchase", "conversion"):
		return models.JourneyConversion
	case containsAny(path, "/cart", "/compare", "/pricing") ||
		name == "add_to_cart" || name == "view_item":
		return models.JourneyConsideration
	case containsAny(path, "/account", "/dashboard", "/profile") ||
		containsAny(name, "login"):
		return models.JourneyRetention
	default:
		return models.JourneyAwareness
	}
}

func isWebConversion(urlPath, eventName string) bool {
	path := strings.ToLower(urlPath)
	name := strings.ToLower(eventName)
	return containsAny(path, "purchase", "conversion", "success", "thank") ||
		containsAny(name, "purchase", "conversion")
}

func webEventType(ev database.WebEventRow) string {
	if ev.EventName != "" {
		return ev.EventName
	}
	return "pageview"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// stageSpans sweeps the sorted touchpoints, opening a new span whenever the
// stage changes and closing the prior one at the transition timestamp.
func stageSpans(touchpoints []models.Touchpoint) []models.StageSpan {
	var spans []models.StageSpan
	for _, tp := range touchpoints {
		if len(spans) > 0 && spans[len(spans)-1].Stage == tp.Stage {
			spans[len(spans)-1].Touchpoints++
			continue
		}
		if len(spans) > 0 {
			exited := tp.Timestamp
			spans[len(spans)-1].ExitedAt = &exited
		}
		spans = append(spans, models.StageSpan{
			Stage:       tp.Stage,
			EnteredAt:   tp.Timestamp,
			Touchpoints: 1,
		})
	}
	return spans
}

// conversionEvents attributes each conversion to every touchpoint inside the
// attribution window that precedes it.
func conversionEvents(touchpoints []models.Touchpoint, seeds []conversionSeed) []models.ConversionEvent {
	if len(seeds) == 0 {
		return nil
	}
	window := time.Duration(constants.AttributionWindowDays) * 24 * time.Hour

	events := make([]models.ConversionEvent, 0, len(seeds))
	for _, seed := range seeds {
		at := seed.touchpoint.Timestamp
		var attributed []models.Touchpoint
		for _, tp := range touchpoints {
			if tp.Timestamp.After(at) || at.Sub(tp.Timestamp) > window {
				continue
			}
			attributed = append(attributed, tp)
		}
		events = append(events, models.ConversionEvent{
			ID:          seed.touchpoint.ID,
			Timestamp:   at,
			Channel:     seed.touchpoint.Channel,
			Type:        seed.eventType,
			Touchpoints: attributed,
		})
	}
	return events
}

func computeMetrics(touchpoints []models.Touchpoint) models.JourneyMetrics {
	metrics := models.JourneyMetrics{
		TotalTouchpoints:    len(touchpoints),
		ChannelDistribution: make(map[models.Channel]int),
	}
	if len(touchpoints) == 0 {
		return metrics
	}

	for _, tp := range touchpoints {
		metrics.ChannelDistribution[tp.Channel]++
	}
	metrics.FirstTouch = touchpoints[0].Timestamp
	metrics.LastTouch = touchpoints[len(touchpoints)-1].Timestamp
	metrics.TotalDuration = metrics.LastTouch.Sub(metrics.FirstTouch)
	if len(touchpoints) > 1 {
		metrics.AvgTouchInterval = metrics.TotalDuration / time.Duration(len(touchpoints)-1)
	}
	return metrics
}

func qualityScore(journey *models.UserJourney) float64 {
	var score float64

	channels := float64(len(journey.Metrics.ChannelDistribution)) * qualityChannelWeight
	if channels > qualityChannelCap {
		channels = qualityChannelCap
	}
	score += channels

	touches := float64(journey.Metrics.TotalTouchpoints) * qualityTouchWeight
	if touches > qualityTouchCap {
		touches = qualityTouchCap
	}
	score += touches

	if len(journey.Stages) > 1 {
		score += qualityStageBonus
	}
	if len(journey.Conversions) > 0 {
		score += qualityConvBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}
