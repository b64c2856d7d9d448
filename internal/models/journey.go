package models

import (
	"time"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWeb      Channel = "web"
	ChannelEmail    Channel = "email"
	ChannelOther    Channel = "other"
)

// JourneyStage is the customer-journey axis, distinct from FunnelStage.
type JourneyStage string

const (
	JourneyAwareness     JourneyStage = "awareness"
	JourneyConsideration JourneyStage = "consideration"
	JourneyConversion    JourneyStage = "conversion"
	JourneyRetention     JourneyStage = "retention"
)

// Touchpoint is one interaction on any channel.
type Touchpoint struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Channel   Channel                `json:"channel"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Stage     JourneyStage           `json:"stage,omitempty"`
}

// StageSpan is a contiguous run of touchpoints in one journey stage.
type StageSpan struct {
	Stage       JourneyStage `json:"stage"`
	EnteredAt   time.Time    `json:"enteredAt"`
	ExitedAt    *time.Time   `json:"exitedAt,omitempty"`
	Touchpoints int          `json:"touchpoints"`
}

type ConversionEvent struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Channel     Channel      `json:"channel"`
	Type        string       `json:"type"`
	Touchpoints []Touchpoint `json:"touchpoints,omitempty"`
}

type JourneyMetrics struct {
	TotalTouchpoints    int             `json:"totalTouchpoints"`
	TotalDuration       time.Duration   `json:"totalDuration"`
	ChannelDistribution map[Channel]int `json:"channelDistribution"`
	FirstTouch          time.Time       `json:"firstTouch"`
	LastTouch           time.Time       `json:"lastTouch"`
	AvgTouchInterval    time.Duration   `json:"avgTouchInterval"`
}

type UserJourney struct {
	WAPhone      string            `json:"waPhone"`
	UmamiUserID  string            `json:"umamiUserId,omitempty"`
	Touchpoints  []Touchpoint      `json:"touchpoints"`
	Stages       []StageSpan       `json:"stages"`
	Conversions  []ConversionEvent `json:"conversions"`
	Metrics      JourneyMetrics    `json:"metrics"`
	QualityScore float64           `json:"qualityScore"`
}

type AttributionModel string

const (
	AttributionLastTouch     AttributionModel = "last_touch"
	AttributionFirstTouch    AttributionModel = "first_touch"
	AttributionLinear        AttributionModel = "linear"
	AttributionTimeDecay     AttributionModel = "time_decay"
	AttributionPositionBased AttributionModel = "position_based"
)

func ValidAttributionModel(m AttributionModel) bool {
	switch m {
	case AttributionLastTouch, AttributionFirstTouch, AttributionLinear,
		AttributionTimeDecay, AttributionPositionBased:
		return true
	}
	return false
}

// AttributionCredit is one touchpoint's share of a conversion under a model.
// Credits for one conversion sum to 1.
type AttributionCredit struct {
	TouchpointID string  `json:"touchpointId"`
	Channel      Channel `json:"channel"`
	Credit       float64 `json:"credit"`
}
