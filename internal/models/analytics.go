package models

import (
	"time"
)

// TimeRange bounds an aggregation. Start inclusive, End exclusive.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (tr TimeRange) Valid() bool {
	return !tr.Start.IsZero() && !tr.End.IsZero() && tr.Start.Before(tr.End)
}

type BucketInterval string

const (
	BucketHour  BucketInterval = "hour"
	BucketDay   BucketInterval = "day"
	BucketWeek  BucketInterval = "week"
	BucketMonth BucketInterval = "month"
)

func ValidBucketInterval(b BucketInterval) bool {
	switch b {
	case BucketHour, BucketDay, BucketWeek, BucketMonth:
		return true
	}
	return false
}

type ResponseTimeMetrics struct {
	AvgSeconds           float64            `json:"avgSeconds"`
	MedianSeconds        float64            `json:"medianSeconds"`
	P95Seconds           float64            `json:"p95Seconds"`
	FirstResponseSeconds float64            `json:"firstResponseSeconds"`
	ByHourOfDay          map[int]float64    `json:"byHourOfDay"`
	ByDayOfWeek          map[string]float64 `json:"byDayOfWeek"`
	SampleCount          int                `json:"sampleCount"`
}

type VolumeBucket struct {
	Bucket   time.Time `json:"bucket"`
	Total    int       `json:"total"`
	Inbound  int       `json:"inbound"`
	Outbound int       `json:"outbound"`
}

type VolumeMetrics struct {
	Total     int            `json:"total"`
	Inbound   int            `json:"inbound"`
	Outbound  int            `json:"outbound"`
	Buckets   []VolumeBucket `json:"buckets"`
	PeakHours []int          `json:"peakHours"`
}

type ConversationMetrics struct {
	Total           int                        `json:"total"`
	ByStatus        map[ConversationStatus]int `json:"byStatus"`
	ByStage         map[FunnelStage]int        `json:"byStage"`
	AvgMessages     float64                    `json:"avgMessages"`
	AvgDurationSecs float64                    `json:"avgDurationSecs"`
	ResolutionRate  float64                    `json:"resolutionRate"`
}

type EngagementMetrics struct {
	ActiveUsersDay      int     `json:"activeUsersDay"`
	ActiveUsersWeek     int     `json:"activeUsersWeek"`
	ActiveUsersMonth    int     `json:"activeUsersMonth"`
	MsgsPerUserPerDay   float64 `json:"msgsPerUserPerDay"`
}

type AgentPerformance struct {
	AgentID              string  `json:"agentId"`
	MessagesHandled      int     `json:"messagesHandled"`
	AvgResponseSeconds   float64 `json:"avgResponseSeconds"`
	ConversationsClosed  int     `json:"conversationsClosed"`
}

type LiveMetrics struct {
	OpenConversations  int       `json:"openConversations"`
	MessagesLastHour   int       `json:"messagesLastHour"`
	MessagesLastMinute int       `json:"messagesLastMinute"`
	AvgResponseSeconds float64   `json:"avgResponseSeconds"`
	GeneratedAt        time.Time `json:"generatedAt"`
}

type ActiveConversation struct {
	ConversationID string        `json:"conversationId"`
	ContactPhone   string        `json:"contactPhone"`
	ContactName    string        `json:"contactName,omitempty"`
	Stage          FunnelStage   `json:"stage"`
	LastMessageAt  time.Time     `json:"lastMessageAt"`
	WaitingTime    time.Duration `json:"waitingTime"`
	UnreadCount    int           `json:"unreadCount"`
}

type FunnelSlice struct {
	Stage      FunnelStage `json:"stage"`
	Count      int         `json:"count"`
	Percentage float64     `json:"percentage"`
}

type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

type Alert struct {
	Type      string        `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
}

type AlertThresholds struct {
	MaxResponseSeconds float64 `json:"maxResponseSeconds"`
	MaxQueueLength     int     `json:"maxQueueLength"`
	MaxWaitingSeconds  float64 `json:"maxWaitingSeconds"`
}

type CohortType string

const (
	CohortDaily   CohortType = "daily"
	CohortWeekly  CohortType = "weekly"
	CohortMonthly CohortType = "monthly"
)

type CohortRow struct {
	Cohort    time.Time `json:"cohort"`
	Size      int       `json:"size"`
	Retention []float64 `json:"retention"`
}
