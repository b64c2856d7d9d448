package models

import (
	"time"
)

// CorrelationMethod names the signal a piece of evidence came from.
type CorrelationMethod string

const (
	MethodPhone     CorrelationMethod = "phone"
	MethodEmail     CorrelationMethod = "email"
	MethodSession   CorrelationMethod = "session"
	MethodUserAgent CorrelationMethod = "user_agent"
	MethodManual    CorrelationMethod = "manual"
	MethodMLModel   CorrelationMethod = "ml_model"
)

// Evidence is a single matcher's verdict. Quality is 0..1 within the method;
// Weight is the method's base credibility. Data is a matcher-specific payload
// persisted as JSON.
type Evidence struct {
	Method  CorrelationMethod      `json:"method"`
	Matched bool                   `json:"matched"`
	Weight  float64                `json:"weight"`
	Quality float64                `json:"quality"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "high"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceVeryLow ConfidenceLevel = "very_low"
)

// ConfidenceResult is the scorer's output for one evidence set.
type ConfidenceResult struct {
	Score         float64           `json:"score"`
	Level         ConfidenceLevel   `json:"level"`
	PrimaryMethod CorrelationMethod `json:"primaryMethod"`
	Evidence      []Evidence        `json:"evidence"`
	BonusApplied  float64           `json:"bonusApplied"`
}

// UserIdentityCorrelation links a WhatsApp phone to a web-analytics user.
// At most one active row per (teamId, waPhone); rejected rows keep
// verified=true with isActive=false for feedback analysis.
type UserIdentityCorrelation struct {
	ID              string            `db:"id"`
	TeamID          string            `db:"team_id"`
	WAPhone         string            `db:"wa_phone"`
	WAContactName   *string           `db:"wa_contact_name"`
	UmamiUserID     *string           `db:"umami_user_id"`
	UmamiSessionID  *string           `db:"umami_session_id"`
	ConfidenceScore float64           `db:"confidence_score"`
	Method          CorrelationMethod `db:"method"`
	Evidence        []Evidence        `db:"evidence"`
	Verified        bool              `db:"verified"`
	VerifiedBy      *string           `db:"verified_by"`
	VerifiedAt      *time.Time        `db:"verified_at"`
	UserConsent     bool              `db:"user_consent"`
	IsActive        bool              `db:"is_active"`
	CreatedAt       time.Time         `db:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at"`
}

// CorrelationRequest is one inbound message's identity signals.
type CorrelationRequest struct {
	WAPhone          string     `json:"waPhone" validate:"required"`
	WAContactName    string     `json:"waContactName,omitempty"`
	MessageTimestamp *time.Time `json:"messageTimestamp,omitempty"`
	MessageContent   string     `json:"messageContent,omitempty"`
	UserAgent        string     `json:"userAgent,omitempty"`
}

type CorrelationOptions struct {
	AutoVerifyThreshold    float64
	MinConfidenceThreshold float64
	EnableBehavioral       bool
	EnableJourneyMapping   bool
	BatchSize              int
}

type CorrelationResult struct {
	Created         bool    `json:"created"`
	CorrelationID   string  `json:"correlationId"`
	Score           float64 `json:"score"`
	Verified        bool    `json:"verified"`
	QueuedForReview bool    `json:"queuedForReview"`
}

type CorrelationFilter struct {
	Verified      *bool
	MinConfidence float64
	Limit         int
	Offset        int
}

type CorrelationStats struct {
	Total              int                       `json:"total"`
	Verified           int                       `json:"verified"`
	Pending            int                       `json:"pending"`
	AvgConfidence      float64                   `json:"avgConfidence"`
	MethodDistribution map[CorrelationMethod]int `json:"methodDistribution"`
}

// VerificationItem sits on the per-team manual review queue. Priority 1 is
// most urgent, 10 least.
type VerificationItem struct {
	CorrelationID   string            `json:"correlationId"`
	TeamID          string            `json:"teamId"`
	WAPhone         string            `json:"waPhone"`
	WAContactName   string            `json:"waContactName,omitempty"`
	UmamiUserID     string            `json:"umamiUserId,omitempty"`
	ConfidenceScore float64           `json:"confidenceScore"`
	Method          CorrelationMethod `json:"method"`
	Evidence        []Evidence        `json:"evidence"`
	Reason          string            `json:"reason"`
	QueuedAt        time.Time         `json:"queuedAt"`
	Priority        int               `json:"priority"`
}

// VerificationDecision is the audit record of an approve/reject, kept in a
// capped per-team log for feedback analysis.
type VerificationDecision struct {
	CorrelationID string            `json:"correlationId"`
	Method        CorrelationMethod `json:"method"`
	Score         float64           `json:"score"`
	Approved      bool              `json:"approved"`
	DecidedBy     string            `json:"decidedBy"`
	Reason        string            `json:"reason,omitempty"`
	DecidedAt     time.Time         `json:"decidedAt"`
}

type VerifyCorrelationRequest struct {
	Approve            bool     `json:"approve"`
	AdjustedConfidence *float64 `json:"adjustedConfidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Reason             string   `json:"reason,omitempty"`
}

// PatternAnalysis summarizes reviewer decisions per method.
type PatternAnalysis struct {
	TotalDecisions     int                           `json:"totalDecisions"`
	MethodApprovalRate map[CorrelationMethod]float64 `json:"methodApprovalRate"`
	AccuratePatterns   []CorrelationMethod           `json:"accuratePatterns"`
	InaccuratePatterns []CorrelationMethod           `json:"inaccuratePatterns"`
	Recommendations    []string                      `json:"recommendations"`
}
