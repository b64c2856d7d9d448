package constants

import "time"

// Server defaults
const (
	DefaultServerPort          = 8080
	DefaultServerReadTimeout   = 15 * time.Second
	DefaultServerWriteTimeout  = 15 * time.Second
	DefaultServerIdleTimeout   = 60 * time.Second
	DefaultGracefulShutdownSec = 30
)

// Database pool defaults
const (
	DefaultDBPoolMin              = 2
	DefaultDBPoolMax              = 10
	DefaultDBIdleTimeoutSec       = 300
	DefaultDBConnectionTimeoutSec = 30
	DefaultDatabaseRetryAttempts  = 3
)

// KV store defaults
const (
	DefaultRedisPrefix        = "whatslens"
	DefaultRedisTTLSec        = 3600
	DefaultKVRetryBaseDelayMs = 1000
	DefaultKVRetryMaxDelayMs  = 60000
	DefaultKVConnectAttempts  = 10
)

// Session lifecycle defaults
const (
	DefaultMaxSessionsPerTeam   = 5
	DefaultSessionIdleTimeout   = 30 * time.Minute
	DefaultQRCodeExpirySec      = 90
	QRCodeImageSize             = 256
	DefaultReconnectAttempts    = 5
	DefaultReconnectBaseDelayMs = 1000
	DefaultReconnectMaxDelayMs  = 60000
	DefaultDriverInitTimeoutSec = 20
	DefaultAuthBackupInterval   = 5 * time.Minute
	DefaultHealthCheckInterval  = 30 * time.Second
	DefaultIdleSweepInterval    = 5 * time.Minute
)

// Event pipeline defaults
const (
	DefaultEventBatchSize         = 50
	DefaultEventProcessIntervalMs = 5000
	DefaultEventRetentionDays     = 180
	EventQueueName                = "whatsapp:events"
)

// Correlation defaults
const (
	DefaultMinConfidenceThreshold = 0.40
	DefaultAutoVerifyThreshold    = 0.90
	DefaultCorrelationBatchSize   = 10

	ConfidenceHighThreshold   = 0.85
	ConfidenceMediumThreshold = 0.60
	ConfidenceLowThreshold    = 0.40

	BonusMultipleMatches = 0.10
	BonusHighQuality     = 0.05
	BonusRecentActivity  = 0.03

	WeightPhone     = 0.90
	WeightEmail     = 0.85
	WeightSession   = 0.70
	WeightUserAgent = 0.50
	WeightMLModel   = 0.60
	WeightManual    = 1.00
)

// Matcher defaults
const (
	PhoneSearchWindowDays = 90
	PhoneMatchCacheTTL    = time.Hour

	EmailSearchWindowDays = 90
	MaxEmailsPerMessage   = 3

	SessionWindowBeforeMin  = 30
	SessionWindowAfterMin   = 60
	SessionMaxDurationMin   = 240
	SessionRecentStartBonus = 1.2

	BehavioralDayRange        = 30
	BehavioralMinInteractions = 3
	BehavioralMinSimilarity   = 0.3
	ConversionAlignmentDays   = 7
)

// Verification defaults
const (
	DefaultVerificationPriority = 5
	DecisionLogCap              = 1000
	DecisionLogTTL              = 30 * 24 * time.Hour
	MinDecisionsForAnalysis     = 10
	AccuratePatternThreshold    = 0.8
	InaccuratePatternThreshold  = 0.5
)

// Journey defaults
const (
	DefaultJourneyDayRange    = 90
	DefaultMinTouchpoints     = 2
	AttributionWindowDays     = 30
	TimeDecayHalfLifeDays     = 7
	PositionBasedFirstCredit  = 0.4
	PositionBasedLastCredit   = 0.4
	PositionBasedMiddleCredit = 0.2
)

// Analytics defaults
const (
	MetricCacheTTL           = 15 * time.Minute
	LiveMetricsCacheTTL      = 30 * time.Second
	ResponsePairingWindow    = 24 * time.Hour
	DefaultRealtimeInterval  = 10 * time.Second
	MinRealtimeInterval      = time.Second
	DefaultActiveConvosLimit = 20
	ReportHistoryCap         = 100
	ReportRetention          = 30 * 24 * time.Hour
)

// HTTP defaults
const (
	DefaultPageLimit        = 50
	MaxPageLimit            = 100
	DefaultRateLimitMax     = 100
	DefaultRateLimitWindow  = time.Minute
	DefaultRequestBodyLimit = 1 << 20
)

// WebSocket defaults
const (
	WSWriteWait        = 10 * time.Second
	WSPongWait         = 30 * time.Second
	WSPingInterval     = 15 * time.Second
	WSSendBufferSize   = 256
	WSMaxMessageSize   = 64 * 1024
	WSHandshakeTimeout = 10 * time.Second
)

// Notification defaults
const (
	NotificationRetention       = 30 * 24 * time.Hour
	NotificationPrefsTTL        = 365 * 24 * time.Hour
	DefaultNotificationLimit    = 20
	NotificationCleanupInterval = 24 * time.Hour
)

// Scheduler defaults
const (
	EventCleanupInterval     = 24 * time.Hour
	AutoApproveInterval      = time.Hour
	ReportCleanupInterval    = 24 * time.Hour
	IdleConversationInterval = time.Hour
	IdleConversationAfter    = 7 * 24 * time.Hour
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultIDLogLength     = 8
)

// Encryption settings for KV auth blobs
const (
	EncryptionSalt       = "whatslens-auth-store-v1"
	EncryptionIterations = 100000
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
)
