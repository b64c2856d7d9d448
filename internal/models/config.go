package models

import "time"

// Config holds the application configuration, loaded from the environment.
type Config struct {
	Env         string            `json:"env"`
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Sessions    SessionConfig     `json:"sessions"`
	Events      EventConfig       `json:"events"`
	Correlation CorrelationConfig `json:"correlation"`
	Analytics   AnalyticsConfig   `json:"analytics"`
	Auth        AuthConfig        `json:"auth"`
	Reports     ReportConfig      `json:"reports"`
	Log         LogConfig         `json:"log"`
	Features    FeatureToggles    `json:"features"`
	Demo        DemoConfig        `json:"demo"`
}

type ServerConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout"`
	IdleTimeout     time.Duration `json:"idleTimeout"`
	RateLimitMax    int           `json:"rateLimitMax"`
	RateLimitWindow time.Duration `json:"rateLimitWindow"`
	// CORSOrigins lists the dashboard origins allowed to call the API.
	// Empty means any origin, which is only safe in development.
	CORSOrigins []string `json:"corsOrigins"`
}

type DatabaseConfig struct {
	URL               string        `json:"url"`
	PoolMin           int           `json:"poolMin"`
	PoolMax           int           `json:"poolMax"`
	IdleTimeout       time.Duration `json:"idleTimeout"`
	ConnectionTimeout time.Duration `json:"connectionTimeout"`
	LogQueries        bool          `json:"logQueries"`
	// StoreDSN is the whatsmeow device-store database; defaults to URL.
	StoreDSN string `json:"storeDsn"`
}

type RedisConfig struct {
	URL    string        `json:"url"`
	Prefix string        `json:"prefix"`
	TTL    time.Duration `json:"ttl"`
}

type SessionConfig struct {
	MaxPerTeam          int           `json:"maxPerTeam"`
	IdleTimeout         time.Duration `json:"idleTimeout"`
	QRCodeExpiry        time.Duration `json:"qrCodeExpiry"`
	ReconnectAttempts   int           `json:"reconnectAttempts"`
	ReconnectDelay      time.Duration `json:"reconnectDelay"`
	BackupInterval      time.Duration `json:"backupInterval"`
	InitTimeout         time.Duration `json:"initTimeout"`
	EnableAutoReconnect bool          `json:"enableAutoReconnect"`
}

type EventConfig struct {
	BatchSize       int           `json:"batchSize"`
	ProcessInterval time.Duration `json:"processInterval"`
	RetentionDays   int           `json:"retentionDays"`
}

type CorrelationConfig struct {
	MinConfidenceThreshold float64 `json:"minConfidenceThreshold"`
	AutoVerifyThreshold    float64 `json:"autoVerifyThreshold"`
	BatchSize              int     `json:"batchSize"`
}

// AnalyticsConfig is the single knob set shared by every metric module.
type AnalyticsConfig struct {
	CacheEnabled     bool          `json:"cacheEnabled"`
	CacheTTL         time.Duration `json:"cacheTtl"`
	RealtimeInterval time.Duration `json:"realtimeInterval"`
}

type AuthConfig struct {
	JWTSecret string `json:"-"`
	Issuer    string `json:"issuer"`
}

type ReportConfig struct {
	Dir string `json:"dir"`
}

type LogConfig struct {
	Level      string `json:"level"`
	Structured bool   `json:"structured"`
	File       string `json:"file"`
}

// DemoConfig seeds a sample team at boot so a fresh install has data to
// look at. Never enabled in production.
type DemoConfig struct {
	Enabled   bool   `json:"enabled"`
	TeamID    string `json:"teamId"`
	WebsiteID string `json:"websiteId"`
	ShareID   string `json:"shareId"`
}

// FeatureToggles gate the optional subsystems.
type FeatureToggles struct {
	EnableBehavioral     bool `json:"enableBehavioral"`
	EnableJourneyMapping bool `json:"enableJourneyMapping"`
	EnableGroups         bool `json:"enableGroups"`
	EnableCalls          bool `json:"enableCalls"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
