package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"whatslens/internal/constants"
	"whatslens/internal/models"

	"github.com/joho/godotenv"
)

var (
	ErrMissingDatabaseURL = models.ConfigError{Message: "missing DATABASE_URL"}
	ErrMissingRedisURL    = models.ConfigError{Message: "missing REDIS_URL"}
	ErrMissingJWTSecret   = models.ConfigError{Message: "missing JWT_SECRET"}
)

// Load reads configuration from the environment (and a .env file when
// present), fills defaults, and validates the result.
func Load() (*models.Config, error) {
	_ = godotenv.Load()

	cfg := &models.Config{}

	cfg.Env = getEnv("WHATSLENS_ENV", "development")

	cfg.Server.Port = getEnvAsInt("PORT", constants.DefaultServerPort)
	cfg.Server.ReadTimeout = constants.DefaultServerReadTimeout
	cfg.Server.WriteTimeout = constants.DefaultServerWriteTimeout
	cfg.Server.IdleTimeout = constants.DefaultServerIdleTimeout
	cfg.Server.RateLimitMax = getEnvAsInt("RATE_LIMIT_MAX", constants.DefaultRateLimitMax)
	cfg.Server.RateLimitWindow = getEnvAsDuration("RATE_LIMIT_WINDOW", constants.DefaultRateLimitWindow)
	cfg.Server.CORSOrigins = getEnvAsSlice("CORS_ORIGINS", nil)

	cfg.Database.URL = getEnv("DATABASE_URL", "")
	cfg.Database.PoolMin = getEnvAsInt("DB_POOL_MIN", constants.DefaultDBPoolMin)
	cfg.Database.PoolMax = getEnvAsInt("DB_POOL_MAX", constants.DefaultDBPoolMax)
	cfg.Database.IdleTimeout = time.Duration(getEnvAsInt("DB_IDLE_TIMEOUT_SEC", constants.DefaultDBIdleTimeoutSec)) * time.Second
	cfg.Database.ConnectionTimeout = time.Duration(getEnvAsInt("DB_CONNECTION_TIMEOUT_SEC", constants.DefaultDBConnectionTimeoutSec)) * time.Second
	cfg.Database.LogQueries = getEnvAsBool("DB_LOG_QUERIES", false)
	cfg.Database.StoreDSN = getEnv("WA_STORE_DSN", cfg.Database.URL)

	cfg.Redis.URL = getEnv("REDIS_URL", "")
	cfg.Redis.Prefix = getEnv("REDIS_PREFIX", constants.DefaultRedisPrefix)
	cfg.Redis.TTL = time.Duration(getEnvAsInt("REDIS_TTL_SEC", constants.DefaultRedisTTLSec)) * time.Second

	cfg.Sessions.MaxPerTeam = getEnvAsInt("MAX_SESSIONS", constants.DefaultMaxSessionsPerTeam)
	cfg.Sessions.IdleTimeout = time.Duration(getEnvAsInt("SESSION_TIMEOUT_MIN", int(constants.DefaultSessionIdleTimeout/time.Minute))) * time.Minute
	cfg.Sessions.QRCodeExpiry = time.Duration(getEnvAsInt("QR_CODE_EXPIRY_SEC", constants.DefaultQRCodeExpirySec)) * time.Second
	cfg.Sessions.ReconnectAttempts = getEnvAsInt("RECONNECT_ATTEMPTS", constants.DefaultReconnectAttempts)
	cfg.Sessions.ReconnectDelay = time.Duration(getEnvAsInt("RECONNECT_DELAY_MS", constants.DefaultReconnectBaseDelayMs)) * time.Millisecond
	cfg.Sessions.BackupInterval = time.Duration(getEnvAsInt("BACKUP_INTERVAL_MIN", int(constants.DefaultAuthBackupInterval/time.Minute))) * time.Minute
	cfg.Sessions.InitTimeout = time.Duration(getEnvAsInt("DRIVER_INIT_TIMEOUT_SEC", constants.DefaultDriverInitTimeoutSec)) * time.Second
	cfg.Sessions.EnableAutoReconnect = getEnvAsBool("ENABLE_AUTO_RECONNECT", true)

	cfg.Events.BatchSize = getEnvAsInt("EVENT_BATCH_SIZE", constants.DefaultEventBatchSize)
	cfg.Events.ProcessInterval = time.Duration(getEnvAsInt("EVENT_PROCESS_INTERVAL_MS", constants.DefaultEventProcessIntervalMs)) * time.Millisecond
	cfg.Events.RetentionDays = getEnvAsInt("EVENT_RETENTION_DAYS", constants.DefaultEventRetentionDays)

	cfg.Correlation.MinConfidenceThreshold = getEnvAsFloat("CORRELATION_CONFIDENCE_THRESHOLD", constants.DefaultMinConfidenceThreshold)
	cfg.Correlation.AutoVerifyThreshold = getEnvAsFloat("AUTO_VERIFY_THRESHOLD", constants.DefaultAutoVerifyThreshold)
	cfg.Correlation.BatchSize = getEnvAsInt("CORRELATION_BATCH_SIZE", constants.DefaultCorrelationBatchSize)

	cfg.Analytics.CacheEnabled = getEnvAsBool("METRICS_CACHE_ENABLED", true)
	cfg.Analytics.CacheTTL = getEnvAsDuration("METRICS_CACHE_TTL", constants.MetricCacheTTL)
	cfg.Analytics.RealtimeInterval = getEnvAsDuration("REALTIME_INTERVAL", constants.DefaultRealtimeInterval)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Auth.Issuer = getEnv("JWT_ISSUER", "whatslens")

	cfg.Reports.Dir = getEnv("REPORTS_DIR", "reports")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Structured = getEnvAsBool("LOG_STRUCTURED", false)
	cfg.Log.File = getEnv("LOG_FILE", "")

	cfg.Features.EnableBehavioral = getEnvAsBool("ENABLE_BEHAVIORAL", true)
	cfg.Features.EnableJourneyMapping = getEnvAsBool("ENABLE_JOURNEY_MAPPING", false)
	cfg.Features.EnableGroups = getEnvAsBool("ENABLE_GROUPS", false)
	cfg.Features.EnableCalls = getEnvAsBool("ENABLE_CALLS", false)

	cfg.Demo.Enabled = getEnvAsBool("DEMO_MODE", false)
	cfg.Demo.TeamID = getEnv("DEMO_TEAM_ID", "")
	cfg.Demo.WebsiteID = getEnv("DEMO_WEBSITE_ID", "")
	cfg.Demo.ShareID = getEnv("DEMO_SHARE_ID", "")

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := validateSecurity(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(c *models.Config) error {
	if c.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	if c.Redis.URL == "" {
		return ErrMissingRedisURL
	}

	if c.Database.PoolMin < 1 {
		c.Database.PoolMin = 1
	}
	if c.Database.PoolMax < c.Database.PoolMin {
		return models.ConfigError{Message: fmt.Sprintf("DB_POOL_MAX (%d) must be >= DB_POOL_MIN (%d)", c.Database.PoolMax, c.Database.PoolMin)}
	}

	if c.Sessions.MaxPerTeam < 1 {
		return models.ConfigError{Message: "MAX_SESSIONS must be at least 1"}
	}
	if c.Events.BatchSize < 1 {
		return models.ConfigError{Message: "EVENT_BATCH_SIZE must be at least 1"}
	}

	if c.Correlation.MinConfidenceThreshold < 0 || c.Correlation.MinConfidenceThreshold > 1 {
		return models.ConfigError{Message: "CORRELATION_CONFIDENCE_THRESHOLD must be within [0,1]"}
	}
	if c.Correlation.AutoVerifyThreshold < c.Correlation.MinConfidenceThreshold {
		return models.ConfigError{Message: "AUTO_VERIFY_THRESHOLD must be >= CORRELATION_CONFIDENCE_THRESHOLD"}
	}

	if c.Analytics.RealtimeInterval < constants.MinRealtimeInterval {
		c.Analytics.RealtimeInterval = constants.MinRealtimeInterval
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return models.ConfigError{Message: fmt.Sprintf("invalid LOG_LEVEL %q", c.Log.Level)}
	}

	if c.Demo.Enabled && c.Demo.TeamID == "" {
		return models.ConfigError{Message: "DEMO_MODE requires DEMO_TEAM_ID"}
	}

	return nil
}

// validateSecurity performs environment-specific hardening checks.
func validateSecurity(c *models.Config) error {
	isProduction := c.Env == "production"

	if isProduction {
		if c.Auth.JWTSecret == "" {
			return ErrMissingJWTSecret
		}
		if len(c.Auth.JWTSecret) < 32 {
			return models.ConfigError{Message: "JWT secret must be at least 32 characters long"}
		}
		if c.Log.Level == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if c.Demo.Enabled {
			return models.ConfigError{Message: "DEMO_MODE cannot be enabled in production"}
		}
	} else if c.Auth.JWTSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: JWT_SECRET not set. Tenant authentication is disabled outside production.\n")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
