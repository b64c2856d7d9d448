package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/httputil"
	"whatslens/internal/kv"
	"whatslens/internal/models"
	"whatslens/internal/service"
	"whatslens/internal/tracing"
)

// Limiter decides whether a request under a key may proceed within the
// current window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (kv.RateLimitResult, error)
}

// RateLimit throttles requests per team, falling back to the client IP for
// unauthenticated traffic. When the limiter backend is unreachable the
// request is admitted so an outage never blocks the API.
func RateLimit(limiter Limiter, limit int, window time.Duration, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiterKey(r)

			result, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				logger.WithFields(logrus.Fields{
					service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
					service.LogFieldReason:    err.Error(),
				}).Warn("Rate limiter unavailable, admitting request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Round(time.Second) / time.Second)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				requestID := tracing.GetRequestID(r.Context())
				httputil.WriteError(w, apperrors.NewRateLimitError(limit, window.String()), requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limiterKey buckets authenticated requests by team so one tenant cannot
// starve another, and anonymous requests by client IP.
func limiterKey(r *http.Request) string {
	if tenant, ok := models.TenantFromContext(r.Context()); ok {
		return "team:" + tenant.TeamID
	}
	return "ip:" + httputil.GetClientIP(r)
}
