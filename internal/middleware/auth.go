package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/httputil"
	"whatslens/internal/models"
	"whatslens/internal/service"
	"whatslens/internal/tracing"
)

// Claims is the JWT payload issued by the account service. The tenant
// fields use the same JSON names as the REST payloads so tokens stay
// inspectable with standard tooling.
type Claims struct {
	TeamID   string          `json:"teamId"`
	UserID   string          `json:"userId"`
	UserRole models.UserRole `json:"userRole"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and resolves them to a tenant context.
// It also authenticates websocket handshakes.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a token verifier. An empty issuer disables the
// issuer check, which is how local development tokens are minted.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Verify parses and validates a signed token. Expiry and signature are
// checked by the parser; team and role claims are checked here.
func (v *Verifier) Verify(tokenString string) (*models.TenantContext, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("token verification is not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.TeamID == "" {
		return nil, fmt.Errorf("token is missing the team claim")
	}

	role := claims.UserRole
	if role == "" {
		role = models.RoleMember
	}
	switch role {
	case models.RoleOwner, models.RoleAdmin, models.RoleMember:
	default:
		// The system role is reserved for background jobs and is never
		// granted through a token.
		return nil, fmt.Errorf("token carries unknown role %q", claims.UserRole)
	}

	return &models.TenantContext{
		TeamID:   claims.TeamID,
		UserID:   claims.UserID,
		UserRole: role,
	}, nil
}

// Auth authenticates requests with a bearer token and stores the resolved
// tenant on the request context. Requests without a valid token never
// reach the wrapped handler.
func Auth(verifier *Verifier, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := tracing.GetRequestID(r.Context())

			token := bearerToken(r)
			if token == "" {
				httputil.WriteError(w, apperrors.NewUnauthorizedError("missing bearer token"), requestID)
				return
			}

			tenant, err := verifier.Verify(token)
			if err != nil {
				logger.WithFields(logrus.Fields{
					service.LogFieldRequestID: requestID,
					service.LogFieldRemoteIP:  httputil.GetClientIP(r),
				}).WithError(err).Debug("Rejected bearer token")
				httputil.WriteError(w, apperrors.NewUnauthorizedError("invalid or expired token"), requestID)
				return
			}

			ctx := models.WithTenant(r.Context(), *tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the credential from an "Authorization: Bearer ..."
// header. Any other scheme is treated as absent.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
