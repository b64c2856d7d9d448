package correlation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/database"
	"whatslens/internal/models"
	"whatslens/internal/privacy"
)

// IdentitySearcher finds stored web-analytics values matching identity
// probes. Patterns are SQL ILIKE expressions.
type IdentitySearcher interface {
	SearchWebSessionData(ctx context.Context, teamID string, patterns []string, since time.Time) ([]database.WebDataMatchRow, error)
	SearchWebEventData(ctx context.Context, teamID string, patterns []string, since time.Time) ([]database.WebDataMatchRow, error)
}

// MatchCache memoizes matcher verdicts so a chatty contact does not re-run
// the same search on every message.
type MatchCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

var (
	e164Pattern  = regexp.MustCompile(`^\+\d{8,15}$`)
	phoneCleaner = strings.NewReplacer(" ", "", "(", "", ")", "", "-", "", ".", "")
)

// countryCallingCodes maps ISO 3166-1 alpha-2 codes to calling codes for
// numbers stored in national format.
var countryCallingCodes = map[string]string{
	"US": "1", "CA": "1", "GB": "44", "IE": "353", "DE": "49", "FR": "33",
	"ES": "34", "IT": "39", "PT": "351", "NL": "31", "BE": "32", "CH": "41",
	"AT": "43", "SE": "46", "NO": "47", "DK": "45", "FI": "358", "PL": "48",
	"CZ": "420", "GR": "30", "TR": "90", "RU": "7", "UA": "380", "BR": "55",
	"MX": "52", "AR": "54", "CL": "56", "CO": "57", "PE": "51", "IN": "91",
	"PK": "92", "BD": "880", "MY": "60", "SG": "65", "ID": "62", "TH": "66",
	"PH": "63", "VN": "84", "JP": "81", "KR": "82", "CN": "86", "HK": "852",
	"TW": "886", "AU": "61", "NZ": "64", "ZA": "27", "NG": "234", "KE": "254",
	"EG": "20", "MA": "212", "AE": "971", "SA": "966", "IL": "972",
}

// PhoneMatcher links WhatsApp phone numbers to web sessions through values
// the visitor left in tracked form fields or identify calls.
type PhoneMatcher struct {
	store          IdentitySearcher
	cache          MatchCache
	defaultCountry string
	logger         *logrus.Logger
}

func NewPhoneMatcher(store IdentitySearcher, cache MatchCache, defaultCountry string, logger *logrus.Logger) *PhoneMatcher {
	country := strings.ToUpper(strings.TrimSpace(defaultCountry))
	if country == "" {
		country = "US"
	}
	return &PhoneMatcher{
		store:          store,
		cache:          cache,
		defaultCountry: country,
		logger:         logger,
	}
}

// Normalize converts a raw phone number to E.164. Numbers without an
// international prefix get the country's calling code; numbers of 11+
// digits, or ones already starting with that code, are taken as
// international without the plus.
func (m *PhoneMatcher) Normalize(raw, country string) (string, error) {
	cleaned := phoneCleaner.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", fmt.Errorf("empty phone number")
	}

	code := countryCallingCodes[strings.ToUpper(country)]
	var candidate string
	switch {
	case strings.HasPrefix(cleaned, "+"):
		candidate = cleaned
	case strings.HasPrefix(cleaned, "00"):
		candidate = "+" + cleaned[2:]
	case strings.HasPrefix(cleaned, "0"):
		// National form: drop the trunk zeros, then prefix the calling
		// code when one resolves.
		candidate = "+" + code + strings.TrimLeft(cleaned, "0")
	case len(cleaned) >= 11, code != "" && strings.HasPrefix(cleaned, code):
		candidate = "+" + cleaned
	case code != "":
		candidate = "+" + code + cleaned
	default:
		candidate = "+" + cleaned
	}

	if !e164Pattern.MatchString(candidate) {
		return "", fmt.Errorf("phone number %s is not E.164", privacy.MaskPhoneNumber(candidate))
	}
	return candidate, nil
}

// Variations lists the shapes a visitor may have typed into a form: E.164,
// without the plus, and the national form with a leading zero when the
// number carries the default country's code.
func (m *PhoneMatcher) Variations(normalized string) []string {
	bare := strings.TrimPrefix(normalized, "+")
	variations := []string{normalized, bare}
	if code := countryCallingCodes[m.defaultCountry]; code != "" && strings.HasPrefix(bare, code) {
		variations = append(variations, "0"+strings.TrimPrefix(bare, code))
	}
	return variations
}

// Match searches the tenant's web-analytics data for the phone number and
// grades every hit. Verdicts are cached per normalized number; a cached miss
// is returned as readily as a cached hit.
func (m *PhoneMatcher) Match(ctx context.Context, tenant models.TenantContext, phone string) (models.Evidence, error) {
	evidence := models.Evidence{Method: models.MethodPhone, Weight: constants.WeightPhone}

	normalized, err := m.Normalize(phone, m.defaultCountry)
	if err != nil {
		return evidence, fmt.Errorf("failed to normalize phone: %w", err)
	}

	cacheKey := fmt.Sprintf("phone_match:%s:%s", tenant.TeamID, normalized)
	if m.cache != nil {
		var cached models.Evidence
		if found, cacheErr := m.cache.GetJSON(ctx, cacheKey, &cached); cacheErr == nil && found {
			return cached, nil
		}
	}

	since := time.Now().AddDate(0, 0, -constants.PhoneSearchWindowDays)
	patterns := likePatterns(m.Variations(normalized))

	sessionRows, err := m.store.SearchWebSessionData(ctx, tenant.TeamID, patterns, since)
	if err != nil {
		return evidence, fmt.Errorf("failed to search session data: %w", err)
	}
	eventRows, err := m.store.SearchWebEventData(ctx, tenant.TeamID, patterns, since)
	if err != nil {
		return evidence, fmt.Errorf("failed to search event data: %w", err)
	}

	hits := collectHits(sessionRows, eventRows, gradePhoneEvent)
	if len(hits) > 0 {
		evidence.Matched = true
		evidence.Quality = hits[0].Quality
		evidence.Data = hitEvidenceData(normalized, hits)
	}

	if m.cache != nil {
		if cacheErr := m.cache.SetJSON(ctx, cacheKey, evidence, constants.PhoneMatchCacheTTL); cacheErr != nil {
			m.logger.WithError(cacheErr).Debug("Failed to cache phone match")
		}
	}
	return evidence, nil
}

// gradePhoneEvent rates an event-data hit by how deliberately the value was
// collected. A dedicated phone field beats a checkout blob.
func gradePhoneEvent(row database.WebDataMatchRow) float64 {
	switch {
	case containsAny(row.DataKey, []string{"phone", "mobile", "tel", "contact"}):
		return 0.95
	case containsAny(row.EventName, []string{"contact", "form", "signup"}):
		return 0.85
	case containsAny(row.EventName, []string{"checkout", "payment"}):
		return 0.80
	default:
		return 0.70
	}
}
