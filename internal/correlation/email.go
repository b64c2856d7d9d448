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

var (
	emailPattern        = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	emailExtractPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// freeMailDomains are consumer providers the corporate-domain sweep skips;
// sharing gmail.com says nothing about identity.
var freeMailDomains = map[string]bool{
	"gmail.com": true, "googlemail.com": true, "yahoo.com": true,
	"hotmail.com": true, "outlook.com": true, "live.com": true,
	"icloud.com": true, "aol.com": true, "protonmail.com": true,
	"proton.me": true, "gmx.com": true, "gmx.de": true, "web.de": true,
	"mail.com": true, "yandex.com": true, "zoho.com": true,
}

// EmailMatcher links addresses found in message text to web-analytics
// records of the same address.
type EmailMatcher struct {
	store  IdentitySearcher
	logger *logrus.Logger
}

func NewEmailMatcher(store IdentitySearcher, logger *logrus.Logger) *EmailMatcher {
	return &EmailMatcher{store: store, logger: logger}
}

func (m *EmailMatcher) Validate(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// Normalize lowercases the address, strips a +tag from the local part, and
// removes the dots Gmail ignores.
func (m *EmailMatcher) Normalize(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if i := strings.Index(local, "+"); i >= 0 {
		local = local[:i]
	}
	if domain == "gmail.com" || domain == "googlemail.com" {
		local = strings.ReplaceAll(local, ".", "")
	}
	return local + "@" + domain
}

// ExtractEmails pulls every address out of free-form text, normalized and
// deduplicated in order of appearance.
func (m *EmailMatcher) ExtractEmails(text string) []string {
	raw := emailExtractPattern.FindAllString(text, -1)
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(raw))
	emails := make([]string, 0, len(raw))
	for _, r := range raw {
		normalized := m.Normalize(r)
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		emails = append(emails, normalized)
	}
	return emails
}

// DomainSimilarity compares the domains of two addresses: identical host
// 1.0, same registrable domain 0.85, same TLD only 0.3, else 0.
func (m *EmailMatcher) DomainSimilarity(a, b string) float64 {
	da, db := domainOf(a), domainOf(b)
	if da == "" || db == "" {
		return 0
	}
	if da == db {
		return 1.0
	}
	if registrableDomain(da) == registrableDomain(db) {
		return 0.85
	}
	if topLevelDomain(da) == topLevelDomain(db) {
		return 0.3
	}
	return 0
}

// Match searches the tenant's web-analytics data for the exact address:
// substring match in session data, equality in event properties.
func (m *EmailMatcher) Match(ctx context.Context, tenant models.TenantContext, email string) (models.Evidence, error) {
	evidence := models.Evidence{Method: models.MethodEmail, Weight: constants.WeightEmail}

	if !m.Validate(email) {
		return evidence, fmt.Errorf("invalid email address %s", privacy.MaskEmail(email))
	}
	normalized := m.Normalize(email)
	since := time.Now().AddDate(0, 0, -constants.EmailSearchWindowDays)

	sessionRows, err := m.store.SearchWebSessionData(ctx, tenant.TeamID, likePatterns([]string{normalized}), since)
	if err != nil {
		return evidence, fmt.Errorf("failed to search session data: %w", err)
	}
	// Without wildcards ILIKE is a case-insensitive equality test.
	eventRows, err := m.store.SearchWebEventData(ctx, tenant.TeamID, []string{normalized}, since)
	if err != nil {
		return evidence, fmt.Errorf("failed to search event data: %w", err)
	}

	hits := collectHits(sessionRows, eventRows, gradeEmailEvent)
	if len(hits) > 0 {
		evidence.Matched = true
		evidence.Quality = hits[0].Quality
		evidence.Data = hitEvidenceData(normalized, hits)
	}
	return evidence, nil
}

// CorporateDomainSweep looks for other addresses on the same corporate
// domain and grades them by domain similarity. Free-mail domains return an
// unmatched verdict outright.
func (m *EmailMatcher) CorporateDomainSweep(ctx context.Context, tenant models.TenantContext, email string) (models.Evidence, error) {
	evidence := models.Evidence{Method: models.MethodEmail, Weight: constants.WeightEmail}

	normalized := m.Normalize(email)
	domain := domainOf(normalized)
	if domain == "" || freeMailDomains[domain] {
		return evidence, nil
	}

	since := time.Now().AddDate(0, 0, -constants.EmailSearchWindowDays)
	patterns := []string{"%@" + domain + "%"}

	sessionRows, err := m.store.SearchWebSessionData(ctx, tenant.TeamID, patterns, since)
	if err != nil {
		return evidence, fmt.Errorf("failed to search session data: %w", err)
	}
	eventRows, err := m.store.SearchWebEventData(ctx, tenant.TeamID, patterns, since)
	if err != nil {
		return evidence, fmt.Errorf("failed to search event data: %w", err)
	}

	// The sweep grades every row by similarity, so session rows go through
	// the same grader instead of the identify-call fast path.
	sweepGrade := func(row database.WebDataMatchRow) float64 {
		candidate := emailExtractPattern.FindString(row.Value)
		if candidate == "" {
			return 0
		}
		return m.DomainSimilarity(normalized, candidate) * 0.75
	}
	var hits []dataHit
	for _, h := range collectHits(nil, append(sessionRows, eventRows...), sweepGrade) {
		if h.Quality > 0 {
			hits = append(hits, h)
		}
	}
	if len(hits) > 0 {
		evidence.Matched = true
		evidence.Quality = hits[0].Quality
		evidence.Data = hitEvidenceData("@"+domain, hits)
	}
	return evidence, nil
}

// gradeEmailEvent rates an event-data hit by the event's intent. Dedicated
// email fields beat commerce payload mentions.
func gradeEmailEvent(row database.WebDataMatchRow) float64 {
	switch {
	case containsAny(row.DataKey, []string{"email", "mail"}):
		return 0.95
	case containsAny(row.EventName, []string{"signup", "register", "login", "auth"}):
		return 0.85
	case containsAny(row.EventName, []string{"contact", "form", "submit"}):
		return 0.80
	case containsAny(row.EventName, []string{"checkout", "order", "purchase"}):
		return 0.75
	default:
		return 0.70
	}
}

func domainOf(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[at+1:]
	}
	return email
}

// registrableDomain keeps the last two labels. Multi-part public suffixes
// (co.uk) come out as the suffix itself, which is close enough for a
// similarity signal.
func registrableDomain(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) <= 2 {
		return domain
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func topLevelDomain(domain string) string {
	parts := strings.Split(domain, ".")
	return parts[len(parts)-1]
}
