package correlation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/database"
	"whatslens/internal/models"
)

// WebSessionReader returns web sessions that started inside a time window.
type WebSessionReader interface {
	GetWebSessionsBetween(ctx context.Context, teamID string, from, to time.Time) ([]database.WebSessionRow, error)
}

const (
	// A session's extent is at least the tracker's inactivity window beyond
	// its first event, so a single early pageview still overlaps a message
	// sent minutes later.
	sessionMinExtent = 30 * time.Minute

	sessionOverlapWeight = 0.7
	uaCombinedWeight     = 0.3

	uaBrowserWeight = 0.4
	uaOSWeight      = 0.4
	uaDeviceWeight  = 0.2
)

// SessionMatcher correlates a message's timestamp with web sessions that
// were live around it, optionally sharpened by user-agent similarity.
type SessionMatcher struct {
	store  WebSessionReader
	logger *logrus.Logger

	before      time.Duration
	after       time.Duration
	maxDuration time.Duration
}

func NewSessionMatcher(store WebSessionReader, logger *logrus.Logger) *SessionMatcher {
	return &SessionMatcher{
		store:       store,
		logger:      logger,
		before:      constants.SessionWindowBeforeMin * time.Minute,
		after:       constants.SessionWindowAfterMin * time.Minute,
		maxDuration: constants.SessionMaxDurationMin * time.Minute,
	}
}

// Match scores web sessions against the message time. It always returns the
// temporal evidence; when a user agent is supplied a second, separate
// user_agent evidence is appended.
func (m *SessionMatcher) Match(ctx context.Context, tenant models.TenantContext, messageAt time.Time, userAgent string) ([]models.Evidence, error) {
	sessionEv := models.Evidence{Method: models.MethodSession, Weight: constants.WeightSession}
	evidence := []models.Evidence{sessionEv}

	from := messageAt.Add(-m.before)
	to := messageAt.Add(m.after)
	sessions, err := m.store.GetWebSessionsBetween(ctx, tenant.TeamID, from, to)
	if err != nil {
		return evidence, fmt.Errorf("failed to get web sessions: %w", err)
	}

	var profile uaProfile
	if userAgent != "" {
		profile = parseUserAgent(userAgent)
	}

	var (
		best        database.WebSessionRow
		bestQuality float64
		bestOverlap float64

		bestUA         database.WebSessionRow
		bestSimilarity float64
		bestCombined   float64
	)
	for _, s := range sessions {
		duration := s.LastEventAt.Sub(s.StartedAt)
		if duration < 0 || duration > m.maxDuration {
			continue
		}

		overlap := m.temporalOverlap(s, messageAt, from, to)
		quality := overlap * sessionOverlapWeight
		switch {
		case s.EventCount >= 10:
			quality += 0.20
		case s.EventCount >= 5:
			quality += 0.15
		case s.EventCount >= 2:
			quality += 0.10
		case s.EventCount == 1:
			quality *= 0.8
		}
		if quality > 1 {
			quality = 1
		}
		if quality > bestQuality {
			best, bestQuality, bestOverlap = s, quality, overlap
		}

		if userAgent != "" {
			similarity := uaSimilarity(profile, s)
			combined := overlap*sessionOverlapWeight + similarity*uaCombinedWeight
			if similarity > 0 && combined > bestCombined {
				bestUA, bestSimilarity, bestCombined = s, similarity, combined
			}
		}
	}

	if bestQuality > 0 {
		sessionEv.Matched = true
		sessionEv.Quality = bestQuality
		sessionEv.Data = map[string]interface{}{
			"umamiSessionId": best.SessionID,
			"overlap":        bestOverlap,
			"eventCount":     best.EventCount,
			"timestamp":      best.LastEventAt.UTC().Format(time.RFC3339),
		}
		if best.DistinctID != "" {
			sessionEv.Data["umamiUserId"] = best.DistinctID
		}
		evidence[0] = sessionEv
	}

	if userAgent != "" {
		uaEv := models.Evidence{Method: models.MethodUserAgent, Weight: constants.WeightUserAgent}
		if bestCombined > 0 {
			uaEv.Matched = true
			uaEv.Quality = bestCombined
			uaEv.Data = map[string]interface{}{
				"browser":        profile.Browser,
				"os":             profile.OS,
				"device":         profile.Device,
				"similarity":     bestSimilarity,
				"umamiSessionId": bestUA.SessionID,
				"timestamp":      bestUA.LastEventAt.UTC().Format(time.RFC3339),
			}
			if bestUA.DistinctID != "" {
				uaEv.Data["umamiUserId"] = bestUA.DistinctID
			}
		}
		evidence = append(evidence, uaEv)
	}
	return evidence, nil
}

// temporalOverlap is the fraction of the lookup window the session covers,
// with a bonus when the session started within five minutes of the message.
func (m *SessionMatcher) temporalOverlap(s database.WebSessionRow, messageAt, from, to time.Time) float64 {
	end := s.LastEventAt
	if floor := s.StartedAt.Add(sessionMinExtent); end.Before(floor) {
		end = floor
	}
	start := s.StartedAt
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}

	overlap := end.Sub(start).Seconds() / to.Sub(from).Seconds()
	gap := s.StartedAt.Sub(messageAt)
	if gap < 0 {
		gap = -gap
	}
	if gap <= 5*time.Minute {
		overlap *= constants.SessionRecentStartBonus
	}
	if overlap > 1 {
		return 1
	}
	return overlap
}

// uaProfile is the coarse classification the tracker stores per session.
type uaProfile struct {
	Browser string
	OS      string
	Device  string
}

func parseUserAgent(ua string) uaProfile {
	l := strings.ToLower(ua)
	p := uaProfile{Device: "desktop"}

	switch {
	case strings.Contains(l, "edg"):
		p.Browser = "edge"
	case strings.Contains(l, "opr"), strings.Contains(l, "opera"):
		p.Browser = "opera"
	case strings.Contains(l, "chrome"), strings.Contains(l, "crios"):
		p.Browser = "chrome"
	case strings.Contains(l, "firefox"), strings.Contains(l, "fxios"):
		p.Browser = "firefox"
	case strings.Contains(l, "safari"):
		p.Browser = "safari"
	case strings.Contains(l, "msie"), strings.Contains(l, "trident"):
		p.Browser = "ie"
	}

	switch {
	case strings.Contains(l, "iphone"), strings.Contains(l, "ipad"), strings.Contains(l, "ipod"):
		p.OS = "ios"
	case strings.Contains(l, "android"):
		p.OS = "android"
	case strings.Contains(l, "windows"):
		p.OS = "windows"
	case strings.Contains(l, "mac os"), strings.Contains(l, "macintosh"):
		p.OS = "macos"
	case strings.Contains(l, "linux"):
		p.OS = "linux"
	}

	switch {
	case strings.Contains(l, "ipad"), strings.Contains(l, "tablet"):
		p.Device = "tablet"
	case strings.Contains(l, "android") && !strings.Contains(l, "mobile"):
		p.Device = "tablet"
	case strings.Contains(l, "mobile"), strings.Contains(l, "iphone"):
		p.Device = "mobile"
	}
	return p
}

// uaSimilarity scores how well a classified user agent lines up with what
// the tracker recorded for a session.
func uaSimilarity(p uaProfile, s database.WebSessionRow) float64 {
	var similarity float64
	if p.Browser != "" && uaFieldMatches(s.Browser, p.Browser) {
		similarity += uaBrowserWeight
	}
	if p.OS != "" && uaFieldMatches(s.OS, p.OS) {
		similarity += uaOSWeight
	}
	if p.Device != "" && deviceMatches(s.Device, p.Device) {
		similarity += uaDeviceWeight
	}
	return similarity
}

// uaFieldMatches compares loosely: the tracker stores "Windows 10" where the
// classifier says "windows".
func uaFieldMatches(stored, classified string) bool {
	stored = strings.ReplaceAll(strings.ToLower(stored), " ", "")
	return stored != "" && strings.Contains(stored, classified)
}

func deviceMatches(stored, classified string) bool {
	stored = strings.ToLower(stored)
	if stored == "laptop" {
		stored = "desktop"
	}
	return stored == classified
}
