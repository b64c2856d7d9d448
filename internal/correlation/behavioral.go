package correlation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/database"
	"whatslens/internal/models"
	"whatslens/pkg/circuitbreaker"
)

// BehaviorReader is the read surface the behavioral matcher compares
// WhatsApp activity against web activity with.
type BehaviorReader interface {
	GetMessageTimesByPhone(ctx context.Context, phone string, since time.Time) ([]database.MessageTime, error)
	GetMessageBodiesByPhone(ctx context.Context, phone string, since time.Time, limit int) ([]database.MessageBody, error)
	GetConversationByPhone(ctx context.Context, contactPhone string) (*models.Conversation, error)
	GetActiveWebUsers(ctx context.Context, teamID string, since time.Time, limit int) ([]database.WebUserActivity, error)
	GetWebActivityHistogram(ctx context.Context, teamID, distinctID string, since time.Time) ([]database.ActivityBucket, error)
	GetWebEventsByUser(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]database.WebEventRow, error)
	GetWebConversionEvents(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]database.WebConversionRow, error)
}

const (
	behavioralCandidateLimit = 50
	behavioralQualityFactor  = 0.6
	topicSampleLimit         = 100

	peakHourCount = 3
	peakDayCount  = 2
)

// stopWords are skipped when tokenizing text for topic correlation.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "you": true, "your": true,
	"with": true, "this": true, "that": true, "have": true, "from": true,
	"are": true, "was": true, "can": true, "will": true, "not": true,
	"but": true, "all": true, "any": true, "what": true, "when": true,
	"how": true, "why": true, "who": true, "our": true, "out": true,
	"about": true, "there": true, "here": true, "just": true, "like": true,
	"please": true, "thanks": true, "hello": true,
}

// BehavioralMatcher compares interaction rhythms: when the contact messages
// on WhatsApp versus when candidate web users browse. Its web-analytics
// reads run behind a circuit breaker; an open circuit degrades to an
// unmatched verdict instead of failing the correlation.
type BehavioralMatcher struct {
	store   BehaviorReader
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger

	dayRange int
}

func NewBehavioralMatcher(store BehaviorReader, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *BehavioralMatcher {
	return &BehavioralMatcher{
		store:    store,
		breaker:  breaker,
		logger:   logger,
		dayRange: constants.BehavioralDayRange,
	}
}

// Match finds the web user whose activity histogram best mirrors the
// contact's messaging pattern. Contacts with fewer than the minimum
// interactions, and candidates with fewer events, are skipped.
func (m *BehavioralMatcher) Match(ctx context.Context, tenant models.TenantContext, phone string) (models.Evidence, error) {
	evidence := models.Evidence{Method: models.MethodMLModel, Weight: constants.WeightMLModel}

	since := time.Now().AddDate(0, 0, -m.dayRange)
	times, err := m.store.GetMessageTimesByPhone(ctx, phone, since)
	if err != nil {
		return evidence, fmt.Errorf("failed to get message history: %w", err)
	}
	if len(times) < constants.BehavioralMinInteractions {
		return evidence, nil
	}
	waHist := histogramFromMessages(times)

	var candidates []database.WebUserActivity
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		var execErr error
		candidates, execErr = m.store.GetActiveWebUsers(ctx, tenant.TeamID, since, behavioralCandidateLimit)
		return execErr
	})
	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			m.logger.WithField("team_id", tenant.TeamID).Warn("Behavioral matching skipped, circuit open")
			return evidence, nil
		}
		return evidence, fmt.Errorf("failed to list web users: %w", err)
	}

	var bestID string
	var bestSimilarity float64
	for _, candidate := range candidates {
		if candidate.EventCount < constants.BehavioralMinInteractions {
			continue
		}
		var buckets []database.ActivityBucket
		execErr := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			buckets, innerErr = m.store.GetWebActivityHistogram(ctx, tenant.TeamID, candidate.DistinctID, since)
			return innerErr
		})
		if execErr != nil {
			if circuitbreaker.IsCircuitBreakerError(execErr) {
				break
			}
			m.logger.WithError(execErr).Debug("Skipping behavioral candidate")
			continue
		}
		similarity := histogramSimilarity(waHist, histogramFromBuckets(buckets), m.dayRange)
		if similarity > bestSimilarity {
			bestSimilarity, bestID = similarity, candidate.DistinctID
		}
	}

	if bestSimilarity >= constants.BehavioralMinSimilarity {
		evidence.Matched = true
		evidence.Quality = bestSimilarity * behavioralQualityFactor
		evidence.Data = map[string]interface{}{
			"umamiUserId":  bestID,
			"similarity":   bestSimilarity,
			"interactions": len(times),
		}
	}
	return evidence, nil
}

// TopicCorrelation measures word-frequency overlap between the contact's
// message text and the web user's event names and visited paths.
func (m *BehavioralMatcher) TopicCorrelation(ctx context.Context, tenant models.TenantContext, phone, distinctID string) (float64, error) {
	since := time.Now().AddDate(0, 0, -m.dayRange)
	bodies, err := m.store.GetMessageBodiesByPhone(ctx, phone, since, topicSampleLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to get message bodies: %w", err)
	}

	var events []database.WebEventRow
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		var execErr error
		events, execErr = m.store.GetWebEventsByUser(ctx, tenant.TeamID, distinctID,
			models.TimeRange{Start: since, End: time.Now()})
		return execErr
	})
	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get web events: %w", err)
	}

	waWords := make(map[string]int)
	for _, b := range bodies {
		tokenizeInto(waWords, b.Body)
	}
	webWords := make(map[string]int)
	for _, e := range events {
		tokenizeInto(webWords, e.EventName)
		tokenizeInto(webWords, strings.ReplaceAll(e.URLPath, "/", " "))
	}
	return wordOverlap(waWords, webWords), nil
}

// ConversionAlignment pairs the contact's closed conversation with the web
// user's conversion events inside the alignment window. A same-day pairing
// scores near the cap; a week apart scores zero.
func (m *BehavioralMatcher) ConversionAlignment(ctx context.Context, tenant models.TenantContext, phone, distinctID string) (models.Evidence, error) {
	evidence := models.Evidence{Method: models.MethodMLModel, Weight: constants.WeightMLModel}

	conv, err := m.store.GetConversationByPhone(ctx, phone)
	if err != nil {
		return evidence, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil || conv.Status != models.ConversationClosed {
		return evidence, nil
	}
	closedAt := conv.UpdatedAt

	window := time.Duration(constants.ConversionAlignmentDays) * 24 * time.Hour
	var conversions []database.WebConversionRow
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		var execErr error
		conversions, execErr = m.store.GetWebConversionEvents(ctx, tenant.TeamID, distinctID,
			models.TimeRange{Start: closedAt.Add(-window), End: closedAt.Add(window)})
		return execErr
	})
	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			return evidence, nil
		}
		return evidence, fmt.Errorf("failed to get conversion events: %w", err)
	}
	if len(conversions) == 0 {
		return evidence, nil
	}

	var totalHours float64
	for _, c := range conversions {
		diff := c.CreatedAt.Sub(closedAt).Hours()
		if diff < 0 {
			diff = -diff
		}
		totalHours += diff
	}
	avgHours := totalHours / float64(len(conversions))
	quality := (1 - avgHours/(float64(constants.ConversionAlignmentDays)*24)) * 0.7
	if quality <= 0 {
		return evidence, nil
	}

	evidence.Matched = true
	evidence.Quality = quality
	evidence.Data = map[string]interface{}{
		"umamiUserId":  distinctID,
		"pairs":        len(conversions),
		"avgHoursDiff": avgHours,
		"timestamp":    closedAt.UTC().Format(time.RFC3339),
	}
	return evidence, nil
}

// activityHistogram is interaction density by hour of day and day of week.
type activityHistogram struct {
	hours [24]int
	days  [7]int
	total int
}

func histogramFromMessages(times []database.MessageTime) activityHistogram {
	var h activityHistogram
	for _, t := range times {
		ts := t.Timestamp.UTC()
		h.hours[ts.Hour()]++
		h.days[int(ts.Weekday())]++
		h.total++
	}
	return h
}

func histogramFromBuckets(buckets []database.ActivityBucket) activityHistogram {
	var h activityHistogram
	for _, b := range buckets {
		if b.Hour >= 0 && b.Hour < 24 {
			h.hours[b.Hour] += b.Count
		}
		if b.Day >= 0 && b.Day < 7 {
			h.days[b.Day] += b.Count
		}
		h.total += b.Count
	}
	return h
}

// histogramSimilarity blends peak-hour overlap, peak-day overlap, and the
// ratio of average daily interaction rates.
func histogramSimilarity(a, b activityHistogram, dayRange int) float64 {
	if a.total == 0 || b.total == 0 || dayRange <= 0 {
		return 0
	}
	hourOverlap := peakOverlap(topBuckets(a.hours[:], peakHourCount), topBuckets(b.hours[:], peakHourCount))
	dayOverlap := peakOverlap(topBuckets(a.days[:], peakDayCount), topBuckets(b.days[:], peakDayCount))

	freqA := float64(a.total) / float64(dayRange)
	freqB := float64(b.total) / float64(dayRange)
	ratio := freqA / freqB
	if freqB < freqA {
		ratio = freqB / freqA
	}
	return 0.4*hourOverlap + 0.3*dayOverlap + 0.3*ratio
}

// topBuckets returns the indexes of the n busiest non-empty buckets.
func topBuckets(counts []int, n int) []int {
	var busy []int
	for i, c := range counts {
		if c > 0 {
			busy = append(busy, i)
		}
	}
	for i := 1; i < len(busy); i++ {
		for j := i; j > 0 && counts[busy[j]] > counts[busy[j-1]]; j-- {
			busy[j], busy[j-1] = busy[j-1], busy[j]
		}
	}
	if len(busy) > n {
		busy = busy[:n]
	}
	return busy
}

func peakOverlap(a, b []int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inA := make(map[int]bool, len(a))
	for _, v := range a {
		inA[v] = true
	}
	var shared int
	for _, v := range b {
		if inA[v] {
			shared++
		}
	}
	denom := len(a)
	if len(b) < denom {
		denom = len(b)
	}
	return float64(shared) / float64(denom)
}

func tokenizeInto(freq map[string]int, text string) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 3 || stopWords[w] || isNumeric(w) {
			continue
		}
		freq[w]++
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// wordOverlap is the shared word mass relative to the smaller vocabulary,
// so a terse chat against a busy site can still score well.
func wordOverlap(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var shared, totalA, totalB int
	for w, ca := range a {
		totalA += ca
		if cb, ok := b[w]; ok {
			if cb < ca {
				shared += cb
			} else {
				shared += ca
			}
		}
	}
	for _, cb := range b {
		totalB += cb
	}
	denom := totalA
	if totalB < denom {
		denom = totalB
	}
	if denom == 0 {
		return 0
	}
	score := float64(shared) / float64(denom)
	if score > 1 {
		return 1
	}
	return score
}
