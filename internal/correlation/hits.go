package correlation

import (
	"sort"
	"strings"
	"time"

	"whatslens/internal/database"
)

const (
	sourceSessionData = "session_data"
	sourceEventData   = "event_data"

	// Session-level custom data is written by an explicit identify call, so
	// a hit there outranks anything inferred from event payloads.
	sessionDataQuality = 0.95

	maxHitSummaries = 5
)

// dataHit is one deduplicated identity match from the web-analytics store.
type dataHit struct {
	SessionID  string
	DistinctID string
	DataKey    string
	EventName  string
	Source     string
	Quality    float64
	CreatedAt  time.Time
}

// collectHits merges session-data and event-data rows, keeping the best hit
// per web session. Event rows are graded by the matcher's context rules;
// session rows always score sessionDataQuality. The result is ordered by
// quality, then recency.
func collectHits(sessionRows, eventRows []database.WebDataMatchRow, grade func(database.WebDataMatchRow) float64) []dataHit {
	bySession := make(map[string]dataHit)
	keep := func(h dataHit) {
		cur, ok := bySession[h.SessionID]
		if !ok || h.Quality > cur.Quality ||
			(h.Quality == cur.Quality && h.CreatedAt.After(cur.CreatedAt)) {
			bySession[h.SessionID] = h
		}
	}

	for _, row := range sessionRows {
		keep(dataHit{
			SessionID:  row.SessionID,
			DistinctID: row.DistinctID,
			DataKey:    row.DataKey,
			Source:     sourceSessionData,
			Quality:    sessionDataQuality,
			CreatedAt:  row.CreatedAt,
		})
	}
	for _, row := range eventRows {
		keep(dataHit{
			SessionID:  row.SessionID,
			DistinctID: row.DistinctID,
			DataKey:    row.DataKey,
			EventName:  row.EventName,
			Source:     sourceEventData,
			Quality:    grade(row),
			CreatedAt:  row.CreatedAt,
		})
	}

	hits := make([]dataHit, 0, len(bySession))
	for _, h := range bySession {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Quality != hits[j].Quality {
			return hits[i].Quality > hits[j].Quality
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	return hits
}

// likePatterns wraps values for substring ILIKE search.
func likePatterns(values []string) []string {
	patterns := make([]string, len(values))
	for i, v := range values {
		patterns[i] = "%" + v + "%"
	}
	return patterns
}

// hitEvidenceData builds the evidence payload persisted with a correlation.
// The top hit supplies the linked web identity; the timestamp is the newest
// hit so the scorer can grant its recency bonus.
func hitEvidenceData(value string, hits []dataHit) map[string]interface{} {
	top := hits[0]
	newest := top.CreatedAt
	summaries := make([]map[string]interface{}, 0, maxHitSummaries)
	for i, h := range hits {
		if h.CreatedAt.After(newest) {
			newest = h.CreatedAt
		}
		if i >= maxHitSummaries {
			continue
		}
		summaries = append(summaries, map[string]interface{}{
			"sessionId":  h.SessionID,
			"distinctId": h.DistinctID,
			"key":        h.DataKey,
			"source":     h.Source,
			"quality":    h.Quality,
		})
	}

	data := map[string]interface{}{
		"value":          value,
		"matches":        summaries,
		"matchCount":     len(hits),
		"umamiSessionId": top.SessionID,
		"timestamp":      newest.UTC().Format(time.RFC3339),
	}
	if top.DistinctID != "" {
		data["umamiUserId"] = top.DistinctID
	}
	return data
}

func containsAny(s string, needles []string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}
