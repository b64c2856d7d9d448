package correlation

import (
	"math"
	"time"

	"whatslens/internal/constants"
	"whatslens/internal/models"
)

// methodWeights is the base credibility of each evidence source.
var methodWeights = map[models.CorrelationMethod]float64{
	models.MethodPhone:     constants.WeightPhone,
	models.MethodEmail:     constants.WeightEmail,
	models.MethodSession:   constants.WeightSession,
	models.MethodUserAgent: constants.WeightUserAgent,
	models.MethodMLModel:   constants.WeightMLModel,
	models.MethodManual:    constants.WeightManual,
}

// MethodWeight returns the base weight for a method, zero for unknown ones.
func MethodWeight(m models.CorrelationMethod) float64 {
	return methodWeights[m]
}

// Scorer folds matcher evidence into a single confidence verdict. It is
// stateless and safe for concurrent use.
type Scorer struct {
	highThreshold   float64
	mediumThreshold float64
	lowThreshold    float64
}

func NewScorer() *Scorer {
	return &Scorer{
		highThreshold:   constants.ConfidenceHighThreshold,
		mediumThreshold: constants.ConfidenceMediumThreshold,
		lowThreshold:    constants.ConfidenceLowThreshold,
	}
}

// Score computes the quality-weighted confidence for an evidence set. Only
// matched items carry weight; an all-miss set scores zero with level
// very_low and no primary method.
func (s *Scorer) Score(evidence []models.Evidence) *models.ConfidenceResult {
	result := &models.ConfidenceResult{
		Evidence: evidence,
		Level:    models.ConfidenceVeryLow,
	}

	var weightedSum, totalWeight float64
	var matched []models.Evidence
	for _, ev := range evidence {
		if !ev.Matched {
			continue
		}
		matched = append(matched, ev)
		weightedSum += ev.Weight * ev.Quality
		totalWeight += ev.Weight
	}
	if totalWeight == 0 {
		return result
	}

	base := weightedSum / totalWeight
	bonus := s.bonus(matched, evidence)
	result.Score = math.Min(1, base+bonus)
	result.BonusApplied = bonus
	result.Level = s.classify(result.Score)
	result.PrimaryMethod = primaryMethod(matched)
	return result
}

func (s *Scorer) bonus(matched, all []models.Evidence) float64 {
	var bonus float64
	if len(matched) >= 2 {
		bonus += constants.BonusMultipleMatches
	}
	var qualitySum float64
	for _, ev := range matched {
		qualitySum += ev.Quality
	}
	if len(matched) > 0 && qualitySum/float64(len(matched)) > 0.9 {
		bonus += constants.BonusHighQuality
	}
	if hasRecentActivity(all) {
		bonus += constants.BonusRecentActivity
	}
	return bonus
}

func (s *Scorer) classify(score float64) models.ConfidenceLevel {
	switch {
	case score >= s.highThreshold:
		return models.ConfidenceHigh
	case score >= s.mediumThreshold:
		return models.ConfidenceMedium
	case score >= s.lowThreshold:
		return models.ConfidenceLow
	default:
		return models.ConfidenceVeryLow
	}
}

// NeedsManualVerification reports whether a score falls in the band that
// wants a human decision: confident enough to store, not enough to trust.
func (s *Scorer) NeedsManualVerification(score float64) bool {
	return score >= s.lowThreshold && score < s.highThreshold
}

// Combine merges several results into one, deduplicating evidence by
// (method, matched) so rerunning a matcher does not double-count it.
func (s *Scorer) Combine(results []*models.ConfidenceResult) *models.ConfidenceResult {
	type evidenceKey struct {
		method  models.CorrelationMethod
		matched bool
	}
	seen := make(map[evidenceKey]bool)
	var merged []models.Evidence
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, ev := range r.Evidence {
			k := evidenceKey{ev.Method, ev.Matched}
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, ev)
		}
	}
	return s.Score(merged)
}

// AdjustForFeedback nudges a score after a reviewer decision, clamped to
// [0,1]. The evidence is kept as-is; only score and level move.
func (s *Scorer) AdjustForFeedback(result *models.ConfidenceResult, wasCorrect bool, rate float64) *models.ConfidenceResult {
	adjusted := *result
	if wasCorrect {
		adjusted.Score = math.Min(1, result.Score+rate)
	} else {
		adjusted.Score = math.Max(0, result.Score-rate)
	}
	adjusted.Level = s.classify(adjusted.Score)
	return &adjusted
}

// primaryMethod is the matched evidence with the greatest base weight.
// Ties keep the earlier entry.
func primaryMethod(matched []models.Evidence) models.CorrelationMethod {
	var best models.CorrelationMethod
	var bestWeight float64
	for _, ev := range matched {
		if ev.Weight > bestWeight {
			bestWeight = ev.Weight
			best = ev.Method
		}
	}
	return best
}

// hasRecentActivity reports whether any evidence carries a data timestamp
// inside the last 24 hours. Timestamps survive a JSON round trip as RFC 3339
// strings, so both representations are accepted.
func hasRecentActivity(evidence []models.Evidence) bool {
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, ev := range evidence {
		raw, ok := ev.Data["timestamp"]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case time.Time:
			if v.After(cutoff) {
				return true
			}
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil && ts.After(cutoff) {
				return true
			}
		}
	}
	return false
}
