package journey

import (
	"math"
	"sort"
	"time"

	"whatslens/internal/constants"
	"whatslens/internal/models"
)

// Attribute distributes one unit of conversion credit across the touchpoints
// at or before the conversion time. Credits always sum to 1 when any
// touchpoint is eligible; an empty journey yields nil.
func Attribute(model models.AttributionModel, touchpoints []models.Touchpoint, conversionAt time.Time) []models.AttributionCredit {
	eligible := eligibleTouchpoints(touchpoints, conversionAt)
	if len(eligible) == 0 {
		return nil
	}

	switch model {
	case models.AttributionLastTouch:
		return singleCredit(eligible[len(eligible)-1])
	case models.AttributionFirstTouch:
		return singleCredit(eligible[0])
	case models.AttributionTimeDecay:
		return timeDecayCredits(eligible, conversionAt)
	case models.AttributionPositionBased:
		return positionCredits(eligible)
	default:
		return linearCredits(eligible)
	}
}

// AttributeAll computes every model over the same eligible set.
func AttributeAll(touchpoints []models.Touchpoint, conversionAt time.Time) map[models.AttributionModel][]models.AttributionCredit {
	all := []models.AttributionModel{
		models.AttributionLastTouch,
		models.AttributionFirstTouch,
		models.AttributionLinear,
		models.AttributionTimeDecay,
		models.AttributionPositionBased,
	}
	result := make(map[models.AttributionModel][]models.AttributionCredit, len(all))
	for _, m := range all {
		result[m] = Attribute(m, touchpoints, conversionAt)
	}
	return result
}

func eligibleTouchpoints(touchpoints []models.Touchpoint, conversionAt time.Time) []models.Touchpoint {
	var eligible []models.Touchpoint
	for _, tp := range touchpoints {
		if !tp.Timestamp.After(conversionAt) {
			eligible = append(eligible, tp)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Timestamp.Before(eligible[j].Timestamp)
	})
	return eligible
}

func singleCredit(tp models.Touchpoint) []models.AttributionCredit {
	return []models.AttributionCredit{{TouchpointID: tp.ID, Channel: tp.Channel, Credit: 1}}
}

func linearCredits(touchpoints []models.Touchpoint) []models.AttributionCredit {
	share := 1 / float64(len(touchpoints))
	credits := make([]models.AttributionCredit, len(touchpoints))
	for i, tp := range touchpoints {
		credits[i] = models.AttributionCredit{TouchpointID: tp.ID, Channel: tp.Channel, Credit: share}
	}
	return credits
}

// timeDecayCredits weights each touchpoint by exp(-ln2 * age / halfLife) and
// normalizes so the credits sum to 1.
func timeDecayCredits(touchpoints []models.Touchpoint, conversionAt time.Time) []models.AttributionCredit {
	halfLife := float64(constants.TimeDecayHalfLifeDays) * 24

	weights := make([]float64, len(touchpoints))
	var total float64
	for i, tp := range touchpoints {
		age := conversionAt.Sub(tp.Timestamp).Hours()
		weights[i] = math.Exp(-math.Ln2 * age / halfLife)
		total += weights[i]
	}

	credits := make([]models.AttributionCredit, len(touchpoints))
	for i, tp := range touchpoints {
		credits[i] = models.AttributionCredit{
			TouchpointID: tp.ID,
			Channel:      tp.Channel,
			Credit:       weights[i] / total,
		}
	}
	return credits
}

func positionCredits(touchpoints []models.Touchpoint) []models.AttributionCredit {
	n := len(touchpoints)
	switch n {
	case 1:
		return singleCredit(touchpoints[0])
	case 2:
		return []models.AttributionCredit{
			{TouchpointID: touchpoints[0].ID, Channel: touchpoints[0].Channel, Credit: 0.5},
			{TouchpointID: touchpoints[1].ID, Channel: touchpoints[1].Channel, Credit: 0.5},
		}
	}

	middleShare := constants.PositionBasedMiddleCredit / float64(n-2)
	credits := make([]models.AttributionCredit, n)
	for i, tp := range touchpoints {
		credit := middleShare
		switch i {
		case 0:
			credit = constants.PositionBasedFirstCredit
		case n - 1:
			credit = constants.PositionBasedLastCredit
		}
		credits[i] = models.AttributionCredit{TouchpointID: tp.ID, Channel: tp.Channel, Credit: credit}
	}
	return credits
}
