package analytics

import (
	"context"
	"fmt"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

const attributionPageSize = 500

// ChannelAttribution sums the stored per-conversion credits for one model.
// ByChannel is credit mass (conversions won), ValueByChannel weights each
// credit by the conversion's monetary value.
type ChannelAttribution struct {
	Model          models.AttributionModel    `json:"model"`
	Conversions    int                        `json:"conversions"`
	Unattributed   int                        `json:"unattributed"`
	TotalValue     float64                    `json:"totalValue"`
	ByChannel      map[models.Channel]float64 `json:"byChannel"`
	ValueByChannel map[models.Channel]float64 `json:"valueByChannel"`
}

// Attribution aggregates recorded conversions under one attribution model.
// Conversions whose credits were never computed count as unattributed.
func (m *Metrics) Attribution(ctx context.Context, model models.AttributionModel, tr models.TimeRange) (*ChannelAttribution, error) {
	tenant, err := requireTenantAndRange(ctx, tr)
	if err != nil {
		return nil, err
	}
	if !models.ValidAttributionModel(model) {
		return nil, apperrors.NewValidationError("model", fmt.Sprintf("unknown attribution model %q", model))
	}

	key := metricKey("attribution_"+string(model), tenant.TeamID, tr)
	var cached ChannelAttribution
	if m.lookupCache(ctx, key, &cached) {
		return &cached, nil
	}

	result := &ChannelAttribution{
		Model:          model,
		ByChannel:      make(map[models.Channel]float64),
		ValueByChannel: make(map[models.Channel]float64),
	}

	for offset := 0; ; offset += attributionPageSize {
		page, err := m.store.ListConversions(ctx, tr, attributionPageSize, offset)
		if err != nil {
			return nil, apperrors.NewStorageError("list conversions", err)
		}
		for i := range page {
			conv := &page[i]
			result.Conversions++
			result.TotalValue += conv.Value

			credits := conv.Attribution[model]
			if len(credits) == 0 {
				result.Unattributed++
				continue
			}
			for _, credit := range credits {
				result.ByChannel[credit.Channel] += credit.Credit
				result.ValueByChannel[credit.Channel] += credit.Credit * conv.Value
			}
		}
		if len(page) < attributionPageSize {
			break
		}
	}

	m.storeCache(ctx, key, result)
	return result, nil
}
