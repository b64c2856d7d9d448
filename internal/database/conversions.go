package database

import (
	"context"
	"database/sql"
	"fmt"

	"whatslens/internal/models"
)

func scanConversion(rows *sql.Rows) (*models.Conversion, error) {
	var c models.Conversion
	var touchpoints, attribution, metadata []byte
	err := rows.Scan(
		&c.ID, &c.TeamID, &c.UserID, &c.WAPhone, &c.Type, &c.Value, &c.Currency,
		&c.Timestamp, &touchpoints, &attribution, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(touchpoints, &c.Touchpoints); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(attribution, &c.Attribution); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *Database) SaveConversion(ctx context.Context, conv *models.Conversion) error {
	touchpoints, err := marshalJSONB(conv.Touchpoints)
	if err != nil {
		return err
	}
	attribution, err := marshalJSONB(conv.Attribution)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONB(conv.Metadata)
	if err != nil {
		return err
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, InsertConversionQuery,
				conv.TeamID, conv.UserID, conv.WAPhone, conv.Type, conv.Value,
				conv.Currency, conv.Timestamp, touchpoints, attribution, metadata,
			).Scan(&conv.ID)
		})
	}, "save conversion")
}

func (d *Database) ListConversionsByUser(ctx context.Context, userID string, tr models.TimeRange) ([]models.Conversion, error) {
	return d.listConversions(ctx, SelectConversionsByUserQuery, userID, tr.Start, tr.End)
}

func (d *Database) ListConversions(ctx context.Context, tr models.TimeRange, limit, offset int) ([]models.Conversion, error) {
	return d.listConversions(ctx, SelectConversionsQuery, tr.Start, tr.End, clampLimit(limit), clampOffset(offset))
}

func (d *Database) listConversions(ctx context.Context, query string, args ...interface{}) ([]models.Conversion, error) {
	var conversions []models.Conversion
	err := d.QueryWithContext(ctx, query, args, func(rows *sql.Rows) error {
		for rows.Next() {
			c, scanErr := scanConversion(rows)
			if scanErr != nil {
				return scanErr
			}
			conversions = append(conversions, *c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	return conversions, nil
}

// UpdateConversionAttribution stores the journey mapper's touchpoints and
// per-model credit assignments back onto the conversion.
func (d *Database) UpdateConversionAttribution(ctx context.Context, id string, touchpoints []models.Touchpoint, attribution map[models.AttributionModel][]models.AttributionCredit) error {
	touchpointsData, err := marshalJSONB(touchpoints)
	if err != nil {
		return err
	}
	attributionData, err := marshalJSONB(attribution)
	if err != nil {
		return err
	}

	_, err = d.ExecuteWithContext(ctx, UpdateConversionAttributionQuery, id, touchpointsData, attributionData)
	if err != nil {
		return fmt.Errorf("failed to update conversion attribution: %w", err)
	}
	return nil
}
