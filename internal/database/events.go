package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatslens/internal/models"
)

// SaveEvent appends a single observability event.
func (d *Database) SaveEvent(ctx context.Context, event *models.Event) error {
	data, err := marshalJSONB(event.Data)
	if err != nil {
		return err
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, InsertEventQuery,
				event.TeamID, event.SessionID, event.Type, data, event.Timestamp,
			).Scan(&event.ID)
		})
	}, "save event")
}

// SaveEventBatch persists a drained queue batch in one transaction. The
// envelopes all carry the same tenant; the caller groups them before this.
func (d *Database) SaveEventBatch(ctx context.Context, envelopes []models.EventEnvelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, InsertEventQuery)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := stmt.Close(); closeErr != nil {
					d.logger.WithError(closeErr).Warn("Failed to close statement")
				}
			}()

			for i := range envelopes {
				env := &envelopes[i]
				data, marshalErr := marshalJSONB(env.Data)
				if marshalErr != nil {
					return marshalErr
				}
				var id string
				if scanErr := stmt.QueryRowContext(ctx,
					env.Tenant.TeamID, env.SessionID, env.Type, data, env.Timestamp,
				).Scan(&id); scanErr != nil {
					return scanErr
				}
				env.EventID = id
			}
			return nil
		})
	}, "save event batch")
}

type EventFilter struct {
	Type      string
	SessionID string
	Range     models.TimeRange
	Limit     int
	Offset    int
}

func (d *Database) ListEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	var events []models.Event
	err := d.QueryWithContext(ctx, SelectEventsQuery,
		[]interface{}{filter.Type, nullIfEmpty(filter.SessionID), filter.Range.Start, filter.Range.End,
			clampLimit(filter.Limit), clampOffset(filter.Offset)},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var e models.Event
				var data []byte
				if scanErr := rows.Scan(&e.ID, &e.TeamID, &e.SessionID, &e.Type, &data,
					&e.Timestamp, &e.Processed, &e.ProcessedAt, &e.SentToAnalytics); scanErr != nil {
					return scanErr
				}
				if scanErr := unmarshalJSONB(data, &e.Data); scanErr != nil {
					return scanErr
				}
				events = append(events, e)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

func (d *Database) MarkEventProcessed(ctx context.Context, id string, sentToAnalytics bool) error {
	_, err := d.ExecuteWithContext(ctx, MarkEventProcessedQuery, id, sentToAnalytics)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (d *Database) CountEventsByType(ctx context.Context, tr models.TimeRange) (map[string]int, error) {
	counts := make(map[string]int)
	err := d.QueryWithContext(ctx, CountEventsByTypeQuery, []interface{}{tr.Start, tr.End}, func(rows *sql.Rows) error {
		for rows.Next() {
			var eventType string
			var count int
			if scanErr := rows.Scan(&eventType, &count); scanErr != nil {
				return scanErr
			}
			counts[eventType] = count
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	return counts, nil
}

// DeleteOldEvents purges processed events older than the cutoff. Runs under
// a system tenant so the sweep crosses teams.
func (d *Database) DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.ExecuteWithContext(ctx, DeleteOldEventsQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return deleted, nil
}
