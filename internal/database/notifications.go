package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatslens/internal/models"
)

func (d *Database) SaveNotification(ctx context.Context, n *models.Notification) error {
	metadata, err := marshalJSONB(n.Metadata)
	if err != nil {
		return err
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, InsertNotificationQuery,
				n.TeamID, n.UserID, n.Type, n.Title, n.Body, n.Severity, metadata,
			).Scan(&n.ID, &n.CreatedAt)
		})
	}, "save notification")
}

// ListNotifications returns team-wide and user-targeted notifications for
// one user, newest first.
func (d *Database) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	var notifications []models.Notification
	err := d.QueryWithContext(ctx, SelectNotificationsQuery,
		[]interface{}{nullIfEmpty(userID), unreadOnly, clampLimit(limit), clampOffset(offset)},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var n models.Notification
				var metadata []byte
				if scanErr := rows.Scan(&n.ID, &n.TeamID, &n.UserID, &n.Type, &n.Title,
					&n.Body, &n.Severity, &n.Read, &n.ReadAt, &n.Dismissed,
					&metadata, &n.CreatedAt); scanErr != nil {
					return scanErr
				}
				if scanErr := unmarshalJSONB(metadata, &n.Metadata); scanErr != nil {
					return scanErr
				}
				notifications = append(notifications, n)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (d *Database) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := d.ExecuteWithContext(ctx, MarkNotificationReadQuery, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *Database) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := d.ExecuteWithContext(ctx, MarkAllNotificationsReadQuery, nullIfEmpty(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return affected, nil
}

func (d *Database) DismissNotification(ctx context.Context, id string) error {
	_, err := d.ExecuteWithContext(ctx, DismissNotificationQuery, id)
	if err != nil {
		return fmt.Errorf("failed to dismiss notification: %w", err)
	}
	return nil
}

func (d *Database) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := d.QueryRowWithContext(ctx, CountUnreadNotificationsQuery, []interface{}{nullIfEmpty(userID)}, func(row *sql.Row) error {
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (d *Database) DeleteOldNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.ExecuteWithContext(ctx, DeleteOldNotificationsQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return res.RowsAffected()
}
