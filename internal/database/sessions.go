package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatslens/internal/models"
)

func scanSession(row interface {
	Scan(dest ...interface{}) error
}) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.TeamID, &s.Name, &s.PhoneNumber, &s.Status, &s.QRCode,
		&s.LastSeenAt, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts a new session row in authenticating state.
func (d *Database) CreateSession(ctx context.Context, session *models.Session) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, InsertSessionQuery,
				session.TeamID, session.Name, session.PhoneNumber,
				session.Status, session.QRCode,
			).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
		})
	}, "create session")
}

func (d *Database) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session *models.Session
	err := d.QueryRowWithContext(ctx, SelectSessionByIDQuery, []interface{}{id}, func(row *sql.Row) error {
		var scanErr error
		session, scanErr = scanSession(row)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (d *Database) GetSessionByName(ctx context.Context, name string) (*models.Session, error) {
	var session *models.Session
	err := d.QueryRowWithContext(ctx, SelectSessionByNameQuery, []interface{}{name}, func(row *sql.Row) error {
		var scanErr error
		session, scanErr = scanSession(row)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by name: %w", err)
	}
	return session, nil
}

// ListSessions returns the tenant's sessions, newest first.
func (d *Database) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := d.QueryWithContext(ctx, SelectSessionsQuery, nil, func(rows *sql.Rows) error {
		for rows.Next() {
			s, scanErr := scanSession(rows)
			if scanErr != nil {
				return scanErr
			}
			sessions = append(sessions, *s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// ListLiveSessions returns sessions still holding a connection slot.
func (d *Database) ListLiveSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := d.QueryWithContext(ctx, SelectLiveSessionsQuery, nil, func(rows *sql.Rows) error {
		for rows.Next() {
			s, scanErr := scanSession(rows)
			if scanErr != nil {
				return scanErr
			}
			sessions = append(sessions, *s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list live sessions: %w", err)
	}
	return sessions, nil
}

func (d *Database) CountLiveSessions(ctx context.Context) (int, error) {
	var count int
	err := d.QueryRowWithContext(ctx, CountLiveSessionsQuery, nil, func(row *sql.Row) error {
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count live sessions: %w", err)
	}
	return count, nil
}

func (d *Database) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.ExecuteWithContext(ctx, UpdateSessionStatusQuery, id, status)
		return err
	}, "update session status")
}

func (d *Database) TouchSession(ctx context.Context, id string) error {
	_, err := d.ExecuteWithContext(ctx, UpdateSessionLastSeenQuery, id)
	return err
}

func (d *Database) UpdateSessionQR(ctx context.Context, id, qrCode string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.ExecuteWithContext(ctx, UpdateSessionQRQuery, id, qrCode)
		return err
	}, "update session qr")
}

// MarkSessionAuthenticated records the paired phone number and clears the
// QR code once the driver reports ready.
func (d *Database) MarkSessionAuthenticated(ctx context.Context, id, phoneNumber string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.ExecuteWithContext(ctx, UpdateSessionAuthenticatedQuery, id, phoneNumber)
		return err
	}, "mark session authenticated")
}

func (d *Database) DeleteSession(ctx context.Context, id string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.ExecuteWithContext(ctx, SoftDeleteSessionQuery, id)
		return err
	}, "delete session")
}

// ListIdleSessions returns live sessions whose last activity predates the
// cutoff. Called with a system tenant so the sweep crosses teams.
func (d *Database) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := d.QueryWithContext(ctx, SelectIdleSessionsQuery, []interface{}{cutoff}, func(rows *sql.Rows) error {
		for rows.Next() {
			s, scanErr := scanSession(rows)
			if scanErr != nil {
				return scanErr
			}
			sessions = append(sessions, *s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	return sessions, nil
}
