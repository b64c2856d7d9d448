package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/migrations"
	"whatslens/internal/models"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// setTenantQuery binds the row-level-security session variables for the
// current transaction only (the third argument to set_config).
const setTenantQuery = `SELECT set_config('app.current_team_id', $1, true), set_config('app.current_user_role', $2, true)`

// Database is the tenant-scoped storage gateway. Every read and write goes
// through a transaction that carries the caller's team and role, so the
// row-level-security policies do the isolation; queries never filter by
// team_id themselves.
type Database struct {
	db     *sql.DB
	logger *logrus.Logger
}

func New(cfg models.DatabaseConfig, logger *logrus.Logger) (*Database, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	poolMin := cfg.PoolMin
	if poolMin <= 0 {
		poolMin = 1
	}
	poolMax := cfg.PoolMax
	if poolMax < poolMin {
		poolMax = poolMin
	}
	db.SetMaxOpenConns(poolMax)
	db.SetMaxIdleConns(poolMin)
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}

	pingTimeout := cfg.ConnectionTimeout
	if pingTimeout <= 0 {
		pingTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db, logger: logger}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// HealthCheck verifies the pool can still reach the server.
func (d *Database) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("health check", err)
	}
	return nil
}

// TransactionWithContext runs fn inside a transaction scoped to the tenant
// carried by ctx. The two session variables are set before fn runs and die
// with the transaction. fn's error rolls the transaction back and is
// returned unwrapped so callers keep their error taxonomy.
func (d *Database) TransactionWithContext(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return apperrors.NewUnauthorizedError("no tenant in context")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("begin transaction", err)
	}

	if _, err := tx.ExecContext(ctx, setTenantQuery, tenant.TeamID, string(tenant.UserRole)); err != nil {
		d.rollback(tx)
		return apperrors.NewStorageError("set tenant", err)
	}

	if err := fn(tx); err != nil {
		d.rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("commit transaction", err)
	}
	return nil
}

func (d *Database) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		d.logger.WithError(err).Warn("Transaction rollback failed")
	}
}

// ExecuteWithContext runs a single tenant-scoped statement.
func (d *Database) ExecuteWithContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
		var execErr error
		res, execErr = tx.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// QueryWithContext runs a tenant-scoped query; scan must fully consume the
// rows before returning because they close with the transaction.
func (d *Database) QueryWithContext(ctx context.Context, query string, args []interface{}, scan func(*sql.Rows) error) error {
	return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				d.logger.WithError(closeErr).Warn("Failed to close rows")
			}
		}()
		if err := scan(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// QueryRowWithContext runs a tenant-scoped single-row query.
func (d *Database) QueryRowWithContext(ctx context.Context, query string, args []interface{}, scan func(*sql.Row) error) error {
	return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
		return scan(tx.QueryRowContext(ctx, query, args...))
	})
}

// ExecuteRaw bypasses tenant scoping. Only migrations and boot-time checks
// should use it; row-level security blocks it from tenant tables anyway
// unless the session variables are set.
func (d *Database) ExecuteRaw(query string, args ...interface{}) (sql.Result, error) {
	return d.db.Exec(query, args...)
}

// Stats exposes pool counters for the metrics endpoint.
func (d *Database) Stats() sql.DBStats {
	return d.db.Stats()
}
