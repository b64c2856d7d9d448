package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"whatslens/internal/models"
)

func scanCorrelation(rows *sql.Rows) (*models.UserIdentityCorrelation, error) {
	var c models.UserIdentityCorrelation
	var evidence []byte
	err := rows.Scan(
		&c.ID, &c.TeamID, &c.WAPhone, &c.WAContactName, &c.UmamiUserID,
		&c.UmamiSessionID, &c.ConfidenceScore, &c.Method, &evidence, &c.Verified,
		&c.VerifiedBy, &c.VerifiedAt, &c.UserConsent, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(evidence, &c.Evidence); err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *Database) GetActiveCorrelationByPhone(ctx context.Context, waPhone string) (*models.UserIdentityCorrelation, error) {
	return d.getCorrelation(ctx, SelectActiveCorrelationByPhoneQuery, waPhone)
}

func (d *Database) GetCorrelation(ctx context.Context, id string) (*models.UserIdentityCorrelation, error) {
	return d.getCorrelation(ctx, SelectCorrelationByIDQuery, id)
}

func (d *Database) getCorrelation(ctx context.Context, query, arg string) (*models.UserIdentityCorrelation, error) {
	var corr *models.UserIdentityCorrelation
	err := d.QueryWithContext(ctx, query, []interface{}{arg}, func(rows *sql.Rows) error {
		if !rows.Next() {
			return sql.ErrNoRows
		}
		var scanErr error
		corr, scanErr = scanCorrelation(rows)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correlation: %w", err)
	}
	return corr, nil
}

// SaveCorrelation inserts a correlation, deactivating any previous active row
// for the same phone in the same transaction so the partial unique index
// (team, phone, active) never sees two live rows.
func (d *Database) SaveCorrelation(ctx context.Context, corr *models.UserIdentityCorrelation, supersededID string) error {
	evidence, err := marshalJSONB(corr.Evidence)
	if err != nil {
		return err
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			if supersededID != "" {
				if _, execErr := tx.ExecContext(ctx, DeactivateCorrelationQuery, supersededID); execErr != nil {
					return execErr
				}
			}
			return tx.QueryRowContext(ctx, InsertCorrelationQuery,
				corr.TeamID, corr.WAPhone, corr.WAContactName, corr.UmamiUserID,
				corr.UmamiSessionID, corr.ConfidenceScore, corr.Method, evidence,
				corr.Verified, corr.VerifiedBy, corr.VerifiedAt, corr.UserConsent,
				corr.IsActive,
			).Scan(&corr.ID, &corr.CreatedAt, &corr.UpdatedAt)
		})
	}, "save correlation")
}

// VerifyCorrelation records a reviewer decision. Approvals keep the row
// active; rejections deactivate it but keep verified=true so the pattern
// analyzer sees both outcomes.
func (d *Database) VerifyCorrelation(ctx context.Context, id, verifiedBy string, adjustedConfidence *float64, keepActive bool) error {
	res, err := d.ExecuteWithContext(ctx, UpdateCorrelationVerificationQuery,
		id, verifiedBy, adjustedConfidence, keepActive)
	if err != nil {
		return fmt.Errorf("failed to verify correlation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to verify correlation: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *Database) DeactivateCorrelation(ctx context.Context, id string) error {
	_, err := d.ExecuteWithContext(ctx, DeactivateCorrelationQuery, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate correlation: %w", err)
	}
	return nil
}

// RejectCorrelation marks a correlation rejected and replaces its evidence
// with the merged set carrying the reviewer's audit entry. Both updates run
// in one transaction so a partial rejection never survives.
func (d *Database) RejectCorrelation(ctx context.Context, id, verifiedBy string, evidence []models.Evidence) error {
	payload, err := marshalJSONB(evidence)
	if err != nil {
		return err
	}

	return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, UpdateCorrelationVerificationQuery, id, verifiedBy, nil, false)
		if execErr != nil {
			return fmt.Errorf("failed to reject correlation: %w", execErr)
		}
		affected, execErr := res.RowsAffected()
		if execErr != nil {
			return fmt.Errorf("failed to reject correlation: %w", execErr)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		if _, execErr := tx.ExecContext(ctx, UpdateCorrelationEvidenceQuery, id, payload); execErr != nil {
			return fmt.Errorf("failed to update correlation evidence: %w", execErr)
		}
		return nil
	})
}

func (d *Database) ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]models.UserIdentityCorrelation, int, error) {
	var clauses []string
	var args []interface{}

	clauses = append(clauses, "is_active")
	if filter.Verified != nil {
		args = append(args, *filter.Verified)
		clauses = append(clauses, fmt.Sprintf("verified = $%d", len(args)))
	}
	if filter.MinConfidence > 0 {
		args = append(args, filter.MinConfidence)
		clauses = append(clauses, fmt.Sprintf("confidence_score >= $%d", len(args)))
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM whatsapp_user_identity_correlation " + where
	if err := d.QueryRowWithContext(ctx, countQuery, args, func(row *sql.Row) error {
		return row.Scan(&total)
	}); err != nil {
		return nil, 0, fmt.Errorf("failed to count correlations: %w", err)
	}

	listArgs := append(append([]interface{}{}, args...), clampLimit(filter.Limit), clampOffset(filter.Offset))
	listQuery := fmt.Sprintf("%s %s ORDER BY confidence_score DESC, updated_at DESC LIMIT $%d OFFSET $%d",
		selectCorrelationColumns, where, len(args)+1, len(args)+2)

	var correlations []models.UserIdentityCorrelation
	err := d.QueryWithContext(ctx, listQuery, listArgs, func(rows *sql.Rows) error {
		for rows.Next() {
			c, scanErr := scanCorrelation(rows)
			if scanErr != nil {
				return scanErr
			}
			correlations = append(correlations, *c)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list correlations: %w", err)
	}
	return correlations, total, nil
}

// ListUnverifiedHighConfidence feeds the auto-approval sweep.
func (d *Database) ListUnverifiedHighConfidence(ctx context.Context, threshold float64, limit int) ([]models.UserIdentityCorrelation, error) {
	var correlations []models.UserIdentityCorrelation
	err := d.QueryWithContext(ctx, SelectUnverifiedHighConfidenceQuery,
		[]interface{}{threshold, clampLimit(limit)},
		func(rows *sql.Rows) error {
			for rows.Next() {
				c, scanErr := scanCorrelation(rows)
				if scanErr != nil {
					return scanErr
				}
				correlations = append(correlations, *c)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list unverified correlations: %w", err)
	}
	return correlations, nil
}

func (d *Database) GetCorrelationStats(ctx context.Context) (*models.CorrelationStats, error) {
	stats := &models.CorrelationStats{
		MethodDistribution: make(map[models.CorrelationMethod]int),
	}

	err := d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
		if scanErr := tx.QueryRowContext(ctx, CorrelationStatsQuery).Scan(
			&stats.Total, &stats.Verified, &stats.Pending, &stats.AvgConfidence); scanErr != nil {
			return scanErr
		}

		rows, queryErr := tx.QueryContext(ctx, CorrelationMethodDistributionQuery)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		for rows.Next() {
			var method models.CorrelationMethod
			var count int
			if scanErr := rows.Scan(&method, &count); scanErr != nil {
				return scanErr
			}
			stats.MethodDistribution[method] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get correlation stats: %w", err)
	}
	return stats, nil
}
