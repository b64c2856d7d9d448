package analytics

import (
	"context"
	"fmt"
	"time"

	"whatslens/internal/database"
	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

// Periods past this are noise (clock skew, imported history) and are dropped.
const maxCohortPeriods = 90

// Cohorts groups contacts by first-contact period and reports what share
// of each cohort was still messaging in the following periods.
func (m *Metrics) Cohorts(ctx context.Context, cohortType models.CohortType, tr models.TimeRange) ([]models.CohortRow, error) {
	tenant, err := requireTenantAndRange(ctx, tr)
	if err != nil {
		return nil, err
	}
	interval, periodSeconds, err := cohortSpec(cohortType)
	if err != nil {
		return nil, err
	}

	key := metricKey("cohorts_"+string(cohortType), tenant.TeamID, tr)
	var cached []models.CohortRow
	if m.lookupCache(ctx, key, &cached) {
		return cached, nil
	}

	cells, err := m.store.GetCohortCells(ctx, interval, periodSeconds, tr)
	if err != nil {
		return nil, apperrors.NewStorageError("get cohort cells", err)
	}

	rows := buildCohortRows(cells)
	m.storeCache(ctx, key, rows)
	return rows, nil
}

func cohortSpec(cohortType models.CohortType) (models.BucketInterval, int64, error) {
	switch cohortType {
	case models.CohortDaily:
		return models.BucketDay, 24 * 3600, nil
	case models.CohortWeekly:
		return models.BucketWeek, 7 * 24 * 3600, nil
	case models.CohortMonthly:
		return models.BucketMonth, 30 * 24 * 3600, nil
	default:
		return "", 0, apperrors.NewValidationError("cohortType", fmt.Sprintf("unknown cohort type %q", cohortType))
	}
}

func buildCohortRows(cells []database.CohortCell) []models.CohortRow {
	type cohortAcc struct {
		counts    map[int]int
		maxPeriod int
	}

	byCohort := make(map[time.Time]*cohortAcc)
	var order []time.Time
	for _, cell := range cells {
		if cell.Period < 0 || cell.Period > maxCohortPeriods {
			continue
		}
		acc, ok := byCohort[cell.Cohort]
		if !ok {
			acc = &cohortAcc{counts: make(map[int]int)}
			byCohort[cell.Cohort] = acc
			order = append(order, cell.Cohort)
		}
		acc.counts[cell.Period] = cell.Count
		if cell.Period > acc.maxPeriod {
			acc.maxPeriod = cell.Period
		}
	}

	rows := make([]models.CohortRow, 0, len(order))
	for _, cohort := range order {
		acc := byCohort[cohort]
		size := acc.counts[0]
		retention := make([]float64, acc.maxPeriod+1)
		if size > 0 {
			for period, count := range acc.counts {
				retention[period] = float64(count) / float64(size)
			}
		}
		rows = append(rows, models.CohortRow{Cohort: cohort, Size: size, Retention: retention})
	}
	return rows
}
