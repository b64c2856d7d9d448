package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatslens/internal/models"
)

// ResponsePair is one inbound message matched to the outbound reply that
// followed it.
type ResponsePair struct {
	ConversationID string
	InboundAt      time.Time
	OutboundAt     time.Time
	Seconds        float64
}

func (d *Database) GetResponsePairs(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) ([]ResponsePair, error) {
	var pairs []ResponsePair
	err := d.QueryWithContext(ctx, SelectResponsePairsQuery,
		[]interface{}{tr.Start, tr.End, pairingWindow.Seconds()},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var p ResponsePair
				if scanErr := rows.Scan(&p.ConversationID, &p.InboundAt, &p.OutboundAt, &p.Seconds); scanErr != nil {
					return scanErr
				}
				pairs = append(pairs, p)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get response pairs: %w", err)
	}
	return pairs, nil
}

// VolumeRow is one (bucket, direction) cell of a volume aggregation.
type VolumeRow struct {
	Bucket    time.Time
	Direction models.MessageDirection
	Count     int
}

func (d *Database) GetVolumeRows(ctx context.Context, tr models.TimeRange, interval models.BucketInterval) ([]VolumeRow, error) {
	var volumes []VolumeRow
	err := d.QueryWithContext(ctx, SelectVolumeBucketsQuery,
		[]interface{}{tr.Start, tr.End, string(interval)},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var v VolumeRow
				if scanErr := rows.Scan(&v.Bucket, &v.Direction, &v.Count); scanErr != nil {
					return scanErr
				}
				volumes = append(volumes, v)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get volume rows: %w", err)
	}
	return volumes, nil
}

func (d *Database) GetVolumeByHour(ctx context.Context, tr models.TimeRange) (map[int]int, error) {
	byHour := make(map[int]int)
	err := d.QueryWithContext(ctx, SelectVolumeByHourQuery,
		[]interface{}{tr.Start, tr.End},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var hour, count int
				if scanErr := rows.Scan(&hour, &count); scanErr != nil {
					return scanErr
				}
				byHour[hour] = count
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly volume: %w", err)
	}
	return byHour, nil
}

// ConversationStatsRow is the single-row output of the conversation
// aggregation query.
type ConversationStatsRow struct {
	Total           int
	Open            int
	Closed          int
	Archived        int
	AvgMessages     float64
	AvgDurationSecs float64
}

func (d *Database) GetConversationStats(ctx context.Context, tr models.TimeRange) (*ConversationStatsRow, error) {
	var row ConversationStatsRow
	err := d.QueryRowWithContext(ctx, SelectConversationStatsQuery,
		[]interface{}{tr.Start, tr.End},
		func(r *sql.Row) error {
			return r.Scan(&row.Total, &row.Open, &row.Closed, &row.Archived,
				&row.AvgMessages, &row.AvgDurationSecs)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation stats: %w", err)
	}
	return &row, nil
}

func (d *Database) GetStageDistribution(ctx context.Context) (map[models.FunnelStage]int, error) {
	distribution := make(map[models.FunnelStage]int)
	err := d.QueryWithContext(ctx, SelectStageDistributionQuery, nil, func(rows *sql.Rows) error {
		for rows.Next() {
			var stage models.FunnelStage
			var count int
			if scanErr := rows.Scan(&stage, &count); scanErr != nil {
				return scanErr
			}
			distribution[stage] = count
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stage distribution: %w", err)
	}
	return distribution, nil
}

// EngagementRow carries the distinct-sender counts for the trailing day,
// week, and month, plus the day's inbound message count.
type EngagementRow struct {
	ActiveDay   int
	ActiveWeek  int
	ActiveMonth int
	MessagesDay int
}

func (d *Database) GetEngagementCounts(ctx context.Context, now time.Time) (*EngagementRow, error) {
	var row EngagementRow
	err := d.QueryRowWithContext(ctx, SelectEngagementCountsQuery,
		[]interface{}{now.AddDate(0, 0, -1), now.AddDate(0, 0, -7), now.AddDate(0, -1, 0)},
		func(r *sql.Row) error {
			return r.Scan(&row.ActiveDay, &row.ActiveWeek, &row.ActiveMonth, &row.MessagesDay)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement counts: %w", err)
	}
	return &row, nil
}

// AgentRow is one agent's conversation workload in a range.
type AgentRow struct {
	AgentID  string
	Closed   int
	Messages int
}

func (d *Database) GetAgentStats(ctx context.Context, tr models.TimeRange) ([]AgentRow, error) {
	var agents []AgentRow
	err := d.QueryWithContext(ctx, SelectAgentConversationStatsQuery,
		[]interface{}{tr.Start, tr.End},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var a AgentRow
				if scanErr := rows.Scan(&a.AgentID, &a.Closed, &a.Messages); scanErr != nil {
					return scanErr
				}
				agents = append(agents, a)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get agent stats: %w", err)
	}
	return agents, nil
}

func (d *Database) GetAgentResponseTimes(ctx context.Context, tr models.TimeRange, pairingWindow time.Duration) (map[string]float64, error) {
	times := make(map[string]float64)
	err := d.QueryWithContext(ctx, SelectAgentResponseTimesQuery,
		[]interface{}{tr.Start, tr.End, pairingWindow.Seconds()},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var agentID string
				var avgSecs float64
				if scanErr := rows.Scan(&agentID, &avgSecs); scanErr != nil {
					return scanErr
				}
				times[agentID] = avgSecs
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get agent response times: %w", err)
	}
	return times, nil
}

// LiveCounts backs the realtime metrics snapshot.
type LiveCounts struct {
	OpenConversations  int
	MessagesLastHour   int
	MessagesLastMinute int
}

func (d *Database) GetLiveCounts(ctx context.Context) (*LiveCounts, error) {
	var counts LiveCounts
	err := d.QueryRowWithContext(ctx, SelectLiveCountsQuery, nil, func(r *sql.Row) error {
		return r.Scan(&counts.OpenConversations, &counts.MessagesLastHour, &counts.MessagesLastMinute)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get live counts: %w", err)
	}
	return &counts, nil
}

func (d *Database) GetActiveConversations(ctx context.Context, limit int) ([]models.ActiveConversation, error) {
	var active []models.ActiveConversation
	err := d.QueryWithContext(ctx, SelectActiveConversationsQuery,
		[]interface{}{clampLimit(limit)},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var a models.ActiveConversation
				if scanErr := rows.Scan(&a.ConversationID, &a.ContactPhone, &a.ContactName,
					&a.Stage, &a.LastMessageAt, &a.UnreadCount); scanErr != nil {
					return scanErr
				}
				active = append(active, a)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get active conversations: %w", err)
	}
	return active, nil
}

// CohortCell is one (cohort, period) retention observation.
type CohortCell struct {
	Cohort time.Time
	Period int
	Count  int
}

func (d *Database) GetCohortCells(ctx context.Context, interval models.BucketInterval, periodSeconds int64, tr models.TimeRange) ([]CohortCell, error) {
	var cells []CohortCell
	err := d.QueryWithContext(ctx, SelectCohortRowsQuery,
		[]interface{}{string(interval), periodSeconds, tr.Start, tr.End},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var c CohortCell
				if scanErr := rows.Scan(&c.Cohort, &c.Period, &c.Count); scanErr != nil {
					return scanErr
				}
				cells = append(cells, c)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get cohort cells: %w", err)
	}
	return cells, nil
}
