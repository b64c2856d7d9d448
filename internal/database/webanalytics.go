package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatslens/internal/models"

	"github.com/lib/pq"
)

// The correlation matchers read the upstream web-analytics schema through
// the same pool. Those tables have no row-level-security policies, so every
// query here takes the team id explicitly and joins through the website
// table to keep tenancy honest.

// WebIdentityRow is one identify-style event field (phone, email) captured
// by the web tracker.
type WebIdentityRow struct {
	SessionID  string
	DistinctID string
	DataKey    string
	Value      string
	CreatedAt  time.Time
}

const webIdentityFetchLimit = 5000

// GetWebIdentityEvents returns identify events whose data key is one of
// keys, newest first, within the search window. Value matching is the
// matcher's job; this only narrows by key and recency.
func (d *Database) GetWebIdentityEvents(ctx context.Context, teamID string, keys []string, since time.Time) ([]WebIdentityRow, error) {
	var rows []WebIdentityRow
	err := d.QueryWithContext(ctx, SelectWebIdentityEventsQuery,
		[]interface{}{teamID, pq.Array(keys), since, webIdentityFetchLimit},
		func(r *sql.Rows) error {
			for r.Next() {
				var row WebIdentityRow
				if scanErr := r.Scan(&row.SessionID, &row.DistinctID, &row.DataKey,
					&row.Value, &row.CreatedAt); scanErr != nil {
					return scanErr
				}
				rows = append(rows, row)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get web identity events: %w", err)
	}
	return rows, nil
}

// WebSessionRow is one web-analytics session with its activity extent.
type WebSessionRow struct {
	SessionID   string
	DistinctID  string
	StartedAt   time.Time
	Browser     string
	OS          string
	Device      string
	EventCount  int
	LastEventAt time.Time
}

const webSessionFetchLimit = 500

// GetWebSessionsBetween returns sessions that started inside [from, to],
// newest first. The temporal matcher overlaps these with message times.
func (d *Database) GetWebSessionsBetween(ctx context.Context, teamID string, from, to time.Time) ([]WebSessionRow, error) {
	var sessions []WebSessionRow
	err := d.QueryWithContext(ctx, SelectWebSessionsBetweenQuery,
		[]interface{}{teamID, from, to, webSessionFetchLimit},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var s WebSessionRow
				if scanErr := rows.Scan(&s.SessionID, &s.DistinctID, &s.StartedAt,
					&s.Browser, &s.OS, &s.Device, &s.EventCount, &s.LastEventAt); scanErr != nil {
					return scanErr
				}
				sessions = append(sessions, s)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get web sessions: %w", err)
	}
	return sessions, nil
}

// ActivityBucket is an (hour-of-day, day-of-week) event count.
type ActivityBucket struct {
	Hour  int
	Day   int
	Count int
}

func (d *Database) GetWebActivityHistogram(ctx context.Context, teamID, distinctID string, since time.Time) ([]ActivityBucket, error) {
	var buckets []ActivityBucket
	err := d.QueryWithContext(ctx, SelectWebActivityHistogramQuery,
		[]interface{}{teamID, distinctID, since},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var b ActivityBucket
				if scanErr := rows.Scan(&b.Hour, &b.Day, &b.Count); scanErr != nil {
					return scanErr
				}
				buckets = append(buckets, b)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get web activity histogram: %w", err)
	}
	return buckets, nil
}

// WebEventRow is one page view or custom event on a user's web timeline.
type WebEventRow struct {
	EventID        string
	CreatedAt      time.Time
	URLPath        string
	EventName      string
	EventType      int
	ReferrerDomain string
}

const webEventFetchLimit = 2000

func (d *Database) GetWebEventsByUser(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]WebEventRow, error) {
	var events []WebEventRow
	err := d.QueryWithContext(ctx, SelectWebEventsByUserQuery,
		[]interface{}{teamID, distinctID, tr.Start, tr.End, webEventFetchLimit},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var e WebEventRow
				if scanErr := rows.Scan(&e.EventID, &e.CreatedAt, &e.URLPath,
					&e.EventName, &e.EventType, &e.ReferrerDomain); scanErr != nil {
					return scanErr
				}
				events = append(events, e)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get web events: %w", err)
	}
	return events, nil
}

// WebDataMatchRow is a stored web-analytics value that matched an identity
// probe. EventName is empty for session-level hits.
type WebDataMatchRow struct {
	SessionID  string
	DistinctID string
	DataKey    string
	Value      string
	EventName  string
	CreatedAt  time.Time
}

const webMatchFetchLimit = 200

// SearchWebSessionData finds session-level custom data whose value matches
// any of the ILIKE patterns, newest first.
func (d *Database) SearchWebSessionData(ctx context.Context, teamID string, patterns []string, since time.Time) ([]WebDataMatchRow, error) {
	var matches []WebDataMatchRow
	err := d.QueryWithContext(ctx, SelectWebSessionDataMatchesQuery,
		[]interface{}{teamID, pq.Array(patterns), since, webMatchFetchLimit},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var m WebDataMatchRow
				if scanErr := rows.Scan(&m.SessionID, &m.DistinctID, &m.DataKey,
					&m.Value, &m.CreatedAt); scanErr != nil {
					return scanErr
				}
				matches = append(matches, m)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to search web session data: %w", err)
	}
	return matches, nil
}

// SearchWebEventData finds event-level custom properties whose string value
// matches any of the ILIKE patterns, newest first.
func (d *Database) SearchWebEventData(ctx context.Context, teamID string, patterns []string, since time.Time) ([]WebDataMatchRow, error) {
	var matches []WebDataMatchRow
	err := d.QueryWithContext(ctx, SelectWebEventDataMatchesQuery,
		[]interface{}{teamID, pq.Array(patterns), since, webMatchFetchLimit},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var m WebDataMatchRow
				if scanErr := rows.Scan(&m.SessionID, &m.DistinctID, &m.DataKey,
					&m.Value, &m.EventName, &m.CreatedAt); scanErr != nil {
					return scanErr
				}
				matches = append(matches, m)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to search web event data: %w", err)
	}
	return matches, nil
}

// WebUserActivity is an identified web user's event volume inside the
// behavioral window.
type WebUserActivity struct {
	DistinctID string
	EventCount int
}

// GetActiveWebUsers lists identified web users active since the cutoff,
// busiest first.
func (d *Database) GetActiveWebUsers(ctx context.Context, teamID string, since time.Time, limit int) ([]WebUserActivity, error) {
	var users []WebUserActivity
	err := d.QueryWithContext(ctx, SelectActiveWebUsersQuery,
		[]interface{}{teamID, since, clampLimit(limit)},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var u WebUserActivity
				if scanErr := rows.Scan(&u.DistinctID, &u.EventCount); scanErr != nil {
					return scanErr
				}
				users = append(users, u)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get active web users: %w", err)
	}
	return users, nil
}

// WebConversionRow is one custom event treated as a conversion signal.
type WebConversionRow struct {
	EventID   string
	EventName string
	CreatedAt time.Time
}

func (d *Database) GetWebConversionEvents(ctx context.Context, teamID, distinctID string, tr models.TimeRange) ([]WebConversionRow, error) {
	var events []WebConversionRow
	err := d.QueryWithContext(ctx, SelectWebConversionEventsQuery,
		[]interface{}{teamID, distinctID, tr.Start, tr.End},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var e WebConversionRow
				if scanErr := rows.Scan(&e.EventID, &e.EventName, &e.CreatedAt); scanErr != nil {
					return scanErr
				}
				events = append(events, e)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get web conversion events: %w", err)
	}
	return events, nil
}
