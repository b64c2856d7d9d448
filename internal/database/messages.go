package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatslens/internal/models"
)

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	var m models.Message
	var metadata []byte
	err := rows.Scan(
		&m.ID, &m.TeamID, &m.SessionID, &m.ConversationID, &m.WAMessageID,
		&m.Direction, &m.FromPhone, &m.ToPhone, &m.ChatID, &m.Type, &m.Body,
		&m.MediaURL, &m.MediaMimeType, &m.MediaSize, &m.Caption, &m.QuotedMsgID,
		&m.Timestamp, &m.IsRead, &m.ReadAt, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(metadata, &m.Metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMessage inserts a message; re-delivered driver IDs are ignored and
// reported as inserted=false.
func (d *Database) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	metadata, err := marshalJSONB(msg.Metadata)
	if err != nil {
		return false, err
	}

	return retryableDBOperation(ctx, func() (bool, error) {
		inserted := false
		txErr := d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			scanErr := tx.QueryRowContext(ctx, InsertMessageQuery,
				msg.TeamID, msg.SessionID, msg.ConversationID, msg.WAMessageID,
				msg.Direction, msg.FromPhone, msg.ToPhone, msg.ChatID, msg.Type,
				msg.Body, msg.MediaURL, msg.MediaMimeType, msg.MediaSize,
				msg.Caption, msg.QuotedMsgID, msg.Timestamp, metadata,
			).Scan(&msg.ID)
			if scanErr == sql.ErrNoRows {
				return nil
			}
			if scanErr != nil {
				return scanErr
			}
			inserted = true
			return nil
		})
		return inserted, txErr
	}, "save message")
}

func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return d.getMessage(ctx, SelectMessageByIDQuery, id)
}

func (d *Database) GetMessageByWAID(ctx context.Context, waMessageID string) (*models.Message, error) {
	return d.getMessage(ctx, SelectMessageByWAIDQuery, waMessageID)
}

func (d *Database) getMessage(ctx context.Context, query, arg string) (*models.Message, error) {
	var msg *models.Message
	err := d.QueryWithContext(ctx, query, []interface{}{arg}, func(rows *sql.Rows) error {
		if !rows.Next() {
			return sql.ErrNoRows
		}
		var scanErr error
		msg, scanErr = scanMessage(rows)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// CountUnreadMessages counts unread inbound messages, optionally narrowed
// to one chat.
func (d *Database) CountUnreadMessages(ctx context.Context, chatID string) (int, error) {
	var count int
	err := d.QueryRowWithContext(ctx, CountUnreadMessagesQuery, []interface{}{chatID}, func(row *sql.Row) error {
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

func (d *Database) listMessages(ctx context.Context, query string, args ...interface{}) ([]models.Message, error) {
	var messages []models.Message
	err := d.QueryWithContext(ctx, query, args, func(rows *sql.Rows) error {
		for rows.Next() {
			m, scanErr := scanMessage(rows)
			if scanErr != nil {
				return scanErr
			}
			messages = append(messages, *m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ListMessages resolves a filter to one of the fixed query shapes. Newest
// first in every case.
func (d *Database) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	limit := clampLimit(filter.Limit)
	offset := clampOffset(filter.Offset)

	switch {
	case filter.Search != "":
		return d.listMessages(ctx, SearchMessagesQuery, filter.Search, limit, offset)
	case filter.ChatID != "":
		return d.listMessages(ctx, SelectMessagesByChatQuery, filter.ChatID, limit, offset)
	case filter.SessionID != "":
		return d.listMessages(ctx, SelectMessagesBySessionQuery, filter.SessionID, limit, offset)
	default:
		return nil, fmt.Errorf("message filter requires a chat id, session id, or search term")
	}
}

func (d *Database) ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	return d.listMessages(ctx, SelectMessagesByConversationQuery,
		conversationID, clampLimit(limit), clampOffset(offset))
}

func (d *Database) CountMessagesByConversation(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := d.QueryRowWithContext(ctx, CountMessagesByConversationQuery, []interface{}{conversationID}, func(row *sql.Row) error {
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// MarkMessageRead flips one message's read flag. Already-read messages are
// left untouched so read_at keeps the first read time.
func (d *Database) MarkMessageRead(ctx context.Context, id string) error {
	_, err := d.ExecuteWithContext(ctx, MarkMessageReadQuery, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// DeleteMessage removes a message row. Reports whether a row existed.
func (d *Database) DeleteMessage(ctx context.Context, id string) (bool, error) {
	res, err := d.ExecuteWithContext(ctx, DeleteMessageQuery, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return affected > 0, nil
}

// MarkConversationRead flips unread inbound messages and resets the
// conversation counter in one transaction.
func (d *Database) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	var marked int64
	err := d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, MarkConversationMessagesReadQuery, conversationID)
		if execErr != nil {
			return execErr
		}
		marked, execErr = res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		_, execErr = tx.ExecContext(ctx, ResetConversationUnreadQuery, conversationID)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return marked, nil
}

// MessageTime is a (timestamp, direction) sample used by the behavioral
// matcher's activity histograms.
type MessageTime struct {
	Timestamp time.Time
	Direction models.MessageDirection
}

func (d *Database) GetMessageTimesByPhone(ctx context.Context, phone string, since time.Time) ([]MessageTime, error) {
	var times []MessageTime
	err := d.QueryWithContext(ctx, SelectMessageTimesByPhoneQuery, []interface{}{phone, since}, func(rows *sql.Rows) error {
		for rows.Next() {
			var mt MessageTime
			if scanErr := rows.Scan(&mt.Timestamp, &mt.Direction); scanErr != nil {
				return scanErr
			}
			times = append(times, mt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message times: %w", err)
	}
	return times, nil
}

// MessageBody is an inbound message body sample used by the email and
// topic matchers.
type MessageBody struct {
	Body      string
	Timestamp time.Time
}

func (d *Database) GetMessageBodiesByPhone(ctx context.Context, phone string, since time.Time, limit int) ([]MessageBody, error) {
	var bodies []MessageBody
	err := d.QueryWithContext(ctx, SelectMessageBodiesByPhoneQuery, []interface{}{phone, since, clampLimit(limit)}, func(rows *sql.Rows) error {
		for rows.Next() {
			var mb MessageBody
			if scanErr := rows.Scan(&mb.Body, &mb.Timestamp); scanErr != nil {
				return scanErr
			}
			bodies = append(bodies, mb)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message bodies: %w", err)
	}
	return bodies, nil
}

// JourneyMessageRow is one message with its conversation's funnel stage,
// empty when the message never joined a conversation.
type JourneyMessageRow struct {
	MessageID string
	Timestamp time.Time
	Direction models.MessageDirection
	Type      models.MessageType
	Stage     models.FunnelStage
}

const journeyMessageFetchLimit = 2000

func (d *Database) GetJourneyMessages(ctx context.Context, phone string, tr models.TimeRange) ([]JourneyMessageRow, error) {
	var msgs []JourneyMessageRow
	err := d.QueryWithContext(ctx, SelectJourneyMessagesQuery,
		[]interface{}{phone, tr.Start, tr.End, journeyMessageFetchLimit},
		func(rows *sql.Rows) error {
			for rows.Next() {
				var jm JourneyMessageRow
				if scanErr := rows.Scan(&jm.MessageID, &jm.Timestamp, &jm.Direction, &jm.Type, &jm.Stage); scanErr != nil {
					return scanErr
				}
				msgs = append(msgs, jm)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get journey messages: %w", err)
	}
	return msgs, nil
}
