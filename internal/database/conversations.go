package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

func scanConversation(rows *sql.Rows) (*models.Conversation, error) {
	var c models.Conversation
	var metadata []byte
	err := rows.Scan(
		&c.ID, &c.TeamID, &c.ContactPhone, &c.ContactName, &c.Status, &c.Stage,
		&c.AssignedTo, &c.UnreadCount, &c.MessageCount, &c.FirstMessageAt,
		&c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertConversationOnMessage threads a message into its conversation: a new
// contact opens a conversation, a known one bumps counters and timestamps,
// and a closed conversation reopens. Returns the conversation id.
func (d *Database) UpsertConversationOnMessage(ctx context.Context, teamID, contactPhone string, contactName *string, messageAt time.Time, inbound bool) (string, error) {
	unreadDelta := 0
	if inbound {
		unreadDelta = 1
	}

	return retryableDBOperation(ctx, func() (string, error) {
		var id string
		err := d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, UpsertConversationOnMessageQuery,
				teamID, contactPhone, contactName, messageAt, unreadDelta,
			).Scan(&id)
		})
		return id, err
	}, "upsert conversation")
}

func (d *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return d.getConversation(ctx, SelectConversationByIDQuery, id)
}

func (d *Database) GetConversationByPhone(ctx context.Context, contactPhone string) (*models.Conversation, error) {
	return d.getConversation(ctx, SelectConversationByPhoneQuery, contactPhone)
}

func (d *Database) getConversation(ctx context.Context, query, arg string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := d.QueryWithContext(ctx, query, []interface{}{arg}, func(rows *sql.Rows) error {
		if !rows.Next() {
			return sql.ErrNoRows
		}
		var scanErr error
		conv, scanErr = scanConversation(rows)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// buildConversationFilter renders the dynamic WHERE clause for list and
// count queries. $1.. placeholders are assigned in arg order.
func buildConversationFilter(filter models.ConversationFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			args = append(args, string(s))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if len(filter.Stage) > 0 {
		placeholders := make([]string, len(filter.Stage))
		for i, s := range filter.Stage {
			args = append(args, string(s))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("stage IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.Search != "" {
		args = append(args, filter.Search)
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(contact_phone ILIKE '%%' || $%d || '%%' OR contact_name ILIKE '%%' || $%d || '%%')", n, n))
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

func (d *Database) ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, int, error) {
	where, args := buildConversationFilter(filter)

	countQuery := "SELECT COUNT(*) FROM whatsapp_conversation " + where
	var total int
	if err := d.QueryRowWithContext(ctx, countQuery, args, func(row *sql.Row) error {
		return row.Scan(&total)
	}); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	listArgs := append(append([]interface{}{}, args...), clampLimit(filter.Limit), clampOffset(filter.Offset))
	listQuery := fmt.Sprintf("%s %s ORDER BY last_message_at DESC LIMIT $%d OFFSET $%d",
		selectConversationColumns, where, len(args)+1, len(args)+2)

	var conversations []models.Conversation
	err := d.QueryWithContext(ctx, listQuery, listArgs, func(rows *sql.Rows) error {
		for rows.Next() {
			c, scanErr := scanConversation(rows)
			if scanErr != nil {
				return scanErr
			}
			conversations = append(conversations, *c)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, total, nil
}

// UpdateConversation applies the non-nil fields of the request.
func (d *Database) UpdateConversation(ctx context.Context, id string, req models.UpdateConversationRequest) error {
	var metadata interface{}
	if req.Metadata != nil {
		data, err := marshalJSONB(req.Metadata)
		if err != nil {
			return err
		}
		metadata = data
	}

	var status, stage interface{}
	if req.Status != nil {
		status = string(*req.Status)
	}
	if req.Stage != nil {
		stage = string(*req.Stage)
	}

	res, err := d.ExecuteWithContext(ctx, UpdateConversationQuery,
		id, status, stage, req.AssignedTo, metadata)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError("conversation", id)
	}
	return nil
}

func (d *Database) ListStaleOpenConversations(ctx context.Context, cutoff time.Time) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := d.QueryWithContext(ctx, SelectStaleOpenConversationsQuery, []interface{}{cutoff}, func(rows *sql.Rows) error {
		for rows.Next() {
			c, scanErr := scanConversation(rows)
			if scanErr != nil {
				return scanErr
			}
			conversations = append(conversations, *c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stale conversations: %w", err)
	}
	return conversations, nil
}
