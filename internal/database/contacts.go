package database

import (
	"context"
	"database/sql"
	"fmt"

	"whatslens/internal/models"
)

func scanContact(rows *sql.Rows) (*models.Contact, error) {
	var c models.Contact
	var metadata []byte
	err := rows.Scan(
		&c.ID, &c.TeamID, &c.PhoneNumber, &c.Name, &c.Pushname, &c.IsMyContact,
		&c.IsGroup, &c.IsBusiness, &c.ProfilePicURL, &metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContact merges driver-sourced contact data; names only ever improve
// (COALESCE keeps the old value when the new one is missing).
func (d *Database) UpsertContact(ctx context.Context, contact *models.Contact) error {
	metadata, err := marshalJSONB(contact.Metadata)
	if err != nil {
		return err
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		return d.TransactionWithContext(ctx, func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, UpsertContactQuery,
				contact.TeamID, contact.PhoneNumber, contact.Name, contact.Pushname,
				contact.IsMyContact, contact.IsGroup, contact.IsBusiness,
				contact.ProfilePicURL, metadata,
			).Scan(&contact.ID)
		})
	}, "upsert contact")
}

func (d *Database) GetContactByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error) {
	var contact *models.Contact
	err := d.QueryWithContext(ctx, SelectContactByPhoneQuery, []interface{}{phoneNumber}, func(rows *sql.Rows) error {
		if !rows.Next() {
			return sql.ErrNoRows
		}
		var scanErr error
		contact, scanErr = scanContact(rows)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return contact, nil
}

// UpdateContact applies user edits to a contact. Reports whether a row
// matched.
func (d *Database) UpdateContact(ctx context.Context, phoneNumber string, req models.UpdateContactRequest) (bool, error) {
	var metadata interface{}
	if req.Metadata != nil {
		data, err := marshalJSONB(req.Metadata)
		if err != nil {
			return false, err
		}
		metadata = data
	}

	res, err := d.ExecuteWithContext(ctx, UpdateContactQuery, phoneNumber, req.Name, metadata)
	if err != nil {
		return false, fmt.Errorf("failed to update contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update contact: %w", err)
	}
	return affected > 0, nil
}

func (d *Database) ListContacts(ctx context.Context, search string, limit, offset int) ([]models.Contact, int, error) {
	var total int
	if err := d.QueryRowWithContext(ctx, CountContactsQuery, []interface{}{search}, func(row *sql.Row) error {
		return row.Scan(&total)
	}); err != nil {
		return nil, 0, fmt.Errorf("failed to count contacts: %w", err)
	}

	var contacts []models.Contact
	err := d.QueryWithContext(ctx, SelectContactsQuery,
		[]interface{}{search, clampLimit(limit), clampOffset(offset)},
		func(rows *sql.Rows) error {
			for rows.Next() {
				c, scanErr := scanContact(rows)
				if scanErr != nil {
					return scanErr
				}
				contacts = append(contacts, *c)
			}
			return nil
		})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, total, nil
}
