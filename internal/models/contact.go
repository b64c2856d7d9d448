package models

import (
	"time"
)

type Contact struct {
	ID            string                 `db:"id"`
	TeamID        string                 `db:"team_id"`
	PhoneNumber   string                 `db:"phone_number"`
	Name          *string                `db:"name"`
	Pushname      *string                `db:"pushname"`
	IsMyContact   bool                   `db:"is_my_contact"`
	IsGroup       bool                   `db:"is_group"`
	IsBusiness    bool                   `db:"is_business"`
	ProfilePicURL *string                `db:"profile_pic_url"`
	Metadata      map[string]interface{} `db:"metadata"`
	CreatedAt     time.Time              `db:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at"`
}

// GetDisplayName returns the best available display name for the contact.
func (c *Contact) GetDisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.Pushname != nil && *c.Pushname != "" {
		return *c.Pushname
	}
	return c.PhoneNumber
}

type UpdateContactRequest struct {
	Name     *string                `json:"name,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type ContactFilter struct {
	Search string
	Limit  int
	Offset int
}
