package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
	"whatslens/pkg/wadriver"
)

// ContactStore is the contact persistence surface.
type ContactStore interface {
	UpsertContact(ctx context.Context, contact *models.Contact) error
	GetContactByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error)
	ListContacts(ctx context.Context, search string, limit, offset int) ([]models.Contact, int, error)
	UpdateContact(ctx context.Context, phoneNumber string, req models.UpdateContactRequest) (bool, error)
}

// ContactFetcher reads the address book of a connected session.
type ContactFetcher interface {
	GetContacts(ctx context.Context) ([]wadriver.Contact, error)
}

// ContactService keeps the per-team contact book, fed from message traffic
// and full address book syncs on session authentication.
type ContactService struct {
	store  ContactStore
	logger *logrus.Logger
}

func NewContactService(store ContactStore, logger *logrus.Logger) *ContactService {
	return &ContactService{store: store, logger: logger}
}

// UpsertFromMessage records the remote party of a message. Names only ever
// improve; an empty pushname never clobbers a stored one.
func (s *ContactService) UpsertFromMessage(ctx context.Context, phone, pushName string, isGroup bool) error {
	if phone == "" {
		return nil
	}
	tenant, ok := models.TenantFromContext(ctx)
	if !ok {
		return apperrors.NewUnauthorizedError("missing tenant context")
	}

	contact := &models.Contact{
		TeamID:      tenant.TeamID,
		PhoneNumber: phone,
		IsGroup:     isGroup,
	}
	if pushName != "" {
		contact.Pushname = &pushName
	}
	return s.store.UpsertContact(ctx, contact)
}

// SyncSession imports the session's full address book. Runs after a session
// authenticates; failures are logged, never fatal.
func (s *ContactService) SyncSession(ctx context.Context, tenant models.TenantContext, fetch ContactFetcher) {
	entries, err := fetch.GetContacts(ctx)
	if err != nil {
		s.logger.WithError(err).WithField(LogFieldTeam, tenant.TeamID).Warn("Contact sync failed")
		return
	}

	synced := 0
	for _, entry := range entries {
		phone := phoneFromJID(entry.JID)
		if phone == "" {
			continue
		}
		contact := &models.Contact{
			TeamID:      tenant.TeamID,
			PhoneNumber: phone,
			IsMyContact: true,
			IsGroup:     strings.Contains(entry.JID, "@g.us"),
			IsBusiness:  entry.IsBusiness,
		}
		if entry.Name != "" {
			name := entry.Name
			contact.Name = &name
		}
		if entry.PushName != "" {
			pushName := entry.PushName
			contact.Pushname = &pushName
		}
		if err := s.store.UpsertContact(ctx, contact); err != nil {
			s.logger.WithError(err).WithField(LogFieldContact, phone).Warn("Failed to sync contact")
			continue
		}
		synced++
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldTeam:  tenant.TeamID,
		LogFieldCount: synced,
	}).Info("Contact sync complete")
}

// Get returns one contact by phone number.
func (s *ContactService) Get(ctx context.Context, phone string) (*models.Contact, error) {
	contact, err := s.store.GetContactByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, apperrors.NewNotFoundError("contact", phone)
	}
	return contact, nil
}

// List returns a page of contacts matching the filter plus the total count.
func (s *ContactService) List(ctx context.Context, filter models.ContactFilter) ([]models.Contact, int, error) {
	return s.store.ListContacts(ctx, filter.Search, filter.Limit, filter.Offset)
}

// Update applies user edits to a contact.
func (s *ContactService) Update(ctx context.Context, phone string, req models.UpdateContactRequest) (*models.Contact, error) {
	found, err := s.store.UpdateContact(ctx, phone, req)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFoundError("contact", phone)
	}
	return s.Get(ctx, phone)
}
