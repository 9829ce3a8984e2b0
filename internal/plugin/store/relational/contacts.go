package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *GormStore) GetContact(ctx context.Context, ownerID, contactUserID string) (*model.Contact, error) {
	var c model.Contact
	err := s.db.WithContext(ctx).Where("owner_id = ? AND contact_user_id = ?", ownerID, contactUserID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) SaveContact(ctx context.Context, contact *model.Contact) error {
	now := time.Now().UTC()
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now
	err := s.db.WithContext(ctx).Save(contact).Error
	if isUniqueViolation(err) {
		return &registrystore.ConflictError{
			Message: fmt.Sprintf("contact %s -> %s already exists", contact.OwnerID, contact.ContactUserID),
			Code:    "request_exists",
		}
	}
	return err
}

func (s *GormStore) ListContacts(ctx context.Context, ownerID string, status *model.ContactStatus) ([]model.Contact, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != nil {
		q = q.Where("status = ?", *status)
	} else {
		q = q.Where("status <> ?", model.ContactNone)
	}
	var contacts []model.Contact
	err := q.Order("updated_at DESC, id").Find(&contacts).Error
	return contacts, err
}

// TouchContacts records message activity on every contact row linked to the room.
func (s *GormStore) TouchContacts(ctx context.Context, roomID uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Contact{}).
		Where("saved_chat_room_id = ?", roomID).
		Update("last_message_at", at).Error
}
