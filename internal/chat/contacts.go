package chat

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
)

// contactPair loads both directions of a relationship, creating blank rows for the
// missing ones. Blank rows are not saved until the caller does so.
func contactPair(ctx context.Context, tx registrystore.ChatStore, ownerID, otherID string) (mine, theirs *model.Contact, err error) {
	if mine, err = tx.GetContact(ctx, ownerID, otherID); err != nil {
		return nil, nil, err
	}
	if theirs, err = tx.GetContact(ctx, otherID, ownerID); err != nil {
		return nil, nil, err
	}
	if mine == nil {
		mine = &model.Contact{OwnerID: ownerID, ContactUserID: otherID, Status: model.ContactNone}
	}
	if theirs == nil {
		theirs = &model.Contact{OwnerID: otherID, ContactUserID: ownerID, Status: model.ContactNone}
	}
	return mine, theirs, nil
}

func savePair(ctx context.Context, tx registrystore.ChatStore, mine, theirs *model.Contact) error {
	if err := tx.SaveContact(ctx, mine); err != nil {
		return err
	}
	return tx.SaveContact(ctx, theirs)
}

func validatePeer(ownerID, otherID string) (string, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return "", &registrystore.ValidationError{Field: "userId", Message: "is required"}
	}
	if otherID == ownerID {
		return "", &registrystore.ValidationError{Field: "userId", Message: "cannot befriend yourself"}
	}
	return otherID, nil
}

// SendFriendRequest asks targetID to become a friend. When targetID already asked
// the caller, the two requests meet and the friendship is accepted.
func (s *Service) SendFriendRequest(ctx context.Context, ownerID, targetID string) (*model.Contact, error) {
	targetID, err := validatePeer(ownerID, targetID)
	if err != nil {
		return nil, err
	}
	var (
		mine    *model.Contact
		crossed bool
	)
	err = s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		var theirs *model.Contact
		var err error
		mine, theirs, err = contactPair(ctx, tx, ownerID, targetID)
		if err != nil {
			return err
		}
		switch mine.Status {
		case model.ContactFriend:
			return &registrystore.ConflictError{Message: "already friends", Code: "already_friends"}
		case model.ContactRequestSent:
			return &registrystore.ConflictError{Message: "friend request already sent", Code: "request_exists"}
		case model.ContactRequestReceived:
			crossed = true
			return nil
		}
		mine.Status = model.ContactRequestSent
		theirs.Status = model.ContactRequestReceived
		return savePair(ctx, tx, mine, theirs)
	})
	if err != nil {
		return nil, err
	}
	if crossed {
		return s.AcceptFriendRequest(ctx, ownerID, targetID)
	}
	s.publishUser(ctx, targetID, nil, registryfanout.EventContactRequest, map[string]any{"fromUserId": ownerID})
	log.Info("Friend request sent", "from", ownerID, "to", targetID)
	return mine, nil
}

// AcceptFriendRequest accepts requesterID's pending request and opens (or reuses)
// the pair's DirectMessage room, linking it from both contact rows.
func (s *Service) AcceptFriendRequest(ctx context.Context, ownerID, requesterID string) (*model.Contact, error) {
	requesterID, err := validatePeer(ownerID, requesterID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	var (
		mine     *model.Contact
		room     *model.ChatRoom
		restored []string
		created  bool
	)
	err = s.directRoomTransaction(ctx, func(tx registrystore.ChatStore) error {
		var theirs *model.Contact
		var err error
		mine, theirs, err = contactPair(ctx, tx, ownerID, requesterID)
		if err != nil {
			return err
		}
		if mine.Status != model.ContactRequestReceived {
			return &registrystore.NotFoundError{Resource: "friend request", ID: requesterID}
		}
		room, restored, created, err = s.directRoomTx(ctx, tx, ownerID, requesterID, now)
		if err != nil {
			return err
		}
		mine.Status, theirs.Status = model.ContactFriend, model.ContactFriend
		mine.SavedChatRoomID, theirs.SavedChatRoomID = &room.ID, &room.ID
		return savePair(ctx, tx, mine, theirs)
	})
	if err != nil {
		return nil, err
	}
	s.afterDirectRoom(ctx, room, ownerID, requesterID, restored, created)
	s.publishUser(ctx, requesterID, &room.ID, registryfanout.EventContactAccepted, map[string]any{
		"userId": ownerID,
		"chatId": room.ID,
	})
	log.Info("Friend request accepted", "from", requesterID, "by", ownerID, "chatId", room.ID)
	return mine, nil
}

// RejectFriendRequest declines requesterID's pending request. Both sides reset to none.
func (s *Service) RejectFriendRequest(ctx context.Context, ownerID, requesterID string) error {
	requesterID, err := validatePeer(ownerID, requesterID)
	if err != nil {
		return err
	}
	return s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		mine, theirs, err := contactPair(ctx, tx, ownerID, requesterID)
		if err != nil {
			return err
		}
		if mine.Status != model.ContactRequestReceived {
			return &registrystore.NotFoundError{Resource: "friend request", ID: requesterID}
		}
		mine.Status, theirs.Status = model.ContactNone, model.ContactNone
		return savePair(ctx, tx, mine, theirs)
	})
}

// RemoveFriend ends a friendship on both sides. The saved DirectMessage room link
// is kept so a later friendship reuses the room.
func (s *Service) RemoveFriend(ctx context.Context, ownerID, friendID string) error {
	friendID, err := validatePeer(ownerID, friendID)
	if err != nil {
		return err
	}
	err = s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		mine, theirs, err := contactPair(ctx, tx, ownerID, friendID)
		if err != nil {
			return err
		}
		if mine.Status != model.ContactFriend {
			return &registrystore.NotFoundError{Resource: "friend", ID: friendID}
		}
		mine.Status, theirs.Status = model.ContactNone, model.ContactNone
		return savePair(ctx, tx, mine, theirs)
	})
	if err != nil {
		return err
	}
	s.publishUser(ctx, friendID, nil, registryfanout.EventContactRemoved, map[string]any{"userId": ownerID})
	return nil
}

// ListContacts lists ownerID's contacts, optionally filtered by status.
func (s *Service) ListContacts(ctx context.Context, ownerID string, status *model.ContactStatus) ([]model.Contact, error) {
	if status != nil {
		switch *status {
		case model.ContactNone, model.ContactRequestSent, model.ContactRequestReceived, model.ContactFriend:
		default:
			return nil, &registrystore.ValidationError{Field: "status", Message: "unknown contact status"}
		}
	}
	contacts, err := s.store.ListContacts(ctx, ownerID, status)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	return contacts, nil
}
