package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/access"
	"github.com/chirino/chat-service/internal/model"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// CreateRoomRequest is the input of CreateRoom.
type CreateRoomRequest struct {
	Type        model.RoomType
	Name        *string
	Description *string
	// MemberIDs are invited alongside the creator. A DirectMessage room takes exactly one.
	MemberIDs []string
}

// CreateRoom creates a room owned by creatorID. Group members are invited (pending);
// both sides of a DirectMessage are active at once. Creating a DirectMessage that
// already exists returns the existing room, reactivating the creator if they had left.
func (s *Service) CreateRoom(ctx context.Context, creatorID string, req CreateRoomRequest) (*model.ChatRoom, error) {
	if !req.Type.Valid() {
		return nil, &registrystore.ValidationError{Field: "type", Message: "unknown room type"}
	}
	var invitees []string
	for _, id := range req.MemberIDs {
		id = strings.TrimSpace(id)
		if id != "" && id != creatorID && !slices.Contains(invitees, id) {
			invitees = append(invitees, id)
		}
	}
	if req.Type == model.RoomTypeDirectMessage {
		if len(invitees) != 1 {
			return nil, &registrystore.ValidationError{Field: "memberIds", Message: "a direct message needs exactly one other member"}
		}
		if req.Name != nil || req.Description != nil {
			return nil, &registrystore.ValidationError{Field: "name", Message: "direct messages have no name or description"}
		}
		return s.openDirectRoom(ctx, creatorID, invitees[0])
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return nil, &registrystore.ValidationError{Field: "name", Message: "is required"}
	}
	name := strings.TrimSpace(*req.Name)

	now := s.clock()
	room := &model.ChatRoom{
		ID:             uuid.New(),
		Type:           req.Type,
		Name:           &name,
		Description:    req.Description,
		CreatorID:      creatorID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	err := s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		owner := access.NewMember(room.ID, creatorID, model.RoleOwner, false, nil, now)
		if err := tx.AddMember(ctx, &owner); err != nil {
			return err
		}
		for _, userID := range invitees {
			m := access.NewMember(room.ID, userID, model.RoleMember, true, &creatorID, now)
			if err := tx.AddMember(ctx, &m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cacheWarn("touch chat", s.cache.TouchChat(ctx, room.ID, now, append([]string{creatorID}, invitees...)))
	for _, userID := range invitees {
		s.publishUser(ctx, userID, &room.ID, registryfanout.EventRoomInvited, map[string]any{"room": room, "invitedBy": creatorID})
	}
	log.Info("Room created", "chatId", room.ID, "type", room.Type, "creatorId", creatorID, "invited", len(invitees))
	return room, nil
}

// openDirectRoom returns the DirectMessage room of the pair, creating it when needed.
// Both memberships end up active; a member coming back only sees new history.
func (s *Service) openDirectRoom(ctx context.Context, userA, userB string) (*model.ChatRoom, error) {
	var (
		room     *model.ChatRoom
		restored []string
		created  bool
	)
	now := s.clock()
	err := s.directRoomTransaction(ctx, func(tx registrystore.ChatStore) error {
		var err error
		room, restored, created, err = s.directRoomTx(ctx, tx, userA, userB, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterDirectRoom(ctx, room, userA, userB, restored, created)
	return room, nil
}

// directRoomTransaction runs fn in a transaction, and once more when a concurrent
// caller committed the pair's DirectMessage room first.
func (s *Service) directRoomTransaction(ctx context.Context, fn func(tx registrystore.ChatStore) error) error {
	err := s.store.Transaction(ctx, fn)
	var ce *registrystore.ConflictError
	if errors.As(err, &ce) && ce.Code == "direct_room_exists" {
		log.Debug("Direct room created concurrently, retrying")
		err = s.store.Transaction(ctx, fn)
	}
	return err
}

func (s *Service) directRoomTx(ctx context.Context, tx registrystore.ChatStore, userA, userB string, now time.Time) (*model.ChatRoom, []string, bool, error) {
	room, err := tx.FindDirectRoom(ctx, userA, userB)
	if err != nil {
		return nil, nil, false, err
	}
	if room == nil {
		key := model.DirectKey(userA, userB)
		room = &model.ChatRoom{
			ID:             uuid.New(),
			Type:           model.RoomTypeDirectMessage,
			CreatorID:      userA,
			CreatedAt:      now,
			LastActivityAt: now,
			DirectKey:      &key,
		}
		if err := tx.CreateRoom(ctx, room); err != nil {
			return nil, nil, false, err
		}
		for _, userID := range []string{userA, userB} {
			m := access.NewMember(room.ID, userID, model.RoleMember, false, nil, now)
			if err := tx.AddMember(ctx, &m); err != nil {
				return nil, nil, false, err
			}
		}
		return room, nil, true, nil
	}

	var restored []string
	for _, userID := range []string{userA, userB} {
		m, err := tx.GetMember(ctx, room.ID, userID)
		if err != nil {
			return nil, nil, false, err
		}
		if access.Reactivate(m, now, now, false, nil) {
			if err := tx.SaveMember(ctx, m); err != nil {
				return nil, nil, false, err
			}
			restored = append(restored, userID)
		}
	}
	return room, restored, false, nil
}

func (s *Service) afterDirectRoom(ctx context.Context, room *model.ChatRoom, userA, userB string, restored []string, created bool) {
	if created {
		cacheWarn("touch chat", s.cache.TouchChat(ctx, room.ID, room.LastActivityAt, []string{userA, userB}))
		s.publishUser(ctx, userB, &room.ID, registryfanout.EventRoomInvited, map[string]any{"room": room, "invitedBy": userA})
		log.Info("Direct room created", "chatId", room.ID)
		return
	}
	for _, userID := range restored {
		cacheWarn("invalidate chat index", s.cache.InvalidateChatIndex(ctx, userID))
		cacheWarn("set unread", s.cache.SetUnread(ctx, room.ID, userID, 0))
		s.publishUser(ctx, userID, &room.ID, registryfanout.EventChatRestored, map[string]any{"chatId": room.ID})
	}
}

// UpdateRoom changes a group room's name or description. Needs customize-room.
func (s *Service) UpdateRoom(ctx context.Context, chatID uuid.UUID, actorID string, name, description *string) (*model.ChatRoom, error) {
	room, actor, err := s.activeMember(ctx, s.store, chatID, actorID)
	if err != nil {
		return nil, err
	}
	if room.Type == model.RoomTypeDirectMessage {
		return nil, &registrystore.ValidationError{Field: "name", Message: "direct messages have no name or description"}
	}
	if err := s.require(ctx, s.store, room, actor, access.CustomizeRoom); err != nil {
		return nil, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, &registrystore.ValidationError{Field: "name", Message: "must not be empty"}
		}
		name = &trimmed
	}
	if err := s.store.UpdateRoomDetails(ctx, chatID, name, description); err != nil {
		return nil, err
	}
	updated, err := s.store.GetRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.publishRoom(ctx, chatID, registryfanout.EventRoomUpdated, updated)
	return updated, nil
}

// SetRoomDefaults replaces the room-level permission defaults. Needs customize-room.
// Admin-only capabilities ignore room defaults, so setting them is rejected.
func (s *Service) SetRoomDefaults(ctx context.Context, chatID uuid.UUID, actorID string, defaults model.PermissionFlags) (*model.ChatRoom, error) {
	for _, c := range access.Capabilities {
		if c.AdminOnly() && access.Flag(&defaults, c) != nil {
			return nil, &registrystore.ValidationError{Field: string(c), Message: "cannot be set as a room default"}
		}
	}
	room, actor, err := s.activeMember(ctx, s.store, chatID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, s.store, room, actor, access.CustomizeRoom); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRoomDefaults(ctx, chatID, defaults); err != nil {
		return nil, err
	}
	room.Defaults = defaults
	s.publishRoom(ctx, chatID, registryfanout.EventRoomUpdated, room)
	return room, nil
}

// AddMember invites targetID into a group room, or, when the caller adds themselves
// to a Public room, joins them directly. A former member is reactivated with no
// access to the history before their return.
func (s *Service) AddMember(ctx context.Context, chatID uuid.UUID, actorID, targetID string) (*model.ChatRoomMember, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, &registrystore.ValidationError{Field: "userId", Message: "is required"}
	}
	now := s.clock()
	var (
		added    *model.ChatRoomMember
		selfJoin bool
	)
	err := s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		room, err := tx.GetRoom(ctx, chatID)
		if err != nil {
			return err
		}
		if room.Type == model.RoomTypeDirectMessage {
			return &registrystore.ValidationError{Field: "chatId", Message: "direct messages have exactly two members"}
		}
		selfJoin = actorID == targetID
		if selfJoin {
			if room.Type != model.RoomTypePublic {
				return &registrystore.ForbiddenError{}
			}
		} else {
			_, actor, err := s.activeMember(ctx, tx, chatID, actorID)
			if err != nil {
				return err
			}
			if err := s.require(ctx, tx, room, actor, access.InviteUsers); err != nil {
				return err
			}
		}

		var invitedBy *string
		if !selfJoin {
			invitedBy = &actorID
		}
		existing, err := tx.GetMember(ctx, chatID, targetID)
		var nf *registrystore.NotFoundError
		switch {
		case errors.As(err, &nf):
			m := access.NewMember(chatID, targetID, model.RoleMember, !selfJoin, invitedBy, now)
			if err := tx.AddMember(ctx, &m); err != nil {
				return err
			}
			added = &m
			return nil
		case err != nil:
			return err
		}
		if !access.Reactivate(existing, now, now, !selfJoin, invitedBy) {
			return &registrystore.ConflictError{
				Message: "user is already a member of this room",
				Code:    "member_exists",
				Details: map[string]interface{}{"state": string(access.StateOf(existing))},
			}
		}
		if err := tx.SaveMember(ctx, existing); err != nil {
			return err
		}
		added = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	cacheWarn("invalidate chat index", s.cache.InvalidateChatIndex(ctx, targetID))
	cacheWarn("set unread", s.cache.SetUnread(ctx, chatID, targetID, 0))
	if selfJoin {
		s.publishRoom(ctx, chatID, registryfanout.EventMemberJoined, added)
	} else {
		s.publishUser(ctx, targetID, &chatID, registryfanout.EventRoomInvited, map[string]any{"chatId": chatID, "invitedBy": actorID})
	}
	log.Info("Member added", "chatId", chatID, "userId", targetID, "by", actorID, "pending", added.IsPending)
	return added, nil
}

// AcceptInvite activates the caller's pending invitation.
func (s *Service) AcceptInvite(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatRoomMember, error) {
	_, m, err := s.member(ctx, s.store, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := access.Accept(m, s.clock()); err != nil {
		return nil, transition(err)
	}
	if err := s.store.SaveMember(ctx, m); err != nil {
		return nil, err
	}
	s.refreshUnread(ctx, chatID, m)
	cacheWarn("invalidate chat index", s.cache.InvalidateChatIndex(ctx, userID))
	s.publishRoom(ctx, chatID, registryfanout.EventMemberJoined, m)
	return m, nil
}

// RejectInvite discards the caller's pending invitation entirely.
func (s *Service) RejectInvite(ctx context.Context, chatID uuid.UUID, userID string) error {
	_, m, err := s.member(ctx, s.store, chatID, userID)
	if err != nil {
		return err
	}
	if err := access.CanReject(m); err != nil {
		return transition(err)
	}
	if err := s.store.DeleteMember(ctx, m.ID); err != nil {
		return err
	}
	cacheWarn("remove chat", s.cache.RemoveChat(ctx, userID, chatID))
	return nil
}

// RemoveMember removes targetID from the room. Removing someone else needs
// ban-users and a higher role; a pending invitation is withdrawn outright.
func (s *Service) RemoveMember(ctx context.Context, chatID uuid.UUID, actorID, targetID string) error {
	if actorID == targetID {
		return s.LeaveRoom(ctx, chatID, actorID)
	}
	var target *model.ChatRoomMember
	err := s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		room, actor, err := s.activeMember(ctx, tx, chatID, actorID)
		if err != nil {
			return err
		}
		if err := s.require(ctx, tx, room, actor, access.BanUsers); err != nil {
			return err
		}
		target, err = tx.GetMember(ctx, chatID, targetID)
		if err != nil {
			return err
		}
		if !access.Outranks(actor.Role, target.Role) {
			return &registrystore.ForbiddenError{Capability: string(access.BanUsers)}
		}
		switch access.StateOf(target) {
		case access.StatePending:
			return tx.DeleteMember(ctx, target.ID)
		case access.StateDeleted:
			return nil
		}
		if err := access.Leave(target); err != nil {
			return transition(err)
		}
		return tx.SaveMember(ctx, target)
	})
	if err != nil {
		return err
	}
	cacheWarn("remove chat", s.cache.RemoveChat(ctx, targetID, chatID))
	s.publishRoom(ctx, chatID, registryfanout.EventMemberLeft, map[string]any{"userId": targetID, "removedBy": actorID})
	log.Info("Member removed", "chatId", chatID, "userId", targetID, "by", actorID)
	return nil
}

// LeaveRoom soft-deletes the caller's membership. An Owner leaving a group room hands
// ownership to the longest-standing admin, or else the longest-standing member.
func (s *Service) LeaveRoom(ctx context.Context, chatID uuid.UUID, userID string) error {
	var successor *model.ChatRoomMember
	err := s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		room, m, err := s.member(ctx, tx, chatID, userID)
		if err != nil {
			return err
		}
		role := m.Role
		if err := access.Leave(m); err != nil {
			return transition(err)
		}
		if err := tx.SaveMember(ctx, m); err != nil {
			return err
		}
		if role != model.RoleOwner || room.Type == model.RoomTypeDirectMessage {
			return nil
		}
		members, err := tx.ListMembers(ctx, chatID)
		if err != nil {
			return err
		}
		successor = pickSuccessor(members)
		if successor == nil {
			return nil
		}
		successor.Role = model.RoleOwner
		return tx.SaveMember(ctx, successor)
	})
	if err != nil {
		return err
	}
	cacheWarn("remove chat", s.cache.RemoveChat(ctx, userID, chatID))
	s.publishRoom(ctx, chatID, registryfanout.EventMemberLeft, map[string]any{"userId": userID})
	if successor != nil {
		s.publishRoom(ctx, chatID, registryfanout.EventMemberUpdated, successor)
	}
	return nil
}

// pickSuccessor prefers the earliest-joined active admin, then the earliest-joined
// active member. members arrive ordered by joinedAt.
func pickSuccessor(members []model.ChatRoomMember) *model.ChatRoomMember {
	var fallback *model.ChatRoomMember
	for i := range members {
		m := &members[i]
		if !access.IsActive(m) || m.Role == model.RoleOwner {
			continue
		}
		if m.Role == model.RoleAdmin {
			return m
		}
		if fallback == nil {
			fallback = m
		}
	}
	return fallback
}

// UpdateMemberRole changes targetID's role. Needs promote-members and a higher role.
// Nobody can be made Owner, and the Owner cannot be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, chatID uuid.UUID, actorID, targetID string, role model.MemberRole) (*model.ChatRoomMember, error) {
	if !role.Valid() {
		return nil, &registrystore.ValidationError{Field: "role", Message: "unknown role"}
	}
	if role == model.RoleOwner {
		return nil, &registrystore.ValidationError{Field: "role", Message: "the owner role cannot be granted"}
	}
	room, actor, target, err := s.privilegedTarget(ctx, chatID, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if room.Type == model.RoomTypeDirectMessage {
		return nil, &registrystore.ValidationError{Field: "chatId", Message: "direct messages have no roles"}
	}
	if target.Role == model.RoleOwner {
		return nil, &registrystore.ForbiddenError{Capability: string(access.PromoteMembers)}
	}
	if role == model.RoleAdmin && actor.Role != model.RoleOwner && !access.Outranks(actor.Role, role) {
		return nil, &registrystore.ForbiddenError{Capability: string(access.PromoteMembers)}
	}
	target.Role = role
	if err := s.store.SaveMember(ctx, target); err != nil {
		return nil, err
	}
	s.publishRoom(ctx, chatID, registryfanout.EventMemberUpdated, target)
	log.Info("Member role updated", "chatId", chatID, "userId", targetID, "role", role, "by", actorID)
	return target, nil
}

// SetPermissionOverride replaces targetID's per-member permission override.
// Needs promote-members and a higher role.
func (s *Service) SetPermissionOverride(ctx context.Context, chatID uuid.UUID, actorID, targetID string, flags model.PermissionFlags) (*model.MemberPermissionOverride, error) {
	_, _, target, err := s.privilegedTarget(ctx, chatID, actorID, targetID)
	if err != nil {
		return nil, err
	}
	override := &model.MemberPermissionOverride{MemberID: target.ID, Flags: flags, UpdatedAt: s.clock()}
	if err := s.store.SaveOverride(ctx, override); err != nil {
		return nil, err
	}
	s.publishRoom(ctx, chatID, registryfanout.EventMemberUpdated, map[string]any{"userId": targetID, "permissions": flags})
	return override, nil
}

// privilegedTarget authorizes actorID to manage targetID with promote-members.
func (s *Service) privilegedTarget(ctx context.Context, chatID uuid.UUID, actorID, targetID string) (*model.ChatRoom, *model.ChatRoomMember, *model.ChatRoomMember, error) {
	if actorID == targetID {
		return nil, nil, nil, &registrystore.ForbiddenError{Capability: string(access.PromoteMembers)}
	}
	room, actor, err := s.activeMember(ctx, s.store, chatID, actorID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.require(ctx, s.store, room, actor, access.PromoteMembers); err != nil {
		return nil, nil, nil, err
	}
	target, err := s.store.GetMember(ctx, chatID, targetID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !access.IsActive(target) {
		return nil, nil, nil, &registrystore.NotFoundError{Resource: "member", ID: targetID}
	}
	if !access.Outranks(actor.Role, target.Role) {
		return nil, nil, nil, &registrystore.ForbiddenError{Capability: string(access.PromoteMembers)}
	}
	return room, actor, target, nil
}

// PinChat pins the room at the top of the caller's chat list.
func (s *Service) PinChat(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatRoomMember, error) {
	return s.setPinned(ctx, chatID, userID, true)
}

// UnpinChat undoes PinChat.
func (s *Service) UnpinChat(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatRoomMember, error) {
	return s.setPinned(ctx, chatID, userID, false)
}

func (s *Service) setPinned(ctx context.Context, chatID uuid.UUID, userID string, pinned bool) (*model.ChatRoomMember, error) {
	_, m, err := s.activeMember(ctx, s.store, chatID, userID)
	if err != nil {
		return nil, err
	}
	if m.IsPinned == pinned {
		return m, nil
	}
	m.IsPinned = pinned
	m.PinnedAt = nil
	if pinned {
		now := s.clock()
		m.PinnedAt = &now
	}
	if err := s.store.SaveMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ClearHistory hides every current message of the room from the caller only.
func (s *Service) ClearHistory(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatRoomMember, error) {
	_, m, err := s.activeMember(ctx, s.store, chatID, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	m.ClearedHistoryAt = &now
	if err := s.store.SaveMember(ctx, m); err != nil {
		return nil, err
	}
	cacheWarn("set unread", s.cache.SetUnread(ctx, chatID, userID, 0))
	return m, nil
}

// Permissions is the resolved capability set of one member.
type Permissions struct {
	ChatID       uuid.UUID                  `json:"chatId"`
	UserID       string                     `json:"userId"`
	Role         model.MemberRole           `json:"role"`
	Capabilities map[access.Capability]bool `json:"capabilities"`
}

// GetPermissions resolves every capability for userID in the room.
func (s *Service) GetPermissions(ctx context.Context, chatID uuid.UUID, userID string) (*Permissions, error) {
	room, m, err := s.activeMember(ctx, s.store, chatID, userID)
	if err != nil {
		return nil, err
	}
	subj, err := s.subject(ctx, s.store, room, m)
	if err != nil {
		return nil, err
	}
	return &Permissions{ChatID: chatID, UserID: userID, Role: m.Role, Capabilities: access.ResolveAll(subj)}, nil
}
