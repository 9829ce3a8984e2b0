package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// ChatStore is the relational source of truth for rooms, memberships, contacts and tasks.
type ChatStore interface {
	// Transaction runs fn in one relational transaction. The store passed to fn is
	// bound to it; returning an error rolls everything back.
	Transaction(ctx context.Context, fn func(tx ChatStore) error) error

	// Rooms
	CreateRoom(ctx context.Context, room *model.ChatRoom) error
	GetRoom(ctx context.Context, roomID uuid.UUID) (*model.ChatRoom, error)
	FindDirectRoom(ctx context.Context, userA, userB string) (*model.ChatRoom, error)
	UpdateRoomSummary(ctx context.Context, roomID uuid.UUID, summary RoomSummary) error
	UpdateRoomDetails(ctx context.Context, roomID uuid.UUID, name, description *string) error
	UpdateRoomDefaults(ctx context.Context, roomID uuid.UUID, defaults model.PermissionFlags) error

	// Members
	AddMember(ctx context.Context, member *model.ChatRoomMember) error
	SaveMember(ctx context.Context, member *model.ChatRoomMember) error
	DeleteMember(ctx context.Context, memberID uuid.UUID) error
	GetMember(ctx context.Context, roomID uuid.UUID, userID string) (*model.ChatRoomMember, error)
	ListMembers(ctx context.Context, roomID uuid.UUID) ([]model.ChatRoomMember, error)
	ListUserMemberships(ctx context.Context, userID string) ([]model.MemberWithRoom, error)
	// ListUserMembershipsIn is ListUserMemberships restricted to the given rooms.
	ListUserMembershipsIn(ctx context.Context, userID string, roomIDs []uuid.UUID) ([]model.MemberWithRoom, error)
	// ListDirectPeers maps each given DirectMessage room to the member that is not userID.
	ListDirectPeers(ctx context.Context, userID string, roomIDs []uuid.UUID) (map[uuid.UUID]string, error)
	GetOverride(ctx context.Context, memberID uuid.UUID) (*model.MemberPermissionOverride, error)
	SaveOverride(ctx context.Context, override *model.MemberPermissionOverride) error

	// Contacts
	GetContact(ctx context.Context, ownerID, contactUserID string) (*model.Contact, error)
	SaveContact(ctx context.Context, contact *model.Contact) error
	ListContacts(ctx context.Context, ownerID string, status *model.ContactStatus) ([]model.Contact, error)
	TouchContacts(ctx context.Context, roomID uuid.UUID, at time.Time) error

	// Tasks
	CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error
	ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error
}

// RoomSummary is the denormalized last-message view of a room.
// A nil LastMessageAt resets the room to its creation marker.
type RoomSummary struct {
	LastMessageContent *string
	LastMessageAt      *time.Time
	LastActivityAt     time.Time
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a relational store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
