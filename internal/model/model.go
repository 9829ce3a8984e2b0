package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomType is the kind of a chat room. It selects the type-level permission defaults.
type RoomType string

const (
	RoomTypeDirectMessage RoomType = "direct_message"
	RoomTypePrivate       RoomType = "private"
	RoomTypePublic        RoomType = "public"
	RoomTypeChannel       RoomType = "channel"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypeDirectMessage, RoomTypePrivate, RoomTypePublic, RoomTypeChannel:
		return true
	}
	return false
}

// MemberRole is a member's role inside one room.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
	RoleOwner  MemberRole = "owner"
)

// Valid reports whether r is a known role.
func (r MemberRole) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// IsPrivileged is true for Owner and Admin.
func (r MemberRole) IsPrivileged() bool {
	return r == RoleOwner || r == RoleAdmin
}

// PermissionFlags holds one nullable flag per capability. A nil flag means "not set"
// so resolution falls through to the next layer.
type PermissionFlags struct {
	SendMessages   *bool `json:"sendMessages,omitempty"`
	SendPhotos     *bool `json:"sendPhotos,omitempty"`
	SendVideos     *bool `json:"sendVideos,omitempty"`
	SendStickers   *bool `json:"sendStickers,omitempty"`
	SendMusic      *bool `json:"sendMusic,omitempty"`
	SendFiles      *bool `json:"sendFiles,omitempty"`
	InviteUsers    *bool `json:"inviteUsers,omitempty"`
	PinMessages    *bool `json:"pinMessages,omitempty"`
	CustomizeRoom  *bool `json:"customizeRoom,omitempty"`
	DeleteMessages *bool `json:"deleteMessages,omitempty"`
	BanUsers       *bool `json:"banUsers,omitempty"`
	PromoteMembers *bool `json:"promoteMembers,omitempty"`
}

// ChatRoom is a conversation. DirectMessage rooms have exactly two members and no name.
type ChatRoom struct {
	ID                 uuid.UUID       `json:"id"                           gorm:"primaryKey;type:uuid"`
	Type               RoomType        `json:"type"                         gorm:"not null;index"`
	Name               *string         `json:"name,omitempty"`
	Description        *string         `json:"description,omitempty"`
	CreatorID          string          `json:"creatorId"                    gorm:"not null"`
	CreatedAt          time.Time       `json:"createdAt"                    gorm:"not null"`
	LastActivityAt     time.Time       `json:"lastActivityAt"               gorm:"not null;index"`
	LastMessageContent *string         `json:"lastMessageContent,omitempty"`
	LastMessageAt      *time.Time      `json:"lastMessageAt,omitempty"`
	Defaults           PermissionFlags `json:"defaultPermissions"           gorm:"embedded;embeddedPrefix:default_"`
	DirectKey          *string         `json:"-"                            gorm:"uniqueIndex:idx_room_direct_key"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

// DirectKey identifies the DirectMessage room of a pair regardless of argument order.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%s:%s", len(userA), userA, userB)
}

// ChatRoomMember is a user's membership row. Rows are never hard-deleted once active;
// IsDeleted/IsPending encode the membership state.
type ChatRoomMember struct {
	ID               uuid.UUID  `json:"id"                         gorm:"primaryKey;type:uuid"`
	ChatRoomID       uuid.UUID  `json:"chatRoomId"                 gorm:"not null;type:uuid;uniqueIndex:idx_member_room_user"`
	UserID           string     `json:"userId"                     gorm:"not null;uniqueIndex:idx_member_room_user;index"`
	Role             MemberRole `json:"role"                       gorm:"not null"`
	IsPending        bool       `json:"isPending"                  gorm:"not null;default:false"`
	IsDeleted        bool       `json:"isDeleted"                  gorm:"not null;default:false"`
	ClearedHistoryAt *time.Time `json:"clearedHistoryAt,omitempty"`
	JoinedAt         time.Time  `json:"joinedAt"                   gorm:"not null"`
	InvitedByID      *string    `json:"invitedById,omitempty"`
	IsPinned         bool       `json:"isPinned"                   gorm:"not null;default:false"`
	PinnedAt         *time.Time `json:"pinnedAt,omitempty"`
}

func (ChatRoomMember) TableName() string { return "chat_room_members" }

// MemberPermissionOverride is one-to-one with a member row.
type MemberPermissionOverride struct {
	MemberID  uuid.UUID       `json:"memberId"  gorm:"primaryKey;type:uuid"`
	Flags     PermissionFlags `json:"flags"     gorm:"embedded"`
	UpdatedAt time.Time       `json:"updatedAt" gorm:"not null"`
}

func (MemberPermissionOverride) TableName() string { return "member_permission_overrides" }

// MemberWithRoom pairs a membership with its room, as used by chat-list rebuilds.
type MemberWithRoom struct {
	Member ChatRoomMember
	Room   ChatRoom
}

// ContactStatus is the state of one side of a contact relationship.
type ContactStatus string

const (
	ContactNone            ContactStatus = "none"
	ContactRequestSent     ContactStatus = "request_sent"
	ContactRequestReceived ContactStatus = "request_received"
	ContactFriend          ContactStatus = "friend"
)

// Contact is one direction of a contact relationship; a friendship is two rows.
type Contact struct {
	ID              uuid.UUID     `json:"id"                        gorm:"primaryKey;type:uuid"`
	OwnerID         string        `json:"ownerId"                   gorm:"not null;uniqueIndex:idx_contact_owner_user"`
	ContactUserID   string        `json:"contactUserId"             gorm:"not null;uniqueIndex:idx_contact_owner_user"`
	Status          ContactStatus `json:"status"                    gorm:"not null"`
	SavedChatRoomID *uuid.UUID    `json:"savedChatRoomId,omitempty" gorm:"type:uuid"`
	LastMessageAt   *time.Time    `json:"lastMessageAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"                 gorm:"not null"`
	UpdatedAt       time.Time     `json:"updatedAt"                 gorm:"not null"`
}

func (Contact) TableName() string { return "contacts" }

// Task represents a background task in the task queue.
type Task struct {
	ID         uuid.UUID      `json:"id"                  gorm:"primaryKey;type:uuid"`
	TaskName   *string        `json:"taskName,omitempty"  gorm:"unique"`
	TaskType   string         `json:"taskType"            gorm:"not null"`
	TaskBody   map[string]any `json:"taskBody"            gorm:"type:text;serializer:json;not null"`
	CreatedAt  time.Time      `json:"createdAt"           gorm:"not null"`
	RetryAt    time.Time      `json:"retryAt"             gorm:"not null;index"`
	LastError  *string        `json:"lastError,omitempty"`
	RetryCount int            `json:"retryCount"          gorm:"not null;default:0"`
}

func (Task) TableName() string { return "tasks" }

// TaskTypeReconcileMessage repairs a message document orphaned by a failed relational commit.
const TaskTypeReconcileMessage = "reconcile_message"
