package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to connected clients.
const (
	EventMessageCreated  = "message.created"
	EventMessageEdited   = "message.edited"
	EventMessageDeleted  = "message.deleted"
	EventMessageReaction = "message.reaction"
	EventMessagesRead    = "messages.read"
	EventMemberJoined    = "member.joined"
	EventMemberLeft      = "member.left"
	EventMemberUpdated   = "member.updated"
	EventRoomUpdated     = "room.updated"
	EventRoomInvited     = "room.invited"
	EventChatRestored    = "chat.restored"
	EventContactRequest  = "contact.request"
	EventContactAccepted = "contact.accepted"
	EventContactRemoved  = "contact.removed"
)

// Event is the envelope delivered on a room or user channel.
type Event struct {
	Type    string     `json:"type"`
	ChatID  *uuid.UUID `json:"chatId,omitempty"`
	Payload any        `json:"payload,omitempty"`
	At      time.Time  `json:"at"`
}

// Delivery is the wire form of an event published on a channel.
type Delivery struct {
	Channel string `json:"channel"`
	Event
}

// Publisher is the real-time push channel. Delivery is best-effort.
type Publisher interface {
	PublishToRoom(ctx context.Context, chatID uuid.UUID, event Event) error
	PublishToUser(ctx context.Context, userID string, event Event) error
	Close() error
}

// RoomChannel is the group address of a room.
func RoomChannel(chatID uuid.UUID) string { return "room:" + chatID.String() }

// UserChannel is the direct address of a user.
func UserChannel(userID string) string { return "user:" + userID }

// Loader creates a publisher from config.
type Loader func(ctx context.Context) (Publisher, error)

// Plugin represents a fan-out plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a fan-out plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered fan-out plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named fan-out plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown fan-out %q; valid: %v", name, Names())
}
