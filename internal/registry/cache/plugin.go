package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChatScore is one entry of a user's chat-order index.
type ChatScore struct {
	ChatID       uuid.UUID
	LastActivity time.Time
}

// LastMessage is the cached snapshot of a room's newest message. Instants are
// unix milliseconds; EditedAt is 0 for a message that was never edited.
type LastMessage struct {
	MessageID  string `redis:"messageId" json:"messageId"`
	SenderID   string `redis:"senderId" json:"senderId"`
	SenderName string `redis:"senderName" json:"senderName"`
	Content    string `redis:"content" json:"content"`
	Type       string `redis:"type" json:"type"`
	SentAt     int64  `redis:"sentAt" json:"sentAt"`
	EditedAt   int64  `redis:"editedAt" json:"editedAt,omitempty"`
}

// ChatCache holds the rebuildable hot-path state: per-user chat order, per-room last
// message and per-user-per-room unread counters. Every write that could create a
// partial structure only applies to keys that already exist, so a missing key always
// means "recompute from the source of truth".
type ChatCache interface {
	Available() bool

	// ChatIndex returns the user's chats, most recent first. found is false on a miss.
	ChatIndex(ctx context.Context, userID string) (entries []ChatScore, found bool, err error)
	// StoreChatIndex replaces the user's index and applies the TTL.
	StoreChatIndex(ctx context.Context, userID string, entries []ChatScore) error
	// TouchChat moves chatID to lastActivity in the index of every listed user that has one.
	TouchChat(ctx context.Context, chatID uuid.UUID, lastActivity time.Time, userIDs []string) error
	RemoveChat(ctx context.Context, userID string, chatID uuid.UUID) error
	InvalidateChatIndex(ctx context.Context, userID string) error

	LastMessage(ctx context.Context, chatID uuid.UUID) (*LastMessage, error)
	SetLastMessage(ctx context.Context, chatID uuid.UUID, msg LastMessage) error
	ClearLastMessage(ctx context.Context, chatID uuid.UUID) error

	// UnreadCounts returns cached counters; chats without a counter are absent from the map.
	UnreadCounts(ctx context.Context, userID string, chatIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	// IncrUnread bumps existing counters of the listed users for chatID.
	IncrUnread(ctx context.Context, chatID uuid.UUID, userIDs []string) error
	SetUnread(ctx context.Context, chatID uuid.UUID, userID string, count int64) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (ChatCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
