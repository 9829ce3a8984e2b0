package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// ListQuery selects one page of a room's timeline, newest first.
type ListQuery struct {
	ChatID uuid.UUID
	// After excludes messages at or before this instant (the caller's clear-history boundary).
	After *time.Time
	// Before excludes messages at or after this (sentAt, id) position.
	Before *model.MessageCursor
	Limit  int
}

// MessageStore persists message documents.
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, messageID uuid.UUID) (*model.Message, error)
	GetMany(ctx context.Context, messageIDs []uuid.UUID) ([]model.Message, error)
	UpdateContent(ctx context.Context, messageID uuid.UUID, content string, editedAt time.Time) error
	// Delete removes the document and reports whether it existed.
	Delete(ctx context.Context, messageID uuid.UUID) (bool, error)
	// ClearReplyReferences scrubs reply previews pointing at messageID and returns
	// the ids of the messages that referenced it.
	ClearReplyReferences(ctx context.Context, chatID, messageID uuid.UUID) ([]uuid.UUID, error)
	List(ctx context.Context, q ListQuery) ([]model.Message, error)
	// Latest returns the newest surviving message of the room, or nil.
	Latest(ctx context.Context, chatID uuid.UUID, after *time.Time) (*model.Message, error)
	// MarkRead adds userID to readBy of every message sent by someone else at or
	// before until, returning how many documents changed.
	MarkRead(ctx context.Context, chatID uuid.UUID, userID string, until time.Time) (int64, error)
	CountUnread(ctx context.Context, chatID uuid.UUID, userID string, after *time.Time) (int64, error)
	Search(ctx context.Context, chatID uuid.UUID, query string, after *time.Time, limit int) ([]model.Message, error)
	AddReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) error
	RemoveReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) error
}

// Loader creates a MessageStore from config.
type Loader func(ctx context.Context) (MessageStore, error)

// Plugin represents a document store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a document store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered document store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named document store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown document store %q; valid: %v", name, Names())
}
