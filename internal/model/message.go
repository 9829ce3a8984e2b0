package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessagePhoto   MessageType = "photo"
	MessageVideo   MessageType = "video"
	MessageSticker MessageType = "sticker"
	MessageMusic   MessageType = "music"
	MessageFile    MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessagePhoto, MessageVideo, MessageSticker, MessageMusic, MessageFile:
		return true
	}
	return false
}

// SenderSnapshot is the sender profile captured when the message was sent.
type SenderSnapshot struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Message is a message document. SentAt never changes once written.
type Message struct {
	ID                uuid.UUID           `json:"id"`
	ChatID            uuid.UUID           `json:"chatId"`
	Sender            SenderSnapshot      `json:"sender"`
	Content           string              `json:"content"`
	Type              MessageType         `json:"type"`
	SentAt            time.Time           `json:"sentAt"`
	EditedAt          *time.Time          `json:"editedAt,omitempty"`
	IsDeleted         bool                `json:"isDeleted"`
	ReadBy            []string            `json:"readBy"`
	Reactions         map[string][]string `json:"reactions"`
	ReplyToMessageID  *uuid.UUID          `json:"replyToMessageId,omitempty"`
	ReplyToSenderName *string             `json:"replyToSenderName,omitempty"`
	ReplyToContent    *string             `json:"replyToContent,omitempty"`
}

// ReplyPreview is the batch-resolved preview of a replied-to message.
type ReplyPreview struct {
	MessageID  uuid.UUID `json:"messageId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
}

// MessageCursor is the (sentAt, id) position of a message in a room's timeline.
type MessageCursor struct {
	SentAt time.Time
	ID     uuid.UUID
}
