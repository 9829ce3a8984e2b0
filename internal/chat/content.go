package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

const ellipsis = "..."

// normalizeContent trims surrounding whitespace and enforces the length limit,
// counted in code points.
func (s *Service) normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &registrystore.ValidationError{Field: "content", Message: "must not be empty"}
	}
	if n := utf8.RuneCountInString(content); n > s.cfg.MaxMessageLength {
		return "", &registrystore.ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("must be at most %d characters, got %d", s.cfg.MaxMessageLength, n),
		}
	}
	return content, nil
}

// truncate cuts content to max code points, appending an ellipsis when it was cut.
func truncate(content string, max int) string {
	if max <= 0 || utf8.RuneCountInString(content) <= max {
		return content
	}
	runes := []rune(content)
	return string(runes[:max]) + ellipsis
}

func (s *Service) preview(content string) string {
	return truncate(content, s.cfg.PreviewLength)
}

// senderName is the display label used in reply previews.
func senderName(snap model.SenderSnapshot) string {
	if snap.DisplayName != "" {
		return snap.DisplayName
	}
	if snap.Username != "" {
		return snap.Username
	}
	return snap.UserID
}

// EncodeCursor renders the page boundary after m as "<unixMillis>:<messageId>".
func EncodeCursor(m model.Message) string {
	return strconv.FormatInt(m.SentAt.UnixMilli(), 10) + ":" + m.ID.String()
}

// ParseCursor reads a cursor produced by EncodeCursor. A bare millisecond timestamp
// is also accepted and means "strictly older than that instant". An empty cursor is nil.
func ParseCursor(raw string) (*model.MessageCursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	millis, id, hasID := strings.Cut(raw, ":")
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return nil, &registrystore.ValidationError{Field: "cursor", Message: "invalid cursor"}
	}
	c := &model.MessageCursor{SentAt: time.UnixMilli(ms).UTC()}
	if hasID {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, &registrystore.ValidationError{Field: "cursor", Message: "invalid cursor"}
		}
		c.ID = parsed
	}
	return c, nil
}
