package noop

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/registry/cache"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ChatCache, error) {
			return &noopChatCache{}, nil
		},
	})
}

// New returns a cache that stores nothing; every read is a miss.
func New() cache.ChatCache { return &noopChatCache{} }

type noopChatCache struct{}

func (n *noopChatCache) Available() bool { return false }
func (n *noopChatCache) ChatIndex(_ context.Context, _ string) ([]cache.ChatScore, bool, error) {
	return nil, false, nil
}
func (n *noopChatCache) StoreChatIndex(_ context.Context, _ string, _ []cache.ChatScore) error {
	return nil
}
func (n *noopChatCache) TouchChat(_ context.Context, _ uuid.UUID, _ time.Time, _ []string) error {
	return nil
}
func (n *noopChatCache) RemoveChat(_ context.Context, _ string, _ uuid.UUID) error { return nil }
func (n *noopChatCache) InvalidateChatIndex(_ context.Context, _ string) error    { return nil }
func (n *noopChatCache) LastMessage(_ context.Context, _ uuid.UUID) (*cache.LastMessage, error) {
	return nil, nil
}
func (n *noopChatCache) SetLastMessage(_ context.Context, _ uuid.UUID, _ cache.LastMessage) error {
	return nil
}
func (n *noopChatCache) ClearLastMessage(_ context.Context, _ uuid.UUID) error { return nil }
func (n *noopChatCache) UnreadCounts(_ context.Context, _ string, _ []uuid.UUID) (map[uuid.UUID]int64, error) {
	return map[uuid.UUID]int64{}, nil
}
func (n *noopChatCache) IncrUnread(_ context.Context, _ uuid.UUID, _ []string) error { return nil }
func (n *noopChatCache) SetUnread(_ context.Context, _ uuid.UUID, _ string, _ int64) error {
	return nil
}

var _ cache.ChatCache = (*noopChatCache)(nil)
