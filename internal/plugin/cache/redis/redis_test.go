package redis_test

import (
	"context"
	"testing"
	"time"

	rediscache "github.com/chirino/chat-service/internal/plugin/cache/redis"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/chirino/chat-service/internal/testutil/testredis"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *rediscache.ChatCache {
	t.Helper()
	opts, err := goredis.ParseURL(testredis.StartRedis(t))
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.New(client, rediscache.TTLs{})
}

func TestChatIndex(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, found, err := c.ChatIndex(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	// Touching a missing index must not create a partial one.
	require.NoError(t, c.TouchChat(ctx, a, now, []string{"alice"}))
	_, found, err = c.ChatIndex(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.StoreChatIndex(ctx, "alice", []registrycache.ChatScore{
		{ChatID: a, LastActivity: now.Add(-time.Hour)},
		{ChatID: b, LastActivity: now.Add(-time.Minute)},
	}))
	entries, found, err := c.ChatIndex(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, entries, 2)
	assert.Equal(t, b, entries[0].ChatID)

	require.NoError(t, c.TouchChat(ctx, a, now, []string{"alice", "bob"}))
	entries, _, err = c.ChatIndex(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a, entries[0].ChatID)
	assert.True(t, entries[0].LastActivity.Equal(now))

	_, found, err = c.ChatIndex(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.RemoveChat(ctx, "alice", a))
	entries, _, err = c.ChatIndex(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b, entries[0].ChatID)

	require.NoError(t, c.InvalidateChatIndex(ctx, "alice"))
	_, found, err = c.ChatIndex(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLastMessage(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	chatID := uuid.New()

	got, err := c.LastMessage(ctx, chatID)
	require.NoError(t, err)
	assert.Nil(t, got)

	msg := registrycache.LastMessage{
		MessageID:  uuid.NewString(),
		SenderID:   "alice",
		SenderName: "Alice",
		Content:    "hi",
		Type:       "text",
		SentAt:     time.Now().UnixMilli(),
	}
	require.NoError(t, c.SetLastMessage(ctx, chatID, msg))
	got, err = c.LastMessage(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg, *got)

	require.NoError(t, c.ClearLastMessage(ctx, chatID))
	got, err = c.LastMessage(ctx, chatID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnreadCounters(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	chatA, chatB := uuid.New(), uuid.New()

	require.NoError(t, c.IncrUnread(ctx, chatA, []string{"alice"}))
	counts, err := c.UnreadCounts(ctx, "alice", []uuid.UUID{chatA, chatB})
	require.NoError(t, err)
	assert.Empty(t, counts)

	require.NoError(t, c.SetUnread(ctx, chatA, "alice", 0))
	require.NoError(t, c.IncrUnread(ctx, chatA, []string{"alice", "bob"}))
	require.NoError(t, c.IncrUnread(ctx, chatA, []string{"alice"}))

	counts, err = c.UnreadCounts(ctx, "alice", []uuid.UUID{chatA, chatB})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int64{chatA: 2}, counts)

	counts, err = c.UnreadCounts(ctx, "bob", []uuid.UUID{chatA})
	require.NoError(t, err)
	assert.Empty(t, counts)
}
