package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ChatCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_SERVICE_REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return New(client, TTLs{
		ChatIndex:   cfg.ChatIndexTTL,
		LastMessage: cfg.LastMessageTTL,
		Unread:      cfg.UnreadCounterTTL,
	}), nil
}

// TTLs bounds the lifetime of each cached structure. Zero values use 24h.
type TTLs struct {
	ChatIndex   time.Duration
	LastMessage time.Duration
	Unread      time.Duration
}

// New returns a ChatCache on an existing client.
func New(client *goredis.Client, ttls TTLs) *ChatCache {
	for _, ttl := range []*time.Duration{&ttls.ChatIndex, &ttls.LastMessage, &ttls.Unread} {
		if *ttl <= 0 {
			*ttl = defaultTTL
		}
	}
	return &ChatCache{client: client, ttls: ttls}
}

// ChatCache keeps chat-order sorted sets, last-message hashes and unread counters in Redis.
type ChatCache struct {
	client *goredis.Client
	ttls   TTLs
}

// zaddIfExists moves ARGV[2] to score ARGV[1] in every existing sorted set in KEYS.
var zaddIfExists = goredis.NewScript(`
for _, key in ipairs(KEYS) do
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', key, ARGV[1], ARGV[2])
  end
end
return 0
`)

// incrIfExists increments every existing counter in KEYS.
var incrIfExists = goredis.NewScript(`
for _, key in ipairs(KEYS) do
  if redis.call('EXISTS', key) == 1 then
    redis.call('INCR', key)
  end
end
return 0
`)

func indexKey(userID string) string { return "chat:index:" + userID }

func lastMessageKey(chatID uuid.UUID) string { return "chat:last:" + chatID.String() }

func unreadKey(chatID uuid.UUID, userID string) string {
	return "chat:unread:" + chatID.String() + ":" + userID
}

func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &registrystore.TransientCacheError{Op: op, Cause: err}
}

func (c *ChatCache) Available() bool { return true }

// Ping checks that Redis is reachable.
func (c *ChatCache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *ChatCache) ChatIndex(ctx context.Context, userID string) ([]registrycache.ChatScore, bool, error) {
	key := indexKey(userID)
	pipe := c.client.Pipeline()
	exists := pipe.Exists(ctx, key)
	entries := pipe.ZRevRangeWithScores(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		security.CountCacheLookup("chat_index", "error")
		return nil, false, transient("chat index", err)
	}
	if exists.Val() == 0 {
		security.CountCacheLookup("chat_index", "miss")
		return nil, false, nil
	}
	security.CountCacheLookup("chat_index", "hit")

	out := make([]registrycache.ChatScore, 0, len(entries.Val()))
	for _, z := range entries.Val() {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		out = append(out, registrycache.ChatScore{ChatID: id, LastActivity: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return out, true, nil
}

func (c *ChatCache) StoreChatIndex(ctx context.Context, userID string, entries []registrycache.ChatScore) error {
	key := indexKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(entries) == 0 {
			return nil
		}
		members := make([]goredis.Z, len(entries))
		for i, e := range entries {
			members[i] = goredis.Z{Score: float64(e.LastActivity.UnixMilli()), Member: e.ChatID.String()}
		}
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, c.ttls.ChatIndex)
		return nil
	})
	return transient("store chat index", err)
}

func (c *ChatCache) TouchChat(ctx context.Context, chatID uuid.UUID, lastActivity time.Time, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, u := range userIDs {
		keys[i] = indexKey(u)
	}
	err := zaddIfExists.Run(ctx, c.client, keys, lastActivity.UnixMilli(), chatID.String()).Err()
	return transient("touch chat", err)
}

func (c *ChatCache) RemoveChat(ctx context.Context, userID string, chatID uuid.UUID) error {
	return transient("remove chat", c.client.ZRem(ctx, indexKey(userID), chatID.String()).Err())
}

func (c *ChatCache) InvalidateChatIndex(ctx context.Context, userID string) error {
	return transient("invalidate chat index", c.client.Del(ctx, indexKey(userID)).Err())
}

func (c *ChatCache) LastMessage(ctx context.Context, chatID uuid.UUID) (*registrycache.LastMessage, error) {
	res := c.client.HGetAll(ctx, lastMessageKey(chatID))
	if err := res.Err(); err != nil {
		security.CountCacheLookup("last_message", "error")
		return nil, transient("last message", err)
	}
	if len(res.Val()) == 0 {
		security.CountCacheLookup("last_message", "miss")
		return nil, nil
	}
	var msg registrycache.LastMessage
	if err := res.Scan(&msg); err != nil {
		security.CountCacheLookup("last_message", "error")
		return nil, transient("last message", err)
	}
	security.CountCacheLookup("last_message", "hit")
	return &msg, nil
}

func (c *ChatCache) SetLastMessage(ctx context.Context, chatID uuid.UUID, msg registrycache.LastMessage) error {
	key := lastMessageKey(chatID)
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, msg)
		pipe.Expire(ctx, key, c.ttls.LastMessage)
		return nil
	})
	return transient("set last message", err)
}

func (c *ChatCache) ClearLastMessage(ctx context.Context, chatID uuid.UUID) error {
	return transient("clear last message", c.client.Del(ctx, lastMessageKey(chatID)).Err())
}

func (c *ChatCache) UnreadCounts(ctx context.Context, userID string, chatIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(chatIDs))
	for i, id := range chatIDs {
		keys[i] = unreadKey(id, userID)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		security.CountCacheLookup("unread", "error")
		return nil, transient("unread counts", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			security.CountCacheLookup("unread", "miss")
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		security.CountCacheLookup("unread", "hit")
		out[chatIDs[i]] = n
	}
	return out, nil
}

func (c *ChatCache) IncrUnread(ctx context.Context, chatID uuid.UUID, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, u := range userIDs {
		keys[i] = unreadKey(chatID, u)
	}
	return transient("incr unread", incrIfExists.Run(ctx, c.client, keys).Err())
}

func (c *ChatCache) SetUnread(ctx context.Context, chatID uuid.UUID, userID string, count int64) error {
	return transient("set unread", c.client.Set(ctx, unreadKey(chatID, userID), count, c.ttls.Unread).Err())
}

var _ registrycache.ChatCache = (*ChatCache)(nil)
