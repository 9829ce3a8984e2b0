// Package memory is an in-process chat cache for single-node deployments. It keeps
// the same contract as the redis plugin: conditional writes only touch entries that
// exist, and an evicted entry is just a miss.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/chirino/chat-service/internal/security"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

const (
	defaultTTL = 24 * time.Hour
	// maxEntries bounds the cache; every entry costs 1.
	maxEntries = 1 << 20
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrycache.ChatCache, error) {
			ttls := TTLs{}
			if cfg := config.FromContext(ctx); cfg != nil {
				ttls = TTLs{ChatIndex: cfg.ChatIndexTTL, LastMessage: cfg.LastMessageTTL, Unread: cfg.UnreadCounterTTL}
			}
			return New(ttls)
		},
	})
}

// TTLs bounds the lifetime of each cached structure. Zero values use 24h.
type TTLs struct {
	ChatIndex   time.Duration
	LastMessage time.Duration
	Unread      time.Duration
}

// ChatCache stores chat indexes, last messages and unread counters in a ristretto cache.
// mu serializes read-modify-write sequences; ristretto itself has no compare-and-set.
type ChatCache struct {
	mu    sync.Mutex
	store *ristretto.Cache[string, any]
	ttls  TTLs
}

// New builds an empty cache.
func New(ttls TTLs) (*ChatCache, error) {
	for _, ttl := range []*time.Duration{&ttls.ChatIndex, &ttls.LastMessage, &ttls.Unread} {
		if *ttl <= 0 {
			*ttl = defaultTTL
		}
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &ChatCache{store: store, ttls: ttls}, nil
}

// Close releases the cache's background goroutines.
func (c *ChatCache) Close() { c.store.Close() }

func indexKey(userID string) string { return "index:" + userID }

func lastMessageKey(chatID uuid.UUID) string { return "last:" + chatID.String() }

func unreadKey(chatID uuid.UUID, userID string) string {
	return "unread:" + chatID.String() + ":" + userID
}

// set writes through the buffers so the value is visible to the next Get.
func (c *ChatCache) set(key string, value any, ttl time.Duration) {
	c.store.SetWithTTL(key, value, 1, ttl)
	c.store.Wait()
}

// replace overwrites an existing entry while keeping its remaining lifetime.
func (c *ChatCache) replace(key string, value any, fallback time.Duration) {
	ttl, ok := c.store.GetTTL(key)
	if !ok || ttl <= 0 {
		ttl = fallback
	}
	c.set(key, value, ttl)
}

func (c *ChatCache) Available() bool { return true }

func (c *ChatCache) ChatIndex(_ context.Context, userID string) ([]registrycache.ChatScore, bool, error) {
	v, ok := c.store.Get(indexKey(userID))
	if !ok {
		security.CountCacheLookup("chat_index", "miss")
		return nil, false, nil
	}
	security.CountCacheLookup("chat_index", "hit")
	return slices.Clone(v.([]registrycache.ChatScore)), true, nil
}

func (c *ChatCache) StoreChatIndex(_ context.Context, userID string, entries []registrycache.ChatScore) error {
	sorted := slices.Clone(entries)
	sortIndex(sorted)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(indexKey(userID), sorted, c.ttls.ChatIndex)
	return nil
}

func sortIndex(entries []registrycache.ChatScore) {
	slices.SortStableFunc(entries, func(a, b registrycache.ChatScore) int {
		return b.LastActivity.Compare(a.LastActivity)
	})
}

func (c *ChatCache) TouchChat(_ context.Context, chatID uuid.UUID, lastActivity time.Time, userIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range userIDs {
		key := indexKey(u)
		v, ok := c.store.Get(key)
		if !ok {
			continue
		}
		entries := slices.DeleteFunc(slices.Clone(v.([]registrycache.ChatScore)), func(e registrycache.ChatScore) bool {
			return e.ChatID == chatID
		})
		entries = append(entries, registrycache.ChatScore{ChatID: chatID, LastActivity: lastActivity.UTC().Truncate(time.Millisecond)})
		sortIndex(entries)
		c.replace(key, entries, c.ttls.ChatIndex)
	}
	return nil
}

func (c *ChatCache) RemoveChat(_ context.Context, userID string, chatID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := indexKey(userID)
	v, ok := c.store.Get(key)
	if !ok {
		return nil
	}
	entries := slices.DeleteFunc(slices.Clone(v.([]registrycache.ChatScore)), func(e registrycache.ChatScore) bool {
		return e.ChatID == chatID
	})
	c.replace(key, entries, c.ttls.ChatIndex)
	return nil
}

func (c *ChatCache) InvalidateChatIndex(_ context.Context, userID string) error {
	c.store.Del(indexKey(userID))
	return nil
}

func (c *ChatCache) LastMessage(_ context.Context, chatID uuid.UUID) (*registrycache.LastMessage, error) {
	v, ok := c.store.Get(lastMessageKey(chatID))
	if !ok {
		security.CountCacheLookup("last_message", "miss")
		return nil, nil
	}
	security.CountCacheLookup("last_message", "hit")
	msg := v.(registrycache.LastMessage)
	return &msg, nil
}

func (c *ChatCache) SetLastMessage(_ context.Context, chatID uuid.UUID, msg registrycache.LastMessage) error {
	c.set(lastMessageKey(chatID), msg, c.ttls.LastMessage)
	return nil
}

func (c *ChatCache) ClearLastMessage(_ context.Context, chatID uuid.UUID) error {
	c.store.Del(lastMessageKey(chatID))
	return nil
}

func (c *ChatCache) UnreadCounts(_ context.Context, userID string, chatIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(chatIDs))
	for _, id := range chatIDs {
		v, ok := c.store.Get(unreadKey(id, userID))
		if !ok {
			security.CountCacheLookup("unread", "miss")
			continue
		}
		security.CountCacheLookup("unread", "hit")
		out[id] = v.(int64)
	}
	return out, nil
}

func (c *ChatCache) IncrUnread(_ context.Context, chatID uuid.UUID, userIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range userIDs {
		key := unreadKey(chatID, u)
		v, ok := c.store.Get(key)
		if !ok {
			continue
		}
		c.replace(key, v.(int64)+1, c.ttls.Unread)
	}
	return nil
}

func (c *ChatCache) SetUnread(_ context.Context, chatID uuid.UUID, userID string, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(unreadKey(chatID, userID), count, c.ttls.Unread)
	return nil
}

var _ registrycache.ChatCache = (*ChatCache)(nil)
