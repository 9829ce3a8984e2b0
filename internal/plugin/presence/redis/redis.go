package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrypresence "github.com/chirino/chat-service/internal/registry/presence"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	currentKeyPrefix  = "presence:current:"
	previousKeyPrefix = "presence:previous:"

	defaultConnectionTTL = 30 * time.Minute
	defaultPreviousTTL   = 15 * time.Minute
)

func init() {
	registrypresence.Register(registrypresence.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context) (registrypresence.Tracker, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || strings.TrimSpace(cfg.RedisURL) == "" {
				return nil, fmt.Errorf("presence: redis enabled but CHAT_SERVICE_REDIS_URL is not set")
			}
			opts, err := goredis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("presence: invalid redis url: %w", err)
			}
			client := goredis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("presence: redis ping failed: %w", err)
			}
			return New(client, cfg.ConnectionTTL, cfg.PreviousConnectionTTL), nil
		},
	})
}

// Tracker keeps presence in one hash per user (connectionId, sessionId) plus a
// separate string for the previous connection id.
type Tracker struct {
	client      *goredis.Client
	ttl         time.Duration
	previousTTL time.Duration
}

// New returns a Tracker on client. Non-positive TTLs use 30m and 15m.
func New(client *goredis.Client, ttl, previousTTL time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = defaultConnectionTTL
	}
	if previousTTL <= 0 {
		previousTTL = defaultPreviousTTL
	}
	return &Tracker{client: client, ttl: ttl, previousTTL: previousTTL}
}

// reconnect: KEYS[1]=current hash, KEYS[2]=previous string;
// ARGV[1]=new connection id, ARGV[2]=session id if none exists,
// ARGV[3]=previous ttl ms, ARGV[4]=current ttl ms.
var reconnect = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'connectionId')
if cur then
  redis.call('SET', KEYS[2], cur, 'PX', ARGV[3])
end
redis.call('HSET', KEYS[1], 'connectionId', ARGV[1])
redis.call('HSETNX', KEYS[1], 'sessionId', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

func currentKey(userID string) string  { return currentKeyPrefix + strings.TrimSpace(userID) }
func previousKey(userID string) string { return previousKeyPrefix + strings.TrimSpace(userID) }

func (t *Tracker) Available() bool { return true }

// Ping checks that Redis is reachable.
func (t *Tracker) Ping(ctx context.Context) error { return t.client.Ping(ctx).Err() }

func (t *Tracker) TrackConnection(ctx context.Context, userID, connectionID string) (string, error) {
	sessionID := uuid.NewString()
	key := currentKey(userID)
	_, err := t.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, "connectionId", connectionID, "sessionId", sessionID)
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("presence: track connection: %w", err)
	}
	return sessionID, nil
}

func (t *Tracker) MarkReconnected(ctx context.Context, userID, newConnectionID string) error {
	err := reconnect.Run(ctx, t.client,
		[]string{currentKey(userID), previousKey(userID)},
		newConnectionID, uuid.NewString(), t.previousTTL.Milliseconds(), t.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("presence: mark reconnected: %w", err)
	}
	return nil
}

func (t *Tracker) field(ctx context.Context, userID, name string) (string, error) {
	v, err := t.client.HGet(ctx, currentKey(userID), name).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return v, err
}

func (t *Tracker) GetConnectionID(ctx context.Context, userID string) (string, error) {
	return t.field(ctx, userID, "connectionId")
}

func (t *Tracker) GetSessionID(ctx context.Context, userID string) (string, error) {
	return t.field(ctx, userID, "sessionId")
}

func (t *Tracker) GetPreviousConnectionID(ctx context.Context, userID string) (string, error) {
	v, err := t.client.Get(ctx, previousKey(userID)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return v, err
}

func (t *Tracker) ClearReconnectionState(ctx context.Context, userID string) error {
	return t.client.Del(ctx, currentKey(userID), previousKey(userID)).Err()
}

var _ registrypresence.Tracker = (*Tracker)(nil)
