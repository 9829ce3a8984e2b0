// Package redis publishes real-time events over Redis pub/sub. Gateways subscribe
// to room:<id> and user:<id> channels.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chirino/chat-service/internal/config"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registryfanout.Register(registryfanout.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context) (registryfanout.Publisher, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || strings.TrimSpace(cfg.RedisURL) == "" {
				return nil, fmt.Errorf("redis fanout: CHAT_SERVICE_REDIS_URL is required")
			}
			opts, err := goredis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("redis fanout: invalid URL: %w", err)
			}
			client := goredis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("redis fanout: ping failed: %w", err)
			}
			return New(client), nil
		},
	})
}

// Publisher publishes JSON deliveries with PUBLISH.
type Publisher struct {
	client *goredis.Client
}

// New returns a Publisher on client.
func New(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) publish(ctx context.Context, channel string, event registryfanout.Event) error {
	data, err := json.Marshal(registryfanout.Delivery{Channel: channel, Event: event})
	if err != nil {
		return fmt.Errorf("redis fanout: encode %s: %w", event.Type, err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis fanout: publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *Publisher) PublishToRoom(ctx context.Context, chatID uuid.UUID, event registryfanout.Event) error {
	return p.publish(ctx, registryfanout.RoomChannel(chatID), event)
}

func (p *Publisher) PublishToUser(ctx context.Context, userID string, event registryfanout.Event) error {
	return p.publish(ctx, registryfanout.UserChannel(userID), event)
}

func (p *Publisher) Close() error { return p.client.Close() }

var _ registryfanout.Publisher = (*Publisher)(nil)
