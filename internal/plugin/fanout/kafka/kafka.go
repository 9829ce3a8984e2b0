// Package kafka publishes real-time events to a Kafka topic keyed by channel, so
// every event for one room or user lands on the same partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

func init() {
	registryfanout.Register(registryfanout.Plugin{
		Name: "kafka",
		Loader: func(ctx context.Context) (registryfanout.Publisher, error) {
			cfg := config.FromContext(ctx)
			brokers := cfg.KafkaBrokerList()
			if len(brokers) == 0 {
				return nil, fmt.Errorf("kafka fanout: CHAT_SERVICE_KAFKA_BROKERS is required")
			}
			if cfg.KafkaTopic == "" {
				return nil, fmt.Errorf("kafka fanout: CHAT_SERVICE_KAFKA_TOPIC is required")
			}
			return New(&kafkago.Writer{
				Addr:         kafkago.TCP(brokers...),
				Topic:        cfg.KafkaTopic,
				Balancer:     &kafkago.Hash{},
				RequiredAcks: kafkago.RequireOne,
				BatchTimeout: 10 * time.Millisecond,
			}), nil
		},
	})
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes one Kafka message per delivery.
type Publisher struct {
	writer MessageWriter
}

// New returns a Publisher on writer.
func New(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) publish(ctx context.Context, channel string, event registryfanout.Event) error {
	data, err := json.Marshal(registryfanout.Delivery{Channel: channel, Event: event})
	if err != nil {
		return fmt.Errorf("kafka fanout: encode %s: %w", event.Type, err)
	}
	msg := kafkago.Message{
		Key:   []byte(channel),
		Value: data,
		Time:  event.At,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka fanout: write %s: %w", event.Type, err)
	}
	return nil
}

func (p *Publisher) PublishToRoom(ctx context.Context, chatID uuid.UUID, event registryfanout.Event) error {
	return p.publish(ctx, registryfanout.RoomChannel(chatID), event)
}

func (p *Publisher) PublishToUser(ctx context.Context, userID string, event registryfanout.Event) error {
	return p.publish(ctx, registryfanout.UserChannel(userID), event)
}

func (p *Publisher) Close() error { return p.writer.Close() }

var _ registryfanout.Publisher = (*Publisher)(nil)
