package noop

import (
	"context"

	"github.com/chirino/chat-service/internal/registry/fanout"
	"github.com/google/uuid"
)

func init() {
	fanout.Register(fanout.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (fanout.Publisher, error) {
			return noopPublisher{}, nil
		},
	})
}

// New returns a publisher that drops every event.
func New() fanout.Publisher { return noopPublisher{} }

type noopPublisher struct{}

func (noopPublisher) PublishToRoom(_ context.Context, _ uuid.UUID, _ fanout.Event) error { return nil }
func (noopPublisher) PublishToUser(_ context.Context, _ string, _ fanout.Event) error    { return nil }
func (noopPublisher) Close() error                                                      { return nil }
