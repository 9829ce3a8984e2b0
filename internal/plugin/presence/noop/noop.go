package noop

import (
	"context"

	"github.com/chirino/chat-service/internal/registry/presence"
	"github.com/google/uuid"
)

func init() {
	presence.Register(presence.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (presence.Tracker, error) {
			return noopTracker{}, nil
		},
	})
}

// New returns a tracker that is never Available.
func New() presence.Tracker { return noopTracker{} }

// noopTracker hands out session ids but remembers nothing.
type noopTracker struct{}

func (noopTracker) Available() bool { return false }

func (noopTracker) TrackConnection(_ context.Context, _, _ string) (string, error) {
	return uuid.NewString(), nil
}

func (noopTracker) MarkReconnected(_ context.Context, _, _ string) error { return nil }

func (noopTracker) GetConnectionID(_ context.Context, _ string) (string, error) { return "", nil }

func (noopTracker) GetPreviousConnectionID(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (noopTracker) GetSessionID(_ context.Context, _ string) (string, error) { return "", nil }

func (noopTracker) ClearReconnectionState(_ context.Context, _ string) error { return nil }
