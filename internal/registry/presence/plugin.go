package presence

import (
	"context"
	"fmt"
)

// Tracker remembers a user's live connection, its session, and the connection it
// replaced so a reconnecting client can resume state. Entries expire on their own;
// nothing scans for stale ones.
type Tracker interface {
	Available() bool
	// TrackConnection records connectionID as current and starts a fresh session.
	TrackConnection(ctx context.Context, userID, connectionID string) (sessionID string, err error)
	// MarkReconnected moves the current connection id to the previous slot, then
	// installs newConnectionID. The session survives the reconnect.
	MarkReconnected(ctx context.Context, userID, newConnectionID string) error
	GetConnectionID(ctx context.Context, userID string) (string, error)
	GetPreviousConnectionID(ctx context.Context, userID string) (string, error)
	GetSessionID(ctx context.Context, userID string) (string, error)
	// ClearReconnectionState drops both slots, on explicit logout.
	ClearReconnectionState(ctx context.Context, userID string) error
}

// Loader creates a Tracker from config.
type Loader func(ctx context.Context) (Tracker, error)

// Plugin represents a presence tracker plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a presence tracker plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered presence plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named presence plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown presence tracker %q; valid: %v", name, Names())
}
