// Package chat is the message pipeline and the room, membership, chat-list and contact
// operations built on it. It coordinates the relational store (rooms, members,
// contacts), the document store (messages), the chat cache and the fan-out channel.
//
// Relational changes commit atomically. Everything after the commit (room summary,
// cache, ordering scores, unread counters, events) is best-effort: failures are logged
// and repaired later by recomputation or the reconciliation queue.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/access"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrydocstore "github.com/chirino/chat-service/internal/registry/docstore"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Service implements the chat operations.
type Service struct {
	store  registrystore.ChatStore
	docs   registrydocstore.MessageStore
	cache  registrycache.ChatCache
	fanout registryfanout.Publisher
	cfg    *config.Config
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service. cfg may be nil, in which case defaults apply.
func New(store registrystore.ChatStore, docs registrydocstore.MessageStore, cache registrycache.ChatCache, fanout registryfanout.Publisher, cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	s := &Service{store: store, docs: docs, cache: cache, fanout: fanout, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current instant at the millisecond precision the document store keeps.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// member loads a room and the caller's membership. A missing room is NotFound; a
// missing membership is Forbidden so room existence does not leak.
func (s *Service) member(ctx context.Context, store registrystore.ChatStore, chatID uuid.UUID, userID string) (*model.ChatRoom, *model.ChatRoomMember, error) {
	room, err := store.GetRoom(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	m, err := store.GetMember(ctx, chatID, userID)
	var nf *registrystore.NotFoundError
	if errors.As(err, &nf) {
		return room, nil, &registrystore.ForbiddenError{}
	}
	if err != nil {
		return nil, nil, err
	}
	return room, m, nil
}

// activeMember is member() restricted to accepted, non-deleted memberships.
func (s *Service) activeMember(ctx context.Context, store registrystore.ChatStore, chatID uuid.UUID, userID string) (*model.ChatRoom, *model.ChatRoomMember, error) {
	room, m, err := s.member(ctx, store, chatID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !access.IsActive(m) {
		return nil, nil, &registrystore.ForbiddenError{}
	}
	return room, m, nil
}

func (s *Service) subject(ctx context.Context, store registrystore.ChatStore, room *model.ChatRoom, m *model.ChatRoomMember) (access.Subject, error) {
	override, err := store.GetOverride(ctx, m.ID)
	if err != nil {
		return access.Subject{}, err
	}
	return access.SubjectFor(room, m, override), nil
}

// require fails with ForbiddenError unless m holds c in room.
func (s *Service) require(ctx context.Context, store registrystore.ChatStore, room *model.ChatRoom, m *model.ChatRoomMember, c access.Capability) error {
	subj, err := s.subject(ctx, store, room, m)
	if err != nil {
		return err
	}
	if !access.Resolve(subj, c) {
		return &registrystore.ForbiddenError{Capability: string(c)}
	}
	return nil
}

// transition converts a membership state-machine refusal into a ConflictError.
func transition(err error) error {
	var te *access.TransitionError
	if errors.As(err, &te) {
		return &registrystore.ConflictError{
			Message: te.Error(),
			Code:    "invalid_membership_state",
			Details: map[string]interface{}{"state": string(te.From)},
		}
	}
	return err
}

// currentMemberIDs returns the user ids of non-deleted members (active and pending).
func currentMemberIDs(members []model.ChatRoomMember) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if !m.IsDeleted {
			out = append(out, m.UserID)
		}
	}
	return out
}

// cacheWarn logs a swallowed cache failure.
func cacheWarn(op string, err error) {
	if err != nil {
		log.Warn("Chat cache update failed", "op", op, "err", err)
	}
}

func (s *Service) event(eventType string, chatID *uuid.UUID, payload any) registryfanout.Event {
	return registryfanout.Event{Type: eventType, ChatID: chatID, Payload: payload, At: s.clock()}
}

func (s *Service) publishRoom(ctx context.Context, chatID uuid.UUID, eventType string, payload any) {
	if err := s.fanout.PublishToRoom(ctx, chatID, s.event(eventType, &chatID, payload)); err != nil {
		security.CountFanoutFailure("room")
		log.Warn("Fan-out to room failed", "chatId", chatID, "type", eventType, "err", err)
	}
}

func (s *Service) publishUser(ctx context.Context, userID string, chatID *uuid.UUID, eventType string, payload any) {
	if err := s.fanout.PublishToUser(ctx, userID, s.event(eventType, chatID, payload)); err != nil {
		security.CountFanoutFailure("user")
		log.Warn("Fan-out to user failed", "userId", userID, "type", eventType, "err", err)
	}
}
