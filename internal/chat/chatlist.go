package chat

import (
	"context"
	"sort"
	"time"

	"github.com/chirino/chat-service/internal/access"
	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/google/uuid"
)

// ChatSummary is one row of a user's chat list.
type ChatSummary struct {
	Room           model.ChatRoom             `json:"room"`
	Role           model.MemberRole           `json:"role"`
	IsPending      bool                       `json:"isPending"`
	IsPinned       bool                       `json:"isPinned"`
	PinnedAt       *time.Time                 `json:"pinnedAt,omitempty"`
	PeerID         *string                    `json:"peerId,omitempty"`
	LastActivityAt time.Time                  `json:"lastActivityAt"`
	LastMessage    *registrycache.LastMessage `json:"lastMessage,omitempty"`
	UnreadCount    int64                      `json:"unreadCount"`
}

// GetUserChats lists the user's rooms (active and pending), pinned first, then most
// recent activity first. A cached chat index names the rooms and their order, so
// only those rooms are loaded; a missing index is rebuilt from a full membership
// scan. Missing unread counters and last-message snapshots are recomputed from the
// document store.
func (s *Service) GetUserChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	rows, scores, err := s.indexedMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	var activeIDs, directIDs []uuid.UUID
	for _, r := range rows {
		if access.IsActive(&r.Member) {
			activeIDs = append(activeIDs, r.Room.ID)
		}
		if r.Room.Type == model.RoomTypeDirectMessage {
			directIDs = append(directIDs, r.Room.ID)
		}
	}
	unread, err := s.cache.UnreadCounts(ctx, userID, activeIDs)
	cacheWarn("unread counts", err)
	peers, err := s.store.ListDirectPeers(ctx, userID, directIDs)
	if err != nil {
		return nil, err
	}

	out := make([]ChatSummary, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		cs := ChatSummary{
			Room:           r.Room,
			Role:           r.Member.Role,
			IsPending:      r.Member.IsPending,
			IsPinned:       r.Member.IsPinned,
			PinnedAt:       r.Member.PinnedAt,
			LastActivityAt: scores[r.Room.ID],
		}
		if peer, ok := peers[r.Room.ID]; ok {
			cs.PeerID = &peer
		}
		if access.IsActive(&r.Member) {
			cs.LastMessage = s.lastMessage(ctx, r.Room.ID, access.VisibleAfter(&r.Member))
			if n, ok := unread[r.Room.ID]; ok {
				cs.UnreadCount = n
			} else {
				cs.UnreadCount = s.refreshUnread(ctx, r.Room.ID, &r.Member)
			}
		}
		out = append(out, cs)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.IsPinned && a.PinnedAt != nil && b.PinnedAt != nil && !a.PinnedAt.Equal(*b.PinnedAt) {
			return a.PinnedAt.After(*b.PinnedAt)
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.Room.ID.String() < b.Room.ID.String()
	})
	return out, nil
}

// indexedMemberships returns the user's memberships with their ordering scores.
// On an index hit only the indexed rooms are loaded and rooms the user no longer
// belongs to are dropped from the index; on a miss every membership is scanned
// and the index is rebuilt.
func (s *Service) indexedMemberships(ctx context.Context, userID string) ([]model.MemberWithRoom, map[uuid.UUID]time.Time, error) {
	entries, found, err := s.cache.ChatIndex(ctx, userID)
	cacheWarn("chat index", err)

	if err == nil && found && len(entries) > 0 {
		scores := make(map[uuid.UUID]time.Time, len(entries))
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			scores[e.ChatID] = e.LastActivity
			ids = append(ids, e.ChatID)
		}
		rows, err := s.store.ListUserMembershipsIn(ctx, userID, ids)
		if err != nil {
			return nil, nil, err
		}
		if len(rows) != len(ids) {
			kept := make(map[uuid.UUID]bool, len(rows))
			for _, r := range rows {
				kept[r.Room.ID] = true
			}
			for _, id := range ids {
				if !kept[id] {
					cacheWarn("remove chat", s.cache.RemoveChat(ctx, userID, id))
				}
			}
		}
		return rows, scores, nil
	}

	rows, err := s.store.ListUserMemberships(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	rebuilt := make([]registrycache.ChatScore, 0, len(rows))
	scores := make(map[uuid.UUID]time.Time, len(rows))
	for _, r := range rows {
		rebuilt = append(rebuilt, registrycache.ChatScore{ChatID: r.Room.ID, LastActivity: r.Room.LastActivityAt})
		scores[r.Room.ID] = r.Room.LastActivityAt
	}
	if s.cache.Available() && len(rebuilt) > 0 {
		cacheWarn("store chat index", s.cache.StoreChatIndex(ctx, userID, rebuilt))
	}
	return rows, scores, nil
}

// lastMessage returns the room's newest message snapshot as visible after the
// caller's history boundary, repopulating the cache on a miss.
func (s *Service) lastMessage(ctx context.Context, chatID uuid.UUID, after *time.Time) *registrycache.LastMessage {
	cached, err := s.cache.LastMessage(ctx, chatID)
	cacheWarn("last message", err)
	if cached == nil {
		latest, err := s.docs.Latest(ctx, chatID, nil)
		if err != nil || latest == nil {
			return nil
		}
		lm := lastMessageOf(latest)
		cacheWarn("set last message", s.cache.SetLastMessage(ctx, chatID, lm))
		cached = &lm
	}
	if after != nil && time.UnixMilli(cached.SentAt).Compare(*after) <= 0 {
		return nil
	}
	return cached
}
