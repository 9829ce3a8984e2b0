package chat_test

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrydocstore "github.com/chirino/chat-service/internal/registry/docstore"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// memDocs is an in-memory MessageStore with the same filtering and ordering rules
// as the MongoDB plugin.
type memDocs struct {
	mu        sync.RWMutex
	msgs      map[uuid.UUID]model.Message
	insertErr error
	deleteErr error
	clearErr  error
	// onInsert runs before a message is stored, outside the lock.
	onInsert func(msg *model.Message)
}

func newMemDocs() *memDocs {
	return &memDocs{msgs: map[uuid.UUID]model.Message{}}
}

func clone(m model.Message) model.Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	reactions := make(map[string][]string, len(m.Reactions))
	for k, v := range m.Reactions {
		if len(v) > 0 {
			reactions[k] = slices.Clone(v)
		}
	}
	m.Reactions = reactions
	return m
}

func (d *memDocs) Insert(_ context.Context, msg *model.Message) error {
	if d.onInsert != nil {
		d.onInsert(msg)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.insertErr != nil {
		return d.insertErr
	}
	if _, ok := d.msgs[msg.ID]; ok {
		return &registrystore.ConflictError{Message: "message already exists"}
	}
	d.msgs[msg.ID] = clone(*msg)
	return nil
}

func (d *memDocs) Get(_ context.Context, id uuid.UUID) (*model.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.msgs[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	c := clone(m)
	return &c, nil
}

func (d *memDocs) GetMany(_ context.Context, ids []uuid.UUID) ([]model.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.Message
	for _, id := range ids {
		if m, ok := d.msgs[id]; ok {
			out = append(out, clone(m))
		}
	}
	return out, nil
}

func (d *memDocs) UpdateContent(_ context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.msgs[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	m.Content = content
	m.EditedAt = &editedAt
	d.msgs[id] = m
	return nil
}

func (d *memDocs) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleteErr != nil {
		return false, d.deleteErr
	}
	_, ok := d.msgs[id]
	delete(d.msgs, id)
	return ok, nil
}

func (d *memDocs) ClearReplyReferences(_ context.Context, chatID, id uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clearErr != nil {
		return nil, d.clearErr
	}
	var out []uuid.UUID
	for mid, m := range d.msgs {
		if m.ChatID == chatID && m.ReplyToMessageID != nil && *m.ReplyToMessageID == id {
			m.ReplyToMessageID, m.ReplyToSenderName, m.ReplyToContent = nil, nil, nil
			d.msgs[mid] = m
			out = append(out, mid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (d *memDocs) visible(chatID uuid.UUID, after *time.Time) []model.Message {
	var out []model.Message
	for _, m := range d.msgs {
		if m.ChatID != chatID || m.IsDeleted {
			continue
		}
		if after != nil && !m.SentAt.After(*after) {
			continue
		}
		out = append(out, clone(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

func (d *memDocs) List(_ context.Context, q registrydocstore.ListQuery) ([]model.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.Message
	for _, m := range d.visible(q.ChatID, q.After) {
		if q.Before != nil {
			older := m.SentAt.Before(q.Before.SentAt) ||
				(m.SentAt.Equal(q.Before.SentAt) && m.ID.String() < q.Before.ID.String())
			if !older {
				continue
			}
		}
		out = append(out, m)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (d *memDocs) Latest(ctx context.Context, chatID uuid.UUID, after *time.Time) (*model.Message, error) {
	msgs, _ := d.List(ctx, registrydocstore.ListQuery{ChatID: chatID, After: after, Limit: 1})
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (d *memDocs) MarkRead(_ context.Context, chatID uuid.UUID, userID string, until time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for id, m := range d.msgs {
		if m.ChatID != chatID || m.IsDeleted || m.SentAt.After(until) || m.Sender.UserID == userID || slices.Contains(m.ReadBy, userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
		d.msgs[id] = m
		n++
	}
	return n, nil
}

func (d *memDocs) CountUnread(_ context.Context, chatID uuid.UUID, userID string, after *time.Time) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int64
	for _, m := range d.visible(chatID, after) {
		if m.Sender.UserID != userID && !slices.Contains(m.ReadBy, userID) {
			n++
		}
	}
	return n, nil
}

func (d *memDocs) Search(_ context.Context, chatID uuid.UUID, query string, after *time.Time, limit int) ([]model.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.Message
	for _, m := range d.visible(chatID, after) {
		if strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			out = append(out, m)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (d *memDocs) AddReaction(_ context.Context, id uuid.UUID, emoji, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.msgs[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	if !slices.Contains(m.Reactions[emoji], userID) {
		m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	}
	return nil
}

func (d *memDocs) RemoveReaction(_ context.Context, id uuid.UUID, emoji, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.msgs[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	m.Reactions[emoji] = slices.DeleteFunc(m.Reactions[emoji], func(u string) bool { return u == userID })
	return nil
}

// memCache mirrors the Redis plugin: conditional writes only touch existing keys.
type memCache struct {
	mu      sync.RWMutex
	indexes map[string]map[uuid.UUID]time.Time
	last    map[uuid.UUID]registrycache.LastMessage
	unread  map[string]int64
	fail    bool
}

func newMemCache() *memCache {
	return &memCache{
		indexes: map[string]map[uuid.UUID]time.Time{},
		last:    map[uuid.UUID]registrycache.LastMessage{},
		unread:  map[string]int64{},
	}
}

var errCacheDown = errors.New("cache down")

func unreadKey(chatID uuid.UUID, userID string) string { return chatID.String() + ":" + userID }

func (c *memCache) Available() bool { return true }

func (c *memCache) ChatIndex(_ context.Context, userID string) ([]registrycache.ChatScore, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fail {
		return nil, false, &registrystore.TransientCacheError{Op: "chat index", Cause: errCacheDown}
	}
	idx, ok := c.indexes[userID]
	if !ok {
		return nil, false, nil
	}
	var out []registrycache.ChatScore
	for id, at := range idx {
		out = append(out, registrycache.ChatScore{ChatID: id, LastActivity: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, true, nil
}

func (c *memCache) StoreChatIndex(_ context.Context, userID string, entries []registrycache.ChatScore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errCacheDown
	}
	idx := map[uuid.UUID]time.Time{}
	for _, e := range entries {
		idx[e.ChatID] = e.LastActivity
	}
	c.indexes[userID] = idx
	return nil
}

func (c *memCache) TouchChat(_ context.Context, chatID uuid.UUID, at time.Time, userIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errCacheDown
	}
	for _, u := range userIDs {
		if idx, ok := c.indexes[u]; ok {
			idx[chatID] = at
		}
	}
	return nil
}

func (c *memCache) RemoveChat(_ context.Context, userID string, chatID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.indexes[userID]; ok {
		delete(idx, chatID)
	}
	return nil
}

func (c *memCache) InvalidateChatIndex(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, userID)
	return nil
}

func (c *memCache) LastMessage(_ context.Context, chatID uuid.UUID) (*registrycache.LastMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fail {
		return nil, errCacheDown
	}
	lm, ok := c.last[chatID]
	if !ok {
		return nil, nil
	}
	return &lm, nil
}

func (c *memCache) SetLastMessage(_ context.Context, chatID uuid.UUID, msg registrycache.LastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errCacheDown
	}
	c.last[chatID] = msg
	return nil
}

func (c *memCache) ClearLastMessage(_ context.Context, chatID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, chatID)
	return nil
}

func (c *memCache) UnreadCounts(_ context.Context, userID string, chatIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fail {
		return nil, errCacheDown
	}
	out := map[uuid.UUID]int64{}
	for _, id := range chatIDs {
		if n, ok := c.unread[unreadKey(id, userID)]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (c *memCache) IncrUnread(_ context.Context, chatID uuid.UUID, userIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errCacheDown
	}
	for _, u := range userIDs {
		if _, ok := c.unread[unreadKey(chatID, u)]; ok {
			c.unread[unreadKey(chatID, u)]++
		}
	}
	return nil
}

func (c *memCache) SetUnread(_ context.Context, chatID uuid.UUID, userID string, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errCacheDown
	}
	c.unread[unreadKey(chatID, userID)] = count
	return nil
}

func (c *memCache) unreadOf(chatID uuid.UUID, userID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.unread[unreadKey(chatID, userID)]
	return n, ok
}

type published struct {
	channel string
	event   registryfanout.Event
}

type memFanout struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (f *memFanout) record(channel string, e registryfanout.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, published{channel: channel, event: e})
	return nil
}

func (f *memFanout) PublishToRoom(_ context.Context, chatID uuid.UUID, e registryfanout.Event) error {
	return f.record(registryfanout.RoomChannel(chatID), e)
}

func (f *memFanout) PublishToUser(_ context.Context, userID string, e registryfanout.Event) error {
	return f.record(registryfanout.UserChannel(userID), e)
}

func (f *memFanout) Close() error { return nil }

// types returns the event types delivered on channel, in order.
func (f *memFanout) types(channel string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.events {
		if p.channel == channel {
			out = append(out, p.event.Type)
		}
	}
	return out
}

// failingCommit runs the callback inside a real transaction and then forces it to
// roll back, as a failed commit would.
type failingCommit struct {
	registrystore.ChatStore
	err error
}

func (s *failingCommit) Transaction(ctx context.Context, fn func(tx registrystore.ChatStore) error) error {
	return s.ChatStore.Transaction(ctx, func(tx registrystore.ChatStore) error {
		if err := fn(tx); err != nil {
			return err
		}
		return s.err
	})
}

// staleDirectLookup hides existing DirectMessage rooms from the next misses
// lookups, as a transaction that read before a concurrent commit would.
type staleDirectLookup struct {
	registrystore.ChatStore
	misses *int
}

func (s *staleDirectLookup) Transaction(ctx context.Context, fn func(tx registrystore.ChatStore) error) error {
	return s.ChatStore.Transaction(ctx, func(tx registrystore.ChatStore) error {
		return fn(&staleDirectLookup{ChatStore: tx, misses: s.misses})
	})
}

func (s *staleDirectLookup) FindDirectRoom(ctx context.Context, userA, userB string) (*model.ChatRoom, error) {
	if *s.misses > 0 {
		*s.misses--
		return nil, nil
	}
	return s.ChatStore.FindDirectRoom(ctx, userA, userB)
}

func withStaleDirectLookup(s registrystore.ChatStore) registrystore.ChatStore {
	return &staleDirectLookup{ChatStore: s, misses: new(int)}
}

// countingStore counts the membership reads that reach the relational store
// outside transactions.
type countingStore struct {
	registrystore.ChatStore
	mu          sync.Mutex
	scans       int
	memberLists int
}

func (s *countingStore) ListUserMemberships(ctx context.Context, userID string) ([]model.MemberWithRoom, error) {
	s.mu.Lock()
	s.scans++
	s.mu.Unlock()
	return s.ChatStore.ListUserMemberships(ctx, userID)
}

func (s *countingStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]model.ChatRoomMember, error) {
	s.mu.Lock()
	s.memberLists++
	s.mu.Unlock()
	return s.ChatStore.ListMembers(ctx, roomID)
}

func (s *countingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans, s.memberLists = 0, 0
}
