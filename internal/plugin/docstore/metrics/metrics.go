package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/docstore"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a MessageStore that records StoreLatency for every operation.
func Wrap(inner docstore.MessageStore) docstore.MessageStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner docstore.MessageStore
}

func observe(op string, start time.Time) {
	security.ObserveStore("docstore", op, start)
}

func (m *metricsStore) Insert(ctx context.Context, msg *model.Message) error {
	defer observe("insert", time.Now())
	return m.inner.Insert(ctx, msg)
}

func (m *metricsStore) Get(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	defer observe("get", time.Now())
	return m.inner.Get(ctx, messageID)
}

func (m *metricsStore) GetMany(ctx context.Context, messageIDs []uuid.UUID) ([]model.Message, error) {
	defer observe("get_many", time.Now())
	return m.inner.GetMany(ctx, messageIDs)
}

func (m *metricsStore) UpdateContent(ctx context.Context, messageID uuid.UUID, content string, editedAt time.Time) error {
	defer observe("update_content", time.Now())
	return m.inner.UpdateContent(ctx, messageID, content, editedAt)
}

func (m *metricsStore) Delete(ctx context.Context, messageID uuid.UUID) (bool, error) {
	defer observe("delete", time.Now())
	return m.inner.Delete(ctx, messageID)
}

func (m *metricsStore) ClearReplyReferences(ctx context.Context, chatID, messageID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("clear_reply_references", time.Now())
	return m.inner.ClearReplyReferences(ctx, chatID, messageID)
}

func (m *metricsStore) List(ctx context.Context, q docstore.ListQuery) ([]model.Message, error) {
	defer observe("list", time.Now())
	return m.inner.List(ctx, q)
}

func (m *metricsStore) Latest(ctx context.Context, chatID uuid.UUID, after *time.Time) (*model.Message, error) {
	defer observe("latest", time.Now())
	return m.inner.Latest(ctx, chatID, after)
}

func (m *metricsStore) MarkRead(ctx context.Context, chatID uuid.UUID, userID string, until time.Time) (int64, error) {
	defer observe("mark_read", time.Now())
	return m.inner.MarkRead(ctx, chatID, userID, until)
}

func (m *metricsStore) CountUnread(ctx context.Context, chatID uuid.UUID, userID string, after *time.Time) (int64, error) {
	defer observe("count_unread", time.Now())
	return m.inner.CountUnread(ctx, chatID, userID, after)
}

func (m *metricsStore) Search(ctx context.Context, chatID uuid.UUID, query string, after *time.Time, limit int) ([]model.Message, error) {
	defer observe("search", time.Now())
	return m.inner.Search(ctx, chatID, query, after, limit)
}

func (m *metricsStore) AddReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) error {
	defer observe("add_reaction", time.Now())
	return m.inner.AddReaction(ctx, messageID, emoji, userID)
}

func (m *metricsStore) RemoveReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) error {
	defer observe("remove_reaction", time.Now())
	return m.inner.RemoveReaction(ctx, messageID, emoji, userID)
}
