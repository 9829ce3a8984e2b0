package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	mongodocs "github.com/chirino/chat-service/internal/plugin/docstore/mongo"
	registrydocstore "github.com/chirino/chat-service/internal/registry/docstore"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testmongo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func newStore(t *testing.T) *mongodocs.MessageStore {
	t.Helper()
	uri := testmongo.StartMongo(t)
	ctx := context.Background()
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("chat_" + uuid.NewString()[:8])
	require.NoError(t, mongodocs.EnsureIndexes(ctx, db, 0))
	return mongodocs.New(db)
}

func msg(chatID uuid.UUID, sender, content string, at time.Time) *model.Message {
	return &model.Message{
		ID:      uuid.New(),
		ChatID:  chatID,
		Sender:  model.SenderSnapshot{UserID: sender, Username: sender},
		Content: content,
		Type:    model.MessageText,
		SentAt:  at.UTC().Truncate(time.Millisecond),
	}
}

func TestMessageStore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	chatID := uuid.New()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	var sent []*model.Message
	for i := 0; i < 5; i++ {
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		m := msg(chatID, sender, "hello number "+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Insert(ctx, m))
		sent = append(sent, m)
	}

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		err := s.Insert(ctx, sent[0])
		var conflict *registrystore.ConflictError
		assert.ErrorAs(t, err, &conflict)
	})

	t.Run("get returns not found", func(t *testing.T) {
		_, err := s.Get(ctx, uuid.New())
		var nf *registrystore.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("list pages newest first", func(t *testing.T) {
		page, err := s.List(ctx, registrydocstore.ListQuery{ChatID: chatID, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, sent[4].ID, page[0].ID)
		assert.Equal(t, sent[3].ID, page[1].ID)

		next, err := s.List(ctx, registrydocstore.ListQuery{
			ChatID: chatID,
			Before: &model.MessageCursor{SentAt: page[1].SentAt, ID: page[1].ID},
			Limit:  10,
		})
		require.NoError(t, err)
		require.Len(t, next, 3)
		assert.Equal(t, sent[2].ID, next[0].ID)
		assert.Empty(t, next[0].ReadBy)
		assert.NotNil(t, next[0].Reactions)
	})

	t.Run("after boundary hides older messages", func(t *testing.T) {
		after := sent[2].SentAt
		page, err := s.List(ctx, registrydocstore.ListQuery{ChatID: chatID, After: &after, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, page, 2)

		latest, err := s.Latest(ctx, chatID, &after)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, sent[4].ID, latest.ID)

		none, err := s.Latest(ctx, uuid.New(), nil)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("mark read skips own messages", func(t *testing.T) {
		n, err := s.CountUnread(ctx, chatID, "alice", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		changed, err := s.MarkRead(ctx, chatID, "alice", sent[3].SentAt)
		require.NoError(t, err)
		assert.Equal(t, int64(2), changed)

		again, err := s.MarkRead(ctx, chatID, "alice", sent[3].SentAt)
		require.NoError(t, err)
		assert.Equal(t, int64(0), again)

		n, err = s.CountUnread(ctx, chatID, "alice", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		got, err := s.Get(ctx, sent[1].ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, got.ReadBy)
	})

	t.Run("edit and reactions", func(t *testing.T) {
		editedAt := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.UpdateContent(ctx, sent[0].ID, "edited", editedAt))
		require.NoError(t, s.AddReaction(ctx, sent[0].ID, "👍", "bob"))
		require.NoError(t, s.AddReaction(ctx, sent[0].ID, "👍", "bob"))

		got, err := s.Get(ctx, sent[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Content)
		require.NotNil(t, got.EditedAt)
		assert.True(t, got.EditedAt.Equal(editedAt))
		assert.Equal(t, []string{"bob"}, got.Reactions["👍"])
		assert.True(t, got.SentAt.Equal(sent[0].SentAt))

		require.NoError(t, s.RemoveReaction(ctx, sent[0].ID, "👍", "bob"))
		got, err = s.Get(ctx, sent[0].ID)
		require.NoError(t, err)
		assert.NotContains(t, got.Reactions, "👍")

		var verr *registrystore.ValidationError
		assert.ErrorAs(t, s.AddReaction(ctx, sent[0].ID, "a.b", "bob"), &verr)
	})

	t.Run("search by content", func(t *testing.T) {
		found, err := s.Search(ctx, chatID, "edited", nil, 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, sent[0].ID, found[0].ID)
	})

	t.Run("delete clears reply references", func(t *testing.T) {
		target := sent[1]
		reply := msg(chatID, "alice", "replying", base.Add(10*time.Minute))
		name, preview := "bob", "hello"
		reply.ReplyToMessageID = &target.ID
		reply.ReplyToSenderName = &name
		reply.ReplyToContent = &preview
		require.NoError(t, s.Insert(ctx, reply))

		existed, err := s.Delete(ctx, target.ID)
		require.NoError(t, err)
		assert.True(t, existed)

		ids, err := s.ClearReplyReferences(ctx, chatID, target.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{reply.ID}, ids)

		got, err := s.Get(ctx, reply.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ReplyToMessageID)
		assert.Nil(t, got.ReplyToContent)

		existed, err = s.Delete(ctx, target.ID)
		require.NoError(t, err)
		assert.False(t, existed)

		many, err := s.GetMany(ctx, []uuid.UUID{target.ID, reply.ID})
		require.NoError(t, err)
		assert.Len(t, many, 1)
	})
}
