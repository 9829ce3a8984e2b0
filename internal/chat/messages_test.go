package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/model"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageToDirectRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")

	sent := f.send(t, room.ID, "alice", "  hi  ")
	assert.Equal(t, "hi", sent.Content)
	assert.Equal(t, model.MessageText, sent.Type)

	page, err := f.svc.GetMessages(ctx, room.ID, "bob", 50, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	got := page.Messages[0]
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, "alice", got.Sender.UserID)
	assert.False(t, got.IsDeleted)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextCursor)

	stored, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageContent)
	assert.Equal(t, "hi", *stored.LastMessageContent)
	assert.True(t, stored.LastActivityAt.Equal(sent.SentAt))

	last, err := f.cache.LastMessage(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sent.ID.String(), last.MessageID)

	chats, err := f.svc.GetUserChats(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(1), chats[0].UnreadCount)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "hi", chats[0].LastMessage.Content)
	require.NotNil(t, chats[0].PeerID)
	assert.Equal(t, "alice", *chats[0].PeerID)

	assert.Contains(t, f.fanout.types(registryfanout.RoomChannel(room.ID)), registryfanout.EventMessageCreated)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	room := f.directRoom(t, "alice", "bob")
	ctx := context.Background()

	send := func(content string, typ model.MessageType) error {
		_, err := f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("alice"), Content: content, Type: typ})
		return err
	}

	requireValidation(t, send("", ""), "content")
	requireValidation(t, send(" \n\t ", ""), "content")
	requireValidation(t, send(strings.Repeat("a", 1501), ""), "content")
	requireValidation(t, send("hello", "hologram"), "type")
	require.NoError(t, send(strings.Repeat("é", 1500), ""))
	require.NoError(t, send("look", model.MessagePhoto))
}

func TestSendMessageAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, chat.SendRequest{ChatID: uuid.New(), Sender: sender("alice"), Content: "hi"})
	requireNotFound(t, err)

	room := f.directRoom(t, "alice", "bob")
	_, err = f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("mallory"), Content: "hi"})
	requireForbidden(t, err)

	name := "pending"
	private, err := f.svc.CreateRoom(ctx, "alice", chat.CreateRoomRequest{Type: model.RoomTypePrivate, Name: &name, MemberIDs: []string{"bob"}})
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, chat.SendRequest{ChatID: private.ID, Sender: sender("bob"), Content: "hi"})
	requireForbidden(t, err)

	channel := f.groupRoom(t, model.RoomTypeChannel, "alice", "dave")
	_, err = f.svc.SendMessage(ctx, chat.SendRequest{ChatID: channel.ID, Sender: sender("dave"), Content: "hi"})
	var fe *registrystore.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "send-messages", fe.Capability)
	f.send(t, channel.ID, "alice", "announcement")
}

func TestSendMessageSurvivesCacheAndFanoutFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	f.cache.fail = true
	f.fanout.err = errors.New("broker down")

	f.send(t, room.ID, "alice", "still delivered")

	page, err := f.svc.GetMessages(ctx, room.ID, "bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	chats, err := f.svc.GetUserChats(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(1), chats[0].UnreadCount)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "still delivered", chats[0].LastMessage.Content)
}

func TestSendMessageCommitFailureCompensates(t *testing.T) {
	commitErr := errors.New("commit failed")
	f := newFixture(t, func(s registrystore.ChatStore) registrystore.ChatStore {
		return &failingCommit{ChatStore: s}
	})
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	f.store.(*failingCommit).err = commitErr

	_, err := f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("alice"), Content: "lost"})
	var re *registrystore.ReconciliationNeededError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Compensated)
	assert.ErrorIs(t, err, commitErr)
	assert.Empty(t, f.docs.msgs)

	tasks, err := f.store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskTypeReconcileMessage, tasks[0].TaskType)
	assert.Equal(t, re.MessageID, tasks[0].TaskBody["messageId"])
	assert.Empty(t, f.fanout.types(registryfanout.RoomChannel(room.ID)))
}

func TestSendMessageCompensationFailureLeavesTask(t *testing.T) {
	f := newFixture(t, func(s registrystore.ChatStore) registrystore.ChatStore {
		return &failingCommit{ChatStore: s}
	})
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	f.store.(*failingCommit).err = errors.New("commit failed")
	f.docs.deleteErr = errors.New("docstore down")

	_, err := f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("alice"), Content: "orphan"})
	var re *registrystore.ReconciliationNeededError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Compensated)
	require.Len(t, f.docs.msgs, 1)

	f.docs.deleteErr = nil
	f.store.(*failingCommit).err = nil
	messageID := uuid.MustParse(re.MessageID)
	require.NoError(t, f.svc.Reconcile(ctx, room.ID, &messageID))
	assert.Empty(t, f.docs.msgs)

	stored, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastMessageContent)
	assert.True(t, stored.LastActivityAt.Equal(stored.CreatedAt))
}

func TestDirectMessageRestoresDeletedPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	f.send(t, room.ID, "alice", "before")
	require.NoError(t, f.svc.LeaveRoom(ctx, room.ID, "bob"))

	_, err := f.svc.GetMessages(ctx, room.ID, "bob", 10, "")
	requireForbidden(t, err)
	chats, err := f.svc.GetUserChats(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, chats)

	after := f.send(t, room.ID, "alice", "after")

	bob := f.member(t, room.ID, "bob")
	assert.False(t, bob.IsDeleted)
	require.NotNil(t, bob.ClearedHistoryAt)
	assert.True(t, bob.ClearedHistoryAt.Before(after.SentAt))

	page, err := f.svc.GetMessages(ctx, room.ID, "bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "after", page.Messages[0].Content)

	n, ok := f.cache.unreadOf(room.ID, "bob")
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, f.fanout.types(registryfanout.UserChannel("bob")), registryfanout.EventChatRestored)

	chats, err = f.svc.GetUserChats(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(1), chats[0].UnreadCount)
}

func TestGetMessagesPaginatesWithoutRepeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	f.clock.frozen = true

	sent := map[uuid.UUID]bool{}
	for i := 0; i < 7; i++ {
		sent[f.send(t, room.ID, "alice", "same instant").ID] = true
	}

	seen := map[uuid.UUID]bool{}
	var sizes []int
	cursor := ""
	for {
		page, err := f.svc.GetMessages(ctx, room.ID, "bob", 3, cursor)
		require.NoError(t, err)
		sizes = append(sizes, len(page.Messages))
		for _, m := range page.Messages {
			require.False(t, seen[m.ID], "message %s returned twice", m.ID)
			seen[m.ID] = true
		}
		if !page.HasMore {
			assert.Nil(t, page.NextCursor)
			break
		}
		require.NotNil(t, page.NextCursor)
		cursor = *page.NextCursor
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, sent, seen)
}

func TestGetMessagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	first := f.send(t, room.ID, "alice", "one")
	second := f.send(t, room.ID, "bob", "two")

	page, err := f.svc.GetMessages(ctx, room.ID, "alice", 0, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, second.ID, page.Messages[0].ID)
	assert.Equal(t, first.ID, page.Messages[1].ID)

	_, err = f.svc.GetMessages(ctx, room.ID, "alice", 10, "not-a-cursor")
	requireValidation(t, err, "cursor")
}

func TestClearHistoryHidesOlderMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	f.send(t, room.ID, "alice", "old")
	_, err := f.svc.ClearHistory(ctx, room.ID, "bob")
	require.NoError(t, err)
	f.send(t, room.ID, "alice", "new")

	page, err := f.svc.GetMessages(ctx, room.ID, "bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "new", page.Messages[0].Content)

	page, err = f.svc.GetMessages(ctx, room.ID, "alice", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
}

func TestMarkReadUntilIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t, model.RoomTypePrivate, "alice", "bob")
	f.send(t, room.ID, "alice", "one")
	last := f.send(t, room.ID, "alice", "two")
	f.send(t, room.ID, "bob", "mine")

	n, ok := f.cache.unreadOf(room.ID, "bob")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	res, err := f.svc.MarkReadUntil(ctx, room.ID, "bob", last.SentAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Marked)
	assert.Equal(t, int64(0), res.Unread)

	res, err = f.svc.MarkReadUntil(ctx, room.ID, "bob", last.SentAt)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Marked)
	assert.Equal(t, int64(0), res.Unread)

	var reads int
	for _, typ := range f.fanout.types(registryfanout.RoomChannel(room.ID)) {
		if typ == registryfanout.EventMessagesRead {
			reads++
		}
	}
	assert.Equal(t, 1, reads)

	_, err = f.svc.MarkReadUntil(ctx, room.ID, "mallory", last.SentAt)
	requireForbidden(t, err)
}

func TestDeleteMessageClearsReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	first := f.send(t, room.ID, "bob", "earlier")
	target := f.send(t, room.ID, "alice", "original")

	var replies []uuid.UUID
	for _, content := range []string{"reply one", "reply two"} {
		msg, err := f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("bob"), Content: content, ReplyToMessageID: &target.ID})
		require.NoError(t, err)
		require.NotNil(t, msg.ReplyToMessageID)
		replies = append(replies, msg.ID)
	}

	page, err := f.svc.GetMessages(ctx, room.ID, "alice", 10, "")
	require.NoError(t, err)
	require.Contains(t, page.Replies, target.ID)
	assert.Equal(t, "original", page.Replies[target.ID].Content)

	res, err := f.svc.DeleteMessage(ctx, target.ID, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, replies, res.ClearedReplyIDs)

	page, err = f.svc.GetMessages(ctx, room.ID, "alice", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Empty(t, page.Replies)
	for _, m := range page.Messages {
		assert.NotEqual(t, target.ID, m.ID)
		assert.Nil(t, m.ReplyToMessageID)
	}

	// Deleting the newest survivors falls back to the next one, then to the creation marker.
	for _, id := range replies {
		_, err := f.svc.DeleteMessage(ctx, id, "bob")
		require.NoError(t, err)
	}
	stored, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageContent)
	assert.Equal(t, "earlier", *stored.LastMessageContent)
	assert.True(t, stored.LastActivityAt.Equal(first.SentAt))

	_, err = f.svc.DeleteMessage(ctx, first.ID, "bob")
	require.NoError(t, err)
	stored, err = f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastMessageContent)
	assert.Nil(t, stored.LastMessageAt)
	assert.True(t, stored.LastActivityAt.Equal(stored.CreatedAt))
	last, err := f.cache.LastMessage(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = f.svc.DeleteMessage(ctx, first.ID, "bob")
	requireNotFound(t, err)
}

func TestDeleteMessagePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.groupRoom(t, model.RoomTypePrivate, "alice", "bob", "carol")
	msg := f.send(t, room.ID, "bob", "bob's message")

	_, err := f.svc.DeleteMessage(ctx, msg.ID, "carol")
	var fe *registrystore.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "delete-messages", fe.Capability)

	_, err = f.svc.UpdateMemberRole(ctx, room.ID, "alice", "carol", model.RoleAdmin)
	require.NoError(t, err)
	_, err = f.svc.DeleteMessage(ctx, msg.ID, "carol")
	require.NoError(t, err)

	own := f.send(t, room.ID, "bob", "mine")
	_, err = f.svc.DeleteMessage(ctx, own.ID, "bob")
	require.NoError(t, err)
	assert.Contains(t, f.fanout.types(registryfanout.RoomChannel(room.ID)), registryfanout.EventMessageDeleted)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	older := f.send(t, room.ID, "alice", "first draft")
	newest := f.send(t, room.ID, "alice", "tpyo")

	_, err := f.svc.EditMessage(ctx, newest.ID, "bob", "hijack")
	requireForbidden(t, err)
	_, err = f.svc.EditMessage(ctx, newest.ID, "alice", "   ")
	requireValidation(t, err, "content")

	edited, err := f.svc.EditMessage(ctx, newest.ID, "alice", "typo")
	require.NoError(t, err)
	assert.Equal(t, "typo", edited.Content)
	require.NotNil(t, edited.EditedAt)
	assert.True(t, edited.SentAt.Equal(newest.SentAt))

	last, err := f.cache.LastMessage(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "typo", last.Content)
	assert.NotZero(t, last.EditedAt)

	_, err = f.svc.EditMessage(ctx, older.ID, "alice", "final")
	require.NoError(t, err)
	last, err = f.cache.LastMessage(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "typo", last.Content)
	assert.Contains(t, f.fanout.types(registryfanout.RoomChannel(room.ID)), registryfanout.EventMessageEdited)
}

func TestToggleReaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	msg := f.send(t, room.ID, "alice", "react to me")

	updated, err := f.svc.ToggleReaction(ctx, msg.ID, "bob", "👍")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, updated.Reactions["👍"])

	updated, err = f.svc.ToggleReaction(ctx, msg.ID, "bob", "👍")
	require.NoError(t, err)
	assert.Empty(t, updated.Reactions["👍"])

	_, err = f.svc.ToggleReaction(ctx, msg.ID, "mallory", "👍")
	requireForbidden(t, err)
	_, err = f.svc.ToggleReaction(ctx, msg.ID, "bob", " ")
	requireValidation(t, err, "emoji")
}

func TestSearchMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	f.send(t, room.ID, "alice", "hello world")
	f.send(t, room.ID, "bob", "goodbye")

	found, err := f.svc.SearchMessages(ctx, room.ID, "bob", "hello", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "hello world", found[0].Content)

	_, err = f.svc.SearchMessages(ctx, room.ID, "bob", "  ", 0)
	requireValidation(t, err, "query")
	_, err = f.svc.SearchMessages(ctx, room.ID, "mallory", "hello", 0)
	requireForbidden(t, err)
}

func TestReplyToMessageDeletedDuringSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	target := f.send(t, room.ID, "alice", "deleted text")

	// The target disappears after the reply captured its snapshot but before the
	// reply document exists, so the delete finds nothing to clear.
	f.docs.onInsert = func(msg *model.Message) {
		if msg.ReplyToMessageID == nil {
			return
		}
		_, _ = f.docs.Delete(ctx, target.ID)
		_, _ = f.docs.ClearReplyReferences(ctx, room.ID, target.ID)
	}
	reply, err := f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("bob"), Content: "answer", ReplyToMessageID: &target.ID})
	require.NoError(t, err)
	f.docs.onInsert = nil

	page, err := f.svc.GetMessages(ctx, room.ID, "alice", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Empty(t, page.Replies)
	assert.Nil(t, page.Messages[0].ReplyToMessageID)
	assert.Nil(t, page.Messages[0].ReplyToContent)

	stored, err := f.docs.Get(ctx, reply.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReplyToMessageID, "dangling reference is scrubbed")
	assert.Nil(t, stored.ReplyToContent)
}

func TestDeleteMessageQueuesReplyCleanupOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	target := f.send(t, room.ID, "alice", "secret")
	reply, err := f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("bob"), Content: "got it", ReplyToMessageID: &target.ID})
	require.NoError(t, err)

	f.docs.clearErr = errors.New("mongo: timeout")
	res, err := f.svc.DeleteMessage(ctx, target.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, res.ClearedReplyIDs)

	page, err := f.svc.GetMessages(ctx, room.ID, "bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Empty(t, page.Replies)
	assert.Nil(t, page.Messages[0].ReplyToContent)

	stored, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageContent)
	assert.Equal(t, "got it", *stored.LastMessageContent)

	tasks, err := f.store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskTypeReconcileMessage, tasks[0].TaskType)
	assert.Equal(t, target.ID.String(), tasks[0].TaskBody["messageId"])

	// The target document is already gone; the repair still clears the references.
	f.docs.clearErr = nil
	require.NoError(t, f.svc.Reconcile(ctx, room.ID, &target.ID))
	doc, err := f.docs.Get(ctx, reply.ID)
	require.NoError(t, err)
	assert.Nil(t, doc.ReplyToMessageID)
	assert.Nil(t, doc.ReplyToContent)
}

func TestReplyPreviewRespectsHistoryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.directRoom(t, "alice", "bob")
	target := f.send(t, room.ID, "alice", "before bob left")
	require.NoError(t, f.svc.LeaveRoom(ctx, room.ID, "bob"))
	_, err := f.svc.EditMessage(ctx, target.ID, "alice", "edited while bob was gone")
	require.NoError(t, err)

	// Replying restores bob with a boundary after the target.
	_, err = f.svc.SendMessage(ctx, chat.SendRequest{ChatID: room.ID, Sender: sender("alice"), Content: "see above", ReplyToMessageID: &target.ID})
	require.NoError(t, err)

	page, err := f.svc.GetMessages(ctx, room.ID, "bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Empty(t, page.Replies)
	assert.Nil(t, page.Messages[0].ReplyToMessageID)
	assert.Nil(t, page.Messages[0].ReplyToContent)

	page, err = f.svc.GetMessages(ctx, room.ID, "alice", 10, "")
	require.NoError(t, err)
	require.Contains(t, page.Replies, target.ID)
	assert.Equal(t, "edited while bob was gone", page.Replies[target.ID].Content)
	require.Len(t, page.Messages, 2)
	assert.NotNil(t, page.Messages[0].ReplyToMessageID)
}
