package relational_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/relational"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testpg"
	"github.com/chirino/chat-service/internal/testutil/testsqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func newRoom(t *testing.T, store registrystore.ChatStore, roomType model.RoomType, members ...string) *model.ChatRoom {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	room := &model.ChatRoom{Type: roomType, CreatorID: members[0], CreatedAt: now, LastActivityAt: now}
	require.NoError(t, store.CreateRoom(ctx, room))
	for i, u := range members {
		role := model.RoleMember
		if i == 0 && roomType != model.RoomTypeDirectMessage {
			role = model.RoleOwner
		}
		m := &model.ChatRoomMember{ChatRoomID: room.ID, UserID: u, Role: role, JoinedAt: now}
		require.NoError(t, store.AddMember(ctx, m))
	}
	return room
}

func TestRoomsAndMembers(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()

	room := newRoom(t, store, model.RoomTypePrivate, "alice", "bob")
	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoomTypePrivate, got.Type)

	_, err = store.GetRoom(ctx, uuid.New())
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "room", nf.Resource)

	err = store.AddMember(ctx, &model.ChatRoomMember{ChatRoomID: room.ID, UserID: "bob", Role: model.RoleMember, JoinedAt: time.Now().UTC()})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)

	bob, err := store.GetMember(ctx, room.ID, "bob")
	require.NoError(t, err)
	bob.IsDeleted = true
	require.NoError(t, store.SaveMember(ctx, bob))

	members, err := store.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	memberships, err := store.ListUserMemberships(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, memberships)
	memberships, err = store.ListUserMemberships(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, room.ID, memberships[0].Room.ID)
}

func TestListUserMembershipsInAndDirectPeers(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()
	dm := newRoom(t, store, model.RoomTypeDirectMessage, "alice", "bob")
	group := newRoom(t, store, model.RoomTypePrivate, "carol", "alice")
	newRoom(t, store, model.RoomTypePublic, "alice")

	rows, err := store.ListUserMembershipsIn(ctx, "alice", []uuid.UUID{dm.ID, group.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	ids := []uuid.UUID{rows[0].Room.ID, rows[1].Room.ID}
	assert.ElementsMatch(t, []uuid.UUID{dm.ID, group.ID}, ids)

	none, err := store.ListUserMembershipsIn(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	peers, err := store.ListDirectPeers(ctx, "alice", []uuid.UUID{dm.ID})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{dm.ID: "bob"}, peers)
	peers, err = store.ListDirectPeers(ctx, "bob", []uuid.UUID{dm.ID})
	require.NoError(t, err)
	assert.Equal(t, "alice", peers[dm.ID])
}

func TestFindDirectRoom(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()

	dm := newRoom(t, store, model.RoomTypeDirectMessage, "alice", "bob")
	newRoom(t, store, model.RoomTypePrivate, "alice", "carol")

	found, err := store.FindDirectRoom(ctx, "bob", "alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, dm.ID, found.ID)

	found, err = store.FindDirectRoom(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestDirectKeyIsUnique(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	key := model.DirectKey("bob", "alice")
	assert.Equal(t, key, model.DirectKey("alice", "bob"))
	assert.NotEqual(t, model.DirectKey("a:b", "c"), model.DirectKey("a", "b:c"))

	first := &model.ChatRoom{Type: model.RoomTypeDirectMessage, CreatorID: "alice", CreatedAt: now, LastActivityAt: now, DirectKey: &key}
	require.NoError(t, store.CreateRoom(ctx, first))

	second := &model.ChatRoom{Type: model.RoomTypeDirectMessage, CreatorID: "bob", CreatedAt: now, LastActivityAt: now, DirectKey: &key}
	err := store.CreateRoom(ctx, second)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "direct_room_exists", conflict.Code)

	// Group rooms carry no key and never collide.
	newRoom(t, store, model.RoomTypePrivate, "alice", "bob")
	newRoom(t, store, model.RoomTypePrivate, "alice", "bob")
}

func TestUpdateRoomSummaryAndDefaults(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()
	room := newRoom(t, store, model.RoomTypeChannel, "alice")

	at := time.Now().UTC().Truncate(time.Millisecond)
	preview := "hello"
	require.NoError(t, store.UpdateRoomSummary(ctx, room.ID, registrystore.RoomSummary{
		LastMessageContent: &preview, LastMessageAt: &at, LastActivityAt: at,
	}))
	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageContent)
	assert.Equal(t, "hello", *got.LastMessageContent)

	require.NoError(t, store.UpdateRoomSummary(ctx, room.ID, registrystore.RoomSummary{LastActivityAt: room.CreatedAt}))
	got, err = store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastMessageContent)
	assert.Nil(t, got.LastMessageAt)

	require.NoError(t, store.UpdateRoomDefaults(ctx, room.ID, model.PermissionFlags{SendMessages: boolPtr(true)}))
	got, err = store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Defaults.SendMessages)
	assert.True(t, *got.Defaults.SendMessages)
	require.NoError(t, store.UpdateRoomDefaults(ctx, room.ID, model.PermissionFlags{}))
	got, err = store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Defaults.SendMessages)
}

func TestOverrides(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()
	room := newRoom(t, store, model.RoomTypePublic, "alice", "bob")
	bob, err := store.GetMember(ctx, room.ID, "bob")
	require.NoError(t, err)

	ov, err := store.GetOverride(ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, ov)

	require.NoError(t, store.SaveOverride(ctx, &model.MemberPermissionOverride{MemberID: bob.ID, Flags: model.PermissionFlags{InviteUsers: boolPtr(false)}}))
	require.NoError(t, store.SaveOverride(ctx, &model.MemberPermissionOverride{MemberID: bob.ID, Flags: model.PermissionFlags{PinMessages: boolPtr(true)}}))
	ov, err = store.GetOverride(ctx, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Nil(t, ov.Flags.InviteUsers)
	assert.True(t, *ov.Flags.PinMessages)

	require.NoError(t, store.DeleteMember(ctx, bob.ID))
	ov, err = store.GetOverride(ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, ov)
}

func TestTransactionRollsBack(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()
	room := newRoom(t, store, model.RoomTypePrivate, "alice")

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		require.NoError(t, tx.AddMember(ctx, &model.ChatRoomMember{ChatRoomID: room.ID, UserID: "bob", Role: model.RoleMember, JoinedAt: time.Now().UTC()}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = store.GetMember(ctx, room.ID, "bob")
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestContacts(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()
	room := newRoom(t, store, model.RoomTypeDirectMessage, "alice", "bob")

	c := &model.Contact{OwnerID: "alice", ContactUserID: "bob", Status: model.ContactFriend, SavedChatRoomID: &room.ID}
	require.NoError(t, store.SaveContact(ctx, c))
	require.NoError(t, store.SaveContact(ctx, &model.Contact{OwnerID: "alice", ContactUserID: "carol", Status: model.ContactNone}))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.TouchContacts(ctx, room.ID, at))
	got, err := store.GetContact(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(at))

	all, err := store.ListContacts(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "status none is hidden by default")
	none := model.ContactNone
	hidden, err := store.ListContacts(ctx, "alice", &none)
	require.NoError(t, err)
	assert.Len(t, hidden, 1)

	missing, err := store.GetContact(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// A second first-time row for the same pair loses to the unique index.
	err = store.SaveContact(ctx, &model.Contact{OwnerID: "alice", ContactUserID: "bob", Status: model.ContactRequestSent})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "request_exists", conflict.Code)
}

func TestTasks(t *testing.T) {
	store := testsqlite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTask(ctx, model.TaskTypeReconcileMessage, map[string]interface{}{"messageId": "m1", "taskName": "reconcile:m1"}))
	require.NoError(t, store.CreateTask(ctx, model.TaskTypeReconcileMessage, map[string]interface{}{"messageId": "m1", "taskName": "reconcile:m1"}))

	tasks, err := store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "m1", tasks[0].TaskBody["messageId"])

	again, err := store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed tasks are leased")

	require.NoError(t, store.FailTask(ctx, tasks[0].ID, "nope", -time.Second))
	retried, err := store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].RetryCount)

	require.NoError(t, store.DeleteTask(ctx, tasks[0].ID))
}

func TestPostgresPlugin(t *testing.T) {
	dbURL := testpg.StartPostgres(t)
	_ = relational.ForceImport

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	room := newRoom(t, store, model.RoomTypeDirectMessage, "alice", "bob")
	err = store.AddMember(ctx, &model.ChatRoomMember{ChatRoomID: room.ID, UserID: "alice", Role: model.RoleMember, JoinedAt: time.Now().UTC()})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, store.CreateTask(ctx, model.TaskTypeReconcileMessage, map[string]interface{}{"messageId": "m2"}))
	tasks, err := store.ClaimReadyTasks(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}
