package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testsqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *chat.Service
	store  registrystore.ChatStore
	docs   *memDocs
	cache  *memCache
	fanout *memFanout
	clock  *stepClock
}

// stepClock advances by one second on every read so successive operations get
// distinct, ordered instants.
type stepClock struct {
	mu     sync.Mutex
	t      time.Time
	frozen bool
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.frozen {
		c.t = c.t.Add(time.Second)
	}
	return c.t
}

func newFixture(t *testing.T, wrap ...func(registrystore.ChatStore) registrystore.ChatStore) *fixture {
	t.Helper()
	var store registrystore.ChatStore = testsqlite.NewStore(t)
	for _, w := range wrap {
		store = w(store)
	}
	f := &fixture{
		store:  store,
		docs:   newMemDocs(),
		cache:  newMemCache(),
		fanout: &memFanout{},
		clock:  &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = chat.New(f.store, f.docs, f.cache, f.fanout, nil, chat.WithClock(f.clock.now))
	return f
}

func sender(userID string) model.SenderSnapshot {
	return model.SenderSnapshot{UserID: userID, Username: userID}
}

func (f *fixture) directRoom(t *testing.T, a, b string) *model.ChatRoom {
	t.Helper()
	room, err := f.svc.CreateRoom(context.Background(), a, chat.CreateRoomRequest{
		Type:      model.RoomTypeDirectMessage,
		MemberIDs: []string{b},
	})
	require.NoError(t, err)
	return room
}

// groupRoom creates a room owned by owner whose other members have all accepted.
func (f *fixture) groupRoom(t *testing.T, roomType model.RoomType, owner string, members ...string) *model.ChatRoom {
	t.Helper()
	ctx := context.Background()
	name := "room-" + uuid.NewString()[:6]
	room, err := f.svc.CreateRoom(ctx, owner, chat.CreateRoomRequest{Type: roomType, Name: &name, MemberIDs: members})
	require.NoError(t, err)
	for _, m := range members {
		_, err := f.svc.AcceptInvite(ctx, room.ID, m)
		require.NoError(t, err)
	}
	return room
}

func (f *fixture) send(t *testing.T, chatID uuid.UUID, from, content string) *model.Message {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), chat.SendRequest{ChatID: chatID, Sender: sender(from), Content: content})
	require.NoError(t, err)
	return msg
}

func (f *fixture) member(t *testing.T, chatID uuid.UUID, userID string) *model.ChatRoomMember {
	t.Helper()
	m, err := f.store.GetMember(context.Background(), chatID, userID)
	require.NoError(t, err)
	return m
}

func requireForbidden(t *testing.T, err error) {
	t.Helper()
	var fe *registrystore.ForbiddenError
	require.ErrorAs(t, err, &fe)
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var ve *registrystore.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, field, ve.Field)
}

func requireConflict(t *testing.T, err error, code string) {
	t.Helper()
	var ce *registrystore.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, code, ce.Code)
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}
