package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/metrics"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testsqlite"
	"github.com/stretchr/testify/require"
)

func TestWrapForwardsAndWrapsTransactions(t *testing.T) {
	ctx := context.Background()
	store := metrics.Wrap(testsqlite.NewStore(t))
	now := time.Now().UTC().Truncate(time.Millisecond)

	room := &model.ChatRoom{Type: model.RoomTypePrivate, CreatorID: "alice", CreatedAt: now, LastActivityAt: now}
	err := store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		require.IsType(t, metrics.Wrap(nil), tx)
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		return tx.AddMember(ctx, &model.ChatRoomMember{ChatRoomID: room.ID, UserID: "alice", Role: model.RoleOwner, JoinedAt: now})
	})
	require.NoError(t, err)

	members, err := store.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)

	boom := errors.New("boom")
	err = store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		require.NoError(t, tx.DeleteMember(ctx, members[0].ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	member, err := store.GetMember(ctx, room.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, member)

	pinger, ok := store.(interface{ Ping(context.Context) error })
	require.True(t, ok)
	require.NoError(t, pinger.Ping(ctx))
}
