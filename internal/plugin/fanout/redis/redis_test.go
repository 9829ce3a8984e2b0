package redis_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	redisfanout "github.com/chirino/chat-service/internal/plugin/fanout/redis"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	"github.com/chirino/chat-service/internal/testutil/testredis"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToRoomAndUser(t *testing.T) {
	opts, err := goredis.ParseURL(testredis.StartRedis(t))
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	pub := redisfanout.New(client)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chatID := uuid.New()
	sub := goredis.NewClient(opts)
	defer sub.Close()
	ps := sub.Subscribe(ctx, registryfanout.RoomChannel(chatID), registryfanout.UserChannel("bob"))
	defer ps.Close()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.PublishToRoom(ctx, chatID, registryfanout.Event{
		Type: registryfanout.EventMessageCreated, ChatID: &chatID, Payload: map[string]string{"content": "hi"}, At: time.Now(),
	}))
	require.NoError(t, pub.PublishToUser(ctx, "bob", registryfanout.Event{
		Type: registryfanout.EventRoomInvited, ChatID: &chatID, At: time.Now(),
	}))

	ch := ps.Channel()
	got := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			var d registryfanout.Delivery
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &d))
			assert.Equal(t, msg.Channel, d.Channel)
			got[d.Channel] = d.Type
		case <-ctx.Done():
			t.Fatal("timed out waiting for published events")
		}
	}
	assert.Equal(t, registryfanout.EventMessageCreated, got[registryfanout.RoomChannel(chatID)])
	assert.Equal(t, registryfanout.EventRoomInvited, got[registryfanout.UserChannel("bob")])
}
