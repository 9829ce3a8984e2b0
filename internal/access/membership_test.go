package access_test

import (
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/access"
	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	inviter := "owner"
	m := access.NewMember(uuid.New(), "bob", model.RoleMember, true, &inviter, now)
	assert.Equal(t, access.StatePending, access.StateOf(&m))
	require.NoError(t, access.CanReject(&m))

	var terr *access.TransitionError
	require.ErrorAs(t, access.Leave(&m), &terr)
	assert.Equal(t, access.StatePending, terr.From)

	require.NoError(t, access.Accept(&m, now.Add(time.Minute)))
	assert.True(t, access.IsActive(&m))
	require.ErrorAs(t, access.Accept(&m, now), &terr)
	require.Error(t, access.CanReject(&m))

	m.IsPinned = true
	require.NoError(t, access.Leave(&m))
	assert.Equal(t, access.StateDeleted, access.StateOf(&m))
	assert.False(t, m.IsPinned)
	require.NoError(t, access.Leave(&m))
}

func TestReactivate_IsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := access.NewMember(uuid.New(), "bob", model.RoleAdmin, false, nil, now)
	assert.False(t, access.Reactivate(&m, now, now, false, nil), "active rows are untouched")
	assert.Nil(t, m.ClearedHistoryAt)

	require.NoError(t, access.Leave(&m))
	boundary := now.Add(time.Hour)
	assert.True(t, access.Reactivate(&m, boundary, boundary, false, nil))
	assert.True(t, access.IsActive(&m))
	assert.Equal(t, model.RoleMember, m.Role)
	require.NotNil(t, m.ClearedHistoryAt)
	assert.True(t, m.ClearedHistoryAt.Equal(boundary))
	assert.Equal(t, &boundary, access.VisibleAfter(&m))

	assert.False(t, access.Reactivate(&m, boundary.Add(time.Hour), boundary.Add(time.Hour), false, nil))
	assert.True(t, m.ClearedHistoryAt.Equal(boundary))
}

func TestReactivate_AsInvitation(t *testing.T) {
	now := time.Now().UTC()
	m := access.NewMember(uuid.New(), "bob", model.RoleMember, false, nil, now)
	require.NoError(t, access.Leave(&m))

	inviter := "alice"
	assert.True(t, access.Reactivate(&m, now, now, true, &inviter))
	assert.Equal(t, access.StatePending, access.StateOf(&m))
	assert.Equal(t, "alice", *m.InvitedByID)
}

func TestStateOf_Nil(t *testing.T) {
	assert.Equal(t, access.StateNone, access.StateOf(nil))
	assert.False(t, access.IsActive(nil))
	assert.Nil(t, access.VisibleAfter(nil))
}
