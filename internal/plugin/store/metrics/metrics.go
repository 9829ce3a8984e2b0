package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
// Stores handed to Transaction callbacks are wrapped as well.
func Wrap(inner registrystore.ChatStore) registrystore.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner registrystore.ChatStore
}

var _ registrystore.ChatStore = (*metricsStore)(nil)

func observe(op string, start time.Time) {
	security.ObserveStore("relational", op, start)
}

// Ping forwards to the wrapped store when it supports it.
func (m *metricsStore) Ping(ctx context.Context) error {
	if p, ok := m.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (m *metricsStore) Transaction(ctx context.Context, fn func(tx registrystore.ChatStore) error) error {
	defer observe("transaction", time.Now())
	return m.inner.Transaction(ctx, func(tx registrystore.ChatStore) error {
		return fn(&metricsStore{inner: tx})
	})
}

func (m *metricsStore) CreateRoom(ctx context.Context, room *model.ChatRoom) error {
	defer observe("create_room", time.Now())
	return m.inner.CreateRoom(ctx, room)
}

func (m *metricsStore) GetRoom(ctx context.Context, roomID uuid.UUID) (*model.ChatRoom, error) {
	defer observe("get_room", time.Now())
	return m.inner.GetRoom(ctx, roomID)
}

func (m *metricsStore) FindDirectRoom(ctx context.Context, userA, userB string) (*model.ChatRoom, error) {
	defer observe("find_direct_room", time.Now())
	return m.inner.FindDirectRoom(ctx, userA, userB)
}

func (m *metricsStore) UpdateRoomSummary(ctx context.Context, roomID uuid.UUID, summary registrystore.RoomSummary) error {
	defer observe("update_room_summary", time.Now())
	return m.inner.UpdateRoomSummary(ctx, roomID, summary)
}

func (m *metricsStore) UpdateRoomDetails(ctx context.Context, roomID uuid.UUID, name, description *string) error {
	defer observe("update_room_details", time.Now())
	return m.inner.UpdateRoomDetails(ctx, roomID, name, description)
}

func (m *metricsStore) UpdateRoomDefaults(ctx context.Context, roomID uuid.UUID, defaults model.PermissionFlags) error {
	defer observe("update_room_defaults", time.Now())
	return m.inner.UpdateRoomDefaults(ctx, roomID, defaults)
}

func (m *metricsStore) AddMember(ctx context.Context, member *model.ChatRoomMember) error {
	defer observe("add_member", time.Now())
	return m.inner.AddMember(ctx, member)
}

func (m *metricsStore) SaveMember(ctx context.Context, member *model.ChatRoomMember) error {
	defer observe("save_member", time.Now())
	return m.inner.SaveMember(ctx, member)
}

func (m *metricsStore) DeleteMember(ctx context.Context, memberID uuid.UUID) error {
	defer observe("delete_member", time.Now())
	return m.inner.DeleteMember(ctx, memberID)
}

func (m *metricsStore) GetMember(ctx context.Context, roomID uuid.UUID, userID string) (*model.ChatRoomMember, error) {
	defer observe("get_member", time.Now())
	return m.inner.GetMember(ctx, roomID, userID)
}

func (m *metricsStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]model.ChatRoomMember, error) {
	defer observe("list_members", time.Now())
	return m.inner.ListMembers(ctx, roomID)
}

func (m *metricsStore) ListUserMemberships(ctx context.Context, userID string) ([]model.MemberWithRoom, error) {
	defer observe("list_user_memberships", time.Now())
	return m.inner.ListUserMemberships(ctx, userID)
}

func (m *metricsStore) ListUserMembershipsIn(ctx context.Context, userID string, roomIDs []uuid.UUID) ([]model.MemberWithRoom, error) {
	defer observe("list_user_memberships_in", time.Now())
	return m.inner.ListUserMembershipsIn(ctx, userID, roomIDs)
}

func (m *metricsStore) ListDirectPeers(ctx context.Context, userID string, roomIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	defer observe("list_direct_peers", time.Now())
	return m.inner.ListDirectPeers(ctx, userID, roomIDs)
}

func (m *metricsStore) GetOverride(ctx context.Context, memberID uuid.UUID) (*model.MemberPermissionOverride, error) {
	defer observe("get_override", time.Now())
	return m.inner.GetOverride(ctx, memberID)
}

func (m *metricsStore) SaveOverride(ctx context.Context, override *model.MemberPermissionOverride) error {
	defer observe("save_override", time.Now())
	return m.inner.SaveOverride(ctx, override)
}

func (m *metricsStore) GetContact(ctx context.Context, ownerID, contactUserID string) (*model.Contact, error) {
	defer observe("get_contact", time.Now())
	return m.inner.GetContact(ctx, ownerID, contactUserID)
}

func (m *metricsStore) SaveContact(ctx context.Context, contact *model.Contact) error {
	defer observe("save_contact", time.Now())
	return m.inner.SaveContact(ctx, contact)
}

func (m *metricsStore) ListContacts(ctx context.Context, ownerID string, status *model.ContactStatus) ([]model.Contact, error) {
	defer observe("list_contacts", time.Now())
	return m.inner.ListContacts(ctx, ownerID, status)
}

func (m *metricsStore) TouchContacts(ctx context.Context, roomID uuid.UUID, at time.Time) error {
	defer observe("touch_contacts", time.Now())
	return m.inner.TouchContacts(ctx, roomID, at)
}

func (m *metricsStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	defer observe("create_task", time.Now())
	return m.inner.CreateTask(ctx, taskType, taskBody)
}

func (m *metricsStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	defer observe("claim_ready_tasks", time.Now())
	return m.inner.ClaimReadyTasks(ctx, limit)
}

func (m *metricsStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	defer observe("delete_task", time.Now())
	return m.inner.DeleteTask(ctx, taskID)
}

func (m *metricsStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	defer observe("fail_task", time.Now())
	return m.inner.FailTask(ctx, taskID, errMsg, retryDelay)
}
