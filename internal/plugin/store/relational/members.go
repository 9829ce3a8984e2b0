package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) AddMember(ctx context.Context, member *model.ChatRoomMember) error {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(member).Error
	if isUniqueViolation(err) {
		return &registrystore.ConflictError{
			Message: fmt.Sprintf("user %s already has a membership in room %s", member.UserID, member.ChatRoomID),
			Code:    "member_exists",
		}
	}
	return err
}

// SaveMember writes every column of the row, including zero values.
func (s *GormStore) SaveMember(ctx context.Context, member *model.ChatRoomMember) error {
	return s.db.WithContext(ctx).Save(member).Error
}

func (s *GormStore) DeleteMember(ctx context.Context, memberID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("member_id = ?", memberID).Delete(&model.MemberPermissionOverride{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", memberID).Delete(&model.ChatRoomMember{}).Error
	})
}

func (s *GormStore) GetMember(ctx context.Context, roomID uuid.UUID, userID string) (*model.ChatRoomMember, error) {
	var m model.ChatRoomMember
	err := s.db.WithContext(ctx).Where("chat_room_id = ? AND user_id = ?", roomID, userID).First(&m).Error
	if err != nil {
		return nil, notFound(err, "member", userID)
	}
	return &m, nil
}

// ListMembers returns every row of the room, pending and deleted included.
func (s *GormStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]model.ChatRoomMember, error) {
	var members []model.ChatRoomMember
	err := s.db.WithContext(ctx).Where("chat_room_id = ?", roomID).Order("joined_at, id").Find(&members).Error
	return members, err
}

// ListUserMemberships returns the user's non-deleted memberships (active and pending)
// together with their rooms.
func (s *GormStore) ListUserMemberships(ctx context.Context, userID string) ([]model.MemberWithRoom, error) {
	return s.userMemberships(ctx, s.db.WithContext(ctx).Where("user_id = ? AND is_deleted = ?", userID, false))
}

func (s *GormStore) ListUserMembershipsIn(ctx context.Context, userID string, roomIDs []uuid.UUID) ([]model.MemberWithRoom, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}
	return s.userMemberships(ctx, s.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ? AND chat_room_id IN ?", userID, false, roomIDs))
}

func (s *GormStore) userMemberships(ctx context.Context, q *gorm.DB) ([]model.MemberWithRoom, error) {
	var members []model.ChatRoomMember
	if err := q.Find(&members).Error; err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	roomIDs := make([]uuid.UUID, len(members))
	for i, m := range members {
		roomIDs[i] = m.ChatRoomID
	}
	var rooms []model.ChatRoom
	if err := s.db.WithContext(ctx).Where("id IN ?", roomIDs).Find(&rooms).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.ChatRoom, len(rooms))
	for _, r := range rooms {
		byID[r.ID] = r
	}
	out := make([]model.MemberWithRoom, 0, len(members))
	for _, m := range members {
		room, ok := byID[m.ChatRoomID]
		if !ok {
			continue
		}
		out = append(out, model.MemberWithRoom{Member: m, Room: room})
	}
	return out, nil
}

func (s *GormStore) ListDirectPeers(ctx context.Context, userID string, roomIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	peers := make(map[uuid.UUID]string, len(roomIDs))
	if len(roomIDs) == 0 {
		return peers, nil
	}
	var rows []model.ChatRoomMember
	if err := s.db.WithContext(ctx).
		Select("chat_room_id", "user_id").
		Where("chat_room_id IN ? AND user_id <> ?", roomIDs, userID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		peers[r.ChatRoomID] = r.UserID
	}
	return peers, nil
}

func (s *GormStore) GetOverride(ctx context.Context, memberID uuid.UUID) (*model.MemberPermissionOverride, error) {
	var o model.MemberPermissionOverride
	err := s.db.WithContext(ctx).Where("member_id = ?", memberID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *GormStore) SaveOverride(ctx context.Context, override *model.MemberPermissionOverride) error {
	if override.UpdatedAt.IsZero() {
		override.UpdatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "member_id"}},
		UpdateAll: true,
	}).Create(override).Error
}
