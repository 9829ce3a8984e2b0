package relational

import (
	"context"
	"errors"
	"fmt"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *GormStore) CreateRoom(ctx context.Context, room *model.ChatRoom) error {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(room).Error
	if isUniqueViolation(err) && room.DirectKey != nil {
		return &registrystore.ConflictError{Message: "direct room already exists", Code: "direct_room_exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (s *GormStore) GetRoom(ctx context.Context, roomID uuid.UUID) (*model.ChatRoom, error) {
	var room model.ChatRoom
	if err := s.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error; err != nil {
		return nil, notFound(err, "room", roomID.String())
	}
	return &room, nil
}

// FindDirectRoom returns the DirectMessage room shared by the two users, whatever
// the state of their memberships, or nil when none exists.
func (s *GormStore) FindDirectRoom(ctx context.Context, userA, userB string) (*model.ChatRoom, error) {
	var room model.ChatRoom
	err := s.db.WithContext(ctx).
		Table("chat_rooms").
		Select("chat_rooms.*").
		Joins("JOIN chat_room_members ma ON ma.chat_room_id = chat_rooms.id AND ma.user_id = ?", userA).
		Joins("JOIN chat_room_members mb ON mb.chat_room_id = chat_rooms.id AND mb.user_id = ?", userB).
		Where("chat_rooms.type = ?", model.RoomTypeDirectMessage).
		Order("chat_rooms.created_at").
		Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) UpdateRoomSummary(ctx context.Context, roomID uuid.UUID, summary registrystore.RoomSummary) error {
	result := s.db.WithContext(ctx).Model(&model.ChatRoom{}).Where("id = ?", roomID).Updates(map[string]interface{}{
		"last_message_content": summary.LastMessageContent,
		"last_message_at":      summary.LastMessageAt,
		"last_activity_at":     summary.LastActivityAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update room summary: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "room", ID: roomID.String()}
	}
	return nil
}

func (s *GormStore) UpdateRoomDetails(ctx context.Context, roomID uuid.UUID, name, description *string) error {
	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if description != nil {
		updates["description"] = *description
	}
	if len(updates) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).Model(&model.ChatRoom{}).Where("id = ?", roomID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "room", ID: roomID.String()}
	}
	return nil
}

func (s *GormStore) UpdateRoomDefaults(ctx context.Context, roomID uuid.UUID, defaults model.PermissionFlags) error {
	// Explicit columns so nil flags are written as NULL rather than skipped.
	result := s.db.WithContext(ctx).Model(&model.ChatRoom{ID: roomID}).
		Select("default_send_messages", "default_send_photos", "default_send_videos", "default_send_stickers",
			"default_send_music", "default_send_files", "default_invite_users", "default_pin_messages",
			"default_customize_room", "default_delete_messages", "default_ban_users", "default_promote_members").
		Updates(&model.ChatRoom{Defaults: defaults})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "room", ID: roomID.String()}
	}
	return nil
}
