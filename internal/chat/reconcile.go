package chat

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// enqueueReconcile queues a repair of the room summary, and of the named message's
// document and reply references when messageID is set.
func (s *Service) enqueueReconcile(ctx context.Context, chatID uuid.UUID, messageID *uuid.UUID) error {
	body := map[string]interface{}{"chatId": chatID.String()}
	if messageID != nil {
		body["messageId"] = messageID.String()
		body["taskName"] = "reconcile_message:" + messageID.String()
	}
	return s.store.CreateTask(ctx, model.TaskTypeReconcileMessage, body)
}

// Reconcile repairs the aftermath of a failed send or delete: when a message is
// named it deletes the document if it still exists and clears every reply
// reference to it, then recomputes the room summary, the last-message cache and
// every member's ordering score.
func (s *Service) Reconcile(ctx context.Context, chatID uuid.UUID, messageID *uuid.UUID) error {
	if messageID != nil {
		existed, err := s.docs.Delete(ctx, *messageID)
		if err != nil {
			return fmt.Errorf("delete orphaned message: %w", err)
		}
		if existed {
			log.Info("Deleted orphaned message", "chatId", chatID, "messageId", *messageID)
		}
		if _, err := s.docs.ClearReplyReferences(ctx, chatID, *messageID); err != nil {
			return fmt.Errorf("clear reply references: %w", err)
		}
	}
	room, err := s.store.GetRoom(ctx, chatID)
	if err != nil {
		return err
	}
	members, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return err
	}
	return s.refreshSummary(ctx, room, members)
}
