package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/access"
	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrydocstore "github.com/chirino/chat-service/internal/registry/docstore"
	registryfanout "github.com/chirino/chat-service/internal/registry/fanout"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// SendRequest is the input of SendMessage.
type SendRequest struct {
	ChatID           uuid.UUID
	Sender           model.SenderSnapshot
	Content          string
	Type             model.MessageType
	ReplyToMessageID *uuid.UUID
}

// SendMessage validates, authorizes and persists a message, then refreshes the
// room summary, cache and ordering scores and notifies the room.
//
// Deleted peers of a DirectMessage room are reactivated in the same relational
// transaction, with a history boundary just before the new message. The document
// write is the last step inside that transaction; if the commit then fails, the
// document is deleted once, a reconciliation task is queued and
// ReconciliationNeededError is returned.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*model.Message, error) {
	content, err := s.normalizeContent(req.Content)
	if err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = model.MessageText
	}
	if !req.Type.Valid() {
		return nil, &registrystore.ValidationError{Field: "type", Message: fmt.Sprintf("unknown message type %q", req.Type)}
	}
	if req.Sender.UserID == "" {
		return nil, &registrystore.ValidationError{Field: "senderId", Message: "is required"}
	}

	now := s.clock()
	msg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()),
		ChatID:    req.ChatID,
		Sender:    req.Sender,
		Content:   content,
		Type:      req.Type,
		SentAt:    now,
		ReadBy:    []string{},
		Reactions: map[string][]string{},
	}

	var (
		members     []model.ChatRoomMember
		resurrected []string
		inserted    bool
	)
	err = s.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		room, sender, err := s.activeMember(ctx, tx, req.ChatID, req.Sender.UserID)
		if err != nil {
			return err
		}
		subj, err := s.subject(ctx, tx, room, sender)
		if err != nil {
			return err
		}
		if missing, ok := access.CanSend(subj, req.Type); !ok {
			return &registrystore.ForbiddenError{Capability: string(missing)}
		}

		members, err = tx.ListMembers(ctx, req.ChatID)
		if err != nil {
			return err
		}
		if room.Type == model.RoomTypeDirectMessage {
			boundary := now.Add(-time.Millisecond)
			for i := range members {
				m := &members[i]
				if m.UserID == req.Sender.UserID {
					continue
				}
				if access.Reactivate(m, now, boundary, false, nil) {
					if err := tx.SaveMember(ctx, m); err != nil {
						return err
					}
					resurrected = append(resurrected, m.UserID)
				}
			}
		}

		if req.ReplyToMessageID != nil {
			s.attachReply(ctx, msg, *req.ReplyToMessageID)
		}

		if err := s.docs.Insert(ctx, msg); err != nil {
			return fmt.Errorf("write message document: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		if inserted {
			return nil, s.compensate(ctx, msg, err)
		}
		return nil, err
	}

	s.afterSend(ctx, msg, members, resurrected)
	log.Info("Message sent", "chatId", msg.ChatID, "messageId", msg.ID, "senderId", msg.Sender.UserID)
	return msg, nil
}

// attachReply snapshots the replied-to message into msg. An unresolvable target
// is dropped and the message goes out without a preview.
func (s *Service) attachReply(ctx context.Context, msg *model.Message, targetID uuid.UUID) {
	target, err := s.docs.Get(ctx, targetID)
	if err != nil || target.ChatID != msg.ChatID || target.IsDeleted {
		log.Debug("Reply target not resolvable", "chatId", msg.ChatID, "replyTo", targetID, "err", err)
		return
	}
	name := senderName(target.Sender)
	preview := truncate(target.Content, s.cfg.ReplyPreviewLength)
	msg.ReplyToMessageID = &targetID
	msg.ReplyToSenderName = &name
	msg.ReplyToContent = &preview
}

// compensate handles a relational commit failure after the document was written.
func (s *Service) compensate(ctx context.Context, msg *model.Message, cause error) error {
	ctx = context.WithoutCancel(ctx)
	security.Inc(security.ReconciliationNeeded)

	compensated := true
	if _, delErr := s.docs.Delete(ctx, msg.ID); delErr != nil {
		compensated = false
		security.Inc(security.CompensationFailures)
		log.Error("Compensating delete failed", "chatId", msg.ChatID, "messageId", msg.ID, "err", delErr)
		cause = errors.Join(cause, delErr)
	}
	if err := s.enqueueReconcile(ctx, msg.ChatID, &msg.ID); err != nil {
		log.Error("Failed to queue reconciliation", "chatId", msg.ChatID, "messageId", msg.ID, "err", err)
	}
	log.Warn("Message needs reconciliation", "chatId", msg.ChatID, "messageId", msg.ID, "compensated", compensated)
	return &registrystore.ReconciliationNeededError{
		ChatID:      msg.ChatID.String(),
		MessageID:   msg.ID.String(),
		Compensated: compensated,
		Cause:       cause,
	}
}

func (s *Service) afterSend(ctx context.Context, msg *model.Message, members []model.ChatRoomMember, resurrected []string) {
	preview := s.preview(msg.Content)
	sentAt := msg.SentAt
	if err := s.store.UpdateRoomSummary(ctx, msg.ChatID, registrystore.RoomSummary{
		LastMessageContent: &preview,
		LastMessageAt:      &sentAt,
		LastActivityAt:     sentAt,
	}); err != nil {
		s.summaryFailed(ctx, msg.ChatID, err)
	}
	if err := s.store.TouchContacts(ctx, msg.ChatID, sentAt); err != nil {
		log.Warn("Failed to record contact activity", "chatId", msg.ChatID, "err", err)
	}

	cacheWarn("set last message", s.cache.SetLastMessage(ctx, msg.ChatID, lastMessageOf(msg)))
	cacheWarn("touch chat", s.cache.TouchChat(ctx, msg.ChatID, sentAt, currentMemberIDs(members)))

	var others []string
	for _, m := range members {
		if access.IsActive(&m) && m.UserID != msg.Sender.UserID && !slices.Contains(resurrected, m.UserID) {
			others = append(others, m.UserID)
		}
	}
	cacheWarn("incr unread", s.cache.IncrUnread(ctx, msg.ChatID, others))

	for _, userID := range resurrected {
		// The restored member's index never had this chat and their counter predates the boundary.
		cacheWarn("invalidate chat index", s.cache.InvalidateChatIndex(ctx, userID))
		cacheWarn("set unread", s.cache.SetUnread(ctx, msg.ChatID, userID, 1))
	}

	s.publishRoom(ctx, msg.ChatID, registryfanout.EventMessageCreated, msg)
	for _, userID := range resurrected {
		chatID := msg.ChatID
		s.publishUser(ctx, userID, &chatID, registryfanout.EventChatRestored, map[string]any{
			"chatId":    chatID,
			"messageId": msg.ID,
		})
	}
}

// summaryFailed queues a summary repair after a post-commit relational failure.
func (s *Service) summaryFailed(ctx context.Context, chatID uuid.UUID, err error) {
	log.Warn("Failed to update room summary", "chatId", chatID, "err", err)
	if qErr := s.enqueueReconcile(context.WithoutCancel(ctx), chatID, nil); qErr != nil {
		log.Error("Failed to queue summary repair", "chatId", chatID, "err", qErr)
	}
}

func lastMessageOf(m *model.Message) registrycache.LastMessage {
	lm := registrycache.LastMessage{
		MessageID:  m.ID.String(),
		SenderID:   m.Sender.UserID,
		SenderName: senderName(m.Sender),
		Content:    m.Content,
		Type:       string(m.Type),
		SentAt:     m.SentAt.UnixMilli(),
	}
	if m.EditedAt != nil {
		lm.EditedAt = m.EditedAt.UnixMilli()
	}
	return lm
}

// EditMessage replaces the content of the caller's own message.
func (s *Service) EditMessage(ctx context.Context, messageID uuid.UUID, userID, newContent string) (*model.Message, error) {
	content, err := s.normalizeContent(newContent)
	if err != nil {
		return nil, err
	}
	msg, err := s.docs.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	if msg.Sender.UserID != userID {
		return nil, &registrystore.ForbiddenError{}
	}
	if _, _, err := s.activeMember(ctx, s.store, msg.ChatID, userID); err != nil {
		return nil, err
	}

	editedAt := s.clock()
	if err := s.docs.UpdateContent(ctx, messageID, content, editedAt); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.EditedAt = &editedAt

	cached, err := s.cache.LastMessage(ctx, msg.ChatID)
	cacheWarn("last message", err)
	if cached != nil && cached.MessageID == msg.ID.String() {
		cacheWarn("set last message", s.cache.SetLastMessage(ctx, msg.ChatID, lastMessageOf(msg)))
	}

	s.publishRoom(ctx, msg.ChatID, registryfanout.EventMessageEdited, map[string]any{
		"messageId": msg.ID,
		"content":   msg.Content,
		"editedAt":  editedAt,
	})
	log.Info("Message edited", "chatId", msg.ChatID, "messageId", msg.ID)
	return msg, nil
}

// DeleteResult reports a permanent message deletion.
type DeleteResult struct {
	ChatID          uuid.UUID   `json:"chatId"`
	MessageID       uuid.UUID   `json:"messageId"`
	ClearedReplyIDs []uuid.UUID `json:"clearedReplyIds"`
}

// DeleteMessage permanently removes a message. The author may always delete their
// own message; any other active member needs the delete-messages capability.
// Replies lose their preview and the room summary falls back to the next
// surviving message.
func (s *Service) DeleteMessage(ctx context.Context, messageID uuid.UUID, userID string) (*DeleteResult, error) {
	msg, err := s.docs.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	room, m, err := s.activeMember(ctx, s.store, msg.ChatID, userID)
	if err != nil {
		return nil, err
	}
	if msg.Sender.UserID != userID {
		if err := s.require(ctx, s.store, room, m, access.DeleteMessages); err != nil {
			return nil, err
		}
	}

	existed, err := s.docs.Delete(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	cleared, err := s.docs.ClearReplyReferences(ctx, msg.ChatID, messageID)
	if err != nil {
		// The document is gone; replies stop resolving and the queued task scrubs them.
		log.Warn("Failed to clear reply references", "chatId", msg.ChatID, "messageId", messageID, "err", err)
		if qErr := s.enqueueReconcile(context.WithoutCancel(ctx), msg.ChatID, &messageID); qErr != nil {
			log.Error("Failed to queue reply cleanup", "chatId", msg.ChatID, "messageId", messageID, "err", qErr)
		}
	}
	if cleared == nil {
		cleared = []uuid.UUID{}
	}

	members, err := s.store.ListMembers(ctx, msg.ChatID)
	if err != nil {
		log.Warn("Failed to list members after delete", "chatId", msg.ChatID, "err", err)
	}
	if err := s.refreshSummary(ctx, room, members); err != nil {
		s.summaryFailed(ctx, msg.ChatID, err)
	}
	for _, member := range members {
		if access.IsActive(&member) && member.UserID != msg.Sender.UserID {
			s.refreshUnread(ctx, msg.ChatID, &member)
		}
	}

	res := &DeleteResult{ChatID: msg.ChatID, MessageID: messageID, ClearedReplyIDs: cleared}
	s.publishRoom(ctx, msg.ChatID, registryfanout.EventMessageDeleted, res)
	log.Info("Message deleted", "chatId", msg.ChatID, "messageId", messageID, "by", userID, "clearedReplies", len(cleared))
	return res, nil
}

// refreshSummary recomputes the room summary and last-message cache from the newest
// surviving message, or resets both to the room's creation marker, and rewrites
// every current member's ordering score.
func (s *Service) refreshSummary(ctx context.Context, room *model.ChatRoom, members []model.ChatRoomMember) error {
	latest, err := s.docs.Latest(ctx, room.ID, nil)
	if err != nil {
		return fmt.Errorf("load latest message: %w", err)
	}
	summary := registrystore.RoomSummary{LastActivityAt: room.CreatedAt}
	if latest != nil {
		preview := s.preview(latest.Content)
		sentAt := latest.SentAt
		summary = registrystore.RoomSummary{LastMessageContent: &preview, LastMessageAt: &sentAt, LastActivityAt: sentAt}
		cacheWarn("set last message", s.cache.SetLastMessage(ctx, room.ID, lastMessageOf(latest)))
	} else {
		cacheWarn("clear last message", s.cache.ClearLastMessage(ctx, room.ID))
	}
	cacheWarn("touch chat", s.cache.TouchChat(ctx, room.ID, summary.LastActivityAt, currentMemberIDs(members)))
	return s.store.UpdateRoomSummary(ctx, room.ID, summary)
}

// refreshUnread recomputes a member's unread counter from the document store.
func (s *Service) refreshUnread(ctx context.Context, chatID uuid.UUID, m *model.ChatRoomMember) int64 {
	n, err := s.docs.CountUnread(ctx, chatID, m.UserID, access.VisibleAfter(m))
	if err != nil {
		log.Warn("Failed to count unread messages", "chatId", chatID, "userId", m.UserID, "err", err)
		return 0
	}
	cacheWarn("set unread", s.cache.SetUnread(ctx, chatID, m.UserID, n))
	return n
}

// MessagePage is one page of a room's timeline, newest first.
type MessagePage struct {
	Messages   []model.Message                  `json:"messages"`
	Replies    map[uuid.UUID]model.ReplyPreview `json:"replies"`
	HasMore    bool                             `json:"hasMore"`
	NextCursor *string                          `json:"nextCursor,omitempty"`
}

// GetMessages returns up to limit messages older than cursor, hiding everything at
// or before the caller's clear-history boundary.
func (s *Service) GetMessages(ctx context.Context, chatID uuid.UUID, userID string, limit int, cursor string) (*MessagePage, error) {
	before, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = s.pageSize(limit)
	_, m, err := s.activeMember(ctx, s.store, chatID, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.docs.List(ctx, registrydocstore.ListQuery{
		ChatID: chatID,
		After:  access.VisibleAfter(m),
		Before: before,
		Limit:  limit + 1,
	})
	if err != nil {
		return nil, err
	}
	page := &MessagePage{Messages: msgs, Replies: map[uuid.UUID]model.ReplyPreview{}}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasMore = true
		next := EncodeCursor(page.Messages[len(page.Messages)-1])
		page.NextCursor = &next
	}
	if page.Messages == nil {
		page.Messages = []model.Message{}
	}
	if err := s.resolveReplies(ctx, page, access.VisibleAfter(m)); err != nil {
		log.Warn("Failed to resolve reply previews", "chatId", chatID, "err", err)
	}
	return page, nil
}

// resolveReplies loads every replied-to message of the page in one query. A reply
// keeps its preview only while the target exists and is visible to the caller;
// otherwise the reference is blanked on the returned message, and references to
// targets that are gone are scrubbed from the documents.
func (s *Service) resolveReplies(ctx context.Context, page *MessagePage, after *time.Time) error {
	var ids []uuid.UUID
	for _, m := range page.Messages {
		if m.ReplyToMessageID != nil && !slices.Contains(ids, *m.ReplyToMessageID) {
			ids = append(ids, *m.ReplyToMessageID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	targets, err := s.docs.GetMany(ctx, ids)
	if err != nil {
		for i := range page.Messages {
			clearReply(&page.Messages[i])
		}
		return err
	}
	live := map[uuid.UUID]bool{}
	for _, t := range targets {
		if t.IsDeleted {
			continue
		}
		live[t.ID] = true
		if after != nil && !t.SentAt.After(*after) {
			continue
		}
		page.Replies[t.ID] = model.ReplyPreview{
			MessageID:  t.ID,
			SenderName: senderName(t.Sender),
			Content:    truncate(t.Content, s.cfg.ReplyPreviewLength),
		}
	}
	var gone []uuid.UUID
	for i := range page.Messages {
		m := &page.Messages[i]
		if m.ReplyToMessageID == nil {
			continue
		}
		if _, ok := page.Replies[*m.ReplyToMessageID]; ok {
			continue
		}
		if !live[*m.ReplyToMessageID] && !slices.Contains(gone, *m.ReplyToMessageID) {
			gone = append(gone, *m.ReplyToMessageID)
		}
		clearReply(m)
	}
	for _, id := range gone {
		if _, err := s.docs.ClearReplyReferences(ctx, page.Messages[0].ChatID, id); err != nil {
			log.Warn("Failed to scrub dangling reply references", "chatId", page.Messages[0].ChatID, "replyTo", id, "err", err)
		}
	}
	return nil
}

func clearReply(m *model.Message) {
	m.ReplyToMessageID, m.ReplyToSenderName, m.ReplyToContent = nil, nil, nil
}

func (s *Service) pageSize(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return limit
}

// ReadResult reports what MarkReadUntil changed.
type ReadResult struct {
	Marked int64 `json:"marked"`
	Unread int64 `json:"unread"`
}

// MarkReadUntil marks every message sent by others at or before until as read by
// userID and recomputes the caller's unread counter from scratch.
func (s *Service) MarkReadUntil(ctx context.Context, chatID uuid.UUID, userID string, until time.Time) (*ReadResult, error) {
	if until.IsZero() {
		return nil, &registrystore.ValidationError{Field: "until", Message: "is required"}
	}
	_, m, err := s.activeMember(ctx, s.store, chatID, userID)
	if err != nil {
		return nil, err
	}
	marked, err := s.docs.MarkRead(ctx, chatID, userID, until)
	if err != nil {
		return nil, err
	}
	res := &ReadResult{Marked: marked, Unread: s.refreshUnread(ctx, chatID, m)}
	if marked > 0 {
		s.publishRoom(ctx, chatID, registryfanout.EventMessagesRead, map[string]any{
			"userId": userID,
			"until":  until.UTC(),
		})
	}
	return res, nil
}

// SearchMessages runs a text search over the room, bounded by the caller's history boundary.
func (s *Service) SearchMessages(ctx context.Context, chatID uuid.UUID, userID, query string, limit int) ([]model.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &registrystore.ValidationError{Field: "query", Message: "must not be empty"}
	}
	_, m, err := s.activeMember(ctx, s.store, chatID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.docs.Search(ctx, chatID, query, access.VisibleAfter(m), s.pageSize(limit))
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// ToggleReaction adds userID's emoji reaction, or removes it when already present.
func (s *Service) ToggleReaction(ctx context.Context, messageID uuid.UUID, userID, emoji string) (*model.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, &registrystore.ValidationError{Field: "emoji", Message: "must not be empty"}
	}
	msg, err := s.docs.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	if _, _, err := s.activeMember(ctx, s.store, msg.ChatID, userID); err != nil {
		return nil, err
	}

	added := !slices.Contains(msg.Reactions[emoji], userID)
	if added {
		err = s.docs.AddReaction(ctx, messageID, emoji, userID)
	} else {
		err = s.docs.RemoveReaction(ctx, messageID, emoji, userID)
	}
	if err != nil {
		return nil, err
	}
	updated, err := s.docs.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.publishRoom(ctx, msg.ChatID, registryfanout.EventMessageReaction, map[string]any{
		"messageId": messageID,
		"emoji":     emoji,
		"userId":    userID,
		"added":     added,
		"reactions": updated.Reactions,
	})
	return updated, nil
}
