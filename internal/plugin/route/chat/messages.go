package chat

import (
	"net/http"
	"time"

	internalchat "github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func listMessages(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	page, err := svc.GetMessages(c.Request.Context(), chatID, security.GetUserID(c), queryInt(c, "limit", 0), c.Query("cursor"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func sendMessage(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var req struct {
		Content          string            `json:"content"`
		Type             model.MessageType `json:"type"`
		ReplyToMessageID *uuid.UUID        `json:"replyToMessageId"`
	}
	if !bindJSON(c, &req) {
		return
	}
	id := security.GetIdentity(c)
	msg, err := svc.SendMessage(c.Request.Context(), internalchat.SendRequest{
		ChatID: chatID,
		Sender: model.SenderSnapshot{
			UserID:      id.UserID,
			Username:    id.Username,
			DisplayName: id.DisplayName,
			AvatarURL:   id.AvatarURL,
		},
		Content:          req.Content,
		Type:             req.Type,
		ReplyToMessageID: req.ReplyToMessageID,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func searchMessages(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	msgs, err := svc.SearchMessages(c.Request.Context(), chatID, security.GetUserID(c), c.Query("q"), queryInt(c, "limit", 0))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

func editMessage(c *gin.Context, svc *internalchat.Service) {
	messageID, ok := pathUUID(c, "messageId", "message")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(c, &req) {
		return
	}
	msg, err := svc.EditMessage(c.Request.Context(), messageID, security.GetUserID(c), req.Content)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func deleteMessage(c *gin.Context, svc *internalchat.Service) {
	messageID, ok := pathUUID(c, "messageId", "message")
	if !ok {
		return
	}
	res, err := svc.DeleteMessage(c.Request.Context(), messageID, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func toggleReaction(c *gin.Context, svc *internalchat.Service) {
	messageID, ok := pathUUID(c, "messageId", "message")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	msg, err := svc.ToggleReaction(c.Request.Context(), messageID, security.GetUserID(c), req.Emoji)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func markRead(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var req struct {
		Until time.Time `json:"until" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	res, err := svc.MarkReadUntil(c.Request.Context(), chatID, security.GetUserID(c), req.Until)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
