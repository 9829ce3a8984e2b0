// Package chat mounts the HTTP surface of the chat service.
package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	internalchat "github.com/chirino/chat-service/internal/chat"
	registrypresence "github.com/chirino/chat-service/internal/registry/presence"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the chat, contact and presence routes.
// Called after the stores are initialized.
func MountRoutes(r *gin.Engine, svc *internalchat.Service, tracker registrypresence.Tracker, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/chats", func(c *gin.Context) { listChats(c, svc) })
	g.POST("/chats", func(c *gin.Context) { createChat(c, svc) })
	g.PATCH("/chats/:chatId", func(c *gin.Context) { updateChat(c, svc) })
	g.PUT("/chats/:chatId/defaults", func(c *gin.Context) { setDefaults(c, svc) })
	g.GET("/chats/:chatId/permissions", func(c *gin.Context) { getPermissions(c, svc) })
	g.POST("/chats/:chatId/pin", func(c *gin.Context) { pinChat(c, svc, true) })
	g.DELETE("/chats/:chatId/pin", func(c *gin.Context) { pinChat(c, svc, false) })
	g.POST("/chats/:chatId/clear-history", func(c *gin.Context) { clearHistory(c, svc) })
	g.POST("/chats/:chatId/read", func(c *gin.Context) { markRead(c, svc) })

	g.GET("/chats/:chatId/messages", func(c *gin.Context) { listMessages(c, svc) })
	g.POST("/chats/:chatId/messages", func(c *gin.Context) { sendMessage(c, svc) })
	g.GET("/chats/:chatId/search", func(c *gin.Context) { searchMessages(c, svc) })
	g.PATCH("/messages/:messageId", func(c *gin.Context) { editMessage(c, svc) })
	g.DELETE("/messages/:messageId", func(c *gin.Context) { deleteMessage(c, svc) })
	g.POST("/messages/:messageId/reactions", func(c *gin.Context) { toggleReaction(c, svc) })

	g.POST("/chats/:chatId/members", func(c *gin.Context) { addMember(c, svc) })
	g.PATCH("/chats/:chatId/members/:userId", func(c *gin.Context) { updateMember(c, svc) })
	g.PUT("/chats/:chatId/members/:userId/permissions", func(c *gin.Context) { setOverride(c, svc) })
	g.DELETE("/chats/:chatId/members/:userId", func(c *gin.Context) { removeMember(c, svc) })
	g.POST("/chats/:chatId/invitation/accept", func(c *gin.Context) { acceptInvite(c, svc) })
	g.POST("/chats/:chatId/invitation/reject", func(c *gin.Context) { rejectInvite(c, svc) })

	g.GET("/contacts", func(c *gin.Context) { listContacts(c, svc) })
	g.POST("/contacts/requests", func(c *gin.Context) { sendFriendRequest(c, svc) })
	g.POST("/contacts/requests/:userId/accept", func(c *gin.Context) { acceptFriendRequest(c, svc) })
	g.POST("/contacts/requests/:userId/reject", func(c *gin.Context) { rejectFriendRequest(c, svc) })
	g.DELETE("/contacts/:userId", func(c *gin.Context) { removeFriend(c, svc) })

	g.GET("/presence", func(c *gin.Context) { getPresence(c, tracker) })
	g.POST("/presence/connections", func(c *gin.Context) { trackConnection(c, tracker) })
	g.POST("/presence/reconnect", func(c *gin.Context) { reconnect(c, tracker) })
	g.DELETE("/presence", func(c *gin.Context) { clearPresence(c, tracker) })
}

func pathUUID(c *gin.Context, key, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(key))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": resource + " not found"})
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return false
	}
	return true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var reconcile *registrystore.ReconciliationNeededError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		body := gin.H{"code": "conflict", "error": conflict.Message}
		if conflict.Code != "" {
			body["code"] = conflict.Code
		}
		if len(conflict.Details) > 0 {
			body["details"] = conflict.Details
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &forbidden):
		body := gin.H{"code": "forbidden", "error": err.Error()}
		if forbidden.Capability != "" {
			body["capability"] = forbidden.Capability
		}
		c.JSON(http.StatusForbidden, body)
	case errors.As(err, &reconcile):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":      "reconciliation_needed",
			"error":     "the message could not be stored; it will be cleaned up automatically",
			"messageId": reconcile.MessageID,
		})
	default:
		log.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}
