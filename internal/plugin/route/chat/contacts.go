package chat

import (
	"net/http"

	internalchat "github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

func listContacts(c *gin.Context, svc *internalchat.Service) {
	var status *model.ContactStatus
	if v := c.Query("status"); v != "" {
		s := model.ContactStatus(v)
		status = &s
	}
	contacts, err := svc.ListContacts(c.Request.Context(), security.GetUserID(c), status)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contacts})
}

func sendFriendRequest(c *gin.Context, svc *internalchat.Service) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	contact, err := svc.SendFriendRequest(c.Request.Context(), security.GetUserID(c), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func acceptFriendRequest(c *gin.Context, svc *internalchat.Service) {
	contact, err := svc.AcceptFriendRequest(c.Request.Context(), security.GetUserID(c), c.Param("userId"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func rejectFriendRequest(c *gin.Context, svc *internalchat.Service) {
	if err := svc.RejectFriendRequest(c.Request.Context(), security.GetUserID(c), c.Param("userId")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func removeFriend(c *gin.Context, svc *internalchat.Service) {
	if err := svc.RemoveFriend(c.Request.Context(), security.GetUserID(c), c.Param("userId")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
