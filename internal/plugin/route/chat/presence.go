package chat

import (
	"net/http"

	registrypresence "github.com/chirino/chat-service/internal/registry/presence"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

type presenceResponse struct {
	ConnectionID         string `json:"connectionId,omitempty"`
	PreviousConnectionID string `json:"previousConnectionId,omitempty"`
	SessionID            string `json:"sessionId,omitempty"`
}

func presenceUnavailable(c *gin.Context, tracker registrypresence.Tracker) bool {
	if tracker.Available() {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"code": "presence_unavailable", "error": "presence tracking is disabled"})
	return true
}

func getPresence(c *gin.Context, tracker registrypresence.Tracker) {
	if presenceUnavailable(c, tracker) {
		return
	}
	ctx := c.Request.Context()
	userID := security.GetUserID(c)
	var resp presenceResponse
	var err error
	if resp.ConnectionID, err = tracker.GetConnectionID(ctx, userID); err != nil {
		handleError(c, err)
		return
	}
	if resp.PreviousConnectionID, err = tracker.GetPreviousConnectionID(ctx, userID); err != nil {
		handleError(c, err)
		return
	}
	if resp.SessionID, err = tracker.GetSessionID(ctx, userID); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func trackConnection(c *gin.Context, tracker registrypresence.Tracker) {
	if presenceUnavailable(c, tracker) {
		return
	}
	var req struct {
		ConnectionID string `json:"connectionId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	sessionID, err := tracker.TrackConnection(c.Request.Context(), security.GetUserID(c), req.ConnectionID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, presenceResponse{ConnectionID: req.ConnectionID, SessionID: sessionID})
}

func reconnect(c *gin.Context, tracker registrypresence.Tracker) {
	if presenceUnavailable(c, tracker) {
		return
	}
	var req struct {
		ConnectionID string `json:"connectionId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	userID := security.GetUserID(c)
	if err := tracker.MarkReconnected(ctx, userID, req.ConnectionID); err != nil {
		handleError(c, err)
		return
	}
	previous, err := tracker.GetPreviousConnectionID(ctx, userID)
	if err != nil {
		handleError(c, err)
		return
	}
	sessionID, err := tracker.GetSessionID(ctx, userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenceResponse{ConnectionID: req.ConnectionID, PreviousConnectionID: previous, SessionID: sessionID})
}

func clearPresence(c *gin.Context, tracker registrypresence.Tracker) {
	if presenceUnavailable(c, tracker) {
		return
	}
	if err := tracker.ClearReconnectionState(c.Request.Context(), security.GetUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
