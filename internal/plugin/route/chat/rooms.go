package chat

import (
	"net/http"

	internalchat "github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

func listChats(c *gin.Context, svc *internalchat.Service) {
	chats, err := svc.GetUserChats(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": chats})
}

func createChat(c *gin.Context, svc *internalchat.Service) {
	var req struct {
		Type        model.RoomType `json:"type"        binding:"required"`
		Name        *string        `json:"name"`
		Description *string        `json:"description"`
		MemberIDs   []string       `json:"memberIds"`
	}
	if !bindJSON(c, &req) {
		return
	}
	room, err := svc.CreateRoom(c.Request.Context(), security.GetUserID(c), internalchat.CreateRoomRequest{
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func updateChat(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if !bindJSON(c, &req) {
		return
	}
	room, err := svc.UpdateRoom(c.Request.Context(), chatID, security.GetUserID(c), req.Name, req.Description)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func setDefaults(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var flags model.PermissionFlags
	if !bindJSON(c, &flags) {
		return
	}
	room, err := svc.SetRoomDefaults(c.Request.Context(), chatID, security.GetUserID(c), flags)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func getPermissions(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	perms, err := svc.GetPermissions(c.Request.Context(), chatID, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func pinChat(c *gin.Context, svc *internalchat.Service, pinned bool) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var (
		m   *model.ChatRoomMember
		err error
	)
	if pinned {
		m, err = svc.PinChat(c.Request.Context(), chatID, security.GetUserID(c))
	} else {
		m, err = svc.UnpinChat(c.Request.Context(), chatID, security.GetUserID(c))
	}
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func clearHistory(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	m, err := svc.ClearHistory(c.Request.Context(), chatID, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func addMember(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	m, err := svc.AddMember(c.Request.Context(), chatID, security.GetUserID(c), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func updateMember(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var req struct {
		Role model.MemberRole `json:"role" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	m, err := svc.UpdateMemberRole(c.Request.Context(), chatID, security.GetUserID(c), c.Param("userId"), req.Role)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func setOverride(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	var flags model.PermissionFlags
	if !bindJSON(c, &flags) {
		return
	}
	o, err := svc.SetPermissionOverride(c.Request.Context(), chatID, security.GetUserID(c), c.Param("userId"), flags)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func removeMember(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	if err := svc.RemoveMember(c.Request.Context(), chatID, security.GetUserID(c), c.Param("userId")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func acceptInvite(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	m, err := svc.AcceptInvite(c.Request.Context(), chatID, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func rejectInvite(c *gin.Context, svc *internalchat.Service) {
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}
	if err := svc.RejectInvite(c.Request.Context(), chatID, security.GetUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
