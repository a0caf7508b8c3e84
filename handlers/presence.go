package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nazim05-hub/MessengerX/middleware"
	"github.com/nazim05-hub/MessengerX/models"
	"github.com/nazim05-hub/MessengerX/services"
	"github.com/nazim05-hub/MessengerX/utils"
)

// PresenceHandler serves the authenticated presence and typing queries
type PresenceHandler struct {
	hub    *services.Hub
	dir    services.Directory
	logger *utils.Logger
}

func NewPresenceHandler(hub *services.Hub, dir services.Directory, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		hub:    hub,
		dir:    dir,
		logger: logger,
	}
}

func (ph *PresenceHandler) GetUserStatus(c *gin.Context) {
	userID, ok := parseIDParam(c, "user_id")
	if !ok {
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		UserID: userID,
		Status: ph.hub.GetUserStatus(c.Request.Context(), userID),
	})
}

// GetTypingUsers is restricted to members of the chat
func (ph *PresenceHandler) GetTypingUsers(c *gin.Context) {
	chatID, ok := parseIDParam(c, "chat_id")
	if !ok {
		return
	}
	requester, _ := c.MustGet(middleware.UserIDKey).(uint)

	member, err := ph.dir.IsChatMember(c.Request.Context(), chatID, requester)
	if err != nil {
		ph.logger.Error("Failed to check chat membership", "chat_id", chatID, "user_id", requester, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this chat"})
		return
	}

	c.JSON(http.StatusOK, models.TypingUsersResponse{
		ChatID:  chatID,
		UserIDs: ph.hub.GetTypingUsers(c.Request.Context(), chatID),
	})
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}
