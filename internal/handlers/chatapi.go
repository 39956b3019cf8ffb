package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/internal/chat"
	"github.com/mossy-p/onair/internal/models"
)

// ChatAPIHandler serves room introspection and the REST moderation surface.
// The privileged routes run behind JWT middleware, which stores user_id and
// role in the gin context.
type ChatAPIHandler struct {
	rooms *chat.Engine
	log   zerolog.Logger
}

func NewChatAPIHandler(rooms *chat.Engine, log zerolog.Logger) *ChatAPIHandler {
	return &ChatAPIHandler{rooms: rooms, log: log.With().Str("component", "chatapi").Logger()}
}

// RoomInfo is GET /api/chat/:broadcastId.
func (h *ChatAPIHandler) RoomInfo(c *gin.Context) {
	snap, err := h.rooms.Snapshot(c.Param("broadcastId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RoomHistory is GET /api/chat/:broadcastId/history?limit=.
func (h *ChatAPIHandler) RoomHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	history, err := h.rooms.History(c.Param("broadcastId"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

// UpdateSettings is PUT /api/chat/:broadcastId/settings. Moderation-only.
func (h *ChatAPIHandler) UpdateSettings(c *gin.Context) {
	if !actorPrivileged(c) {
		abortWithError(c, models.Unauthorizedf("only moderators may change room settings"))
		return
	}
	var settings models.RoomSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		abortWithError(c, models.Validationf("invalid settings body"))
		return
	}
	updated, err := h.rooms.UpdateSettings(c.Param("broadcastId"), settings)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// EditMessage is PUT /api/chat/:broadcastId/messages/:messageId. Only the
// original author may edit, regardless of role.
func (h *ChatAPIHandler) EditMessage(c *gin.Context) {
	var body struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.Validationf("invalid message body"))
		return
	}
	msg, err := h.rooms.EditMessage(c.Param("broadcastId"), actorUserID(c), c.Param("messageId"), body.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage is DELETE /api/chat/:broadcastId/messages/:messageId.
func (h *ChatAPIHandler) DeleteMessage(c *gin.Context) {
	err := h.rooms.DeleteMessage(c.Param("broadcastId"), actorUserID(c), actorRole(c), c.Param("messageId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": c.Param("messageId"), "status": "deleted"})
}

// PinMessage is PUT /api/chat/:broadcastId/messages/:messageId/pin.
func (h *ChatAPIHandler) PinMessage(c *gin.Context) {
	var body struct {
		Pinned bool `json:"pinned"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.Validationf("invalid pin body"))
		return
	}
	if err := h.rooms.PinMessage(c.Param("broadcastId"), actorRole(c), c.Param("messageId"), body.Pinned); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": c.Param("messageId"), "pinned": body.Pinned})
}

func actorUserID(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func actorRole(c *gin.Context) string {
	if v, ok := c.Get("role"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func actorPrivileged(c *gin.Context) bool {
	role := actorRole(c)
	return role == models.RoleModerator || role == models.RoleBroadcaster
}
