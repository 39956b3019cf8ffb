package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/internal/models"
	"github.com/mossy-p/onair/internal/session"
	"github.com/mossy-p/onair/internal/stream"
)

// APIHandler serves the broadcast lifecycle and introspection endpoints the
// external CMS drives.
type APIHandler struct {
	sessions *session.Store
	hub      *stream.Hub
	log      zerolog.Logger
}

func NewAPIHandler(sessions *session.Store, hub *stream.Hub, log zerolog.Logger) *APIHandler {
	return &APIHandler{sessions: sessions, hub: hub, log: log.With().Str("component", "api").Logger()}
}

// ActiveBroadcasts is GET /api/broadcast/active.
func (h *APIHandler) ActiveBroadcasts(c *gin.Context) {
	all := h.sessions.ActiveSessions()
	live := make([]models.SessionSnapshot, 0, len(all))
	for _, s := range all {
		if s.IsLive {
			live = append(live, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": live})
}

// BroadcastStats is GET /api/broadcast/:id/stats.
func (h *APIHandler) BroadcastStats(c *gin.Context) {
	snap, err := h.sessions.Snapshot(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// StartBroadcast is POST /api/broadcast/:id/start. Returns 409 when a live
// session already holds the id.
func (h *APIHandler) StartBroadcast(c *gin.Context) {
	var info models.BroadcasterInfo
	_ = c.ShouldBindJSON(&info)

	id := c.Param("id")
	if err := h.sessions.StartSession(id, info); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcastId": id, "status": "created"})
}

// EndBroadcast is POST /api/broadcast/:id/end.
func (h *APIHandler) EndBroadcast(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.EndSession(id); err != nil {
		abortWithError(c, err)
		return
	}
	h.hub.End(id)
	c.JSON(http.StatusOK, gin.H{"broadcastId": id, "status": "ended"})
}

// abortWithError maps the shared error taxonomy onto HTTP statuses. Every
// response carries the specific reason string.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var rl *models.RateLimitError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyActive):
		status = http.StatusConflict
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.As(err, &rl):
		status = http.StatusTooManyRequests
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
