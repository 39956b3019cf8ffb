package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/internal/stream"
)

// keepAliveInterval defeats idle-connection timeouts on proxies between the
// server and a stalled-but-connected player.
const keepAliveInterval = 30 * time.Second

// keepAlivePadding is a single zero byte; MP3 decoders skip padding between
// frames, so it is audibly a no-op.
var keepAlivePadding = []byte{0x00}

// StreamHandler serves the continuous HTTP audio path.
type StreamHandler struct {
	hub *stream.Hub
	log zerolog.Logger
}

func NewStreamHandler(hub *stream.Hub, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, log: log.With().Str("component", "streamhttp").Logger()}
}

// ServeAudio is GET /stream/broadcast/:broadcastId/stream.mp3. It registers
// the caller as a stream listener, replays the buffered recent frames, then
// relays every new frame until the client goes away or the stream ends. A
// write failure deregisters only this listener.
func (h *StreamHandler) ServeAudio(c *gin.Context) {
	broadcastID := c.Param("broadcastId")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "audio/mpeg")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	recent, frames, cancel := h.hub.Subscribe(broadcastID)
	defer cancel()
	h.log.Info().Str("broadcast", broadcastID).Msg("stream listener connected")

	for _, frame := range recent {
		if _, err := c.Writer.Write(frame); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case frame, open := <-frames:
			if !open {
				return
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if _, err := c.Writer.Write(keepAlivePadding); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}

// StreamInfo is GET /stream/broadcast/:broadcastId/info.
func (h *StreamHandler) StreamInfo(c *gin.Context) {
	info, ok := h.hub.InfoFor(c.Param("broadcastId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "broadcast is not streaming"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListStreams is GET /stream/streams.
func (h *StreamHandler) ListStreams(c *gin.Context) {
	infos := h.hub.List()
	type entry struct {
		stream.Info
		URL string `json:"url"`
	}
	out := make([]entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, entry{
			Info: info,
			URL:  fmt.Sprintf("http://%s/stream/broadcast/%s/stream.mp3", c.Request.Host, info.BroadcastID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"streams": out})
}
