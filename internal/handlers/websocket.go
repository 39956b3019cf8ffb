package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/internal/chat"
	"github.com/mossy-p/onair/internal/models"
	"github.com/mossy-p/onair/internal/registry"
	"github.com/mossy-p/onair/internal/session"
	"github.com/mossy-p/onair/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one websocket connection on the real-time event channel.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	// Chat identity, set on join-chat. Only the readPump goroutine touches
	// these, so no locking is needed.
	userID string
	role   string
}

// Send implements registry.Sender: a non-blocking push that reports false
// when the client's buffer is full.
func (c *Client) Send(ev models.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal event")
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn().Str("conn", c.ID).Msg("send buffer full, dropping event")
		return false
	}
}

// WSHandler upgrades connections and routes events to the core services.
type WSHandler struct {
	reg      *registry.Registry
	sessions *session.Store
	rooms    *chat.Engine
	hub      *stream.Hub
	log      zerolog.Logger
}

func NewWSHandler(reg *registry.Registry, sessions *session.Store, rooms *chat.Engine, hub *stream.Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		reg:      reg,
		sessions: sessions,
		rooms:    rooms,
		hub:      hub,
		log:      log.With().Str("component", "ws").Logger(),
	}
}

// HandleConnection is the GET /ws endpoint.
func (h *WSHandler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		log:  h.log,
	}
	h.reg.Register(client.ID, client)
	h.log.Info().Str("conn", client.ID).Msg("connection opened")

	go client.writePump()
	go h.readPump(client)
}

func (h *WSHandler) readPump(c *Client) {
	defer func() {
		c.conn.Close()
		rec, ok := h.reg.Unregister(c.ID)
		if ok {
			if rec.BroadcastID != "" {
				if ended := h.sessions.HandleDisconnect(rec.BroadcastID, c.ID); ended {
					h.hub.End(rec.BroadcastID)
				}
			}
			if rec.RoomID != "" {
				h.rooms.LeaveRoom(rec.RoomID, c.ID)
			}
		}
		h.log.Info().Str("conn", c.ID).Msg("connection closed")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn", c.ID).Msg("read error")
			}
			return
		}
		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendChatError(c, models.Validationf("malformed message"))
			continue
		}
		h.route(c, msg)
	}
}

func (h *WSHandler) route(c *Client, msg models.ClientMessage) {
	switch msg.Type {
	case models.EventJoinAsBroadcaster:
		var info models.BroadcasterInfo
		unmarshalPayload(msg.Payload, &info)
		if err := h.sessions.AttachBroadcaster(msg.BroadcastID, c.ID, info); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventJoinBroadcast:
		h.sessions.AttachListener(msg.BroadcastID, c.ID)

	case models.EventLeaveBroadcast:
		h.sessions.DetachListener(msg.BroadcastID, c.ID)
		h.reg.SetBroadcast(c.ID, "")

	case models.EventBroadcastAudio:
		var frame models.AudioFramePayload
		unmarshalPayload(msg.Payload, &frame)
		if err := h.sessions.BroadcastAudio(msg.BroadcastID, c.ID, frame); err != nil {
			h.sendCallError(c, err)
			return
		}
		h.hub.Publish(msg.BroadcastID, frame.Audio)

	case models.EventAddAudioSource:
		var src models.AudioSourceInfo
		unmarshalPayload(msg.Payload, &src)
		if _, err := h.sessions.AddSource(msg.BroadcastID, c.ID, src); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventUpdateAudioSource:
		var p struct {
			SourceID string `json:"sourceId"`
			models.AudioSourceUpdate
		}
		unmarshalPayload(msg.Payload, &p)
		if _, err := h.sessions.UpdateSource(msg.BroadcastID, c.ID, p.SourceID, p.AudioSourceUpdate); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventRemoveAudioSource:
		var p struct {
			SourceID string `json:"sourceId"`
		}
		unmarshalPayload(msg.Payload, &p)
		if err := h.sessions.RemoveSource(msg.BroadcastID, c.ID, p.SourceID); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventRequestCall:
		var p struct {
			Name     string `json:"name"`
			Location string `json:"location"`
		}
		unmarshalPayload(msg.Payload, &p)
		if _, err := h.sessions.RequestCall(msg.BroadcastID, c.ID, p.Name, p.Location); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventAcceptCall:
		var p struct {
			CallID string `json:"callId"`
		}
		unmarshalPayload(msg.Payload, &p)
		if _, err := h.sessions.AcceptCall(c.ID, p.CallID); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventRejectCall:
		var p struct {
			CallID string `json:"callId"`
		}
		unmarshalPayload(msg.Payload, &p)
		if err := h.sessions.RejectCall(c.ID, p.CallID); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventHangUp:
		var p struct {
			CallerConnectionID string `json:"callerConnectionId"`
		}
		unmarshalPayload(msg.Payload, &p)
		if p.CallerConnectionID == "" {
			p.CallerConnectionID = c.ID
		}
		if err := h.sessions.HangUp(msg.BroadcastID, c.ID, p.CallerConnectionID); err != nil {
			h.sendCallError(c, err)
		}

	case models.EventJoinChat:
		var p struct {
			UserID   string `json:"userId"`
			Username string `json:"username"`
			Role     string `json:"role"`
		}
		unmarshalPayload(msg.Payload, &p)
		if p.UserID == "" {
			p.UserID = c.ID
		}
		user := h.rooms.JoinRoom(msg.BroadcastID, c.ID, p.UserID, p.Username, p.Role)
		c.userID = user.UserID
		c.role = user.Role

	case models.EventLeaveChat:
		h.rooms.LeaveRoom(msg.BroadcastID, c.ID)
		h.reg.SetRoom(c.ID, "")

	case models.EventSendMessage:
		var p struct {
			Content string `json:"content"`
			ReplyTo string `json:"replyTo"`
		}
		unmarshalPayload(msg.Payload, &p)
		if _, err := h.rooms.SendMessage(msg.BroadcastID, c.ID, p.Content, p.ReplyTo); err != nil {
			h.sendChatError(c, err)
		}

	case models.EventEditMessage:
		var p struct {
			MessageID string `json:"messageId"`
			Content   string `json:"content"`
		}
		unmarshalPayload(msg.Payload, &p)
		if _, err := h.rooms.EditMessage(msg.BroadcastID, c.userID, p.MessageID, p.Content); err != nil {
			h.sendChatError(c, err)
		}

	case models.EventDeleteMessage:
		var p struct {
			MessageID string `json:"messageId"`
		}
		unmarshalPayload(msg.Payload, &p)
		if err := h.rooms.DeleteMessage(msg.BroadcastID, c.userID, c.role, p.MessageID); err != nil {
			h.sendChatError(c, err)
		}

	case models.EventReactToMessage:
		var p struct {
			MessageID string `json:"messageId"`
		}
		unmarshalPayload(msg.Payload, &p)
		if _, err := h.rooms.ReactToMessage(msg.BroadcastID, c.ID, p.MessageID); err != nil {
			h.sendChatError(c, err)
		}

	case models.EventTypingStart:
		h.rooms.StartTyping(msg.BroadcastID, c.ID)

	case models.EventTypingStop:
		h.rooms.StopTyping(msg.BroadcastID, c.ID)

	case models.EventSendAnnouncement:
		var p struct {
			Content string `json:"content"`
		}
		unmarshalPayload(msg.Payload, &p)
		if _, err := h.rooms.SendAnnouncement(msg.BroadcastID, c.role, p.Content); err != nil {
			h.sendChatError(c, err)
		}

	default:
		h.log.Warn().Str("type", string(msg.Type)).Msg("unknown event type")
	}
}

func (h *WSHandler) sendChatError(c *Client, err error) {
	c.Send(models.Event{Type: models.EventMessageError, Payload: errorPayload(err)})
}

func (h *WSHandler) sendCallError(c *Client, err error) {
	c.Send(models.Event{Type: models.EventCallError, Payload: errorPayload(err)})
}

func errorPayload(err error) models.ErrorPayload {
	p := models.ErrorPayload{Reason: err.Error()}
	var rl *models.RateLimitError
	if errors.As(err, &rl) {
		p.WaitSeconds = rl.Wait.Seconds()
	}
	return p
}

func unmarshalPayload(raw json.RawMessage, v interface{}) {
	if len(raw) == 0 {
		return
	}
	// Malformed payloads leave zero values; the services reject those.
	_ = json.Unmarshal(raw, v)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
