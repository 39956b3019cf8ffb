package models

import "encoding/json"

// EventType identifies a message on the real-time event channel.
type EventType string

// Client -> server events.
const (
	EventJoinAsBroadcaster EventType = "join-as-broadcaster"
	EventJoinBroadcast     EventType = "join-broadcast"
	EventLeaveBroadcast    EventType = "leave-broadcast"
	EventBroadcastAudio    EventType = "broadcast-audio"
	EventAddAudioSource    EventType = "add-audio-source"
	EventUpdateAudioSource EventType = "update-audio-source"
	EventRemoveAudioSource EventType = "remove-audio-source"
	EventRequestCall       EventType = "request-call"
	EventAcceptCall        EventType = "accept-call"
	EventRejectCall        EventType = "reject-call"
	EventHangUp            EventType = "hang-up"
	EventJoinChat          EventType = "join-chat"
	EventLeaveChat         EventType = "leave-chat"
	EventSendMessage       EventType = "send-message"
	EventEditMessage       EventType = "edit-message"
	EventDeleteMessage     EventType = "delete-message"
	EventReactToMessage    EventType = "react-to-message"
	EventTypingStart       EventType = "typing-start"
	EventTypingStop        EventType = "typing-stop"
	EventSendAnnouncement  EventType = "send-announcement"
)

// Server -> client events.
const (
	EventBroadcasterReady   EventType = "broadcaster-ready"
	EventBroadcastInfo      EventType = "broadcast-info"
	EventListenerCount      EventType = "listener-count"
	EventAudioStream        EventType = "audio-stream"
	EventAudioSourceAdded   EventType = "audio-source-added"
	EventAudioSourceUpdated EventType = "audio-source-updated"
	EventAudioSourceRemoved EventType = "audio-source-removed"
	EventIncomingCall       EventType = "incoming-call"
	EventCallPending        EventType = "call-pending"
	EventCallAccepted       EventType = "call-accepted"
	EventCallRejected       EventType = "call-rejected"
	EventCallTimeout        EventType = "call-timeout"
	EventCallEnded          EventType = "call-ended"
	EventBroadcastEnded     EventType = "broadcast-ended"
	EventServerStats        EventType = "server-stats"
	EventCallError          EventType = "call-error"

	EventChatHistory       EventType = "chat-history"
	EventUsersOnline       EventType = "users-online"
	EventUserJoined        EventType = "user-joined"
	EventUserLeft          EventType = "user-left"
	EventNewMessage        EventType = "new-message"
	EventMessageEdited     EventType = "message-edited"
	EventMessageDeleted    EventType = "message-deleted"
	EventMessageReaction   EventType = "message-reaction"
	EventUserTyping        EventType = "user-typing"
	EventUserStoppedTyping EventType = "user-stopped-typing"
	EventMessageError      EventType = "message-error"
)

// Event is the server->client envelope. Payload is any JSON-marshalable value.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ClientMessage is the client->server envelope. Payload stays raw until the
// router knows which event type it is handling.
type ClientMessage struct {
	Type        EventType       `json:"type"`
	BroadcastID string          `json:"broadcastId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// AudioFramePayload carries one opaque audio frame from the broadcaster.
// Audio is base64 in JSON; the HTTP stream path decodes it back to raw bytes.
type AudioFramePayload struct {
	Audio     []byte                 `json:"audio"`
	Timestamp int64                  `json:"timestamp"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// ErrorPayload carries a human-readable rejection reason to one client.
type ErrorPayload struct {
	Reason string `json:"reason"`
	// WaitSeconds is set for slow-mode rejections.
	WaitSeconds float64 `json:"waitSeconds,omitempty"`
}
