package models

import "time"

// MessageType distinguishes ordinary chat from system and announcement posts.
type MessageType string

const (
	MessageTypeUser         MessageType = "user"
	MessageTypeSystem       MessageType = "system"
	MessageTypeAnnouncement MessageType = "announcement"
)

// Chat roles. RoleListener is the unprivileged default; slow mode only
// applies to it.
const (
	RoleListener    = "listener"
	RoleModerator   = "moderator"
	RoleBroadcaster = "broadcaster"
)

// ChatMessage is one entry in a room's bounded history.
type ChatMessage struct {
	MessageID   string              `json:"messageId"`
	UserID      string              `json:"userId"`
	Username    string              `json:"username"`
	Content     string              `json:"content"`
	MessageType MessageType         `json:"messageType"`
	Role        string              `json:"role"`
	Timestamp   time.Time           `json:"timestamp"`
	Likes       int                 `json:"likes"`
	LikedBy     map[string]struct{} `json:"-"`
	IsEdited    bool                `json:"isEdited"`
	IsDeleted   bool                `json:"isDeleted"`
	IsPinned    bool                `json:"isPinned"`
	ReplyTo     string              `json:"replyTo,omitempty"`
}

// ChatUser is one present member of a room, keyed by connection id.
type ChatUser struct {
	ConnectionID    string    `json:"connectionId"`
	UserID          string    `json:"userId"`
	Username        string    `json:"username"`
	Role            string    `json:"role"`
	JoinedAt        time.Time `json:"joinedAt"`
	LastActivity    time.Time `json:"lastActivity"`
	MessageCount    int       `json:"messageCount"`
	IsTyping        bool      `json:"isTyping"`
	IsMuted         bool      `json:"isMuted"`
	IsBanned        bool      `json:"isBanned"`
	LastMessageTime time.Time `json:"lastMessageTime"`
}

// RoomSettings are the per-room knobs the moderation API can change.
type RoomSettings struct {
	SlowModeSeconds   int  `json:"slowModeSeconds"`
	MaxMessageLength  int  `json:"maxMessageLength"`
	AllowEmojis       bool `json:"allowEmojis"`
	ModerationEnabled bool `json:"moderationEnabled"`
}

// RoomStats are live counters for one chat room.
type RoomStats struct {
	TotalMessages int       `json:"totalMessages"`
	TotalUsers    int       `json:"totalUsers"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RoomSnapshot is a read-only view of one room for the HTTP API.
type RoomSnapshot struct {
	BroadcastID string       `json:"broadcastId"`
	UserCount   int          `json:"userCount"`
	Users       []ChatUser   `json:"users"`
	Settings    RoomSettings `json:"settings"`
	Stats       RoomStats    `json:"stats"`
}
