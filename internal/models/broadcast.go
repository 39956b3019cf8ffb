package models

import "time"

// BroadcasterInfo is the display profile supplied by the external CMS when a
// broadcaster goes on air. Extra carries arbitrary extension fields verbatim.
type BroadcasterInfo struct {
	DisplayName string                 `json:"displayName"`
	StationName string                 `json:"stationName"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// AudioSourceType classifies one input into the on-air mix.
type AudioSourceType string

const (
	SourceHost    AudioSourceType = "host"
	SourceGuest   AudioSourceType = "guest"
	SourceCaller  AudioSourceType = "caller"
	SourceMusic   AudioSourceType = "music"
	SourceEffects AudioSourceType = "effects"
)

// AudioSourceInfo is one named, independently controllable mixer input.
type AudioSourceInfo struct {
	SourceID          string          `json:"sourceId"`
	Type              AudioSourceType `json:"type"`
	Name              string          `json:"name"`
	Volume            float64         `json:"volume"`
	IsMuted           bool            `json:"isMuted"`
	IsActive          bool            `json:"isActive"`
	Priority          int             `json:"priority"`
	OwnerConnectionID string          `json:"ownerConnectionId"`
	AddedAt           time.Time       `json:"addedAt"`
}

// AudioSourceUpdate is a partial merge applied to an existing source.
// Nil fields are left unchanged.
type AudioSourceUpdate struct {
	Volume   *float64 `json:"volume,omitempty"`
	IsMuted  *bool    `json:"isMuted,omitempty"`
	IsActive *bool    `json:"isActive,omitempty"`
	Priority *int     `json:"priority,omitempty"`
}

// CallStatus tracks a call-in request through its lifecycle.
type CallStatus string

const (
	CallPending  CallStatus = "pending"
	CallAccepted CallStatus = "accepted"
	CallRejected CallStatus = "rejected"
)

// CallRequest is one queued call-in request.
type CallRequest struct {
	CallID             string     `json:"callId"`
	CallerConnectionID string     `json:"callerConnectionId"`
	CallerName         string     `json:"callerName"`
	CallerLocation     string     `json:"callerLocation"`
	RequestTime        time.Time  `json:"requestTime"`
	Status             CallStatus `json:"status"`
}

// ActiveCall is a call-in request promoted on air.
type ActiveCall struct {
	CallRequest
	AcceptTime time.Time `json:"acceptTime"`
}

// SessionStats are live counters for one broadcast session.
type SessionStats struct {
	StartTime     time.Time `json:"startTime"`
	PeakListeners int       `json:"peakListeners"`
	TotalCalls    int       `json:"totalCalls"`
	TotalMessages int       `json:"totalMessages"`
}

// SessionSnapshot is a read-only view of one session for the HTTP API.
type SessionSnapshot struct {
	BroadcastID   string            `json:"broadcastId"`
	Broadcaster   BroadcasterInfo   `json:"broadcaster"`
	IsLive        bool              `json:"isLive"`
	ListenerCount int               `json:"listenerCount"`
	AudioSources  []AudioSourceInfo `json:"audioSources"`
	QueuedCalls   int               `json:"queuedCalls"`
	ActiveCalls   int               `json:"activeCalls"`
	Stats         SessionStats      `json:"stats"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
}

// ServerStats is the aggregate snapshot emitted by the maintenance sweep.
type ServerStats struct {
	ActiveBroadcasts int     `json:"activeBroadcasts"`
	TotalConnections int     `json:"totalConnections"`
	TotalListeners   int     `json:"totalListeners"`
	TotalActiveCalls int     `json:"totalActiveCalls"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
}
