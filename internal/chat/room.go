// Package chat runs one room per broadcast: bounded message history,
// presence, typing indicators, slow mode and moderation. Every room has its
// own mutex; check-then-append sequences are atomic under concurrent senders.
package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mossy-p/onair/internal/models"
	"github.com/mossy-p/onair/internal/registry"
)

// Config holds the engine's capacity and timing knobs.
type Config struct {
	HistoryCap     int           // retained messages per room
	JoinReplay     int           // messages replayed to a joining user
	TypingTTL      time.Duration // auto-expiry after typing-start
	TypingSweepTTL time.Duration // maintenance backstop for missed stops
	RoomIdleTTL    time.Duration // empty-room lifetime before collection

	DefaultMaxMessageLength int
	DefaultSlowModeSeconds  int
}

func (c *Config) applyDefaults() {
	if c.HistoryCap <= 0 {
		c.HistoryCap = 200
	}
	if c.JoinReplay <= 0 {
		c.JoinReplay = 50
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	if c.TypingSweepTTL <= 0 {
		c.TypingSweepTTL = 10 * time.Second
	}
	if c.RoomIdleTTL <= 0 {
		c.RoomIdleTTL = 30 * time.Minute
	}
	if c.DefaultMaxMessageLength <= 0 {
		c.DefaultMaxMessageLength = 500
	}
}

// MessageObserver learns about accepted chat messages; the session store
// uses it to keep its per-broadcast message counter.
type MessageObserver interface {
	NoteChatMessage(broadcastID string)
}

type typingState struct {
	username  string
	startTime time.Time
	timer     *time.Timer
}

type room struct {
	mu sync.Mutex

	id       string
	messages []*models.ChatMessage
	users    map[string]*models.ChatUser // keyed by connection id
	typing   map[string]*typingState     // keyed by connection id
	limiters map[string]*rate.Limiter    // slow-mode bucket per connection
	settings models.RoomSettings
	stats    models.RoomStats

	// emptySince is set when the last user leaves; the sweep collects the
	// room once it has been empty past RoomIdleTTL. Zero while occupied.
	emptySince time.Time
}

// Engine is the chat room table.
type Engine struct {
	mu    sync.RWMutex
	rooms map[string]*room

	reg      *registry.Registry
	observer MessageObserver
	cfg      Config
	log      zerolog.Logger
}

func NewEngine(reg *registry.Registry, observer MessageObserver, cfg Config, log zerolog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		rooms:    make(map[string]*room),
		reg:      reg,
		observer: observer,
		cfg:      cfg,
		log:      log.With().Str("component", "chat").Logger(),
	}
}

func (e *Engine) getRoom(broadcastID string) (*room, bool) {
	e.mu.RLock()
	r, ok := e.rooms[broadcastID]
	e.mu.RUnlock()
	return r, ok
}

func (e *Engine) getOrCreateRoom(broadcastID string) *room {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[broadcastID]
	if !ok {
		r = &room{
			id:       broadcastID,
			users:    make(map[string]*models.ChatUser),
			typing:   make(map[string]*typingState),
			limiters: make(map[string]*rate.Limiter),
			settings: models.RoomSettings{
				SlowModeSeconds:  e.cfg.DefaultSlowModeSeconds,
				MaxMessageLength: e.cfg.DefaultMaxMessageLength,
				AllowEmojis:      true,
			},
			stats: models.RoomStats{CreatedAt: time.Now()},
		}
		e.rooms[broadcastID] = r
		e.log.Info().Str("room", broadcastID).Msg("room created")
	}
	return r
}

// JoinRoom adds a user to the room, creating it lazily. The joiner receives
// the recent history and the presence list; everyone else sees user-joined.
func (e *Engine) JoinRoom(broadcastID, connID, userID, username, role string) models.ChatUser {
	if role == "" {
		role = models.RoleListener
	}
	r := e.getOrCreateRoom(broadcastID)

	now := time.Now()
	user := models.ChatUser{
		ConnectionID: connID,
		UserID:       userID,
		Username:     username,
		Role:         role,
		JoinedAt:     now,
		LastActivity: now,
	}

	r.mu.Lock()
	stored := user
	r.users[connID] = &stored
	r.limiters[connID] = rate.NewLimiter(slowModeLimit(r.settings.SlowModeSeconds), 1)
	r.stats.TotalUsers++
	r.emptySince = time.Time{}
	history := r.recentLocked(e.cfg.JoinReplay)
	online := r.usersLocked()
	others := r.connIDsLocked(connID)
	r.mu.Unlock()

	e.reg.SetRoom(connID, broadcastID)

	e.reg.Send(connID, models.Event{Type: models.EventChatHistory, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"messages":    history,
	}})
	e.reg.Send(connID, models.Event{Type: models.EventUsersOnline, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"users":       online,
	}})
	ev := models.Event{Type: models.EventUserJoined, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"user":        user,
	}}
	for _, id := range others {
		e.reg.Send(id, ev)
	}
	return user
}

// LeaveRoom removes a user on disconnect or explicit leave. The room itself
// survives empty for RoomIdleTTL to tolerate brief reconnect gaps.
func (e *Engine) LeaveRoom(broadcastID, connID string) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return
	}
	r.mu.Lock()
	user, present := r.users[connID]
	if !present {
		r.mu.Unlock()
		return
	}
	left := *user
	delete(r.users, connID)
	delete(r.limiters, connID)
	if ts, ok := r.typing[connID]; ok {
		ts.timer.Stop()
		delete(r.typing, connID)
	}
	if len(r.users) == 0 {
		r.emptySince = time.Now()
	}
	remaining := r.connIDsLocked("")
	r.mu.Unlock()

	ev := models.Event{Type: models.EventUserLeft, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"user":        left,
	}}
	for _, id := range remaining {
		e.reg.Send(id, ev)
	}
}

// History returns up to limit recent messages in arrival order.
func (e *Engine) History(broadcastID string, limit int) ([]models.ChatMessage, error) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return nil, models.NotFoundf("chat room %q", broadcastID)
	}
	if limit <= 0 {
		limit = e.cfg.JoinReplay
	}
	if limit > e.cfg.HistoryCap {
		limit = e.cfg.HistoryCap
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentLocked(limit), nil
}

// Snapshot returns a read-only view of one room.
func (e *Engine) Snapshot(broadcastID string) (models.RoomSnapshot, error) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.RoomSnapshot{}, models.NotFoundf("chat room %q", broadcastID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.RoomSnapshot{
		BroadcastID: r.id,
		UserCount:   len(r.users),
		Users:       r.usersLocked(),
		Settings:    r.settings,
		Stats:       r.stats,
	}, nil
}

// UpdateSettings replaces the room's settings and retunes every slow-mode
// bucket to the new window.
func (e *Engine) UpdateSettings(broadcastID string, settings models.RoomSettings) (models.RoomSettings, error) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.RoomSettings{}, models.NotFoundf("chat room %q", broadcastID)
	}
	if settings.MaxMessageLength <= 0 {
		return models.RoomSettings{}, models.Validationf("maxMessageLength must be positive")
	}
	if settings.SlowModeSeconds < 0 {
		return models.RoomSettings{}, models.Validationf("slowModeSeconds must not be negative")
	}
	r.mu.Lock()
	r.settings = settings
	for _, lim := range r.limiters {
		lim.SetLimit(slowModeLimit(settings.SlowModeSeconds))
	}
	r.mu.Unlock()
	return settings, nil
}

// Sweep expires typing indicators past the backstop TTL and collects rooms
// that have sat empty past the idle TTL.
func (e *Engine) Sweep(now time.Time) {
	e.mu.Lock()
	all := make([]*room, 0, len(e.rooms))
	for id, r := range e.rooms {
		r.mu.Lock()
		if !r.emptySince.IsZero() && now.Sub(r.emptySince) > e.cfg.RoomIdleTTL {
			for _, ts := range r.typing {
				ts.timer.Stop()
			}
			r.mu.Unlock()
			delete(e.rooms, id)
			e.log.Info().Str("room", id).Msg("idle room collected")
			continue
		}
		r.mu.Unlock()
		all = append(all, r)
	}
	e.mu.Unlock()

	for _, r := range all {
		e.expireTyping(r, now, e.cfg.TypingSweepTTL)
	}
}

// Aggregate reports how many messages all rooms have accepted.
func (e *Engine) Aggregate() (rooms, totalMessages int) {
	e.mu.RLock()
	all := make([]*room, 0, len(e.rooms))
	for _, r := range e.rooms {
		all = append(all, r)
	}
	e.mu.RUnlock()
	for _, r := range all {
		r.mu.Lock()
		totalMessages += r.stats.TotalMessages
		r.mu.Unlock()
	}
	return len(all), totalMessages
}

func slowModeLimit(seconds int) rate.Limit {
	if seconds <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Duration(seconds) * time.Second)
}

// recentLocked returns the newest limit messages in arrival order.
// Callers must hold r.mu.
func (r *room) recentLocked(limit int) []models.ChatMessage {
	start := 0
	if len(r.messages) > limit {
		start = len(r.messages) - limit
	}
	out := make([]models.ChatMessage, 0, len(r.messages)-start)
	for _, m := range r.messages[start:] {
		out = append(out, *m)
	}
	return out
}

func (r *room) usersLocked() []models.ChatUser {
	out := make([]models.ChatUser, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out
}

// connIDsLocked returns every member connection id except the excluded one.
func (r *room) connIDsLocked(exclude string) []string {
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func (r *room) findMessageLocked(messageID string) (*models.ChatMessage, bool) {
	for _, m := range r.messages {
		if m.MessageID == messageID {
			return m, true
		}
	}
	return nil, false
}
