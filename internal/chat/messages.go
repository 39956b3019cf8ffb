package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mossy-p/onair/internal/models"
)

// SendMessage validates and appends one user message. The validation order
// is fixed: membership, mute/ban, empty content, length, slow mode. An
// accepted message clears the sender's typing indicator, trims history past
// the retention cap and fans out to the whole room.
func (e *Engine) SendMessage(broadcastID, connID, content, replyTo string) (models.ChatMessage, error) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.ChatMessage{}, models.NotFoundf("chat room %q", broadcastID)
	}

	r.mu.Lock()
	user, present := r.users[connID]
	if !present {
		r.mu.Unlock()
		return models.ChatMessage{}, models.NotFoundf("you are not in this room")
	}
	if user.IsBanned {
		r.mu.Unlock()
		return models.ChatMessage{}, models.Unauthorizedf("you are banned from this room")
	}
	if user.IsMuted {
		r.mu.Unlock()
		return models.ChatMessage{}, models.Unauthorizedf("you are muted")
	}
	if strings.TrimSpace(content) == "" {
		r.mu.Unlock()
		return models.ChatMessage{}, models.Validationf("message is empty")
	}
	if n := utf8.RuneCountInString(content); n > r.settings.MaxMessageLength {
		r.mu.Unlock()
		return models.ChatMessage{}, models.Validationf("message is %d characters, limit is %d", n, r.settings.MaxMessageLength)
	}
	if r.settings.SlowModeSeconds > 0 && user.Role == models.RoleListener {
		if lim := r.limiters[connID]; lim != nil {
			res := lim.Reserve()
			if wait := res.Delay(); wait > 0 {
				res.Cancel()
				r.mu.Unlock()
				return models.ChatMessage{}, &models.RateLimitError{Wait: wait}
			}
		}
	}

	now := time.Now()
	msg := models.ChatMessage{
		MessageID:   uuid.New().String(),
		UserID:      user.UserID,
		Username:    user.Username,
		Content:     content,
		MessageType: models.MessageTypeUser,
		Role:        user.Role,
		Timestamp:   now,
		LikedBy:     make(map[string]struct{}),
		ReplyTo:     replyTo,
	}
	wasTyping := e.clearTypingLocked(r, connID)
	r.appendLocked(&msg, e.cfg.HistoryCap)
	user.MessageCount++
	user.LastMessageTime = now
	user.LastActivity = now
	members := r.connIDsLocked("")
	r.mu.Unlock()

	if wasTyping {
		e.notifyStoppedTyping(broadcastID, connID, members)
	}
	e.fanOut(members, models.Event{Type: models.EventNewMessage, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"message":     msg,
	}})
	if e.observer != nil {
		e.observer.NoteChatMessage(broadcastID)
	}
	return msg, nil
}

// SendAnnouncement posts a privileged, system-authored announcement. Only
// moderators and broadcasters may send one.
func (e *Engine) SendAnnouncement(broadcastID, actorRole, content string) (models.ChatMessage, error) {
	if actorRole != models.RoleModerator && actorRole != models.RoleBroadcaster {
		return models.ChatMessage{}, models.Unauthorizedf("role %q may not send announcements", actorRole)
	}
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.ChatMessage{}, models.NotFoundf("chat room %q", broadcastID)
	}
	if strings.TrimSpace(content) == "" {
		return models.ChatMessage{}, models.Validationf("announcement is empty")
	}

	msg := models.ChatMessage{
		MessageID:   uuid.New().String(),
		UserID:      "system",
		Username:    "System",
		Content:     content,
		MessageType: models.MessageTypeAnnouncement,
		Role:        actorRole,
		Timestamp:   time.Now(),
		LikedBy:     make(map[string]struct{}),
	}

	r.mu.Lock()
	r.appendLocked(&msg, e.cfg.HistoryCap)
	members := r.connIDsLocked("")
	r.mu.Unlock()

	e.fanOut(members, models.Event{Type: models.EventNewMessage, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"message":     msg,
	}})
	return msg, nil
}

// EditMessage rewrites a message's content. Only the original author may
// edit; everyone in the room observes the new content.
func (e *Engine) EditMessage(broadcastID, actorUserID, messageID, content string) (models.ChatMessage, error) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.ChatMessage{}, models.NotFoundf("chat room %q", broadcastID)
	}
	if strings.TrimSpace(content) == "" {
		return models.ChatMessage{}, models.Validationf("message is empty")
	}

	r.mu.Lock()
	msg, found := r.findMessageLocked(messageID)
	if !found || msg.IsDeleted {
		r.mu.Unlock()
		return models.ChatMessage{}, models.NotFoundf("message %q", messageID)
	}
	if msg.UserID != actorUserID {
		r.mu.Unlock()
		return models.ChatMessage{}, models.Unauthorizedf("only the author may edit a message")
	}
	if n := utf8.RuneCountInString(content); n > r.settings.MaxMessageLength {
		r.mu.Unlock()
		return models.ChatMessage{}, models.Validationf("message is %d characters, limit is %d", n, r.settings.MaxMessageLength)
	}
	msg.Content = content
	msg.IsEdited = true
	edited := *msg
	members := r.connIDsLocked("")
	r.mu.Unlock()

	e.fanOut(members, models.Event{Type: models.EventMessageEdited, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"message":     edited,
	}})
	return edited, nil
}

// DeleteMessage marks a message deleted. The author, a moderator or the
// broadcaster may delete; the entry stays in history as a tombstone.
func (e *Engine) DeleteMessage(broadcastID, actorUserID, actorRole, messageID string) error {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.NotFoundf("chat room %q", broadcastID)
	}

	r.mu.Lock()
	msg, found := r.findMessageLocked(messageID)
	if !found || msg.IsDeleted {
		r.mu.Unlock()
		return models.NotFoundf("message %q", messageID)
	}
	privileged := actorRole == models.RoleModerator || actorRole == models.RoleBroadcaster
	if msg.UserID != actorUserID && !privileged {
		r.mu.Unlock()
		return models.Unauthorizedf("only the author or a moderator may delete a message")
	}
	msg.IsDeleted = true
	msg.Content = ""
	members := r.connIDsLocked("")
	r.mu.Unlock()

	e.fanOut(members, models.Event{Type: models.EventMessageDeleted, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"messageId":   messageID,
	}})
	return nil
}

// ReactToMessage records one like per user per message.
func (e *Engine) ReactToMessage(broadcastID, connID, messageID string) (models.ChatMessage, error) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.ChatMessage{}, models.NotFoundf("chat room %q", broadcastID)
	}

	r.mu.Lock()
	user, present := r.users[connID]
	if !present {
		r.mu.Unlock()
		return models.ChatMessage{}, models.NotFoundf("you are not in this room")
	}
	msg, found := r.findMessageLocked(messageID)
	if !found || msg.IsDeleted {
		r.mu.Unlock()
		return models.ChatMessage{}, models.NotFoundf("message %q", messageID)
	}
	if _, liked := msg.LikedBy[user.UserID]; liked {
		r.mu.Unlock()
		return models.ChatMessage{}, models.Validationf("you already liked this message")
	}
	msg.LikedBy[user.UserID] = struct{}{}
	msg.Likes = len(msg.LikedBy)
	user.LastActivity = time.Now()
	reacted := *msg
	members := r.connIDsLocked("")
	r.mu.Unlock()

	e.fanOut(members, models.Event{Type: models.EventMessageReaction, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"messageId":   messageID,
		"likes":       reacted.Likes,
		"userId":      user.UserID,
	}})
	return reacted, nil
}

// PinMessage sets or clears a message's pin. Moderation-only.
func (e *Engine) PinMessage(broadcastID, actorRole, messageID string, pinned bool) error {
	if actorRole != models.RoleModerator && actorRole != models.RoleBroadcaster {
		return models.Unauthorizedf("role %q may not pin messages", actorRole)
	}
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.NotFoundf("chat room %q", broadcastID)
	}
	r.mu.Lock()
	msg, found := r.findMessageLocked(messageID)
	if !found || msg.IsDeleted {
		r.mu.Unlock()
		return models.NotFoundf("message %q", messageID)
	}
	msg.IsPinned = pinned
	r.mu.Unlock()
	return nil
}

// SetUserRestriction flags a member muted or banned. Flags are presence
// flags, not removal; the user stays in the room.
func (e *Engine) SetUserRestriction(broadcastID, actorRole, targetConnID string, muted, banned bool) error {
	if actorRole != models.RoleModerator && actorRole != models.RoleBroadcaster {
		return models.Unauthorizedf("role %q may not moderate users", actorRole)
	}
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return models.NotFoundf("chat room %q", broadcastID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user, present := r.users[targetConnID]
	if !present {
		return models.NotFoundf("user %q not in room", targetConnID)
	}
	user.IsMuted = muted
	user.IsBanned = banned
	return nil
}

func (r *room) appendLocked(msg *models.ChatMessage, limit int) {
	r.messages = append(r.messages, msg)
	if len(r.messages) > limit {
		r.messages = r.messages[len(r.messages)-limit:]
	}
	r.stats.TotalMessages++
}

func (e *Engine) fanOut(connIDs []string, ev models.Event) {
	for _, id := range connIDs {
		e.reg.Send(id, ev)
	}
}
