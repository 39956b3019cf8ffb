package chat

import (
	"time"

	"github.com/mossy-p/onair/internal/models"
)

// StartTyping marks a user typing and (re)arms the per-connection
// auto-expiry timer. A fired timer re-checks state under the room lock, so
// a stale fire after an explicit stop is a no-op.
func (e *Engine) StartTyping(broadcastID, connID string) {
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
	now := time.Now()
	if ts, ok := r.typing[connID]; ok {
		// Re-arm with a fresh timer so the old closure's fire stays stale.
		ts.timer.Stop()
		ts.startTime = now
		ts.timer = time.AfterFunc(e.cfg.TypingTTL, func() {
			e.typingExpired(broadcastID, connID, now)
		})
		r.mu.Unlock()
		return
	}
	ts := &typingState{username: user.Username, startTime: now}
	ts.timer = time.AfterFunc(e.cfg.TypingTTL, func() {
		e.typingExpired(broadcastID, connID, now)
	})
	r.typing[connID] = ts
	user.IsTyping = true
	user.LastActivity = now
	username := user.Username
	members := r.connIDsLocked(connID)
	r.mu.Unlock()

	e.fanOut(members, models.Event{Type: models.EventUserTyping, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"userId":      connID,
		"username":    username,
	}})
}

// StopTyping cancels the indicator and its pending timer.
func (e *Engine) StopTyping(broadcastID, connID string) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return
	}
	r.mu.Lock()
	stopped := e.clearTypingLocked(r, connID)
	members := r.connIDsLocked(connID)
	r.mu.Unlock()

	if stopped {
		e.notifyStoppedTyping(broadcastID, connID, members)
	}
}

// typingExpired runs when an auto-expiry timer fires. armedAt guards against
// a timer that was reset after this fire was scheduled.
func (e *Engine) typingExpired(broadcastID, connID string, armedAt time.Time) {
	r, ok := e.getRoom(broadcastID)
	if !ok {
		return
	}
	r.mu.Lock()
	ts, ok := r.typing[connID]
	if !ok || ts.startTime.After(armedAt) {
		r.mu.Unlock()
		return
	}
	e.clearTypingLocked(r, connID)
	members := r.connIDsLocked(connID)
	r.mu.Unlock()

	e.notifyStoppedTyping(broadcastID, connID, members)
}

// expireTyping is the maintenance backstop for indicators whose stop event
// was lost and whose timer somehow never cleared them.
func (e *Engine) expireTyping(r *room, now time.Time, ttl time.Duration) {
	r.mu.Lock()
	var stale []string
	for connID, ts := range r.typing {
		if now.Sub(ts.startTime) > ttl {
			stale = append(stale, connID)
		}
	}
	membersFor := make(map[string][]string, len(stale))
	for _, connID := range stale {
		e.clearTypingLocked(r, connID)
		membersFor[connID] = r.connIDsLocked(connID)
	}
	broadcastID := r.id
	r.mu.Unlock()

	for _, connID := range stale {
		e.notifyStoppedTyping(broadcastID, connID, membersFor[connID])
	}
}

// clearTypingLocked stops the timer and clears the indicator, reporting
// whether the user had been typing. Callers must hold r.mu.
func (e *Engine) clearTypingLocked(r *room, connID string) bool {
	ts, ok := r.typing[connID]
	if !ok {
		return false
	}
	ts.timer.Stop()
	delete(r.typing, connID)
	if user, present := r.users[connID]; present {
		user.IsTyping = false
	}
	return true
}

func (e *Engine) notifyStoppedTyping(broadcastID, connID string, members []string) {
	e.fanOut(members, models.Event{Type: models.EventUserStoppedTyping, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"userId":      connID,
	}})
}
