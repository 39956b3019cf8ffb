package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/internal/models"
	"github.com/mossy-p/onair/internal/registry"
)

type fakeSender struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeSender) Send(ev models.Event) bool {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return true
}

func (f *fakeSender) count(t models.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeSender) last(t models.EventType) (models.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Type == t {
			return f.events[i], true
		}
	}
	return models.Event{}, false
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return NewEngine(reg, nil, cfg, zerolog.Nop()), reg
}

func join(reg *registry.Registry, e *Engine, room, connID, username, role string) *fakeSender {
	s := &fakeSender{}
	reg.Register(connID, s)
	e.JoinRoom(room, connID, "user-"+connID, username, role)
	return s
}

func TestHistoryCapAndOrder(t *testing.T) {
	e, reg := newTestEngine(t, Config{HistoryCap: 5, JoinReplay: 5})
	join(reg, e, "show", "c1", "ana", "")

	for i := 0; i < 8; i++ {
		if _, err := e.SendMessage("show", "c1", fmt.Sprintf("msg %d", i), ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	history, err := e.History("show", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history len %d, want cap 5", len(history))
	}
	for i, msg := range history {
		want := fmt.Sprintf("msg %d", i+3)
		if msg.Content != want {
			t.Fatalf("history[%d]=%q, want %q (arrival order)", i, msg.Content, want)
		}
	}
}

func TestHistoryLimitClampsToCap(t *testing.T) {
	e, reg := newTestEngine(t, Config{HistoryCap: 5, JoinReplay: 2})
	join(reg, e, "show", "c1", "ana", "")
	for i := 0; i < 5; i++ {
		if _, err := e.SendMessage("show", "c1", fmt.Sprintf("msg %d", i), ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	// A limit above the cap clamps to the cap rather than shrinking.
	over, err := e.History("show", 6)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	at, err := e.History("show", 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(over) != 5 || len(at) != 5 {
		t.Fatalf("got %d/%d messages, want 5/5", len(over), len(at))
	}
}

func TestMessageLengthBoundary(t *testing.T) {
	e, reg := newTestEngine(t, Config{DefaultMaxMessageLength: 500})
	join(reg, e, "show", "c1", "ana", "")

	if _, err := e.SendMessage("show", "c1", strings.Repeat("a", 501), ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("501 chars: got %v, want ErrValidation", err)
	} else if !strings.Contains(err.Error(), "501") {
		t.Fatalf("length error lacks specifics: %v", err)
	}
	if _, err := e.SendMessage("show", "c1", strings.Repeat("a", 500), ""); err != nil {
		t.Fatalf("500 chars rejected: %v", err)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	join(reg, e, "show", "c1", "ana", "")

	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := e.SendMessage("show", "c1", content, ""); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("content %q: got %v, want ErrValidation", content, err)
		}
	}
}

func TestSendRequiresMembership(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	join(reg, e, "show", "c1", "ana", "")

	if _, err := e.SendMessage("show", "ghost", "hi", ""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMutedAndBannedRejected(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	join(reg, e, "show", "c1", "ana", "")
	join(reg, e, "show", "mod", "mo", models.RoleModerator)

	if err := e.SetUserRestriction("show", models.RoleModerator, "c1", true, false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if _, err := e.SendMessage("show", "c1", "hi", ""); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("muted: got %v, want ErrUnauthorized", err)
	}
}

func TestSlowMode(t *testing.T) {
	e, reg := newTestEngine(t, Config{DefaultSlowModeSeconds: 1})
	join(reg, e, "show", "c1", "ana", "")

	if _, err := e.SendMessage("show", "c1", "first", ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := e.SendMessage("show", "c1", "second", "")
	var rl *models.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("second: got %v, want RateLimitError", err)
	}
	if rl.Wait <= 0 || rl.Wait > time.Second {
		t.Fatalf("wait %v outside (0, window]", rl.Wait)
	}

	time.Sleep(1100 * time.Millisecond)
	if _, err := e.SendMessage("show", "c1", "third", ""); err != nil {
		t.Fatalf("third after window: %v", err)
	}
}

func TestSlowModeSkipsPrivilegedRoles(t *testing.T) {
	e, reg := newTestEngine(t, Config{DefaultSlowModeSeconds: 60})
	join(reg, e, "show", "mod", "mo", models.RoleModerator)

	for i := 0; i < 3; i++ {
		if _, err := e.SendMessage("show", "mod", "rapid fire", ""); err != nil {
			t.Fatalf("moderator message %d limited: %v", i, err)
		}
	}
}

func TestEditOnlyByAuthor(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	ana := join(reg, e, "show", "c1", "ana", "")
	bob := join(reg, e, "show", "c2", "bob", "")

	msg, err := e.SendMessage("show", "c1", "original", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := e.EditMessage("show", "user-c2", msg.MessageID, "hacked"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("non-author edit: got %v, want ErrUnauthorized", err)
	}

	edited, err := e.EditMessage("show", "user-c1", msg.MessageID, "fixed")
	if err != nil {
		t.Fatalf("author edit: %v", err)
	}
	if !edited.IsEdited || edited.Content != "fixed" {
		t.Fatalf("edit not applied: %+v", edited)
	}
	for name, s := range map[string]*fakeSender{"ana": ana, "bob": bob} {
		ev, ok := s.last(models.EventMessageEdited)
		if !ok {
			t.Fatalf("%s missed message-edited", name)
		}
		got := ev.Payload.(map[string]interface{})["message"].(models.ChatMessage)
		if got.Content != "fixed" {
			t.Fatalf("%s observed %q, want %q", name, got.Content, "fixed")
		}
	}
}

func TestDeleteByModerator(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	join(reg, e, "show", "c1", "ana", "")
	join(reg, e, "show", "mod", "mo", models.RoleModerator)

	msg, _ := e.SendMessage("show", "c1", "oops", "")

	if err := e.DeleteMessage("show", "user-c3", models.RoleListener, msg.MessageID); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("listener delete: got %v, want ErrUnauthorized", err)
	}
	if err := e.DeleteMessage("show", "user-mod", models.RoleModerator, msg.MessageID); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	// Deleted messages are tombstones: gone for edits too.
	if _, err := e.EditMessage("show", "user-c1", msg.MessageID, "again"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("edit deleted: got %v, want ErrNotFound", err)
	}
}

func TestReactOncePerUser(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	join(reg, e, "show", "c1", "ana", "")
	join(reg, e, "show", "c2", "bob", "")

	msg, _ := e.SendMessage("show", "c1", "like me", "")

	if _, err := e.ReactToMessage("show", "c2", msg.MessageID); err != nil {
		t.Fatalf("first like: %v", err)
	}
	if _, err := e.ReactToMessage("show", "c2", msg.MessageID); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("second like: got %v, want ErrValidation", err)
	}
	reacted, err := e.ReactToMessage("show", "c1", msg.MessageID)
	if err != nil {
		t.Fatalf("other user like: %v", err)
	}
	if reacted.Likes != 2 {
		t.Fatalf("likes %d, want 2", reacted.Likes)
	}
}

func TestAnnouncementRequiresPrivilege(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	join(reg, e, "show", "c1", "ana", "")

	if _, err := e.SendAnnouncement("show", models.RoleListener, "hi all"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	msg, err := e.SendAnnouncement("show", models.RoleBroadcaster, "show starts now")
	if err != nil {
		t.Fatalf("broadcaster announcement: %v", err)
	}
	if msg.MessageType != models.MessageTypeAnnouncement {
		t.Fatalf("type %q, want announcement", msg.MessageType)
	}
}

func TestTypingAutoExpiry(t *testing.T) {
	e, reg := newTestEngine(t, Config{TypingTTL: 50 * time.Millisecond})
	join(reg, e, "show", "c1", "ana", "")
	bob := join(reg, e, "show", "c2", "bob", "")

	e.StartTyping("show", "c1")
	if bob.count(models.EventUserTyping) != 1 {
		t.Fatal("bob missed user-typing")
	}

	time.Sleep(150 * time.Millisecond)
	if bob.count(models.EventUserStoppedTyping) != 1 {
		t.Fatal("typing indicator never auto-expired")
	}
}

func TestStopTypingCancelsTimer(t *testing.T) {
	e, reg := newTestEngine(t, Config{TypingTTL: 50 * time.Millisecond})
	join(reg, e, "show", "c1", "ana", "")
	bob := join(reg, e, "show", "c2", "bob", "")

	e.StartTyping("show", "c1")
	e.StopTyping("show", "c1")
	time.Sleep(120 * time.Millisecond)

	// Explicit stop plus a stale timer fire must yield exactly one event.
	if got := bob.count(models.EventUserStoppedTyping); got != 1 {
		t.Fatalf("got %d user-stopped-typing events, want 1", got)
	}
}

func TestSendClearsTypingIndicator(t *testing.T) {
	e, reg := newTestEngine(t, Config{TypingTTL: time.Minute})
	join(reg, e, "show", "c1", "ana", "")
	bob := join(reg, e, "show", "c2", "bob", "")

	e.StartTyping("show", "c1")
	if _, err := e.SendMessage("show", "c1", "done typing", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if bob.count(models.EventUserStoppedTyping) != 1 {
		t.Fatal("send did not clear typing indicator")
	}

	snap, _ := e.Snapshot("show")
	for _, u := range snap.Users {
		if u.ConnectionID == "c1" && u.IsTyping {
			t.Fatal("user still flagged typing after send")
		}
	}
}

func TestTypingSweepBackstop(t *testing.T) {
	e, reg := newTestEngine(t, Config{TypingTTL: time.Hour, TypingSweepTTL: 10 * time.Second})
	ana := join(reg, e, "show", "c1", "ana", "")
	bob := join(reg, e, "show", "c2", "bob", "")

	e.StartTyping("show", "c1")
	e.Sweep(time.Now().Add(11 * time.Second))

	if bob.count(models.EventUserStoppedTyping) != 1 {
		t.Fatal("sweep did not expire stale typing indicator")
	}
	// The subject is excluded, same as an explicit stop.
	if got := ana.count(models.EventUserStoppedTyping); got != 0 {
		t.Fatalf("typist received %d user-stopped-typing events about themselves", got)
	}
}

func TestEmptyRoomCollectedAfterIdleTTL(t *testing.T) {
	e, reg := newTestEngine(t, Config{RoomIdleTTL: 30 * time.Minute})
	join(reg, e, "show", "c1", "ana", "")
	e.LeaveRoom("show", "c1")

	// Not collected immediately: brief reconnect gaps are tolerated.
	e.Sweep(time.Now().Add(time.Minute))
	if _, err := e.Snapshot("show"); err != nil {
		t.Fatalf("room collected too early: %v", err)
	}

	e.Sweep(time.Now().Add(31 * time.Minute))
	if _, err := e.Snapshot("show"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("idle room survived sweep: %v", err)
	}
}

func TestRejoinResetsIdleClock(t *testing.T) {
	e, reg := newTestEngine(t, Config{RoomIdleTTL: 30 * time.Minute})
	join(reg, e, "show", "c1", "ana", "")
	e.LeaveRoom("show", "c1")
	join(reg, e, "show", "c2", "bob", "")

	e.Sweep(time.Now().Add(31 * time.Minute))
	if _, err := e.Snapshot("show"); err != nil {
		t.Fatalf("occupied room collected: %v", err)
	}
}

func TestUpdateSettingsRetunesSlowMode(t *testing.T) {
	e, reg := newTestEngine(t, Config{})
	join(reg, e, "show", "c1", "ana", "")

	if _, err := e.UpdateSettings("show", models.RoomSettings{SlowModeSeconds: 60, MaxMessageLength: 500}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if _, err := e.SendMessage("show", "c1", "one", ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	var rl *models.RateLimitError
	if _, err := e.SendMessage("show", "c1", "two", ""); !errors.As(err, &rl) {
		t.Fatalf("slow mode not applied after settings change: %v", err)
	}
}

func TestJoinReplayLimit(t *testing.T) {
	e, reg := newTestEngine(t, Config{HistoryCap: 200, JoinReplay: 3})
	join(reg, e, "show", "c1", "ana", "")
	for i := 0; i < 10; i++ {
		e.SendMessage("show", "c1", fmt.Sprintf("m%d", i), "")
	}

	late := join(reg, e, "show", "late", "zoe", "")
	ev, ok := late.last(models.EventChatHistory)
	if !ok {
		t.Fatal("joiner got no chat-history")
	}
	msgs := ev.Payload.(map[string]interface{})["messages"].([]models.ChatMessage)
	if len(msgs) != 3 {
		t.Fatalf("replayed %d messages, want 3", len(msgs))
	}
	if msgs[2].Content != "m9" {
		t.Fatalf("replay misses newest message: %+v", msgs)
	}
}
