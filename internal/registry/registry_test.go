package registry

import (
	"sync"
	"testing"

	"github.com/mossy-p/onair/internal/models"
)

type fakeSender struct {
	mu     sync.Mutex
	events []models.Event
	full   bool
}

func (f *fakeSender) Send(ev models.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSender) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestUnregisterReturnsAttachments(t *testing.T) {
	r := New()
	r.Register("c1", &fakeSender{})
	r.SetBroadcast("c1", "show")
	r.SetRoom("c1", "show")

	rec, ok := r.Unregister("c1")
	if !ok {
		t.Fatal("unregister missed the connection")
	}
	if rec.BroadcastID != "show" || rec.RoomID != "show" {
		t.Fatalf("attachments lost: %+v", rec)
	}
	if _, ok := r.Unregister("c1"); ok {
		t.Fatal("second unregister reported the connection again")
	}
	if r.Count() != 0 {
		t.Fatalf("count %d after unregister", r.Count())
	}
}

func TestSendReportsDeliveryFailure(t *testing.T) {
	r := New()
	r.Register("ok", &fakeSender{})
	r.Register("full", &fakeSender{full: true})

	if !r.Send("ok", models.Event{Type: models.EventServerStats}) {
		t.Fatal("delivery to healthy connection failed")
	}
	if r.Send("full", models.Event{Type: models.EventServerStats}) {
		t.Fatal("full buffer reported as delivered")
	}
	if r.Send("ghost", models.Event{Type: models.EventServerStats}) {
		t.Fatal("unknown id reported as delivered")
	}
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	r := New()
	senders := []*fakeSender{{}, {}, {full: true}}
	for i, s := range senders {
		r.Register(string(rune('a'+i)), s)
	}

	r.Broadcast(models.Event{Type: models.EventServerStats})

	if senders[0].received() != 1 || senders[1].received() != 1 {
		t.Fatal("broadcast skipped a healthy connection")
	}
	// A full connection misses the event without stopping the fan-out.
	if senders[2].received() != 0 {
		t.Fatal("full connection recorded an event")
	}
}
