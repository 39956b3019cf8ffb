package stream

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestRingBufferKeepsNewestFrames(t *testing.T) {
	h := NewHub(3, zerolog.Nop())
	for i := 0; i < 5; i++ {
		h.Publish("show", []byte(fmt.Sprintf("frame-%d", i)))
	}

	recent, _, cancel := h.Subscribe("show")
	defer cancel()

	if len(recent) != 3 {
		t.Fatalf("replayed %d frames, want 3", len(recent))
	}
	for i, frame := range recent {
		want := fmt.Sprintf("frame-%d", i+2)
		if string(frame) != want {
			t.Fatalf("recent[%d]=%q, want %q", i, frame, want)
		}
	}
}

func TestEmptyFramesIgnored(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	h.Publish("show", nil)
	h.Publish("show", []byte{})

	if _, ok := h.InfoFor("show"); ok {
		t.Fatal("empty frames opened a stream")
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	_, ch, cancel := h.Subscribe("show")
	defer cancel()

	h.Publish("show", []byte("hello"))

	select {
	case frame := <-ch:
		if string(frame) != "hello" {
			t.Fatalf("got %q", frame)
		}
	default:
		t.Fatal("frame not delivered")
	}
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	_, slow, cancelSlow := h.Subscribe("show")
	defer cancelSlow()
	_, fast, cancelFast := h.Subscribe("show")
	defer cancelFast()

	// Overflow the slow subscriber's channel without draining it.
	for i := 0; i < cap(slow)+10; i++ {
		h.Publish("show", []byte("x"))
	}

	if len(fast) != cap(fast) {
		t.Fatalf("fast subscriber has %d frames, want full buffer %d", len(fast), cap(fast))
	}
	if len(slow) != cap(slow) {
		t.Fatalf("slow subscriber has %d frames, want %d (overflow dropped)", len(slow), cap(slow))
	}
}

func TestTeardownWhenLastSubscriberLeaves(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	_, ch1, cancel1 := h.Subscribe("show")
	_, _, cancel2 := h.Subscribe("show")
	h.Publish("show", []byte("x"))

	cancel1()
	if _, ok := h.InfoFor("show"); !ok {
		t.Fatal("stream torn down while a subscriber remains")
	}
	if _, open := <-ch1; open {
		t.Fatal("canceled subscriber's channel not closed")
	}

	cancel2()
	if _, ok := h.InfoFor("show"); ok {
		t.Fatal("stream survived its last subscriber")
	}
	// A second cancel is a no-op, not a double close.
	cancel2()
}

func TestEndClosesAllSubscribers(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	_, ch1, cancel1 := h.Subscribe("show")
	_, ch2, _ := h.Subscribe("show")

	h.End("show")

	for i, ch := range []chan []byte{ch1, ch2} {
		if _, open := <-ch; open {
			t.Fatalf("subscriber %d channel still open after end", i)
		}
	}
	if _, ok := h.InfoFor("show"); ok {
		t.Fatal("stream listed after end")
	}
	// Cancel after end must not panic on the closed channel.
	cancel1()
}

func TestSubscriberAloneIsNotStreaming(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	_, _, cancel := h.Subscribe("show")
	defer cancel()

	if _, ok := h.InfoFor("show"); ok {
		t.Fatal("stream with no published audio reported as live")
	}
	if got := len(h.List()); got != 0 {
		t.Fatalf("listed %d streams before any audio", got)
	}

	h.Publish("show", []byte("x"))
	info, ok := h.InfoFor("show")
	if !ok || !info.IsLive {
		t.Fatal("stream not live after first frame")
	}
}

func TestPublishRacesUnsubscribe(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	frame := []byte("x")

	// Publishers racing subscribe/cancel loops must never hit a closed
	// channel; a disconnecting listener only deregisters itself.
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				h.Publish("show", frame)
			}
		}()
	}
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _, cancel := h.Subscribe("show")
				cancel()
			}
		}()
	}
	wg.Wait()
}

func TestEndRacesUnsubscribe(t *testing.T) {
	h := NewHub(0, zerolog.Nop())

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _, cancel := h.Subscribe("show")
				cancel()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Publish("show", []byte("x"))
			h.End("show")
		}
	}()
	wg.Wait()
}

func TestListCountsSubscribers(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	h.Publish("a", []byte("x"))
	_, _, cancel := h.Subscribe("b")
	defer cancel()
	h.Publish("b", []byte("x"))

	infos := h.List()
	if len(infos) != 2 {
		t.Fatalf("got %d streams, want 2", len(infos))
	}
	for _, info := range infos {
		if info.BroadcastID == "b" && info.ListenerCount != 1 {
			t.Fatalf("stream b reports %d listeners, want 1", info.ListenerCount)
		}
	}
}
