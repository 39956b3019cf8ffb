// Package stream fans continuous audio bytes out to long-lived HTTP
// listeners. Each broadcast gets a ring buffer of recent frames so a new
// listener starts with the last few seconds instead of silence.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBufferFrames caps the ring buffer, roughly the last few seconds of
// audio at typical frame rates.
const DefaultBufferFrames = 100

// Info describes one active stream for the HTTP introspection endpoints.
type Info struct {
	BroadcastID   string    `json:"broadcastId"`
	StartTime     time.Time `json:"startTime"`
	ListenerCount int       `json:"listenerCount"`
	IsLive        bool      `json:"isLive"`
}

type stream struct {
	id        string
	startTime time.Time
	buffer    [][]byte
	subs      map[chan []byte]struct{}

	// live flips true on the first published frame. A stream that only has
	// waiting subscribers is not reported as streaming.
	live bool
}

// Hub is the table of active byte streams, keyed by broadcast id.
type Hub struct {
	mu           sync.Mutex
	streams      map[string]*stream
	bufferFrames int
	log          zerolog.Logger
}

func NewHub(bufferFrames int, log zerolog.Logger) *Hub {
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}
	return &Hub{
		streams:      make(map[string]*stream),
		bufferFrames: bufferFrames,
		log:          log.With().Str("component", "stream").Logger(),
	}
}

func (h *Hub) getOrCreate(broadcastID string) *stream {
	st, ok := h.streams[broadcastID]
	if !ok {
		st = &stream{
			id:        broadcastID,
			startTime: time.Now(),
			subs:      make(map[chan []byte]struct{}),
		}
		h.streams[broadcastID] = st
		h.log.Info().Str("broadcast", broadcastID).Msg("stream opened")
	}
	return st
}

// Publish appends one frame to the ring buffer and delivers it to every
// subscriber. A subscriber with a full buffer misses the frame rather than
// stalling delivery to the rest.
func (h *Hub) Publish(broadcastID string, frame []byte) {
	if len(frame) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.getOrCreate(broadcastID)
	st.live = true
	st.buffer = append(st.buffer, frame)
	if len(st.buffer) > h.bufferFrames {
		st.buffer = st.buffer[len(st.buffer)-h.bufferFrames:]
	}
	// Subscriber channels are only closed under h.mu, so sending while the
	// lock is held cannot race a close. The sends never block.
	for ch := range st.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Subscribe registers a listener and returns the buffered recent frames, a
// delivery channel and an unsubscribe function. The channel is closed when
// the stream ends.
func (h *Hub) Subscribe(broadcastID string) (recent [][]byte, ch chan []byte, cancel func()) {
	ch = make(chan []byte, 64)

	h.mu.Lock()
	st := h.getOrCreate(broadcastID)
	st.subs[ch] = struct{}{}
	recent = make([][]byte, len(st.buffer))
	copy(recent, st.buffer)
	h.mu.Unlock()

	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		st, ok := h.streams[broadcastID]
		if !ok {
			return
		}
		if _, ok := st.subs[ch]; !ok {
			return
		}
		delete(st.subs, ch)
		close(ch)
		if len(st.subs) == 0 {
			delete(h.streams, broadcastID)
			h.log.Info().Str("broadcast", broadcastID).Msg("stream torn down")
		}
	}
	return recent, ch, cancel
}

// End closes every subscriber channel and removes the stream.
func (h *Hub) End(broadcastID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[broadcastID]
	if !ok {
		return
	}
	delete(h.streams, broadcastID)
	for ch := range st.subs {
		close(ch)
	}
	h.log.Info().Str("broadcast", broadcastID).Msg("stream ended")
}

// InfoFor reports one stream, or ok=false when the broadcast has never
// carried audio. A subscriber waiting on an id that no broadcaster feeds
// does not make that id "streaming".
func (h *Hub) InfoFor(broadcastID string) (Info, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[broadcastID]
	if !ok || !st.live {
		return Info{}, false
	}
	return Info{
		BroadcastID:   st.id,
		StartTime:     st.startTime,
		ListenerCount: len(st.subs),
		IsLive:        true,
	}, true
}

// List reports every stream that has carried audio.
func (h *Hub) List() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.streams))
	for _, st := range h.streams {
		if !st.live {
			continue
		}
		out = append(out, Info{
			BroadcastID:   st.id,
			StartTime:     st.startTime,
			ListenerCount: len(st.subs),
			IsLive:        true,
		})
	}
	return out
}
