// Package session owns the live state of every on-air broadcast: the
// listener set, the audio source mixer table, the call-in queue and the
// per-session statistics. Each session carries its own mutex so compound
// read-modify-write sequences stay atomic without a global lock.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/internal/models"
	"github.com/mossy-p/onair/internal/registry"
)

// Presence mirrors session membership to an external observer (redis).
// Implementations must be cheap and non-fatal; a nil Presence disables it.
type Presence interface {
	SessionStarted(broadcastID string, info models.BroadcasterInfo, start time.Time)
	SessionEnded(broadcastID string)
	ListenerJoined(broadcastID, connID string)
	ListenerLeft(broadcastID, connID string)
}

// Config holds the store's timing knobs.
type Config struct {
	CallTimeout time.Duration
}

type session struct {
	mu sync.Mutex

	id                string
	broadcasterConnID string // empty while off-air
	broadcaster       models.BroadcasterInfo
	isLive            bool
	listeners         map[string]struct{}
	audioSources      map[string]*models.AudioSourceInfo
	callQueue         []*models.CallRequest
	activeCalls       map[string]*models.ActiveCall // keyed by caller connection id
	stats             models.SessionStats
}

// Store is the broadcast session table plus the callId -> broadcastId
// secondary index that makes call lookup O(1).
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	callIndex map[string]string

	reg      *registry.Registry
	presence Presence
	cfg      Config
	log      zerolog.Logger
}

func NewStore(reg *registry.Registry, presence Presence, cfg Config, log zerolog.Logger) *Store {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Minute
	}
	return &Store{
		sessions:  make(map[string]*session),
		callIndex: make(map[string]string),
		reg:       reg,
		presence:  presence,
		cfg:       cfg,
		log:       log.With().Str("component", "session").Logger(),
	}
}

func (s *Store) get(broadcastID string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[broadcastID]
	s.mu.RUnlock()
	return sess, ok
}

func (s *Store) getOrCreate(broadcastID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[broadcastID]
	if !ok {
		sess = &session{
			id:           broadcastID,
			listeners:    make(map[string]struct{}),
			audioSources: make(map[string]*models.AudioSourceInfo),
			activeCalls:  make(map[string]*models.ActiveCall),
			stats:        models.SessionStats{StartTime: time.Now()},
		}
		s.sessions[broadcastID] = sess
		s.log.Info().Str("broadcast", broadcastID).Msg("session created")
	}
	return sess
}

// StartSession creates an off-air session record for the given id. It fails
// when a live session already exists under that id.
func (s *Store) StartSession(broadcastID string, info models.BroadcasterInfo) error {
	if sess, ok := s.get(broadcastID); ok {
		sess.mu.Lock()
		live := sess.isLive
		sess.mu.Unlock()
		if live {
			return models.ErrAlreadyActive
		}
	}
	sess := s.getOrCreate(broadcastID)
	sess.mu.Lock()
	sess.broadcaster = info
	sess.mu.Unlock()
	return nil
}

// AttachBroadcaster puts a connection on air for the given broadcast,
// creating the session if absent. The attaching connection receives
// broadcaster-ready; the existing audience receives broadcast-info.
func (s *Store) AttachBroadcaster(broadcastID, connID string, info models.BroadcasterInfo) error {
	sess := s.getOrCreate(broadcastID)

	sess.mu.Lock()
	if sess.isLive && sess.broadcasterConnID != "" && sess.broadcasterConnID != connID {
		sess.mu.Unlock()
		return models.ErrAlreadyActive
	}
	sess.broadcasterConnID = connID
	sess.broadcaster = info
	sess.isLive = true
	sess.stats.StartTime = time.Now()
	audience := sess.audienceLocked()
	count := len(sess.listeners)
	sess.mu.Unlock()

	s.reg.SetBroadcast(connID, broadcastID)
	if s.presence != nil {
		s.presence.SessionStarted(broadcastID, info, time.Now())
	}

	s.reg.Send(connID, models.Event{Type: models.EventBroadcasterReady, Payload: map[string]interface{}{
		"broadcastId":   broadcastID,
		"listenerCount": count,
	}})
	for _, id := range audience {
		if id == connID {
			continue
		}
		s.reg.Send(id, models.Event{Type: models.EventBroadcastInfo, Payload: map[string]interface{}{
			"broadcastId": broadcastID,
			"isLive":      true,
			"broadcaster": info,
		}})
	}
	s.log.Info().Str("broadcast", broadcastID).Str("conn", connID).Msg("broadcaster on air")
	return nil
}

// AttachListener adds a connection to the audience. A missing session is
// created off-air so early listeners can wait for the broadcaster; the
// joining listener learns the current live state either way.
func (s *Store) AttachListener(broadcastID, connID string) {
	sess := s.getOrCreate(broadcastID)

	sess.mu.Lock()
	sess.listeners[connID] = struct{}{}
	if n := len(sess.listeners); n > sess.stats.PeakListeners {
		sess.stats.PeakListeners = n
	}
	live := sess.isLive
	info := sess.broadcaster
	audience := sess.audienceLocked()
	count := len(sess.listeners)
	sess.mu.Unlock()

	s.reg.SetBroadcast(connID, broadcastID)
	if s.presence != nil {
		s.presence.ListenerJoined(broadcastID, connID)
	}

	s.reg.Send(connID, models.Event{Type: models.EventBroadcastInfo, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"isLive":      live,
		"broadcaster": info,
	}})
	s.notifyListenerCount(broadcastID, audience, count)
}

// DetachListener removes a connection from the audience.
func (s *Store) DetachListener(broadcastID, connID string) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return
	}
	sess.mu.Lock()
	if _, present := sess.listeners[connID]; !present {
		sess.mu.Unlock()
		return
	}
	delete(sess.listeners, connID)
	audience := sess.audienceLocked()
	count := len(sess.listeners)
	sess.mu.Unlock()

	if s.presence != nil {
		s.presence.ListenerLeft(broadcastID, connID)
	}
	s.notifyListenerCount(broadcastID, audience, count)
}

// EndSession notifies every active caller and the whole audience, then
// removes the session. Notification happens before removal so no observer
// can read a vanished session as still active.
func (s *Store) EndSession(broadcastID string) error {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.NotFoundf("broadcast %q", broadcastID)
	}

	sess.mu.Lock()
	callers := make([]string, 0, len(sess.activeCalls))
	for connID := range sess.activeCalls {
		callers = append(callers, connID)
	}
	pending := sess.callQueue
	sess.callQueue = nil
	sess.activeCalls = make(map[string]*models.ActiveCall)
	audience := sess.audienceLocked()
	sess.isLive = false
	sess.broadcasterConnID = ""
	sess.mu.Unlock()

	for _, connID := range callers {
		s.reg.Send(connID, models.Event{Type: models.EventCallEnded, Payload: map[string]interface{}{
			"broadcastId": broadcastID,
			"reason":      "broadcast ended",
		}})
	}
	for _, ev := range pending {
		s.reg.Send(ev.CallerConnectionID, models.Event{Type: models.EventCallEnded, Payload: map[string]interface{}{
			"broadcastId": broadcastID,
			"reason":      "broadcast ended",
		}})
	}
	for _, id := range audience {
		s.reg.Send(id, models.Event{Type: models.EventBroadcastEnded, Payload: map[string]interface{}{
			"broadcastId": broadcastID,
		}})
	}

	s.mu.Lock()
	delete(s.sessions, broadcastID)
	for callID, bID := range s.callIndex {
		if bID == broadcastID {
			delete(s.callIndex, callID)
		}
	}
	s.mu.Unlock()

	if s.presence != nil {
		s.presence.SessionEnded(broadcastID)
	}
	s.log.Info().Str("broadcast", broadcastID).Msg("session ended")
	return nil
}

// BroadcastAudio relays one audio frame to every listener, tagged with the
// current broadcaster profile. Only the on-air connection may push frames.
func (s *Store) BroadcastAudio(broadcastID, connID string, frame models.AudioFramePayload) error {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.NotFoundf("broadcast %q", broadcastID)
	}
	sess.mu.Lock()
	if sess.broadcasterConnID != connID {
		sess.mu.Unlock()
		return models.Unauthorizedf("connection %q is not the broadcaster", connID)
	}
	info := sess.broadcaster
	listeners := make([]string, 0, len(sess.listeners))
	for id := range sess.listeners {
		listeners = append(listeners, id)
	}
	sess.mu.Unlock()

	ev := models.Event{Type: models.EventAudioStream, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"audio":       frame.Audio,
		"timestamp":   frame.Timestamp,
		"metrics":     frame.Metrics,
		"broadcaster": info,
	}}
	for _, id := range listeners {
		s.reg.Send(id, ev)
	}
	return nil
}

// HandleDisconnect runs the cleanup owed when a connection attached to this
// broadcast goes away: a broadcaster disconnect ends the whole session, a
// listener disconnect shrinks the audience, and any call state held by the
// connection is dropped. It reports whether the session itself ended.
func (s *Store) HandleDisconnect(broadcastID, connID string) bool {
	sess, ok := s.get(broadcastID)
	if !ok {
		return false
	}
	sess.mu.Lock()
	isBroadcaster := sess.broadcasterConnID == connID
	sess.mu.Unlock()

	if isBroadcaster {
		if err := s.EndSession(broadcastID); err != nil {
			s.log.Warn().Err(err).Str("broadcast", broadcastID).Msg("end on disconnect")
		}
		return true
	}
	s.dropCallsFor(broadcastID, connID)
	s.DetachListener(broadcastID, connID)
	return false
}

// NoteChatMessage bumps the session's message counter; chat history itself
// lives in the room store.
func (s *Store) NoteChatMessage(broadcastID string) {
	if sess, ok := s.get(broadcastID); ok {
		sess.mu.Lock()
		sess.stats.TotalMessages++
		sess.mu.Unlock()
	}
}

// Snapshot returns a read-only view of one session.
func (s *Store) Snapshot(broadcastID string) (models.SessionSnapshot, error) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.SessionSnapshot{}, models.NotFoundf("broadcast %q", broadcastID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

// ActiveSessions lists every session currently in the store.
func (s *Store) ActiveSessions() []models.SessionSnapshot {
	s.mu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	out := make([]models.SessionSnapshot, 0, len(all))
	for _, sess := range all {
		sess.mu.Lock()
		out = append(out, sess.snapshotLocked())
		sess.mu.Unlock()
	}
	return out
}

// Aggregate sums the counters the maintenance sweep reports.
func (s *Store) Aggregate() (broadcasts, listeners, activeCalls int) {
	s.mu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	for _, sess := range all {
		sess.mu.Lock()
		if sess.isLive {
			broadcasts++
		}
		listeners += len(sess.listeners)
		activeCalls += len(sess.activeCalls)
		sess.mu.Unlock()
	}
	return broadcasts, listeners, activeCalls
}

// SweepIdle removes sessions that are off-air with no audience and no call
// state. Live sessions are never collected here.
func (s *Store) SweepIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := !sess.isLive && len(sess.listeners) == 0 &&
			len(sess.callQueue) == 0 && len(sess.activeCalls) == 0
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			s.log.Debug().Str("broadcast", id).Msg("idle session collected")
		}
	}
}

func (s *Store) notifyListenerCount(broadcastID string, audience []string, count int) {
	ev := models.Event{Type: models.EventListenerCount, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"count":       count,
	}}
	for _, id := range audience {
		s.reg.Send(id, ev)
	}
}

// audienceLocked returns listener ids plus the broadcaster, if attached.
// Callers must hold sess.mu.
func (sess *session) audienceLocked() []string {
	out := make([]string, 0, len(sess.listeners)+1)
	for id := range sess.listeners {
		out = append(out, id)
	}
	if sess.broadcasterConnID != "" {
		out = append(out, sess.broadcasterConnID)
	}
	return out
}

func (sess *session) snapshotLocked() models.SessionSnapshot {
	sources := make([]models.AudioSourceInfo, 0, len(sess.audioSources))
	for _, src := range sess.audioSources {
		sources = append(sources, *src)
	}
	return models.SessionSnapshot{
		BroadcastID:   sess.id,
		Broadcaster:   sess.broadcaster,
		IsLive:        sess.isLive,
		ListenerCount: len(sess.listeners),
		AudioSources:  sources,
		QueuedCalls:   len(sess.callQueue),
		ActiveCalls:   len(sess.activeCalls),
		Stats:         sess.stats,
		UptimeSeconds: time.Since(sess.stats.StartTime).Seconds(),
	}
}
