package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/mossy-p/onair/internal/models"
)

// Default mix parameters for a caller put on air. Host sources are expected
// to carry a higher priority so caller audio yields to the host on conflict.
const (
	callerDefaultVolume   = 0.8
	callerDefaultPriority = 5
)

// SourceID derives the mixer key for a source: type plus origin id, unique
// within one session.
func SourceID(t models.AudioSourceType, originID string) string {
	return fmt.Sprintf("%s-%s", t, originID)
}

// AddSource adds a named input to the session's mixer table. Only the
// connection on air as broadcaster may mutate the table.
func (s *Store) AddSource(broadcastID, connID string, src models.AudioSourceInfo) (models.AudioSourceInfo, error) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.AudioSourceInfo{}, models.NotFoundf("broadcast %q", broadcastID)
	}

	sess.mu.Lock()
	if sess.broadcasterConnID != connID {
		sess.mu.Unlock()
		return models.AudioSourceInfo{}, models.Unauthorizedf("connection %q may not modify the mixer", connID)
	}
	if src.SourceID == "" {
		origin := src.OwnerConnectionID
		if origin == "" {
			origin = connID
		}
		src.SourceID = SourceID(src.Type, origin)
	}
	if src.OwnerConnectionID == "" {
		src.OwnerConnectionID = connID
	}
	if src.Volume < 0 || src.Volume > 1 {
		sess.mu.Unlock()
		return models.AudioSourceInfo{}, models.Validationf("volume %v out of range", src.Volume)
	}
	src.AddedAt = time.Now()
	stored := src
	sess.audioSources[src.SourceID] = &stored
	audience := sess.audienceLocked()
	sess.mu.Unlock()

	s.notifySource(models.EventAudioSourceAdded, broadcastID, audience, src)
	return src, nil
}

// UpdateSource applies a partial merge to an existing source.
func (s *Store) UpdateSource(broadcastID, connID, sourceID string, upd models.AudioSourceUpdate) (models.AudioSourceInfo, error) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.AudioSourceInfo{}, models.NotFoundf("broadcast %q", broadcastID)
	}

	sess.mu.Lock()
	if sess.broadcasterConnID != connID {
		sess.mu.Unlock()
		return models.AudioSourceInfo{}, models.Unauthorizedf("connection %q may not modify the mixer", connID)
	}
	src, ok := sess.audioSources[sourceID]
	if !ok {
		sess.mu.Unlock()
		return models.AudioSourceInfo{}, models.NotFoundf("audio source %q", sourceID)
	}
	if upd.Volume != nil {
		if *upd.Volume < 0 || *upd.Volume > 1 {
			sess.mu.Unlock()
			return models.AudioSourceInfo{}, models.Validationf("volume %v out of range", *upd.Volume)
		}
		src.Volume = *upd.Volume
	}
	if upd.IsMuted != nil {
		src.IsMuted = *upd.IsMuted
	}
	if upd.IsActive != nil {
		src.IsActive = *upd.IsActive
	}
	if upd.Priority != nil {
		src.Priority = *upd.Priority
	}
	updated := *src
	audience := sess.audienceLocked()
	sess.mu.Unlock()

	s.notifySource(models.EventAudioSourceUpdated, broadcastID, audience, updated)
	return updated, nil
}

// RemoveSource drops a source from the mixer table.
func (s *Store) RemoveSource(broadcastID, connID, sourceID string) error {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.NotFoundf("broadcast %q", broadcastID)
	}

	sess.mu.Lock()
	if sess.broadcasterConnID != connID {
		sess.mu.Unlock()
		return models.Unauthorizedf("connection %q may not modify the mixer", connID)
	}
	src, ok := sess.audioSources[sourceID]
	if !ok {
		sess.mu.Unlock()
		return models.NotFoundf("audio source %q", sourceID)
	}
	removed := *src
	delete(sess.audioSources, sourceID)
	audience := sess.audienceLocked()
	sess.mu.Unlock()

	s.notifySource(models.EventAudioSourceRemoved, broadcastID, audience, removed)
	return nil
}

// MixOrder returns the session's sources ordered by descending priority,
// ties broken by source id for stability. Arrival order never wins a
// conflict; priority does.
func (s *Store) MixOrder(broadcastID string) ([]models.AudioSourceInfo, error) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return nil, models.NotFoundf("broadcast %q", broadcastID)
	}
	sess.mu.Lock()
	out := make([]models.AudioSourceInfo, 0, len(sess.audioSources))
	for _, src := range sess.audioSources {
		out = append(out, *src)
	}
	sess.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out, nil
}

// dropSourcesOwnedBy removes every source owned by a departing connection.
func (s *Store) dropSourcesOwnedBy(broadcastID, ownerConnID string) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return
	}
	sess.mu.Lock()
	var removed []models.AudioSourceInfo
	for id, src := range sess.audioSources {
		if src.OwnerConnectionID == ownerConnID {
			removed = append(removed, *src)
			delete(sess.audioSources, id)
		}
	}
	audience := sess.audienceLocked()
	sess.mu.Unlock()

	for _, src := range removed {
		s.notifySource(models.EventAudioSourceRemoved, broadcastID, audience, src)
	}
}

func (s *Store) notifySource(t models.EventType, broadcastID string, audience []string, src models.AudioSourceInfo) {
	ev := models.Event{Type: t, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"source":      src,
	}}
	for _, id := range audience {
		s.reg.Send(id, ev)
	}
}
