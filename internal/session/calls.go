package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/mossy-p/onair/internal/models"
)

// RequestCall appends a pending call-in request to the session's queue,
// tells the broadcaster a call is waiting and acknowledges the caller with
// its queue position.
func (s *Store) RequestCall(broadcastID, connID, callerName, callerLocation string) (models.CallRequest, error) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.CallRequest{}, models.NotFoundf("no such broadcast %q", broadcastID)
	}

	req := models.CallRequest{
		CallID:             uuid.New().String(),
		CallerConnectionID: connID,
		CallerName:         callerName,
		CallerLocation:     callerLocation,
		RequestTime:        time.Now(),
		Status:             models.CallPending,
	}

	sess.mu.Lock()
	stored := req
	sess.callQueue = append(sess.callQueue, &stored)
	position := len(sess.callQueue)
	broadcasterID := sess.broadcasterConnID
	sess.mu.Unlock()

	s.mu.Lock()
	s.callIndex[req.CallID] = broadcastID
	s.mu.Unlock()

	if broadcasterID != "" {
		s.reg.Send(broadcasterID, models.Event{Type: models.EventIncomingCall, Payload: map[string]interface{}{
			"broadcastId": broadcastID,
			"call":        req,
			"position":    position,
		}})
	}
	s.reg.Send(connID, models.Event{Type: models.EventCallPending, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"callId":      req.CallID,
		"position":    position,
	}})
	s.log.Info().Str("broadcast", broadcastID).Str("call", req.CallID).Msg("call queued")
	return req, nil
}

// AcceptCall promotes a pending request to an active call. Only the session's
// broadcaster may accept; the caller gains a caller-type audio source with
// default mix parameters and learns it is live.
func (s *Store) AcceptCall(connID, callID string) (models.ActiveCall, error) {
	broadcastID, ok := s.lookupCall(callID)
	if !ok {
		return models.ActiveCall{}, models.NotFoundf("call %q", callID)
	}
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.ActiveCall{}, models.NotFoundf("broadcast %q", broadcastID)
	}

	sess.mu.Lock()
	if sess.broadcasterConnID != connID {
		sess.mu.Unlock()
		return models.ActiveCall{}, models.Unauthorizedf("connection %q may not accept calls", connID)
	}
	req, found := sess.removeQueuedLocked(callID)
	if !found {
		sess.mu.Unlock()
		return models.ActiveCall{}, models.NotFoundf("call %q no longer pending", callID)
	}
	req.Status = models.CallAccepted
	call := models.ActiveCall{CallRequest: req, AcceptTime: time.Now()}
	sess.activeCalls[req.CallerConnectionID] = &call
	sess.stats.TotalCalls++

	src := models.AudioSourceInfo{
		SourceID:          SourceID(models.SourceCaller, req.CallerConnectionID),
		Type:              models.SourceCaller,
		Name:              req.CallerName,
		Volume:            callerDefaultVolume,
		IsMuted:           false,
		IsActive:          true,
		Priority:          callerDefaultPriority,
		OwnerConnectionID: req.CallerConnectionID,
		AddedAt:           time.Now(),
	}
	sess.audioSources[src.SourceID] = &src
	audience := sess.audienceLocked()
	sess.mu.Unlock()

	s.dropCallIndex(callID)

	s.reg.Send(req.CallerConnectionID, models.Event{Type: models.EventCallAccepted, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"callId":      callID,
	}})
	s.notifySource(models.EventAudioSourceAdded, broadcastID, audience, src)
	s.log.Info().Str("broadcast", broadcastID).Str("call", callID).Msg("call on air")
	return call, nil
}

// RejectCall removes a pending request and tells the caller.
func (s *Store) RejectCall(connID, callID string) error {
	broadcastID, ok := s.lookupCall(callID)
	if !ok {
		return models.NotFoundf("call %q", callID)
	}
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.NotFoundf("broadcast %q", broadcastID)
	}

	sess.mu.Lock()
	if sess.broadcasterConnID != connID {
		sess.mu.Unlock()
		return models.Unauthorizedf("connection %q may not reject calls", connID)
	}
	req, found := sess.removeQueuedLocked(callID)
	sess.mu.Unlock()
	if !found {
		return models.NotFoundf("call %q no longer pending", callID)
	}

	s.dropCallIndex(callID)
	s.reg.Send(req.CallerConnectionID, models.Event{Type: models.EventCallRejected, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"callId":      callID,
	}})
	return nil
}

// HangUp takes an active call off air. The broadcaster or the caller itself
// may hang up; the caller's audio source is removed with the call.
func (s *Store) HangUp(broadcastID, connID, callerConnID string) error {
	sess, ok := s.get(broadcastID)
	if !ok {
		return models.NotFoundf("broadcast %q", broadcastID)
	}

	sess.mu.Lock()
	if sess.broadcasterConnID != connID && connID != callerConnID {
		sess.mu.Unlock()
		return models.Unauthorizedf("connection %q may not end this call", connID)
	}
	call, ok := sess.activeCalls[callerConnID]
	if !ok {
		sess.mu.Unlock()
		return models.NotFoundf("no active call for connection %q", callerConnID)
	}
	delete(sess.activeCalls, callerConnID)
	var removedSrc *models.AudioSourceInfo
	srcID := SourceID(models.SourceCaller, callerConnID)
	if src, ok := sess.audioSources[srcID]; ok {
		copied := *src
		removedSrc = &copied
		delete(sess.audioSources, srcID)
	}
	audience := sess.audienceLocked()
	sess.mu.Unlock()

	s.reg.Send(callerConnID, models.Event{Type: models.EventCallEnded, Payload: map[string]interface{}{
		"broadcastId": broadcastID,
		"callId":      call.CallID,
		"reason":      "hang up",
	}})
	if removedSrc != nil {
		s.notifySource(models.EventAudioSourceRemoved, broadcastID, audience, *removedSrc)
	}
	return nil
}

// ExpirePendingCalls drops every pending request older than the configured
// timeout. Each expired caller receives exactly one call-timeout event. This
// sweep is the only bound on queue growth from abandoned callers.
func (s *Store) ExpirePendingCalls(now time.Time) int {
	s.mu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	expired := 0
	cutoff := now.Add(-s.cfg.CallTimeout)
	for _, sess := range all {
		sess.mu.Lock()
		var kept []*models.CallRequest
		var dropped []models.CallRequest
		for _, req := range sess.callQueue {
			if req.RequestTime.Before(cutoff) {
				dropped = append(dropped, *req)
			} else {
				kept = append(kept, req)
			}
		}
		sess.callQueue = kept
		broadcastID := sess.id
		sess.mu.Unlock()

		for _, req := range dropped {
			s.dropCallIndex(req.CallID)
			s.reg.Send(req.CallerConnectionID, models.Event{Type: models.EventCallTimeout, Payload: map[string]interface{}{
				"broadcastId": broadcastID,
				"callId":      req.CallID,
				"reason":      "call request timed out",
			}})
			expired++
		}
	}
	if expired > 0 {
		s.log.Info().Int("expired", expired).Msg("pending calls expired")
	}
	return expired
}

// dropCallsFor removes any call state a disconnecting caller held.
func (s *Store) dropCallsFor(broadcastID, connID string) {
	sess, ok := s.get(broadcastID)
	if !ok {
		return
	}
	sess.mu.Lock()
	var droppedIDs []string
	var kept []*models.CallRequest
	for _, req := range sess.callQueue {
		if req.CallerConnectionID == connID {
			droppedIDs = append(droppedIDs, req.CallID)
		} else {
			kept = append(kept, req)
		}
	}
	sess.callQueue = kept
	if call, ok := sess.activeCalls[connID]; ok {
		droppedIDs = append(droppedIDs, call.CallID)
		delete(sess.activeCalls, connID)
	}
	sess.mu.Unlock()

	for _, id := range droppedIDs {
		s.dropCallIndex(id)
	}
	s.dropSourcesOwnedBy(broadcastID, connID)
}

func (s *Store) lookupCall(callID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	broadcastID, ok := s.callIndex[callID]
	return broadcastID, ok
}

func (s *Store) dropCallIndex(callID string) {
	s.mu.Lock()
	delete(s.callIndex, callID)
	s.mu.Unlock()
}

// removeQueuedLocked removes a pending request from the queue by call id.
// Callers must hold sess.mu.
func (sess *session) removeQueuedLocked(callID string) (models.CallRequest, bool) {
	for i, req := range sess.callQueue {
		if req.CallID == callID {
			removed := *req
			sess.callQueue = append(sess.callQueue[:i], sess.callQueue[i+1:]...)
			return removed, true
		}
	}
	return models.CallRequest{}, false
}
