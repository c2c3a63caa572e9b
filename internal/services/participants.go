package services

import (
	"livepoll/internal/models"
)

// participantRegistry tracks the participant sessions of one poll in join
// order. It is guarded by the owning poll's mutex.
//
// A session may be attached to more than one transport at a time, e.g. a
// reconnect that arrives before the old socket has timed out. conns counts
// the live attachments and a session only reads as disconnected once the
// last one goes.
type participantRegistry struct {
	order []string
	byID  map[string]*models.Participant
	conns map[string]int
}

func newParticipantRegistry() *participantRegistry {
	return &participantRegistry{
		byID:  make(map[string]*models.Participant),
		conns: make(map[string]int),
	}
}

// join registers a participant or reconnects a known session. newID is only
// called when sessionID is empty. The second return value reports a rejoin.
func (r *participantRegistry) join(name, sessionID string, newID func() string) (models.Participant, bool) {
	if p, ok := r.byID[sessionID]; ok && sessionID != "" {
		p.Connected = true
		r.conns[sessionID]++
		if name != "" {
			p.Name = name
		}
		return *p, true
	}

	if sessionID == "" {
		sessionID = newID()
		for r.byID[sessionID] != nil {
			sessionID = newID()
		}
	}
	p := &models.Participant{SessionID: sessionID, Name: name, Connected: true}
	r.byID[sessionID] = p
	r.conns[sessionID] = 1
	r.order = append(r.order, sessionID)
	return *p, false
}

// markDisconnected drops one attachment of sessionID. It reports whether the
// participant was flipped to disconnected, which only happens when no
// attachment is left.
func (r *participantRegistry) markDisconnected(sessionID string) bool {
	p, ok := r.byID[sessionID]
	if !ok || !p.Connected {
		return false
	}
	if r.conns[sessionID] > 1 {
		r.conns[sessionID]--
		return false
	}
	delete(r.conns, sessionID)
	p.Connected = false
	return true
}

func (r *participantRegistry) remove(sessionID string) error {
	if _, ok := r.byID[sessionID]; !ok {
		return ErrParticipantNotFound
	}
	delete(r.byID, sessionID)
	delete(r.conns, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *participantRegistry) connectedCount() int {
	n := 0
	for _, p := range r.byID {
		if p.Connected {
			n++
		}
	}
	return n
}

func (r *participantRegistry) size() int {
	return len(r.byID)
}

func (r *participantRegistry) list() []models.Participant {
	out := make([]models.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}
