package app

import (
	"fmt"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
)

// transitions is the session state machine. ended is terminal.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusInactive: {domain.StatusStarting, domain.StatusEnded},
	domain.StatusStarting: {domain.StatusActive, domain.StatusEnded},
	domain.StatusActive:   {domain.StatusEnded},
}

func canTransition(from, to domain.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// lookupForTransition resolves a session for start/end. Recently ended sessions
// report Conflict rather than NotFound.
func (r *Registry) lookupForTransition(id domain.SessionID, actor domain.UserID) (*sessionEntry, error) {
	e, ok := r.sessions[id]
	if !ok {
		if _, gone := r.ended[id]; gone {
			return nil, fmt.Errorf("session %s already ended: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if e.session.OwnerID != actor {
		return nil, fmt.Errorf("only the owner may change session %s: %w", id, domain.ErrForbidden)
	}
	return e, nil
}

// Start moves the session to starting. The caller persists the returned
// snapshot outside the loop, then calls ConfirmStart.
func (r *Registry) Start(id domain.SessionID, actor domain.UserID, requester core.SignalConnection) (domain.Session, Outcome, error) {
	var out Outcome
	e, err := r.lookupForTransition(id, actor)
	if err != nil {
		return domain.Session{}, out, err
	}
	if !canTransition(e.session.Status, domain.StatusStarting) {
		return domain.Session{}, out, fmt.Errorf("start session %s from %s: %w", id, e.session.Status, domain.ErrConflict)
	}
	for other := range r.byOwner[actor] {
		if other != id && r.sessions[other].session.Status.Live() {
			return domain.Session{}, out, fmt.Errorf("owner already runs session %s: %w", other, domain.ErrConflict)
		}
	}
	out.PublishResult = r.setStatus(e, domain.StatusStarting, requester)
	return e.session, out, nil
}

// ConfirmStart records that the start was persisted. The session turns active
// now if the owner is present, otherwise on the owner's join.
func (r *Registry) ConfirmStart(id domain.SessionID) Outcome {
	e, ok := r.sessions[id]
	if !ok || e.session.Status != domain.StatusStarting {
		return Outcome{}
	}
	e.persisted = true
	return r.activate(e)
}

func (r *Registry) activate(e *sessionEntry) Outcome {
	var out Outcome
	if e.session.Status != domain.StatusStarting || !e.persisted {
		return out
	}
	if _, ok := e.members[e.session.OwnerID]; !ok {
		return out
	}
	out.PublishResult = r.setStatus(e, domain.StatusActive, nil)
	return out
}

// End is legal from inactive, starting and active.
func (r *Registry) End(id domain.SessionID, actor domain.UserID, requester core.SignalConnection) (Outcome, error) {
	e, err := r.lookupForTransition(id, actor)
	if err != nil {
		return Outcome{}, err
	}
	if !canTransition(e.session.Status, domain.StatusEnded) {
		return Outcome{}, fmt.Errorf("end session %s from %s: %w", id, e.session.Status, domain.ErrConflict)
	}
	return r.finish(e, requester), nil
}
