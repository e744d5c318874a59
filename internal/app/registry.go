package app

import (
	"fmt"
	"time"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// tombstoneTTL bounds how long an ended session id keeps answering Conflict
// instead of NotFound.
const tombstoneTTL = time.Hour

type member struct {
	participant domain.Participant
	conn        core.SignalConnection
}

type sessionEntry struct {
	session   domain.Session
	members   map[domain.UserID]*member
	order     []domain.UserID
	persisted bool
}

func (e *sessionEntry) conns() []core.SignalConnection {
	return lo.Map(e.order, func(id domain.UserID, _ int) core.SignalConnection {
		return e.members[id].conn
	})
}

func (e *sessionEntry) participants() []domain.Participant {
	return lo.Map(e.order, func(id domain.UserID, _ int) domain.Participant {
		return e.members[id].participant
	})
}

func (e *sessionEntry) hasConn(c core.SignalConnection) bool {
	return c != nil && lo.SomeBy(e.order, func(id domain.UserID) bool {
		return e.members[id].conn.ID() == c.ID()
	})
}

// Outcome collects what a mutation produced that the caller still has to act on.
type Outcome struct {
	core.PublishResult
	Ended []domain.Session
}

func (o *Outcome) Merge(other Outcome) {
	o.PublishResult.Merge(other.PublishResult)
	o.Ended = append(o.Ended, other.Ended...)
}

// Registry is the process-wide table of live sessions.
// It is not safe for concurrent use: every call must come from the event loop.
type Registry struct {
	sessions map[domain.SessionID]*sessionEntry
	byOwner  map[domain.UserID]map[domain.SessionID]struct{}
	byUser   map[domain.UserID]domain.SessionID
	ended    map[domain.SessionID]time.Time

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]*sessionEntry),
		byOwner:  make(map[domain.UserID]map[domain.SessionID]struct{}),
		byUser:   make(map[domain.UserID]domain.SessionID),
		ended:    make(map[domain.SessionID]time.Time),
		now:      time.Now,
	}
}

func (r *Registry) CreateSession(owner domain.User, meta domain.SessionMeta) (domain.Session, error) {
	if owner.Role != domain.RoleInstructor {
		return domain.Session{}, fmt.Errorf("create session: role %s: %w", owner.Role, domain.ErrForbidden)
	}
	if err := meta.Validate(); err != nil {
		return domain.Session{}, err
	}
	for sid := range r.byOwner[owner.ID] {
		if r.sessions[sid].session.Meta.CourseID == meta.CourseID {
			return domain.Session{}, fmt.Errorf("owner already has session %s for course %s: %w", sid, meta.CourseID, domain.ErrConflict)
		}
	}

	s := domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		OwnerID:   owner.ID,
		Meta:      meta,
		Status:    domain.StatusInactive,
		CreatedAt: r.now(),
	}
	r.sessions[s.ID] = &sessionEntry{session: s, members: make(map[domain.UserID]*member)}
	if r.byOwner[owner.ID] == nil {
		r.byOwner[owner.ID] = make(map[domain.SessionID]struct{})
	}
	r.byOwner[owner.ID][s.ID] = struct{}{}

	log.Info().Str("module", "app.registry").Str("session_id", string(s.ID)).Str("owner", string(owner.ID)).Msg("session created")
	return s, nil
}

func (r *Registry) Session(id domain.SessionID) (domain.Session, bool) {
	e, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	return e.session, true
}

func (r *Registry) Participants(id domain.SessionID) ([]domain.Participant, error) {
	e, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return e.participants(), nil
}

// SessionOf returns the session the user currently participates in.
func (r *Registry) SessionOf(userID domain.UserID) (domain.SessionID, bool) {
	sid, ok := r.byUser[userID]
	return sid, ok
}

// IsMember reports whether the user is the session's owner or a participant.
func (r *Registry) IsMember(id domain.SessionID, userID domain.UserID) bool {
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	_, joined := e.members[userID]
	return joined || e.session.OwnerID == userID
}

// Admission tells the caller what to verify before Join.
type Admission struct {
	CourseID domain.CourseID
	Owner    bool
	// Takeover is set when the user is already a member over another
	// connection; Join will move the membership to the new one.
	Takeover bool
}

// Admit runs the checks Join repeats, so a slow enrollment lookup is only
// issued for requests that could succeed.
func (r *Registry) Admit(id domain.SessionID, userID domain.UserID, connID core.ConnID) (Admission, error) {
	e, ok := r.sessions[id]
	if !ok {
		return Admission{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	adm := Admission{CourseID: e.session.Meta.CourseID, Owner: e.session.OwnerID == userID}
	if m, ok := e.members[userID]; ok {
		if m.conn.ID() == connID {
			return Admission{}, fmt.Errorf("already joined session %s: %w", id, domain.ErrConflict)
		}
		adm.Takeover = true
	}
	return adm, nil
}

// Join adds the user, leaving any other session first. Existing members get
// participant-joined; the joiner gets the snapshot ack followed by one
// participant-joined per pre-existing member.
func (r *Registry) Join(id domain.SessionID, user domain.User, conn core.SignalConnection) (Outcome, error) {
	var out Outcome
	adm, err := r.Admit(id, user.ID, conn.ID())
	if err != nil {
		return out, err
	}
	if prev, ok := r.byUser[user.ID]; ok && prev != id {
		out.Merge(r.Leave(prev, user.ID))
	}
	e, ok := r.sessions[id]
	if !ok {
		return out, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if adm.Takeover {
		out.PublishResult.Merge(r.takeover(e, user.ID, conn))
		return out, nil
	}

	p := domain.NewParticipant(id, user, r.now())
	existing := e.participants()
	out.PublishResult.Merge(core.Broadcast(e.conns(), "", protocol.MustEncode(protocol.ParticipantJoined{SessionID: id, Participant: p})))

	e.members[user.ID] = &member{participant: p, conn: conn}
	e.order = append(e.order, user.ID)
	r.byUser[user.ID] = id

	out.PublishResult.Merge(r.snapshot(e, user.ID, conn, existing))
	log.Info().Str("module", "app.registry").Str("session_id", string(id)).Str("user_id", string(user.ID)).Int("members", len(e.order)).Msg("joined")

	if user.ID == e.session.OwnerID {
		out.Merge(r.activate(e))
	}
	return out, nil
}

// takeover moves a membership to a new connection, as after a reconnect whose
// old socket has not timed out yet. The others see the participant leave and
// join again, so they drop media links bound to the old connection; session
// status is untouched.
func (r *Registry) takeover(e *sessionEntry, userID domain.UserID, conn core.SignalConnection) core.PublishResult {
	var res core.PublishResult
	m := e.members[userID]
	m.conn = conn

	others := lo.Filter(e.order, func(id domain.UserID, _ int) bool { return id != userID })
	conns := lo.Map(others, func(id domain.UserID, _ int) core.SignalConnection { return e.members[id].conn })
	res.Merge(core.Broadcast(conns, "", protocol.MustEncode(protocol.ParticipantLeft{SessionID: e.session.ID, ParticipantID: userID})))
	res.Merge(core.Broadcast(conns, "", protocol.MustEncode(protocol.ParticipantJoined{SessionID: e.session.ID, Participant: m.participant})))

	existing := lo.Map(others, func(id domain.UserID, _ int) domain.Participant { return e.members[id].participant })
	res.Merge(r.snapshot(e, userID, conn, existing))
	log.Info().Str("module", "app.registry").Str("session_id", string(e.session.ID)).Str("user_id", string(userID)).Str("conn", string(conn.ID())).Msg("connection taken over")
	return res
}

// snapshot acks a join: the session with every participant, then one
// participant-joined per member that was there before.
func (r *Registry) snapshot(e *sessionEntry, userID domain.UserID, conn core.SignalConnection, existing []domain.Participant) core.PublishResult {
	res := core.Send(conn, protocol.MustEncode(protocol.SessionJoined{
		Session:      e.session,
		Participants: e.participants(),
	}))
	for _, ep := range existing {
		if ep.UserID == userID {
			continue
		}
		res.Merge(core.Send(conn, protocol.MustEncode(protocol.ParticipantJoined{SessionID: e.session.ID, Participant: ep})))
	}
	return res
}

// Leave is idempotent. An owner leaving an active session ends it: remaining
// members get session-status ended, then participant-left.
func (r *Registry) Leave(id domain.SessionID, userID domain.UserID) Outcome {
	var out Outcome
	e, ok := r.sessions[id]
	if !ok {
		return out
	}
	if _, ok := e.members[userID]; !ok {
		return out
	}
	delete(e.members, userID)
	e.order = lo.Without(e.order, userID)
	if r.byUser[userID] == id {
		delete(r.byUser, userID)
	}
	log.Info().Str("module", "app.registry").Str("session_id", string(id)).Str("user_id", string(userID)).Msg("left")

	left := protocol.MustEncode(protocol.ParticipantLeft{SessionID: id, ParticipantID: userID})
	if userID == e.session.OwnerID && e.session.Status == domain.StatusActive {
		remaining := e.conns()
		out.Merge(r.finish(e, nil))
		out.PublishResult.Merge(core.Broadcast(remaining, "", left))
		return out
	}
	out.PublishResult.Merge(core.Broadcast(e.conns(), "", left))
	return out
}

// Detach is Leave for a closed connection. It is a no-op when the user has
// since rejoined over another connection.
func (r *Registry) Detach(userID domain.UserID, connID core.ConnID) Outcome {
	sid, ok := r.byUser[userID]
	if !ok {
		return Outcome{}
	}
	m := r.sessions[sid].members[userID]
	if m == nil || m.conn.ID() != connID {
		return Outcome{}
	}
	return r.Leave(sid, userID)
}

func (r *Registry) UpdateMedia(id domain.SessionID, userID domain.UserID, flags domain.MediaFlags) (Outcome, error) {
	var out Outcome
	e, ok := r.sessions[id]
	if !ok {
		return out, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	m, ok := e.members[userID]
	if !ok {
		return out, fmt.Errorf("not a participant of %s: %w", id, domain.ErrNotFound)
	}
	m.participant.Media = flags
	out.PublishResult.Merge(core.Broadcast(e.conns(), "", protocol.MustEncode(protocol.ParticipantUpdated{SessionID: id, Participant: m.participant})))
	return out, nil
}

// Relay forwards a negotiation message to a participant of the sender's session.
func (r *Registry) Relay(from, target domain.UserID, build func(domain.SessionID) protocol.Message) (core.PublishResult, error) {
	sid, ok := r.byUser[from]
	if !ok {
		return core.PublishResult{}, fmt.Errorf("sender %s is not in a session: %w", from, domain.ErrNotFound)
	}
	t, ok := r.sessions[sid].members[target]
	if !ok || target == from {
		return core.PublishResult{}, fmt.Errorf("participant %s not in session %s: %w", target, sid, domain.ErrNotFound)
	}
	frame, err := protocol.Encode(build(sid))
	if err != nil {
		return core.PublishResult{}, err
	}
	return core.Send(t.conn, frame), nil
}

// finish ends the session and drops it from every index. requester, when not a
// member, also receives the status change.
func (r *Registry) finish(e *sessionEntry, requester core.SignalConnection) Outcome {
	var out Outcome
	out.PublishResult = r.setStatus(e, domain.StatusEnded, requester)

	for _, uid := range e.order {
		if r.byUser[uid] == e.session.ID {
			delete(r.byUser, uid)
		}
	}
	delete(r.sessions, e.session.ID)
	if owned := r.byOwner[e.session.OwnerID]; owned != nil {
		delete(owned, e.session.ID)
		if len(owned) == 0 {
			delete(r.byOwner, e.session.OwnerID)
		}
	}

	now := r.now()
	for sid, at := range r.ended {
		if now.Sub(at) > tombstoneTTL {
			delete(r.ended, sid)
		}
	}
	r.ended[e.session.ID] = now

	out.Ended = append(out.Ended, e.session)
	log.Info().Str("module", "app.registry").Str("session_id", string(e.session.ID)).Int("detached", len(e.order)).Msg("session ended")
	return out
}

func (r *Registry) setStatus(e *sessionEntry, status domain.Status, requester core.SignalConnection) core.PublishResult {
	from := e.session.Status
	e.session.Status = status
	log.Info().Str("module", "app.lifecycle").Str("session_id", string(e.session.ID)).Str("from", string(from)).Str("to", string(status)).Msg("status changed")

	targets := e.conns()
	if requester != nil && !e.hasConn(requester) {
		targets = append(targets, requester)
	}
	return core.Broadcast(targets, "", protocol.MustEncode(protocol.SessionStatus{SessionID: e.session.ID, Status: status}))
}
