package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) CreateSession(ctx context.Context, owner domain.User, meta domain.SessionMeta) (domain.Session, error) {
	var (
		s   domain.Session
		err error
	)
	if e := o.do(ctx, func() { s, err = o.Registry.CreateSession(owner, meta) }); e != nil {
		return s, e
	}
	if err != nil {
		return s, err
	}
	if o.Archive != nil {
		if err := o.Archive.SaveSession(ctx, s); err != nil {
			log.Error().Err(err).Str("module", "app.orch").Str("session_id", string(s.ID)).Msg("archive new session")
		}
	}
	return s, nil
}

// SessionInfo returns a consistent snapshot of a live session.
func (o *Orchestrator) SessionInfo(ctx context.Context, id domain.SessionID) (domain.Session, []domain.Participant, error) {
	var (
		s     domain.Session
		ps    []domain.Participant
		err   error
		found bool
	)
	if e := o.do(ctx, func() {
		s, found = o.Registry.Session(id)
		ps, err = o.Registry.Participants(id)
	}); e != nil {
		return s, nil, e
	}
	if !found {
		return s, nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return s, ps, err
}

// ViewSession is SessionInfo for a requesting user. Owners and participants
// always see it; anyone else must be enrolled in the session's course. A
// session that is no longer live is read from the archive, without
// participants.
func (o *Orchestrator) ViewSession(ctx context.Context, user domain.User, id domain.SessionID) (domain.Session, []domain.Participant, error) {
	var member bool
	s, ps, err := o.SessionInfo(ctx, id)
	switch {
	case err == nil:
		if e := o.do(ctx, func() { member = o.Registry.IsMember(id, user.ID) }); e != nil {
			return domain.Session{}, nil, e
		}
	case errors.Is(err, domain.ErrNotFound) && o.Archive != nil:
		if s, err = o.Archive.Load(ctx, id); err != nil {
			return domain.Session{}, nil, err
		}
		ps = nil
		member = s.OwnerID == user.ID
	default:
		return domain.Session{}, nil, err
	}

	if !member {
		if err := o.checkEnrollment(ctx, user.ID, s.Meta.CourseID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Session{}, nil, fmt.Errorf("course %s: %w", s.Meta.CourseID, domain.ErrForbidden)
			}
			return domain.Session{}, nil, err
		}
	}
	return s, ps, nil
}

// JoinSession admits the user in three steps: precheck on the loop, enrollment
// check off it, then the actual join on the loop again.
func (o *Orchestrator) JoinSession(ctx context.Context, user domain.User, conn core.SignalConnection, id domain.SessionID) error {
	var (
		adm app.Admission
		err error
	)
	if e := o.do(ctx, func() { adm, err = o.Registry.Admit(id, user.ID, conn.ID()) }); e != nil {
		return e
	}
	if err != nil {
		return err
	}

	if !adm.Owner {
		if err := o.checkEnrollment(ctx, user.ID, adm.CourseID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("course %s: %w", adm.CourseID, domain.ErrForbidden)
			}
			return err
		}
	}

	if e := o.do(ctx, func() {
		var out app.Outcome
		out, err = o.Registry.Join(id, user, conn)
		o.settle(out)
	}); e != nil {
		return e
	}
	return err
}

func (o *Orchestrator) checkEnrollment(ctx context.Context, userID domain.UserID, courseID domain.CourseID) error {
	if o.Enrollment == nil {
		return nil
	}
	ok, err := o.Enrollment.CanJoin(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("enrollment check: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %s not enrolled in %s: %w", userID, courseID, domain.ErrForbidden)
	}
	return nil
}

func (o *Orchestrator) LeaveSession(ctx context.Context, user domain.User, conn core.SignalConnection, id domain.SessionID) error {
	return o.do(ctx, func() {
		out := o.Registry.Leave(id, user.ID)
		out.PublishResult.Merge(core.Send(conn, protocol.MustEncode(protocol.SessionLeft{SessionID: id})))
		o.settle(out)
	})
}

// StartSession persists the starting snapshot between the two loop entries.
// The archive is for durability only, so its failure does not stop the start.
func (o *Orchestrator) StartSession(ctx context.Context, user domain.User, conn core.SignalConnection, id domain.SessionID) error {
	var (
		snap domain.Session
		err  error
	)
	if e := o.do(ctx, func() {
		var out app.Outcome
		snap, out, err = o.Registry.Start(id, user.ID, conn)
		o.settle(out)
	}); e != nil {
		return e
	}
	if err != nil {
		return err
	}

	if o.Archive != nil {
		if err := o.Archive.SaveSession(ctx, snap); err != nil {
			log.Error().Err(err).Str("module", "app.orch").Str("session_id", string(id)).Msg("archive starting session")
		}
	}

	return o.do(context.WithoutCancel(ctx), func() {
		o.settle(o.Registry.ConfirmStart(id))
	})
}

func (o *Orchestrator) EndSession(ctx context.Context, user domain.User, conn core.SignalConnection, id domain.SessionID) error {
	var err error
	if e := o.do(ctx, func() {
		var out app.Outcome
		out, err = o.Registry.End(id, user.ID, conn)
		o.settle(out)
	}); e != nil {
		return e
	}
	return err
}

func (o *Orchestrator) UpdateMedia(ctx context.Context, user domain.User, id domain.SessionID, flags domain.MediaFlags) error {
	var err error
	if e := o.do(ctx, func() {
		var out app.Outcome
		out, err = o.Registry.UpdateMedia(id, user.ID, flags)
		o.settle(out)
	}); e != nil {
		return e
	}
	return err
}
