package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// AuthorizeRoom decides whether the user may read a chat room. A room named
// after a live session is open to its owner and participants; any other room
// is a course and the enrollment collaborator decides.
func (o *Orchestrator) AuthorizeRoom(ctx context.Context, user domain.User, room domain.RoomID) error {
	var isSession, member bool
	if e := o.do(ctx, func() {
		_, isSession = o.Registry.Session(domain.SessionID(room))
		member = o.Registry.IsMember(domain.SessionID(room), user.ID)
	}); e != nil {
		return e
	}
	if isSession {
		if !member {
			return fmt.Errorf("not a participant of %s: %w", room, domain.ErrForbidden)
		}
		return nil
	}
	return o.checkEnrollment(ctx, user.ID, domain.CourseID(room))
}

func (o *Orchestrator) JoinRoom(ctx context.Context, user domain.User, conn core.SignalConnection, room domain.RoomID) error {
	if err := o.AuthorizeRoom(ctx, user, room); err != nil {
		return err
	}

	var seeded bool
	if e := o.do(ctx, func() { seeded = o.Chat.Seeded(room) }); e != nil {
		return e
	}
	var last uint64
	if !seeded && o.History != nil {
		recent, err := o.History.Recent(ctx, room, 1)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("room", string(room)).Msg("history seed")
		} else if len(recent) > 0 {
			last = recent[len(recent)-1].Seq
		}
	}

	return o.do(ctx, func() {
		o.Chat.Seed(room, last)
		_, res := o.Chat.Join(room, user, conn)
		o.settle(app.Outcome{PublishResult: res})
	})
}

func (o *Orchestrator) LeaveRoom(ctx context.Context, conn core.SignalConnection, room domain.RoomID) error {
	return o.do(ctx, func() {
		res := o.Chat.Leave(room, conn.ID())
		res.Merge(core.Send(conn, protocol.MustEncode(protocol.ChatLeft{RoomID: room})))
		o.settle(app.Outcome{PublishResult: res})
	})
}

// PublishChat relays right away; the history write happens in the background.
func (o *Orchestrator) PublishChat(ctx context.Context, conn core.SignalConnection, room domain.RoomID, draft domain.ChatDraft) (domain.ChatMessage, error) {
	var (
		msg domain.ChatMessage
		err error
	)
	if e := o.do(ctx, func() {
		var res core.PublishResult
		msg, res, err = o.Chat.Publish(room, conn.ID(), draft)
		o.settle(app.Outcome{PublishResult: res})
		if err != nil {
			return
		}
		select {
		case o.history <- msg:
		default:
			log.Warn().Str("module", "app.orch").Str("room", string(room)).Uint64("seq", msg.Seq).Msg("history queue full, message not persisted")
		}
	}); e != nil {
		return msg, e
	}
	return msg, err
}

// RoomHistory reads persisted messages for gap recovery.
func (o *Orchestrator) RoomHistory(ctx context.Context, user domain.User, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	if err := o.AuthorizeRoom(ctx, user, room); err != nil {
		return nil, err
	}
	if o.History == nil {
		return nil, nil
	}
	return o.History.Recent(ctx, room, limit)
}
