package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
)

// RelaySignal forwards an offer, answer or candidate to its target, stamped
// with the sender's id.
func (o *Orchestrator) RelaySignal(ctx context.Context, from domain.UserID, msg protocol.Message) error {
	var (
		target domain.UserID
		build  func(domain.SessionID) protocol.Message
	)
	switch m := msg.(type) {
	case *protocol.Offer:
		target = m.TargetID
		build = func(sid domain.SessionID) protocol.Message {
			return protocol.RelayedOffer{SenderID: from, SessionID: sid, Description: m.Description}
		}
	case *protocol.Answer:
		target = m.TargetID
		build = func(sid domain.SessionID) protocol.Message {
			return protocol.RelayedAnswer{SenderID: from, SessionID: sid, Description: m.Description}
		}
	case *protocol.Candidate:
		target = m.TargetID
		build = func(sid domain.SessionID) protocol.Message {
			return protocol.RelayedCandidate{SenderID: from, SessionID: sid, Candidate: m.Candidate}
		}
	default:
		return fmt.Errorf("%w: %s is not a negotiation message", domain.ErrBadPayload, msg.Kind())
	}

	var err error
	if e := o.do(ctx, func() {
		var res core.PublishResult
		res, err = o.Registry.Relay(from, target, build)
		o.settle(app.Outcome{PublishResult: res})
	}); e != nil {
		return e
	}
	return err
}
