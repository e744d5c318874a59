package signal

import (
	"context"

	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(ctx context.Context, cl *client, m *protocol.JoinSession) error {
	log.Info().Str("module", "signal").Str("user_id", string(cl.user.ID)).Str("session_id", string(m.SessionID)).Msg("join")
	return ctl.Orch.JoinSession(ctx, cl.user, cl.conn, m.SessionID)
}

// handleLeave leaves the session; the connection stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, cl *client, m *protocol.LeaveSession) error {
	log.Info().Str("module", "signal").Str("user_id", string(cl.user.ID)).Str("session_id", string(m.SessionID)).Msg("leave")
	return ctl.Orch.LeaveSession(ctx, cl.user, cl.conn, m.SessionID)
}

func (ctl *SignalWSController) handleStart(ctx context.Context, cl *client, m *protocol.StartSession) error {
	return ctl.Orch.StartSession(ctx, cl.user, cl.conn, m.SessionID)
}

func (ctl *SignalWSController) handleEnd(ctx context.Context, cl *client, m *protocol.EndSession) error {
	return ctl.Orch.EndSession(ctx, cl.user, cl.conn, m.SessionID)
}

func (ctl *SignalWSController) handleMedia(ctx context.Context, cl *client, m *protocol.UpdateMedia) error {
	return ctl.Orch.UpdateMedia(ctx, cl.user, m.SessionID, m.MediaFlags)
}

func (ctl *SignalWSController) handleNegotiation(ctx context.Context, cl *client, m protocol.Message) error {
	return ctl.Orch.RelaySignal(ctx, cl.user.ID, m)
}
