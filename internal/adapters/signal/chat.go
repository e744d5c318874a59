package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
)

func (ctl *SignalWSController) handleChatJoin(ctx context.Context, cl *client, m *protocol.JoinRoom) error {
	return ctl.Orch.JoinRoom(ctx, cl.user, cl.conn, m.RoomID)
}

func (ctl *SignalWSController) handleChatLeave(ctx context.Context, cl *client, m *protocol.LeaveRoom) error {
	return ctl.Orch.LeaveRoom(ctx, cl.conn, m.RoomID)
}

func (ctl *SignalWSController) handleChatMessage(ctx context.Context, cl *client, m *protocol.SendChat) error {
	if !ctl.limiter.Allow(m.RoomID, cl.user.ID) {
		return fmt.Errorf("too many messages: %w", domain.ErrRateLimited)
	}
	_, err := ctl.Orch.PublishChat(ctx, cl.conn, m.RoomID, m.Draft())
	return err
}
