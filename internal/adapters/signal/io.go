package signal

import (
	"context"
	"time"

	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cl *client) {
	c := cl.conn
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Str("user_id", string(cl.user.ID)).Msg("readPump closing")
		ctl.Orch.Disconnect(cl.user, c)
		c.Close()
		cancel()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
			ctl.handleSignal(ctx, cl, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cl *client, data []byte) {
	kind, msg, err := protocol.DecodeRequest(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", kind).Msg("bad frame")
		ctl.reply(cl.conn, protocol.NewError(kind, err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Ping:
		ctl.handlePing(cl.conn)
	case *protocol.JoinSession:
		err = ctl.handleJoin(ctx, cl, m)
	case *protocol.LeaveSession:
		err = ctl.handleLeave(ctx, cl, m)
	case *protocol.StartSession:
		err = ctl.handleStart(ctx, cl, m)
	case *protocol.EndSession:
		err = ctl.handleEnd(ctx, cl, m)
	case *protocol.UpdateMedia:
		err = ctl.handleMedia(ctx, cl, m)
	case *protocol.Offer, *protocol.Answer, *protocol.Candidate:
		err = ctl.handleNegotiation(ctx, cl, msg)
	case *protocol.JoinRoom:
		err = ctl.handleChatJoin(ctx, cl, m)
	case *protocol.LeaveRoom:
		err = ctl.handleChatLeave(ctx, cl, m)
	case *protocol.SendChat:
		err = ctl.handleChatMessage(ctx, cl, m)
	default:
		log.Warn().Str("module", "signal").Str("type", kind).Msg("unhandled signal")
	}

	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", kind).Str("user_id", string(cl.user.ID)).Msg("request rejected")
		ctl.reply(cl.conn, protocol.NewError(kind, err))
	}
}
