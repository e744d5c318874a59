package signal

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// CloseUnauthorized is the close code sent when the token is rejected.
const CloseUnauthorized = 4401

// SessionTokenKey is where the cookie session keeps a browser's token.
const SessionTokenKey = "token"

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	ChatLimit    int
	ChatInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 8 << 20
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ChatLimit <= 0 {
		o.ChatLimit = 10
	}
	if o.ChatInterval <= 0 {
		o.ChatInterval = 10 * time.Second
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	Auth core.TokenVerifier

	opts    Options
	limiter *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, auth core.TokenVerifier, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Orch:    o,
		Auth:    auth,
		opts:    opts,
		limiter: NewRoomRateLimiter(opts.ChatLimit, opts.ChatInterval),
	}
}

type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   core.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is one authenticated connection.
type client struct {
	conn *WsSignalConn
	user domain.User
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TokenFrom looks at the query string, the Authorization header and the cookie
// session, in that order.
func TokenFrom(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if v, ok := sessions.Default(c).Get(SessionTokenKey).(string); ok {
		return v
	}
	return ""
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	user, err := ctl.Auth.Verify(c.Request.Context(), TokenFrom(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("rejecting connection")
		ctl.rejectUnauthorized(ws, err)
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	cl := &client{conn: conn, user: user}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("user_id", string(user.ID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cl)
}

// rejectUnauthorized writes the error frame and the close frame directly,
// since no pumps run for a rejected connection.
func (ctl *SignalWSController) rejectUnauthorized(ws *websocket.Conn, err error) {
	defer ws.Close()
	deadline := time.Now().Add(ctl.opts.WriteWait)
	_ = ws.SetWriteDeadline(deadline)
	frame := protocol.MustEncode(protocol.NewError("", err))
	if werr := ws.WriteMessage(websocket.TextMessage, frame); werr != nil {
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(CloseUnauthorized, domain.CodeUnauthorized), deadline)
}
