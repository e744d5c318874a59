// Package client is the participant side of the signaling channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// closeUnauthorized mirrors the server's rejection close code.
const closeUnauthorized = 4401

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

type Options struct {
	URL        string
	Token      string
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
	Dialer     *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Backoff is the wait before reconnect attempt n (1-based):
// base doubled per attempt, capped at limit.
func Backoff(n int, base, limit time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// Handler receives every decoded server event on the read goroutine.
type Handler interface {
	HandleEvent(kind string, m protocol.Message)
}

type HandlerFunc func(kind string, m protocol.Message)

func (f HandlerFunc) HandleEvent(kind string, m protocol.Message) { f(kind, m) }

type Client struct {
	opts    Options
	handler Handler

	mu          sync.Mutex
	state       State
	send        chan core.Frame
	onState     func(State)
	onConnected func(reconnect bool)
}

func New(opts Options, h Handler) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:    opts,
		handler: h,
		state:   StateDisconnected,
		send:    make(chan core.Frame, opts.SendBuffer),
	}
}

// OnStateChange and OnConnected must be set before Run.
func (c *Client) OnStateChange(fn func(State)) { c.onState = fn }

// OnConnected runs after each successful dial; reconnect is false the first time.
func (c *Client) OnConnected(fn func(reconnect bool)) { c.onConnected = fn }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	log.Info().Str("module", "client").Str("state", string(s)).Msg("signaling state")
	if c.onState != nil {
		c.onState(s)
	}
}

// Send queues msg for the current or next connection.
func (c *Client) Send(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("send %s: %w", msg.Kind(), core.ErrBackpressure)
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", c.opts.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run keeps a connection open until ctx ends, the token is rejected, or
// reconnecting gives up. It returns ctx.Err(), domain.ErrUnauthorized or
// domain.ErrTransportDisconnected.
func (c *Client) Run(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	c.setState(StateConnecting)
	connected := false
	attempt := 0
	for {
		ws, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			attempt = 0
			c.setState(StateConnected)
			if c.onConnected != nil {
				c.onConnected(connected)
			}
			connected = true
			err = c.serve(ctx, ws)
		} else if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			err = fmt.Errorf("dial: %w", domain.ErrUnauthorized)
		}

		switch {
		case ctx.Err() != nil:
			c.setState(StateDisconnected)
			return ctx.Err()
		case errors.Is(err, domain.ErrUnauthorized):
			log.Warn().Err(err).Str("module", "client").Msg("token rejected")
			c.setState(StateDisconnected)
			return err
		}

		attempt++
		if attempt > c.opts.Attempts {
			c.setState(StateDisconnected)
			return fmt.Errorf("gave up after %d attempts: %w", c.opts.Attempts, domain.ErrTransportDisconnected)
		}
		if connected {
			c.setState(StateReconnecting)
		}
		delay := Backoff(attempt, c.opts.BaseDelay, c.opts.MaxDelay)
		log.Warn().Err(err).Str("module", "client").Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// serve pumps one connection until it fails.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	wdone := make(chan struct{})
	go func() {
		defer close(wdone)
		c.writePump(ctx, ws)
	}()
	// the writer must be gone before the next connection starts reading c.send
	defer func() {
		cancel()
		<-wdone
		_ = ws.Close()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, closeUnauthorized) {
				return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
			}
			return fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		kind, msg, err := protocol.DecodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Str("type", kind).Msg("bad frame")
			continue
		}
		c.handler.HandleEvent(kind, msg)
	}
}

func (c *Client) writePump(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.opts.WriteWait))
			return
		case frame := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "client").Msg("write")
				_ = ws.Close()
				return
			}
		}
	}
}
