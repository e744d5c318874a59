package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func Test_Backoff_Doubles_Then_Caps(t *testing.T) {
	req := require.New(t)
	base, limit := time.Second, 5*time.Second
	req.Equal(1*time.Second, Backoff(1, base, limit))
	req.Equal(2*time.Second, Backoff(2, base, limit))
	req.Equal(4*time.Second, Backoff(3, base, limit))
	req.Equal(5*time.Second, Backoff(4, base, limit))
	req.Equal(5*time.Second, Backoff(5, base, limit))
	req.Equal(1*time.Second, Backoff(0, base, limit))
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastOptions(url string) Options {
	return Options{URL: url, Token: "t", Attempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func Test_Run_Stops_On_Unauthorized_Close(t *testing.T) {
	req := require.New(t)
	// Given a server that rejects every token after upgrading
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(protocol.Error{Code: domain.CodeUnauthorized, Error: "bad token"}))
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeUnauthorized, "unauthorized"), time.Now().Add(time.Second))
	}))
	defer srv.Close()

	var got []string
	c := New(fastOptions(wsURL(srv)), HandlerFunc(func(kind string, _ protocol.Message) { got = append(got, kind) }))

	// When
	err := c.Run(context.Background())

	// Then no retry happens
	req.ErrorIs(err, domain.ErrUnauthorized)
	req.Equal(int32(1), dials.Load())
	req.Equal([]string{protocol.TypeError}, got)
	req.Equal(StateDisconnected, c.State())
}

func Test_Run_Stops_On_HTTP_401(t *testing.T) {
	req := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(fastOptions(wsURL(srv)), HandlerFunc(func(string, protocol.Message) {})).Run(context.Background())
	req.ErrorIs(err, domain.ErrUnauthorized)
}

func Test_Run_Gives_Up_After_Attempts(t *testing.T) {
	req := require.New(t)
	// Given nothing listening
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	var states []State
	c := New(fastOptions(url), HandlerFunc(func(string, protocol.Message) {}))
	c.OnStateChange(func(s State) { states = append(states, s) })

	// When
	err := c.Run(context.Background())

	// Then
	req.ErrorIs(err, domain.ErrTransportDisconnected)
	req.Equal([]State{StateConnecting, StateDisconnected}, states)
}

func Test_Run_Reconnects_And_Reports_It(t *testing.T) {
	req := require.New(t)
	// Given a server that drops the first connection right away
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if n == 1 {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		kind, _, _ := protocol.DecodeRequest(data)
		if kind == protocol.TypePing {
			_ = ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(protocol.Pong{}))
		}
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pong := make(chan struct{}, 1)
	c := New(fastOptions(wsURL(srv)), HandlerFunc(func(kind string, _ protocol.Message) {
		if kind == protocol.TypePong {
			pong <- struct{}{}
		}
	}))
	reconnected := make(chan struct{}, 1)
	c.OnConnected(func(reconnect bool) {
		if reconnect {
			reconnected <- struct{}{}
			_ = c.Send(protocol.Ping{})
		}
	})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Then
	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}
	select {
	case <-pong:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong after reconnect")
	}
	req.Equal(StateConnected, c.State())
	cancel()
	req.ErrorIs(<-done, context.Canceled)
}
