package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/signal"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/auth"
	"github.com/dkeye/Classroom/internal/config"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/dkeye/Classroom/internal/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.User{ID: "alice", Username: "Alice", Role: domain.RoleInstructor}
	bob   = domain.User{ID: "bob", Username: "Bob", Role: domain.RoleStudent}
)

type testServer struct {
	srv      *httptest.Server
	verifier *auth.JWTVerifier
	store    *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Mode:       "debug",
		StaticPath: t.TempDir(),
		ReadLimit:  1 << 20,
		PongWait:   time.Minute,
		WriteWait:  time.Second,
		SendBuffer: 32,
		Secret:     "cookie-secret",
	}
	store := memory.New(100)
	store.AddCourse("c1", alice.ID, bob.ID)
	verifier := auth.NewJWTVerifier("jwt-secret", "classroom")

	o := orch.New(store, store, store, nil)
	go o.Run(ctx)

	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, verifier))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, verifier: verifier, store: store}
}

func (ts *testServer) token(t *testing.T, u domain.User) string {
	t.Helper()
	tok, err := ts.verifier.Issue(u, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/ws/signal?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func send(t *testing.T, ws *websocket.Conn, m protocol.Message) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(m)))
}

// expect reads frames until one of kind arrives.
func expect(t *testing.T, ws *websocket.Conn, kind string) protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", kind)
		k, m, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		if k == kind {
			return m
		}
	}
}

func Test_Signal_Rejects_Bad_Token_With_4401(t *testing.T) {
	req := require.New(t)
	// Given
	ts := newTestServer(t)

	// When
	ws, _, err := ts.dial(t, "not-a-token")
	req.NoError(err)
	defer ws.Close()

	// Then an error frame precedes the close frame
	msg := expect(t, ws, protocol.TypeError).(*protocol.Error)
	req.Equal(domain.CodeUnauthorized, msg.Code)
	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	req.ErrorAs(err, &ce)
	req.Equal(signal.CloseUnauthorized, ce.Code)
}

func Test_Session_Join_And_Chat_Over_WebSocket(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	aliceTok := ts.token(t, alice)

	// Given a session created over REST
	body, _ := json.Marshal(map[string]any{"courseId": "c1", "title": "Algebra"})
	httpReq, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/sessions", bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+aliceTok)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusCreated, resp.StatusCode)
	var session domain.Session
	req.NoError(json.NewDecoder(resp.Body).Decode(&session))
	req.Equal(domain.StatusInactive, session.Status)

	// When the owner joins and starts, then a student joins
	a, _, err := ts.dial(t, aliceTok)
	req.NoError(err)
	defer a.Close()
	send(t, a, protocol.JoinSession{SessionRef: protocol.SessionRef{SessionID: session.ID}})
	expect(t, a, protocol.TypeSessionJoined)
	send(t, a, protocol.StartSession{SessionRef: protocol.SessionRef{SessionID: session.ID}})
	status := expect(t, a, protocol.TypeSessionStatus).(*protocol.SessionStatus)
	req.Equal(domain.StatusStarting, status.Status)
	status = expect(t, a, protocol.TypeSessionStatus).(*protocol.SessionStatus)
	req.Equal(domain.StatusActive, status.Status)

	b, _, err := ts.dial(t, ts.token(t, bob))
	req.NoError(err)
	defer b.Close()
	send(t, b, protocol.JoinSession{SessionRef: protocol.SessionRef{SessionID: session.ID}})

	// Then both sides see each other
	joined := expect(t, b, protocol.TypeSessionJoined).(*protocol.SessionJoined)
	req.Len(joined.Participants, 2)
	pj := expect(t, a, protocol.TypeParticipantJoined).(*protocol.ParticipantJoined)
	req.Equal(bob.ID, pj.Participant.UserID)

	// And chat in the session room is numbered from 1
	room := domain.RoomID(session.ID)
	send(t, a, protocol.JoinRoom{RoomRef: protocol.RoomRef{RoomID: room}})
	expect(t, a, protocol.TypeChatJoined)
	send(t, b, protocol.JoinRoom{RoomRef: protocol.RoomRef{RoomID: room}})
	expect(t, b, protocol.TypeChatJoined)
	send(t, b, protocol.SendChat{RoomRef: protocol.RoomRef{RoomID: room}, Content: "hello", Type: domain.MessageText})
	got := expect(t, a, protocol.TypeChatMessage).(*protocol.ChatMessage)
	req.Equal(uint64(1), got.Seq)
	req.Equal(bob.ID, got.SenderID)
	req.Equal("hello", got.Content)
}

func Test_Request_Errors_Keep_Channel_Open(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	b, _, err := ts.dial(t, ts.token(t, bob))
	req.NoError(err)
	defer b.Close()

	send(t, b, protocol.JoinSession{SessionRef: protocol.SessionRef{SessionID: "missing"}})
	e := expect(t, b, protocol.TypeError).(*protocol.Error)
	req.Equal(domain.CodeNotFound, e.Code)
	req.Equal(protocol.TypeSessionJoin, e.Request)

	send(t, b, protocol.Ping{})
	expect(t, b, protocol.TypePong)
}

func Test_REST_Requires_Token(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/sessions/whatever")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Dev_Token_Endpoint(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	body := strings.NewReader(`{"id":"carol","role":"student"}`)
	resp, err := http.Post(ts.srv.URL+"/api/dev/token", "application/json", body)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&out))
	user, err := ts.verifier.Verify(context.Background(), out.Token)
	req.NoError(err)
	req.Equal(domain.UserID("carol"), user.ID)
}

func Test_StatusFor(t *testing.T) {
	req := require.New(t)
	req.Equal(http.StatusForbidden, statusFor(domain.ErrForbidden))
	req.Equal(http.StatusConflict, statusFor(domain.ErrConflict))
	req.Equal(http.StatusInternalServerError, statusFor(context.Canceled))
}

func (ts *testServer) getJSON(t *testing.T, path, token string, out any) int {
	t.Helper()
	httpReq, err := http.NewRequest(http.MethodGet, ts.srv.URL+path, nil)
	require.NoError(t, err)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func Test_Session_Info_Is_Limited_To_Course(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	eve := domain.User{ID: "eve", Username: "Eve", Role: domain.RoleStudent}
	aliceTok := ts.token(t, alice)

	// Given a live session of course c1 with alice in it
	body, _ := json.Marshal(map[string]any{"courseId": "c1", "title": "Algebra"})
	httpReq, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/sessions", bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+aliceTok)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	var session domain.Session
	req.NoError(json.NewDecoder(resp.Body).Decode(&session))
	resp.Body.Close()

	a, _, err := ts.dial(t, aliceTok)
	req.NoError(err)
	defer a.Close()
	send(t, a, protocol.JoinSession{SessionRef: protocol.SessionRef{SessionID: session.ID}})
	expect(t, a, protocol.TypeSessionJoined)

	// Then an enrolled student sees it with its participants, an outsider does not
	var info struct {
		Session      domain.Session       `json:"session"`
		Participants []domain.Participant `json:"participants"`
	}
	req.Equal(http.StatusOK, ts.getJSON(t, "/api/sessions/"+string(session.ID), ts.token(t, bob), &info))
	req.Len(info.Participants, 1)
	req.Equal(http.StatusForbidden, ts.getJSON(t, "/api/sessions/"+string(session.ID), ts.token(t, eve), nil))

	// When the owner ends it
	send(t, a, protocol.EndSession{SessionRef: protocol.SessionRef{SessionID: session.ID}})
	status := expect(t, a, protocol.TypeSessionStatus).(*protocol.SessionStatus)
	req.Equal(domain.StatusEnded, status.Status)

	// Then it is still readable from the archive, as ended
	req.Eventually(func() bool {
		info.Session = domain.Session{}
		code := ts.getJSON(t, "/api/sessions/"+string(session.ID), aliceTok, &info)
		return code == http.StatusOK && info.Session.Status == domain.StatusEnded
	}, 2*time.Second, 10*time.Millisecond)
	req.Empty(info.Participants)
}
