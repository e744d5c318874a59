package peer

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type harness struct {
	c        *Coordinator
	net      *fakeNet
	sig      *fakeSignaler
	states   chan LinkState
	degraded chan error
	ctx      context.Context
	stop     context.CancelFunc
}

func newHarness(t *testing.T, self domain.UserID, opts Options) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := &harness{
		net:      &fakeNet{},
		sig:      newFakeSignaler(),
		states:   make(chan LinkState, 64),
		degraded: make(chan error, 8),
		ctx:      ctx,
		stop:     cancel,
	}
	h.c = NewCoordinator(self, h.net.factory, h.sig, opts, Events{
		OnState: func(_ domain.UserID, s LinkState) {
			select {
			case h.states <- s:
			default:
			}
		},
		OnDegraded: func(_ domain.UserID, err error) { h.degraded <- err },
	})
	go h.c.Run(ctx)
	return h
}

func (h *harness) next(t *testing.T) sent {
	t.Helper()
	select {
	case m := <-h.sig.out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
	}
	return sent{}
}

func (h *harness) waitState(t *testing.T, remote domain.UserID, want LinkState) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.c.State(h.ctx, remote)
		return err == nil && s == want
	}, 2*time.Second, 5*time.Millisecond)
}

var (
	answer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	offer  = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
)

func Test_Transition_Table(t *testing.T) {
	req := require.New(t)
	req.True(canMove(StateNone, StateOfferSent))
	req.True(canMove(StateConnected, StateRenegotiating))
	req.True(canMove(StateRenegotiating, StateConnected))
	req.False(canMove(StateFailed, StateConnected))
	req.False(canMove(StateClosed, StateOfferSent))
	req.False(canMove(StateConnected, StateOfferSent))

	l := &Link{remote: "bob", state: StateFailed}
	req.ErrorIs(l.move(StateOfferSent), domain.ErrConflict)
	req.NoError(l.move(StateClosed))
}

func Test_Initiator_Connects(t *testing.T) {
	req := require.New(t)
	// Given
	h := newHarness(t, "bob", Options{Timeout: time.Second})

	// When bob initiates toward alice and she answers
	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice", "bob"}))
	req.Equal(sent{"offer", "alice"}, h.next(t))
	req.NoError(h.c.HandleAnswer(h.ctx, "alice", answer))
	h.waitState(t, "alice", StateAnswerReceived)
	h.net.last().emit(TransportConnected)

	// Then
	h.waitState(t, "alice", StateConnected)
	req.Equal(1, h.net.count(), "no link toward self")
	req.Equal([]string{"create-offer", "accept-answer"}, h.net.last().Ops())
	req.Equal([]LinkState{StateOfferSent, StateAnswerReceived, StateConnected}, drain(h.states))
}

func drain(ch chan LinkState) []LinkState {
	var out []LinkState
	for {
		select {
		case s := <-ch:
			out = append(out, s)
		default:
			return out
		}
	}
}

func Test_Initiator_Retries_Once_Then_Degrades(t *testing.T) {
	req := require.New(t)
	// Given a remote that never answers
	h := newHarness(t, "bob", Options{Timeout: 30 * time.Millisecond, RetryDelay: 10 * time.Millisecond})

	// When
	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice"}))

	// Then exactly one degraded notification follows the second timeout
	select {
	case err := <-h.degraded:
		req.ErrorIs(err, domain.ErrNegotiationTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("no degraded event")
	}
	time.Sleep(100 * time.Millisecond)
	req.Equal(2, h.sig.count("offer"))
	req.Len(h.degraded, 0)
	h.waitState(t, "alice", StateFailed)
	req.True(h.net.last().Closed())
}

func Test_Failure_Leaves_Other_Links_Alone(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "carol", Options{Timeout: 40 * time.Millisecond, RetryDelay: 10 * time.Millisecond})

	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice", "bob"}))
	h.next(t)
	h.next(t)
	// only alice answers and connects
	req.NoError(h.c.HandleAnswer(h.ctx, "alice", answer))
	var aliceT *fakeTransport
	h.net.mu.Lock()
	for _, tr := range h.net.transports {
		if tr.remote == "alice" {
			aliceT = tr
		}
	}
	h.net.mu.Unlock()
	aliceT.emit(TransportConnected)

	select {
	case <-h.degraded:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never degraded")
	}
	s, err := h.c.State(h.ctx, "alice")
	req.NoError(err)
	req.Equal(StateConnected, s)
	req.False(aliceT.Closed())
}

func Test_Receiver_Buffers_Early_Candidates(t *testing.T) {
	req := require.New(t)
	// Given candidates that arrive before the offer
	h := newHarness(t, "alice", Options{Timeout: time.Second})
	req.NoError(h.c.HandleCandidate(h.ctx, "bob", webrtc.ICECandidateInit{Candidate: "c1"}))
	req.NoError(h.c.HandleCandidate(h.ctx, "bob", webrtc.ICECandidateInit{Candidate: "c2"}))
	req.Equal(0, h.net.count())

	// When the offer shows up
	req.NoError(h.c.HandleOffer(h.ctx, "bob", offer))

	// Then the answer goes out and candidates are applied after the remote description
	req.Equal(sent{"answer", "bob"}, h.next(t))
	req.Equal([]string{"accept-offer", "candidate:c1", "candidate:c2"}, h.net.last().Ops())

	req.NoError(h.c.HandleCandidate(h.ctx, "bob", webrtc.ICECandidateInit{Candidate: "c3"}))
	req.Equal("candidate:c3", h.net.last().Ops()[3])
}

func Test_Initiator_Buffers_Candidates_Until_Answer(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "bob", Options{Timeout: time.Second})
	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice"}))
	h.next(t)

	req.NoError(h.c.HandleCandidate(h.ctx, "alice", webrtc.ICECandidateInit{Candidate: "early"}))
	req.Equal([]string{"create-offer"}, h.net.last().Ops())

	req.NoError(h.c.HandleAnswer(h.ctx, "alice", answer))
	req.Equal([]string{"create-offer", "accept-answer", "candidate:early"}, h.net.last().Ops())
}

func Test_Local_Candidates_Are_Trickled(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "bob", Options{Timeout: time.Second})
	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice"}))
	h.next(t)

	h.net.last().onICE(webrtc.ICECandidateInit{Candidate: "local"})
	req.Equal(sent{"candidate", "alice"}, h.next(t))
}

func Test_Receiver_Timeout_Fails_Silently(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "alice", Options{Timeout: 20 * time.Millisecond, RetryDelay: 5 * time.Millisecond})

	req.NoError(h.c.HandleOffer(h.ctx, "bob", offer))
	h.next(t)

	h.waitState(t, "bob", StateFailed)
	time.Sleep(50 * time.Millisecond)
	req.Equal(0, h.sig.count("offer"))
	req.Len(h.degraded, 0)
}

func Test_Remove_Cancels_Pending_Retry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "bob", Options{Timeout: 20 * time.Millisecond, RetryDelay: 5 * time.Millisecond})

	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice"}))
	h.next(t)
	req.NoError(h.c.Remove(h.ctx, "alice"))

	time.Sleep(80 * time.Millisecond)
	req.Equal(1, h.sig.count("offer"))
	req.Len(h.degraded, 0)
	req.True(h.net.last().Closed())
	s, err := h.c.State(h.ctx, "alice")
	req.NoError(err)
	req.Equal(StateNone, s)
}

func Test_CloseAll_Closes_Every_Transport(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "carol", Options{Timeout: time.Second})
	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice", "bob"}))
	h.next(t)
	h.next(t)

	req.NoError(h.c.CloseAll(h.ctx))
	for _, tr := range h.net.transports {
		req.True(tr.Closed())
	}
}

func Test_Glare_Polite_Side_Yields(t *testing.T) {
	req := require.New(t)
	// alice sorts before bob, so alice yields
	h := newHarness(t, "alice", Options{Timeout: time.Second})
	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"bob"}))
	h.next(t)
	first := h.net.last()

	req.NoError(h.c.HandleOffer(h.ctx, "bob", offer))
	req.Equal(sent{"answer", "bob"}, h.next(t))
	req.True(first.Closed())
	h.waitState(t, "bob", StateAnswerSent)
}

func Test_Glare_Impolite_Side_Ignores(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "bob", Options{Timeout: time.Second})
	req.NoError(h.c.Connect(h.ctx, []domain.UserID{"alice"}))
	h.next(t)

	req.NoError(h.c.HandleOffer(h.ctx, "alice", offer))
	req.Equal(0, h.sig.count("answer"))
	req.Equal(1, h.net.count())
	h.waitState(t, "alice", StateOfferSent)
}

func connectedTo(t *testing.T, h *harness, remote domain.UserID) *fakeTransport {
	t.Helper()
	require.NoError(t, h.c.Connect(h.ctx, []domain.UserID{remote}))
	h.next(t)
	require.NoError(t, h.c.HandleAnswer(h.ctx, remote, answer))
	tr := h.net.last()
	tr.emit(TransportConnected)
	h.waitState(t, remote, StateConnected)
	return tr
}

func Test_SwitchVideo_Renegotiates_And_Stops_Previous(t *testing.T) {
	req := require.New(t)
	// Given a connected link carrying the camera
	h := newHarness(t, "alice", Options{Timeout: time.Second})
	camera := newFakeSource(KindCamera)
	req.NoError(h.c.SetVideo(h.ctx, camera))
	tr := connectedTo(t, h, "bob")
	req.Equal(camera.Track(), tr.Video())

	// When alice shares her screen and bob answers the renegotiation
	screen := newFakeSource(KindScreen)
	done := make(chan error, 1)
	go func() { done <- h.c.SwitchVideo(h.ctx, screen) }()
	req.Equal(sent{"offer", "bob"}, h.next(t))
	h.waitState(t, "bob", StateRenegotiating)
	req.NoError(h.c.HandleAnswer(h.ctx, "bob", answer))

	// Then
	req.NoError(<-done)
	h.waitState(t, "bob", StateConnected)
	req.Equal(screen.Track(), tr.Video())
	req.True(camera.Stopped())
	req.False(screen.Stopped())
}

func Test_SwitchVideo_Rolls_Back_On_Timeout(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "alice", Options{Timeout: 50 * time.Millisecond})
	camera := newFakeSource(KindCamera)
	req.NoError(h.c.SetVideo(h.ctx, camera))
	tr := connectedTo(t, h, "bob")

	// When bob never answers the renegotiation
	err := h.c.SwitchVideo(h.ctx, newFakeSource(KindScreen))

	// Then the camera stays on the link and keeps running
	req.ErrorIs(err, domain.ErrNegotiationTimeout)
	req.Equal(camera.Track(), tr.Video())
	req.False(camera.Stopped())
	req.Contains(tr.Ops(), "rollback")
	h.waitState(t, "bob", StateConnected)
	req.Len(h.degraded, 0)

	// And a link opened afterwards starts on the camera too
	carolT := connectedTo(t, h, "carol")
	req.Equal(camera.Track(), carolT.Video())
}

func Test_SwitchVideo_Returns_When_Coordinator_Stops(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "alice", Options{Timeout: time.Minute})
	req.NoError(h.c.SetVideo(h.ctx, newFakeSource(KindCamera)))
	connectedTo(t, h, "bob")

	// Given a switch waiting on bob's answer, with a context that never ends
	done := make(chan error, 1)
	go func() { done <- h.c.SwitchVideo(context.Background(), newFakeSource(KindScreen)) }()
	req.Equal(sent{"offer", "bob"}, h.next(t))

	// When the coordinator stops
	h.stop()

	// Then the caller is released
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SwitchVideo still blocked")
	}
}

func Test_SwitchVideo_Partial_Failure_Keeps_Previous_Running(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "alice", Options{Timeout: time.Second})
	camera := newFakeSource(KindCamera)
	req.NoError(h.c.SetVideo(h.ctx, camera))
	bobT := connectedTo(t, h, "bob")
	carolT := connectedTo(t, h, "carol")
	carolT.failNext = errAnswerRejected

	screen := newFakeSource(KindScreen)
	done := make(chan error, 1)
	go func() { done <- h.c.SwitchVideo(h.ctx, screen) }()
	h.next(t)
	h.next(t)
	req.NoError(h.c.HandleAnswer(h.ctx, "bob", answer))
	req.NoError(h.c.HandleAnswer(h.ctx, "carol", answer))

	err := <-done
	req.ErrorIs(err, errAnswerRejected)
	req.Equal(screen.Track(), bobT.Video())
	req.Equal(camera.Track(), carolT.Video())
	req.False(camera.Stopped())
}

func Test_SwitchVideo_Without_Links(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "alice", Options{})
	camera := newFakeSource(KindCamera)
	req.NoError(h.c.SetVideo(h.ctx, camera))

	req.NoError(h.c.SwitchVideo(h.ctx, newFakeSource(KindScreen)))
	req.True(camera.Stopped())
}

func Test_Remote_Renegotiation_Keeps_Link_Connected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "alice", Options{Timeout: time.Second})
	tr := connectedTo(t, h, "bob")

	req.NoError(h.c.HandleOffer(h.ctx, "bob", offer))
	req.Equal(sent{"answer", "bob"}, h.next(t))
	req.Equal(1, h.net.count())
	req.Contains(tr.Ops(), "accept-offer")
	h.waitState(t, "bob", StateConnected)
}

func Test_Transport_Failure_Triggers_Retry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "bob", Options{Timeout: time.Second, RetryDelay: 5 * time.Millisecond})
	tr := connectedTo(t, h, "alice")

	tr.emit(TransportFailed)

	req.Equal(sent{"offer", "alice"}, h.next(t))
	req.Equal(2, h.net.count())
	h.waitState(t, "alice", StateOfferSent)
}
