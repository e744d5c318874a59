package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeTransport struct {
	remote domain.UserID

	mu       sync.Mutex
	ops      []string
	video    webrtc.TrackLocal
	closed   bool
	onICE    func(webrtc.ICECandidateInit)
	onState  func(TransportState)
	failNext error
}

func (t *fakeTransport) record(op string) {
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
}

func (t *fakeTransport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *fakeTransport) Video() webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.video
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	t.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) AcceptOffer(_ context.Context, _ webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	t.record("accept-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) AcceptAnswer(webrtc.SessionDescription) error {
	t.record("accept-answer")
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.failNext
	t.failNext = nil
	return err
}

func (t *fakeTransport) Rollback() error {
	t.record("rollback")
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.record("candidate:" + c.Candidate)
	return nil
}

func (t *fakeTransport) ReplaceVideo(track webrtc.TrackLocal) (webrtc.TrackLocal, error) {
	t.record("replace-video")
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.video
	t.video = track
	return prev, nil
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onICE = fn }
func (t *fakeTransport) OnStateChange(fn func(TransportState))          { t.onState = fn }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// emit simulates the connection reporting a state.
func (t *fakeTransport) emit(s TransportState) { t.onState(s) }

type fakeNet struct {
	mu         sync.Mutex
	transports []*fakeTransport
	refuse     error
}

func (n *fakeNet) factory(remote domain.UserID) (Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.refuse != nil {
		return nil, n.refuse
	}
	t := &fakeTransport{remote: remote}
	n.transports = append(n.transports, t)
	return t, nil
}

func (n *fakeNet) last() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.transports) == 0 {
		return nil
	}
	return n.transports[len(n.transports)-1]
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports)
}

type sent struct {
	kind string
	to   domain.UserID
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sent
	out  chan sent
	err  error
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{out: make(chan sent, 64)}
}

func (s *fakeSignaler) push(kind string, to domain.UserID) error {
	s.mu.Lock()
	s.sent = append(s.sent, sent{kind, to})
	err := s.err
	s.mu.Unlock()
	s.out <- sent{kind, to}
	return err
}

func (s *fakeSignaler) SendOffer(_ context.Context, to domain.UserID, _ webrtc.SessionDescription) error {
	return s.push("offer", to)
}

func (s *fakeSignaler) SendAnswer(_ context.Context, to domain.UserID, _ webrtc.SessionDescription) error {
	return s.push("answer", to)
}

func (s *fakeSignaler) SendCandidate(_ context.Context, to domain.UserID, _ webrtc.ICECandidateInit) error {
	return s.push("candidate", to)
}

func (s *fakeSignaler) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if m.kind == kind {
			n++
		}
	}
	return n
}

type fakeSource struct {
	kind  TrackKind
	track webrtc.TrackLocal

	mu      sync.Mutex
	stopped bool
}

func newFakeSource(kind TrackKind) *fakeSource {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", string(kind))
	if err != nil {
		panic(err)
	}
	return &fakeSource{kind: kind, track: track}
}

func (s *fakeSource) Kind() TrackKind          { return s.kind }
func (s *fakeSource) Track() webrtc.TrackLocal { return s.track }

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

var errAnswerRejected = errors.New("answer rejected")
