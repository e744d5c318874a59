package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// PeerTransport is a pion PeerConnection toward one remote participant.
// Audio is receive-only; video is sent and received.
type PeerTransport struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	mu      sync.Mutex
	sender  *webrtc.RTPSender
	video   webrtc.TrackLocal
	onICE   func(webrtc.ICECandidateInit)
	onState func(peer.TransportState)
	onTrack func(remote domain.UserID, track *webrtc.TrackRemote)
}

func NewPeerTransport(cfg webrtc.Configuration, remote domain.UserID) (*PeerTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}
	t := &PeerTransport{pc: pc, remote: remote}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(mapState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn(remote, track)
		}
	})

	return t, nil
}

// Factory builds transports for a coordinator; onTrack receives remote media.
func Factory(cfg webrtc.Configuration, onTrack func(domain.UserID, *webrtc.TrackRemote)) peer.TransportFactory {
	return func(remote domain.UserID) (peer.Transport, error) {
		t, err := NewPeerTransport(cfg, remote)
		if err != nil {
			return nil, err
		}
		t.onTrack = onTrack
		return t, nil
	}
}

func mapState(s webrtc.PeerConnectionState) peer.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return peer.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return peer.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return peer.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return peer.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return peer.TransportClosed
	}
	return peer.TransportNew
}

// CreateOffer sets the offer as local description. Candidates trickle via
// OnICECandidate, so gathering is not awaited.
func (t *PeerTransport) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (t *PeerTransport) AcceptOffer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (t *PeerTransport) AcceptAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

// Rollback returns to stable after an unanswered local offer. pion wants the
// pending SDP echoed back.
func (t *PeerTransport) Rollback() error {
	pending := t.pc.PendingLocalDescription()
	if t.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer || pending == nil {
		return nil
	}
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: pending.SDP})
}

func (t *PeerTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

// ReplaceVideo swaps the track on the existing video sender, or adds one the
// first time.
func (t *PeerTransport) ReplaceVideo(track webrtc.TrackLocal) (webrtc.TrackLocal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.video
	if t.sender == nil {
		if track == nil {
			return nil, nil
		}
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return nil, err
		}
		t.sender = sender
		go drainRTCP(sender)
	} else if err := t.sender.ReplaceTrack(track); err != nil {
		return nil, err
	}
	t.video = track
	return prev, nil
}

// drainRTCP reads sender reports so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *PeerTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnStateChange(fn func(peer.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *PeerTransport) Close() error {
	err := t.pc.Close()
	if err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", string(t.remote)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("remote", string(t.remote)).Msg("closed")
	return nil
}

func (t *PeerTransport) LocalDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}
