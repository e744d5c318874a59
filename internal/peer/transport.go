// Package peer negotiates one media link per remote participant over the
// signaling channel.
package peer

import (
	"context"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "new"
}

// Transport is one peer connection. Callbacks may fire on any goroutine.
type Transport interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	// Rollback abandons a local offer that was never answered.
	Rollback() error
	AddICECandidate(c webrtc.ICECandidateInit) error
	// ReplaceVideo swaps the outbound video track and returns the previous one.
	ReplaceVideo(track webrtc.TrackLocal) (webrtc.TrackLocal, error)
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnStateChange(fn func(TransportState))
	Close() error
}

type TransportFactory func(remote domain.UserID) (Transport, error)

// Signaler carries negotiation messages to one remote.
type Signaler interface {
	SendOffer(ctx context.Context, to domain.UserID, desc webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, to domain.UserID, desc webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, to domain.UserID, c webrtc.ICECandidateInit) error
}

type TrackKind string

const (
	KindCamera TrackKind = "camera"
	KindScreen TrackKind = "screen"
)

// Source produces one outbound video track.
type Source interface {
	Kind() TrackKind
	Track() webrtc.TrackLocal
	Stop()
}

func trackOf(s Source) webrtc.TrackLocal {
	if s == nil {
		return nil
	}
	return s.Track()
}
