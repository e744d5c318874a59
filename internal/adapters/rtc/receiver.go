package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type inboundKey struct {
	remote domain.UserID
	kind   string
}

type inbound struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
	cancel  context.CancelFunc
}

// TrackStats is a point-in-time view of one remote track.
type TrackStats struct {
	Remote  domain.UserID `json:"remote"`
	Kind    string        `json:"kind"`
	Packets uint64        `json:"packets"`
	Bytes   uint64        `json:"bytes"`
	LastSeq uint16        `json:"lastSeq"`
}

// Receiver drains remote tracks and counts what arrives. pion stalls a
// track that nobody reads, so every remote track must be attached.
type Receiver struct {
	mu     sync.RWMutex
	tracks map[inboundKey]*inbound
}

func NewReceiver() *Receiver {
	return &Receiver{tracks: make(map[inboundKey]*inbound)}
}

// Attach starts reading track. A newer track of the same kind from the same
// remote replaces the old reader.
func (r *Receiver) Attach(ctx context.Context, remote domain.UserID, track *webrtc.TrackRemote) {
	k := inboundKey{remote: remote, kind: track.Kind().String()}
	logger := log.With().Str("module", "webrtc.receiver").Str("remote", string(remote)).Str("kind", k.kind).Logger()

	ctx, cancel := context.WithCancel(ctx)
	in := &inbound{cancel: cancel}

	r.mu.Lock()
	if old, ok := r.tracks[k]; ok {
		logger.Info().Msg("replacing existing reader")
		old.cancel()
	}
	r.tracks[k] = in
	r.mu.Unlock()

	go r.read(ctx, track, in, &logger)
}

func (r *Receiver) read(ctx context.Context, track *webrtc.TrackRemote, in *inbound, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("track ended")
			return
		}
		in.record(pkt)
	}
}

func (in *inbound) record(pkt *rtp.Packet) {
	in.packets.Add(1)
	in.bytes.Add(uint64(len(pkt.Payload)))
	in.lastSeq.Store(uint32(pkt.SequenceNumber))
}

// Drop stops every reader for remote.
func (r *Receiver) Drop(remote domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, in := range r.tracks {
		if k.remote == remote {
			in.cancel()
			delete(r.tracks, k)
		}
	}
}

func (r *Receiver) Stats() []TrackStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TrackStats, 0, len(r.tracks))
	for k, in := range r.tracks {
		out = append(out, TrackStats{
			Remote:  k.remote,
			Kind:    k.kind,
			Packets: in.packets.Load(),
			Bytes:   in.bytes.Load(),
			LastSeq: uint16(in.lastSeq.Load()),
		})
	}
	return out
}
