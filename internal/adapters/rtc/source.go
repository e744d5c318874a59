package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/peer"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// SampleSource feeds a static VP8 sample track at a fixed frame rate. The
// headless peer uses it as camera or screen; real capture is out of scope.
type SampleSource struct {
	kind  peer.TrackKind
	track *webrtc.TrackLocalStaticSample

	frame    []byte
	interval time.Duration

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// keyframe is a minimal VP8 payload header; receivers only count it.
var keyframe = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}

func NewSampleSource(ctx context.Context, kind peer.TrackKind, fps int) (*SampleSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", string(kind)+"-"+uuid.NewString()[:8],
	)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = 15
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &SampleSource{
		kind:     kind,
		track:    track,
		frame:    keyframe,
		interval: time.Second / time.Duration(fps),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.pump(ctx)
	return s, nil
}

func (s *SampleSource) pump(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.track.WriteSample(media.Sample{Data: s.frame, Duration: s.interval}); err != nil {
				log.Debug().Err(err).Str("module", "webrtc").Str("kind", string(s.kind)).Msg("write sample")
			}
		}
	}
}

func (s *SampleSource) Kind() peer.TrackKind     { return s.kind }
func (s *SampleSource) Track() webrtc.TrackLocal { return s.track }

func (s *SampleSource) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		log.Info().Str("module", "webrtc").Str("kind", string(s.kind)).Msg("source stopped")
	})
}
