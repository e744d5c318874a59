package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/loop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Timeout     time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 2
	}
	return o
}

// Events are invoked on the coordinator's loop and must not call back into
// the coordinator synchronously.
type Events struct {
	OnState     func(remote domain.UserID, state LinkState)
	OnConnected func(remote domain.UserID)
	OnDegraded  func(remote domain.UserID, err error)
}

// Coordinator owns every Link of the local participant. All link state is
// touched only from its loop; transport callbacks and timers post into it.
type Coordinator struct {
	self         domain.UserID
	newTransport TransportFactory
	sig          Signaler
	opts         Options
	events       Events

	loop  *loop.Loop
	links map[domain.UserID]*Link
	// candidates that arrived before any link to their sender existed
	early map[domain.UserID][]webrtc.ICECandidateInit
	video Source
	gen   uint64
	ctx   context.Context
}

func NewCoordinator(self domain.UserID, factory TransportFactory, sig Signaler, opts Options, events Events) *Coordinator {
	return &Coordinator{
		self:         self,
		newTransport: factory,
		sig:          sig,
		opts:         opts.withDefaults(),
		events:       events,
		loop:         loop.New(),
		links:        make(map[domain.UserID]*Link),
		early:        make(map[domain.UserID][]webrtc.ICECandidateInit),
		ctx:          context.Background(),
	}
}

// Run blocks until ctx is cancelled, then closes every link.
func (c *Coordinator) Run(ctx context.Context) {
	c.ctx = ctx
	c.loop.Run(ctx)
	for _, l := range c.links {
		c.closeLink(l)
	}
}

// SetVideo sets the track new links start with. It does not touch existing
// links; use SwitchVideo for that.
func (c *Coordinator) SetVideo(ctx context.Context, src Source) error {
	return c.loop.Do(ctx, func() { c.video = src })
}

// Connect initiates toward every remote not yet linked.
func (c *Coordinator) Connect(ctx context.Context, remotes []domain.UserID) error {
	return c.loop.Do(ctx, func() {
		for _, r := range remotes {
			if r == c.self {
				continue
			}
			if l, ok := c.links[r]; ok && l.live() {
				continue
			}
			c.initiate(r, 1)
		}
	})
}

func (c *Coordinator) HandleOffer(ctx context.Context, from domain.UserID, desc webrtc.SessionDescription) error {
	return c.loop.Do(ctx, func() { c.onOffer(from, desc) })
}

func (c *Coordinator) HandleAnswer(ctx context.Context, from domain.UserID, desc webrtc.SessionDescription) error {
	return c.loop.Do(ctx, func() { c.onAnswer(from, desc) })
}

func (c *Coordinator) HandleCandidate(ctx context.Context, from domain.UserID, cand webrtc.ICECandidateInit) error {
	return c.loop.Do(ctx, func() { c.onCandidate(from, cand) })
}

// Remove closes the link to a departed participant and cancels its timers.
func (c *Coordinator) Remove(ctx context.Context, remote domain.UserID) error {
	return c.loop.Do(ctx, func() {
		delete(c.early, remote)
		if l, ok := c.links[remote]; ok {
			c.closeLink(l)
			delete(c.links, remote)
		}
	})
}

// CloseAll tears down every link, as on leave or session end.
func (c *Coordinator) CloseAll(ctx context.Context) error {
	return c.loop.Do(ctx, func() {
		for r, l := range c.links {
			c.closeLink(l)
			delete(c.links, r)
		}
		c.early = make(map[domain.UserID][]webrtc.ICECandidateInit)
	})
}

// State reports the current state of the link to remote.
func (c *Coordinator) State(ctx context.Context, remote domain.UserID) (LinkState, error) {
	state := StateNone
	err := c.loop.Do(ctx, func() {
		if l, ok := c.links[remote]; ok {
			state = l.state
		}
	})
	return state, err
}

// newLink creates a transport and wires its callbacks to the current
// generation so stale callbacks are dropped.
func (c *Coordinator) newLink(remote domain.UserID, initiator bool, attempt int) (*Link, error) {
	c.gen++
	l := &Link{remote: remote, initiator: initiator, attempt: attempt, gen: c.gen, state: StateNone}
	t, err := c.newTransport(remote)
	if err != nil {
		return nil, fmt.Errorf("new transport for %s: %w", remote, err)
	}
	l.transport = t
	gen := l.gen
	t.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.loop.Post(func() { c.onLocalCandidate(remote, gen, cand) })
	})
	t.OnStateChange(func(s TransportState) {
		c.loop.Post(func() { c.onTransportState(remote, gen, s) })
	})
	if c.video != nil {
		if _, err := t.ReplaceVideo(c.video.Track()); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("attach video for %s: %w", remote, err)
		}
		l.video = c.video
	}
	c.links[remote] = l
	return l, nil
}

func (c *Coordinator) current(remote domain.UserID, gen uint64) (*Link, bool) {
	l, ok := c.links[remote]
	if !ok || l.gen != gen {
		return nil, false
	}
	return l, true
}

func (c *Coordinator) setState(l *Link, to LinkState) {
	if err := l.move(to); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("illegal transition")
		return
	}
	log.Debug().Str("module", "peer").Str("remote", string(l.remote)).Str("state", string(to)).Int("attempt", l.attempt).Msg("link state")
	if c.events.OnState != nil {
		c.events.OnState(l.remote, to)
	}
}

func (c *Coordinator) arm(l *Link) {
	l.stopTimer()
	remote, gen := l.remote, l.gen
	state := l.state
	l.timer = time.AfterFunc(c.opts.Timeout, func() {
		c.loop.Post(func() { c.onTimeout(remote, gen, state) })
	})
}

func (c *Coordinator) initiate(remote domain.UserID, attempt int) {
	if old, ok := c.links[remote]; ok {
		c.closeLink(old)
	}
	l, err := c.newLink(remote, true, attempt)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("initiate")
		c.degrade(remote, err)
		return
	}
	offer, err := l.transport.CreateOffer(c.ctx)
	if err != nil {
		c.fail(l, fmt.Errorf("create offer: %w", err))
		return
	}
	c.setState(l, StateOfferSent)
	c.arm(l)
	if err := c.sig.SendOffer(c.ctx, remote, offer); err != nil {
		c.fail(l, fmt.Errorf("send offer: %w", err))
		return
	}
	log.Info().Str("module", "peer").Str("remote", string(remote)).Int("attempt", attempt).Msg("offer sent")
}

// polite peers yield on glare; the lower user id is polite.
func (c *Coordinator) polite(remote domain.UserID) bool {
	return c.self < remote
}

func (c *Coordinator) onOffer(from domain.UserID, desc webrtc.SessionDescription) {
	if l, ok := c.links[from]; ok {
		switch l.state {
		case StateOfferSent:
			if !c.polite(from) {
				log.Info().Str("module", "peer").Str("remote", string(from)).Msg("glare, ignoring remote offer")
				return
			}
			c.closeLink(l)
		case StateConnected:
			c.answerRenegotiation(l, desc)
			return
		case StateRenegotiating:
			if !c.polite(from) {
				log.Info().Str("module", "peer").Str("remote", string(from)).Msg("glare during renegotiation, ignoring remote offer")
				return
			}
			c.rollbackSwitch(l, fmt.Errorf("switch video for %s: remote renegotiated first: %w", from, domain.ErrConflict))
			c.answerRenegotiation(l, desc)
			return
		default:
			// the remote restarted; start over as receiver
			c.closeLink(l)
		}
	}
	c.receive(from, desc)
}

func (c *Coordinator) receive(from domain.UserID, offer webrtc.SessionDescription) {
	l, err := c.newLink(from, false, 1)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("receive")
		return
	}
	answer, err := l.transport.AcceptOffer(c.ctx, offer)
	if err != nil {
		c.fail(l, fmt.Errorf("accept offer: %w", err))
		return
	}
	l.remoteSet = true
	l.pending = append(c.early[from], l.pending...)
	delete(c.early, from)
	c.flush(l)
	c.setState(l, StateAnswerSent)
	c.arm(l)
	if err := c.sig.SendAnswer(c.ctx, from, answer); err != nil {
		c.fail(l, fmt.Errorf("send answer: %w", err))
	}
}

// answerRenegotiation handles an offer on an established link. The link
// stays connected.
func (c *Coordinator) answerRenegotiation(l *Link, offer webrtc.SessionDescription) {
	answer, err := l.transport.AcceptOffer(c.ctx, offer)
	if err != nil {
		c.fail(l, fmt.Errorf("accept renegotiation: %w", err))
		return
	}
	if err := c.sig.SendAnswer(c.ctx, l.remote, answer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("send renegotiation answer")
	}
}

func (c *Coordinator) onAnswer(from domain.UserID, desc webrtc.SessionDescription) {
	l, ok := c.links[from]
	if !ok {
		log.Warn().Str("module", "peer").Str("remote", string(from)).Msg("answer without link")
		return
	}
	switch l.state {
	case StateOfferSent:
		if err := l.transport.AcceptAnswer(desc); err != nil {
			c.fail(l, fmt.Errorf("accept answer: %w", err))
			return
		}
		l.remoteSet = true
		c.flush(l)
		c.setState(l, StateAnswerReceived)
		c.arm(l)
	case StateRenegotiating:
		if err := l.transport.AcceptAnswer(desc); err != nil {
			c.rollbackSwitch(l, fmt.Errorf("switch video for %s: %w", from, err))
			return
		}
		l.stopTimer()
		c.setState(l, StateConnected)
		c.resolveSwitch(l, nil)
	default:
		log.Warn().Str("module", "peer").Str("remote", string(from)).Str("state", string(l.state)).Msg("unexpected answer")
	}
}

func (c *Coordinator) onCandidate(from domain.UserID, cand webrtc.ICECandidateInit) {
	l, ok := c.links[from]
	if !ok || !l.live() {
		c.early[from] = append(c.early[from], cand)
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, cand)
		return
	}
	if err := l.transport.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("add candidate")
	}
}

func (c *Coordinator) flush(l *Link) {
	for _, cand := range l.pending {
		if err := l.transport.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("add buffered candidate")
		}
	}
	l.pending = nil
}

func (c *Coordinator) onLocalCandidate(remote domain.UserID, gen uint64, cand webrtc.ICECandidateInit) {
	l, ok := c.current(remote, gen)
	if !ok || !l.live() {
		return
	}
	if err := c.sig.SendCandidate(c.ctx, remote, cand); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("send candidate")
	}
}

func (c *Coordinator) onTransportState(remote domain.UserID, gen uint64, s TransportState) {
	l, ok := c.current(remote, gen)
	if !ok {
		return
	}
	switch s {
	case TransportConnected:
		if l.state == StateAnswerSent || l.state == StateAnswerReceived {
			l.stopTimer()
			c.setState(l, StateConnected)
			log.Info().Str("module", "peer").Str("remote", string(remote)).Int("attempt", l.attempt).Msg("connected")
			if c.events.OnConnected != nil {
				c.events.OnConnected(remote)
			}
		}
	case TransportFailed:
		if l.live() {
			c.fail(l, fmt.Errorf("transport failed: %w", domain.ErrTransportDisconnected))
		}
	}
}

// onTimeout fires only if the link is still in the state the timer was
// armed for.
func (c *Coordinator) onTimeout(remote domain.UserID, gen uint64, armed LinkState) {
	l, ok := c.current(remote, gen)
	if !ok || l.state != armed {
		return
	}
	l.timer = nil
	err := fmt.Errorf("link %s stuck in %s: %w", remote, armed, domain.ErrNegotiationTimeout)
	if l.state == StateRenegotiating {
		c.rollbackSwitch(l, err)
		return
	}
	c.fail(l, err)
}

// fail marks the link failed. Only the initiator retries, once per attempt
// budget; the receiver waits for a fresh offer.
func (c *Coordinator) fail(l *Link, err error) {
	l.stopTimer()
	if l.sw != nil {
		c.resolveSwitch(l, err)
	}
	if l.state != StateFailed {
		c.setState(l, StateFailed)
	}
	if cerr := l.transport.Close(); cerr != nil {
		log.Debug().Err(cerr).Str("module", "peer").Str("remote", string(l.remote)).Msg("close failed transport")
	}
	log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Int("attempt", l.attempt).Bool("initiator", l.initiator).Msg("link failed")

	if !l.initiator {
		return
	}
	if l.attempt >= c.opts.MaxAttempts {
		c.degrade(l.remote, err)
		return
	}
	remote, gen, next := l.remote, l.gen, l.attempt+1
	l.timer = time.AfterFunc(c.opts.RetryDelay, func() {
		c.loop.Post(func() {
			if cur, ok := c.current(remote, gen); ok && cur.state == StateFailed {
				c.initiate(remote, next)
			}
		})
	})
}

func (c *Coordinator) degrade(remote domain.UserID, err error) {
	if !errors.Is(err, domain.ErrNegotiationTimeout) {
		err = fmt.Errorf("%w: %v", domain.ErrNegotiationTimeout, err)
	}
	log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("participant degraded")
	if c.events.OnDegraded != nil {
		c.events.OnDegraded(remote, err)
	}
}

func (c *Coordinator) closeLink(l *Link) {
	l.stopTimer()
	if l.sw != nil {
		c.resolveSwitch(l, nil)
	}
	if canMove(l.state, StateClosed) {
		c.setState(l, StateClosed)
		if err := l.transport.Close(); err != nil {
			log.Debug().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("close transport")
		}
	}
	// retire the generation so queued callbacks are dropped
	c.gen++
	l.gen = 0
}
