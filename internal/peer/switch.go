package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/loop"
	"github.com/rs/zerolog/log"
)

// videoSwitch tracks one SwitchVideo call across the links it renegotiates.
type videoSwitch struct {
	src     Source
	prev    Source
	waiting map[domain.UserID]struct{}
	errs    []error
	done    chan error
	// set once every link has been visited
	ready bool
}

// SwitchVideo moves every link to src. Connected links are renegotiated; a
// link whose renegotiation fails keeps its previous track. The previous
// source is stopped once no live link uses it.
func (c *Coordinator) SwitchVideo(ctx context.Context, src Source) error {
	done := make(chan error, 1)
	if err := c.loop.Do(ctx, func() { c.beginSwitch(src, done) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loop.Done():
		select {
		case err := <-done:
			return err
		default:
			return loop.ErrStopped
		}
	}
}

func (c *Coordinator) beginSwitch(src Source, done chan error) {
	sw := &videoSwitch{src: src, prev: c.video, waiting: make(map[domain.UserID]struct{}), done: done}
	c.video = src
	log.Info().Str("module", "peer").Str("kind", string(src.Kind())).Msg("switching video")

	for _, l := range c.links {
		if !l.live() {
			continue
		}
		if l.sw != nil {
			sw.errs = append(sw.errs, fmt.Errorf("switch video for %s: %w", l.remote, domain.ErrConflict))
			continue
		}
		if _, err := l.transport.ReplaceVideo(src.Track()); err != nil {
			sw.errs = append(sw.errs, fmt.Errorf("switch video for %s: %w", l.remote, err))
			continue
		}
		if l.state != StateConnected {
			// still negotiating; the track change rides on the pending exchange
			l.video = src
			continue
		}
		l.prevVideo, l.video = l.video, src
		l.sw = sw
		offer, err := l.transport.CreateOffer(c.ctx)
		if err != nil {
			c.restoreVideo(l)
			sw.errs = append(sw.errs, fmt.Errorf("switch video for %s: %w", l.remote, err))
			l.sw = nil
			continue
		}
		sw.waiting[l.remote] = struct{}{}
		c.setState(l, StateRenegotiating)
		c.arm(l)
		if err := c.sig.SendOffer(c.ctx, l.remote, offer); err != nil {
			c.rollbackSwitch(l, fmt.Errorf("switch video for %s: %w", l.remote, err))
		}
	}
	sw.ready = true
	c.maybeFinish(sw)
}

// restoreVideo puts the link's previous track back.
func (c *Coordinator) restoreVideo(l *Link) {
	if _, err := l.transport.ReplaceVideo(trackOf(l.prevVideo)); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("restore previous video")
	}
	l.video, l.prevVideo = l.prevVideo, nil
}

// rollbackSwitch abandons the link's renegotiation and keeps the link
// connected on its previous track.
func (c *Coordinator) rollbackSwitch(l *Link, err error) {
	l.stopTimer()
	if rerr := l.transport.Rollback(); rerr != nil {
		log.Warn().Err(rerr).Str("module", "peer").Str("remote", string(l.remote)).Msg("rollback local offer")
	}
	c.restoreVideo(l)
	if l.state == StateRenegotiating {
		c.setState(l, StateConnected)
	}
	c.resolveSwitch(l, err)
}

func (c *Coordinator) resolveSwitch(l *Link, err error) {
	sw := l.sw
	if sw == nil {
		return
	}
	l.sw = nil
	if err == nil {
		l.prevVideo = nil
	}
	delete(sw.waiting, l.remote)
	if err != nil {
		sw.errs = append(sw.errs, err)
	}
	c.maybeFinish(sw)
}

func (c *Coordinator) maybeFinish(sw *videoSwitch) {
	if !sw.ready || len(sw.waiting) > 0 || sw.done == nil {
		return
	}
	err := errors.Join(sw.errs...)
	// nothing took src: new links keep starting on the previous track
	if err != nil && sw.prev != nil && c.video == sw.src && !c.inUse(sw.src) {
		c.video = sw.prev
	}
	if sw.prev != nil && sw.prev != sw.src && c.video != sw.prev && !c.inUse(sw.prev) {
		sw.prev.Stop()
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("video switch incomplete")
	}
	sw.done <- err
	sw.done = nil
}

func (c *Coordinator) inUse(src Source) bool {
	for _, l := range c.links {
		if l.live() && l.video == src {
			return true
		}
	}
	return false
}
