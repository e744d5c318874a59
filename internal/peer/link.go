package peer

import (
	"fmt"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

type LinkState string

const (
	StateNone           LinkState = "none"
	StateOfferSent      LinkState = "offer-sent"
	StateAnswerSent     LinkState = "answer-sent"
	StateAnswerReceived LinkState = "answer-received"
	StateConnected      LinkState = "connected"
	StateRenegotiating  LinkState = "renegotiating"
	StateFailed         LinkState = "failed"
	StateClosed         LinkState = "closed"
)

// A failed link is never revived; a retry starts a fresh one.
var linkTransitions = map[LinkState][]LinkState{
	StateNone:           {StateOfferSent, StateAnswerSent, StateFailed, StateClosed},
	StateOfferSent:      {StateAnswerReceived, StateFailed, StateClosed},
	StateAnswerSent:     {StateConnected, StateFailed, StateClosed},
	StateAnswerReceived: {StateConnected, StateFailed, StateClosed},
	StateConnected:      {StateRenegotiating, StateFailed, StateClosed},
	StateRenegotiating:  {StateConnected, StateFailed, StateClosed},
	StateFailed:         {StateClosed},
}

func canMove(from, to LinkState) bool {
	for _, s := range linkTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Link is the negotiation state toward one remote participant.
type Link struct {
	remote    domain.UserID
	initiator bool
	attempt   int
	gen       uint64
	state     LinkState

	transport Transport
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	timer     *time.Timer

	video Source
	// set while a track switch renegotiates this link
	prevVideo Source
	sw        *videoSwitch
}

func (l *Link) move(to LinkState) error {
	if !canMove(l.state, to) {
		return fmt.Errorf("link %s: %s -> %s: %w", l.remote, l.state, to, domain.ErrConflict)
	}
	l.state = to
	return nil
}

func (l *Link) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Link) live() bool {
	return l.state != StateFailed && l.state != StateClosed
}
