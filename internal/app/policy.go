package app

import "github.com/dkeye/Classroom/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(conn core.SignalConnection) BackpressureAction
}

// SimplePolicy kicks slow connections; the client reconnects and refetches history.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SignalConnection) BackpressureAction {
	return KickMember
}
