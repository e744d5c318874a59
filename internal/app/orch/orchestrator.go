package orch

import (
	"context"
	"time"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/loop"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryBuffer = 1024
	archiveTimeout       = 5 * time.Second
)

// Orchestrator serializes every registry, lifecycle and chat mutation on one
// loop. Collaborator calls happen between loop entries, never inside one.
type Orchestrator struct {
	Registry   *app.Registry
	Chat       *app.ChatRelay
	Policy     app.Policy
	Enrollment core.EnrollmentChecker
	Archive    core.SessionArchive
	History    core.HistoryStore

	loop    *loop.Loop
	history chan domain.ChatMessage
	ctx     context.Context
}

func New(enrollment core.EnrollmentChecker, archive core.SessionArchive, history core.HistoryStore, policy app.Policy) *Orchestrator {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Orchestrator{
		Registry:   app.NewRegistry(),
		Chat:       app.NewChatRelay(),
		Policy:     policy,
		Enrollment: enrollment,
		Archive:    archive,
		History:    history,
		loop:       loop.New(),
		history:    make(chan domain.ChatMessage, defaultHistoryBuffer),
		ctx:        context.Background(),
	}
}

// Run blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.ctx = ctx
	go o.writeHistory(ctx)
	log.Info().Str("module", "app.orch").Msg("event loop started")
	o.loop.Run(ctx)
	log.Info().Str("module", "app.orch").Msg("event loop stopped")
}

func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	return o.loop.Do(ctx, fn)
}

// settle finishes a mutation's side effects. Loop only.
func (o *Orchestrator) settle(out app.Outcome) {
	o.applyPolicy(out.PublishResult)
	for _, s := range out.Ended {
		go o.archiveStatus(s.ID, domain.StatusEnded)
	}
}

func (o *Orchestrator) applyPolicy(res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(slow) {
		case app.KickMember:
			log.Warn().Str("module", "app.orch").Str("conn", string(slow.ID())).Msg("kicking slow connection")
			slow.Close()
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

func (o *Orchestrator) archiveStatus(id domain.SessionID, status domain.Status) {
	if o.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), archiveTimeout)
	defer cancel()
	if err := o.Archive.UpdateStatus(ctx, id, status, time.Now()); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("session_id", string(id)).Msg("archive status")
	}
}

func (o *Orchestrator) writeHistory(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.history:
			if o.History == nil {
				continue
			}
			if err := o.History.Append(ctx, msg); err != nil {
				log.Error().Err(err).Str("module", "app.orch").Str("room", string(msg.RoomID)).Uint64("seq", msg.Seq).Msg("history append")
			}
		}
	}
}

// Disconnect drops everything a closed connection held.
func (o *Orchestrator) Disconnect(user domain.User, conn core.SignalConnection) {
	err := o.do(context.Background(), func() {
		out := o.Registry.Detach(user.ID, conn.ID())
		out.PublishResult.Merge(o.Chat.LeaveAll(conn.ID()))
		o.settle(out)
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("user_id", string(user.ID)).Msg("disconnect after shutdown")
	}
}
