package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/loop"
	"github.com/dkeye/Classroom/internal/peer"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	callTimeout     = 5 * time.Second
	maxRecoverBatch = 500
	recoverSlack    = 32
)

// Live ties the signaling client, the negotiation coordinator and the chat
// reorder buffers together for one participant. Set Client and Coord before
// the client runs.
type Live struct {
	Self    domain.User
	Client  *Client
	Coord   *peer.Coordinator
	History *HistoryClient

	OnJoined func(protocol.SessionJoined)
	OnStatus func(domain.SessionID, domain.Status)
	// OnChat runs with the chat lock held, in seq order per room. It must
	// not call back into Live.
	OnChat   func(domain.ChatMessage)
	OnError  func(protocol.Error)
	OnOnline func(protocol.OnlineUsers)

	mu         sync.Mutex
	session    domain.SessionID
	rooms      map[domain.RoomID]*ChatBuffer
	recovering map[domain.RoomID]bool
}

func NewLive(self domain.User) *Live {
	return &Live{
		Self:       self,
		rooms:      make(map[domain.RoomID]*ChatBuffer),
		recovering: make(map[domain.RoomID]bool),
	}
}

// Signaler sends negotiation messages over the live client.
func (l *Live) Signaler() peer.Signaler { return signaler{l} }

type signaler struct{ l *Live }

func (s signaler) SendOffer(_ context.Context, to domain.UserID, d webrtc.SessionDescription) error {
	return s.l.Client.Send(protocol.Offer{TargetID: to, Description: d})
}

func (s signaler) SendAnswer(_ context.Context, to domain.UserID, d webrtc.SessionDescription) error {
	return s.l.Client.Send(protocol.Answer{TargetID: to, Description: d})
}

func (s signaler) SendCandidate(_ context.Context, to domain.UserID, c webrtc.ICECandidateInit) error {
	return s.l.Client.Send(protocol.Candidate{TargetID: to, Candidate: c})
}

func (l *Live) Join(id domain.SessionID) error {
	l.mu.Lock()
	l.session = id
	l.mu.Unlock()
	return l.Client.Send(protocol.JoinSession{SessionRef: protocol.SessionRef{SessionID: id}})
}

func (l *Live) Leave() error {
	l.mu.Lock()
	id := l.session
	l.session = ""
	l.mu.Unlock()
	if id == "" {
		return nil
	}
	l.closeLinks()
	return l.Client.Send(protocol.LeaveSession{SessionRef: protocol.SessionRef{SessionID: id}})
}

func (l *Live) Start(id domain.SessionID) error {
	return l.Client.Send(protocol.StartSession{SessionRef: protocol.SessionRef{SessionID: id}})
}

func (l *Live) End(id domain.SessionID) error {
	return l.Client.Send(protocol.EndSession{SessionRef: protocol.SessionRef{SessionID: id}})
}

func (l *Live) SetMedia(flags domain.MediaFlags) error {
	l.mu.Lock()
	id := l.session
	l.mu.Unlock()
	return l.Client.Send(protocol.UpdateMedia{SessionRef: protocol.SessionRef{SessionID: id}, MediaFlags: flags})
}

func (l *Live) JoinRoom(room domain.RoomID) error {
	return l.Client.Send(protocol.JoinRoom{RoomRef: protocol.RoomRef{RoomID: room}})
}

func (l *Live) LeaveRoom(room domain.RoomID) error {
	l.mu.Lock()
	delete(l.rooms, room)
	l.mu.Unlock()
	return l.Client.Send(protocol.LeaveRoom{RoomRef: protocol.RoomRef{RoomID: room}})
}

func (l *Live) Say(room domain.RoomID, text string) error {
	return l.Client.Send(protocol.SendChat{RoomRef: protocol.RoomRef{RoomID: room}, Content: text, Type: domain.MessageText})
}

// ChannelState reacts to the signaling channel going away. The server drops
// the user when the channel closes and every remote tears its link down, so
// links negotiated over the lost channel are closed here too.
func (l *Live) ChannelState(s State) {
	switch s {
	case StateReconnecting, StateDisconnected:
		l.closeLinks()
	case StateConnecting, StateConnected:
	}
}

// Resubscribe restores the session and chat rooms after a reconnect. Links
// left over from the previous channel are closed first, so the rejoin ack
// negotiates every remote from scratch.
func (l *Live) Resubscribe(reconnect bool) {
	if !reconnect {
		return
	}
	l.closeLinks()
	l.mu.Lock()
	id := l.session
	rooms := lo.Keys(l.rooms)
	l.mu.Unlock()
	if id != "" {
		_ = l.Client.Send(protocol.JoinSession{SessionRef: protocol.SessionRef{SessionID: id}})
	}
	for _, r := range rooms {
		_ = l.JoinRoom(r)
	}
	log.Info().Str("module", "client.live").Str("session_id", string(id)).Int("rooms", len(rooms)).Msg("resubscribed")
}

func (l *Live) HandleEvent(kind string, m protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var err error
	switch ev := m.(type) {
	case *protocol.SessionJoined:
		remotes := lo.FilterMap(ev.Participants, func(p domain.Participant, _ int) (domain.UserID, bool) {
			return p.UserID, p.UserID != l.Self.ID
		})
		err = l.Coord.Connect(ctx, remotes)
		if l.OnJoined != nil {
			l.OnJoined(*ev)
		}
	case *protocol.ParticipantLeft:
		err = l.Coord.Remove(ctx, ev.ParticipantID)
	case *protocol.SessionStatus:
		if ev.Status == domain.StatusEnded {
			l.mu.Lock()
			if l.session == ev.SessionID {
				l.session = ""
			}
			l.mu.Unlock()
			l.closeLinks()
		}
		if l.OnStatus != nil {
			l.OnStatus(ev.SessionID, ev.Status)
		}
	case *protocol.SessionLeft:
		l.closeLinks()
	case *protocol.RelayedOffer:
		err = l.Coord.HandleOffer(ctx, ev.SenderID, ev.Description)
	case *protocol.RelayedAnswer:
		err = l.Coord.HandleAnswer(ctx, ev.SenderID, ev.Description)
	case *protocol.RelayedCandidate:
		err = l.Coord.HandleCandidate(ctx, ev.SenderID, ev.Candidate)
	case *protocol.ChatJoined:
		l.chatJoined(ev.RoomID, ev.LastSeq)
	case *protocol.ChatLeft:
		l.mu.Lock()
		delete(l.rooms, ev.RoomID)
		l.mu.Unlock()
	case *protocol.ChatMessage:
		l.chatMessage(ev.ChatMessage)
	case *protocol.OnlineUsers:
		if l.OnOnline != nil {
			l.OnOnline(*ev)
		}
	case *protocol.Error:
		log.Warn().Str("module", "client.live").Str("request", ev.Request).Str("code", ev.Code).Msg(ev.Error)
		if l.OnError != nil {
			l.OnError(*ev)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("module", "client.live").Str("type", kind).Msg("handle event")
	}
}

func (l *Live) closeLinks() {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := l.Coord.CloseAll(ctx); err != nil && !errors.Is(err, loop.ErrStopped) {
		log.Error().Err(err).Str("module", "client.live").Msg("close links")
	}
}

// chatJoined keeps an existing buffer across reconnects and fetches what was
// missed while away.
func (l *Live) chatJoined(room domain.RoomID, lastSeq uint64) {
	l.mu.Lock()
	buf, ok := l.rooms[room]
	if !ok {
		l.rooms[room] = NewChatBuffer(lastSeq)
		l.mu.Unlock()
		return
	}
	behind := lastSeq >= buf.Next()
	l.mu.Unlock()
	if behind {
		go l.recover(room, lastSeq)
	}
}

func (l *Live) chatMessage(msg domain.ChatMessage) {
	l.mu.Lock()
	buf, ok := l.rooms[msg.RoomID]
	if !ok {
		l.mu.Unlock()
		return
	}
	l.deliver(buf.Push(msg))
	_, to, gap := buf.Gap()
	l.mu.Unlock()

	if gap {
		go l.recover(msg.RoomID, to)
	}
}

func (l *Live) deliver(msgs []domain.ChatMessage) {
	if l.OnChat == nil {
		return
	}
	for _, m := range msgs {
		l.OnChat(m)
	}
}

// recover fills the room's buffer up to seq from history. Whatever history
// cannot supply is skipped so delivery never stalls.
func (l *Live) recover(room domain.RoomID, upTo uint64) {
	l.mu.Lock()
	buf, ok := l.rooms[room]
	if !ok || l.recovering[room] || upTo < buf.Next() {
		l.mu.Unlock()
		return
	}
	l.recovering[room] = true
	// history returns the newest messages, so ask for headroom past upTo
	want := min(int(upTo-buf.Next()+1)+len(buf.pending)+recoverSlack, maxRecoverBatch)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.recovering, room)
		l.mu.Unlock()
	}()

	var fetched []domain.ChatMessage
	if l.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		msgs, err := l.History.Recent(ctx, room, want)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "client.live").Str("room", string(room)).Msg("history recovery")
		}
		fetched = msgs
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	buf, ok = l.rooms[room]
	if !ok {
		return
	}
	for _, m := range fetched {
		if m.Seq <= upTo {
			l.deliver(buf.Push(m))
		}
	}
	if buf.Next() <= upTo {
		log.Warn().Str("module", "client.live").Str("room", string(room)).Uint64("from", buf.Next()).Uint64("to", upTo).Msg("history gap skipped")
		l.deliver(buf.Skip(upTo + 1))
	}
}
