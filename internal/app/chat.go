package app

import (
	"fmt"
	"time"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type subscriber struct {
	conn core.SignalConnection
	user domain.User
}

type chatRoom struct {
	subs  map[core.ConnID]*subscriber
	order []core.ConnID
}

func (r *chatRoom) conns() []core.SignalConnection {
	return lo.Map(r.order, func(id core.ConnID, _ int) core.SignalConnection { return r.subs[id].conn })
}

func (r *chatRoom) online() []protocol.OnlineUser {
	users := lo.Map(r.order, func(id core.ConnID, _ int) protocol.OnlineUser {
		u := r.subs[id].user
		return protocol.OnlineUser{ID: u.ID, Name: u.Username}
	})
	return lo.UniqBy(users, func(u protocol.OnlineUser) domain.UserID { return u.ID })
}

// ChatRelay fans messages out per room and numbers them.
// Like Registry, it belongs to the event loop.
type ChatRelay struct {
	rooms  map[domain.RoomID]*chatRoom
	seqs   map[domain.RoomID]uint64
	byConn map[core.ConnID]map[domain.RoomID]struct{}

	now func() time.Time
}

func NewChatRelay() *ChatRelay {
	return &ChatRelay{
		rooms:  make(map[domain.RoomID]*chatRoom),
		seqs:   make(map[domain.RoomID]uint64),
		byConn: make(map[core.ConnID]map[domain.RoomID]struct{}),
		now:    time.Now,
	}
}

// Seeded reports whether the room's counter is known in this process.
func (c *ChatRelay) Seeded(room domain.RoomID) bool {
	_, ok := c.seqs[room]
	return ok
}

// Seed continues numbering after lastSeq. It never moves a known counter.
func (c *ChatRelay) Seed(room domain.RoomID, lastSeq uint64) {
	if _, ok := c.seqs[room]; !ok {
		c.seqs[room] = lastSeq
	}
}

func (c *ChatRelay) LastSeq(room domain.RoomID) uint64 { return c.seqs[room] }

func (c *ChatRelay) Subscribed(room domain.RoomID, conn core.ConnID) bool {
	r, ok := c.rooms[room]
	if !ok {
		return false
	}
	_, ok = r.subs[conn]
	return ok
}

// Join subscribes conn, acks with the room's last seq and refreshes the online list.
func (c *ChatRelay) Join(room domain.RoomID, user domain.User, conn core.SignalConnection) (uint64, core.PublishResult) {
	var res core.PublishResult
	c.Seed(room, 0)
	r, ok := c.rooms[room]
	if !ok {
		r = &chatRoom{subs: make(map[core.ConnID]*subscriber)}
		c.rooms[room] = r
	}
	if _, ok := r.subs[conn.ID()]; !ok {
		r.subs[conn.ID()] = &subscriber{conn: conn, user: user}
		r.order = append(r.order, conn.ID())
		if c.byConn[conn.ID()] == nil {
			c.byConn[conn.ID()] = make(map[domain.RoomID]struct{})
		}
		c.byConn[conn.ID()][room] = struct{}{}
		log.Info().Str("module", "app.chat").Str("room", string(room)).Str("user_id", string(user.ID)).Msg("subscribed")
	}

	last := c.seqs[room]
	res.Merge(core.Send(conn, protocol.MustEncode(protocol.ChatJoined{RoomID: room, LastSeq: last})))
	res.Merge(core.Broadcast(r.conns(), "", protocol.MustEncode(protocol.OnlineUsers{RoomID: room, Users: r.online()})))
	return last, res
}

// Leave is idempotent.
func (c *ChatRelay) Leave(room domain.RoomID, conn core.ConnID) core.PublishResult {
	r, ok := c.rooms[room]
	if !ok {
		return core.PublishResult{}
	}
	if _, ok := r.subs[conn]; !ok {
		return core.PublishResult{}
	}
	delete(r.subs, conn)
	r.order = lo.Without(r.order, conn)
	if rooms := c.byConn[conn]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(c.byConn, conn)
		}
	}
	if len(r.order) == 0 {
		delete(c.rooms, room)
		return core.PublishResult{}
	}
	return core.Broadcast(r.conns(), "", protocol.MustEncode(protocol.OnlineUsers{RoomID: room, Users: r.online()}))
}

func (c *ChatRelay) LeaveAll(conn core.ConnID) core.PublishResult {
	var res core.PublishResult
	for room := range c.byConn[conn] {
		res.Merge(c.Leave(room, conn))
	}
	return res
}

// Publish stamps the next seq and delivers to every subscriber, sender included.
func (c *ChatRelay) Publish(room domain.RoomID, conn core.ConnID, draft domain.ChatDraft) (domain.ChatMessage, core.PublishResult, error) {
	r, ok := c.rooms[room]
	if !ok {
		return domain.ChatMessage{}, core.PublishResult{}, fmt.Errorf("not subscribed to %s: %w", room, domain.ErrForbidden)
	}
	sub, ok := r.subs[conn]
	if !ok {
		return domain.ChatMessage{}, core.PublishResult{}, fmt.Errorf("not subscribed to %s: %w", room, domain.ErrForbidden)
	}
	if err := draft.Validate(); err != nil {
		return domain.ChatMessage{}, core.PublishResult{}, err
	}

	c.seqs[room]++
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     room,
		Seq:        c.seqs[room],
		SenderID:   sub.user.ID,
		SenderName: sub.user.Username,
		Content:    draft.Content,
		Type:       draft.Type,
		FileName:   draft.FileName,
		MimeType:   draft.MimeType,
		Timestamp:  c.now().UTC(),
	}
	res := core.Broadcast(r.conns(), "", protocol.MustEncode(protocol.ChatMessage{ChatMessage: msg}))
	return msg, res, nil
}
