package client

import (
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/samber/lo"
)

// ChatBuffer releases a room's messages in seq order. Messages ahead of the
// next expected seq wait; anything at or below the last released seq is a
// duplicate and is dropped.
type ChatBuffer struct {
	next    uint64
	pending map[uint64]domain.ChatMessage
}

// NewChatBuffer expects lastSeq+1 next, lastSeq as reported by chat:joined.
func NewChatBuffer(lastSeq uint64) *ChatBuffer {
	return &ChatBuffer{next: lastSeq + 1, pending: make(map[uint64]domain.ChatMessage)}
}

// Push returns the messages that became deliverable, in order.
func (b *ChatBuffer) Push(msg domain.ChatMessage) []domain.ChatMessage {
	if msg.Seq < b.next {
		return nil
	}
	if _, dup := b.pending[msg.Seq]; dup {
		return nil
	}
	b.pending[msg.Seq] = msg
	return b.drain()
}

func (b *ChatBuffer) drain() []domain.ChatMessage {
	var out []domain.ChatMessage
	for {
		m, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		out = append(out, m)
		b.next++
	}
}

// Gap reports the missing seq range blocking delivery, if any.
func (b *ChatBuffer) Gap() (from, to uint64, ok bool) {
	if len(b.pending) == 0 {
		return 0, 0, false
	}
	return b.next, lo.Min(lo.Keys(b.pending)) - 1, true
}

// Skip gives up on everything before seq, e.g. when history no longer has it.
func (b *ChatBuffer) Skip(seq uint64) []domain.ChatMessage {
	if seq <= b.next {
		return nil
	}
	for s := range b.pending {
		if s < seq {
			delete(b.pending, s)
		}
	}
	b.next = seq
	return b.drain()
}

// Next is the seq the buffer waits for.
func (b *ChatBuffer) Next() uint64 { return b.next }
