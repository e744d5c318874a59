package client

import (
	"testing"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func seqs(msgs []domain.ChatMessage) []uint64 {
	return lo.Map(msgs, func(m domain.ChatMessage, _ int) uint64 { return m.Seq })
}

func m(seq uint64) domain.ChatMessage {
	return domain.ChatMessage{RoomID: "r", Seq: seq}
}

func Test_ChatBuffer_Reorders(t *testing.T) {
	req := require.New(t)
	// Given a room joined at lastSeq 4
	b := NewChatBuffer(4)

	// When 7 and 6 arrive before 5
	req.Empty(b.Push(m(7)))
	req.Empty(b.Push(m(6)))
	from, to, ok := b.Gap()
	req.True(ok)
	req.Equal(uint64(5), from)
	req.Equal(uint64(5), to)

	// Then 5 releases all three in order
	req.Equal([]uint64{5, 6, 7}, seqs(b.Push(m(5))))
	_, _, ok = b.Gap()
	req.False(ok)
	req.Equal(uint64(8), b.Next())
}

func Test_ChatBuffer_Drops_Duplicates(t *testing.T) {
	req := require.New(t)
	b := NewChatBuffer(0)
	req.Equal([]uint64{1}, seqs(b.Push(m(1))))
	req.Empty(b.Push(m(1)))
	req.Empty(b.Push(m(3)))
	req.Empty(b.Push(m(3)))
	req.Equal([]uint64{2, 3}, seqs(b.Push(m(2))))
}

func Test_ChatBuffer_Skip(t *testing.T) {
	req := require.New(t)
	b := NewChatBuffer(0)
	b.Push(m(4))
	b.Push(m(5))

	req.Equal([]uint64{4, 5}, seqs(b.Skip(4)))
	req.Nil(b.Skip(2))
	req.Equal(uint64(6), b.Next())
}
