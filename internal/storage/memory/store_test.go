package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestStore_CanJoin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New(10)
	s.AddCourse("c1", "alice", "bob")

	ok, err := s.CanJoin(ctx, "bob", "c1")
	req.NoError(err)
	req.True(ok)

	ok, err = s.CanJoin(ctx, "alice", "c1")
	req.NoError(err)
	req.True(ok)

	ok, err = s.CanJoin(ctx, "eve", "c1")
	req.NoError(err)
	req.False(ok)

	_, err = s.CanJoin(ctx, "bob", "ghost")
	req.ErrorIs(err, domain.ErrNotFound)

	req.NoError(s.Enroll("c1", "eve"))
	ok, err = s.CanJoin(ctx, "eve", "c1")
	req.NoError(err)
	req.True(ok)

	s.Open = true
	ok, err = s.CanJoin(ctx, "anyone", "ghost")
	req.NoError(err)
	req.True(ok)
}

func TestStore_Archive(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New(10)

	req.ErrorIs(s.UpdateStatus(ctx, "s1", domain.StatusEnded, time.Now()), domain.ErrNotFound)
	req.NoError(s.SaveSession(ctx, domain.Session{ID: "s1", Status: domain.StatusStarting}))
	req.NoError(s.UpdateStatus(ctx, "s1", domain.StatusEnded, time.Now()))
	got, err := s.Load(ctx, "s1")
	req.NoError(err)
	req.Equal(domain.StatusEnded, got.Status)
	_, err = s.Load(ctx, "s2")
	req.ErrorIs(err, domain.ErrNotFound)
}

func TestStore_History_Is_Bounded_And_Ordered(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New(3)

	for seq := uint64(1); seq <= 5; seq++ {
		req.NoError(s.Append(ctx, domain.ChatMessage{RoomID: "r", Seq: seq}))
	}

	all, err := s.Recent(ctx, "r", 0)
	req.NoError(err)
	req.Len(all, 3)
	req.Equal(uint64(3), all[0].Seq)
	req.Equal(uint64(5), all[2].Seq)

	last, err := s.Recent(ctx, "r", 1)
	req.NoError(err)
	req.Equal(uint64(5), last[0].Seq)
}
