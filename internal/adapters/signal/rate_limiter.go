package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/samber/lo"
)

type limitKey struct {
	room domain.RoomID
	user domain.UserID
}

// RoomRateLimiter caps how many chat messages one user may post to one room
// within a sliding window. Rooms are counted apart, so a busy course room
// does not silence the same user in a session room.
type RoomRateLimiter struct {
	mu       sync.Mutex
	sent     map[limitKey][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		sent:     make(map[limitKey][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records the attempt when it fits the window.
func (rl *RoomRateLimiter) Allow(room domain.RoomID, uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := limitKey{room: room, user: uid}
	since := now.Add(-rl.interval)
	recent := lo.Filter(rl.sent[key], func(at time.Time, _ int) bool { return at.After(since) })

	if len(recent) >= rl.limit {
		rl.sent[key] = recent
		return false
	}
	rl.sent[key] = append(recent, now)
	return true
}
