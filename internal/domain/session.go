package domain

import (
	"fmt"
	"time"
)

type (
	SessionID string
	CourseID  string
)

type Status string

const (
	StatusInactive Status = "inactive"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
)

// Live reports whether the status counts against the one-live-session-per-owner rule.
func (s Status) Live() bool {
	return s == StatusStarting || s == StatusActive
}

const (
	MinSessionDuration = 15 * time.Minute
	MaxSessionDuration = 180 * time.Minute
	MaxTitleLen        = 200
)

// SessionMeta is what the owner supplies when creating a session.
type SessionMeta struct {
	CourseID    CourseID      `json:"courseId"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	ScheduledAt time.Time     `json:"scheduledAt,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

func (m SessionMeta) Validate() error {
	if m.CourseID == "" {
		return fmt.Errorf("%w: course id required", ErrBadPayload)
	}
	if m.Title == "" || len(m.Title) > MaxTitleLen {
		return fmt.Errorf("%w: title must be 1..%d chars", ErrBadPayload, MaxTitleLen)
	}
	if m.Duration != 0 && (m.Duration < MinSessionDuration || m.Duration > MaxSessionDuration) {
		return fmt.Errorf("%w: duration must be between %s and %s", ErrBadPayload, MinSessionDuration, MaxSessionDuration)
	}
	return nil
}

type Session struct {
	ID        SessionID   `json:"id"`
	OwnerID   UserID      `json:"ownerId"`
	Meta      SessionMeta `json:"meta"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}
