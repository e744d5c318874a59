package core

//go:generate mockgen -source=collaborators.go -destination=../mocks/mock_collaborators.go -package=mocks

import (
	"context"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
)

// TokenVerifier resolves a previously issued token to a user.
// Invalid or expired tokens fail with domain.ErrUnauthorized.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.User, error)
}

// EnrollmentChecker answers whether a user may join a course-scoped room.
// Unknown courses fail with domain.ErrNotFound.
type EnrollmentChecker interface {
	CanJoin(ctx context.Context, userID domain.UserID, courseID domain.CourseID) (bool, error)
}

// SessionArchive keeps session metadata for durability. Load answers
// lookups for sessions no longer live; unknown ids fail with
// domain.ErrNotFound.
type SessionArchive interface {
	SaveSession(ctx context.Context, s domain.Session) error
	UpdateStatus(ctx context.Context, id domain.SessionID, status domain.Status, at time.Time) error
	Load(ctx context.Context, id domain.SessionID) (domain.Session, error)
}

// HistoryStore retains relayed chat messages.
type HistoryStore interface {
	Append(ctx context.Context, msg domain.ChatMessage) error
	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error)
}
