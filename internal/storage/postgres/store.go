// Package postgres implements enrollment checks and the session archive on gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Store{DB: db}, nil
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

// Migrate creates the archive table only; course tables are external.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(&LiveSessionRecord{})
}

func (s *Store) CanJoin(ctx context.Context, userID domain.UserID, courseID domain.CourseID) (bool, error) {
	var c Course
	err := s.DB.WithContext(ctx).First(&c, "id = ?", string(courseID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("course %s: %w", courseID, domain.ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	if c.OwnerID == string(userID) {
		return true, nil
	}

	var n int64
	err = s.DB.WithContext(ctx).Model(&Enrollment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", string(userID), string(courseID), EnrollmentActive).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func toRecord(s domain.Session) LiveSessionRecord {
	rec := LiveSessionRecord{
		ID:              string(s.ID),
		OwnerID:         string(s.OwnerID),
		CourseID:        string(s.Meta.CourseID),
		Title:           s.Meta.Title,
		Description:     s.Meta.Description,
		Status:          string(s.Status),
		DurationMinutes: int(s.Meta.Duration / time.Minute),
		CreatedAt:       s.CreatedAt,
	}
	if !s.Meta.ScheduledAt.IsZero() {
		at := s.Meta.ScheduledAt
		rec.ScheduledAt = &at
	}
	return rec
}

func (s *Store) SaveSession(ctx context.Context, session domain.Session) error {
	rec := toRecord(session)
	if session.Status == domain.StatusStarting {
		now := time.Now()
		rec.StartedAt = &now
	}
	return s.DB.WithContext(ctx).Save(&rec).Error
}

func (s *Store) UpdateStatus(ctx context.Context, id domain.SessionID, status domain.Status, at time.Time) error {
	updates := map[string]any{"status": string(status)}
	switch status {
	case domain.StatusStarting, domain.StatusActive:
		updates["started_at"] = at
	case domain.StatusEnded:
		updates["ended_at"] = at
	}
	res := s.DB.WithContext(ctx).Model(&LiveSessionRecord{}).Where("id = ?", string(id)).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Load returns an archived session.
func (s *Store) Load(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	var rec LiveSessionRecord
	err := s.DB.WithContext(ctx).First(&rec, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, err
	}
	out := domain.Session{
		ID:      domain.SessionID(rec.ID),
		OwnerID: domain.UserID(rec.OwnerID),
		Meta: domain.SessionMeta{
			CourseID:    domain.CourseID(rec.CourseID),
			Title:       rec.Title,
			Description: rec.Description,
			Duration:    time.Duration(rec.DurationMinutes) * time.Minute,
		},
		Status:    domain.Status(rec.Status),
		CreatedAt: rec.CreatedAt,
	}
	if rec.ScheduledAt != nil {
		out.Meta.ScheduledAt = *rec.ScheduledAt
	}
	return out, nil
}
