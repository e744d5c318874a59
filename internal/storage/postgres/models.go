package postgres

import "time"

// LiveSessionRecord is the archived form of a live session.
type LiveSessionRecord struct {
	ID              string `gorm:"primaryKey"`
	OwnerID         string `gorm:"index"`
	CourseID        string `gorm:"index"`
	Title           string
	Description     string
	Status          string
	ScheduledAt     *time.Time
	DurationMinutes int
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
}

func (LiveSessionRecord) TableName() string { return "live_sessions" }

// Course and Enrollment mirror the columns enrollment checks read. The tables
// are owned by the course service.
type Course struct {
	ID      string `gorm:"primaryKey"`
	OwnerID string
}

func (Course) TableName() string { return "courses" }

type Enrollment struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   string `gorm:"index:idx_enrollment_user_course"`
	CourseID string `gorm:"index:idx_enrollment_user_course"`
	Status   string
}

func (Enrollment) TableName() string { return "enrollments" }

const EnrollmentActive = "active"
