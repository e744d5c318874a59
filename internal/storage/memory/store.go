// Package memory holds in-process collaborators for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
)

type course struct {
	owner    domain.UserID
	students map[domain.UserID]struct{}
}

// Store implements enrollment checks, the session archive and chat history.
type Store struct {
	mu       sync.RWMutex
	courses  map[domain.CourseID]*course
	sessions map[domain.SessionID]domain.Session
	history  map[domain.RoomID][]domain.ChatMessage

	// Open admits everyone to any course, known or not.
	Open         bool
	historyLimit int
}

func New(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &Store{
		courses:      make(map[domain.CourseID]*course),
		sessions:     make(map[domain.SessionID]domain.Session),
		history:      make(map[domain.RoomID][]domain.ChatMessage),
		historyLimit: historyLimit,
	}
}

func (s *Store) AddCourse(id domain.CourseID, owner domain.UserID, students ...domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &course{owner: owner, students: make(map[domain.UserID]struct{})}
	for _, st := range students {
		c.students[st] = struct{}{}
	}
	s.courses[id] = c
}

func (s *Store) Enroll(id domain.CourseID, student domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return fmt.Errorf("course %s: %w", id, domain.ErrNotFound)
	}
	c.students[student] = struct{}{}
	return nil
}

func (s *Store) CanJoin(_ context.Context, userID domain.UserID, courseID domain.CourseID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Open {
		return true, nil
	}
	c, ok := s.courses[courseID]
	if !ok {
		return false, fmt.Errorf("course %s: %w", courseID, domain.ErrNotFound)
	}
	if c.owner == userID {
		return true, nil
	}
	_, ok = c.students[userID]
	return ok, nil
}

func (s *Store) SaveSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, id domain.SessionID, status domain.Status, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	session.Status = status
	s.sessions[id] = session
	return nil
}

func (s *Store) Load(_ context.Context, id domain.SessionID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return session, nil
}

func (s *Store) Append(_ context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[msg.RoomID], msg)
	if len(h) > s.historyLimit {
		h = append([]domain.ChatMessage(nil), h[len(h)-s.historyLimit:]...)
	}
	s.history[msg.RoomID] = h
	return nil
}

func (s *Store) Recent(_ context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[room]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]domain.ChatMessage(nil), h...), nil
}
