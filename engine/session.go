package engine

import (
	"context"
	"sync"
	"time"
)

// Session is the conversation state a turn runs against. Its event log is
// owned by a SessionService; the engine only appends through that service.
type Session struct {
	ID        string
	AppName   string
	UserID    string
	UpdatedAt time.Time

	mu     sync.RWMutex
	events []*Event
}

// NewSession wraps an already persisted event log.
func NewSession(appName, userID, id string, events []*Event, updatedAt time.Time) *Session {
	return &Session{
		ID:        id,
		AppName:   appName,
		UserID:    userID,
		UpdatedAt: updatedAt,
		events:    events,
	}
}

// Events returns a snapshot of the event log in append order.
func (s *Session) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// Append adds e to the in-memory log. Persistence is the caller's concern.
func (s *Session) Append(e *Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	if e.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = e.Timestamp
	}
	s.mu.Unlock()
}

// SessionService persists events emitted while running a turn.
type SessionService interface {
	AppendEvent(ctx context.Context, sess *Session, e *Event) error
}

// MemorySessions is a SessionService that keeps events in the Session only.
type MemorySessions struct{}

// AppendEvent implements SessionService.
func (MemorySessions) AppendEvent(_ context.Context, sess *Session, e *Event) error {
	if e.Partial {
		return nil
	}
	sess.Append(e)
	return nil
}
