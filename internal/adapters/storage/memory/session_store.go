package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.SessionRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]domain.SessionRecord),
	}
}

// SaveSession creates or replaces the record. The store keeps its own copy.
func (s *SessionStore) SaveSession(_ context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return domain.NewValidationError("session_id", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	cp.Snapshot = rec.Snapshot.Clone()
	s.sessions[rec.ID] = cp
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	rec.Snapshot = rec.Snapshot.Clone()
	return &rec, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Len reports how many sessions are stored.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
