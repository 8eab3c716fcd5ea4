package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"govsign/internal/identity/models"
	"govsign/pkg/platform/sentinel"
	"govsign/pkg/requestcontext"
)

// InMemorySessionStore keeps sessions in a map guarded by a single mutex.
// Expired sessions read as not found and are removed by Sweep.
type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[models.SessionID]*models.Session
}

func New() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[models.SessionID]*models.Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrConflict)
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemorySessionStore) FindByID(ctx context.Context, id models.SessionID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.live(id, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// Execute runs validate then mutate on the stored session while holding the lock, so
// the check and the write are atomic. Nothing is written when validate fails.
func (s *InMemorySessionStore) Execute(ctx context.Context, id models.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.live(id, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	working := stored.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.sessions[id] = working
	return working.Clone(), nil
}

// Sweep drops sessions that expired before now and reports how many were removed.
func (s *InMemorySessionStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.IsExpired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemorySessionStore) live(id models.SessionID, now time.Time) (*models.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if session.IsExpired(now) {
		delete(s.sessions, id)
		return nil, sentinel.ErrNotFound
	}
	return session, nil
}
