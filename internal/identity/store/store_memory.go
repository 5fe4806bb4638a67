package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"fairfin/internal/identity/models"
	"fairfin/pkg/platform/sentinel"
)

// In-memory stores keep development and unit tests lightweight. They
// intentionally favor clarity over performance.
type InMemoryUserStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]models.User
	bySubject map[string]uuid.UUID
	byEmail   map[string]uuid.UUID
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:     make(map[uuid.UUID]models.User),
		bySubject: make(map[string]uuid.UUID),
		byEmail:   make(map[string]uuid.UUID),
	}
}

func (s *InMemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySubject[user.SubjectID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byEmail[user.Email]; exists {
		return sentinel.ErrConflict
	}
	s.users[user.ID] = *user
	s.bySubject[user.SubjectID] = user.ID
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[id]; ok {
		copied := user
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryUserStore) FindBySubject(_ context.Context, subjectID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.bySubject[subjectID]; ok {
		copied := s.users[id]
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

// Snapshot captures current user state for the memory unit of work.
func (s *InMemoryUserStore) Snapshot() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make(map[uuid.UUID]models.User, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	bySubject := make(map[string]uuid.UUID, len(s.bySubject))
	for k, v := range s.bySubject {
		bySubject[k] = v
	}
	byEmail := make(map[string]uuid.UUID, len(s.byEmail))
	for k, v := range s.byEmail {
		byEmail[k] = v
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.users = users
		s.bySubject = bySubject
		s.byEmail = byEmail
	}
}

type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[uuid.UUID]models.Session)}
}

func (s *InMemorySessionStore) Save(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[id]; ok {
		copied := session
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemorySessionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
