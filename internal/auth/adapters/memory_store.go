package adapters

import (
	"context"
	"sync"
	"time"

	"nexus/internal/auth/domain"
)

// NewMemoryStores creates repositories backed by in-memory maps.
func NewMemoryStores() (*memoryUserRepo, *memorySessionRepo, *memoryStateStore) {
	users := &memoryUserRepo{users: map[string]domain.User{}, emailIdx: map[string]string{}}
	sessions := &memorySessionRepo{sessions: map[string]domain.Session{}}
	states := &memoryStateStore{states: map[string]domain.OAuthState{}}
	return users, sessions, states
}

type memoryUserRepo struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	emailIdx map[string]string
}

func (r *memoryUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.emailIdx[user.Email]; exists {
		return domain.User{}, domain.ErrUserExists
	}
	r.users[user.ID] = user
	r.emailIdx[user.Email] = user.ID
	return user, nil
}

func (r *memoryUserRepo) Update(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, exists := r.users[user.ID]
	if !exists {
		return domain.User{}, domain.ErrUserNotFound
	}
	if owner, taken := r.emailIdx[user.Email]; taken && owner != user.ID {
		return domain.User{}, domain.ErrUserExists
	}
	delete(r.emailIdx, existing.Email)
	r.users[user.ID] = user
	r.emailIdx[user.Email] = user.ID
	return user, nil
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.emailIdx[email]; ok {
		return r.users[id], nil
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *memoryUserRepo) FindByID(_ context.Context, id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.users[id]; ok {
		return user, nil
	}
	return domain.User{}, domain.ErrUserNotFound
}

type memorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func (r *memorySessionRepo) Create(_ context.Context, session domain.Session) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return session, nil
}

func (r *memorySessionRepo) FindByID(_ context.Context, id string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if session, ok := r.sessions[id]; ok {
		return session, nil
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (r *memorySessionRepo) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.RevokedAt == nil {
		revokedAt := at
		session.RevokedAt = &revokedAt
		r.sessions[id] = session
	}
	return nil
}

func (r *memorySessionRepo) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, session := range r.sessions {
		if !session.ExpiresAt.After(before) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]domain.OAuthState
}

func (s *memoryStateStore) Save(_ context.Context, state domain.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.State] = state
	return nil
}

func (s *memoryStateStore) Consume(_ context.Context, state string, provider domain.OAuthProvider) (domain.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.states[state]
	if !ok || record.Provider != provider {
		return domain.OAuthState{}, domain.ErrStateNotFound
	}
	delete(s.states, state)
	return record, nil
}

func (s *memoryStateStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, record := range s.states {
		if !record.ExpiresAt.After(before) {
			delete(s.states, key)
			removed++
		}
	}
	return removed, nil
}
