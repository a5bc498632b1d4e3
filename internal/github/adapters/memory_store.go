package adapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexus/internal/github/domain"
	"nexus/internal/github/ports"
)

// MemoryStore implements ports.Store in memory for tests and local runs.
type MemoryStore struct {
	mu          sync.Mutex
	connections map[string]storedConnection
	changes     map[string]domain.PendingChange
}

type storedConnection struct {
	conn   domain.Connection
	sealed []byte
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections: make(map[string]storedConnection),
		changes:     make(map[string]domain.PendingChange),
	}
}

func (s *MemoryStore) SaveConnection(_ context.Context, conn domain.Connection, sealedToken []byte) (domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.connections[conn.UserID]; ok {
		conn.CreatedAt = existing.conn.CreatedAt
	}
	s.connections[conn.UserID] = storedConnection{conn: conn, sealed: append([]byte(nil), sealedToken...)}
	return conn, nil
}

func (s *MemoryStore) GetConnection(_ context.Context, userID string) (domain.Connection, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.connections[userID]
	if !ok {
		return domain.Connection{}, nil, domain.ErrNotConnected
	}
	return stored.conn, stored.sealed, nil
}

func (s *MemoryStore) DeleteConnection(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[userID]; !ok {
		return domain.ErrNotConnected
	}
	delete(s.connections, userID)
	return nil
}

func (s *MemoryStore) CreateChange(_ context.Context, change domain.PendingChange) (domain.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[change.ID] = change
	return change, nil
}

func (s *MemoryStore) GetChange(_ context.Context, userID, changeID string) (domain.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[changeID]
	if !ok || change.UserID != userID {
		return domain.PendingChange{}, domain.ErrChangeNotFound
	}
	return change, nil
}

func (s *MemoryStore) ListChanges(_ context.Context, userID string) ([]domain.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingChange
	for _, change := range s.changes {
		if change.UserID == userID {
			out = append(out, change)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Decide(_ context.Context, userID, changeID string, status domain.ChangeStatus, at time.Time) (domain.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[changeID]
	if !ok || change.UserID != userID {
		return domain.PendingChange{}, domain.ErrChangeNotFound
	}
	if change.Status != domain.StatusPending {
		return domain.PendingChange{}, domain.ErrChangeAlreadyProcessed
	}
	change.Status = status
	change.DecidedAt = &at
	s.changes[changeID] = change
	return change, nil
}

func (s *MemoryStore) RecordPullRequest(_ context.Context, changeID string, number int, url string) (domain.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[changeID]
	if !ok {
		return domain.PendingChange{}, domain.ErrChangeNotFound
	}
	change.PRNumber = number
	change.PRURL = url
	s.changes[changeID] = change
	return change, nil
}

func (s *MemoryStore) Reopen(_ context.Context, changeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, ok := s.changes[changeID]
	if !ok {
		return domain.ErrChangeNotFound
	}
	if change.Status == domain.StatusApproved && change.PRNumber == 0 {
		change.Status = domain.StatusPending
		change.DecidedAt = nil
		s.changes[changeID] = change
	}
	return nil
}
