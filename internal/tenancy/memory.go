package tenancy

import (
	"context"
	"strings"
	"sync"
	"time"

	"brokeris.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used in tests
// and when the service runs without a database.
type InMemory struct {
	mu          sync.RWMutex
	users       map[string]User
	byEmail     map[string]string
	memberships map[string][]Membership // userID -> rows
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:       make(map[string]User),
		byEmail:     make(map[string]string),
		memberships: make(map[string][]Membership),
	}
}

// PutUser inserts or replaces a user. A missing ID is generated.
func (s *InMemory) PutUser(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.users[u.ID] = u
	if u.Email != "" {
		s.byEmail[u.Email] = u.ID
	}
	return u
}

// PutMembership inserts or replaces the (user, tenant) membership row. The
// one-row-per-pair invariant is enforced here.
func (s *InMemory) PutMembership(m Membership) Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	rows := s.memberships[m.UserID]
	for i, existing := range rows {
		if existing.TenantID == m.TenantID {
			rows[i] = m
			return m
		}
	}
	s.memberships[m.UserID] = append(rows, m)
	return m
}

func (s *InMemory) FindUser(ctx context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *InMemory) Memberships(ctx context.Context, userID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.memberships[userID]
	out := make([]Membership, len(rows))
	copy(out, rows)
	return out, nil
}
