package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"taxidispatch/internal/dispatch"
)

var ErrUserExists = errors.New("user already exists")

type User struct {
	ID        string        `json:"id"`
	Role      dispatch.Role `json:"role"`
	Name      string        `json:"name"`
	Phone     string        `json:"phone,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// UserStore is satisfied by the in-memory store and storage.Postgres.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, bool, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// InMemoryStore keeps users when no database is configured.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]User)}
}

func (s *InMemoryStore) CreateUser(_ context.Context, u User) error {
	if u.ID == "" || !validRole(u.Role) {
		return errors.New("invalid user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return ErrUserExists
	}
	s.users[u.ID] = u
	return nil
}

func (s *InMemoryStore) GetUser(_ context.Context, id string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *InMemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
