// Package memory is an in-process user.Repository.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/tiger4589/cqrs-lib/internal/user"
)

type Store struct {
	mu    sync.RWMutex
	users map[uuid.UUID]user.User
}

func New() *Store {
	return &Store{users: make(map[uuid.UUID]user.User)}
}

func (s *Store) Save(_ context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return user.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) Find(_ context.Context, id uuid.UUID) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (s *Store) List(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	users := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	slices.SortFunc(users, func(a, b user.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return users, nil
}

func (s *Store) Close() error { return nil }
