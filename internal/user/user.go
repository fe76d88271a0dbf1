// Package user is the demo application served through the dispatcher: user
// commands, queries, their handlers and the ports they depend on.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidName  = errors.New("user name is required")
	ErrInvalidEmail = errors.New("user email is invalid")
	ErrInvalidID    = errors.New("user id is required")
)

// User is the stored user record.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	CreatedAt time.Time
}

// Repository persists users.
type Repository interface {
	Save(ctx context.Context, u User) error
	// Delete removes the user or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
	// Find returns the user or ErrNotFound.
	Find(ctx context.Context, id uuid.UUID) (User, error)
	// List returns all users ordered by creation time.
	List(ctx context.Context) ([]User, error)
}

// ResultCache caches GetUserQuery results.
type ResultCache interface {
	Get(ctx context.Context, id uuid.UUID) (GetUserQueryResult, bool)
	Set(ctx context.Context, result GetUserQueryResult)
	Expire(ctx context.Context, id uuid.UUID)
}

// Subjects the handlers publish to.
const (
	SubjectAdded   = "user.added"
	SubjectDeleted = "user.deleted"
)

// Added is published after a user was stored.
type Added struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

func (Added) EventName() string { return SubjectAdded }

// Deleted is published after a user was removed.
type Deleted struct {
	ID uuid.UUID `json:"id"`
}

func (Deleted) EventName() string { return SubjectDeleted }
