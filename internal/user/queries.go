package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tiger4589/cqrs-lib"
	"go.uber.org/zap"
)

// GetUserQuery reads one user.
type GetUserQuery struct {
	cqrs.Returns[GetUserQueryResult]
	ID uuid.UUID `json:"id"`
}

func (GetUserQuery) QueryName() string { return "GetUserQuery" }

type GetUserQueryResult struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// GetUsersQuery lists every user.
type GetUsersQuery struct {
	cqrs.Returns[GetUsersQueryResult]
}

func (GetUsersQuery) QueryName() string { return "GetUsersQuery" }

type GetUsersQueryResult struct {
	Users []GetUserQueryResult `json:"users"`
}

func toResult(u User) GetUserQueryResult {
	return GetUserQueryResult{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

type GetUserHandler struct {
	repo Repository
	log  *zap.Logger
}

func NewGetUserHandler(repo Repository, log *zap.Logger) *GetUserHandler {
	return &GetUserHandler{repo: repo, log: log}
}

// Retrieve implements cqrs.QueryHandler.
func (h *GetUserHandler) Retrieve(ctx context.Context, q GetUserQuery) (GetUserQueryResult, error) {
	u, err := h.repo.Find(ctx, q.ID)
	if err != nil {
		return GetUserQueryResult{}, err
	}
	h.log.Debug("retrieved user", zap.Stringer("id", u.ID))
	return toResult(u), nil
}

// CachedGetUserHandler serves GetUserQuery from a ResultCache and falls back
// to the wrapped handler on a miss.
type CachedGetUserHandler struct {
	next  cqrs.QueryHandler[GetUserQuery, GetUserQueryResult]
	cache ResultCache
}

func NewCachedGetUserHandler(next cqrs.QueryHandler[GetUserQuery, GetUserQueryResult], cache ResultCache) *CachedGetUserHandler {
	return &CachedGetUserHandler{next: next, cache: cache}
}

// Retrieve implements cqrs.QueryHandler.
func (h *CachedGetUserHandler) Retrieve(ctx context.Context, q GetUserQuery) (GetUserQueryResult, error) {
	if result, ok := h.cache.Get(ctx, q.ID); ok {
		return result, nil
	}
	result, err := h.next.Retrieve(ctx, q)
	if err != nil {
		return result, err
	}
	h.cache.Set(ctx, result)
	return result, nil
}

type GetUsersHandler struct {
	repo Repository
}

func NewGetUsersHandler(repo Repository) *GetUsersHandler {
	return &GetUsersHandler{repo: repo}
}

// Retrieve implements cqrs.QueryHandler.
func (h *GetUsersHandler) Retrieve(ctx context.Context, _ GetUsersQuery) (GetUsersQueryResult, error) {
	users, err := h.repo.List(ctx)
	if err != nil {
		return GetUsersQueryResult{}, err
	}
	result := GetUsersQueryResult{Users: make([]GetUserQueryResult, 0, len(users))}
	for _, u := range users {
		result.Users = append(result.Users, toResult(u))
	}
	return result, nil
}
