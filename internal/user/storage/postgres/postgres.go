// Package postgres is a user.Repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tiger4589/cqrs-lib/internal/user"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url and creates the users table if needed.
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is required for PostgreSQL")
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply PostgreSQL schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Save(ctx context.Context, u user.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email`,
		u.ID, u.Name, u.Email, u.CreatedAt,
	)
	return err
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id uuid.UUID) (user.User, error) {
	var u user.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) List(ctx context.Context) ([]user.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (user.User, error) {
		var u user.User
		err := row.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
		u.CreatedAt = u.CreatedAt.UTC()
		return u, err
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
