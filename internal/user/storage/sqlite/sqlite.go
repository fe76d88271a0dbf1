// Package sqlite is a user.Repository on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tiger4589/cqrs-lib/internal/user"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
)`

type Store struct {
	db *sql.DB
}

// Open opens the database at path and creates the users table if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply SQLite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, u user.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`,
		u.ID.String(), u.Name, u.Email, u.CreatedAt.UnixNano(),
	)
	return err
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id uuid.UUID) (user.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = ?`, id.String())
	u, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, user.ErrNotFound
	}
	return u, err
}

func (s *Store) List(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scan(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (user.User, error) {
	var (
		id, name, email string
		createdAt       int64
	)
	if err := row.Scan(&id, &name, &email, &createdAt); err != nil {
		return user.User{}, err
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return user.User{}, err
	}
	return user.User{
		ID:        uid,
		Name:      name,
		Email:     email,
		CreatedAt: time.Unix(0, createdAt).UTC(),
	}, nil
}
