package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	const query = `SELECT id, name, email, role FROM users WHERE id = $1`

	u := &User{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user row. The account system owns user records; this
// exists for seeding and tests.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	const query = `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.Role); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// SearchUsers returns up to limit users whose name contains q
// (case-insensitive), optionally filtered by role. An empty q matches
// everyone.
func (s *Store) SearchUsers(ctx context.Context, q, role string, limit int) ([]User, error) {
	const query = `
		SELECT id, name, email, role FROM users
		WHERE name ILIKE '%' || $1 || '%'
		  AND ($2 = '' OR role = $2)
		ORDER BY name
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, q, role, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate users: %w", err)
	}
	return users, nil
}
