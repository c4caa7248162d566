// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"
)

// User is one account row. Account management itself lives outside this
// service; the audit subsystem only resolves roles.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      string
	CreatedAt time.Time
}

const getUserRole = `SELECT role FROM users WHERE id = ?`

// GetUserRole returns the role of a user.
func (q *Queries) GetUserRole(ctx context.Context, id string) (string, error) {
	var role string
	err := q.db.QueryRowContext(ctx, getUserRole, id).Scan(&role)
	return role, err
}

const getUserByID = `SELECT id, name, email, role, created_at FROM users WHERE id = ?`

// GetUserByID returns a single user.
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, getUserByID, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	return u, err
}

const upsertUser = `
INSERT INTO users (id, name, email, role, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role`

// UpsertUserParams holds the input for UpsertUser.
type UpsertUserParams struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// UpsertUser creates or updates a user row.
func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) error {
	_, err := q.db.ExecContext(ctx, upsertUser,
		arg.ID, arg.Name, arg.Email, arg.Role, time.Now().UTC())
	return err
}
