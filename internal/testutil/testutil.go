// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package testutil provides shared helpers for package tests.
package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// auditEventsSchema mirrors the migration in internal/store/migrations.
const auditEventsSchema = `
	CREATE TABLE audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		operation TEXT NOT NULL,
		entity TEXT,
		entity_id TEXT,
		before_state TEXT,
		after_state TEXT,
		actor TEXT,
		client_ip TEXT,
		user_agent TEXT,
		error_message TEXT,
		stack_trace TEXT,
		duration_ms INTEGER,
		endpoint TEXT,
		method TEXT,
		request_headers TEXT,
		query_params TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

// NewDB opens an in-memory SQLite database with the audit_events table.
// The database is closed automatically when the test finishes.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// A single connection keeps the in-memory database alive across the test.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(auditEventsSchema); err != nil {
		t.Fatalf("failed to create audit_events table: %v", err)
	}

	return db
}
