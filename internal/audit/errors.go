// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package audit implements the audit log engine: the non-blocking event
// writer, the paginated query service, and the retention manager.
package audit

import "fmt"

// ValidationError reports bad caller input (400-class).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthError reports a missing or insufficient identity (401/403-class).
type AuthError struct {
	// Authenticated is false when no identity was presented at all.
	Authenticated bool
	Reason        string
}

func (e *AuthError) Error() string {
	if !e.Authenticated {
		return "unauthenticated: " + e.Reason
	}
	return "forbidden: " + e.Reason
}

// StorageError reports that the durable store was unreachable or a
// write/delete failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError reports a lookup for an id that does not exist.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("audit event %d not found", e.ID)
}
