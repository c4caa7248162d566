// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache provides a small cache layer used to avoid repeating the
// expensive audit stats aggregate scan. A memory backend is always
// available; a Redis backend can be configured for multi-instance
// deployments.
package cache

import (
	"context"
	"time"
)

// Cache is the interface both backends implement. All implementations must
// be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. Returns ErrCacheMiss when absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL uses the default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}

// Error is the error type for cache operations.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found or has expired.
	ErrCacheMiss Error = "cache miss"

	// ErrCacheClosed indicates the cache has been closed.
	ErrCacheClosed Error = "cache closed"
)
