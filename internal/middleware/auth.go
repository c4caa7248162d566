// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware for authentication,
// authorization, and request tracing.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/util"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// Context keys for request data.
const (
	ContextKeyPrincipal ContextKey = "principal"
	ContextKeyRequestID ContextKey = "request_id"
)

// Role names in ascending privilege order.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   string
}

// RoleResolver maps a user id to a role. The audit subsystem treats the
// account system as a black box behind this interface.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) (string, error)
}

// RoleResolverFunc adapts a function to the RoleResolver interface.
type RoleResolverFunc func(ctx context.Context, userID string) (string, error)

// ResolveRole implements RoleResolver.
func (f RoleResolverFunc) ResolveRole(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// roleLevel orders roles for privilege comparison. Unknown roles rank
// below viewer.
func roleLevel(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// apiError is the JSON error envelope for the admin API.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteAPIError writes a JSON error response.
func WriteAPIError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	apiErr := apiError{}
	apiErr.Error.Code = code
	apiErr.Error.Message = message
	_ = json.NewEncoder(w).Encode(apiErr)
}

// Identify creates middleware that resolves the caller from the X-User-Id
// header into a Principal on the request context. Requests without the
// header pass through unauthenticated.
func Identify(resolver RoleResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-Id")
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			role, err := resolver.ResolveRole(r.Context(), userID)
			if err != nil {
				// An unresolvable user continues unauthenticated rather
				// than failing the request here; RequireRole decides.
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, Principal{
				UserID: userID,
				Role:   role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal retrieves the authenticated caller from the request context.
// Returns nil for unauthenticated requests.
func GetPrincipal(r *http.Request) *Principal {
	p, ok := r.Context().Value(ContextKeyPrincipal).(Principal)
	if !ok {
		return nil
	}
	return &p
}

// RequireRole creates middleware that rejects requests whose caller is
// missing or holds a lesser role. Denials are recorded as AUTH events on
// the audit log.
func RequireRole(role string, writer *audit.Writer) func(http.Handler) http.Handler {
	required := roleLevel(role)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r)
			if p == nil {
				recordDenial(writer, r, "", "unauthenticated")
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			if roleLevel(p.Role) < required {
				recordDenial(writer, r, p.UserID, "insufficient role")
				WriteAPIError(w, http.StatusForbidden, "forbidden", "Insufficient privileges")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recordDenial logs a rejected access attempt. Fire and forget: a denial is
// never blocked on the audit log.
func recordDenial(writer *audit.Writer, r *http.Request, actor, reason string) {
	if writer == nil {
		return
	}
	writer.Record(audit.Entry{
		Type:      model.EventTypeAuth,
		Level:     model.EventLevelWarn,
		Operation: "ACCESS_DENIED",
		Actor:     actor,
		ClientIP:  util.ClientIP(r),
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		Metadata:  map[string]any{"reason": reason},
	})
}
