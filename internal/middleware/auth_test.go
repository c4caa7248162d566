// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/store"
	"github.com/olegiv/ctms-go/internal/testutil"
)

// staticResolver maps fixed user ids to roles.
type staticResolver map[string]string

func (r staticResolver) ResolveRole(_ context.Context, userID string) (string, error) {
	role, ok := r[userID]
	if !ok {
		return "", errors.New("unknown user")
	}
	return role, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentify(t *testing.T) {
	resolver := staticResolver{"u1": RoleAdmin}

	var got *Principal
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = GetPrincipal(r)
	})
	handler := Identify(resolver)(inner)

	r := httptest.NewRequest("GET", "/admin/logs", nil)
	r.Header.Set("X-User-Id", "u1")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if got == nil {
		t.Fatal("no principal in context")
	}
	if got.UserID != "u1" || got.Role != RoleAdmin {
		t.Errorf("principal = %+v, want u1/admin", got)
	}
}

func TestIdentifyWithoutHeader(t *testing.T) {
	handler := Identify(staticResolver{})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r) != nil {
			t.Error("principal set without X-User-Id header")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestIdentifyUnknownUser(t *testing.T) {
	handler := Identify(staticResolver{})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r) != nil {
			t.Error("principal set for unresolvable user")
		}
	}))
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-User-Id", "ghost")
	handler.ServeHTTP(httptest.NewRecorder(), r)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		required   string
		wantStatus int
	}{
		{"unauthenticated", "", RoleAdmin, http.StatusUnauthorized},
		{"insufficient role", "viewer-1", RoleAdmin, http.StatusForbidden},
		{"exact role", "admin-1", RoleAdmin, http.StatusOK},
		{"higher role passes lower bar", "admin-1", RoleEditor, http.StatusOK},
		{"editor blocked from admin", "editor-1", RoleAdmin, http.StatusForbidden},
	}

	resolver := staticResolver{
		"viewer-1": RoleViewer,
		"editor-1": RoleEditor,
		"admin-1":  RoleAdmin,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Identify(resolver)(RequireRole(tt.required, nil)(okHandler()))

			r := httptest.NewRequest("GET", "/admin/logs", nil)
			if tt.userID != "" {
				r.Header.Set("X-User-Id", tt.userID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK && w.Header().Get("Content-Type") != "application/json" {
				t.Errorf("denial Content-Type = %q, want application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRequireRoleRecordsDenial(t *testing.T) {
	db := testutil.NewDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := audit.NewWriter(db, logger, nil, audit.WriterConfig{Workers: 1})
	writer.Start()

	handler := Identify(staticResolver{"viewer-1": RoleViewer})(
		RequireRole(RoleAdmin, writer)(okHandler()))

	r := httptest.NewRequest("POST", "/admin/cleanup", nil)
	r.Header.Set("X-User-Id", "viewer-1")
	r.RemoteAddr = "203.0.113.9:40000"
	handler.ServeHTTP(httptest.NewRecorder(), r)

	writer.Stop()

	events, err := store.New(db).ListAuditEvents(r.Context(), store.ListAuditEventsParams{Limit: 10})
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Type != model.EventTypeAuth || e.Level != model.EventLevelWarn {
		t.Errorf("got type=%s level=%s, want AUTH/WARN", e.Type, e.Level)
	}
	if e.Operation != "ACCESS_DENIED" {
		t.Errorf("Operation = %q, want ACCESS_DENIED", e.Operation)
	}
	if e.Actor.String != "viewer-1" {
		t.Errorf("Actor = %q, want viewer-1", e.Actor.String)
	}
	if e.ClientIP.String != "203.0.113.9" {
		t.Errorf("ClientIP = %q, want 203.0.113.9", e.ClientIP.String)
	}
}
