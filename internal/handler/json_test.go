// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/olegiv/ctms-go/internal/audit"
)

func TestWriteAuditError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", &audit.ValidationError{Field: "page", Reason: "must be >= 1"}, http.StatusBadRequest},
		{"not found", &audit.NotFoundError{ID: 7}, http.StatusNotFound},
		{"unauthenticated", &audit.AuthError{Authenticated: false, Reason: "no identity"}, http.StatusUnauthorized},
		{"forbidden", &audit.AuthError{Authenticated: true, Reason: "viewer role"}, http.StatusForbidden},
		{"storage", &audit.StorageError{Op: "list", Err: errors.New("db gone")}, http.StatusInternalServerError},
		{"unknown", errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeAuditError(w, tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeBody(t, w)
			if body["success"] != false {
				t.Errorf("body = %v, want success false", body)
			}
		})
	}
}
