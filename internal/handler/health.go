// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	db        *sql.DB
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{
		db:        db,
		startTime: time.Now(),
	}
}

// healthStatus is the health check response shape.
type healthStatus struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Health handles GET /healthz. It degrades to 503 when the database does
// not answer a ping within a second.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	status := healthStatus{
		Status: "ok",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	}
	code := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
