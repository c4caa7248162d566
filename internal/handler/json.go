// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/olegiv/ctms-go/internal/audit"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"error":   message,
	})
}

// writeJSONSuccess writes a JSON success response.
func writeJSONSuccess(w http.ResponseWriter, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["success"] = true
	writeJSON(w, http.StatusOK, data)
}

// writeAuditError maps the audit error taxonomy to HTTP statuses.
func writeAuditError(w http.ResponseWriter, err error) {
	var verr *audit.ValidationError
	if errors.As(err, &verr) {
		writeJSONError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var nferr *audit.NotFoundError
	if errors.As(err, &nferr) {
		writeJSONError(w, http.StatusNotFound, nferr.Error())
		return
	}
	var aerr *audit.AuthError
	if errors.As(err, &aerr) {
		status := http.StatusForbidden
		if !aerr.Authenticated {
			status = http.StatusUnauthorized
		}
		writeJSONError(w, status, aerr.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
