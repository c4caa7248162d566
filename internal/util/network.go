// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package util holds small shared helpers.
package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP from the request, preferring the headers
// set by reverse proxies.
func ClientIP(r *http.Request) string {
	// Check X-Real-IP header (set by reverse proxies)
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	// X-Forwarded-For can contain multiple IPs; take the first one
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx >= 0 {
			ip = ip[:idx]
		}
		return strings.TrimSpace(ip)
	}

	// Fall back to RemoteAddr, stripping the port when present
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
