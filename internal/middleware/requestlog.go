// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/util"
)

// headerAllowlist names the request headers worth keeping on an API trace.
// Everything else (cookies, authorization) is deliberately left out.
var headerAllowlist = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"Referer",
	"X-Request-Id",
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// RequestTrace creates middleware that assigns each request an id and
// records an API request event with method, endpoint, caller, client IP,
// user agent, and elapsed time. Paths under any skip prefix are not traced;
// use it to keep health checks and metrics scrapes out of the audit log.
func RequestTrace(writer *audit.Writer, skipPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range skipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Request-Id", requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			durationMs := time.Since(start).Milliseconds()

			var actor string
			if p := GetPrincipal(r); p != nil {
				actor = p.UserID
			}

			headers := make(map[string]string, len(headerAllowlist)+2)
			for _, name := range headerAllowlist {
				if v := r.Header.Get(name); v != "" {
					headers[name] = v
				}
			}
			headers["X-Request-Id"] = requestID
			headers["Status"] = http.StatusText(rec.status)

			writer.RecordAPIRequest(r.URL.Path, r.Method, actor,
				util.ClientIP(r), r.UserAgent(), headers, durationMs)
		})
	}
}

// GetRequestID retrieves the request id from the request context.
func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(ContextKeyRequestID).(string)
	return id
}
