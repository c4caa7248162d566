// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logging provides a custom slog handler that integrates with the
// audit log. It forwards logs at WARN level and above into the audit
// writer so operational problems surface in the admin log viewer.
package logging

import (
	"context"
	"log/slog"

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/model"
)

// AuditLogHandler is a slog.Handler that wraps another handler and also
// records WARN and ERROR level logs as audit events. The forward is fire
// and forget through the audit writer's queue, so logging never blocks on
// the database.
//
// The audit writer's own logger must NOT be built on this handler; give
// the writer the plain inner handler to keep the loop open.
type AuditLogHandler struct {
	inner  slog.Handler
	writer *audit.Writer
	level  slog.Level // minimum level forwarded to the audit log
}

// NewAuditLogHandler creates an AuditLogHandler that wraps the given
// handler. Logs at WARN level and above are also recorded as audit events.
func NewAuditLogHandler(inner slog.Handler, writer *audit.Writer) *AuditLogHandler {
	return &AuditLogHandler{
		inner:  inner,
		writer: writer,
		level:  slog.LevelWarn,
	}
}

// NewAuditLogHandlerWithLevel creates an AuditLogHandler with a custom
// minimum forwarding level.
func NewAuditLogHandlerWithLevel(inner slog.Handler, writer *audit.Writer, level slog.Level) *AuditLogHandler {
	return &AuditLogHandler{
		inner:  inner,
		writer: writer,
		level:  level,
	}
}

// Enabled implements slog.Handler.
func (h *AuditLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *AuditLogHandler) Handle(ctx context.Context, r slog.Record) error {
	// Always forward to the inner handler first.
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	if r.Level >= h.level {
		h.recordEvent(r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *AuditLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AuditLogHandler{
		inner:  h.inner.WithAttrs(attrs),
		writer: h.writer,
		level:  h.level,
	}
}

// WithGroup implements slog.Handler.
func (h *AuditLogHandler) WithGroup(name string) slog.Handler {
	return &AuditLogHandler{
		inner:  h.inner.WithGroup(name),
		writer: h.writer,
		level:  h.level,
	}
}

// recordEvent hands one log record to the audit writer.
func (h *AuditLogHandler) recordEvent(r slog.Record) {
	entry := audit.Entry{
		Type:         model.EventTypeSystem,
		Level:        slogLevelToEventLevel(r.Level),
		Operation:    "LOG",
		ErrorMessage: r.Message,
		Metadata:     extractAttrs(r),
	}
	if r.Level >= slog.LevelError {
		entry.Type = model.EventTypeError
	}
	h.writer.Record(entry)
}

// slogLevelToEventLevel converts a slog.Level to an audit event level.
func slogLevelToEventLevel(level slog.Level) model.EventLevel {
	switch {
	case level >= slog.LevelError:
		return model.EventLevelError
	case level >= slog.LevelWarn:
		return model.EventLevelWarn
	default:
		return model.EventLevelInfo
	}
}

// extractAttrs collects the record attributes as event metadata.
func extractAttrs(r slog.Record) map[string]any {
	if r.NumAttrs() == 0 {
		return nil
	}
	attrs := make(map[string]any, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	return attrs
}
