// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olegiv/ctms-go/internal/model"
)

// DBTX is the subset of *sql.DB / *sql.Tx the query layer needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries provides typed access to the audit_events table. The list and
// count queries build their WHERE clause dynamically because every filter
// is optional; sqlc-style fixed statements would need one query per filter
// combination.
type Queries struct {
	db DBTX
}

// New creates a Queries instance backed by db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// auditEventColumns is the canonical column list for scanning audit events.
const auditEventColumns = `id, type, level, operation, entity, entity_id,
	before_state, after_state, actor, client_ip, user_agent,
	error_message, stack_trace, duration_ms, endpoint, method,
	request_headers, query_params, metadata, created_at`

// CreateAuditEventParams holds the insert values for one audit event.
// CreatedAt is assigned by the caller at commit time.
type CreateAuditEventParams struct {
	Type           model.EventType
	Level          model.EventLevel
	Operation      string
	Entity         sql.NullString
	EntityID       sql.NullString
	BeforeState    sql.NullString
	AfterState     sql.NullString
	Actor          sql.NullString
	ClientIP       sql.NullString
	UserAgent      sql.NullString
	ErrorMessage   sql.NullString
	StackTrace     sql.NullString
	DurationMs     sql.NullInt64
	Endpoint       sql.NullString
	Method         sql.NullString
	RequestHeaders sql.NullString
	QueryParams    sql.NullString
	Metadata       string
	CreatedAt      time.Time
}

// CreateAuditEvent appends one audit event and returns its assigned id.
func (q *Queries) CreateAuditEvent(ctx context.Context, arg CreateAuditEventParams) (int64, error) {
	if arg.Metadata == "" {
		arg.Metadata = "{}"
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			type, level, operation, entity, entity_id,
			before_state, after_state, actor, client_ip, user_agent,
			error_message, stack_trace, duration_ms, endpoint, method,
			request_headers, query_params, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.Type, arg.Level, arg.Operation, arg.Entity, arg.EntityID,
		arg.BeforeState, arg.AfterState, arg.Actor, arg.ClientIP, arg.UserAgent,
		arg.ErrorMessage, arg.StackTrace, arg.DurationMs, arg.Endpoint, arg.Method,
		arg.RequestHeaders, arg.QueryParams, arg.Metadata, arg.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting audit event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading audit event id: %w", err)
	}
	return id, nil
}

// GetAuditEventByID returns a single audit event.
func (q *Queries) GetAuditEventByID(ctx context.Context, id int64) (model.AuditEvent, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+auditEventColumns+` FROM audit_events WHERE id = ?`, id)
	return scanAuditEvent(row)
}

// AuditEventFilter holds the optional, conjunctive list filters.
// Zero values mean "no filter" for that field.
type AuditEventFilter struct {
	Operation string
	Entity    string
	Level     string
	Actor     string
	DateFrom  *time.Time // inclusive
	DateTo    *time.Time // inclusive
	FreeText  string     // substring over operation, entity, error_message
}

// buildWhere renders the filter into a WHERE clause and its arguments.
// Returns an empty string when no filter is set.
func (f AuditEventFilter) buildWhere() (string, []any) {
	var conds []string
	var args []any

	if f.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, f.Operation)
	}
	if f.Entity != "" {
		conds = append(conds, "entity = ?")
		args = append(args, f.Entity)
	}
	if f.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, f.Level)
	}
	if f.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.DateFrom != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, *f.DateTo)
	}
	if f.FreeText != "" {
		pattern := "%" + escapeLike(f.FreeText) + "%"
		conds = append(conds, `(operation LIKE ? ESCAPE '\'
			OR entity LIKE ? ESCAPE '\'
			OR error_message LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike escapes LIKE wildcards so free text matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// ListAuditEventsParams combines filters with offset pagination.
type ListAuditEventsParams struct {
	Filter AuditEventFilter
	Limit  int64
	Offset int64
}

// ListAuditEvents returns a page of audit events ordered by created_at
// descending, ties broken by id descending.
func (q *Queries) ListAuditEvents(ctx context.Context, arg ListAuditEventsParams) ([]model.AuditEvent, error) {
	where, args := arg.Filter.buildWhere()
	args = append(args, arg.Limit, arg.Offset)

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+auditEventColumns+` FROM audit_events`+where+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

// CountAuditEvents returns the number of events matching the filter.
func (q *Queries) CountAuditEvents(ctx context.Context, filter AuditEventFilter) (int64, error) {
	where, args := filter.buildWhere()

	var count int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting audit events: %w", err)
	}
	return count, nil
}

// DeleteAuditEventsBefore removes every event with created_at strictly older
// than cutoff. A single DELETE keeps the sweep atomic.
func (q *Queries) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting audit events before cutoff: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return removed, nil
}

// DeleteAuditEventsKeepingRecent keeps the `keep` most recent events (by
// created_at descending, id descending) and removes the rest. The asOf bound
// pins the sweep to the records visible at call time: events written after
// asOf are never touched, even if they land mid-delete.
func (q *Queries) DeleteAuditEventsKeepingRecent(ctx context.Context, keep int64, asOf time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM audit_events
		WHERE created_at <= ?
		  AND id NOT IN (
			SELECT id FROM audit_events
			WHERE created_at <= ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		  )`, asOf, asOf, keep)
	if err != nil {
		return 0, fmt.Errorf("deleting audit events beyond keep count: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return removed, nil
}

// AuditEventTotalsRow summarizes the whole table in one scan.
type AuditEventTotalsRow struct {
	Total  int64
	Oldest sql.NullTime
	Newest sql.NullTime
}

// AuditEventTotals returns total count and timestamp bounds. The bounds are
// read from the ordered column rather than MIN/MAX so the drivers keep the
// DATETIME affinity and return time.Time values.
func (q *Queries) AuditEventTotals(ctx context.Context) (AuditEventTotalsRow, error) {
	var row AuditEventTotalsRow
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events`).Scan(&row.Total); err != nil {
		return AuditEventTotalsRow{}, fmt.Errorf("counting audit events: %w", err)
	}
	if row.Total == 0 {
		return row, nil
	}

	if err := q.db.QueryRowContext(ctx,
		`SELECT created_at FROM audit_events ORDER BY created_at ASC, id ASC LIMIT 1`).
		Scan(&row.Oldest); err != nil {
		return AuditEventTotalsRow{}, fmt.Errorf("reading oldest audit event: %w", err)
	}
	if err := q.db.QueryRowContext(ctx,
		`SELECT created_at FROM audit_events ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&row.Newest); err != nil {
		return AuditEventTotalsRow{}, fmt.Errorf("reading newest audit event: %w", err)
	}
	return row, nil
}

// CountAuditEventsByLevel returns per-level counts.
func (q *Queries) CountAuditEventsByLevel(ctx context.Context) (map[model.EventLevel]int64, error) {
	return countGrouped(ctx, q.db, "level", func(s string) model.EventLevel { return model.EventLevel(s) })
}

// CountAuditEventsByType returns per-type counts.
func (q *Queries) CountAuditEventsByType(ctx context.Context) (map[model.EventType]int64, error) {
	return countGrouped(ctx, q.db, "type", func(s string) model.EventType { return model.EventType(s) })
}

func countGrouped[K comparable](ctx context.Context, db DBTX, column string, key func(string) K) (map[K]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM audit_events GROUP BY `+column)
	if err != nil {
		return nil, fmt.Errorf("grouping audit events by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[K]int64)
	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("scanning %s count: %w", column, err)
		}
		counts[key(value)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s counts: %w", column, err)
	}
	return counts, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAuditEvent(s scanner) (model.AuditEvent, error) {
	var e model.AuditEvent
	err := s.Scan(
		&e.ID, &e.Type, &e.Level, &e.Operation, &e.Entity, &e.EntityID,
		&e.BeforeState, &e.AfterState, &e.Actor, &e.ClientIP, &e.UserAgent,
		&e.ErrorMessage, &e.StackTrace, &e.DurationMs, &e.Endpoint, &e.Method,
		&e.RequestHeaders, &e.QueryParams, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuditEvent{}, err
		}
		return model.AuditEvent{}, fmt.Errorf("scanning audit event: %w", err)
	}
	return e, nil
}
