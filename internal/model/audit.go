// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model defines the canonical data types shared across the
// application, most importantly the audit event record.
package model

import (
	"database/sql"
	"time"
)

// EventType categorizes what kind of activity an audit event records.
type EventType string

// Audit event types.
const (
	EventTypeAuth         EventType = "AUTH"
	EventTypeAPIRequest   EventType = "API_REQUEST"
	EventTypeDataMutation EventType = "DATA_MUTATION"
	EventTypeError        EventType = "ERROR"
	EventTypeSystem       EventType = "SYSTEM"
)

// EventTypes lists all valid event types in display order.
func EventTypes() []EventType {
	return []EventType{
		EventTypeAuth,
		EventTypeAPIRequest,
		EventTypeDataMutation,
		EventTypeError,
		EventTypeSystem,
	}
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeAuth, EventTypeAPIRequest, EventTypeDataMutation, EventTypeError, EventTypeSystem:
		return true
	}
	return false
}

// EventLevel is the severity of an audit event.
type EventLevel string

// Audit event levels.
const (
	EventLevelInfo     EventLevel = "INFO"
	EventLevelWarn     EventLevel = "WARN"
	EventLevelError    EventLevel = "ERROR"
	EventLevelCritical EventLevel = "CRITICAL"
)

// EventLevelAll is the sentinel accepted by list filters meaning "no level
// filter". It is never stored on a record.
const EventLevelAll = "_all"

// EventLevels lists all valid event levels in ascending severity order.
func EventLevels() []EventLevel {
	return []EventLevel{
		EventLevelInfo,
		EventLevelWarn,
		EventLevelError,
		EventLevelCritical,
	}
}

// Valid reports whether l is a known event level.
func (l EventLevel) Valid() bool {
	switch l {
	case EventLevelInfo, EventLevelWarn, EventLevelError, EventLevelCritical:
		return true
	}
	return false
}

// Common operation labels. Operation is free text; these cover the
// operations the engine itself emits.
const (
	OperationLogin    = "LOGIN"
	OperationCreate   = "CREATE"
	OperationUpdate   = "UPDATE"
	OperationDelete   = "DELETE"
	OperationRequest  = "REQUEST"
	OperationCleanup  = "CLEANUP"
	OperationInternal = "INTERNAL"
)

// AuditEvent is one audit log entry. Records are immutable once written:
// they are created by the audit writer, read by the query engine, and only
// ever removed in bulk by retention sweeps.
type AuditEvent struct {
	ID        int64
	Type      EventType
	Level     EventLevel
	Operation string

	// Affected resource, present for data mutation events.
	Entity      sql.NullString
	EntityID    sql.NullString
	BeforeState sql.NullString // opaque JSON snapshot
	AfterState  sql.NullString // opaque JSON snapshot

	// Request provenance.
	Actor     sql.NullString // acting user id, empty for system events
	ClientIP  sql.NullString
	UserAgent sql.NullString

	// Error details, present when Level is ERROR/CRITICAL or Type is ERROR.
	ErrorMessage sql.NullString
	StackTrace   sql.NullString

	// Request tracing.
	DurationMs sql.NullInt64
	Endpoint   sql.NullString
	Method     sql.NullString

	// Diagnostic payloads, stored as JSON.
	RequestHeaders sql.NullString
	QueryParams    sql.NullString

	// Metadata holds engine-side enrichment (parsed user agent, GeoIP
	// country, request id) as a JSON object.
	Metadata string

	CreatedAt time.Time
}

// IsMutation reports whether the event carries before/after snapshots.
func (e AuditEvent) IsMutation() bool {
	return e.Type == EventTypeDataMutation
}
