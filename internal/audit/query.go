// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/store"
)

// Pagination bounds. MaxPageSize is the default upper bound; deployments can
// override it through the query service config.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Filter holds the optional list filters. All set fields apply
// conjunctively.
type Filter struct {
	Operation string
	Entity    string
	Level     string // exact level, or model.EventLevelAll / "" for all
	Actor     string
	DateFrom  *time.Time // inclusive
	DateTo    *time.Time // inclusive
	FreeText  string
}

// Page is one page of query results.
type Page struct {
	Items    []model.AuditEvent
	Total    int64
	Page     int
	PageSize int
}

// QueryService provides paginated, filtered retrieval over the audit log.
type QueryService struct {
	queries     *store.Queries
	maxPageSize int
}

// NewQueryService creates a query service. maxPageSize <= 0 selects the
// default bound.
func NewQueryService(db *sql.DB, maxPageSize int) *QueryService {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	return &QueryService{
		queries:     store.New(db),
		maxPageSize: maxPageSize,
	}
}

// List returns one page of audit events ordered by created_at descending,
// ties broken by id descending. Pagination is offset based and consistent
// only relative to a static snapshot: concurrent writes may shift later
// pages. A cancelled context returns the cancellation error, never a
// truncated page.
func (s *QueryService) List(ctx context.Context, page, pageSize int, filter Filter) (Page, error) {
	if page < 1 {
		return Page{}, &ValidationError{Field: "page", Reason: "must be >= 1"}
	}
	if pageSize < 1 || pageSize > s.maxPageSize {
		return Page{}, &ValidationError{
			Field:  "pageSize",
			Reason: fmt.Sprintf("must be between 1 and %d", s.maxPageSize),
		}
	}

	storeFilter := filter.toStore()

	total, err := s.queries.CountAuditEvents(ctx, storeFilter)
	if err != nil {
		return Page{}, wrapQueryErr(ctx, "count", err)
	}

	items, err := s.queries.ListAuditEvents(ctx, store.ListAuditEventsParams{
		Filter: storeFilter,
		Limit:  int64(pageSize),
		Offset: int64(page-1) * int64(pageSize),
	})
	if err != nil {
		return Page{}, wrapQueryErr(ctx, "list", err)
	}

	return Page{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetByID returns a single audit event.
func (s *QueryService) GetByID(ctx context.Context, id int64) (model.AuditEvent, error) {
	event, err := s.queries.GetAuditEventByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuditEvent{}, &NotFoundError{ID: id}
		}
		return model.AuditEvent{}, wrapQueryErr(ctx, "get", err)
	}
	return event, nil
}

// MaxPageSize returns the configured page size bound.
func (s *QueryService) MaxPageSize() int {
	return s.maxPageSize
}

// toStore translates the filter, collapsing the "_all" level sentinel.
func (f Filter) toStore() store.AuditEventFilter {
	level := f.Level
	if level == model.EventLevelAll {
		level = ""
	}
	return store.AuditEventFilter{
		Operation: f.Operation,
		Entity:    f.Entity,
		Level:     level,
		Actor:     f.Actor,
		DateFrom:  f.DateFrom,
		DateTo:    f.DateTo,
		FreeText:  f.FreeText,
	}
}

// wrapQueryErr keeps context cancellation visible to the caller and wraps
// everything else as a storage failure.
func wrapQueryErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
