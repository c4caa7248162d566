// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/store"
	"github.com/olegiv/ctms-go/internal/testutil"
)

// seedEvents inserts n events one minute apart, oldest first. Event i has
// actor "user-i" and alternates INFO/ERROR levels.
func seedEvents(t *testing.T, db *sql.DB, n int, base time.Time) {
	t.Helper()
	queries := store.New(db)
	for i := 0; i < n; i++ {
		level := model.EventLevelInfo
		if i%2 == 1 {
			level = model.EventLevelError
		}
		_, err := queries.CreateAuditEvent(context.Background(), store.CreateAuditEventParams{
			Type:      model.EventTypeDataMutation,
			Level:     level,
			Operation: model.OperationUpdate,
			Entity:    sql.NullString{String: "registration", Valid: true},
			Actor:     sql.NullString{String: fmt.Sprintf("user-%d", i), Valid: true},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed event %d: %v", i, err)
		}
	}
}

func TestListOrdering(t *testing.T) {
	db := testutil.NewDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedEvents(t, db, 5, base)

	svc := NewQueryService(db, 0)
	page, err := svc.List(context.Background(), 1, 10, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 5 {
		t.Fatalf("got total=%d items=%d, want 5/5", page.Total, len(page.Items))
	}
	for i := 1; i < len(page.Items); i++ {
		prev, cur := page.Items[i-1], page.Items[i]
		if cur.CreatedAt.After(prev.CreatedAt) {
			t.Errorf("items[%d] newer than items[%d]: order must be newest first", i, i-1)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID > prev.ID {
			t.Errorf("tie at %v not broken by descending id", cur.CreatedAt)
		}
	}
	if page.Items[0].Actor.String != "user-4" {
		t.Errorf("first item actor = %s, want user-4 (newest)", page.Items[0].Actor.String)
	}
}

func TestListPagination(t *testing.T) {
	db := testutil.NewDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, db, 25, base)

	svc := NewQueryService(db, 0)
	page, err := svc.List(context.Background(), 2, 10, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 25 {
		t.Errorf("Total = %d, want 25", page.Total)
	}
	if len(page.Items) != 10 {
		t.Fatalf("got %d items, want 10", len(page.Items))
	}
	// Newest first: page 2 of size 10 holds events ranked 11..20, which are
	// seeded events 14 down to 5.
	if got := page.Items[0].Actor.String; got != "user-14" {
		t.Errorf("page 2 first actor = %s, want user-14", got)
	}
	if got := page.Items[9].Actor.String; got != "user-5" {
		t.Errorf("page 2 last actor = %s, want user-5", got)
	}

	// The final partial page.
	page, err = svc.List(context.Background(), 3, 10, Filter{})
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(page.Items) != 5 {
		t.Errorf("page 3 size = %d, want 5", len(page.Items))
	}

	// Past the end: empty page, not an error.
	page, err = svc.List(context.Background(), 9, 10, Filter{})
	if err != nil {
		t.Fatalf("List page 9: %v", err)
	}
	if len(page.Items) != 0 || page.Total != 25 {
		t.Errorf("past-end page: items=%d total=%d, want 0/25", len(page.Items), page.Total)
	}
}

func TestListValidation(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewQueryService(db, 50)

	tests := []struct {
		name     string
		page     int
		pageSize int
	}{
		{"zero page", 0, 10},
		{"negative page", -1, 10},
		{"zero page size", 1, 0},
		{"page size above bound", 1, 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.List(context.Background(), tt.page, tt.pageSize, Filter{})
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("err = %v, want *ValidationError", err)
			}
		})
	}
}

func TestListLevelAllSentinel(t *testing.T) {
	db := testutil.NewDB(t)
	seedEvents(t, db, 6, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := NewQueryService(db, 0)
	ctx := context.Background()

	unfiltered, err := svc.List(ctx, 1, 25, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	all, err := svc.List(ctx, 1, 25, Filter{Level: model.EventLevelAll})
	if err != nil {
		t.Fatalf("List with _all: %v", err)
	}
	if all.Total != unfiltered.Total {
		t.Errorf("_all total = %d, want %d (same as no filter)", all.Total, unfiltered.Total)
	}

	errOnly, err := svc.List(ctx, 1, 25, Filter{Level: string(model.EventLevelError)})
	if err != nil {
		t.Fatalf("List with ERROR: %v", err)
	}
	if errOnly.Total != 3 {
		t.Errorf("ERROR total = %d, want 3", errOnly.Total)
	}
}

func TestListFilteredPaginationCountsMatch(t *testing.T) {
	db := testutil.NewDB(t)
	seedEvents(t, db, 25, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := NewQueryService(db, 0)

	// 13 INFO events (even seed indexes); page 2 of 5 holds 5 of them.
	page, err := svc.List(context.Background(), 2, 5, Filter{Level: string(model.EventLevelInfo)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 13 {
		t.Errorf("Total = %d, want 13", page.Total)
	}
	if len(page.Items) != 5 {
		t.Errorf("got %d items, want 5", len(page.Items))
	}
	for _, e := range page.Items {
		if e.Level != model.EventLevelInfo {
			t.Errorf("item level = %s, want INFO", e.Level)
		}
	}
}

func TestGetByID(t *testing.T) {
	db := testutil.NewDB(t)
	seedEvents(t, db, 1, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := NewQueryService(db, 0)
	ctx := context.Background()

	event, err := svc.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if event.ID != 1 || event.Actor.String != "user-0" {
		t.Errorf("got id=%d actor=%s, want 1/user-0", event.ID, event.Actor.String)
	}

	_, err = svc.GetByID(ctx, 999)
	var nferr *NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
	if nferr.ID != 999 {
		t.Errorf("NotFoundError.ID = %d, want 999", nferr.ID)
	}
}

func TestListCancelledContext(t *testing.T) {
	db := testutil.NewDB(t)
	seedEvents(t, db, 3, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := NewQueryService(db, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.List(ctx, 1, 10, Filter{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
