// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/store"
	"github.com/olegiv/ctms-go/internal/testutil"
)

func seedN(t *testing.T, db *sql.DB, n int, age time.Duration) {
	t.Helper()
	queries := store.New(db)
	at := time.Now().UTC().Add(-age)
	for i := 0; i < n; i++ {
		_, err := queries.CreateAuditEvent(context.Background(), store.CreateAuditEventParams{
			Type:      model.EventTypeSystem,
			Level:     model.EventLevelInfo,
			Operation: "SEED",
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func newTestScheduler(t *testing.T, db *sql.DB, cfg Config) (*Scheduler, *audit.Writer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := audit.NewWriter(db, logger, nil, audit.WriterConfig{Workers: 1})
	writer.Start()

	// Tiny thresholds so small fixtures trip the recommendation.
	retention := audit.NewRetentionService(db, logger, nil, audit.RetentionConfig{
		Thresholds: audit.Thresholds{CountCleanup: 20, AgeCleanup: 5},
	})
	return New(retention, writer, logger, cfg), writer
}

func TestRunOnceSkipsSmallLog(t *testing.T) {
	db := testutil.NewDB(t)
	s, writer := newTestScheduler(t, db, Config{})
	seedN(t, db, 3, time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	writer.Stop()

	total, err := store.New(db).CountAuditEvents(context.Background(), store.AuditEventFilter{})
	if err != nil {
		t.Fatalf("CountAuditEvents: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3 (no sweep, no cleanup record)", total)
	}
}

func TestRunOnceAgeBased(t *testing.T) {
	db := testutil.NewDB(t)
	s, writer := newTestScheduler(t, db, Config{RetentionDays: 30})

	// 10 events over the age threshold of 5: 6 of them past the window.
	seedN(t, db, 6, 60*24*time.Hour)
	seedN(t, db, 4, time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	writer.Stop()

	events, err := store.New(db).ListAuditEvents(context.Background(), store.ListAuditEventsParams{Limit: 50})
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}

	var cleanup *model.AuditEvent
	rest := 0
	for i := range events {
		if events[i].Operation == model.OperationCleanup {
			cleanup = &events[i]
		} else {
			rest++
		}
	}
	if rest != 4 {
		t.Errorf("surviving seed events = %d, want 4", rest)
	}
	if cleanup == nil {
		t.Fatal("sweep did not record a CLEANUP event")
	}
	if !strings.Contains(cleanup.Metadata, audit.RecommendAgeBased) {
		t.Errorf("cleanup metadata = %s, want age-based strategy", cleanup.Metadata)
	}
	if !strings.Contains(cleanup.Metadata, `"removedCount":6`) {
		t.Errorf("cleanup metadata = %s, want removedCount 6", cleanup.Metadata)
	}
}

func TestRunOnceCountBased(t *testing.T) {
	db := testutil.NewDB(t)
	s, writer := newTestScheduler(t, db, Config{MaxLogs: 10})
	seedN(t, db, 25, time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	writer.Stop()

	events, err := store.New(db).ListAuditEvents(context.Background(), store.ListAuditEventsParams{Limit: 50})
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	seeds := 0
	sawCleanup := false
	for _, e := range events {
		switch e.Operation {
		case model.OperationCleanup:
			sawCleanup = true
		default:
			seeds++
		}
	}
	if seeds != 10 {
		t.Errorf("surviving seed events = %d, want 10", seeds)
	}
	if !sawCleanup {
		t.Error("sweep did not record a CLEANUP event")
	}
}

func TestStartStop(t *testing.T) {
	db := testutil.NewDB(t)
	s, writer := newTestScheduler(t, db, Config{Schedule: "0 * * * *"})
	defer writer.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	db := testutil.NewDB(t)
	s, writer := newTestScheduler(t, db, Config{Schedule: "not a cron"})
	defer writer.Stop()

	if err := s.Start(); err == nil {
		t.Error("Start accepted a malformed cron expression")
	}
}
