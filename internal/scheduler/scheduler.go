// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs the periodic retention sweep over the audit log.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/model"
)

// sweepTimeout bounds one scheduled retention pass.
const sweepTimeout = 5 * time.Minute

// Config holds the scheduler tunables.
type Config struct {
	// Schedule is the cron expression for the retention sweep.
	Schedule string
	// RetentionDays is the window for an age-based sweep.
	RetentionDays int
	// MaxLogs is the keep count for a count-based sweep.
	MaxLogs int
}

// Scheduler handles the scheduled audit log retention sweep. Each run reads
// the current stats, asks the retention manager which policy applies, and
// runs that policy; when the log is small enough it does nothing.
type Scheduler struct {
	retention *audit.RetentionService
	writer    *audit.Writer
	cron      *cron.Cron
	logger    *slog.Logger
	cfg       Config
}

// New creates a new scheduler instance.
func New(retention *audit.RetentionService, writer *audit.Writer, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 * * * *" // hourly
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 90
	}
	if cfg.MaxLogs < 1 {
		cfg.MaxLogs = 50000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		retention: retention,
		writer:    writer,
		cron:      cron.New(),
		logger:    logger,
		cfg:       cfg,
	}
}

// Start begins the scheduler with the retention sweep job.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if err := s.sweep(); err != nil {
			s.logger.Error("scheduled retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running sweep.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// sweep runs one retention pass.
func (s *Scheduler) sweep() error {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	return s.RunOnce(ctx)
}

// RunOnce performs a single recommendation-driven retention pass. Exposed
// for manual invocation and tests; Start schedules it on the configured
// cron expression.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	stats, err := s.retention.Stats(ctx)
	if err != nil {
		return err
	}

	recommendation := s.retention.Recommend(stats)
	var removed int64
	switch recommendation {
	case audit.RecommendCountBased:
		removed, err = s.retention.CleanupKeepingMostRecent(ctx, s.cfg.MaxLogs)
	case audit.RecommendAgeBased:
		removed, err = s.retention.CleanupOlderThan(ctx, s.cfg.RetentionDays)
	default:
		s.logger.Debug("retention sweep skipped", "total_logs", stats.TotalLogs)
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("scheduled retention sweep complete",
		"recommendation", recommendation, "removed", removed)
	s.recordSweep(recommendation, removed)
	return nil
}

// recordSweep documents the automatic sweep on the audit log itself.
func (s *Scheduler) recordSweep(recommendation string, removed int64) {
	if s.writer == nil {
		return
	}
	s.writer.Record(audit.Entry{
		Type:      model.EventTypeSystem,
		Level:     model.EventLevelInfo,
		Operation: model.OperationCleanup,
		Metadata: map[string]any{
			"trigger":      "scheduled",
			"strategy":     recommendation,
			"removedCount": removed,
		},
	})
}
