// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/olegiv/ctms-go/internal/cache"
	"github.com/olegiv/ctms-go/internal/metrics"
	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/store"
)

// Retention policy names, used on metrics and in cleanup responses.
const (
	PolicyByDays  = "by-days"
	PolicyByCount = "by-count"
)

// Recommendation values returned by Recommend.
const (
	RecommendCountBased = "count-based"
	RecommendAgeBased   = "age-based"
	RecommendNone       = "none"
)

// Thresholds drive the cleanup recommendation. They are configuration, not
// magic numbers spread through callers.
type Thresholds struct {
	// CountCleanup is the total above which a count-based cleanup is
	// recommended.
	CountCleanup int64
	// AgeCleanup is the total above which an age-based cleanup is
	// recommended.
	AgeCleanup int64
}

// DefaultThresholds returns the default recommendation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CountCleanup: 50000,
		AgeCleanup:   10000,
	}
}

// Stats summarizes the audit log for the admin surface.
type Stats struct {
	TotalLogs       int64                      `json:"totalLogs"`
	CountsByLevel   map[model.EventLevel]int64 `json:"countsByLevel"`
	CountsByType    map[model.EventType]int64  `json:"countsByType"`
	OldestTimestamp *time.Time                 `json:"oldestTimestamp,omitempty"`
	NewestTimestamp *time.Time                 `json:"newestTimestamp,omitempty"`
}

// Recommend suggests a cleanup strategy from the current stats. Pure
// function of the total.
func Recommend(stats Stats, th Thresholds) string {
	switch {
	case stats.TotalLogs > th.CountCleanup:
		return RecommendCountBased
	case stats.TotalLogs > th.AgeCleanup:
		return RecommendAgeBased
	default:
		return RecommendNone
	}
}

// RetentionConfig holds the retention manager options.
type RetentionConfig struct {
	Thresholds Thresholds
	// StatsCache, when set, memoizes the aggregate scan behind Stats.
	StatsCache    cache.Cache
	StatsCacheTTL time.Duration
}

// statsCacheKey is the cache key for the memoized stats payload.
const statsCacheKey = "audit:stats"

// RetentionService applies the two cleanup policies and produces the
// stats/recommendation the admin surface exposes. Both sweeps fix their
// cutoff before deleting, so a record committed after the cutoff is never
// removed by a concurrently running sweep, and each sweep is a single
// atomic bulk delete.
type RetentionService struct {
	queries    *store.Queries
	logger     *slog.Logger
	metrics    *metrics.AuditMetrics
	thresholds Thresholds
	cache      cache.Cache
	cacheTTL   time.Duration
}

// NewRetentionService creates a retention manager over db.
func NewRetentionService(db *sql.DB, logger *slog.Logger, m *metrics.AuditMetrics, cfg RetentionConfig) *RetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Thresholds.CountCleanup <= 0 || cfg.Thresholds.AgeCleanup <= 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = time.Minute
	}
	return &RetentionService{
		queries:    store.New(db),
		logger:     logger,
		metrics:    m,
		thresholds: cfg.Thresholds,
		cache:      cfg.StatsCache,
		cacheTTL:   cfg.StatsCacheTTL,
	}
}

// Thresholds returns the configured recommendation thresholds.
func (s *RetentionService) Thresholds() Thresholds {
	return s.thresholds
}

// CleanupOlderThan deletes every record older than now minus days and
// returns how many were removed. Running it twice without new writes
// removes nothing the second time.
func (s *RetentionService) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, &ValidationError{Field: "days", Reason: "must be >= 1"}
	}

	// Cutoff is computed once, before the delete executes.
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	removed, err := s.queries.DeleteAuditEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, &StorageError{Op: "cleanup by age", Err: err}
	}

	s.finishSweep(ctx, PolicyByDays, removed)
	s.logger.Info("age-based audit cleanup complete", "days", days, "removed", removed)
	return removed, nil
}

// CleanupKeepingMostRecent keeps the maxCount most recent records and
// deletes the remainder. When the log holds maxCount or fewer records,
// nothing is removed.
func (s *RetentionService) CleanupKeepingMostRecent(ctx context.Context, maxCount int) (int64, error) {
	if maxCount < 1 {
		return 0, &ValidationError{Field: "maxLogs", Reason: "must be >= 1"}
	}

	// Records committed after this point are out of the sweep's scope.
	asOf := time.Now().UTC()

	removed, err := s.queries.DeleteAuditEventsKeepingRecent(ctx, int64(maxCount), asOf)
	if err != nil {
		return 0, &StorageError{Op: "cleanup by count", Err: err}
	}

	s.finishSweep(ctx, PolicyByCount, removed)
	s.logger.Info("count-based audit cleanup complete", "max_logs", maxCount, "removed", removed)
	return removed, nil
}

// Stats returns the aggregate summary of the audit log, memoized through
// the configured cache when one is present.
func (s *RetentionService) Stats(ctx context.Context) (Stats, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, statsCacheKey); err == nil {
			var cached Stats
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	stats, err := s.scanStats(ctx)
	if err != nil {
		return Stats{}, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, data, s.cacheTTL); err != nil {
				s.logger.Warn("failed to cache audit stats", "error", err)
			}
		}
	}
	return stats, nil
}

// Recommend computes the cleanup recommendation for the current stats.
func (s *RetentionService) Recommend(stats Stats) string {
	return Recommend(stats, s.thresholds)
}

func (s *RetentionService) scanStats(ctx context.Context) (Stats, error) {
	totals, err := s.queries.AuditEventTotals(ctx)
	if err != nil {
		return Stats{}, wrapQueryErr(ctx, "stats totals", err)
	}

	byLevel, err := s.queries.CountAuditEventsByLevel(ctx)
	if err != nil {
		return Stats{}, wrapQueryErr(ctx, "stats by level", err)
	}
	byType, err := s.queries.CountAuditEventsByType(ctx)
	if err != nil {
		return Stats{}, wrapQueryErr(ctx, "stats by type", err)
	}

	// Report every known level and type, including zero counts, so the
	// response shape is stable.
	for _, level := range model.EventLevels() {
		if _, ok := byLevel[level]; !ok {
			byLevel[level] = 0
		}
	}
	for _, typ := range model.EventTypes() {
		if _, ok := byType[typ]; !ok {
			byType[typ] = 0
		}
	}

	stats := Stats{
		TotalLogs:     totals.Total,
		CountsByLevel: byLevel,
		CountsByType:  byType,
	}
	if totals.Oldest.Valid {
		oldest := totals.Oldest.Time
		stats.OldestTimestamp = &oldest
	}
	if totals.Newest.Valid {
		newest := totals.Newest.Time
		stats.NewestTimestamp = &newest
	}
	return stats, nil
}

// finishSweep updates metrics and invalidates the memoized stats.
func (s *RetentionService) finishSweep(ctx context.Context, policy string, removed int64) {
	if s.metrics != nil {
		s.metrics.CleanupRemoved(policy, removed)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
			s.logger.Warn("failed to invalidate stats cache", "error", err)
		}
	}
}
