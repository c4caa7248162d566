// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the application configuration from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/olegiv/ctms-go/internal/model"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string `env:"CTMS_DB_PATH" envDefault:"./data/ctms.db"`
	ServerHost string `env:"CTMS_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"CTMS_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"CTMS_ENV" envDefault:"development"`
	LogLevel   string `env:"CTMS_LOG_LEVEL" envDefault:"info"`

	// Audit writer configuration
	AuditQueueSize     int    `env:"CTMS_AUDIT_QUEUE_SIZE" envDefault:"1024"`   // Bounded fire-and-forget queue
	AuditWorkers       int    `env:"CTMS_AUDIT_WORKERS" envDefault:"3"`         // Persisting goroutines
	AuditWriteTimeout  int    `env:"CTMS_AUDIT_WRITE_TIMEOUT" envDefault:"5"`   // Per-append timeout in seconds
	AuditMaxStackTrace int    `env:"CTMS_AUDIT_MAX_STACK" envDefault:"4096"`    // Stored stack trace cap in bytes
	AuditErrorLevel    string `env:"CTMS_AUDIT_ERROR_LEVEL" envDefault:"ERROR"` // Default severity for error events

	// Query configuration
	MaxPageSize int `env:"CTMS_MAX_PAGE_SIZE" envDefault:"100"`

	// Retention configuration
	RetentionDays           int   `env:"CTMS_RETENTION_DAYS" envDefault:"90"`             // Default age-based cleanup window
	RetentionMaxLogs        int   `env:"CTMS_RETENTION_MAX_LOGS" envDefault:"50000"`      // Keep count for count-based cleanup
	ThresholdCountCleanup   int64 `env:"CTMS_THRESHOLD_COUNT_CLEANUP" envDefault:"50000"` // Recommend count-based above this total
	ThresholdAgeCleanup     int64 `env:"CTMS_THRESHOLD_AGE_CLEANUP" envDefault:"10000"`   // Recommend age-based above this total
	RetentionScheduleEnable bool  `env:"CTMS_RETENTION_SCHEDULE" envDefault:"true"`       // Run the cron-driven sweep

	// Stats cache configuration
	RedisURL      string `env:"CTMS_REDIS_URL"`                          // Optional Redis URL for the stats cache
	CachePrefix   string `env:"CTMS_CACHE_PREFIX" envDefault:"ctms:"`    // Redis key prefix
	StatsCacheTTL int    `env:"CTMS_STATS_CACHE_TTL" envDefault:"60"`    // Stats cache TTL in seconds
	GeoIPDBPath   string `env:"CTMS_GEOIP_DB_PATH"`                      // Path to GeoLite2-Country.mmdb file
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// GeoIPEnabled returns true if a GeoIP database is configured.
func (c Config) GeoIPEnabled() bool {
	return c.GeoIPDBPath != ""
}

// AuditWriteTimeoutDuration returns the per-append timeout.
func (c Config) AuditWriteTimeoutDuration() time.Duration {
	return time.Duration(c.AuditWriteTimeout) * time.Second
}

// StatsCacheTTLDuration returns the stats cache TTL.
func (c Config) StatsCacheTTLDuration() time.Duration {
	return time.Duration(c.StatsCacheTTL) * time.Second
}

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if !model.EventLevel(cfg.AuditErrorLevel).Valid() {
		return nil, fmt.Errorf("CTMS_AUDIT_ERROR_LEVEL must be one of INFO, WARN, ERROR, CRITICAL; got %q", cfg.AuditErrorLevel)
	}
	if cfg.RetentionDays < 1 {
		return nil, fmt.Errorf("CTMS_RETENTION_DAYS must be >= 1, got %d", cfg.RetentionDays)
	}
	if cfg.RetentionMaxLogs < 1 {
		return nil, fmt.Errorf("CTMS_RETENTION_MAX_LOGS must be >= 1, got %d", cfg.RetentionMaxLogs)
	}
	if cfg.MaxPageSize < 1 {
		return nil, fmt.Errorf("CTMS_MAX_PAGE_SIZE must be >= 1, got %d", cfg.MaxPageSize)
	}

	return cfg, nil
}
