// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DBPath != "./data/ctms.db" {
		t.Errorf("DBPath = %q, want ./data/ctms.db", cfg.DBPath)
	}
	if cfg.ServerAddr() != "localhost:8080" {
		t.Errorf("ServerAddr = %q, want localhost:8080", cfg.ServerAddr())
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment = false, want true by default")
	}
	if cfg.AuditQueueSize != 1024 {
		t.Errorf("AuditQueueSize = %d, want 1024", cfg.AuditQueueSize)
	}
	if cfg.AuditWorkers != 3 {
		t.Errorf("AuditWorkers = %d, want 3", cfg.AuditWorkers)
	}
	if cfg.AuditWriteTimeoutDuration() != 5*time.Second {
		t.Errorf("AuditWriteTimeoutDuration = %v, want 5s", cfg.AuditWriteTimeoutDuration())
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
	if cfg.ThresholdCountCleanup != 50000 {
		t.Errorf("ThresholdCountCleanup = %d, want 50000", cfg.ThresholdCountCleanup)
	}
	if cfg.ThresholdAgeCleanup != 10000 {
		t.Errorf("ThresholdAgeCleanup = %d, want 10000", cfg.ThresholdAgeCleanup)
	}
	if cfg.UseRedisCache() {
		t.Error("UseRedisCache = true, want false without CTMS_REDIS_URL")
	}
	if cfg.GeoIPEnabled() {
		t.Error("GeoIPEnabled = true, want false without CTMS_GEOIP_DB_PATH")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CTMS_SERVER_HOST", "0.0.0.0")
	t.Setenv("CTMS_SERVER_PORT", "9090")
	t.Setenv("CTMS_ENV", "production")
	t.Setenv("CTMS_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CTMS_STATS_CACHE_TTL", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerAddr() != "0.0.0.0:9090" {
		t.Errorf("ServerAddr = %q, want 0.0.0.0:9090", cfg.ServerAddr())
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment = true, want false for production")
	}
	if !cfg.UseRedisCache() {
		t.Error("UseRedisCache = false, want true")
	}
	if cfg.StatsCacheTTLDuration() != 2*time.Minute {
		t.Errorf("StatsCacheTTLDuration = %v, want 2m", cfg.StatsCacheTTLDuration())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"invalid error level", "CTMS_AUDIT_ERROR_LEVEL", "FATAL"},
		{"zero retention days", "CTMS_RETENTION_DAYS", "0"},
		{"zero max logs", "CTMS_RETENTION_MAX_LOGS", "0"},
		{"zero page size", "CTMS_MAX_PAGE_SIZE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s, want error", tt.key, tt.value)
			}
		})
	}
}
