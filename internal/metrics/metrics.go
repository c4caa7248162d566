// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for the audit engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons recorded on the dropped-events counter.
const (
	DropReasonQueueFull  = "queue_full"
	DropReasonStorage    = "storage_error"
	DropReasonValidation = "validation"
	DropReasonShutdown   = "shutdown"
)

// AuditMetrics tracks the audit writer and retention manager.
//
// Metrics:
//   - ctms_audit_events_written_total: persisted events by type
//   - ctms_audit_events_dropped_total: dropped events by reason
//   - ctms_audit_queue_depth: current writer queue depth
//   - ctms_audit_write_duration_seconds: store append latency
//   - ctms_audit_cleanup_removed_total: retention-swept rows by policy
type AuditMetrics struct {
	registry *prometheus.Registry

	eventsWritten  *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	writeDuration  prometheus.Histogram
	cleanupRemoved *prometheus.CounterVec
}

// New creates and registers the audit metrics on a fresh registry that also
// carries the standard Go and process collectors.
func New() *AuditMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(registry)
}

// NewWithRegistry creates and registers the audit metrics on registry.
func NewWithRegistry(registry *prometheus.Registry) *AuditMetrics {
	m := &AuditMetrics{
		registry: registry,

		eventsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ctms",
				Subsystem: "audit",
				Name:      "events_written_total",
				Help:      "Total number of audit events persisted",
			},
			[]string{"type"},
		),

		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ctms",
				Subsystem: "audit",
				Name:      "events_dropped_total",
				Help:      "Total number of audit events dropped instead of persisted",
			},
			[]string{"reason"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ctms",
				Subsystem: "audit",
				Name:      "queue_depth",
				Help:      "Current number of audit events waiting in the writer queue",
			},
		),

		writeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ctms",
				Subsystem: "audit",
				Name:      "write_duration_seconds",
				Help:      "Duration of audit event store appends in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		cleanupRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ctms",
				Subsystem: "audit",
				Name:      "cleanup_removed_total",
				Help:      "Total number of audit events removed by retention sweeps",
			},
			[]string{"policy"},
		),
	}

	registry.MustRegister(
		m.eventsWritten,
		m.eventsDropped,
		m.queueDepth,
		m.writeDuration,
		m.cleanupRemoved,
	)

	return m
}

// EventWritten records one persisted event.
func (m *AuditMetrics) EventWritten(eventType string) {
	m.eventsWritten.WithLabelValues(eventType).Inc()
}

// EventDropped records one dropped event.
func (m *AuditMetrics) EventDropped(reason string) {
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the current writer queue depth.
func (m *AuditMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ObserveWriteDuration records one store append latency sample.
func (m *AuditMetrics) ObserveWriteDuration(d time.Duration) {
	m.writeDuration.Observe(d.Seconds())
}

// CleanupRemoved records rows removed by a retention sweep.
func (m *AuditMetrics) CleanupRemoved(policy string, removed int64) {
	m.cleanupRemoved.WithLabelValues(policy).Add(float64(removed))
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// text format.
func (m *AuditMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
