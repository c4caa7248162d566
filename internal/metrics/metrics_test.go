// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAuditMetrics(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.EventWritten("AUTH")
	m.EventWritten("AUTH")
	m.EventWritten("ERROR")
	m.EventDropped(DropReasonQueueFull)
	m.SetQueueDepth(7)
	m.ObserveWriteDuration(3 * time.Millisecond)
	m.CleanupRemoved("by-days", 12)

	require.Equal(t, float64(2), promtest.ToFloat64(m.eventsWritten.WithLabelValues("AUTH")))
	require.Equal(t, float64(1), promtest.ToFloat64(m.eventsWritten.WithLabelValues("ERROR")))
	require.Equal(t, float64(1), promtest.ToFloat64(m.eventsDropped.WithLabelValues(DropReasonQueueFull)))
	require.Equal(t, float64(7), promtest.ToFloat64(m.queueDepth))
	require.Equal(t, float64(12), promtest.ToFloat64(m.cleanupRemoved.WithLabelValues("by-days")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.EventWritten("SYSTEM")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "ctms_audit_events_written_total")
}
