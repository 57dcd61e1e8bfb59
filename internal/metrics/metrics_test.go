// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	return m.GetCounter().GetValue()
}

func TestIncBusDropReasonDefaultsLabels(t *testing.T) {
	c := metrics.BusDroppedTotal.WithLabelValues("unknown", "unknown")
	before := counterValue(t, c)
	metrics.IncBusDropReason("", "")
	assert.Equal(t, before+1, counterValue(t, c))
}

func TestIncBusDropUsesFullReason(t *testing.T) {
	c := metrics.BusDroppedTotal.WithLabelValues("notifications", "full")
	before := counterValue(t, c)
	metrics.IncBusDrop("notifications")
	assert.Equal(t, before+1, counterValue(t, c))
}

func TestGatewayMetricsExposed(t *testing.T) {
	metrics.ObserveDispatch("GetEnvironments", "ok", 20*time.Millisecond)
	metrics.IncLockDenied("not_locked")
	metrics.SetLockHeld(true)
	metrics.SetLedgerEntries(2, 1)
	metrics.IncLedgerOutcome("failed")
	metrics.StreamOpened()
	metrics.StreamClosed()
	metrics.IncNotification("ENV", true)
	metrics.IncDiscoveryError()
	metrics.IncPublished("requests")

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, name := range []string{
		`cogate_dispatch_total{operation="GetEnvironments",outcome="ok"}`,
		`cogate_lock_denied_total{reason="not_locked"}`,
		"cogate_lock_held 1",
		`cogate_ledger_entries{state="failed"} 1`,
		`cogate_bridge_notifications_total{success="true",type="ENV"}`,
		"cogate_discovery_errors_total",
		`cogate_bus_published_total{command="requests"}`,
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
