// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cogate_dispatch_total",
		Help: "Core operations dispatched by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome=ok|unavailable|rejected|processing|unsupported|validation

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cogate_dispatch_duration_seconds",
		Help:    "Latency of core operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	lockDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cogate_lock_denied_total",
		Help: "Mutating operations refused by the control lock",
	}, []string{"reason"}) // reason=not_locked|locked_by_other

	lockHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cogate_lock_held",
		Help: "Whether the control lock is currently held (1) or free (0)",
	})

	ledgerEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cogate_ledger_entries",
		Help: "Pending-request ledger entries by state",
	}, []string{"state"}) // state=pending|failed

	ledgerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cogate_ledger_requests_total",
		Help: "Environment creation requests by outcome",
	}, []string{"outcome"}) // outcome=created|failed|acknowledged

	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cogate_bridge_streams_active",
		Help: "Core event streams currently bridged to observers",
	})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cogate_bridge_notifications_total",
		Help: "Stream notifications emitted by type and success",
	}, []string{"type", "success"})

	discoveryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cogate_discovery_errors_total",
		Help: "Host discovery lookups that failed",
	})
)

// ObserveDispatch records one dispatched core operation.
func ObserveDispatch(operation, outcome string, d time.Duration) {
	dispatchTotal.WithLabelValues(operation, outcome).Inc()
	dispatchDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncLockDenied records a refused mutating operation.
func IncLockDenied(reason string) {
	lockDenied.WithLabelValues(reason).Inc()
}

// SetLockHeld sets the lock gauge.
func SetLockHeld(held bool) {
	if held {
		lockHeld.Set(1)
		return
	}
	lockHeld.Set(0)
}

// SetLedgerEntries sets the ledger gauges.
func SetLedgerEntries(pending, failed int) {
	ledgerEntries.WithLabelValues("pending").Set(float64(pending))
	ledgerEntries.WithLabelValues("failed").Set(float64(failed))
}

// IncLedgerOutcome records the end of a ledger entry's pending phase or its removal.
func IncLedgerOutcome(outcome string) {
	ledgerOutcomes.WithLabelValues(outcome).Inc()
}

// StreamOpened and StreamClosed track bridged streams.
func StreamOpened() { streamsActive.Inc() }

func StreamClosed() { streamsActive.Dec() }

// IncNotification records one stream notification.
func IncNotification(kind string, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	notificationsTotal.WithLabelValues(kind, s).Inc()
}

// IncDiscoveryError records a failed host lookup.
func IncDiscoveryError() {
	discoveryErrors.Inc()
}
