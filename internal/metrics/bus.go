// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cogate_bus_dropped_total",
		Help: "Total number of notification drops by topic and reason",
	}, []string{"topic", "reason"})

	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cogate_bus_published_total",
		Help: "Total number of notifications published by command",
	}, []string{"command"})

	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cogate_observers_connected",
		Help: "Number of websocket observers currently connected",
	})
)

// IncBusDrop records a dropped bus message for the given topic.
func IncBusDrop(topic string) {
	IncBusDropReason(topic, "full")
}

// IncBusDropReason records a dropped bus message with a concrete reason.
func IncBusDropReason(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}

// IncPublished records one broadcast notification.
func IncPublished(command string) {
	if command == "" {
		command = "unknown"
	}
	BusPublishedTotal.WithLabelValues(command).Inc()
}
