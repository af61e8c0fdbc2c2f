// Package metrics exposes Prometheus counters for the alert engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEvaluated counts events processed by the orchestrator.
	EventsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenwatch",
		Subsystem: "alerting",
		Name:      "events_evaluated_total",
		Help:      "Number of usage events evaluated against alert configs.",
	})

	// AlertsFired counts fire decisions that passed throttling.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenwatch",
		Subsystem: "alerting",
		Name:      "alerts_fired_total",
		Help:      "Number of alert firings dispatched to channels.",
	}, []string{"alert_type", "severity"})

	// AlertsSuppressed counts firings suppressed by throttling, dedup,
	// or absent channel configuration.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenwatch",
		Subsystem: "alerting",
		Name:      "alerts_suppressed_total",
		Help:      "Number of alert firings suppressed before dispatch.",
	}, []string{"reason"})

	// Deliveries counts terminal channel delivery outcomes.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenwatch",
		Subsystem: "alerting",
		Name:      "deliveries_total",
		Help:      "Number of terminal channel delivery outcomes.",
	}, []string{"channel", "status"})
)
