package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "denguebot",
		Subsystem: "conversation",
		Name:      "events_total",
		Help:      "Inbound events handled by kind and outcome",
	}, []string{"kind", "outcome"})

	eventDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "denguebot",
		Subsystem: "conversation",
		Name:      "event_duration_seconds",
		Help:      "Time to handle one inbound event, session lock included",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	watchedChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "denguebot",
		Subsystem: "conversation",
		Name:      "config_changes_total",
		Help:      "Configuration file changes noticed by the watcher",
	})
)
