package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "denguebot",
		Subsystem: "webhook",
		Name:      "callbacks_total",
		Help:      "Webhook calls by result (accepted, bad_signature, malformed, rejected)",
	}, []string{"result"})

	callbackEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "denguebot",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Events decoded from accepted webhook calls",
	})

	adminRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "denguebot",
		Subsystem: "webhook",
		Name:      "admin_requests_total",
		Help:      "Admin requests by endpoint and status code class",
	}, []string{"endpoint", "code"})

	queuedBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "denguebot",
		Subsystem: "webhook",
		Name:      "queued_batches",
		Help:      "Event batches waiting for or being processed by the async pool",
	})
)

const (
	resultAccepted     = "accepted"
	resultBadSignature = "bad_signature"
	resultMalformed    = "malformed"
	resultRejected     = "rejected"
)
