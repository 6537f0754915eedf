package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opGet    = "get"
	opSet    = "set"
	opReset  = "reset"
	opDelete = "delete"
	opLock   = "lock"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "denguebot",
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Session store operations by operation and outcome",
	}, []string{"operation", "outcome"})

	lockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "denguebot",
		Subsystem: "session",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for a per-user lock",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

func observe(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	operationsTotal.WithLabelValues(op, outcome).Inc()
}
