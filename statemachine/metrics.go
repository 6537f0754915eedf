package statemachine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions. State and trigger labels are bounded by the loaded
// configuration.
var (
	// firesTotal counts Fire calls by trigger and outcome (success, noop, error).
	firesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_fires_total",
		Help: "Total number of fire calls by trigger and outcome",
	}, []string{"trigger", "outcome"})

	// transitionsTotal counts transitions taken, cascades included.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_transitions_total",
		Help: "Total number of state transitions by from_state, to_state, and trigger",
	}, []string{"from_state", "to_state", "trigger"})

	// guardEvaluations counts guard results (pass, fail, error).
	guardEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statemachine_guard_evaluations_total",
		Help: "Total number of guard evaluations by guard and result",
	}, []string{"guard", "result"})

	// fireDuration tracks end-to-end Fire time.
	fireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statemachine_fire_duration_seconds",
		Help:    "Duration of fire calls by outcome",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	// actionDuration tracks individual action execution time.
	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statemachine_action_duration_seconds",
		Help:    "Duration of action execution by action, state, phase, and outcome",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"action", "state", "phase", "outcome"})

	// cascadeHops tracks how many cascades a Fire call performed.
	cascadeHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "statemachine_cascade_hops",
		Help:    "Number of cascaded fires per fire call",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
	})
)

// reloadsTotal counts configuration reloads by outcome.
var reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "statemachine_reloads_total",
	Help: "Total number of configuration reloads by outcome",
}, []string{"outcome"})
