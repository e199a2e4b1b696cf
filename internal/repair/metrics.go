package repair

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/labfleet/repair-engine/pkg/models"
)

var (
	// RunsTotal counts strategy runs by final host state
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_engine_runs_total",
			Help: "Total number of strategy runs by final host state",
		},
		[]string{"strategy", "state"},
	)

	// RunDuration tracks wall time of strategy runs
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repair_engine_run_duration_seconds",
			Help:    "Time taken to run a strategy against one host",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}, // 1s to 30min
		},
		[]string{"strategy", "state"},
	)

	// ActiveRuns tracks runs currently in progress
	ActiveRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repair_engine_active_runs",
			Help: "Number of strategy runs currently in progress",
		},
		[]string{"strategy"},
	)

	// VerifierChecksTotal counts verifier executions by outcome
	VerifierChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_engine_verifier_checks_total",
			Help: "Total number of verifier checks by outcome",
		},
		[]string{"strategy", "verifier", "outcome"},
	)

	// VerifierDuration tracks time taken by verifier checks
	VerifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repair_engine_verifier_duration_seconds",
			Help:    "Time taken by verifier checks",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"strategy", "verifier"},
	)

	// RepairAttemptsTotal counts repair action executions by result
	RepairAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_engine_repair_attempts_total",
			Help: "Total number of repair action executions by result",
		},
		[]string{"strategy", "action", "result"},
	)

	// RepairDuration tracks time taken by repair actions
	RepairDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repair_engine_repair_duration_seconds",
			Help:    "Time taken by repair actions",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200}, // 1s to 20min
		},
		[]string{"strategy", "action"},
	)
)

// RecordRun records a completed strategy run
func RecordRun(strategy string, state models.HostState, duration time.Duration) {
	RunsTotal.WithLabelValues(strategy, string(state)).Inc()
	RunDuration.WithLabelValues(strategy, string(state)).Observe(duration.Seconds())
}

// RecordVerifierCheck records a single verifier execution
func RecordVerifierCheck(strategy, verifier string, outcome models.OutcomeKind, duration time.Duration) {
	VerifierChecksTotal.WithLabelValues(strategy, verifier, string(outcome)).Inc()
	VerifierDuration.WithLabelValues(strategy, verifier).Observe(duration.Seconds())
}

// RecordRepairAttempt records a single repair action execution
func RecordRepairAttempt(strategy, action string, result models.OutcomeKind, duration time.Duration) {
	RepairAttemptsTotal.WithLabelValues(strategy, action, string(result)).Inc()
	RepairDuration.WithLabelValues(strategy, action).Observe(duration.Seconds())
}
