package coordination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/labfleet/repair-engine/pkg/models"
)

var (
	// JobsTotal counts finished repair jobs
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_engine_jobs_total",
			Help: "Total number of repair jobs by final status and host state",
		},
		[]string{"strategy", "status", "host_state"},
	)

	// JobDuration tracks how long repair jobs take end to end
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repair_engine_job_duration_seconds",
			Help:    "Duration of repair jobs including host setup and persistence",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800}, // 1s to 30min
		},
		[]string{"strategy", "status"},
	)

	// JobsActiveGauge tracks currently running jobs
	JobsActiveGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repair_engine_jobs_active",
			Help: "Number of currently running repair jobs",
		},
	)

	// RunsRejectedTotal counts runs refused because the host was busy
	RunsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_engine_runs_rejected_total",
			Help: "Total number of runs rejected",
		},
		[]string{"reason"},
	)

	// DiagnosisPersistFailuresTotal counts diagnoses that could not be stored
	DiagnosisPersistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repair_engine_diagnosis_persist_failures_total",
			Help: "Total number of diagnoses that failed to persist",
		},
	)
)

// RecordJobStart records the start of a job
func RecordJobStart() {
	JobsActiveGauge.Inc()
}

// RecordJobEnd records the end of a job
func RecordJobEnd(strategy string, status models.JobStatus, state models.HostState, duration float64) {
	JobsActiveGauge.Dec()
	if state == "" {
		state = models.HostStateUnknown
	}
	JobsTotal.WithLabelValues(strategy, string(status), string(state)).Inc()
	JobDuration.WithLabelValues(strategy, string(status)).Observe(duration)
}

// RecordRunRejected records a refused run
func RecordRunRejected(reason string) {
	RunsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordPersistFailure records a diagnosis that was not stored
func RecordPersistFailure() {
	DiagnosisPersistFailuresTotal.Inc()
}
