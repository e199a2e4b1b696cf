package fleet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepsTotal counts completed fleet sweeps
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_engine_sweeps_total",
			Help: "Total number of fleet sweeps",
		},
		[]string{"status"},
	)

	// SweepDuration tracks the duration of fleet sweeps
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repair_engine_sweep_duration_seconds",
			Help:    "Duration of fleet sweeps",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600}, // 10s to 1h
		},
	)

	// SweepHostsTotal counts per-host sweep results
	SweepHostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_engine_sweep_hosts_total",
			Help: "Total number of hosts processed by fleet sweeps by result",
		},
		[]string{"result"},
	)
)

// RecordSweep records a finished sweep
func RecordSweep(report *Report, cancelled bool) {
	status := "completed"
	if cancelled {
		status = "cancelled"
	}
	SweepsTotal.WithLabelValues(status).Inc()
	SweepDuration.Observe(report.Duration.Seconds())
	for _, r := range report.Results {
		SweepHostsTotal.WithLabelValues(string(r.Status)).Inc()
	}
}
