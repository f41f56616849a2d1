package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsProcessedTotal,
		jobDuration,
		jobsRecoveredTotal,
		stagePanicsTotal,
		stageDuration,
	)
}

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_processed_total",
			Help: "Total number of queue jobs processed, labeled by type and outcome.",
		},
		[]string{"type", "outcome"}, // 'completed', 'retried', 'dead'
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Wall time of one job attempt.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	jobsRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_stalled_recovered_total",
			Help: "Active jobs whose attempt was written off after their worker vanished.",
		},
	)

	stagePanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_stage_panics_total",
			Help: "Job attempts that ended in a recovered panic.",
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time spent producing media per kind and stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"kind", "stage"},
	)
)

func ObserveJob(jobType, outcome string, d time.Duration) {
	jobsProcessedTotal.WithLabelValues(norm(jobType), norm(outcome)).Inc()
	jobDuration.WithLabelValues(norm(jobType)).Observe(d.Seconds())
}

func IncStalledRecovered(n int) {
	jobsRecoveredTotal.Add(float64(n))
}

func IncWorkerPanic() {
	stagePanicsTotal.Inc()
}

func ObserveStage(kind, stage string, d time.Duration) {
	stageDuration.WithLabelValues(norm(kind), norm(stage)).Observe(d.Seconds())
}
