package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, queueDepth) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_jobs",
			Help: "Jobs currently held by the queue, by state.",
		},
		[]string{"state"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func SetQueueDepth(counts map[string]int) {
	for state, n := range counts {
		queueDepth.WithLabelValues(norm(state)).Set(float64(n))
	}
}
