package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(cacheRequests)
}

var cacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Repository cache lookups by entity and result (hit|miss|error).",
	},
	[]string{"entity", "result"},
)

func IncCacheRequest(entity, result string) {
	cacheRequests.WithLabelValues(norm(entity), norm(result)).Inc()
}
