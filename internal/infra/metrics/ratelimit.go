package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(rateLimitRequests) }

var rateLimitRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "api_rate_limit_requests_total",
		Help: "Tracks allowed and throttled API requests.",
	},
	[]string{"route", "result"}, // result="allowed"|"limited"
)

func IncRateLimit(route, result string) {
	rateLimitRequests.WithLabelValues(norm(route), norm(result)).Inc()
}
