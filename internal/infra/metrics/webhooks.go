package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookRequests,
		outputsReclaimedTotal,
		sweepsTotal,
	)
}

var (
	// result: completed|failed|ignored|bad_signature|bad_json
	webhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Provider webhook deliveries by provider and result.",
		},
		[]string{"provider", "result"},
	)

	outputsReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outputs_reclaimed_total",
			Help: "Outputs failed by the timeout sweep, labeled by kind.",
		},
		[]string{"kind"},
	)

	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeout_sweeps_total",
			Help: "Timeout sweeps by result.",
		},
		[]string{"result"}, // ok|error|skipped
	)
)

func IncWebhook(provider, result string) {
	webhookRequests.WithLabelValues(norm(provider), norm(result)).Inc()
}

func IncReclaimed(kind string) {
	outputsReclaimedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncSweep(result string) {
	sweepsTotal.WithLabelValues(norm(result)).Inc()
}
