package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pipeline_build_info",
		Help: "Constant 1, labeled with version, commit and queue backend.",
	},
	[]string{"version", "commit", "queue"},
)

func SetBuildInfo(version, commit, queueBackend string) {
	buildInfo.WithLabelValues(version, commit, norm(queueBackend)).Set(1)
}
