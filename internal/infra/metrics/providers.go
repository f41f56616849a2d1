package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(providerCallDuration) }

var providerCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "provider_call_duration_seconds",
		Help:    "Latency of calls to media providers.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"provider", "success"}, // speech, avatar, captions, transcription, ffmpeg
)

func ObserveProviderCall(provider string, d time.Duration, success bool) {
	providerCallDuration.WithLabelValues(norm(provider), strconv.FormatBool(success)).Observe(d.Seconds())
}
