package pipeline

import "github.com/prometheus/client_golang/prometheus"

var stageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "cairoprove_stage_duration_seconds",
		Help:    "Duration of external pipeline stages, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
	},
	[]string{"stage"},
)

func init() {
	prometheus.MustRegister(stageDuration)
}
