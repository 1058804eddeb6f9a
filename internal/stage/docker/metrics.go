package docker

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for container results.
const (
	resultSucceeded = "succeeded"
	resultFailed    = "failed"
	resultKilled    = "killed"
	resultError     = "error"
)

var (
	activeContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cairoprove_docker_active_containers",
			Help: "Number of stage containers currently running.",
		},
	)

	containersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cairoprove_docker_containers_total",
			Help: "Total number of stage containers run, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(activeContainers)
	prometheus.MustRegister(containersTotal)

	// Pre-initialize label combinations so they appear in /metrics
	// before the first container runs.
	for _, r := range []string{resultSucceeded, resultFailed, resultKilled, resultError} {
		containersTotal.WithLabelValues(r)
	}
}
