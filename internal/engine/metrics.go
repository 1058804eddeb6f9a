package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/cairoprove/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cairoprove_jobs_total",
			Help: "Total number of job status transitions, by kind and status.",
		},
		[]string{"kind", "status"},
	)

	pipelinesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cairoprove_pipelines_active",
			Help: "Number of pipelines currently executing.",
		},
	)

	jobsWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cairoprove_jobs_waiting",
			Help: "Number of queued jobs waiting for a pipeline slot.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(pipelinesActive)
	prometheus.MustRegister(jobsWaiting)

	for _, k := range []model.Kind{model.KindCairo, model.KindCairo0} {
		for _, s := range []model.Status{model.StatusQueued, model.StatusRunning, model.StatusCompleted, model.StatusFailed} {
			jobsTotal.WithLabelValues(string(k), string(s))
		}
	}
}
