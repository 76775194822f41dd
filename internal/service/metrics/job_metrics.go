package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fiapml",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time of pipeline jobs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"job"},
	)

	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fiapml",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Pipeline job runs by outcome",
		},
		[]string{"job", "status"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(JobDuration, JobRuns)
	})
}
