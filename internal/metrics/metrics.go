package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed by final status.",
		},
		[]string{"status"},
	)

	rulesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "validation_rules_total",
			Help:      "Validation rules evaluated by result status.",
		},
		[]string{"status"},
	)

	quarantines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "quarantines_total",
			Help:      "Quarantined validation runs by suite.",
		},
		[]string{"suite"},
	)

	tasksFiled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "tasks_filed_total",
			Help:      "Operator tasks filed, by kind (created, updated, summary).",
		},
		[]string{"kind"},
	)

	blockedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "erpsync",
			Name:      "blocked_jobs",
			Help:      "Jobs currently blocked on a dependency.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erpsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(jobsProcessed, rulesEvaluated, quarantines, tasksFiled, blockedJobs, httpRequests)
	})
}

func IncJobProcessed(status string) {
	jobsProcessed.WithLabelValues(status).Inc()
}

func IncRuleEvaluated(status string) {
	rulesEvaluated.WithLabelValues(status).Inc()
}

func IncQuarantine(suite string) {
	quarantines.WithLabelValues(suite).Inc()
}

func IncTaskFiled(kind string) {
	tasksFiled.WithLabelValues(kind).Inc()
}

func SetBlockedJobs(n int) {
	blockedJobs.Set(float64(n))
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
