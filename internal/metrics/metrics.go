package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a read-only snapshot of execution counters for observers.
type Stats struct {
	TotalExecutions      int64
	SuccessfulExecutions int64
	FailedExecutions     int64
	AverageDuration      time.Duration
}

// Recorder collects execution metrics. All methods are safe for use from
// concurrently running step workers.
type Recorder struct {
	registry     *prometheus.Registry
	plansTotal   *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	stepDuration prometheus.Histogram

	mu            sync.Mutex
	total         int64
	successful    int64
	failed        int64
	totalDuration time.Duration
}

// NewRecorder creates a recorder with its own Prometheus registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		plansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "maestro",
				Name:      "plan_executions_total",
				Help:      "Total number of plan executions by outcome",
			},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "maestro",
				Name:      "steps_total",
				Help:      "Total number of executed steps by terminal status",
			},
			[]string{"status"},
		),
		stepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "maestro",
				Name:      "step_duration_seconds",
				Help:      "Duration of individual step executions",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(r.plansTotal, r.stepsTotal, r.stepDuration)
	return r
}

// RecordExecution records one finished plan execution.
func (r *Recorder) RecordExecution(success bool, duration time.Duration) {
	if r == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	r.plansTotal.WithLabelValues(status).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if success {
		r.successful++
	} else {
		r.failed++
	}
	r.totalDuration += duration
}

// RecordStep records one terminal step outcome.
func (r *Recorder) RecordStep(status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.stepsTotal.WithLabelValues(status).Inc()
	r.stepDuration.Observe(duration.Seconds())
}

// Snapshot returns current counters. Observers never see intermediate
// state because the snapshot is taken under the same lock as updates.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalExecutions:      r.total,
		SuccessfulExecutions: r.successful,
		FailedExecutions:     r.failed,
	}
	if r.total > 0 {
		stats.AverageDuration = r.totalDuration / time.Duration(r.total)
	}
	return stats
}

// Gatherer exposes the underlying registry for scrape endpoints.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}
