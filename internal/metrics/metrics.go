package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream request metrics
	lookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dailyword_lookup_duration_seconds",
			Help:    "Dictionary lookup duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~50s
		},
		[]string{"status"},
	)

	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dailyword_generation_duration_seconds",
			Help:    "Per-word generation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"status"},
	)

	// Pipeline metrics
	wordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyword_words_total",
			Help: "Total words processed by stage and outcome",
		},
		[]string{"stage", "status"}, // stage: "enrich"/"generate", status: "success"/"error"/"skipped"
	)

	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyword_batches_total",
			Help: "Total batches by final status",
		},
		[]string{"status"}, // "success"/"skipped"/"failed"
	)

	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dailyword_scheduler_runs_total",
			Help: "Scheduled runs by outcome",
		},
		[]string{"status"}, // "success"/"failed"/"skipped"
	)

	circuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dailyword_circuit_breaker_trips_total",
			Help: "Times the consecutive-failure breaker aborted a generation pass",
		},
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordLookup records one dictionary lookup
func (c *Collector) RecordLookup(duration time.Duration, success bool) {
	lookupDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

// RecordGeneration records one per-word generation attempt
func (c *Collector) RecordGeneration(duration time.Duration, success bool) {
	generationDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

// IncrementWord counts one word outcome for a stage
func (c *Collector) IncrementWord(stage, status string) {
	wordsTotal.WithLabelValues(stage, status).Inc()
}

// IncrementBatch counts one finished batch
func (c *Collector) IncrementBatch(status string) {
	batchesTotal.WithLabelValues(status).Inc()
}

// IncrementSchedulerRun counts one scheduled run outcome
func (c *Collector) IncrementSchedulerRun(status string) {
	schedulerRunsTotal.WithLabelValues(status).Inc()
}

// IncrementCircuitBreakerTrip counts one breaker abort
func (c *Collector) IncrementCircuitBreakerTrip() {
	circuitBreakerTrips.Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
