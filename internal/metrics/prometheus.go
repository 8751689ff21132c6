package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Item metrics
	ItemsProcessed *prometheus.CounterVec
	ItemsFailed    *prometheus.CounterVec
	ItemDuration   *prometheus.HistogramVec

	// Batch metrics
	BatchesTotal   *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
	BatchesSkipped *prometheus.CounterVec

	// API metrics
	APIRequests *prometheus.CounterVec
	APIRetries  *prometheus.CounterVec

	// Resilience metrics
	BreakerState   *prometheus.GaugeVec
	RateLimitWaits *prometheus.CounterVec

	// Warning metrics
	TransformWarnings *prometheus.CounterVec

	// Phase metrics
	PhaseDuration *prometheus.HistogramVec
	PhaseActive   *prometheus.GaugeVec
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ItemsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_items_processed_total",
				Help: "Total number of items processed per phase and kind",
			},
			[]string{"phase", "kind"},
		),

		ItemsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_items_failed_total",
				Help: "Total number of items that failed per phase and kind",
			},
			[]string{"phase", "kind"},
		),

		ItemDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ztoq_item_duration_seconds",
				Help:    "Duration of per-item processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase", "kind"},
		),

		BatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_batches_total",
				Help: "Total number of batches finished per phase and status",
			},
			[]string{"phase", "status"},
		),

		BatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ztoq_batch_duration_seconds",
				Help:    "Duration of batch processing",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"phase", "kind"},
		),

		BatchesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_batches_skipped_total",
				Help: "Total number of already-completed batches skipped on resume",
			},
			[]string{"phase", "kind"},
		),

		APIRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_api_requests_total",
				Help: "Total number of API requests per destination and outcome",
			},
			[]string{"destination", "outcome"},
		),

		APIRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_api_retries_total",
				Help: "Total number of retried API calls per destination",
			},
			[]string{"destination"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ztoq_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"destination"},
		),

		RateLimitWaits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_rate_limit_waits_total",
				Help: "Total number of requests delayed by the rate limiter",
			},
			[]string{"destination"},
		),

		TransformWarnings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ztoq_transform_warnings_total",
				Help: "Total number of data-quality warnings per code",
			},
			[]string{"kind", "code"},
		),

		PhaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ztoq_phase_duration_seconds",
				Help:    "Duration of migration phases",
				Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"phase"},
		),

		PhaseActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ztoq_phase_active",
				Help: "Whether a phase is currently running (1) or not (0)",
			},
			[]string{"project", "phase"},
		),
	}
}

// RecordItem records one processed or failed item
func (m *Metrics) RecordItem(phase, kind string, failed bool, duration float64) {
	if failed {
		m.ItemsFailed.WithLabelValues(phase, kind).Inc()
	} else {
		m.ItemsProcessed.WithLabelValues(phase, kind).Inc()
	}
	m.ItemDuration.WithLabelValues(phase, kind).Observe(duration)
}

// RecordBatch records one finished batch
func (m *Metrics) RecordBatch(phase, kind, status string, duration float64) {
	m.BatchesTotal.WithLabelValues(phase, status).Inc()
	m.BatchDuration.WithLabelValues(phase, kind).Observe(duration)
}

// RecordBatchSkipped records a batch skipped on resume
func (m *Metrics) RecordBatchSkipped(phase, kind string) {
	m.BatchesSkipped.WithLabelValues(phase, kind).Inc()
}

// RecordAPIRequest records one completed API call
func (m *Metrics) RecordAPIRequest(destination string, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.APIRequests.WithLabelValues(destination, outcome).Inc()
}

// RecordRetry records one retried API call
func (m *Metrics) RecordRetry(destination string) {
	m.APIRetries.WithLabelValues(destination).Inc()
}

// RecordRateLimitWait records a request delayed by the rate limiter
func (m *Metrics) RecordRateLimitWait(destination string) {
	m.RateLimitWaits.WithLabelValues(destination).Inc()
}

// RecordWarning records a transform data-quality warning
func (m *Metrics) RecordWarning(kind, code string) {
	m.TransformWarnings.WithLabelValues(kind, code).Inc()
}

// SetBreakerState updates the breaker state gauge
func (m *Metrics) SetBreakerState(destination string, state int) {
	m.BreakerState.WithLabelValues(destination).Set(float64(state))
}

// SetPhaseActive flips the active gauge for one (project, phase) pair
func (m *Metrics) SetPhaseActive(project, phase string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	m.PhaseActive.WithLabelValues(project, phase).Set(value)
}

// RecordPhase records the duration of one completed phase
func (m *Metrics) RecordPhase(phase string, duration float64) {
	m.PhaseDuration.WithLabelValues(phase).Observe(duration)
}
