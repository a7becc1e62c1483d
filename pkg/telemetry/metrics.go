package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Remold.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	evaluationsStarted   *prometheus.CounterVec
	evaluationsCompleted *prometheus.CounterVec
	evaluationDuration   *prometheus.HistogramVec

	// Step metrics (one recursive dispatch = one step)
	stepsDispatched *prometheus.CounterVec

	// Document metrics
	documentsLoaded  *prometheus.CounterVec
	documentDuration *prometheus.HistogramVec

	// Fallback metrics
	fallbackSkips      *prometheus.CounterVec
	fallbacksExhausted prometheus.Counter

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// Watch metrics
	watchReloads *prometheus.CounterVec

	// System metrics
	activeEvaluations prometheus.Gauge
	watchedFiles      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Evaluation metrics
		evaluationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_started_total",
				Help:      "Total number of evaluations started",
			},
			[]string{"source"},
		),
		evaluationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_completed_total",
				Help:      "Total number of evaluations completed",
			},
			[]string{"status"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of evaluations in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Step metrics
		stepsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_dispatched_total",
				Help:      "Total number of spec dispatch steps by spec kind",
			},
			[]string{"spec_kind"},
		),

		// Document metrics
		documentsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_loaded_total",
				Help:      "Total number of spec documents loaded",
			},
			[]string{"format", "status"},
		),
		documentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "document_load_duration_seconds",
				Help:      "Duration of spec document loads in seconds",
				Buckets:   buckets,
			},
			[]string{"format"},
		),

		// Fallback metrics
		fallbackSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_skips_total",
				Help:      "Total number of skipped fallback alternatives",
			},
			[]string{"cause"},
		),
		fallbacksExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_exhausted_total",
				Help:      "Total number of fallback chains exhausted without a result",
			},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of evaluation errors by kind",
			},
			[]string{"kind"},
		),

		// Watch metrics
		watchReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of watch-triggered re-evaluations",
			},
			[]string{"status"},
		),

		// System metrics
		activeEvaluations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_evaluations",
				Help:      "Current number of in-flight evaluations",
			},
		),
		watchedFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watched_files",
				Help:      "Current number of files under watch",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.evaluationsStarted,
		m.evaluationsCompleted,
		m.evaluationDuration,
		m.stepsDispatched,
		m.documentsLoaded,
		m.documentDuration,
		m.fallbackSkips,
		m.fallbacksExhausted,
		m.errorsByKind,
		m.watchReloads,
		m.activeEvaluations,
		m.watchedFiles,
	)

	return m, nil
}

// Evaluation Metrics

// RecordEvaluationStarted increments the counter for started evaluations.
func (m *Metrics) RecordEvaluationStarted(source string) {
	if m.evaluationsStarted == nil {
		return
	}
	m.evaluationsStarted.WithLabelValues(source).Inc()
	m.activeEvaluations.Inc()
}

// RecordEvaluationCompleted records a completed evaluation with its
// status and duration.
func (m *Metrics) RecordEvaluationCompleted(status string, duration time.Duration) {
	if m.evaluationsCompleted == nil {
		return
	}
	m.evaluationsCompleted.WithLabelValues(status).Inc()
	m.evaluationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeEvaluations.Dec()
}

// Step Metrics

// RecordStep records one dispatch step by spec kind.
func (m *Metrics) RecordStep(specKind string) {
	if m.stepsDispatched == nil {
		return
	}
	m.stepsDispatched.WithLabelValues(specKind).Inc()
}

// Document Metrics

// RecordDocumentLoad records a spec document load.
func (m *Metrics) RecordDocumentLoad(format, status string, duration time.Duration) {
	if m.documentsLoaded == nil {
		return
	}
	m.documentsLoaded.WithLabelValues(format, status).Inc()
	m.documentDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// Fallback Metrics

// RecordFallbackSkip records one skipped fallback alternative.
func (m *Metrics) RecordFallbackSkip(cause string) {
	if m.fallbackSkips == nil {
		return
	}
	m.fallbackSkips.WithLabelValues(cause).Inc()
}

// RecordFallbackExhausted records a fallback chain running out of
// alternatives.
func (m *Metrics) RecordFallbackExhausted() {
	if m.fallbacksExhausted == nil {
		return
	}
	m.fallbacksExhausted.Inc()
}

// Error Metrics

// RecordError records an evaluation error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Watch Metrics

// RecordWatchReload records one watch-triggered re-evaluation.
func (m *Metrics) RecordWatchReload(status string) {
	if m.watchReloads == nil {
		return
	}
	m.watchReloads.WithLabelValues(status).Inc()
}

// SetWatchedFiles sets the current number of files under watch.
func (m *Metrics) SetWatchedFiles(count float64) {
	if m.watchedFiles == nil {
		return
	}
	m.watchedFiles.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
