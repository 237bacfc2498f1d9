package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for reconcile cycles.
type Metrics struct {
	config MetricsConfig

	reconciles        *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	commandsApplied   *prometheus.CounterVec
	errorsByClass     *prometheus.CounterVec
	errorsByCode      *prometheus.CounterVec
	deviceQueries     *prometheus.CounterVec
	lastReconcile     *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_total",
				Help:      "Total number of reconcile cycles by outcome",
			},
			[]string{"family", "state", "outcome"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of reconcile cycles in seconds",
				Buckets:   buckets,
			},
			[]string{"family", "state"},
		),
		commandsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_applied_total",
				Help:      "Total number of device commands applied",
			},
			[]string{"family", "phase"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
		deviceQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_queries_total",
				Help:      "Total number of device queries by format and result",
			},
			[]string{"format", "result"},
		),
		lastReconcile: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_reconcile_timestamp_seconds",
				Help:      "Unix time of the last reconcile cycle per resource family",
			},
			[]string{"family", "changed"},
		),
	}

	registry.MustRegister(
		m.reconciles,
		m.reconcileDuration,
		m.commandsApplied,
		m.errorsByClass,
		m.errorsByCode,
		m.deviceQueries,
		m.lastReconcile,
	)

	return m, nil
}

// RecordReconcile records a finished reconcile cycle.
func (m *Metrics) RecordReconcile(family, state, outcome string, duration time.Duration) {
	if m.reconciles == nil {
		return
	}
	m.reconciles.WithLabelValues(family, state, outcome).Inc()
	m.reconcileDuration.WithLabelValues(family, state).Observe(duration.Seconds())
	m.lastReconcile.WithLabelValues(family, strconv.FormatBool(outcome == "changed")).SetToCurrentTime()
}

// RecordCommandsApplied counts commands sent to the device.
func (m *Metrics) RecordCommandsApplied(family, phase string, n int) {
	if m.commandsApplied == nil {
		return
	}
	m.commandsApplied.WithLabelValues(family, phase).Add(float64(n))
}

// RecordDeviceQuery counts a device query.
func (m *Metrics) RecordDeviceQuery(format, result string) {
	if m.deviceQueries == nil {
		return
	}
	m.deviceQueries.WithLabelValues(format, result).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// StartMetricsServer starts an HTTP server to expose metrics when a listen
// address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}

// WriteTextfile writes the registry to the configured textfile, if any.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.Textfile, m.registry)
}
