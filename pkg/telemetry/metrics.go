package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for pipeline pulls. A disabled
// Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	pullsStarted   *prometheus.CounterVec
	pullsCompleted *prometheus.CounterVec
	pullDuration   *prometheus.HistogramVec

	phaseExecutions *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	dataDuration    *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	activePulls prometheus.Gauge
	graphNodes  *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics registers every collector on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		pullsStarted:   counter("pulls_started_total", "Pulls started, by mode.", "mode"),
		pullsCompleted: counter("pulls_completed_total", "Pulls completed, by mode and status.", "mode", "status"),
		pullDuration:   histogram("pull_duration_seconds", "Wall time of a pull.", "mode"),

		phaseExecutions: counter("phase_executions_total", "Request phases run on a node.", "phase", "algorithm", "outcome"),
		phaseDuration:   histogram("phase_duration_seconds", "Duration of a request phase.", "phase"),
		dataDuration:    histogram("request_data_duration_seconds", "Duration of RequestData by algorithm.", "algorithm"),
		cacheHits:       counter("cache_hits_total", "RequestData skipped because cached output satisfied the request.", "algorithm"),

		errorsByClass: counter("errors_by_class_total", "Pull failures by error class.", "class"),
		errorsByCode:  counter("errors_by_code_total", "Pull failures by error code.", "code"),

		activePulls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_pulls",
			Help:      "Pulls currently running.",
		}),
		graphNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "graph_nodes",
			Help:      "Nodes upstream of the last pulled terminal, including it.",
		}, []string{"terminal"}),
	}

	m.registry.MustRegister(
		m.pullsStarted,
		m.pullsCompleted,
		m.pullDuration,
		m.phaseExecutions,
		m.phaseDuration,
		m.dataDuration,
		m.cacheHits,
		m.errorsByClass,
		m.errorsByCode,
		m.activePulls,
		m.graphNodes,
	)
	return m, nil
}

// RecordPullStarted counts a pull and the size of its graph.
func (m *Metrics) RecordPullStarted(mode, terminal string, nodes int) {
	if m.pullsStarted == nil {
		return
	}
	m.pullsStarted.WithLabelValues(mode).Inc()
	m.graphNodes.WithLabelValues(terminal).Set(float64(nodes))
	m.activePulls.Inc()
}

// RecordPullCompleted records the outcome and duration of a pull.
func (m *Metrics) RecordPullCompleted(mode, status string, d time.Duration) {
	if m.pullsCompleted == nil {
		return
	}
	m.pullsCompleted.WithLabelValues(mode, status).Inc()
	m.pullDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.activePulls.Dec()
}

// RecordPhase records one phase execution. RequestData durations are also
// kept per algorithm.
func (m *Metrics) RecordPhase(phase, algorithm, outcome string, d time.Duration) {
	if m.phaseExecutions == nil {
		return
	}
	m.phaseExecutions.WithLabelValues(phase, algorithm, outcome).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	if phase == "REQUEST_DATA" {
		m.dataDuration.WithLabelValues(algorithm).Observe(d.Seconds())
	}
}

// RecordCacheHit counts a skipped RequestData.
func (m *Metrics) RecordCacheHit(algorithm string) {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.WithLabelValues(algorithm).Inc()
}

// RecordError counts a failure by class and, when present, by code.
func (m *Metrics) RecordError(class, code string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Timer measures elapsed time from its creation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since NewTimer.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler serves the private registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves Handler on the configured address in the
// background. Listen errors are returned through errc when it is non-nil.
func (m *Metrics) StartMetricsServer(errc chan<- error) error {
	if !m.config.Enabled {
		return nil
	}
	if m.server != nil {
		return fmt.Errorf("metrics server already started")
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := m.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && errc != nil {
			errc <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return nil
}

// StopMetricsServer closes the server started by StartMetricsServer.
func (m *Metrics) StopMetricsServer() error {
	if m.server == nil {
		return nil
	}
	err := m.server.Close()
	m.server = nil
	return err
}
