package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream recorder.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	errorsTotal     prometheus.Counter
	sessionsCreated prometheus.Counter
	sessionsDeleted prometheus.Counter
	activeSessions  prometheus.Gauge
	chunksWritten   prometheus.Counter
	bytesWritten    prometheus.Counter
	rotations       *prometheus.CounterVec
	workerFailures  *prometheus.CounterVec
	filesExpired    prometheus.Counter
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of HTTP requests received, by method and status code",
		}, []string{"method", "code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_created_total",
			Help: "Total number of recording sessions created",
		}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_deleted_total",
			Help: "Total number of recording sessions stopped and removed",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_active_sessions",
			Help: "Number of sessions whose worker is currently recording",
		}),
		chunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_chunks_written_total",
			Help: "Total number of stream chunks appended to output files",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_bytes_written_total",
			Help: "Total number of stream bytes appended to output files",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_rotations_total",
			Help: "Total number of output file rotations, by trigger",
		}, []string{"reason"}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_worker_failures_total",
			Help: "Total number of recording workers that ended with an error, by kind",
		}, []string{"kind"}),
		filesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_files_expired_total",
			Help: "Total number of recorded files removed by the retention janitor",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsCreated,
		m.sessionsDeleted,
		m.activeSessions,
		m.chunksWritten,
		m.bytesWritten,
		m.rotations,
		m.workerFailures,
		m.filesExpired,
	)

	return m
}

// ObserveRequest counts one served request.
func (m *Metrics) ObserveRequest(method string, status int) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

// IncSessionsCreated increments the sessions created counter.
func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreated.Inc()
}

// IncSessionsDeleted increments the sessions deleted counter.
func (m *Metrics) IncSessionsDeleted() {
	m.sessionsDeleted.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// AddChunkWritten records one appended chunk of n bytes.
func (m *Metrics) AddChunkWritten(n int) {
	m.chunksWritten.Inc()
	m.bytesWritten.Add(float64(n))
}

// IncRotations increments the rotation counter for the given trigger.
func (m *Metrics) IncRotations(reason string) {
	m.rotations.WithLabelValues(reason).Inc()
}

// IncWorkerFailures increments the worker failure counter for the given kind.
func (m *Metrics) IncWorkerFailures(kind string) {
	m.workerFailures.WithLabelValues(kind).Inc()
}

// AddFilesExpired records n files removed by retention.
func (m *Metrics) AddFilesExpired(n int) {
	m.filesExpired.Add(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
