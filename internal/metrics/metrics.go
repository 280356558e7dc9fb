// Package metrics provides Prometheus metrics for the versioning engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	OperationsTotal      *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	CommitsTotal         *prometheus.CounterVec
	FileRecordsTotal     *prometheus.CounterVec
	SessionResolvesTotal *prometheus.CounterVec
	DeploymentsTotal     *prometheus.CounterVec
	ReadRetriesTotal     *prometheus.CounterVec
	HTTPRequestsTotal    *prometheus.CounterVec
	DBSizeBytes          prometheus.Gauge
	SessionCacheHitRatio prometheus.Gauge
	SessionCacheEvicted  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codevault_operations_total",
				Help: "Engine operations by name and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codevault_operation_duration_seconds",
				Help:    "Engine operation latency by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codevault_commits_total",
				Help: "Commits appended by commit type.",
			},
			[]string{"type"},
		),
		FileRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codevault_file_records_total",
				Help: "File records appended by effective change type.",
			},
			[]string{"change_type"},
		),
		SessionResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codevault_session_resolves_total",
				Help: "Session resolves by answering tier.",
			},
			[]string{"source"},
		),
		DeploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codevault_deployment_records_total",
				Help: "Deployment recordings by result.",
			},
			[]string{"result"},
		),
		ReadRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codevault_read_retries_total",
				Help: "Retried read operations by name.",
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codevault_http_requests_total",
				Help: "HTTP API requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codevault_db_size_bytes",
				Help: "Size of the SQLite database file.",
			},
		),
		SessionCacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codevault_session_cache_hit_ratio",
				Help: "Hit ratio of the in-process session binding cache.",
			},
		),
		SessionCacheEvicted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codevault_session_cache_evictions",
				Help: "Bindings evicted or expired from the in-process session cache.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.CommitsTotal,
		m.FileRecordsTotal,
		m.SessionResolvesTotal,
		m.DeploymentsTotal,
		m.ReadRetriesTotal,
		m.HTTPRequestsTotal,
		m.DBSizeBytes,
		m.SessionCacheHitRatio,
		m.SessionCacheEvicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperation counts one engine call and its latency.
func (m *Metrics) RecordOperation(op, outcome string, seconds float64) {
	m.OperationsTotal.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(seconds)
}

// RecordCommit counts a commit and its per-kind file records.
func (m *Metrics) RecordCommit(commitType string, added, modified, deleted int) {
	m.CommitsTotal.WithLabelValues(commitType).Inc()
	m.FileRecordsTotal.WithLabelValues("added").Add(float64(added))
	m.FileRecordsTotal.WithLabelValues("modified").Add(float64(modified))
	m.FileRecordsTotal.WithLabelValues("deleted").Add(float64(deleted))
}

// RecordResolve counts a session resolve by its answering tier.
func (m *Metrics) RecordResolve(source string) {
	m.SessionResolvesTotal.WithLabelValues(source).Inc()
}

// RecordDeployment counts a deployment recording attempt.
func (m *Metrics) RecordDeployment(ok bool) {
	result := "recorded"
	if !ok {
		result = "failed"
	}
	m.DeploymentsTotal.WithLabelValues(result).Inc()
}

// RecordRetry counts a retried read.
func (m *Metrics) RecordRetry(op string) {
	m.ReadRetriesTotal.WithLabelValues(op).Inc()
}

// RecordHTTP counts an API request.
func (m *Metrics) RecordHTTP(route, code string) {
	m.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
}

// SetDBSize records the current database size.
func (m *Metrics) SetDBSize(bytes int64) {
	m.DBSizeBytes.Set(float64(bytes))
}

// SetSessionCache records the in-process session cache counters.
func (m *Metrics) SetSessionCache(hitRatio float64, evicted uint64) {
	m.SessionCacheHitRatio.Set(hitRatio)
	m.SessionCacheEvicted.Set(float64(evicted))
}
