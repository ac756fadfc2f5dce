package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names.
const (
	MetricHTTPAttemptsTotal   = "woosync_http_attempts_total"
	MetricHTTPRequestSeconds  = "woosync_http_request_duration_seconds"
	MetricRecordsTotal        = "woosync_records_total"
	MetricReferencePagesTotal = "woosync_reference_pages_total"
	MetricIngestRequestsTotal = "woosync_ingest_requests_total"
	MetricIngestSeconds       = "woosync_ingest_request_duration_seconds"
)

// SyncMetrics holds the Prometheus collectors of a sync process. A nil
// *SyncMetrics is valid and records nothing.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type SyncMetrics struct {
	registry *prometheus.Registry

	httpAttempts   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	records        *prometheus.CounterVec
	referencePages *prometheus.CounterVec
	ingestRequests *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
}

// NewSyncMetrics creates the collectors on a dedicated registry.
func NewSyncMetrics() *SyncMetrics {
	registry := prometheus.NewRegistry()

	m := &SyncMetrics{
		registry: registry,
		httpAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPAttemptsTotal,
			Help: "HTTP attempts against the WooCommerce API, including retries.",
		}, []string{"method", "status_class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSeconds,
			Help:    "Duration of WooCommerce API calls including all retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRecordsTotal,
			Help: "Processed records by stream and outcome.",
		}, []string{"stream", "status"}),
		referencePages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReferencePagesTotal,
			Help: "Reference data pages fetched by resource.",
		}, []string{"resource"}),
		ingestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricIngestRequestsTotal,
			Help: "Requests served by the ingest API.",
		}, []string{"method", "route", "status_group"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricIngestSeconds,
			Help:    "Latency of ingest API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(m.httpAttempts, m.httpDuration, m.records, m.referencePages, m.ingestRequests, m.ingestDuration)
	return m
}

// ObserveHTTPAttempt counts one attempt. statusClass is "2xx", "4xx", "5xx" or "error".
func (m *SyncMetrics) ObserveHTTPAttempt(method, statusClass string) {
	if m == nil {
		return
	}
	m.httpAttempts.WithLabelValues(method, statusClass).Inc()
}

// ObserveHTTPDuration records the total duration of one call in seconds.
func (m *SyncMetrics) ObserveHTTPDuration(method string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method).Observe(seconds)
}

// ObserveRecord counts one processed record.
func (m *SyncMetrics) ObserveRecord(stream, status string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(stream, status).Inc()
}

// ObserveReferencePage counts one fetched reference page.
func (m *SyncMetrics) ObserveReferencePage(resource string) {
	if m == nil {
		return
	}
	m.referencePages.WithLabelValues(resource).Inc()
}

// ObserveIngestRequest records one request served by the ingest API.
func (m *SyncMetrics) ObserveIngestRequest(method, route, statusGroup string, seconds float64) {
	if m == nil {
		return
	}
	m.ingestRequests.WithLabelValues(method, route, statusGroup).Inc()
	m.ingestDuration.WithLabelValues(method, route).Observe(seconds)
}

// Registry returns the registry holding the collectors.
func (m *SyncMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
