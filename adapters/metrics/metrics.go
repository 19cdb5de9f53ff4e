// Package metrics provides Prometheus metrics collection for tutorquota.
package metrics

import (
	"strconv"

	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tutorquota"

// Collector holds all Prometheus metrics for tutorquota.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Quota metrics
	QuotaDecisions *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec

	// Upstream metrics
	UpstreamDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge

	// Retention metrics
	EventsPruned prometheus.Counter
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collector on reg. Tests pass a fresh
// registry to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		RequestsTotal: f.NewCounterVec(counterOpts("requests_total", "HTTP requests handled"),
			[]string{"method", "path", "status"}),
		RequestDuration: f.NewHistogramVec(histogramOpts("request_duration_seconds", "HTTP request latency", requestBuckets),
			[]string{"method", "path"}),
		RequestsInFlight: f.NewGauge(gaugeOpts("requests_in_flight", "HTTP requests being served")),

		QuotaDecisions: f.NewCounterVec(counterOpts("quota_decisions_total", "Quota ledger decisions by action and outcome"),
			[]string{"action", "outcome"}),
		StorageErrors: f.NewCounterVec(counterOpts("quota_storage_errors_total", "Usage event store failures by operation"),
			[]string{"op"}),

		UpstreamDuration: f.NewHistogramVec(histogramOpts("upstream_duration_seconds", "Chat completion latency", upstreamBuckets),
			[]string{"status"}),

		ConfigReloads:      f.NewCounter(counterOpts("config_reloads_total", "Successful config reloads")),
		ConfigReloadErrors: f.NewCounter(counterOpts("config_reload_errors_total", "Rejected config reloads")),
		ConfigLastReload:   f.NewGauge(gaugeOpts("config_last_reload_timestamp", "Unix time of the last successful reload")),

		EventsPruned: f.NewCounter(counterOpts("usage_events_pruned_total", "Usage events removed by retention")),
	}
}

var (
	requestBuckets  = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	upstreamBuckets = []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60}
)

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}
}

func gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}
}

// ObserveDecision implements ports.QuotaObserver.
func (c *Collector) ObserveDecision(action usage.Action, outcome string) {
	c.QuotaDecisions.WithLabelValues(string(action), outcome).Inc()
}

// ObserveStorageError implements ports.QuotaObserver.
func (c *Collector) ObserveStorageError(op string) {
	c.StorageErrors.WithLabelValues(op).Inc()
}

// StatusClass buckets an HTTP status code into "1xx" through "5xx".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		code = 500
	}
	return strconv.Itoa(code/100) + "xx"
}

// Ensure interface compliance.
var _ ports.QuotaObserver = (*Collector)(nil)
