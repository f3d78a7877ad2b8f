package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the contract
// observer
type PrometheusMetrics struct {
	// Handle cache metrics
	HandleCacheHitsTotal   prometheus.Counter
	HandleCacheMissesTotal prometheus.Counter
	HandlesCached          prometheus.Gauge

	// Tracking metrics
	TrackedBalances     prometheus.Gauge
	TrackedFunctions    prometheus.Gauge
	RefreshCyclesTotal  prometheus.Counter
	RefreshEntriesTotal *prometheus.CounterVec
	DebounceArmsTotal   *prometheus.CounterVec

	// Contract call metrics
	ContractCallsTotal *prometheus.CounterVec

	// Connection metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	LatestObservedBlock   prometheus.Gauge

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		// Handle cache metrics
		HandleCacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "observer_handle_cache_hits_total",
				Help: "Total number of contract handle cache hits",
			},
		),

		HandleCacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "observer_handle_cache_misses_total",
				Help: "Total number of contract handle cache misses",
			},
		),

		HandlesCached: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "observer_handles_cached",
				Help: "Number of contract handles currently cached",
			},
		),

		// Tracking metrics
		TrackedBalances: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "observer_tracked_balances",
				Help: "Number of tracked (token, account) balance pairs",
			},
		),

		TrackedFunctions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "observer_tracked_functions",
				Help: "Number of tracked function call entries",
			},
		),

		RefreshCyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "observer_refresh_cycles_total",
				Help: "Total number of block-driven refresh cycles dispatched",
			},
		),

		RefreshEntriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observer_refresh_entries_total",
				Help: "Total number of tracked entries refreshed, by kind and status",
			},
			[]string{"kind", "status"},
		),

		DebounceArmsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observer_debounce_arms_total",
				Help: "Total number of debounce timer arms, by trigger reason",
			},
			[]string{"reason"},
		),

		// Contract call metrics
		ContractCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observer_contract_calls_total",
				Help: "Total number of contract calls dispatched",
			},
			[]string{"contract_address", "function", "status"},
		),

		// Connection metrics
		ConnectionErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observer_connection_errors_total",
				Help: "Total number of connection errors to chain nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		LatestObservedBlock: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "observer_latest_observed_block",
				Help: "Latest block number observed from the block feed",
			},
		),

		// API metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "observer_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "observer_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "observer_component_health",
				Help: "Health status per component (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "observer_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "observer_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordHandleCacheHit records a handle cache hit
func (m *PrometheusMetrics) RecordHandleCacheHit() {
	m.HandleCacheHitsTotal.Inc()
}

// RecordHandleCacheMiss records a handle cache miss
func (m *PrometheusMetrics) RecordHandleCacheMiss() {
	m.HandleCacheMissesTotal.Inc()
}

// UpdateHandlesCached updates the cached handle count
func (m *PrometheusMetrics) UpdateHandlesCached(count int) {
	m.HandlesCached.Set(float64(count))
}

// UpdateTrackedBalances updates the tracked balance pair count
func (m *PrometheusMetrics) UpdateTrackedBalances(count int) {
	m.TrackedBalances.Set(float64(count))
}

// UpdateTrackedFunctions updates the tracked function entry count
func (m *PrometheusMetrics) UpdateTrackedFunctions(count int) {
	m.TrackedFunctions.Set(float64(count))
}

// RecordRefreshCycle records a dispatched refresh cycle
func (m *PrometheusMetrics) RecordRefreshCycle() {
	m.RefreshCyclesTotal.Inc()
}

// RecordRefreshEntry records one tracked entry's refresh outcome
func (m *PrometheusMetrics) RecordRefreshEntry(kind, status string) {
	m.RefreshEntriesTotal.WithLabelValues(kind, status).Inc()
}

// RecordDebounceArm records a debounce timer arm
func (m *PrometheusMetrics) RecordDebounceArm(reason string) {
	m.DebounceArmsTotal.WithLabelValues(reason).Inc()
}

// RecordContractCall records a contract call
func (m *PrometheusMetrics) RecordContractCall(contractAddress, function, status string) {
	m.ContractCallsTotal.WithLabelValues(contractAddress, function, status).Inc()
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// UpdateLatestObservedBlock updates the latest observed block metric
func (m *PrometheusMetrics) UpdateLatestObservedBlock(blockNumber uint64) {
	m.LatestObservedBlock.Set(float64(blockNumber))
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
