package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns the observer's metric surface and the process start
// time the uptime gauge is derived from
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager creates a new metrics manager
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// Uptime returns how long the process has been running
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// SetComponentHealth records a component's health state
func (m *Manager) SetComponentHealth(component string, healthy bool) {
	m.prometheus.UpdateComponentHealth(component, healthy)
	if !healthy {
		m.logger.Warn("Component reported unhealthy", "component", component)
	}
}

// UpdateSystemMetrics refreshes memory, goroutine and uptime gauges
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}
