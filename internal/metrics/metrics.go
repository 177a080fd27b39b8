// Package metrics exposes the Prometheus gauges/histograms this core
// carries as an ambient observability concern: connection pool size,
// acquire latency, and execution duration by status.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every metric this core publishes and its own registry.
type Manager struct {
	registry *prometheus.Registry

	connectionsActive  prometheus.Gauge
	connectionsMax      prometheus.Gauge
	acquireLatency      prometheus.Histogram
	acquireFailures     *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	executionsTotal     *prometheus.CounterVec
	serversTotal        prometheus.Gauge
	toolsTotal          prometheus.Gauge
	eventBufferDropped  prometheus.Counter
}

// New builds and registers every metric.
func New() *Manager {
	registry := prometheus.NewRegistry()

	m := &Manager{
		registry: registry,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpcore_connections_active",
			Help: "Number of live connections held by the connection pool",
		}),
		connectionsMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpcore_connections_max",
			Help: "Configured maximum number of live connections",
		}),
		acquireLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcpcore_pool_acquire_duration_seconds",
			Help:    "Time taken to acquire a connection from the pool",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		acquireFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpcore_pool_acquire_failures_total",
			Help: "Total number of failed connection pool acquires",
		}, []string{"reason"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpcore_execution_duration_seconds",
			Help:    "Execution duration by terminal status",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpcore_executions_total",
			Help: "Total number of executions by terminal status",
		}, []string{"status"}),
		serversTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpcore_servers_total",
			Help: "Total number of registered servers",
		}),
		toolsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpcore_tools_total",
			Help: "Total number of catalogued tools",
		}),
		eventBufferDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpcore_event_buffer_dropped_total",
			Help: "Total number of events dropped due to a full event sink buffer",
		}),
	}

	m.registry.MustRegister(
		m.connectionsActive, m.connectionsMax, m.acquireLatency, m.acquireFailures,
		m.executionDuration, m.executionsTotal, m.serversTotal, m.toolsTotal, m.eventBufferDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the /metrics scrape endpoint.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Manager) SetConnectionsActive(n int)    { m.connectionsActive.Set(float64(n)) }
func (m *Manager) SetConnectionsMax(n int)       { m.connectionsMax.Set(float64(n)) }
func (m *Manager) ObserveAcquire(seconds float64) { m.acquireLatency.Observe(seconds) }
func (m *Manager) IncAcquireFailure(reason string) {
	m.acquireFailures.WithLabelValues(reason).Inc()
}
func (m *Manager) ObserveExecution(status string, seconds float64) {
	m.executionDuration.WithLabelValues(status).Observe(seconds)
	m.executionsTotal.WithLabelValues(status).Inc()
}
func (m *Manager) SetServersTotal(n int) { m.serversTotal.Set(float64(n)) }
func (m *Manager) SetToolsTotal(n int)   { m.toolsTotal.Set(float64(n)) }
func (m *Manager) IncEventDropped()      { m.eventBufferDropped.Inc() }
