package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the service. Each collector has
// its own registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Editor metrics
	NodesCreated       prometheus.Counter
	ConnectionsCreated prometheus.Counter
	RemoteApplied      prometheus.Counter
	SessionsActive     prometheus.Gauge
	Saves              *prometheus.CounterVec

	// Remote store metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec

	// Renderer push metrics
	WebSocketClients prometheus.Gauge
}

// NewCollector creates a collector with the given namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		NodesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes created",
		}),
		ConnectionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_created_total",
			Help:      "Total number of connections created",
		}),
		RemoteApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_changes_applied_total",
			Help:      "Remote document changes applied to a mounted flow",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of mounted flows",
		}),
		Saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saves_total",
				Help:      "Debounced document saves by outcome",
			},
			[]string{"status"},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of remote store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Remote store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected renderer clients",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.NodesCreated,
		c.ConnectionsCreated,
		c.RemoteApplied,
		c.SessionsActive,
		c.Saves,
		c.StoreOperations,
		c.StoreDuration,
		c.BreakerState,
		c.WebSocketClients,
	)
	return c
}

// Registry returns the registry the metrics live in
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request
func (c *Collector) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreOperation records one remote store call
func (c *Collector) RecordStoreOperation(operation, backend string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.StoreOperations.WithLabelValues(operation, backend, status).Inc()
	c.StoreDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SetBreakerState publishes a circuit breaker state change
func (c *Collector) SetBreakerState(name string, state float64) {
	c.BreakerState.WithLabelValues(name).Set(state)
}

// SessionOpened counts a mounted flow
func (c *Collector) SessionOpened() {
	c.SessionsActive.Inc()
}

// SessionClosed counts an unmounted flow
func (c *Collector) SessionClosed() {
	c.SessionsActive.Dec()
}

// NodeCreated counts an added node
func (c *Collector) NodeCreated() {
	c.NodesCreated.Inc()
}

// ConnectionCreated counts an added connection
func (c *Collector) ConnectionCreated() {
	c.ConnectionsCreated.Inc()
}

// RemoteChangeApplied counts a remote snapshot replacing a mounted graph
func (c *Collector) RemoteChangeApplied() {
	c.RemoteApplied.Inc()
}

// SaveCompleted counts a finished debounced save
func (c *Collector) SaveCompleted(err error) {
	if err != nil {
		c.Saves.WithLabelValues("error").Inc()
		return
	}
	c.Saves.WithLabelValues("success").Inc()
}

// ClientConnected counts a renderer client joining
func (c *Collector) ClientConnected() {
	c.WebSocketClients.Inc()
}

// ClientDisconnected counts a renderer client leaving
func (c *Collector) ClientDisconnected() {
	c.WebSocketClients.Dec()
}
