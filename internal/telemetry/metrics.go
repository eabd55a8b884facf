package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the client's observability surface: pool occupancy,
// session lifecycle counters, heartbeat failures, and request latency.
type Metrics struct {
	registry *prometheus.Registry

	poolInUse    prometheus.Gauge
	poolIdle     prometheus.Gauge
	poolCapacity prometheus.Gauge
	poolReplaced prometheus.Counter

	sessionsOpened prometheus.Counter
	sessionsClosed prometheus.Counter
	sessionsActive prometheus.Gauge

	heartbeatFailures prometheus.Counter
	reestablishes     prometheus.Counter

	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
}

// New builds a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		registry: reg,
		poolInUse: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cipsession_pool_connections_in_use",
			Help: "Connections currently lent out of the pool",
		}),
		poolIdle: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cipsession_pool_connections_idle",
			Help: "Idle connections in the pool",
		}),
		poolCapacity: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cipsession_pool_capacity",
			Help: "Fixed pool capacity",
		}),
		poolReplaced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipsession_pool_connections_replaced_total",
			Help: "Broken connections discarded and replaced by the pool",
		}),
		sessionsOpened: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipsession_sessions_opened_total",
			Help: "Sessions opened since process start",
		}),
		sessionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipsession_sessions_closed_total",
			Help: "Sessions closed since process start",
		}),
		sessionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cipsession_sessions_active",
			Help: "Currently open sessions",
		}),
		heartbeatFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipsession_heartbeat_failures_total",
			Help: "Heartbeat probes that failed",
		}),
		reestablishes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipsession_connection_reestablish_total",
			Help: "Connection re-establishment attempts triggered by heartbeat failures",
		}),
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cipsession_request_duration_milliseconds",
			Help:    "CIP request round-trip latency in milliseconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"operation"}),
		requestErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cipsession_request_errors_total",
			Help: "CIP requests that failed with a structured error, by taxonomy kind",
		}, []string{"kind"}),
	}
}

// Registry exposes the backing registry for an optional local /metrics
// endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PoolOccupancy records the pool's current in-use/idle/capacity split.
func (m *Metrics) PoolOccupancy(inUse, idle, capacity int) {
	if m == nil {
		return
	}
	m.poolInUse.Set(float64(inUse))
	m.poolIdle.Set(float64(idle))
	m.poolCapacity.Set(float64(capacity))
}

// ConnectionReplaced counts one broken connection discarded by the pool.
func (m *Metrics) ConnectionReplaced() {
	if m == nil {
		return
	}
	m.poolReplaced.Inc()
}

// SessionOpened counts one session creation.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed counts one session teardown.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
	m.sessionsActive.Dec()
}

// HeartbeatFailure counts one failed heartbeat probe.
func (m *Metrics) HeartbeatFailure() {
	if m == nil {
		return
	}
	m.heartbeatFailures.Inc()
}

// Reestablish counts one connection re-establishment attempt.
func (m *Metrics) Reestablish() {
	if m == nil {
		return
	}
	m.reestablishes.Inc()
}

// ObserveRequest records one operation's round-trip latency and, when kind
// is non-empty, counts a failure under that kind.
func (m *Metrics) ObserveRequest(operation string, start time.Time, kind string) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(operation).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if kind != "" {
		m.requestErrors.WithLabelValues(kind).Inc()
	}
}
