// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/service_layer/infrastructure/resilience"
	"github.com/R3E-Network/service_layer/infrastructure/runtime"
)

// processingBuckets are the standardised latency buckets used for
// message/command processing and substrate round-trips: 1ms .. 10s.
var processingBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Business metrics
	BlockchainTxTotal    *prometheus.CounterVec
	BlockchainTxDuration *prometheus.HistogramVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Conversational/session traffic
	MessagesTotal  *prometheus.CounterVec
	CommandsTotal  *prometheus.CounterVec
	CallbacksTotal *prometheus.CounterVec

	// Processing/substrate latency (1ms..10s buckets)
	ProcessingDuration *prometheus.HistogramVec
	SubstrateLatency   *prometheus.HistogramVec

	// Pool/session/breaker gauges
	PoolSize       *prometheus.GaugeVec
	ActiveSessions prometheus.Gauge
	BreakerState   *prometheus.GaugeVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Business metrics
		BlockchainTxTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockchain_transactions_total",
				Help: "Total number of blockchain transactions",
			},
			[]string{"service", "chain", "operation", "status"},
		),
		BlockchainTxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockchain_transaction_duration_seconds",
				Help:    "Blockchain transaction duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"service", "chain", "operation"},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Conversational/session traffic
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_total",
				Help: "Total number of inbound messages processed",
			},
			[]string{"service", "channel", "status"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commands_total",
				Help: "Total number of bot commands processed",
			},
			[]string{"service", "command", "status"},
		),
		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbacks_total",
				Help: "Total number of callback-query interactions processed",
			},
			[]string{"service", "status"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "processing_duration_seconds",
				Help:    "Time spent handling one inbound message/command/callback",
				Buckets: processingBuckets,
			},
			[]string{"service", "kind"},
		),
		SubstrateLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "substrate_latency_seconds",
				Help:    "Round-trip latency of substrate (KV store) operations",
				Buckets: processingBuckets,
			},
			[]string{"service", "operation"},
		),

		PoolSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pool_size",
				Help: "Configured/in-use size of a connection pool",
			},
			[]string{"service", "pool", "state"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_sessions",
				Help: "Current number of active conversational sessions",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "breaker_state",
				Help: "Circuit breaker state per breaker name (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service", "breaker"},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.BlockchainTxTotal,
			m.BlockchainTxDuration,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.MessagesTotal,
			m.CommandsTotal,
			m.CallbacksTotal,
			m.ProcessingDuration,
			m.SubstrateLatency,
			m.PoolSize,
			m.ActiveSessions,
			m.BreakerState,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordBlockchainTx records a blockchain transaction
func (m *Metrics) RecordBlockchainTx(service, chain, operation, status string, duration time.Duration) {
	m.BlockchainTxTotal.WithLabelValues(service, chain, operation, status).Inc()
	m.BlockchainTxDuration.WithLabelValues(service, chain, operation).Observe(duration.Seconds())
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// RecordMessage records one inbound message handled by the conversational
// session core, along with the outcome status (e.g. "ok", "error").
func (m *Metrics) RecordMessage(service, channel, status string, duration time.Duration) {
	m.MessagesTotal.WithLabelValues(service, channel, status).Inc()
	m.ProcessingDuration.WithLabelValues(service, "message").Observe(duration.Seconds())
}

// RecordCommand records one bot command dispatch.
func (m *Metrics) RecordCommand(service, command, status string, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(service, command, status).Inc()
	m.ProcessingDuration.WithLabelValues(service, "command").Observe(duration.Seconds())
}

// RecordCallback records one callback-query interaction.
func (m *Metrics) RecordCallback(service, status string, duration time.Duration) {
	m.CallbacksTotal.WithLabelValues(service, status).Inc()
	m.ProcessingDuration.WithLabelValues(service, "callback").Observe(duration.Seconds())
}

// RecordSubstrateLatency records the round-trip time of one substrate
// (KV store) operation, e.g. "check", "incr", "publish".
func (m *Metrics) RecordSubstrateLatency(service, operation string, duration time.Duration) {
	m.SubstrateLatency.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetPoolSize records a connection pool's current size split by state,
// e.g. state="in_use" or state="idle".
func (m *Metrics) SetPoolSize(service, pool, state string, size int) {
	m.PoolSize.WithLabelValues(service, pool, state).Set(float64(size))
}

// SetActiveSessions records the current number of active conversational
// sessions.
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordBreakerStates snapshots every breaker in registry into the
// breaker_state gauge, keyed by breaker name. Intended to be called on a
// timer tick rather than per request, since breaker state changes are
// comparatively rare.
func (m *Metrics) RecordBreakerStates(service string, registry *resilience.Registry) {
	for name, state := range registry.States() {
		m.BreakerState.WithLabelValues(service, name).Set(float64(state))
	}
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
