// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Intent metrics
	IntentsReceived  prometheus.Counter
	IntentsRejected  *prometheus.CounterVec
	IntentsExecuted  *prometheus.CounterVec
	IntentQueueDepth prometheus.Gauge

	// Execution metrics
	TxSubmitted       *prometheus.CounterVec
	RebalanceAttempts prometheus.Histogram
	PositionsOpened   prometheus.Counter
	PositionsClosed   prometheus.Counter
	GraceHarvests     prometheus.Counter
	ExecutionDuration *prometheus.HistogramVec
	SkippedExecutions *prometheus.CounterVec

	// Collaborator metrics
	RPCCallLatency    *prometheus.HistogramVec
	ServiceCallErrors *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastIntentProcessed prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clmm_agent"
	}

	return &Metrics{
		// Intent metrics
		IntentsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "received_total",
			Help:      "Total number of intent envelopes received",
		}),
		IntentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "rejected_total",
			Help:      "Total number of intents rejected by kind",
		}, []string{"kind"}),
		IntentsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "executed_total",
			Help:      "Total number of executed intents by action and status",
		}, []string{"action", "status"}),
		IntentQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "queue_depth",
			Help:      "Current number of pending intents in the queue",
		}),

		// Execution metrics
		TxSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "tx_submitted_total",
			Help:      "Total number of submitted transactions by outcome",
		}, []string{"outcome"}),
		RebalanceAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "rebalance_attempts",
			Help:      "Slippage ladder attempts consumed per rebalance",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "positions_opened_total",
			Help:      "Total number of positions minted",
		}),
		PositionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "positions_closed_total",
			Help:      "Total number of positions confirmed closed",
		}),
		GraceHarvests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "grace_harvests_total",
			Help:      "Total number of grace-period reward harvests",
		}),
		ExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Intent execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"action"}),
		SkippedExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "skipped_total",
			Help:      "Total number of skipped executions by reason",
		}, []string{"reason"}),

		// Collaborator metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ServiceCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "call_errors_total",
			Help:      "Total number of remote service call errors",
		}, []string{"endpoint"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastIntentProcessed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_intent_processed_timestamp",
			Help:      "Unix timestamp of the last processed intent",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordIntentReceived increments the received envelope counter.
func RecordIntentReceived() {
	DefaultMetrics.IntentsReceived.Inc()
}

// RecordIntentRejected records a rejected intent by rejection kind.
func RecordIntentRejected(kind string) {
	DefaultMetrics.IntentsRejected.WithLabelValues(kind).Inc()
}

// RecordIntentExecuted records a terminal intent outcome.
func RecordIntentExecuted(action, status string, durationSeconds float64) {
	DefaultMetrics.IntentsExecuted.WithLabelValues(action, status).Inc()
	DefaultMetrics.ExecutionDuration.WithLabelValues(action).Observe(durationSeconds)
	DefaultMetrics.LastIntentProcessed.SetToCurrentTime()
}

// RecordSkipped records a skipped execution by reason.
func RecordSkipped(reason string) {
	DefaultMetrics.SkippedExecutions.WithLabelValues(reason).Inc()
}

// RecordTxSubmitted records one submitted transaction by outcome.
func RecordTxSubmitted(outcome string) {
	DefaultMetrics.TxSubmitted.WithLabelValues(outcome).Inc()
}

// RecordRebalanceAttempts records how many ladder attempts a rebalance used.
func RecordRebalanceAttempts(attempts int) {
	DefaultMetrics.RebalanceAttempts.Observe(float64(attempts))
}

// RecordGraceHarvest increments the harvest counter.
func RecordGraceHarvest() {
	DefaultMetrics.GraceHarvests.Inc()
}

// UpdateQueueDepth updates the pending-intent gauge.
func UpdateQueueDepth(depth int) {
	DefaultMetrics.IntentQueueDepth.Set(float64(depth))
}

// RecordRPCLatency records chain RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordServiceError records a remote service call error.
func RecordServiceError(endpoint string) {
	DefaultMetrics.ServiceCallErrors.WithLabelValues(endpoint).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
