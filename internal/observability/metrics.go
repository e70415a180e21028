// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cycle metrics
	CyclesStarted  prometheus.Counter
	CyclesSkipped  prometheus.Counter
	CycleDuration  prometheus.Histogram
	OrdersFinished *prometheus.CounterVec

	// Pipeline metrics
	StageVerdicts *prometheus.CounterVec

	// Execution metrics
	SwapsSubmitted  prometheus.Counter
	SwapsAmbiguous  prometheus.Counter
	SwapsReconciled prometheus.Counter
	RealizedProfit  prometheus.Counter
	RealizedLoss    prometheus.Counter

	// Settlement metrics
	RevenueEventsCreated prometheus.Counter
	PlatformFeesAccrued  prometheus.Counter
	HolderPoolAccrued    prometheus.Counter
	ClaimsPaid           prometheus.Counter
	PoolsFrozen          prometheus.Counter

	// Latency metrics
	GatewayCallLatency *prometheus.HistogramVec
	RPCCallLatency     *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// API metrics
	ActivityClients prometheus.Gauge

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agent_engine"
	}

	return &Metrics{
		// Cycle metrics
		CyclesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_started_total",
			Help:      "Total number of trading cycles started",
		}),
		CyclesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_skipped_total",
			Help:      "Total number of ticks skipped because a cycle was in flight",
		}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Trading cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		OrdersFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "orders_finished_total",
			Help:      "Total number of orders by terminal status",
		}, []string{"status"}),

		// Pipeline metrics
		StageVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_verdicts_total",
			Help:      "Total number of stage verdicts by stage and verdict",
		}, []string{"stage", "verdict"}),

		// Execution metrics
		SwapsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "swaps_submitted_total",
			Help:      "Total number of swap transactions submitted",
		}),
		SwapsAmbiguous: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "swaps_ambiguous_total",
			Help:      "Total number of swaps that failed with ambiguous state",
		}),
		SwapsReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "swaps_reconciled_total",
			Help:      "Total number of ambiguous swaps resolved by reconciliation",
		}),
		RealizedProfit: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "realized_profit_lamports_total",
			Help:      "Cumulative realized profit across all agents, lamports",
		}),
		RealizedLoss: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "realized_loss_lamports_total",
			Help:      "Cumulative realized loss across all agents, lamports",
		}),

		// Settlement metrics
		RevenueEventsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "revenue_events_total",
			Help:      "Total number of revenue events created",
		}),
		PlatformFeesAccrued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "platform_fees_lamports_total",
			Help:      "Cumulative platform fees, lamports",
		}),
		HolderPoolAccrued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "holder_pool_lamports_total",
			Help:      "Cumulative holder pool contributions, lamports",
		}),
		ClaimsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "claims_paid_lamports_total",
			Help:      "Cumulative holder claims paid, lamports",
		}),
		PoolsFrozen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "pools_frozen_total",
			Help:      "Total number of revenue pools frozen on invariant failure",
		}),

		// Latency metrics
		GatewayCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "call_latency_seconds",
			Help:      "Exchange gateway call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

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

		// API metrics
		ActivityClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "activity_clients",
			Help:      "Number of connected activity feed websocket clients",
		}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successfully completed trading cycle",
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

// RecordCycleStarted increments the cycles started counter.
func RecordCycleStarted() {
	DefaultMetrics.CyclesStarted.Inc()
}

// RecordCycleSkipped increments the single-flight skip counter.
func RecordCycleSkipped() {
	DefaultMetrics.CyclesSkipped.Inc()
}

// RecordOrderFinished records an order reaching a terminal status.
func RecordOrderFinished(status string, durationSeconds float64) {
	DefaultMetrics.OrdersFinished.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(durationSeconds)
}

// RecordStageVerdict records one pipeline stage verdict.
func RecordStageVerdict(stage, verdict string) {
	DefaultMetrics.StageVerdicts.WithLabelValues(stage, verdict).Inc()
}

// RecordSwapSubmitted increments the swap submission counter.
func RecordSwapSubmitted() {
	DefaultMetrics.SwapsSubmitted.Inc()
}

// RecordSwapAmbiguous increments the ambiguous swap counter.
func RecordSwapAmbiguous() {
	DefaultMetrics.SwapsAmbiguous.Inc()
}

// RecordSwapReconciled increments the reconciliation success counter.
func RecordSwapReconciled() {
	DefaultMetrics.SwapsReconciled.Inc()
}

// RecordSettlement records the monetary movement of one revenue event.
func RecordSettlement(platformFee, holderPool int64) {
	DefaultMetrics.RevenueEventsCreated.Inc()
	DefaultMetrics.PlatformFeesAccrued.Add(float64(platformFee))
	DefaultMetrics.HolderPoolAccrued.Add(float64(holderPool))
}

// RecordClaim records a paid holder claim.
func RecordClaim(amount int64) {
	DefaultMetrics.ClaimsPaid.Add(float64(amount))
}

// RecordPoolFrozen increments the frozen pool counter.
func RecordPoolFrozen() {
	DefaultMetrics.PoolsFrozen.Inc()
}

// RecordGatewayLatency records exchange gateway call latency.
func RecordGatewayLatency(method string, seconds float64) {
	DefaultMetrics.GatewayCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRPCLatency records chain RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
