// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the execution core.
type Metrics struct {
	// Convergence metrics
	ConvergenceRuns *prometheus.CounterVec
	OrdersSubmitted *prometheus.CounterVec
	OrderChunkUSD   prometheus.Histogram

	// Risk monitor metrics
	RiskTicks         *prometheus.CounterVec
	LimitBreaches     *prometheus.CounterVec
	AdvisoryDecisions *prometheus.CounterVec
	PortfolioValueUSD prometheus.Gauge
	BaselineValueUSD  prometheus.Gauge

	// Liquidation metrics
	LiquidationTokens *prometheus.CounterVec

	// Snapshot store metrics
	SnapshotsRecorded prometheus.Counter
	SnapshotsPruned   prometheus.Counter
}

// NewMetrics creates a Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_trade_exec"
	}

	return &Metrics{
		ConvergenceRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "convergence",
			Name:      "runs_total",
			Help:      "Total convergence runs by terminal outcome",
		}, []string{"outcome"}),
		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "convergence",
			Name:      "orders_submitted_total",
			Help:      "Total order chunks submitted by side",
		}, []string{"side"}),
		OrderChunkUSD: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "convergence",
			Name:      "order_chunk_usd",
			Help:      "USD size of submitted order chunks",
			Buckets:   []float64{1, 3, 10, 25, 50, 100, 250, 500, 1000},
		}),
		RiskTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "ticks_total",
			Help:      "Total risk monitor ticks by result",
		}, []string{"result"}),
		LimitBreaches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "limit_breaches_total",
			Help:      "Total PnL limit breaches by limit type",
		}, []string{"limit_type"}),
		AdvisoryDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "advisory_decisions_total",
			Help:      "Total advisory decisions by verdict",
		}, []string{"verdict"}),
		PortfolioValueUSD: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "portfolio_value_usd",
			Help:      "Most recent total portfolio value in USD",
		}),
		BaselineValueUSD: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "baseline_value_usd",
			Help:      "Baseline portfolio value used for the last PnL comparison",
		}),
		LiquidationTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "tokens_total",
			Help:      "Tokens processed by liquidation runs, by outcome",
		}, []string{"outcome"}),
		SnapshotsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "recorded_total",
			Help:      "Total portfolio snapshots recorded",
		}),
		SnapshotsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "pruned_total",
			Help:      "Total portfolio snapshots pruned past retention",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordConvergenceRun increments the run counter for a terminal outcome.
func RecordConvergenceRun(outcome string) {
	DefaultMetrics.ConvergenceRuns.WithLabelValues(outcome).Inc()
}

// RecordOrderSubmitted records one submitted chunk.
func RecordOrderSubmitted(side string, usd float64) {
	DefaultMetrics.OrdersSubmitted.WithLabelValues(side).Inc()
	DefaultMetrics.OrderChunkUSD.Observe(usd)
}

// RecordRiskTick records one monitor tick result.
func RecordRiskTick(result string) {
	DefaultMetrics.RiskTicks.WithLabelValues(result).Inc()
}

// RecordLimitBreach records a crossed limit.
func RecordLimitBreach(limitType string) {
	DefaultMetrics.LimitBreaches.WithLabelValues(limitType).Inc()
}

// RecordAdvisoryDecision records one advisory verdict.
func RecordAdvisoryDecision(verdict string) {
	DefaultMetrics.AdvisoryDecisions.WithLabelValues(verdict).Inc()
}

// UpdatePortfolioValue updates the live portfolio and baseline gauges.
func UpdatePortfolioValue(current, baseline float64) {
	DefaultMetrics.PortfolioValueUSD.Set(current)
	DefaultMetrics.BaselineValueUSD.Set(baseline)
}

// RecordLiquidationToken records a per-token liquidation outcome.
func RecordLiquidationToken(outcome string) {
	DefaultMetrics.LiquidationTokens.WithLabelValues(outcome).Inc()
}

// RecordSnapshot records snapshot store writes and prunes.
func RecordSnapshot(pruned int) {
	DefaultMetrics.SnapshotsRecorded.Inc()
	if pruned > 0 {
		DefaultMetrics.SnapshotsPruned.Add(float64(pruned))
	}
}
