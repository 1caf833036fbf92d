// Package metrics exposes the daemon's Prometheus counters/gauges and an
// HTTP health probe that reflects fatal-category errors as unhealthy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_daemon_signals_total",
			Help: "Total number of trading signals computed",
		},
		[]string{"symbol", "strategy", "signal_type"},
	)

	GridTradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_daemon_grid_trades_total",
			Help: "Total number of grid trade fills recorded",
		},
		[]string{"symbol", "trade_type"},
	)

	OrderSubmitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trading_daemon_order_submit_latency_seconds",
			Help:    "Latency of broker order submission calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"broker", "side"},
	)

	PendingSells = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trading_daemon_pending_sells",
			Help: "Number of in-flight sell orders per symbol",
		},
		[]string{"symbol"},
	)

	DataVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trading_daemon_data_version",
			Help: "Monotonic state-store data version per symbol",
		},
		[]string{"symbol"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trading_daemon_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open",
		},
		[]string{"breaker"},
	)

	MonitorLoopDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trading_daemon_monitor_loop_duration_seconds",
			Help:    "Wall time of one position-monitor tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"symbol"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_daemon_errors_total",
			Help: "Total classified errors by category",
		},
		[]string{"category", "component"},
	)
)

// RecordSignal increments the signal counter for a computed signal.
func RecordSignal(symbol, strategy, signalType string) {
	SignalsTotal.WithLabelValues(symbol, strategy, signalType).Inc()
}

// RecordGridTrade increments the grid fill counter.
func RecordGridTrade(symbol, tradeType string) {
	GridTradesTotal.WithLabelValues(symbol, tradeType).Inc()
}

// CircuitState numeric encoding used by CircuitBreakerState.
type CircuitState float64

const (
	CircuitClosed   CircuitState = 0
	CircuitHalfOpen CircuitState = 1
	CircuitOpen     CircuitState = 2
)

// RecordCircuitState publishes the current state of one named breaker.
func RecordCircuitState(breaker string, state CircuitState) {
	CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}
