// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts fused decisions by symbol, mode and action.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "decisions_total",
		Help:      "Fused decisions by action.",
	}, []string{"symbol", "mode", "action"})

	// GateRejections counts risk gate rejections by machine-readable reason.
	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "gate_rejections_total",
		Help:      "Risk gate rejections by reason.",
	}, []string{"mode", "reason"})

	// TradesClosed counts closed positions by exit reason.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "trades_closed_total",
		Help:      "Closed positions by exit reason.",
	}, []string{"symbol", "mode", "reason"})

	// Equity tracks current account equity.
	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "equity",
		Help:      "Current account equity.",
	})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "open_positions",
		Help:      "Number of open positions.",
	})

	// OracleFailures counts opinion oracle requests that fell back to neutral.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "oracle_failures_total",
		Help:      "Opinion oracle requests degraded to the neutral opinion.",
	})

	// TickDuration observes the evaluation tick latency.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "tick_duration_seconds",
		Help:      "Latency of one decision tick.",
		Buckets:   prometheus.DefBuckets,
	})
)
