// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector behind one registry so the HTTP handler
// and tests can own isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	ScanCycles      *prometheus.CounterVec
	ScanDuration    *prometheus.HistogramVec
	SymbolsScanned  *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec
	ActiveSignals   prometheus.Gauge
	EventsEmitted   prometheus.Gauge
	EventsDropped   *prometheus.GaugeVec
	LimiterUsage    *prometheus.GaugeVec
	MissedTicks     *prometheus.CounterVec
	SweepExpired    prometheus.Counter
}

// New builds a metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ScanCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_scan_cycles_total",
			Help: "Completed scan cycles by market, timeframe, and status.",
		}, []string{"market", "timeframe", "status"}),

		ScanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signal_scan_duration_seconds",
			Help:    "Wall time of one scan cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"market", "timeframe"}),

		SymbolsScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_scan_symbols_total",
			Help: "Symbols processed per scan by result.",
		}, []string{"market", "timeframe", "result"}),

		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_fetch_errors_total",
			Help: "Provider fetch failures by error kind.",
		}, []string{"provider", "kind"}),

		ActiveSignals: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signal_active_signals",
			Help: "Signals currently held by the lifecycle manager.",
		}),

		EventsEmitted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signal_events_emitted_total",
			Help: "Lifecycle events emitted since start.",
		}),

		EventsDropped: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_events_dropped_total",
			Help: "Broadcast frames dropped and durable enqueues that had to block, by side.",
		}, []string{"side"}),

		LimiterUsage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_rate_limiter_weight_used",
			Help: "Weight consumed in the current rolling window per provider.",
		}, []string{"provider"}),

		MissedTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_scheduler_missed_ticks_total",
			Help: "Scheduler ticks skipped because the previous run was still active.",
		}, []string{"job"}),

		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "signal_sweep_expired_total",
			Help: "Signals expired by the periodic sweep.",
		}),
	}
}
