// Package metrics provides Prometheus metrics for monitoring the pipeline:
// stream message rates, reconnect attempts, parse failures, and candle
// history fetch outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the market-data pipeline.
type Metrics struct {
	MessagesTotal   *prometheus.CounterVec // labels: type (snapshot|delta|pong|unknown)
	ParseErrors     prometheus.Counter
	TicksStored     prometheus.Counter
	Reconnects      prometheus.Counter
	HeartbeatsSent  prometheus.Counter
	ConnectionState prometheus.Gauge // 0=idle, 1=connecting, 2=open, 3=closed
	SymbolsTracked  prometheus.Gauge

	HistoryFetches  prometheus.Counter
	HistoryFailures prometheus.Counter
	HistoryCandles  prometheus.Counter
}

// New creates all pipeline metrics. Register attaches them to a registry;
// tests can use them unregistered.
func New() *Metrics {
	return &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpipe_stream_messages_total",
			Help: "Stream messages received, by message type",
		}, []string{"type"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpipe_stream_parse_errors_total",
			Help: "Stream messages dropped as malformed",
		}),
		TicksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpipe_ticks_stored_total",
			Help: "Price ticks written to the price store",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpipe_stream_reconnects_total",
			Help: "Stream reconnection attempts",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpipe_stream_heartbeats_total",
			Help: "Heartbeat pings sent",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketpipe_stream_connection_state",
			Help: "Stream state: 0=idle, 1=connecting, 2=open, 3=closed",
		}),
		SymbolsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketpipe_symbols_tracked",
			Help: "Symbols in the current subscription set",
		}),
		HistoryFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpipe_history_fetches_total",
			Help: "Candle history requests issued",
		}),
		HistoryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpipe_history_failures_total",
			Help: "Candle history requests that failed",
		}),
		HistoryCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpipe_history_candles_total",
			Help: "Candles received from history responses",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.MessagesTotal,
		m.ParseErrors,
		m.TicksStored,
		m.Reconnects,
		m.HeartbeatsSent,
		m.ConnectionState,
		m.SymbolsTracked,
		m.HistoryFetches,
		m.HistoryFailures,
		m.HistoryCandles,
	)
}

// Handler returns an HTTP handler serving the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
