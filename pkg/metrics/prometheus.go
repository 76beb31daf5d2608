package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	trades     *prometheus.CounterVec
	whales     *prometheus.CounterVec
	drops      *prometheus.CounterVec
	errors     *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	lastPrice  *prometheus.GaugeVec
	latency    *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		trades: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrdata_trades_total",
				Help: "Total number of normalized trades processed",
			},
			[]string{"exchange", "symbol"},
		),
		whales: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrdata_whales_total",
				Help: "Total number of trades classified as whales",
			},
			[]string{"exchange", "symbol"},
		),
		drops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrdata_dropped_events_total",
				Help: "Events dropped due to slow consumers or reconnect gaps",
			},
			[]string{"kind"},
		),
		errors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrdata_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		reconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrdata_reconnects_total",
				Help: "Provider reconnection attempts",
			},
			[]string{"provider"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wrdata_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrdata_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTrade records one processed trade.
func (r *Recorder) RecordTrade(exchange, symbol string) {
	r.trades.WithLabelValues(exchange, symbol).Inc()
}

// RecordWhale records one whale classification.
func (r *Recorder) RecordWhale(exchange, symbol string) {
	r.whales.WithLabelValues(exchange, symbol).Inc()
}

// RecordDrop records a dropped event.
func (r *Recorder) RecordDrop(kind string) {
	r.drops.WithLabelValues(kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordReconnect records a reconnection attempt for a provider.
func (r *Recorder) RecordReconnect(provider string) {
	r.reconnects.WithLabelValues(provider).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
