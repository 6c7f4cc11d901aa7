package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	candleUpdates *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	ruleMatches   *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	analyses      *prometheus.CounterVec
	gauges        *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		candleUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_candle_updates_total",
				Help: "Total number of candle writes into the market data store",
			},
			[]string{"symbol", "interval"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ruleMatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_rule_matches_total",
				Help: "Total symbols matched per screening rule",
			},
			[]string{"rule_id"},
		),
		eventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_events_dropped_total",
				Help: "Events dropped because a subscriber channel was full",
			},
			[]string{"event"},
		),
		analyses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_analyses_total",
				Help: "Completed reasoning service analyses by decision",
			},
			[]string{"decision"},
		),
		gauges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_component_gauge",
				Help: "Free-form component gauges (queue depths, pool sizes)",
			},
			[]string{"name"},
		),
	}
}

// RecordCandleUpdate counts one candle write.
func (r *Recorder) RecordCandleUpdate(symbol, interval string) {
	r.candleUpdates.WithLabelValues(symbol, interval).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordRuleMatch counts matched symbols for a rule execution.
func (r *Recorder) RecordRuleMatch(ruleID string, matched int) {
	r.ruleMatches.WithLabelValues(ruleID).Add(float64(matched))
}

// RecordEventDropped counts a lossy event-bus drop.
func (r *Recorder) RecordEventDropped(event string) {
	r.eventsDropped.WithLabelValues(event).Inc()
}

// RecordAnalysis counts a completed analysis by decision.
func (r *Recorder) RecordAnalysis(decision string) {
	r.analyses.WithLabelValues(decision).Inc()
}

// SetGauge sets a named component gauge.
func (r *Recorder) SetGauge(name string, v float64) {
	r.gauges.WithLabelValues(name).Set(v)
}
