// Package telemetry exposes the engine counters to Prometheus.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livetrader"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	Ticks       *prometheus.CounterVec
	Orders      *prometheus.CounterVec
	SendRetries *prometheus.CounterVec
	TickLatency *prometheus.HistogramVec
	Spread      *prometheus.HistogramVec
	KillSwitch  prometheus.Gauge
}

// New creates the collectors and registers them with reg, if reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Ticks processed, by outcome"},
			[]string{"instrument", "action"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "orders_total", Help: "Orders acknowledged by the gateway"},
			[]string{"instrument", "side"},
		),
		SendRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "send_retries_total", Help: "Gateway send retries after transient failures"},
			[]string{"instrument"},
		),
		TickLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_latency_seconds",
				Help:      "Time from tick dequeue to tick record emission",
				Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .5, 1},
			},
			[]string{"instrument"},
		),
		Spread: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "spread_pips",
				Help:      "Bid/ask spread of valid ticks, in pips",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 25, 50},
			},
			[]string{"instrument"},
		),
		KillSwitch: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "kill_switch_engaged", Help: "1 while the kill switch is engaged"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.Orders, m.SendRetries, m.TickLatency, m.Spread, m.KillSwitch)
	}
	return m
}

func (m *Metrics) ObserveTick(instrument, action string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(instrument, action).Inc()
	m.TickLatency.WithLabelValues(instrument).Observe(latency.Seconds())
}

func (m *Metrics) ObserveSpread(instrument string, pips float64) {
	if m == nil {
		return
	}
	m.Spread.WithLabelValues(instrument).Observe(pips)
}

func (m *Metrics) ObserveOrder(instrument, side string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(instrument, side).Inc()
}

func (m *Metrics) ObserveRetry(instrument string) {
	if m == nil {
		return
	}
	m.SendRetries.WithLabelValues(instrument).Inc()
}

func (m *Metrics) SetKillSwitch(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.KillSwitch.Set(1)
	} else {
		m.KillSwitch.Set(0)
	}
}
