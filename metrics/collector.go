package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the aggregator's per-instrument records as gauges.
type Collector struct {
	agg *Aggregator

	pnl      *prometheus.Desc
	exposure *prometheus.Desc
	trades   *prometheus.Desc
	winRate  *prometheus.Desc
}

func NewCollector(agg *Aggregator) *Collector {
	labels := []string{"instrument"}
	return &Collector{
		agg:      agg,
		pnl:      prometheus.NewDesc("livetrader_symbol_pnl", "Cumulative realized PnL per instrument", labels, nil),
		exposure: prometheus.NewDesc("livetrader_symbol_exposure", "Open exposure per instrument", labels, nil),
		trades:   prometheus.NewDesc("livetrader_symbol_trades", "Trade count per instrument", labels, nil),
		winRate:  prometheus.NewDesc("livetrader_symbol_win_rate", "Winning closes over all closes per instrument", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pnl
	ch <- c.exposure
	ch <- c.trades
	ch <- c.winRate
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for instr, rec := range c.agg.Status() {
		ch <- prometheus.MustNewConstMetric(c.pnl, prometheus.GaugeValue, rec.CumulativePnL.InexactFloat64(), instr)
		ch <- prometheus.MustNewConstMetric(c.exposure, prometheus.GaugeValue, rec.Exposure.InexactFloat64(), instr)
		ch <- prometheus.MustNewConstMetric(c.trades, prometheus.GaugeValue, float64(rec.TradeCount), instr)
		ch <- prometheus.MustNewConstMetric(c.winRate, prometheus.GaugeValue, rec.WinRate, instr)
	}
}
