package live

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the live loop.
type Metrics struct {
	Cycles        prometheus.Counter
	CycleErrors   prometheus.Counter
	Skipped       *prometheus.CounterVec // labels: reason=paused|closed
	CycleDuration prometheus.Histogram

	Signals    *prometheus.CounterVec // labels: asset, direction
	Rejections *prometheus.CounterVec // labels: code
	Opened     *prometheus.CounterVec // labels: asset
	Closed     *prometheus.CounterVec // labels: reason
	FetchErrs  *prometheus.CounterVec // labels: asset

	OpenPositions prometheus.Gauge
	Equity        prometheus.Gauge
	Balance       prometheus.Gauge
	MarginUsed    prometheus.Gauge
	Running       prometheus.Gauge // 0=paused, 1=running
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intraday_cycles_total",
			Help: "Completed evaluation cycles",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intraday_cycle_errors_total",
			Help: "Cycles that ended with an error",
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_cycles_skipped_total",
			Help: "Cycles skipped before scoring, by reason",
		}, []string{"reason"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intraday_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: prometheus.DefBuckets,
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_signals_total",
			Help: "Signals scored, by asset and direction",
		}, []string{"asset", "direction"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_rejections_total",
			Help: "Orders rejected by risk checks, by code",
		}, []string{"code"}),
		Opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_positions_opened_total",
			Help: "Positions opened, by asset",
		}, []string{"asset"}),
		Closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_positions_closed_total",
			Help: "Positions closed, by exit reason",
		}, []string{"reason"}),
		FetchErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intraday_fetch_errors_total",
			Help: "Bar fetch failures, by asset",
		}, []string{"asset"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_open_positions",
			Help: "Currently open positions",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_equity",
			Help: "Balance plus unrealized P&L",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_balance",
			Help: "Realized account balance",
		}),
		MarginUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_margin_used",
			Help: "Margin locked by open positions",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intraday_running",
			Help: "1 when trading is running, 0 when paused",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Cycles, m.CycleErrors, m.Skipped, m.CycleDuration,
			m.Signals, m.Rejections, m.Opened, m.Closed, m.FetchErrs,
			m.OpenPositions, m.Equity, m.Balance, m.MarginUsed, m.Running,
		)
	}
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
