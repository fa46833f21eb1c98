// Package metrics exposes Prometheus instrumentation for the bot.
//
//   - sniper_ticks_total                      — engine loop iterations
//   - sniper_interval_switches_total          — market cutovers
//   - sniper_orders_total{side,outcome}       — orders placed (outcome: success|rejected)
//   - sniper_closes_total{exit_type}          — position closes (TP|SL|MARKET_CLOSE)
//   - sniper_position_shares                  — current position size (gauge)
//   - sniper_session_pnl_usd                  — cumulative realized PnL (gauge)
//
// Registered in init() and served at /metrics when MM_METRICS_ADDR is set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sniper_ticks_total",
		Help: "Engine loop iterations",
	})

	IntervalSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sniper_interval_switches_total",
		Help: "Interval market cutovers",
	})

	Orders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_orders_total",
		Help: "Orders placed",
	}, []string{"side", "outcome"})

	Closes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_closes_total",
		Help: "Position closes by exit type",
	}, []string{"exit_type"})

	PositionShares = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_position_shares",
		Help: "Current position size in shares",
	})

	SessionPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_session_pnl_usd",
		Help: "Cumulative realized PnL for this session",
	})
)

func init() {
	prometheus.MustRegister(Ticks, IntervalSwitches, Orders, Closes, PositionShares, SessionPnL)
}

// Serve starts the /metrics endpoint on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
