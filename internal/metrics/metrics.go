// Package metrics exposes Prometheus metrics for the lifecycle engine.
//
// Primary metrics updated during operation:
//   - trader_orders_total{mode,side}       – Orders placed (mode: paper|live)
//   - trader_signals_total{result}         – Signals by pricing result (accepted|adjusted|rejected)
//   - trader_trades_total{status}          – Trade terminal transitions by status
//   - trader_exit_reasons_total{reason}    – Exits split by reason
//   - trader_stop_updates_total            – Trailing stop modifications pushed to the broker
//   - trader_momentum_exits_total          – Trades cancelled by the momentum monitor
//   - trader_version_conflicts_total{worker} – Optimistic lock losses per worker
//   - trader_open_trades                   – Currently open trades (gauge)
//   - trader_worker_runs_total{worker}     – Worker tick executions
//
// Served by the HTTP handler started from the run command at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders placed",
		},
		[]string{"mode", "side"},
	)

	mtxSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Entry signals by pricing result",
		},
		[]string{"result"}, // accepted|adjusted|rejected
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_trades_total",
			Help: "Trade terminal transitions by status",
		},
		[]string{"status"},
	)

	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exit_reasons_total",
			Help: "Total exits split by reason",
		},
		[]string{"reason"},
	)

	mtxStopUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_stop_updates_total",
			Help: "Trailing stop modifications pushed to the broker",
		},
	)

	mtxMomentumExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_momentum_exits_total",
			Help: "Pending trades cancelled by the momentum monitor",
		},
	)

	mtxVersionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_version_conflicts_total",
			Help: "Optimistic lock losses per worker",
		},
		[]string{"worker"},
	)

	mtxOpenTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_trades",
			Help: "Currently open trades",
		},
	)

	mtxWorkerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_worker_runs_total",
			Help: "Worker tick executions",
		},
		[]string{"worker"},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxSignals, mtxTrades, mtxExitReasons)
	prometheus.MustRegister(mtxStopUpdates, mtxMomentumExits, mtxVersionConflicts)
	prometheus.MustRegister(mtxOpenTrades, mtxWorkerRuns)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncOrderPlaced(mode, side string)  { mtxOrders.WithLabelValues(mode, side).Inc() }
func IncSignal(result string)           { mtxSignals.WithLabelValues(result).Inc() }
func IncTradeClosed(status string)      { mtxTrades.WithLabelValues(status).Inc() }
func IncExitReason(reason string)       { mtxExitReasons.WithLabelValues(reason).Inc() }
func IncStopUpdate()                    { mtxStopUpdates.Inc() }
func IncMomentumExit()                  { mtxMomentumExits.Inc() }
func IncVersionConflict(worker string)  { mtxVersionConflicts.WithLabelValues(worker).Inc() }
func SetOpenTrades(n int)               { mtxOpenTrades.Set(float64(n)) }
func IncWorkerRun(worker string)        { mtxWorkerRuns.WithLabelValues(worker).Inc() }
