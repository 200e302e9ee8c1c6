// Package metrics holds the Prometheus instrumentation for the execution
// engine and serves it over promhttp.
package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exec-enginev1/internal/model"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec // labels: type
	OrdersPlaced    prometheus.Counter
	OrderTimeouts   prometheus.Counter
	SlippageTrips   prometheus.Counter
	LockContention  prometheus.Counter
	EntriesRejected *prometheus.CounterVec // labels: reason
	TradesClosed    *prometheus.CounterVec // labels: reason
	TradingEnabled  prometheus.Gauge
	RealizedPnL     prometheus.Gauge
}

// NewMetrics registers and returns all engine metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_events_total",
			Help: "Lifecycle events published (by type)",
		}, []string{"type"}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execd_orders_placed_total",
			Help: "Broker orders placed (entry and exit)",
		}),
		OrderTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execd_order_timeouts_total",
			Help: "Orders timed out by the pending-order monitor",
		}),
		SlippageTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execd_slippage_trips_total",
			Help: "Entry fills exceeding the slippage threshold",
		}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execd_lock_contention_total",
			Help: "Signals abandoned because a trade lock could not be acquired",
		}),
		EntriesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_entries_rejected_total",
			Help: "Entry signals rejected (by reason)",
		}, []string{"reason"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_trades_closed_total",
			Help: "Trades reaching CLOSED (by close reason)",
		}, []string{"reason"}),
		TradingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_trading_enabled",
			Help: "1 when new entries are allowed, 0 when the kill-switch is active",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execd_realized_pnl_today",
			Help: "Realized P&L accumulated this trading day",
		}),
	}

	prometheus.MustRegister(
		m.EventsTotal, m.OrdersPlaced, m.OrderTimeouts, m.SlippageTrips,
		m.LockContention, m.EntriesRejected, m.TradesClosed,
		m.TradingEnabled, m.RealizedPnL,
	)
	return m
}

// HandleEvent counts every published lifecycle event; registered on the bus
// after the core components.
func (m *Metrics) HandleEvent(ev model.Event) {
	m.EventsTotal.WithLabelValues(string(ev.Type())).Inc()
	if e, ok := ev.(model.TradeClosed); ok {
		m.TradesClosed.WithLabelValues(e.CloseReason).Inc()
	}
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("[metrics] serving on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}
