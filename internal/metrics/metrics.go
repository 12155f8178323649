// Package metrics provides Prometheus metrics for the simulation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the order lifecycle and ledger.
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_orders_total",
		Help: "Total orders by instrument, side and final status.",
	}, []string{"instrument", "side", "status"})

	OrderRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_order_rejects_total",
		Help: "Total rejected order requests by reason.",
	}, []string{"reason"})

	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_fills_total",
		Help: "Total simulated fills by instrument and side.",
	}, []string{"instrument", "side"})

	BarsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_bars_processed_total",
		Help: "Total bars replayed through the order manager.",
	})

	OpenLots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_open_lots",
		Help: "Open FIFO lots per instrument.",
	}, []string{"instrument"})

	PositionQuantity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_position_quantity",
		Help: "Open position quantity per instrument and side.",
	}, []string{"instrument", "side"})

	RealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_realized_pnl",
		Help: "Cumulative realized P&L per instrument.",
	}, []string{"instrument"})

	UnrealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_unrealized_pnl",
		Help: "Mark-to-market unrealized P&L per instrument.",
	}, []string{"instrument"})

	LedgerHaltsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_ledger_halts_total",
		Help: "Instruments halted after a ledger inconsistency.",
	}, []string{"instrument"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_events_published_total",
		Help: "Events published on the bus by type.",
	}, []string{"type"})

	FillSimulationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesim_fill_simulation_seconds",
		Help:    "Latency of per-bar fill simulation.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
	})
)
