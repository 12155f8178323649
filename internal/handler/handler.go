// Package handler provides the event-driven order handler: the glue
// between order requesters on the bus and the order/position managers.
package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/bus"
	"github.com/duchuynh/tradesim/internal/metrics"
	"github.com/duchuynh/tradesim/internal/order"
	"github.com/duchuynh/tradesim/internal/position"
	"github.com/duchuynh/tradesim/internal/types"
	"github.com/duchuynh/tradesim/pkg/indicator"
)

const source = "order-handler"

// Config holds handler configuration.
type Config struct {
	// AutoProtect places stop-loss/take-profit orders for every entry
	// fill that does not already carry protective prices.
	AutoProtect           bool
	ATRPeriod             int
	StopLossATRMultiple   decimal.Decimal
	TakeProfitATRMultiple decimal.Decimal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AutoProtect:           false,
		ATRPeriod:             14,
		StopLossATRMultiple:   decimal.RequireFromString("2"),
		TakeProfitATRMultiple: decimal.RequireFromString("3"),
	}
}

// Provenance records which strategy/signal caused an order.
type Provenance struct {
	StrategyID string
	SignalID   string
	TradeID    string
	Reason     string
	Timestamp  time.Time
}

// Stats is a point-in-time view of handler state.
type Stats struct {
	IsActive          bool
	PendingOrderCount int
	ProvenanceCount   int
}

// Handler subscribes to request events, drives the order manager,
// forwards fills to the position manager and republishes lifecycle
// events. It owns only transient provenance metadata.
type Handler struct {
	cfg       Config
	logger    *slog.Logger
	bus       *bus.Bus
	orders    *order.Manager
	positions *position.Manager
	recorder  *metrics.Recorder
	atr       *indicator.ATR

	active     bool
	subs       []bus.Subscription
	provenance map[string]Provenance
}

// New creates a handler. Recorder is optional.
func New(cfg Config, b *bus.Bus, orders *order.Manager, positions *position.Manager, recorder *metrics.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:        cfg,
		logger:     logger,
		bus:        b,
		orders:     orders,
		positions:  positions,
		recorder:   recorder,
		atr:        indicator.NewATR(cfg.ATRPeriod),
		provenance: make(map[string]Provenance),
	}
}

// Start subscribes to request events. Idempotent.
func (h *Handler) Start() {
	if h.active {
		h.logger.Info("handler already started")
		return
	}
	h.subs = []bus.Subscription{
		h.bus.Subscribe(bus.EvSubmitOrder, h.onSubmitOrder),
		h.bus.Subscribe(bus.EvCancelOrder, h.onCancelOrder),
		h.bus.Subscribe(bus.EvModifyOrder, h.onModifyOrder),
		h.bus.Subscribe(bus.EvBarReceived, h.onBarReceived),
	}
	h.active = true
	h.logger.Info("order handler started")
}

// Stop unsubscribes and clears provenance metadata. Idempotent.
func (h *Handler) Stop() {
	if !h.active {
		h.logger.Info("handler already stopped")
		return
	}
	for _, sub := range h.subs {
		h.bus.Unsubscribe(sub)
	}
	h.subs = nil
	h.provenance = make(map[string]Provenance)
	h.active = false
	h.logger.Info("order handler stopped")
}

// Stats returns handler state counters.
func (h *Handler) Stats() Stats {
	return Stats{
		IsActive:          h.active,
		PendingOrderCount: h.orders.OpenOrderCount(),
		ProvenanceCount:   len(h.provenance),
	}
}

// onSubmitOrder validates and forwards a submit request to the order
// manager, then republishes the outcome. A failed submit never leaves
// a partially created order behind.
func (h *Handler) onSubmitOrder(ev bus.Event) {
	req, ok := ev.Payload.(bus.SubmitOrderRequest)
	if !ok {
		h.logger.Error("malformed submit request payload", "source", ev.Source)
		return
	}

	o, err := h.orders.Submit(order.Spec{
		InstrumentID:  req.InstrumentID,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		LimitPrice:    req.Price,
		StopPrice:     req.StopPrice,
		ParentTradeID: req.ParentTradeID,
		IsEntry:       req.IsEntry,
		IsExit:        req.IsExit,
	})
	if err != nil {
		h.logger.Warn("submit rejected",
			"instrument", req.InstrumentID,
			"side", req.Side.String(),
			"type", req.Type.String(),
			"qty", req.Quantity,
			"reason", err,
		)
		if h.recorder != nil {
			h.recorder.RecordReject(rejectReason(err))
		}
		h.bus.Publish(bus.EvOrderRejected, source, bus.OrderRejected{
			Reason:    err.Error(),
			OrderData: req,
		})
		return
	}

	h.provenance[o.ID] = Provenance{
		StrategyID: req.StrategyID,
		SignalID:   req.SignalID,
		TradeID:    req.TradeID,
		Reason:     req.Reason,
		Timestamp:  ev.Timestamp,
	}

	if h.recorder != nil {
		h.recorder.RecordOrder(o.InstrumentID, o.Side.String(), o.Status.String())
	}
	h.bus.Publish(bus.EvOrderSubmitted, source, bus.OrderSubmitted{
		Order:      *o,
		StrategyID: req.StrategyID,
		SignalID:   req.SignalID,
	})
}

// rejectReason maps a submit failure onto a stable, low-cardinality
// metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, types.ErrDuplicateOrder):
		return "duplicate_order"
	default:
		return "error"
	}
}

// onCancelOrder cancels one order by id, or every protective order of a
// parent trade.
func (h *Handler) onCancelOrder(ev bus.Event) {
	req, ok := ev.Payload.(bus.CancelOrderRequest)
	if !ok {
		h.logger.Error("malformed cancel request payload", "source", ev.Source)
		return
	}

	switch {
	case req.OrderID != "":
		if h.orders.Cancel(req.OrderID) {
			h.bus.Publish(bus.EvOrderCancelled, source, bus.OrderCancelled{
				OrderID:    req.OrderID,
				StrategyID: req.StrategyID,
			})
		} else {
			h.logger.Warn("cancel ignored", "order_id", req.OrderID)
		}
	case req.TradeID != "":
		n := h.orders.CancelByParentTrade(req.TradeID)
		h.logger.Info("cancelled orders by parent trade", "trade_id", req.TradeID, "count", n)
	default:
		h.logger.Warn("cancel request without order or trade id", "source", ev.Source)
	}
}

// onModifyOrder adjusts mutable fields of a still-open order. A missing
// order is logged and otherwise a no-op.
func (h *Handler) onModifyOrder(ev bus.Event) {
	req, ok := ev.Payload.(bus.ModifyOrderRequest)
	if !ok {
		h.logger.Error("malformed modify request payload", "source", ev.Source)
		return
	}

	if err := h.orders.Modify(req.OrderID, req.NewPrice, req.NewQuantity, req.NewStopPrice); err != nil {
		h.logger.Warn("modify failed", "order_id", req.OrderID, "err", err)
	}
}

// onBarReceived is informational in this subsystem: fill simulation is
// driven by SimulateBar, not duplicated here. The bar still feeds the
// ATR used for derived protective prices.
func (h *Handler) onBarReceived(ev bus.Event) {
	recv, ok := ev.Payload.(bus.BarReceived)
	if !ok {
		h.logger.Error("malformed bar payload", "source", ev.Source)
		return
	}
	h.atr.Update(recv.Bar.High, recv.Bar.Low, recv.Bar.Close)
}

// SimulateBar invokes the order manager once for all open orders on the
// instrument, routes every fill into the position ledger and
// republishes lifecycle events. Called once per bar by the replay
// driver.
func (h *Handler) SimulateBar(instrumentID string, bar types.Bar) []types.Fill {
	timer := metrics.NewTimer()
	fills := h.orders.ProcessBar(instrumentID, bar)
	timer.ObserveFillSimulation()

	if h.recorder != nil {
		h.recorder.RecordBar()
	}

	for _, fill := range fills {
		o := h.orders.Get(fill.OrderID)
		if h.recorder != nil {
			h.recorder.RecordFill(fill.InstrumentID, fill.Side.String())
			h.recorder.RecordOrder(o.InstrumentID, o.Side.String(), o.Status.String())
		}

		pos, err := h.positions.ProcessFill(o, fill)
		if err != nil {
			h.logger.Error("fill not applied to ledger",
				"order_id", fill.OrderID,
				"instrument", fill.InstrumentID,
				"qty", fill.Quantity,
				"err", err,
			)
			continue
		}

		h.bus.Publish(bus.EvOrderFilled, source, bus.OrderFilled{Order: *o, Fill: fill})

		// A filled protective order retires its siblings.
		if o.ParentTradeID != "" {
			h.orders.CancelByParentTrade(o.ParentTradeID)
		}

		if o.IsEntry && h.cfg.AutoProtect {
			h.protectNewLots(pos, fill)
		}
	}

	return fills
}

// protectNewLots creates protective orders for lots opened by the fill.
func (h *Handler) protectNewLots(pos *types.Position, fill types.Fill) {
	for i := range pos.OpenLots {
		lot := &pos.OpenLots[i]
		if lot.OrderID != fill.OrderID {
			continue
		}
		h.CreateProtectiveOrders(*lot, decimal.Zero, decimal.Zero)
	}
}

// CreateProtectiveOrders publishes submit requests for a stop-loss
// and/or take-profit guarding the trade, both tagged with the trade id
// so they can be bulk-cancelled together. Zero prices are derived from
// the current ATR when it is ready.
func (h *Handler) CreateProtectiveOrders(trade types.Trade, stopLossPrice, takeProfitPrice decimal.Decimal) {
	exitSide := types.Sell
	if trade.Side == types.SideShort {
		exitSide = types.Buy
	}

	entry := trade.EntryPrice.Abs()
	if stopLossPrice.IsZero() && h.atr.Ready() {
		dist := h.atr.Current().Mul(h.cfg.StopLossATRMultiple)
		if trade.Side == types.SideLong {
			stopLossPrice = entry.Sub(dist)
		} else {
			stopLossPrice = entry.Add(dist)
		}
	}
	if takeProfitPrice.IsZero() && h.atr.Ready() {
		dist := h.atr.Current().Mul(h.cfg.TakeProfitATRMultiple)
		if trade.Side == types.SideLong {
			takeProfitPrice = entry.Add(dist)
		} else {
			takeProfitPrice = entry.Sub(dist)
		}
	}

	if stopLossPrice.IsPositive() {
		h.bus.Publish(bus.EvSubmitOrder, source, bus.SubmitOrderRequest{
			InstrumentID:  trade.InstrumentID,
			Side:          exitSide,
			Type:          types.Stop,
			Quantity:      trade.RemainingQuantity,
			StopPrice:     stopLossPrice,
			ParentTradeID: trade.ID,
			IsExit:        true,
			Reason:        "stop-loss",
		})
	}
	if takeProfitPrice.IsPositive() {
		h.bus.Publish(bus.EvSubmitOrder, source, bus.SubmitOrderRequest{
			InstrumentID:  trade.InstrumentID,
			Side:          exitSide,
			Type:          types.Limit,
			Quantity:      trade.RemainingQuantity,
			Price:         takeProfitPrice,
			ParentTradeID: trade.ID,
			IsExit:        true,
			Reason:        "take-profit",
		})
	}
}

// ProvenanceFor returns the recorded provenance for an order id.
func (h *Handler) ProvenanceFor(orderID string) (Provenance, bool) {
	p, ok := h.provenance[orderID]
	return p, ok
}
