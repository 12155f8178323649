// Package order provides the order manager: the authoritative owner of
// order lifecycle state and the per-bar fill simulator.
package order

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/types"
)

// Config holds order manager configuration.
type Config struct {
	CommissionPerUnit decimal.Decimal // commission per quantity unit per side
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CommissionPerUnit: decimal.RequireFromString("0.1"),
	}
}

// Spec describes an order to submit. Validation happens in Submit.
type Spec struct {
	InstrumentID  string
	Side          types.OrderSide
	Type          types.OrderType
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	ParentTradeID string
	IsEntry       bool
	IsExit        bool
}

// Manager owns all order state. No other component mutates an order.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	orders  map[string]*types.Order
	openIDs []string // submission order, preserved for per-bar simulation
	allIDs  []string // submission order, every order ever accepted
}

// NewManager creates an order manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		orders: make(map[string]*types.Order),
	}
}

// SetClock overrides the submission timestamp source. Used by the
// backtest runner to stamp orders with bar time instead of wall time.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// validate checks the spec against the per-type field requirements.
func validate(spec Spec) error {
	if spec.InstrumentID == "" {
		return fmt.Errorf("%w: missing instrument id", types.ErrInvalidOrder)
	}
	if !spec.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", types.ErrInvalidOrder, spec.Quantity)
	}
	if spec.Type.NeedsLimitPrice() && !spec.LimitPrice.IsPositive() {
		return fmt.Errorf("%w: %s order requires a limit price", types.ErrInvalidOrder, spec.Type)
	}
	if spec.Type.NeedsStopPrice() && !spec.StopPrice.IsPositive() {
		return fmt.Errorf("%w: %s order requires a stop price", types.ErrInvalidOrder, spec.Type)
	}
	return nil
}

// Submit validates the spec and creates a new order in SUBMITTED state.
// On validation failure no order record is created.
func (m *Manager) Submit(spec Spec) (*types.Order, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}

	o := &types.Order{
		ID:            uuid.New().String(),
		InstrumentID:  spec.InstrumentID,
		Side:          spec.Side,
		Type:          spec.Type,
		Quantity:      spec.Quantity,
		LimitPrice:    spec.LimitPrice,
		StopPrice:     spec.StopPrice,
		Status:        types.OrderStatusPending,
		ParentTradeID: spec.ParentTradeID,
		IsEntry:       spec.IsEntry,
		IsExit:        spec.IsExit,
	}

	m.transition(o, types.OrderStatusSubmitted)
	o.SubmittedAt = m.now()

	m.orders[o.ID] = o
	m.openIDs = append(m.openIDs, o.ID)
	m.allIDs = append(m.allIDs, o.ID)

	m.logger.Debug("order submitted",
		"order_id", o.ID,
		"instrument", o.InstrumentID,
		"side", o.Side.String(),
		"type", o.Type.String(),
		"qty", o.Quantity,
	)

	return snapshot(o), nil
}

// Cancel transitions an open order to CANCELLED. Returns false if the
// order is unknown or already terminal.
func (m *Manager) Cancel(orderID string) bool {
	o, ok := m.orders[orderID]
	if !ok || o.Status.IsFinal() {
		return false
	}

	m.transition(o, types.OrderStatusCancelled)
	m.removeOpen(orderID)

	m.logger.Debug("order cancelled", "order_id", orderID)
	return true
}

// CancelByParentTrade cancels every open order whose parent trade
// matches. Returns the number of orders cancelled.
func (m *Manager) CancelByParentTrade(tradeID string) int {
	cancelled := 0
	// Iterate a copy: Cancel mutates openIDs.
	ids := make([]string, len(m.openIDs))
	copy(ids, m.openIDs)
	for _, id := range ids {
		o := m.orders[id]
		if o.ParentTradeID == tradeID && m.Cancel(id) {
			cancelled++
		}
	}
	if cancelled > 0 {
		m.logger.Debug("cancelled protective orders", "parent_trade_id", tradeID, "count", cancelled)
	}
	return cancelled
}

// Modify adjusts mutable fields of a still-open order. Zero-valued
// arguments leave the corresponding field untouched. Status never
// changes here.
func (m *Manager) Modify(orderID string, newPrice, newQuantity, newStopPrice decimal.Decimal) error {
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if o.Status.IsFinal() {
		return fmt.Errorf("%w: %s is %s", types.ErrOrderFinal, orderID, o.Status)
	}

	if newPrice.IsPositive() && o.Type.NeedsLimitPrice() {
		o.LimitPrice = newPrice
	}
	if newQuantity.IsPositive() {
		o.Quantity = newQuantity
	}
	if newStopPrice.IsPositive() && o.Type.NeedsStopPrice() {
		o.StopPrice = newStopPrice
	}
	return nil
}

// ProcessBar runs fill simulation for every open order on the
// instrument, in submission order. Filled orders transition to FILLED
// and their fills are returned in execution order.
//
// Sibling exits of one parent trade are one-cancels-other within the
// bar: once one fills, the rest are cancelled instead of simulated, so
// a bar wide enough to span both a stop and a target produces exactly
// one exit fill. The stop is submitted before the target, so it wins
// the tie.
func (m *Manager) ProcessBar(instrumentID string, bar types.Bar) []types.Fill {
	var fills []types.Fill
	filledTrades := make(map[string]bool)

	ids := make([]string, len(m.openIDs))
	copy(ids, m.openIDs)

	for _, id := range ids {
		o := m.orders[id]
		if o.InstrumentID != instrumentID || o.Status.IsFinal() {
			continue
		}

		if o.ParentTradeID != "" && filledTrades[o.ParentTradeID] {
			m.transition(o, types.OrderStatusCancelled)
			m.removeOpen(o.ID)
			m.logger.Debug("cancelled sibling exit",
				"order_id", o.ID,
				"parent_trade_id", o.ParentTradeID,
			)
			continue
		}

		price, ok := decideFill(o, bar)
		if !ok {
			continue
		}

		commission := m.cfg.CommissionPerUnit.Mul(o.Quantity)
		fill := types.Fill{
			OrderID:      o.ID,
			InstrumentID: o.InstrumentID,
			Side:         o.Side,
			Price:        price,
			Quantity:     o.Quantity,
			Commission:   commission,
			Timestamp:    bar.Timestamp,
		}

		o.FilledQuantity = o.Quantity
		o.AverageFillPrice = price
		o.Commission = commission
		m.transition(o, types.OrderStatusFilled)
		m.removeOpen(o.ID)
		if o.ParentTradeID != "" {
			filledTrades[o.ParentTradeID] = true
		}

		m.logger.Debug("order filled",
			"order_id", o.ID,
			"instrument", o.InstrumentID,
			"price", price,
			"qty", o.Quantity,
		)

		fills = append(fills, fill)
	}

	return fills
}

// Get returns a copy of the order, or nil if unknown.
func (m *Manager) Get(orderID string) *types.Order {
	o, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	return snapshot(o)
}

// OpenOrders returns copies of all non-terminal orders in submission order.
func (m *Manager) OpenOrders() []types.Order {
	out := make([]types.Order, 0, len(m.openIDs))
	for _, id := range m.openIDs {
		out = append(out, *snapshot(m.orders[id]))
	}
	return out
}

// OpenOrderCount returns the number of non-terminal orders.
func (m *Manager) OpenOrderCount() int {
	return len(m.openIDs)
}

// AllOrders returns copies of every order ever submitted, in
// submission order.
func (m *Manager) AllOrders() []types.Order {
	out := make([]types.Order, 0, len(m.allIDs))
	for _, id := range m.allIDs {
		out = append(out, *snapshot(m.orders[id]))
	}
	return out
}

// Reset discards all order state.
func (m *Manager) Reset() {
	m.orders = make(map[string]*types.Order)
	m.openIDs = nil
	m.allIDs = nil
}

// transition moves the order through the state machine, logging any
// disallowed move before applying it is refused.
func (m *Manager) transition(o *types.Order, next types.OrderStatus) {
	if !o.Status.CanTransitionTo(next) {
		m.logger.Error("refusing illegal order transition",
			"order_id", o.ID,
			"from", o.Status.String(),
			"to", next.String(),
		)
		return
	}
	o.Status = next
}

func (m *Manager) removeOpen(orderID string) {
	for i, id := range m.openIDs {
		if id == orderID {
			m.openIDs = append(m.openIDs[:i], m.openIDs[i+1:]...)
			return
		}
	}
}

func snapshot(o *types.Order) *types.Order {
	cp := *o
	return &cp
}
