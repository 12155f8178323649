// Package bus provides the in-process publish/subscribe fabric that
// decouples order requesters from the order manager.
package bus

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/types"
)

// EventType identifies the kind of event on the bus.
type EventType int

const (
	// Inbound requests
	EvSubmitOrder EventType = iota + 1
	EvCancelOrder
	EvModifyOrder
	EvBarReceived

	// Outbound lifecycle events
	EvOrderSubmitted
	EvOrderRejected
	EvOrderCancelled
	EvOrderFilled
	EvPositionUpdated
)

func (t EventType) String() string {
	switch t {
	case EvSubmitOrder:
		return "SUBMIT_ORDER"
	case EvCancelOrder:
		return "CANCEL_ORDER"
	case EvModifyOrder:
		return "MODIFY_ORDER"
	case EvBarReceived:
		return "BAR_RECEIVED"
	case EvOrderSubmitted:
		return "ORDER_SUBMITTED"
	case EvOrderRejected:
		return "ORDER_REJECTED"
	case EvOrderCancelled:
		return "ORDER_CANCELLED"
	case EvOrderFilled:
		return "ORDER_FILLED"
	case EvPositionUpdated:
		return "POSITION_UPDATED"
	default:
		return "UNKNOWN"
	}
}

// Event is one message on the bus. Payload holds exactly one of the
// typed payload structs below, selected by Type.
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Payload   any
}

// SubmitOrderRequest asks the handler to create an order.
type SubmitOrderRequest struct {
	InstrumentID  string
	Side          types.OrderSide
	Type          types.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // limit price for LIMIT / STOP_LIMIT
	StopPrice     decimal.Decimal
	ParentTradeID string
	IsEntry       bool
	IsExit        bool

	// Provenance
	StrategyID string
	SignalID   string
	TradeID    string
	Reason     string
}

// CancelOrderRequest cancels one order by id, or every open order whose
// parent trade matches TradeID.
type CancelOrderRequest struct {
	OrderID    string
	TradeID    string
	StrategyID string
}

// ModifyOrderRequest adjusts mutable fields of a still-open order.
type ModifyOrderRequest struct {
	OrderID      string
	NewPrice     decimal.Decimal
	NewQuantity  decimal.Decimal
	NewStopPrice decimal.Decimal
}

// BarReceived announces a new bar for an instrument.
type BarReceived struct {
	InstrumentID string
	Bar          types.Bar
	BarIndex     int
}

// OrderSubmitted is published after a successful submit.
type OrderSubmitted struct {
	Order      types.Order
	StrategyID string
	SignalID   string
}

// OrderRejected is published when a submit request fails validation.
type OrderRejected struct {
	Reason    string
	OrderData SubmitOrderRequest
}

// OrderCancelled is published after a successful cancel.
type OrderCancelled struct {
	OrderID    string
	StrategyID string
}

// OrderFilled is published for every fill the order manager produces.
type OrderFilled struct {
	Order types.Order
	Fill  types.Fill
}

// PositionUpdated is published by the position manager after every
// ProcessFill or MarkToMarket.
type PositionUpdated struct {
	Position types.Position
}
