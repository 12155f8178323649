// Package types defines shared types used across the simulation engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the direction of an order.
type OrderSide int

const (
	Buy OrderSide = iota
	Sell
)

func (s OrderSide) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Opposite returns the opposite order side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide represents the direction of an open position.
type PositionSide int

const (
	SideFlat PositionSide = iota
	SideLong
	SideShort
)

func (s PositionSide) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// OrderType represents how an order fills against a bar.
type OrderType int

const (
	Market OrderType = iota
	Limit
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	default:
		return "MARKET"
	}
}

// NeedsLimitPrice reports whether the type requires a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == Limit || t == StopLimit
}

// NeedsStopPrice reports whether the type requires a stop price.
func (t OrderType) NeedsStopPrice() bool {
	return t == Stop || t == StopLimit
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus int

const (
	OrderStatusPending OrderStatus = iota
	OrderStatusSubmitted
	OrderStatusPartialFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartialFilled:
		return "PARTIAL_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
// Terminal orders never transition again.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusSubmitted || next == OrderStatusRejected
	case OrderStatusSubmitted:
		switch next {
		case OrderStatusPartialFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
			return true
		}
	case OrderStatusPartialFilled:
		return next == OrderStatusFilled || next == OrderStatusCancelled
	}
	return false
}

// Bar is one OHLCV bar of market data.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Contains reports whether price is inside the bar's trading range.
func (b Bar) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(b.Low) && price.LessThanOrEqual(b.High)
}

// Order is a simulated order. Identity fields are immutable after Submit;
// lifecycle fields are mutated only by the order manager.
type Order struct {
	ID           string
	InstrumentID string
	Side         OrderSide
	Type         OrderType
	Quantity     decimal.Decimal
	LimitPrice   decimal.Decimal
	StopPrice    decimal.Decimal

	Status           OrderStatus
	SubmittedAt      time.Time
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	Commission       decimal.Decimal

	// Protective orders reference the trade they guard.
	ParentTradeID string
	IsEntry       bool
	IsExit        bool

	// Stop-limit orders remember that the stop leg already triggered
	// so a later bar only needs to reach the limit price.
	StopTriggered bool
}

// IsOpen reports whether the order can still fill or be cancelled.
func (o *Order) IsOpen() bool {
	return !o.Status.IsFinal()
}

// Fill is one execution produced by the order manager against a bar.
type Fill struct {
	OrderID      string
	InstrumentID string
	Side         OrderSide
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Commission   decimal.Decimal
	Timestamp    time.Time
}

// Trade is a FIFO lot: one open-quantity record created at an entry fill
// and consumed oldest-first by opposing fills.
//
// EntryPrice is stored signed: negative for short lots. Consumers that
// display prices should use the magnitude.
type Trade struct {
	ID                string
	OrderID           string
	InstrumentID      string
	Side              PositionSide
	Quantity          decimal.Decimal
	RemainingQuantity decimal.Decimal
	EntryPrice        decimal.Decimal
	EntryTime         time.Time
	Commission        decimal.Decimal

	ExitPrice   decimal.Decimal
	ExitTime    time.Time
	RealizedPnL decimal.Decimal
	IsOpen      bool
}

// Position is a read-only snapshot of one instrument's ledger.
// Snapshots are deep copies; mutating one never touches the ledger.
type Position struct {
	InstrumentID      string
	Side              PositionSide
	Quantity          decimal.Decimal
	AverageEntryPrice decimal.Decimal
	MarketValue       decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	RealizedPnL       decimal.Decimal
	TotalCommission   decimal.Decimal
	OpenLots          []Trade
	ClosedLots        []Trade
	LastUpdate        time.Time
}

// SignalType identifies a trend signal from the external detector.
type SignalType int

const (
	SignalUptrendStart SignalType = iota
	SignalDowntrendStart
)

func (t SignalType) String() string {
	if t == SignalDowntrendStart {
		return "downtrend_start"
	}
	return "uptrend_start"
}

// Signal is one event from the external trend detector.
type Signal struct {
	ID        string
	Type      SignalType
	BarIndex  int
	Price     decimal.Decimal
	Timestamp time.Time
}
