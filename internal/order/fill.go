package order

import (
	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/types"
)

// decideFill decides whether an open order executes against the bar and
// at what price. One decision function per order type; fills are
// all-or-nothing with no slippage.
func decideFill(o *types.Order, bar types.Bar) (decimal.Decimal, bool) {
	switch o.Type {
	case types.Market:
		return fillMarket(bar)
	case types.Limit:
		return fillLimit(o, bar)
	case types.Stop:
		return fillStop(o, bar)
	case types.StopLimit:
		return fillStopLimit(o, bar)
	default:
		return decimal.Zero, false
	}
}

// fillMarket executes immediately at the bar open.
func fillMarket(bar types.Bar) (decimal.Decimal, bool) {
	return bar.Open, true
}

// fillLimit executes at the limit price when the bar range touches it.
func fillLimit(o *types.Order, bar types.Bar) (decimal.Decimal, bool) {
	if bar.Contains(o.LimitPrice) {
		return o.LimitPrice, true
	}
	return decimal.Zero, false
}

// fillStop executes at the stop price when the bar range crosses it.
func fillStop(o *types.Order, bar types.Bar) (decimal.Decimal, bool) {
	if bar.Contains(o.StopPrice) {
		return o.StopPrice, true
	}
	return decimal.Zero, false
}

// fillStopLimit arms the stop leg on the bar that crosses the stop
// price, then executes at the limit price on the same or a later bar
// that reaches it.
func fillStopLimit(o *types.Order, bar types.Bar) (decimal.Decimal, bool) {
	if !o.StopTriggered && bar.Contains(o.StopPrice) {
		o.StopTriggered = true
	}
	if o.StopTriggered && bar.Contains(o.LimitPrice) {
		return o.LimitPrice, true
	}
	return decimal.Zero, false
}
