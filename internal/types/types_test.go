package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderSide_Opposite(t *testing.T) {
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("Opposite is not an involution")
	}
}

func TestOrderType_PriceRequirements(t *testing.T) {
	cases := []struct {
		typ        OrderType
		needsLimit bool
		needsStop  bool
	}{
		{Market, false, false},
		{Limit, true, false},
		{Stop, false, true},
		{StopLimit, true, true},
	}
	for _, tc := range cases {
		if got := tc.typ.NeedsLimitPrice(); got != tc.needsLimit {
			t.Errorf("%s.NeedsLimitPrice() = %v, want %v", tc.typ, got, tc.needsLimit)
		}
		if got := tc.typ.NeedsStopPrice(); got != tc.needsStop {
			t.Errorf("%s.NeedsStopPrice() = %v, want %v", tc.typ, got, tc.needsStop)
		}
	}
}

func TestOrderStatus_IsFinal(t *testing.T) {
	final := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected}
	for _, s := range final {
		if !s.IsFinal() {
			t.Errorf("%s.IsFinal() = false", s)
		}
	}
	open := []OrderStatus{OrderStatusPending, OrderStatusSubmitted, OrderStatusPartialFilled}
	for _, s := range open {
		if s.IsFinal() {
			t.Errorf("%s.IsFinal() = true", s)
		}
	}
}

func TestOrderStatus_Transitions(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{OrderStatusPending, OrderStatusSubmitted},
		{OrderStatusPending, OrderStatusRejected},
		{OrderStatusSubmitted, OrderStatusPartialFilled},
		{OrderStatusSubmitted, OrderStatusFilled},
		{OrderStatusSubmitted, OrderStatusCancelled},
		{OrderStatusSubmitted, OrderStatusRejected},
		{OrderStatusPartialFilled, OrderStatusFilled},
		{OrderStatusPartialFilled, OrderStatusCancelled},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to OrderStatus }{
		{OrderStatusPending, OrderStatusFilled},
		{OrderStatusFilled, OrderStatusCancelled},
		{OrderStatusFilled, OrderStatusSubmitted},
		{OrderStatusCancelled, OrderStatusFilled},
		{OrderStatusRejected, OrderStatusSubmitted},
		{OrderStatusPartialFilled, OrderStatusSubmitted},
		{OrderStatusSubmitted, OrderStatusPending},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be refused", tc.from, tc.to)
		}
	}
}

func TestBar_Contains(t *testing.T) {
	bar := Bar{Open: d("100"), High: d("105"), Low: d("98"), Close: d("103")}

	for _, price := range []string{"98", "100", "105"} {
		if !bar.Contains(d(price)) {
			t.Errorf("Contains(%s) = false, want true", price)
		}
	}
	for _, price := range []string{"97.99", "105.01"} {
		if bar.Contains(d(price)) {
			t.Errorf("Contains(%s) = true, want false", price)
		}
	}
}

func TestOrder_IsOpen(t *testing.T) {
	o := &Order{Status: OrderStatusSubmitted}
	if !o.IsOpen() {
		t.Error("submitted order should be open")
	}
	o.Status = OrderStatusFilled
	if o.IsOpen() {
		t.Error("filled order should not be open")
	}
}

func TestSignalType_String(t *testing.T) {
	if SignalUptrendStart.String() != "uptrend_start" {
		t.Errorf("uptrend = %q", SignalUptrendStart.String())
	}
	if SignalDowntrendStart.String() != "downtrend_start" {
		t.Errorf("downtrend = %q", SignalDowntrendStart.String())
	}
}
