package position

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/bus"
	"github.com/duchuynh/tradesim/internal/metrics"
	"github.com/duchuynh/tradesim/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fillAt(t time.Time, side types.OrderSide, qty, price, commission string) types.Fill {
	return types.Fill{
		OrderID:      "order-" + side.String(),
		InstrumentID: "BTC-USD",
		Side:         side,
		Price:        d(price),
		Quantity:     d(qty),
		Commission:   d(commission),
		Timestamp:    t,
	}
}

func TestManager_OpenNewLong(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "10", "100", "1"))
	if err != nil {
		t.Fatalf("ProcessFill failed: %v", err)
	}

	if pos.Side != types.SideLong {
		t.Errorf("Side = %v, want LONG", pos.Side)
	}
	if !pos.Quantity.Equal(d("10")) {
		t.Errorf("Quantity = %s, want 10", pos.Quantity)
	}
	if !pos.AverageEntryPrice.Equal(d("100")) {
		t.Errorf("AverageEntryPrice = %s, want 100", pos.AverageEntryPrice)
	}
	if len(pos.OpenLots) != 1 {
		t.Fatalf("OpenLots = %d, want 1", len(pos.OpenLots))
	}
	if !pos.OpenLots[0].EntryPrice.Equal(d("100")) {
		t.Errorf("lot entry price = %s, want 100 (signed positive for long)", pos.OpenLots[0].EntryPrice)
	}
}

func TestManager_ShortLotStoresSignedEntryPrice(t *testing.T) {
	pm := NewManager(nil, nil, nil)

	pos, err := pm.ProcessFill(&types.Order{}, fillAt(time.Now(), types.Sell, "5", "200", "0.5"))
	if err != nil {
		t.Fatalf("ProcessFill failed: %v", err)
	}

	if pos.Side != types.SideShort {
		t.Errorf("Side = %v, want SHORT", pos.Side)
	}
	if !pos.OpenLots[0].EntryPrice.Equal(d("-200")) {
		t.Errorf("lot entry price = %s, want -200", pos.OpenLots[0].EntryPrice)
	}
	if !pos.AverageEntryPrice.Equal(d("200")) {
		t.Errorf("AverageEntryPrice = %s, want 200 (magnitude)", pos.AverageEntryPrice)
	}
}

func TestManager_RoundTripGoesFlat(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "10", "100", "1")); err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Sell, "10", "110", "1"))
	if err != nil {
		t.Fatalf("exit fill: %v", err)
	}

	if pos.Side != types.SideFlat {
		t.Errorf("Side = %v, want FLAT", pos.Side)
	}
	if !pos.Quantity.IsZero() {
		t.Errorf("Quantity = %s, want 0", pos.Quantity)
	}
	if len(pos.OpenLots) != 0 {
		t.Errorf("OpenLots = %d, want 0", len(pos.OpenLots))
	}

	// (110-100)*10 - 2 commission
	if !pos.RealizedPnL.Equal(d("98")) {
		t.Errorf("RealizedPnL = %s, want 98", pos.RealizedPnL)
	}
	if !pos.TotalCommission.Equal(d("2")) {
		t.Errorf("TotalCommission = %s, want 2", pos.TotalCommission)
	}
	if !pm.Conserved("BTC-USD") {
		t.Error("quantity conservation violated")
	}
}

func TestManager_PartialClose(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "10", "100", "1")); err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Sell, "4", "110", "0.4"))
	if err != nil {
		t.Fatalf("partial exit fill: %v", err)
	}

	if len(pos.OpenLots) != 1 {
		t.Fatalf("OpenLots = %d, want 1", len(pos.OpenLots))
	}
	if !pos.OpenLots[0].RemainingQuantity.Equal(d("6")) {
		t.Errorf("remaining = %s, want 6", pos.OpenLots[0].RemainingQuantity)
	}
	if len(pos.ClosedLots) != 1 {
		t.Fatalf("ClosedLots = %d, want 1", len(pos.ClosedLots))
	}

	closed := pos.ClosedLots[0]
	if !closed.Quantity.Equal(d("4")) {
		t.Errorf("closed quantity = %s, want 4", closed.Quantity)
	}
	// (110-100)*4 - 0.4 exit share - 0.4 proportional entry share
	if !closed.RealizedPnL.Equal(d("39.2")) {
		t.Errorf("closed RealizedPnL = %s, want 39.2", closed.RealizedPnL)
	}
	if !pos.RealizedPnL.Equal(d("39.2")) {
		t.Errorf("position RealizedPnL = %s, want 39.2", pos.RealizedPnL)
	}
	if !pm.Conserved("BTC-USD") {
		t.Error("quantity conservation violated")
	}
}

func TestManager_FIFOOrdering(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	// Lot A: 5 @ 100, lot B: 5 @ 105.
	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "5", "100", "0")); err != nil {
		t.Fatalf("lot A: %v", err)
	}
	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Buy, "5", "105", "0")); err != nil {
		t.Fatalf("lot B: %v", err)
	}

	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(2*time.Minute), types.Sell, "6", "110", "0"))
	if err != nil {
		t.Fatalf("closing fill: %v", err)
	}

	if len(pos.ClosedLots) != 2 {
		t.Fatalf("ClosedLots = %d, want 2", len(pos.ClosedLots))
	}
	// A closes first and fully.
	if !pos.ClosedLots[0].Quantity.Equal(d("5")) {
		t.Errorf("first closed qty = %s, want 5", pos.ClosedLots[0].Quantity)
	}
	if !pos.ClosedLots[0].EntryPrice.Equal(d("100")) {
		t.Errorf("first closed entry = %s, want 100", pos.ClosedLots[0].EntryPrice)
	}
	// Then one unit of B.
	if !pos.ClosedLots[1].Quantity.Equal(d("1")) {
		t.Errorf("second closed qty = %s, want 1", pos.ClosedLots[1].Quantity)
	}
	if !pos.ClosedLots[1].EntryPrice.Equal(d("105")) {
		t.Errorf("second closed entry = %s, want 105", pos.ClosedLots[1].EntryPrice)
	}

	if len(pos.OpenLots) != 1 {
		t.Fatalf("OpenLots = %d, want 1", len(pos.OpenLots))
	}
	if !pos.OpenLots[0].RemainingQuantity.Equal(d("4")) {
		t.Errorf("B remaining = %s, want 4", pos.OpenLots[0].RemainingQuantity)
	}
	if !pm.Conserved("BTC-USD") {
		t.Error("quantity conservation violated")
	}
}

func TestManager_SideFlip(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "5", "100", "0")); err != nil {
		t.Fatalf("long entry: %v", err)
	}
	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Sell, "8", "95", "0"))
	if err != nil {
		t.Fatalf("flip fill: %v", err)
	}

	if pos.Side != types.SideShort {
		t.Errorf("Side = %v, want SHORT", pos.Side)
	}
	if !pos.Quantity.Equal(d("3")) {
		t.Errorf("Quantity = %s, want 3", pos.Quantity)
	}
	if len(pos.OpenLots) != 1 {
		t.Fatalf("OpenLots = %d, want 1", len(pos.OpenLots))
	}
	if !pos.OpenLots[0].EntryPrice.Equal(d("-95")) {
		t.Errorf("new lot entry = %s, want -95", pos.OpenLots[0].EntryPrice)
	}
	// Long closed at a loss: (95-100)*5.
	if !pos.RealizedPnL.Equal(d("-25")) {
		t.Errorf("RealizedPnL = %s, want -25", pos.RealizedPnL)
	}
	if !pm.Conserved("BTC-USD") {
		t.Error("quantity conservation violated")
	}
}

func TestManager_ExactFlipLeavesNoZeroLot(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "5", "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Sell, "5", "101", "0"))
	if err != nil {
		t.Fatalf("exact close: %v", err)
	}

	if len(pos.OpenLots) != 0 {
		t.Errorf("OpenLots = %d, want 0 (no zero-quantity lot)", len(pos.OpenLots))
	}
	if pos.Side != types.SideFlat {
		t.Errorf("Side = %v, want FLAT", pos.Side)
	}
}

func TestManager_QuantityInvariantAfterEveryFill(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	fills := []types.Fill{
		fillAt(now, types.Buy, "10", "100", "1"),
		fillAt(now.Add(1*time.Minute), types.Buy, "3", "102", "0.3"),
		fillAt(now.Add(2*time.Minute), types.Sell, "7", "105", "0.7"),
		fillAt(now.Add(3*time.Minute), types.Sell, "9", "104", "0.9"),
		fillAt(now.Add(4*time.Minute), types.Buy, "4", "103", "0.4"),
	}

	for i, fill := range fills {
		pos, err := pm.ProcessFill(&types.Order{}, fill)
		if err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
		sum := decimal.Zero
		for _, lot := range pos.OpenLots {
			sum = sum.Add(lot.RemainingQuantity)
		}
		if !pos.Quantity.Equal(sum) {
			t.Errorf("after fill %d: Quantity = %s, sum of lot remainders = %s", i, pos.Quantity, sum)
		}
		if !pm.Conserved("BTC-USD") {
			t.Errorf("after fill %d: quantity conservation violated", i)
		}
	}
}

func TestManager_AverageEntryPriceWeighting(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "10", "100", "0")); err != nil {
		t.Fatalf("lot A: %v", err)
	}
	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Buy, "10", "110", "0"))
	if err != nil {
		t.Fatalf("lot B: %v", err)
	}

	if !pos.AverageEntryPrice.Equal(d("105")) {
		t.Errorf("AverageEntryPrice = %s, want 105", pos.AverageEntryPrice)
	}
}

func TestManager_MarkToMarket(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "10", "100", "1")); err != nil {
		t.Fatalf("entry: %v", err)
	}

	pos := pm.MarkToMarket("BTC-USD", d("107"))
	if pos == nil {
		t.Fatal("expected position snapshot")
	}
	if !pos.UnrealizedPnL.Equal(d("70")) {
		t.Errorf("UnrealizedPnL = %s, want 70", pos.UnrealizedPnL)
	}
	if !pos.MarketValue.Equal(d("1070")) {
		t.Errorf("MarketValue = %s, want 1070", pos.MarketValue)
	}
	// Realized figures untouched.
	if !pos.RealizedPnL.IsZero() {
		t.Errorf("RealizedPnL = %s, want 0", pos.RealizedPnL)
	}
	if len(pos.OpenLots) != 1 || !pos.OpenLots[0].RemainingQuantity.Equal(d("10")) {
		t.Error("MarkToMarket must not touch lots")
	}
}

func TestManager_MarkToMarketRecordsUnrealizedGauge(t *testing.T) {
	pm := NewManager(nil, metrics.NewRecorder(), nil)

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(time.Now(), types.Buy, "10", "100", "1")); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pm.MarkToMarket("BTC-USD", d("107"))

	var m dto.Metric
	if err := metrics.UnrealizedPnL.WithLabelValues("BTC-USD").Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 70 {
		t.Errorf("unrealized gauge = %v, want 70", got)
	}
}

func TestManager_MarkToMarketShort(t *testing.T) {
	pm := NewManager(nil, nil, nil)

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(time.Now(), types.Sell, "5", "200", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}

	pos := pm.MarkToMarket("BTC-USD", d("190"))
	if !pos.UnrealizedPnL.Equal(d("50")) {
		t.Errorf("UnrealizedPnL = %s, want 50 (short gains when price falls)", pos.UnrealizedPnL)
	}
}

func TestManager_MarkToMarketUnknownInstrument(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	if pos := pm.MarkToMarket("unknown", d("1")); pos != nil {
		t.Errorf("expected nil for unknown instrument, got %+v", pos)
	}
}

func TestManager_ExitFillFlipHaltsInstrument(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "5", "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}

	// Protective exit order for 8 against 5 open: must halt, not clamp.
	exitOrder := &types.Order{IsExit: true}
	_, err := pm.ProcessFill(exitOrder, fillAt(now.Add(time.Minute), types.Sell, "8", "95", "0"))
	if !errors.Is(err, types.ErrLedgerInconsistent) {
		t.Fatalf("err = %v, want ErrLedgerInconsistent", err)
	}
	if !pm.IsHalted("BTC-USD") {
		t.Error("instrument should be halted")
	}

	// Further fills rejected.
	_, err = pm.ProcessFill(&types.Order{}, fillAt(now.Add(2*time.Minute), types.Buy, "1", "100", "0"))
	if !errors.Is(err, types.ErrInstrumentHalted) {
		t.Errorf("err = %v, want ErrInstrumentHalted", err)
	}
}

func TestManager_ResetClearsLedgersAndHalts(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "5", "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}
	exitOrder := &types.Order{IsExit: true}
	_, _ = pm.ProcessFill(exitOrder, fillAt(now.Add(time.Minute), types.Sell, "9", "95", "0"))

	pm.Reset()

	if pm.Snapshot("BTC-USD") != nil {
		t.Error("snapshot should be nil after reset")
	}
	if pm.IsHalted("BTC-USD") {
		t.Error("halt flag should clear on reset")
	}
	if len(pm.AllPositions()) != 0 {
		t.Error("no positions should remain after reset")
	}
}

func TestManager_PortfolioTotals(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	fillA := fillAt(now, types.Buy, "10", "100", "0")
	fillA.InstrumentID = "AAA"
	fillB := fillAt(now, types.Buy, "2", "50", "0")
	fillB.InstrumentID = "BBB"

	if _, err := pm.ProcessFill(&types.Order{}, fillA); err != nil {
		t.Fatalf("AAA: %v", err)
	}
	if _, err := pm.ProcessFill(&types.Order{}, fillB); err != nil {
		t.Fatalf("BBB: %v", err)
	}

	pm.MarkToMarket("AAA", d("110"))
	pm.MarkToMarket("BBB", d("40"))

	totals := pm.Totals()
	if !totals.UnrealizedPnL.Equal(d("80")) { // +100 on AAA, -20 on BBB
		t.Errorf("UnrealizedPnL = %s, want 80", totals.UnrealizedPnL)
	}
	if !totals.TotalValue.Equal(d("1180")) { // 10*110 + 2*40
		t.Errorf("TotalValue = %s, want 1180", totals.TotalValue)
	}
	if !totals.RealizedPnL.IsZero() {
		t.Errorf("RealizedPnL = %s, want 0", totals.RealizedPnL)
	}
}

func TestManager_TradeHistoryChronological(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "5", "100", "0")); err != nil {
		t.Fatalf("lot A: %v", err)
	}
	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Buy, "5", "105", "0")); err != nil {
		t.Fatalf("lot B: %v", err)
	}
	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(2*time.Minute), types.Sell, "3", "110", "0")); err != nil {
		t.Fatalf("close: %v", err)
	}

	history := pm.TradeHistory("BTC-USD")
	if len(history) != 3 { // closed part of A, open rest of A, open B
		t.Fatalf("history = %d records, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].EntryTime.Before(history[i-1].EntryTime) {
			t.Errorf("record %d out of chronological order", i)
		}
	}
}

func TestManager_SnapshotIsDeepCopy(t *testing.T) {
	pm := NewManager(nil, nil, nil)

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(time.Now(), types.Buy, "10", "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}

	snap := pm.Snapshot("BTC-USD")
	snap.OpenLots[0].RemainingQuantity = d("999")
	snap.Quantity = d("999")

	fresh := pm.Snapshot("BTC-USD")
	if !fresh.OpenLots[0].RemainingQuantity.Equal(d("10")) {
		t.Error("mutating a snapshot leaked into the ledger")
	}
}

func TestManager_PublishesPositionUpdated(t *testing.T) {
	b := bus.New(nil)
	pm := NewManager(b, nil, nil)

	var updates []bus.PositionUpdated
	b.Subscribe(bus.EvPositionUpdated, func(ev bus.Event) {
		updates = append(updates, ev.Payload.(bus.PositionUpdated))
	})

	if _, err := pm.ProcessFill(&types.Order{}, fillAt(time.Now(), types.Buy, "10", "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pm.MarkToMarket("BTC-USD", d("101"))

	if len(updates) != 2 {
		t.Fatalf("got %d POSITION_UPDATED events, want 2", len(updates))
	}
	if !updates[1].Position.UnrealizedPnL.Equal(d("10")) {
		t.Errorf("second update UnrealizedPnL = %s, want 10", updates[1].Position.UnrealizedPnL)
	}
}

func TestManager_CommissionAllocationAcrossLots(t *testing.T) {
	pm := NewManager(nil, nil, nil)
	now := time.Now()

	// Two lots with commission 1 each; close 15 of 20 with commission 1.5.
	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now, types.Buy, "10", "100", "1")); err != nil {
		t.Fatalf("lot A: %v", err)
	}
	if _, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(time.Minute), types.Buy, "10", "100", "1")); err != nil {
		t.Fatalf("lot B: %v", err)
	}
	pos, err := pm.ProcessFill(&types.Order{}, fillAt(now.Add(2*time.Minute), types.Sell, "15", "100", "1.5"))
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	// Flat prices: realized P&L is pure commission cost.
	// Lot A: entry share 1.0, exit share 10/15*1.5 = 1.0
	// Lot B (5 of 10): entry share 0.5, exit share 5/15*1.5 = 0.5
	if !pos.RealizedPnL.Equal(d("-3")) {
		t.Errorf("RealizedPnL = %s, want -3", pos.RealizedPnL)
	}
	// Total commission charged so far: entry shares 1.5 + exit 1.5.
	if !pos.TotalCommission.Equal(d("3")) {
		t.Errorf("TotalCommission = %s, want 3", pos.TotalCommission)
	}
	// Remaining open lot still carries its unconsumed entry commission.
	if !pos.OpenLots[0].Commission.Equal(d("1")) {
		t.Errorf("open lot commission = %s, want 1", pos.OpenLots[0].Commission)
	}
}
