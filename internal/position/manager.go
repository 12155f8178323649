// Package position provides the position manager: the exclusive owner
// of the per-instrument FIFO lot ledger and all realized/unrealized
// P&L accounting.
package position

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/bus"
	"github.com/duchuynh/tradesim/internal/metrics"
	"github.com/duchuynh/tradesim/internal/types"
)

// book is the mutable ledger for one instrument. Only the manager
// touches it; everything handed out is a deep copy.
type book struct {
	instrumentID    string
	openLots        []*types.Trade // FIFO: ordered by entry time ascending
	closedLots      []types.Trade
	realizedPnL     decimal.Decimal
	totalCommission decimal.Decimal
	unrealizedPnL   decimal.Decimal
	marketValue     decimal.Decimal
	lastPrice       decimal.Decimal
	lastUpdate      time.Time

	// Conservation check: cumulative filled quantity ever recorded.
	cumulativeFilled decimal.Decimal
}

// Manager consumes fills, applies FIFO matching and exposes read-only
// position snapshots.
type Manager struct {
	logger   *slog.Logger
	bus      *bus.Bus
	recorder *metrics.Recorder

	books  map[string]*book
	halted map[string]bool
}

// NewManager creates a position manager. The bus is optional; when set,
// POSITION_UPDATED is published after every mutation. The recorder is
// optional as well.
func NewManager(b *bus.Bus, recorder *metrics.Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		bus:      b,
		recorder: recorder,
		books:    make(map[string]*book),
		halted:   make(map[string]bool),
	}
}

// ProcessFill is the sole mutation entry point of the ledger. Opposing
// quantity FIFO-closes existing lots oldest-first; any remainder opens
// a new lot on the other side. Returns the post-mutation snapshot.
func (m *Manager) ProcessFill(order *types.Order, fill types.Fill) (*types.Position, error) {
	if m.halted[fill.InstrumentID] {
		return nil, fmt.Errorf("%w: %s", types.ErrInstrumentHalted, fill.InstrumentID)
	}
	if !fill.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: fill quantity %s", types.ErrInvalidData, fill.Quantity)
	}

	bk, ok := m.books[fill.InstrumentID]
	if !ok {
		bk = &book{instrumentID: fill.InstrumentID}
		m.books[fill.InstrumentID] = bk
	}

	bk.cumulativeFilled = bk.cumulativeFilled.Add(fill.Quantity)

	fillSide := types.SideLong
	if fill.Side == types.Sell {
		fillSide = types.SideShort
	}

	remaining := fill.Quantity

	// Opposing fill: close existing lots oldest-first.
	if bk.side() != types.SideFlat && bk.side() != fillSide {
		var err error
		remaining, err = m.closeLots(bk, fill, remaining)
		if err != nil {
			m.halt(bk.instrumentID)
			return nil, err
		}
	}

	// Remainder opens (or extends) the position on the fill side.
	if remaining.IsPositive() {
		if order != nil && order.IsExit {
			// An exit order flipping the side means the ledger and
			// the order flow disagree. Halt rather than clamp.
			m.halt(bk.instrumentID)
			return nil, fmt.Errorf("%w: exit fill %s leaves %s unmatched on %s",
				types.ErrLedgerInconsistent, fill.OrderID, remaining, bk.instrumentID)
		}
		m.openLot(bk, fill, fillSide, remaining)
	}

	bk.lastPrice = fill.Price
	bk.lastUpdate = fill.Timestamp
	bk.refreshMarks(fill.Price)

	snap := bk.snapshot()
	m.publish(snap)
	m.record(bk)
	return snap, nil
}

// closeLots consumes open lots FIFO against an opposing fill, realizing
// P&L and allocating commission proportionally. Returns the fill
// quantity left after all matching.
func (m *Manager) closeLots(bk *book, fill types.Fill, remaining decimal.Decimal) (decimal.Decimal, error) {
	exitPrice := fill.Price

	for remaining.IsPositive() && len(bk.openLots) > 0 {
		lot := bk.openLots[0]

		closedQty := decimal.Min(remaining, lot.RemainingQuantity)
		if !closedQty.IsPositive() {
			return remaining, fmt.Errorf("%w: lot %s has remaining %s on %s",
				types.ErrLedgerInconsistent, lot.ID, lot.RemainingQuantity, bk.instrumentID)
		}

		entryPrice := lot.EntryPrice.Abs()
		var gross decimal.Decimal
		if lot.Side == types.SideLong {
			gross = exitPrice.Sub(entryPrice).Mul(closedQty)
		} else {
			gross = entryPrice.Sub(exitPrice).Mul(closedQty)
		}

		entryShare := closedQty.Div(lot.Quantity).Mul(lot.Commission)
		exitShare := closedQty.Div(fill.Quantity).Mul(fill.Commission)
		realized := gross.Sub(entryShare).Sub(exitShare)

		lot.RemainingQuantity = lot.RemainingQuantity.Sub(closedQty)
		if lot.RemainingQuantity.IsNegative() {
			return remaining, fmt.Errorf("%w: lot %s driven negative on %s",
				types.ErrLedgerInconsistent, lot.ID, bk.instrumentID)
		}

		closed := types.Trade{
			ID:                lot.ID,
			OrderID:           lot.OrderID,
			InstrumentID:      lot.InstrumentID,
			Side:              lot.Side,
			Quantity:          closedQty,
			RemainingQuantity: decimal.Zero,
			EntryPrice:        lot.EntryPrice,
			EntryTime:         lot.EntryTime,
			Commission:        entryShare.Add(exitShare),
			ExitPrice:         exitPrice,
			ExitTime:          fill.Timestamp,
			RealizedPnL:       realized,
			IsOpen:            false,
		}
		bk.closedLots = append(bk.closedLots, closed)

		bk.realizedPnL = bk.realizedPnL.Add(realized)
		bk.totalCommission = bk.totalCommission.Add(entryShare).Add(exitShare)
		remaining = remaining.Sub(closedQty)

		if lot.RemainingQuantity.IsZero() {
			lot.IsOpen = false
			bk.openLots = bk.openLots[1:]
		}

		m.logger.Debug("lot closed",
			"instrument", bk.instrumentID,
			"lot_id", lot.ID,
			"closed_qty", closedQty,
			"realized_pnl", realized,
		)
	}

	return remaining, nil
}

// openLot appends a new FIFO lot for the unmatched fill quantity.
// The entry price is stored signed: negative for short lots.
func (m *Manager) openLot(bk *book, fill types.Fill, side types.PositionSide, qty decimal.Decimal) {
	entryPrice := fill.Price
	if side == types.SideShort {
		entryPrice = entryPrice.Neg()
	}

	// The lot carries only its share of the fill's commission; the
	// rest was already charged against the lots this fill closed.
	commission := qty.Div(fill.Quantity).Mul(fill.Commission)

	lot := &types.Trade{
		ID:                uuid.New().String(),
		OrderID:           fill.OrderID,
		InstrumentID:      fill.InstrumentID,
		Side:              side,
		Quantity:          qty,
		RemainingQuantity: qty,
		EntryPrice:        entryPrice,
		EntryTime:         fill.Timestamp,
		Commission:        commission,
		IsOpen:            true,
	}
	bk.openLots = append(bk.openLots, lot)

	m.logger.Debug("lot opened",
		"instrument", bk.instrumentID,
		"lot_id", lot.ID,
		"side", side.String(),
		"qty", qty,
		"entry", fill.Price,
	)
}

// MarkToMarket recomputes unrealized P&L and market value at the given
// price. Lots and realized figures are untouched.
func (m *Manager) MarkToMarket(instrumentID string, price decimal.Decimal) *types.Position {
	bk, ok := m.books[instrumentID]
	if !ok {
		return nil
	}

	bk.lastPrice = price
	bk.refreshMarks(price)
	if m.recorder != nil {
		m.recorder.RecordUnrealizedPnL(instrumentID, bk.unrealizedPnL)
	}

	snap := bk.snapshot()
	m.publish(snap)
	return snap
}

// Snapshot returns a deep copy of the instrument's position, or nil if
// the instrument has never traded.
func (m *Manager) Snapshot(instrumentID string) *types.Position {
	bk, ok := m.books[instrumentID]
	if !ok {
		return nil
	}
	return bk.snapshot()
}

// AllPositions returns snapshots for every instrument, sorted by id.
func (m *Manager) AllPositions() []types.Position {
	ids := make([]string, 0, len(m.books))
	for id := range m.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]types.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.books[id].snapshot())
	}
	return out
}

// PortfolioTotals sums value and P&L across all instruments.
type PortfolioTotals struct {
	TotalValue    decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Totals returns portfolio-wide value and P&L sums.
func (m *Manager) Totals() PortfolioTotals {
	var t PortfolioTotals
	for _, bk := range m.books {
		t.TotalValue = t.TotalValue.Add(bk.marketValue)
		t.RealizedPnL = t.RealizedPnL.Add(bk.realizedPnL)
		t.UnrealizedPnL = t.UnrealizedPnL.Add(bk.unrealizedPnL)
	}
	return t
}

// TradeHistory returns open and closed lots in chronological order of
// entry time. Empty instrumentID means all instruments.
func (m *Manager) TradeHistory(instrumentID string) []types.Trade {
	var out []types.Trade
	for id, bk := range m.books {
		if instrumentID != "" && id != instrumentID {
			continue
		}
		out = append(out, bk.closedLots...)
		for _, lot := range bk.openLots {
			out = append(out, *lot)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Conserved verifies quantity conservation for an instrument: every
// filled unit is either still open in a lot or was consumed once on
// entry and once on exit by a closed lot.
func (m *Manager) Conserved(instrumentID string) bool {
	bk, ok := m.books[instrumentID]
	if !ok {
		return true
	}
	accounted := bk.quantity()
	for _, closed := range bk.closedLots {
		accounted = accounted.Add(closed.Quantity.Mul(decimal.NewFromInt(2)))
	}
	return accounted.Equal(bk.cumulativeFilled)
}

// IsHalted reports whether the instrument stopped accepting fills after
// a ledger inconsistency.
func (m *Manager) IsHalted(instrumentID string) bool {
	return m.halted[instrumentID]
}

// Reset clears all ledgers and halt flags. Used between backtest runs.
func (m *Manager) Reset() {
	m.books = make(map[string]*book)
	m.halted = make(map[string]bool)
}

func (m *Manager) halt(instrumentID string) {
	m.halted[instrumentID] = true
	m.logger.Error("instrument halted: ledger inconsistency", "instrument", instrumentID)
	if m.recorder != nil {
		m.recorder.RecordLedgerHalt(instrumentID)
	}
}

func (m *Manager) publish(snap *types.Position) {
	if m.bus != nil {
		m.bus.Publish(bus.EvPositionUpdated, "position-manager", bus.PositionUpdated{Position: *snap})
	}
}

func (m *Manager) record(bk *book) {
	if m.recorder == nil {
		return
	}
	m.recorder.RecordOpenLots(bk.instrumentID, len(bk.openLots))
	m.recorder.RecordRealizedPnL(bk.instrumentID, bk.realizedPnL)
	m.recorder.RecordPositionQuantity(bk.instrumentID, bk.side().String(), bk.quantity())
}

// side derives LONG/SHORT/FLAT from the oldest open lot.
func (bk *book) side() types.PositionSide {
	if len(bk.openLots) == 0 {
		return types.SideFlat
	}
	if bk.openLots[0].EntryPrice.IsNegative() {
		return types.SideShort
	}
	return types.SideLong
}

// quantity is the sum of remaining quantity across open lots.
func (bk *book) quantity() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range bk.openLots {
		total = total.Add(lot.RemainingQuantity)
	}
	return total
}

// averageEntryPrice is the remaining-quantity weighted mean of entry
// price magnitudes. Zero when flat.
func (bk *book) averageEntryPrice() decimal.Decimal {
	qty := bk.quantity()
	if qty.IsZero() {
		return decimal.Zero
	}
	weighted := decimal.Zero
	for _, lot := range bk.openLots {
		weighted = weighted.Add(lot.RemainingQuantity.Mul(lot.EntryPrice.Abs()))
	}
	return weighted.Div(qty)
}

// refreshMarks recomputes unrealized P&L and market value at price.
func (bk *book) refreshMarks(price decimal.Decimal) {
	unrealized := decimal.Zero
	for _, lot := range bk.openLots {
		entry := lot.EntryPrice.Abs()
		if lot.Side == types.SideLong {
			unrealized = unrealized.Add(price.Sub(entry).Mul(lot.RemainingQuantity))
		} else {
			unrealized = unrealized.Add(entry.Sub(price).Mul(lot.RemainingQuantity))
		}
	}
	bk.unrealizedPnL = unrealized
	bk.marketValue = bk.quantity().Mul(price)
}

// snapshot deep-copies the book into a read-only Position.
func (bk *book) snapshot() *types.Position {
	open := make([]types.Trade, len(bk.openLots))
	for i, lot := range bk.openLots {
		open[i] = *lot
	}
	closed := make([]types.Trade, len(bk.closedLots))
	copy(closed, bk.closedLots)

	return &types.Position{
		InstrumentID:      bk.instrumentID,
		Side:              bk.side(),
		Quantity:          bk.quantity(),
		AverageEntryPrice: bk.averageEntryPrice(),
		MarketValue:       bk.marketValue,
		UnrealizedPnL:     bk.unrealizedPnL,
		RealizedPnL:       bk.realizedPnL,
		TotalCommission:   bk.totalCommission,
		OpenLots:          open,
		ClosedLots:        closed,
		LastUpdate:        bk.lastUpdate,
	}
}
