package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path and runs
// migrations.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			instrument_id TEXT NOT NULL,
			side INTEGER NOT NULL,
			type INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			limit_price TEXT,
			stop_price TEXT,
			status INTEGER NOT NULL,
			submitted_at DATETIME,
			filled_quantity TEXT NOT NULL DEFAULT '0',
			average_fill_price TEXT,
			commission TEXT NOT NULL DEFAULT '0',
			parent_trade_id TEXT,
			is_entry INTEGER NOT NULL DEFAULT 0,
			is_exit INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_instrument ON orders(instrument_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_parent_trade ON orders(parent_trade_id)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			instrument_id TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			remaining_quantity TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			commission TEXT NOT NULL,
			exit_price TEXT,
			exit_time DATETIME,
			realized_pnl TEXT,
			is_open INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time)`,

		`CREATE TABLE IF NOT EXISTS positions (
			instrument_id TEXT PRIMARY KEY,
			side INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			average_entry_price TEXT NOT NULL,
			market_value TEXT NOT NULL,
			unrealized_pnl TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			total_commission TEXT NOT NULL,
			open_lots INTEGER NOT NULL,
			closed_lots INTEGER NOT NULL,
			last_update DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := r.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

// SaveOrder persists one order.
func (r *SQLiteRepository) SaveOrder(ctx context.Context, o types.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders
		(id, instrument_id, side, type, quantity, limit_price, stop_price, status,
		 submitted_at, filled_quantity, average_fill_price, commission,
		 parent_trade_id, is_entry, is_exit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.InstrumentID, int(o.Side), int(o.Type), o.Quantity.String(),
		o.LimitPrice.String(), o.StopPrice.String(), int(o.Status),
		o.SubmittedAt, o.FilledQuantity.String(), o.AverageFillPrice.String(),
		o.Commission.String(), o.ParentTradeID, boolToInt(o.IsEntry), boolToInt(o.IsExit),
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// GetOrders returns all persisted orders for an instrument, in
// submission order.
func (r *SQLiteRepository) GetOrders(ctx context.Context, instrumentID string) ([]types.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instrument_id, side, type, quantity, limit_price, stop_price,
		       status, submitted_at, filled_quantity, average_fill_price,
		       commission, parent_trade_id, is_entry, is_exit
		FROM orders WHERE instrument_id = ? ORDER BY submitted_at`, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var (
			o                                   types.Order
			side, typ, status, isEntry, isExit  int
			qty, limitP, stopP, filledQty, avgP string
			commission                          string
			submittedAt                         time.Time
		)
		if err := rows.Scan(&o.ID, &o.InstrumentID, &side, &typ, &qty, &limitP, &stopP,
			&status, &submittedAt, &filledQty, &avgP, &commission,
			&o.ParentTradeID, &isEntry, &isExit); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = types.OrderSide(side)
		o.Type = types.OrderType(typ)
		o.Status = types.OrderStatus(status)
		o.SubmittedAt = submittedAt
		o.IsEntry = isEntry == 1
		o.IsExit = isExit == 1
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		o.LimitPrice = mustDecimal(limitP)
		o.StopPrice = mustDecimal(stopP)
		o.FilledQuantity = mustDecimal(filledQty)
		o.AverageFillPrice = mustDecimal(avgP)
		o.Commission = mustDecimal(commission)
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveTrade persists one lot record.
func (r *SQLiteRepository) SaveTrade(ctx context.Context, t types.Trade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades
		(id, order_id, instrument_id, side, quantity, remaining_quantity,
		 entry_price, entry_time, commission, exit_price, exit_time,
		 realized_pnl, is_open)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrderID, t.InstrumentID, int(t.Side), t.Quantity.String(),
		t.RemainingQuantity.String(), t.EntryPrice.String(), t.EntryTime,
		t.Commission.String(), t.ExitPrice.String(), t.ExitTime,
		t.RealizedPnL.String(), boolToInt(t.IsOpen),
	)
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// GetTrades returns lot records for an instrument, oldest first.
// limit <= 0 returns all.
func (r *SQLiteRepository) GetTrades(ctx context.Context, instrumentID string, limit int) ([]types.Trade, error) {
	query := `
		SELECT id, order_id, instrument_id, side, quantity, remaining_quantity,
		       entry_price, entry_time, commission, exit_price, exit_time,
		       realized_pnl, is_open
		FROM trades WHERE instrument_id = ? ORDER BY entry_time`
	args := []any{instrumentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var (
			t                                types.Trade
			side, isOpen                     int
			qty, remQty, entryP, comm, exitP string
			realized                         string
			entryTime, exitTime              time.Time
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.InstrumentID, &side, &qty, &remQty,
			&entryP, &entryTime, &comm, &exitP, &exitTime, &realized, &isOpen); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = types.PositionSide(side)
		t.IsOpen = isOpen == 1
		t.EntryTime = entryTime
		t.ExitTime = exitTime
		t.Quantity = mustDecimal(qty)
		t.RemainingQuantity = mustDecimal(remQty)
		t.EntryPrice = mustDecimal(entryP)
		t.Commission = mustDecimal(comm)
		t.ExitPrice = mustDecimal(exitP)
		t.RealizedPnL = mustDecimal(realized)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SavePosition persists a position summary snapshot.
func (r *SQLiteRepository) SavePosition(ctx context.Context, p types.Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions
		(instrument_id, side, quantity, average_entry_price, market_value,
		 unrealized_pnl, realized_pnl, total_commission, open_lots, closed_lots,
		 last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.InstrumentID, int(p.Side), p.Quantity.String(), p.AverageEntryPrice.String(),
		p.MarketValue.String(), p.UnrealizedPnL.String(), p.RealizedPnL.String(),
		p.TotalCommission.String(), len(p.OpenLots), len(p.ClosedLots), p.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// GetPositions returns all persisted position summaries.
func (r *SQLiteRepository) GetPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT instrument_id, side, quantity, average_entry_price, market_value,
		       unrealized_pnl, realized_pnl, total_commission, last_update
		FROM positions ORDER BY instrument_id`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var (
			p                               types.Position
			side                            int
			qty, avgP, mv, upnl, rpnl, comm string
			lastUpdate                      time.Time
		)
		if err := rows.Scan(&p.InstrumentID, &side, &qty, &avgP, &mv, &upnl, &rpnl, &comm, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Side = types.PositionSide(side)
		p.LastUpdate = lastUpdate
		p.Quantity = mustDecimal(qty)
		p.AverageEntryPrice = mustDecimal(avgP)
		p.MarketValue = mustDecimal(mv)
		p.UnrealizedPnL = mustDecimal(upnl)
		p.RealizedPnL = mustDecimal(rpnl)
		p.TotalCommission = mustDecimal(comm)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
