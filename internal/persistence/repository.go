// Package persistence archives completed simulation runs.
package persistence

import (
	"context"

	"github.com/duchuynh/tradesim/internal/types"
)

// Repository defines the interface for run archival.
type Repository interface {
	// Order operations
	SaveOrder(ctx context.Context, order types.Order) error
	GetOrders(ctx context.Context, instrumentID string) ([]types.Order, error)

	// Lot operations
	SaveTrade(ctx context.Context, trade types.Trade) error
	GetTrades(ctx context.Context, instrumentID string, limit int) ([]types.Trade, error)

	// Position snapshot operations
	SavePosition(ctx context.Context, position types.Position) error
	GetPositions(ctx context.Context) ([]types.Position, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
