// Package feed provides bar and signal sources for replay.
package feed

import (
	"context"

	"github.com/duchuynh/tradesim/internal/types"
)

// BarFeed supplies the ordered bar sequence for one instrument.
type BarFeed interface {
	// Bars returns all bars for the instrument, ascending by time.
	Bars(ctx context.Context, instrumentID string) ([]types.Bar, error)

	// Name returns the feed identifier (e.g. "csv").
	Name() string
}

// SignalSource supplies trend signals from the external detector,
// ordered by bar index.
type SignalSource interface {
	Signals(ctx context.Context) ([]types.Signal, error)
	Name() string
}
