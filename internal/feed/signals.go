package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/bus"
	"github.com/duchuynh/tradesim/internal/types"
)

// CSVSignalSource loads trend-detector output from a CSV file.
// Format: type,bar_index,price   with type uptrend_start|downtrend_start.
type CSVSignalSource struct {
	path    string
	signals []types.Signal
}

// NewCSVSignalSource creates a signal source backed by a CSV file.
func NewCSVSignalSource(path string) *CSVSignalSource {
	return &CSVSignalSource{path: path}
}

// Name returns the source identifier.
func (s *CSVSignalSource) Name() string { return "csv-signals" }

// Signals returns all signals in bar-index order.
func (s *CSVSignalSource) Signals(ctx context.Context) ([]types.Signal, error) {
	if s.signals == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	out := make([]types.Signal, len(s.signals))
	copy(out, s.signals)
	return out, nil
}

func (s *CSVSignalSource) load() error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open signal file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read signal file line %d: %w", line+1, err)
		}
		line++

		if line == 1 && record[0] == "type" {
			continue
		}
		if len(record) < 3 {
			return fmt.Errorf("%w: line %d has %d fields, want 3", types.ErrInvalidData, line, len(record))
		}

		var sigType types.SignalType
		switch record[0] {
		case "uptrend_start":
			sigType = types.SignalUptrendStart
		case "downtrend_start":
			sigType = types.SignalDowntrendStart
		default:
			return fmt.Errorf("%w: line %d unknown signal type %q", types.ErrInvalidData, line, record[0])
		}

		barIndex, err := strconv.Atoi(record[1])
		if err != nil {
			return fmt.Errorf("%w: line %d bar index %q", types.ErrInvalidData, line, record[1])
		}

		price, err := decimal.NewFromString(record[2])
		if err != nil {
			return fmt.Errorf("%w: line %d price %q", types.ErrInvalidPrice, line, record[2])
		}

		s.signals = append(s.signals, types.Signal{
			ID:       uuid.New().String(),
			Type:     sigType,
			BarIndex: barIndex,
			Price:    price,
		})
	}

	return nil
}

// StaticSignalSource serves a fixed in-memory slice. Useful in tests
// and when signals come from another process.
type StaticSignalSource struct {
	signals []types.Signal
}

// NewStaticSignalSource creates a source over a fixed slice.
func NewStaticSignalSource(signals []types.Signal) *StaticSignalSource {
	return &StaticSignalSource{signals: signals}
}

// Name returns the source identifier.
func (s *StaticSignalSource) Name() string { return "static-signals" }

// Signals returns the configured slice.
func (s *StaticSignalSource) Signals(ctx context.Context) ([]types.Signal, error) {
	out := make([]types.Signal, len(s.signals))
	copy(out, s.signals)
	return out, nil
}

// MapSignal converts a trend signal into a submit request: an uptrend
// start buys, a downtrend start sells.
func MapSignal(sig types.Signal, instrumentID, strategyID string, quantity decimal.Decimal) bus.SubmitOrderRequest {
	side := types.Buy
	if sig.Type == types.SignalDowntrendStart {
		side = types.Sell
	}
	return bus.SubmitOrderRequest{
		InstrumentID: instrumentID,
		Side:         side,
		Type:         types.Market,
		Quantity:     quantity,
		IsEntry:      true,
		StrategyID:   strategyID,
		SignalID:     sig.ID,
		Reason:       sig.Type.String(),
	}
}
