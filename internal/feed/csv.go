package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/types"
)

// CSVFeed loads bars from a CSV file.
// Format: timestamp,open,high,low,close,volume
// Timestamp is either "2006-01-02 15:04:05" or a Unix timestamp.
type CSVFeed struct {
	path string
	bars []types.Bar
}

// NewCSVFeed creates a bar feed backed by a CSV file.
func NewCSVFeed(path string) *CSVFeed {
	return &CSVFeed{path: path}
}

// Name returns the feed identifier.
func (f *CSVFeed) Name() string { return "csv" }

// Bars returns all bars in file order. The instrument id is implicit in
// the file; callers pair one feed with one instrument.
func (f *CSVFeed) Bars(ctx context.Context, instrumentID string) ([]types.Bar, error) {
	if f.bars == nil {
		if err := f.load(); err != nil {
			return nil, err
		}
	}
	out := make([]types.Bar, len(f.bars))
	copy(out, f.bars)
	return out, nil
}

func (f *CSVFeed) load() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open bar file: %w", err)
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
			return fmt.Errorf("read bar file line %d: %w", line+1, err)
		}
		line++

		// Header row
		if line == 1 && record[0] == "timestamp" {
			continue
		}
		if len(record) < 6 {
			return fmt.Errorf("%w: line %d has %d fields, want 6", types.ErrInvalidData, line, len(record))
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return fmt.Errorf("%w: line %d timestamp %q", types.ErrInvalidData, line, record[0])
		}

		bar := types.Bar{Timestamp: ts}
		fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close}
		for i, dst := range fields {
			v, err := decimal.NewFromString(record[i+1])
			if err != nil {
				return fmt.Errorf("%w: line %d field %d %q", types.ErrInvalidPrice, line, i+1, record[i+1])
			}
			*dst = v
		}

		vol, err := strconv.ParseInt(record[5], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: line %d volume %q", types.ErrInvalidData, line, record[5])
		}
		bar.Volume = vol

		if len(f.bars) > 0 && bar.Timestamp.Before(f.bars[len(f.bars)-1].Timestamp) {
			return fmt.Errorf("%w: line %d out of order", types.ErrInvalidData, line)
		}

		f.bars = append(f.bars, bar)
	}

	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0).UTC(), nil
}
