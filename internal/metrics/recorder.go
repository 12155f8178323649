package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order lifecycle metric.
func (r *Recorder) RecordOrder(instrument, side, status string) {
	OrdersTotal.WithLabelValues(instrument, side, status).Inc()
}

// RecordReject records a rejected order request.
func (r *Recorder) RecordReject(reason string) {
	OrderRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordFill records a simulated fill.
func (r *Recorder) RecordFill(instrument, side string) {
	FillsTotal.WithLabelValues(instrument, side).Inc()
}

// RecordBar records one replayed bar.
func (r *Recorder) RecordBar() {
	BarsProcessedTotal.Inc()
}

// RecordOpenLots records the open lot count for an instrument.
func (r *Recorder) RecordOpenLots(instrument string, count int) {
	OpenLots.WithLabelValues(instrument).Set(float64(count))
}

// RecordPositionQuantity records the open quantity for an instrument.
func (r *Recorder) RecordPositionQuantity(instrument, side string, qty decimal.Decimal) {
	PositionQuantity.WithLabelValues(instrument, side).Set(qty.InexactFloat64())
}

// RecordRealizedPnL records cumulative realized P&L.
func (r *Recorder) RecordRealizedPnL(instrument string, pnl decimal.Decimal) {
	RealizedPnL.WithLabelValues(instrument).Set(pnl.InexactFloat64())
}

// RecordUnrealizedPnL records mark-to-market unrealized P&L.
func (r *Recorder) RecordUnrealizedPnL(instrument string, pnl decimal.Decimal) {
	UnrealizedPnL.WithLabelValues(instrument).Set(pnl.InexactFloat64())
}

// RecordLedgerHalt records an instrument halt.
func (r *Recorder) RecordLedgerHalt(instrument string) {
	LedgerHaltsTotal.WithLabelValues(instrument).Inc()
}

// RecordEvent records a published bus event.
func (r *Recorder) RecordEvent(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveFillSimulation observes the elapsed time as fill simulation latency.
func (t *Timer) ObserveFillSimulation() {
	FillSimulationLatency.Observe(t.Elapsed().Seconds())
}
