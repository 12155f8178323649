// Package indicator provides streaming technical indicators.
package indicator

import "github.com/shopspring/decimal"

// ATR calculates Average True Range with Wilder smoothing.
// True Range = max(high - low, |high - prevClose|, |low - prevClose|).
type ATR struct {
	period    int
	prevClose decimal.Decimal
	seed      decimal.Decimal // running sum of the first period TRs
	value     decimal.Decimal
	count     int
}

// NewATR creates an ATR calculator with the given period.
func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

// Update feeds one bar and returns the current ATR, or zero until the
// seed window is full.
func (a *ATR) Update(high, low, close decimal.Decimal) decimal.Decimal {
	tr := high.Sub(low)
	if a.count > 0 {
		hpc := high.Sub(a.prevClose).Abs()
		if hpc.GreaterThan(tr) {
			tr = hpc
		}
		lpc := low.Sub(a.prevClose).Abs()
		if lpc.GreaterThan(tr) {
			tr = lpc
		}
	}
	a.prevClose = close
	a.count++

	n := decimal.NewFromInt(int64(a.period))
	switch {
	case a.count < a.period:
		a.seed = a.seed.Add(tr)
	case a.count == a.period:
		a.seed = a.seed.Add(tr)
		a.value = a.seed.Div(n)
	default:
		// Wilder: atr = (prev*(n-1) + tr) / n
		a.value = a.value.Mul(n.Sub(decimal.NewFromInt(1))).Add(tr).Div(n)
	}

	return a.Current()
}

// Current returns the latest ATR without feeding new data.
func (a *ATR) Current() decimal.Decimal {
	if !a.Ready() {
		return decimal.Zero
	}
	return a.value
}

// Ready reports whether the seed window has been filled.
func (a *ATR) Ready() bool {
	return a.count >= a.period
}

// Period returns the configured period.
func (a *ATR) Period() int {
	return a.period
}

// Reset clears all state.
func (a *ATR) Reset() {
	a.prevClose = decimal.Zero
	a.seed = decimal.Zero
	a.value = decimal.Zero
	a.count = 0
}
