package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// sharpeRatio computes an annualized Sharpe ratio from per-bar equity
// returns, assuming 252 trading days.
func sharpeRatio(curve []EquityPoint, riskFreeRate decimal.Decimal) decimal.Decimal {
	returns := barReturns(curve)
	if len(returns) < 2 {
		return decimal.Zero
	}

	meanReturn := mean(returns)
	stdDev := standardDeviation(returns)
	if stdDev.IsZero() {
		return decimal.Zero
	}

	dailyRf := riskFreeRate.Div(decimal.NewFromInt(252))
	excess := meanReturn.Sub(dailyRf)
	sqrt252 := decimal.NewFromFloat(math.Sqrt(252))

	return excess.Div(stdDev).Mul(sqrt252)
}

// barReturns converts the equity curve to simple per-bar returns.
func barReturns(curve []EquityPoint) []decimal.Decimal {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]decimal.Decimal, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		returns = append(returns, curve[i].Equity.Sub(prev).Div(prev))
	}
	return returns
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func standardDeviation(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	m := mean(values)
	sumSq := decimal.Zero
	for _, v := range values {
		d := v.Sub(m)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}
