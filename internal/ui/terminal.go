// Package ui renders backtest progress and summaries to the terminal.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/duchuynh/tradesim/internal/backtest"
)

// ANSI escape codes
const (
	clearLine  = "\033[2K\r"
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorDim   = "\033[2m"
	colorBold  = "\033[1m"
)

// Progress renders a single-line progress bar that updates in place.
type Progress struct {
	width   int
	isTTY   bool
	started bool
}

// NewProgress creates a progress renderer sized to the terminal.
func NewProgress() *Progress {
	width := 80
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	if isTTY {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	return &Progress{width: width, isTTY: isTTY}
}

// Update redraws the progress line. No-op when stdout is not a terminal.
func (p *Progress) Update(u backtest.ProgressUpdate) {
	if !p.isTTY || u.TotalBars == 0 {
		return
	}
	p.started = true

	pct := u.Bar * 100 / u.TotalBars
	barWidth := 24
	filled := barWidth * u.Bar / u.TotalBars

	line := fmt.Sprintf("[%s%s] %3d%%  bar %d/%d  equity %s  trades %d  lots %d",
		strings.Repeat("=", filled),
		strings.Repeat(" ", barWidth-filled),
		pct, u.Bar, u.TotalBars,
		u.Equity.StringFixed(2),
		u.Trades, u.OpenLots,
	)
	if len(line) > p.width {
		line = line[:p.width]
	}
	fmt.Print(clearLine + line)
}

// Done finishes the progress line.
func (p *Progress) Done() {
	if p.started {
		fmt.Println()
	}
}

// PrintSummary renders the run result.
func PrintSummary(result *backtest.Result) {
	pl := result.EndEquity.Sub(result.StartEquity)
	plColor := colorGreen
	if pl.IsNegative() {
		plColor = colorRed
	}

	fmt.Printf("\n%sBacktest summary%s\n", colorBold, colorReset)
	fmt.Printf("  equity        %s -> %s (%s%s%s)\n",
		result.StartEquity.StringFixed(2), result.EndEquity.StringFixed(2),
		plColor, pl.StringFixed(2), colorReset)
	fmt.Printf("  return        %s%%\n", result.TotalReturn.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Printf("  max drawdown  %s%%\n", result.MaxDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Printf("  trades        %d (%d win / %d loss, win rate %s%%)\n",
		result.TotalTrades, result.WinningTrades, result.LosingTrades,
		result.WinRate.Mul(decimal.NewFromInt(100)).StringFixed(1))
	fmt.Printf("  profit factor %s\n", result.ProfitFactor.StringFixed(2))
	fmt.Printf("  sharpe        %s\n", result.SharpeRatio.StringFixed(2))
	fmt.Printf("  commission    %s\n", result.Commission.StringFixed(2))

	if result.FinalPosition != nil && result.FinalPosition.Side.String() != "FLAT" {
		p := result.FinalPosition
		fmt.Printf("  open position %s %s @ %s (unrealized %s)\n",
			p.Side, p.Quantity, p.AverageEntryPrice.StringFixed(2), p.UnrealizedPnL.StringFixed(2))
	}
	if result.Halted {
		fmt.Printf("  %sWARNING: instrument halted after ledger inconsistency%s\n", colorRed, colorReset)
	}
	fmt.Printf("%s", colorDim)
	fmt.Printf("  closed lots: %d\n", len(result.ClosedTrades))
	fmt.Printf("%s", colorReset)
}
