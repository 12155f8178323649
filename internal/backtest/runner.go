// Package backtest wires the feed, bus, handler and managers into a
// bar-clocked replay and computes run results.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/duchuynh/tradesim/internal/alerting"
	"github.com/duchuynh/tradesim/internal/bus"
	"github.com/duchuynh/tradesim/internal/feed"
	"github.com/duchuynh/tradesim/internal/handler"
	"github.com/duchuynh/tradesim/internal/metrics"
	"github.com/duchuynh/tradesim/internal/order"
	"github.com/duchuynh/tradesim/internal/position"
	"github.com/duchuynh/tradesim/internal/types"
)

// Config holds backtest configuration.
type Config struct {
	InstrumentID   string
	InitialEquity  decimal.Decimal
	OrderQuantity  decimal.Decimal // per signal-originated entry
	BarsPerSecond  float64         // 0 = replay at full speed
	StrategyID     string
	Handler        handler.Config
	Order          order.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialEquity: decimal.NewFromInt(10000),
		OrderQuantity: decimal.NewFromInt(1),
		StrategyID:    "trend-follower",
		Handler:       handler.DefaultConfig(),
		Order:         order.DefaultConfig(),
	}
}

// ProgressUpdate carries per-bar state for UI observers.
type ProgressUpdate struct {
	Bar       int
	TotalBars int
	BarData   types.Bar
	Equity    decimal.Decimal
	Trades    int
	OpenLots  int
}

// ProgressCallback is called once per bar.
type ProgressCallback func(update ProgressUpdate)

// EquityPoint is equity at one bar close.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// Result holds backtest results.
type Result struct {
	StartEquity   decimal.Decimal
	EndEquity     decimal.Decimal
	TotalReturn   decimal.Decimal // ratio (0.15 = 15%)
	MaxDrawdown   decimal.Decimal // ratio
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	ProfitFactor  decimal.Decimal
	SharpeRatio   decimal.Decimal
	Commission    decimal.Decimal
	ClosedTrades  []types.Trade
	FinalPosition *types.Position
	EquityCurve   []EquityPoint
	Halted        bool
}

// Runner executes one backtest over a bar feed and a signal source.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	bus       *bus.Bus
	orders    *order.Manager
	positions *position.Manager
	handler   *handler.Handler
	barFeed   feed.BarFeed
	signals   feed.SignalSource
	alerter   alerting.Alerter

	clock       time.Time
	equityCurve []EquityPoint
	highWater   decimal.Decimal
	progressCb  ProgressCallback
}

// NewRunner creates a backtest runner. Alerter may be nil.
func NewRunner(cfg Config, barFeed feed.BarFeed, signals feed.SignalSource, recorder *metrics.Recorder, alerter alerting.Alerter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	b := bus.New(logger)
	b.SetRecorder(recorder)
	orders := order.NewManager(cfg.Order, logger)
	positions := position.NewManager(b, recorder, logger)
	h := handler.New(cfg.Handler, b, orders, positions, recorder, logger)

	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		bus:       b,
		orders:    orders,
		positions: positions,
		handler:   h,
		barFeed:   barFeed,
		signals:   signals,
		alerter:   alerter,
		highWater: cfg.InitialEquity,
	}

	// Orders are stamped with bar time, not wall time.
	orders.SetClock(func() time.Time { return r.clock })

	return r
}

// SetProgressCallback sets a per-bar UI callback.
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.progressCb = cb
}

// Bus exposes the runner's event bus so observers can subscribe before Run.
func (r *Runner) Bus() *bus.Bus { return r.bus }

// Positions exposes read-only position state.
func (r *Runner) Positions() *position.Manager { return r.positions }

// Orders exposes the order manager for inspection.
func (r *Runner) Orders() *order.Manager { return r.orders }

// Run replays all bars, feeding signals at their bar index.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	bars, err := r.barFeed.Bars(ctx, r.cfg.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: empty bar feed", types.ErrInvalidData)
	}

	signalsByBar := make(map[int][]types.Signal)
	if r.signals != nil {
		sigs, err := r.signals.Signals(ctx)
		if err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
		for _, sig := range sigs {
			signalsByBar[sig.BarIndex] = append(signalsByBar[sig.BarIndex], sig)
		}
	}

	var limiter *rate.Limiter
	if r.cfg.BarsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.BarsPerSecond), 1)
	}

	r.handler.Start()
	defer r.handler.Stop()

	haltAlerted := false

	for i, bar := range bars {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.clock = bar.Timestamp

		r.bus.Publish(bus.EvBarReceived, "backtest", bus.BarReceived{
			InstrumentID: r.cfg.InstrumentID,
			Bar:          bar,
			BarIndex:     i,
		})

		for _, sig := range signalsByBar[i] {
			sig.Timestamp = bar.Timestamp
			req := feed.MapSignal(sig, r.cfg.InstrumentID, r.cfg.StrategyID, r.cfg.OrderQuantity)
			r.bus.Publish(bus.EvSubmitOrder, r.cfg.StrategyID, req)
		}

		r.handler.SimulateBar(r.cfg.InstrumentID, bar)
		r.positions.MarkToMarket(r.cfg.InstrumentID, bar.Close)

		if r.positions.IsHalted(r.cfg.InstrumentID) && !haltAlerted {
			haltAlerted = true
			r.logger.Error("replay continuing with halted instrument", "instrument", r.cfg.InstrumentID, "bar", i)
			if r.alerter != nil {
				_ = r.alerter.Alert(ctx, alerting.SeverityCritical, "Instrument halted",
					"instrument", r.cfg.InstrumentID,
					"bar", i,
				)
			}
		}

		equity := r.currentEquity()
		r.recordEquity(bar.Timestamp, equity)

		if r.progressCb != nil {
			snap := r.positions.Snapshot(r.cfg.InstrumentID)
			openLots := 0
			trades := 0
			if snap != nil {
				openLots = len(snap.OpenLots)
				trades = len(snap.ClosedLots)
			}
			r.progressCb(ProgressUpdate{
				Bar:       i + 1,
				TotalBars: len(bars),
				BarData:   bar,
				Equity:    equity,
				Trades:    trades,
				OpenLots:  openLots,
			})
		}
	}

	result := r.buildResult()

	if r.alerter != nil {
		_ = r.alerter.Alert(ctx, alerting.SeverityInfo, "Backtest complete",
			"instrument", r.cfg.InstrumentID,
			"bars", len(bars),
			"trades", result.TotalTrades,
			"end_equity", result.EndEquity.StringFixed(2),
		)
	}

	return result, nil
}

// Reset prepares the runner for another run over the same wiring.
func (r *Runner) Reset() {
	r.orders.Reset()
	r.positions.Reset()
	r.equityCurve = nil
	r.highWater = r.cfg.InitialEquity
}

func (r *Runner) currentEquity() decimal.Decimal {
	totals := r.positions.Totals()
	return r.cfg.InitialEquity.Add(totals.RealizedPnL).Add(totals.UnrealizedPnL)
}

func (r *Runner) recordEquity(ts time.Time, equity decimal.Decimal) {
	if equity.GreaterThan(r.highWater) {
		r.highWater = equity
	}
	var drawdown decimal.Decimal
	if r.highWater.IsPositive() {
		drawdown = r.highWater.Sub(equity).Div(r.highWater)
	}
	r.equityCurve = append(r.equityCurve, EquityPoint{
		Timestamp: ts,
		Equity:    equity,
		Drawdown:  drawdown,
	})
}

func (r *Runner) buildResult() *Result {
	snap := r.positions.Snapshot(r.cfg.InstrumentID)

	var closed []types.Trade
	var commission decimal.Decimal
	if snap != nil {
		closed = snap.ClosedLots
		commission = snap.TotalCommission
	}

	var (
		winning     int
		losing      int
		grossProfit = decimal.Zero
		grossLoss   = decimal.Zero
	)
	for _, t := range closed {
		if t.RealizedPnL.IsPositive() {
			winning++
			grossProfit = grossProfit.Add(t.RealizedPnL)
		} else if t.RealizedPnL.IsNegative() {
			losing++
			grossLoss = grossLoss.Add(t.RealizedPnL.Abs())
		}
	}

	endEquity := r.cfg.InitialEquity
	maxDrawdown := decimal.Zero
	if n := len(r.equityCurve); n > 0 {
		endEquity = r.equityCurve[n-1].Equity
		for _, p := range r.equityCurve {
			if p.Drawdown.GreaterThan(maxDrawdown) {
				maxDrawdown = p.Drawdown
			}
		}
	}

	totalReturn := decimal.Zero
	if r.cfg.InitialEquity.IsPositive() {
		totalReturn = endEquity.Sub(r.cfg.InitialEquity).Div(r.cfg.InitialEquity)
	}

	winRate := decimal.Zero
	if len(closed) > 0 {
		winRate = decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(len(closed))))
	}

	profitFactor := decimal.Zero
	if grossLoss.IsPositive() {
		profitFactor = grossProfit.Div(grossLoss)
	}

	return &Result{
		StartEquity:   r.cfg.InitialEquity,
		EndEquity:     endEquity,
		TotalReturn:   totalReturn,
		MaxDrawdown:   maxDrawdown,
		TotalTrades:   len(closed),
		WinningTrades: winning,
		LosingTrades:  losing,
		WinRate:       winRate,
		ProfitFactor:  profitFactor,
		SharpeRatio:   sharpeRatio(r.equityCurve, decimal.Zero),
		Commission:    commission,
		ClosedTrades:  closed,
		FinalPosition: snap,
		EquityCurve:   r.equityCurve,
		Halted:        r.positions.IsHalted(r.cfg.InstrumentID),
	}
}
