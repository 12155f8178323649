// Command tradesim replays a bar file against a signal feed and reports
// fills, positions and P&L under strict FIFO lot accounting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/duchuynh/tradesim/internal/alerting"
	"github.com/duchuynh/tradesim/internal/backtest"
	"github.com/duchuynh/tradesim/internal/config"
	"github.com/duchuynh/tradesim/internal/feed"
	"github.com/duchuynh/tradesim/internal/handler"
	"github.com/duchuynh/tradesim/internal/metrics"
	"github.com/duchuynh/tradesim/internal/order"
	"github.com/duchuynh/tradesim/internal/persistence"
	"github.com/duchuynh/tradesim/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		quiet      = flag.Bool("quiet", false, "disable the progress display")
	)
	flag.Parse()

	// Optional .env for ${VAR} expansion inside the config file.
	_ = godotenv.Load()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		srv := metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		srv.Start()
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				logger.Warn("metrics server shutdown failed", "err", err)
			}
		}()
	}

	barFeed := feed.NewCSVFeed(cfg.Data.BarsPath)
	var signals feed.SignalSource
	if cfg.Data.SignalsPath != "" {
		signals = feed.NewCSVSignalSource(cfg.Data.SignalsPath)
	}

	alerter := alerting.NewConsoleAlerter(logger)

	runnerCfg := backtest.Config{
		InstrumentID:  cfg.Instrument.ID,
		InitialEquity: cfg.InitialEquityDecimal(),
		OrderQuantity: cfg.OrderQuantityDecimal(),
		BarsPerSecond: cfg.Simulation.BarsPerSecond,
		StrategyID:    cfg.Simulation.StrategyID,
		Handler: handler.Config{
			AutoProtect:           cfg.Protection.AutoProtect,
			ATRPeriod:             cfg.Protection.ATRPeriod,
			StopLossATRMultiple:   decimal.NewFromFloat(cfg.Protection.StopLossATRMultiple),
			TakeProfitATRMultiple: decimal.NewFromFloat(cfg.Protection.TakeProfitATRMultiple),
		},
		Order: order.Config{
			CommissionPerUnit: cfg.CommissionDecimal(),
		},
	}

	runner := backtest.NewRunner(runnerCfg, barFeed, signals, recorder, alerter, logger)

	var progress *ui.Progress
	if !*quiet {
		progress = ui.NewProgress()
		runner.SetProgressCallback(progress.Update)
	}

	logger.Info("starting replay",
		"instrument", cfg.Instrument.ID,
		"bars", cfg.Data.BarsPath,
		"signals", cfg.Data.SignalsPath,
	)

	result, err := runner.Run(ctx)
	if progress != nil {
		progress.Done()
	}
	if err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}

	ui.PrintSummary(result)

	if cfg.Persistence.Enabled {
		if err := archive(ctx, cfg.Persistence.Path, runner, logger); err != nil {
			logger.Error("failed to archive run", "err", err)
		}
	}

	return nil
}

// archive writes orders, lots and the final position to SQLite.
func archive(ctx context.Context, path string, runner *backtest.Runner, logger *slog.Logger) error {
	repo, err := persistence.NewSQLiteRepository(path)
	if err != nil {
		return err
	}
	defer repo.Close()

	for _, o := range runner.Orders().AllOrders() {
		if err := repo.SaveOrder(ctx, o); err != nil {
			return err
		}
	}
	for _, t := range runner.Positions().TradeHistory("") {
		if err := repo.SaveTrade(ctx, t); err != nil {
			return err
		}
	}
	for _, p := range runner.Positions().AllPositions() {
		if err := repo.SavePosition(ctx, p); err != nil {
			return err
		}
	}

	logger.Info("run archived", "path", path)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
