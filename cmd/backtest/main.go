// ea-okx backtest — runs a strategy against stored historical candles and
// prints the performance report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/heheshang/ea-okx/internal/backtest"
	"github.com/heheshang/ea-okx/internal/config"
	"github.com/heheshang/ea-okx/internal/data"
	"github.com/heheshang/ea-okx/internal/store"
	"github.com/heheshang/ea-okx/internal/strategy"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("EA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)

	if cfg.Data.CandleDBPath == "" {
		logger.Error("data.candle_db_path is required for backtests")
		os.Exit(1)
	}
	candles, err := data.OpenStore(cfg.Data.CandleDBPath)
	if err != nil {
		logger.Error("failed to open candle store", "error", err)
		os.Exit(1)
	}
	defer candles.Close()

	strat := strategy.NewMACrossover(strategy.DefaultMACrossoverParams())
	eng := backtest.New(cfg.BacktestRun(), strat, candles, logger)

	result, err := eng.Run(context.Background())
	if err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(result.Summary())

	if cfg.Store.DataDir != "" {
		st, err := store.Open(cfg.Store.DataDir)
		if err != nil {
			logger.Error("failed to open result store", "error", err)
			os.Exit(1)
		}
		name := result.StartTime.Format("20060102") + "_" + result.EndTime.Format("20060102")
		if err := st.SaveResult(name, result); err != nil {
			logger.Error("failed to save result", "error", err)
		}
		if err := st.SaveTrades(name, result.Trades); err != nil {
			logger.Error("failed to save trades", "error", err)
		}
		logger.Info("results saved", "dir", cfg.Store.DataDir, "run", name)
	}
}
