// ea-okx bot — the live trading daemon.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: feed -> collector -> strategy -> validator -> order manager
//	order/manager.go     — order lifecycle against the exchange, reconciler, retry
//	lifecycle/           — order state machine with audit trail
//	risk/validator.go    — pre-trade checks (position size, leverage, daily loss, margin)
//	risk/var.go          — portfolio VaR and expected shortfall
//	cost/cost.go         — commission and slippage models shared with the simulator
//	portfolio/           — cash, positions, P&L, equity curve
//	strategy/            — strategy capability set + MA-crossover reference
//	exchange/            — OKX v5 REST client, HMAC auth, WebSocket feeds
//	data/                — push-stream collector and SQLite candle store
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heheshang/ea-okx/internal/config"
	"github.com/heheshang/ea-okx/internal/engine"
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

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	strat := strategy.NewMACrossover(strategy.DefaultMACrossoverParams())

	eng, err := engine.New(cfg, strat, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("ea-okx started",
		"symbols", cfg.Symbols,
		"simulated", cfg.Exchange.Simulated,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
