// Package engine is the central orchestrator of the live trading pipeline.
//
// It wires together all subsystems:
//
//  1. The public WebSocket feed streams market data into the collector,
//     which validates it (staleness, duplicates, anomalies).
//  2. The engine loop feeds validated events to the strategy, converts
//     non-hold signals into orders, and runs them through the pre-trade
//     risk validator.
//  3. Accepted orders go to the order manager, which drives them through
//     their lifecycle against the exchange and runs the reconciler.
//  4. Private-feed fills come back through the order manager into the
//     portfolio; strategy callbacks fire on fills and rejections.
//
// All portfolio mutation happens on the single engine goroutine, so
// ApplyFill is never concurrent with UpdatePrices.
//
// Lifecycle: New() -> Start() -> [runs until signal] -> Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/internal/config"
	"github.com/heheshang/ea-okx/internal/cost"
	"github.com/heheshang/ea-okx/internal/data"
	"github.com/heheshang/ea-okx/internal/exchange"
	"github.com/heheshang/ea-okx/internal/order"
	"github.com/heheshang/ea-okx/internal/portfolio"
	"github.com/heheshang/ea-okx/internal/risk"
	"github.com/heheshang/ea-okx/internal/strategy"
	"github.com/heheshang/ea-okx/pkg/types"
)

// Engine orchestrates the live pipeline. It owns the lifecycle of all
// goroutines and serializes portfolio access on its event loop.
type Engine struct {
	cfg       *config.Config
	client    *exchange.Client
	pubFeed   *exchange.WSFeed
	prvFeed   *exchange.WSFeed
	collector *data.Collector
	manager   *order.Manager
	validator *risk.Validator
	costModel cost.Model
	pf        *portfolio.Portfolio
	strat     strategy.Strategy
	logger    *slog.Logger

	strategyID uuid.UUID

	// currentPrices and avgVolumes are written only by the engine loop;
	// the snapshot handed to the validator carries copies.
	currentPrices map[string]decimal.Decimal
	avgVolumes    map[string]decimal.Decimal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg *config.Config, strat strategy.Strategy, logger *slog.Logger) (*Engine, error) {
	client := exchange.NewClient(exchange.Config{
		RestBaseURL:  cfg.Exchange.RestBaseURL,
		WSPublicURL:  cfg.Exchange.WSPublicURL,
		WSPrivateURL: cfg.Exchange.WSPrivateURL,
		APIKey:       cfg.Exchange.APIKey,
		SecretKey:    cfg.Exchange.SecretKey,
		Passphrase:   cfg.Exchange.Passphrase,
		Simulated:    cfg.Exchange.Simulated,
	}, logger)

	creds := exchange.Credentials{
		APIKey:     cfg.Exchange.APIKey,
		SecretKey:  cfg.Exchange.SecretKey,
		Passphrase: cfg.Exchange.Passphrase,
	}
	pubFeed := exchange.NewPublicFeed(cfg.Exchange.WSPublicURL, logger)
	prvFeed := exchange.NewPrivateFeed(cfg.Exchange.WSPrivateURL, creds, logger)

	var candleStore *data.Store
	if cfg.Data.CandleDBPath != "" {
		var err error
		candleStore, err = data.OpenStore(cfg.Data.CandleDBPath)
		if err != nil {
			return nil, fmt.Errorf("open candle store: %w", err)
		}
	}

	collectorCfg := data.DefaultCollectorConfig()
	if cfg.Data.Interval != "" {
		collectorCfg.Interval = cfg.Data.Interval
	}
	if cfg.Data.MaxStaleness > 0 {
		collectorCfg.Quality.MaxStaleness = cfg.Data.MaxStaleness
	}
	if cfg.Data.AnomalyZScore > 0 {
		collectorCfg.Quality.AnomalyZScore = cfg.Data.AnomalyZScore
	}
	collector := data.NewCollector(collectorCfg, pubFeed, candleStore, logger)

	managerCfg := order.DefaultConfig()
	if cfg.OrderManager.ReconcileInterval > 0 {
		managerCfg.ReconcileInterval = cfg.OrderManager.ReconcileInterval
	}
	if cfg.OrderManager.OrderTimeout > 0 {
		managerCfg.OrderTimeout = cfg.OrderManager.OrderTimeout
	}
	if cfg.OrderManager.MaxRetries > 0 {
		managerCfg.MaxRetries = cfg.OrderManager.MaxRetries
	}
	if cfg.OrderManager.RetryBackoff > 0 {
		managerCfg.RetryBackoff = cfg.OrderManager.RetryBackoff
	}
	manager := order.NewManager(managerCfg, client, logger)

	initialCapital := decimal.NewFromInt(100000)
	if cfg.Backtest.InitialCapital > 0 {
		initialCapital = decimal.NewFromFloat(cfg.Backtest.InitialCapital)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:           cfg,
		client:        client,
		pubFeed:       pubFeed,
		prvFeed:       prvFeed,
		collector:     collector,
		manager:       manager,
		validator:     risk.NewValidator(cfg.RiskLimits(), logger),
		costModel:     cfg.CostModel(),
		pf:            portfolio.New(initialCapital),
		strat:         strat,
		logger:        logger.With("component", "engine"),
		strategyID:    uuid.New(),
		currentPrices: make(map[string]decimal.Decimal),
		avgVolumes:    make(map[string]decimal.Decimal),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches all background goroutines: WS feeds, collector, the
// reconciler, and the main event loop.
func (e *Engine) Start() error {
	symbols := e.cfg.ParsedSymbols()
	if err := e.strat.Initialize(e.ctx, strategy.Config{
		StrategyID: e.strategyID,
		Name:       "live",
		Version:    "1.0.0",
		Symbols:    symbols,
	}); err != nil {
		return fmt.Errorf("initialize strategy: %w", err)
	}

	interval := e.cfg.Data.Interval
	if interval == "" {
		interval = "1H"
	}
	for _, symbol := range symbols {
		e.pubFeed.SubscribeMarket(symbol, interval)
	}
	e.prvFeed.SubscribePrivate()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.pubFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("public feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.prvFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("private feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.collector.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.manager.RunReconciler(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()

	e.logger.Info("engine started", "symbols", len(symbols))
	return nil
}

// Stop shuts down: cancels contexts, waits for goroutines, shuts the
// strategy down, and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.strat.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("strategy shutdown failed", "error", err)
	}

	e.pubFeed.Close()
	e.prvFeed.Close()

	e.logger.Info("shutdown complete")
}

// run is the main event loop. Market events, private order pushes, and
// manager events all funnel through here, serializing every portfolio
// mutation on one goroutine.
func (e *Engine) run() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case event := <-e.collector.Events():
			e.handleMarketEvent(event)
		case update := <-e.prvFeed.Orders():
			e.handleOrderUpdate(update)
		case orderEvent := <-e.manager.Events():
			e.handleOrderEvent(orderEvent)
		}
	}
}

// handleMarketEvent updates market state, feeds the strategy, and turns a
// non-hold signal into a validated order.
func (e *Engine) handleMarketEvent(event types.MarketEvent) {
	key := event.Symbol.String()
	switch event.Kind {
	case types.EventCandle:
		e.currentPrices[key] = event.Candle.Close
		e.avgVolumes[key] = event.Candle.Volume
	case types.EventTrade:
		e.currentPrices[key] = event.Trade.Price
	case types.EventOrderBook:
		if mid, ok := event.Book.MidPrice(); ok {
			e.currentPrices[key] = mid
		}
	}
	e.pf.UpdatePrices(e.currentPrices, event.Timestamp)

	if err := e.strat.OnMarketData(e.ctx, event); err != nil {
		e.logger.Error("strategy market data failed", "error", err)
		return
	}
	signal, err := e.strat.GenerateSignal(e.ctx)
	if err != nil {
		e.logger.Warn("signal generation failed", "error", err)
		return
	}
	if signal.Type == strategy.SignalHold {
		return
	}
	e.executeSignal(signal, event.Symbol)
}

// executeSignal sizes, validates, and submits an order for one signal.
func (e *Engine) executeSignal(signal strategy.Signal, symbol types.Symbol) {
	var side types.Side
	var qty types.Quantity
	switch signal.Type {
	case strategy.SignalBuy:
		side = types.Buy
		size, err := e.orderSize(symbol)
		if err != nil {
			e.logger.Warn("sizing failed", "symbol", symbol.String(), "error", err)
			return
		}
		qty = size
	case strategy.SignalSell, strategy.SignalCloseLong, strategy.SignalCloseShort:
		pos := e.pf.Position(symbol)
		if pos == nil {
			return
		}
		side = types.Sell
		qty = pos.Quantity
	default:
		return
	}
	if qty.IsZero() {
		return
	}
	if !signal.SuggestedQuantity.IsZero() {
		qty = signal.SuggestedQuantity
	}

	ord := types.NewOrder(e.strategyID, symbol, side, types.Market, qty, types.Price{})

	result := e.validator.Validate(ord, e.pf.Snapshot())
	for _, violation := range result.Violations {
		e.logger.Warn("risk violation",
			"severity", violation.Severity,
			"rule", violation.Rule,
			"message", violation.Message,
		)
	}
	if !result.IsValid() {
		if err := e.strat.OnOrderReject(e.ctx, ord, "risk rejected"); err != nil {
			e.logger.Error("reject callback failed", "error", err)
		}
		return
	}

	if _, err := e.manager.Submit(e.ctx, ord); err != nil {
		e.logger.Error("order submission failed", "order_id", ord.ID, "error", err)
	}
}

// orderSize is percent-of-equity sizing at the current mark.
func (e *Engine) orderSize(symbol types.Symbol) (types.Quantity, error) {
	price, ok := e.currentPrices[symbol.String()]
	if !ok || price.Sign() <= 0 {
		return types.Quantity{}, fmt.Errorf("%w: %s", types.ErrNoPriceAvailable, symbol)
	}
	percent := decimal.NewFromFloat(0.1)
	if e.cfg.Backtest.SizingPercent > 0 {
		percent = decimal.NewFromFloat(e.cfg.Backtest.SizingPercent)
	}
	return types.NewQuantity(e.pf.TotalEquity().Mul(percent).Div(price))
}

// handleOrderUpdate converges a private-feed push into the order manager
// and books fills into the portfolio.
func (e *Engine) handleOrderUpdate(update exchange.OrderUpdate) {
	orderID, ok := e.manager.ByExchangeID(update.ExchangeID)
	if !ok {
		e.logger.Debug("push for unknown order", "exchange_id", update.ExchangeID)
		return
	}

	switch update.State {
	case types.StateRejected:
		if err := e.manager.HandleRejection(orderID, "exchange rejected"); err != nil {
			e.logger.Error("rejection handling failed", "order_id", orderID, "error", err)
		}
		snapshot, _, err := e.manager.Get(orderID)
		if err == nil {
			if err := e.strat.OnOrderReject(e.ctx, &snapshot, snapshot.RejectReason); err != nil {
				e.logger.Error("reject callback failed", "error", err)
			}
		}
	case types.StatePartiallyFilled, types.StateFilled:
		if update.LastFillQty.Sign() <= 0 {
			return
		}
		qty, err := types.NewQuantity(update.LastFillQty)
		if err != nil {
			return
		}
		price, err := types.NewPrice(update.LastFillPx)
		if err != nil {
			return
		}
		if err := e.manager.HandleFill(orderID, qty, price, update.Timestamp); err != nil {
			e.logger.Error("fill handling failed", "order_id", orderID, "error", err)
			return
		}
		e.applyFillToPortfolio(orderID, qty, price, update.Timestamp)
	}
}

// applyFillToPortfolio books one execution at the exchange's fill price,
// with commission and slippage from the same cost model the simulator
// uses; the model's execution price is not used.
func (e *Engine) applyFillToPortfolio(orderID uuid.UUID, qty types.Quantity, price types.Price, ts time.Time) {
	snapshot, _, err := e.manager.Get(orderID)
	if err != nil {
		return
	}

	avgVolume, ok := e.avgVolumes[snapshot.Symbol.String()]
	if !ok {
		avgVolume = decimal.NewFromInt(1)
	}
	_, commission, slippage := e.costModel.TotalCost(
		snapshot.Type, snapshot.Side, price.Decimal(), qty.Decimal(), avgVolume)

	fill := types.Fill{
		OrderID:    orderID,
		Price:      price.Decimal(),
		Quantity:   qty.Decimal(),
		Commission: commission,
		Slippage:   slippage,
		Timestamp:  ts,
	}
	if err := e.pf.ApplyFill(&snapshot, fill); err != nil {
		e.logger.Error("portfolio fill failed", "order_id", orderID, "error", err)
		return
	}

	if err := e.strat.OnOrderFill(e.ctx, &snapshot); err != nil {
		e.logger.Error("fill callback failed", "error", err)
	}
}

// handleOrderEvent reacts to manager lifecycle events. Fills and
// rejections already flow through the private feed path; here the engine
// surfaces terminal outcomes for observability.
func (e *Engine) handleOrderEvent(event types.OrderEvent) {
	switch event.Kind {
	case types.OrderFailed, types.OrderExpired, types.OrderRejected:
		e.logger.Warn("order terminal",
			"kind", event.Kind,
			"order_id", event.OrderID,
			"reason", event.Reason,
		)
	default:
		e.logger.Debug("order event", "kind", event.Kind, "order_id", event.OrderID)
	}
}

// Portfolio returns the engine's portfolio for read-only inspection.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }

// OrderManager returns the order manager for operational queries.
func (e *Engine) OrderManager() *order.Manager { return e.manager }

// CollectorStats returns data-quality counters.
func (e *Engine) CollectorStats() data.QualityStats { return e.collector.Stats() }
