// Package backtest runs strategies against historical candles through the
// same cost model and portfolio accounting as the live pipeline.
//
// The engine is strictly single-threaded on the event path. Candles from
// all configured symbols merge into one timestamp-sorted stream with a
// stable tie-break (symbol, then event kind), pending orders are kept in
// submission order, and the only randomness allowed anywhere downstream is
// seeded. Given identical inputs the engine produces an identical equity
// curve and trades with identical prices, quantities, costs and P&L on
// every run and platform. Order, trade and strategy IDs come from uuid.New
// and differ between runs.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/internal/cost"
	"github.com/heheshang/ea-okx/internal/portfolio"
	"github.com/heheshang/ea-okx/internal/strategy"
	"github.com/heheshang/ea-okx/pkg/types"
)

// HistoricalSource supplies time-ordered candles. Implementations must
// return timestamp-ascending, duplicate-free results.
type HistoricalSource interface {
	QueryCandles(ctx context.Context, symbol types.Symbol, interval string, start, end time.Time) ([]types.Candle, error)
}

// SizingMode selects how signals are converted to order quantities.
type SizingMode string

const (
	SizingFixed           SizingMode = "fixed"
	SizingPercentOfEquity SizingMode = "percent_of_equity"
	SizingKelly           SizingMode = "kelly"
)

// PositionSizing configures signal-to-quantity conversion.
type PositionSizing struct {
	Mode SizingMode `mapstructure:"mode"`

	// Amount is the fixed quote-currency amount per trade (fixed mode).
	Amount decimal.Decimal `mapstructure:"amount"`

	// Percent is the fraction of equity per trade (percent mode).
	Percent decimal.Decimal `mapstructure:"percent"`

	// WinRate and WinLossRatio drive Kelly sizing. The Kelly fraction is
	// clamped to [0, 0.25].
	WinRate      decimal.Decimal `mapstructure:"win_rate"`
	WinLossRatio decimal.Decimal `mapstructure:"win_loss_ratio"`
}

// Config parameterizes one backtest run.
type Config struct {
	InitialCapital decimal.Decimal
	StartTime      time.Time
	EndTime        time.Time
	Symbols        []types.Symbol
	Interval       string
	CostModel      cost.Model
	MaxPositions   int
	Sizing         PositionSizing
}

// DefaultConfig is a 100k single-symbol hourly run.
func DefaultConfig() Config {
	return Config{
		InitialCapital: decimal.NewFromInt(100000),
		Symbols:        []types.Symbol{types.MustSymbol("BTC-USDT")},
		Interval:       "1H",
		CostModel:      cost.Default(),
		MaxPositions:   5,
		Sizing: PositionSizing{
			Mode:    SizingPercentOfEquity,
			Percent: decimal.NewFromFloat(0.1),
		},
	}
}

// Engine drives one backtest run.
type Engine struct {
	cfg    Config
	strat  strategy.Strategy
	source HistoricalSource
	pf     *portfolio.Portfolio
	logger *slog.Logger

	events  []types.MarketEvent
	pending []*types.Order

	trades        []types.Trade
	currentPrices map[string]decimal.Decimal
	avgVolumes    map[string]decimal.Decimal
}

// New creates an engine over a strategy and a candle source.
func New(cfg Config, strat strategy.Strategy, source HistoricalSource, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:           cfg,
		strat:         strat,
		source:        source,
		pf:            portfolio.New(cfg.InitialCapital),
		logger:        logger.With("component", "backtest"),
		currentPrices: make(map[string]decimal.Decimal),
		avgVolumes:    make(map[string]decimal.Decimal),
	}
}

// Run loads data, replays every event, force-closes open positions at the
// end of the window, and returns the report.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if err := e.loadData(ctx); err != nil {
		return Result{}, err
	}

	if err := e.strat.Initialize(ctx, strategy.Config{
		StrategyID: uuid.New(),
		Name:       "backtest",
		Version:    "1.0.0",
		Symbols:    e.cfg.Symbols,
	}); err != nil {
		return Result{}, fmt.Errorf("initialize strategy: %w", err)
	}

	e.logger.Info("starting backtest",
		"events", len(e.events),
		"symbols", len(e.cfg.Symbols),
		"capital", e.cfg.InitialCapital,
	)

	for _, event := range e.events {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := e.processEvent(ctx, event); err != nil {
			return Result{}, err
		}
	}

	if err := e.closeAllPositions(ctx); err != nil {
		return Result{}, err
	}

	result := buildResult(e.pf, e.trades, e.cfg.StartTime, e.cfg.EndTime)
	e.logger.Info("backtest completed",
		"final_equity", result.FinalEquity,
		"trades", result.TotalTrades,
		"win_rate", result.WinRate,
	)
	return result, nil
}

// loadData queries candles per symbol and merges them into one sorted
// stream. An empty result for any symbol aborts before the first event.
func (e *Engine) loadData(ctx context.Context) error {
	for _, symbol := range e.cfg.Symbols {
		candles, err := e.source.QueryCandles(ctx, symbol, e.cfg.Interval, e.cfg.StartTime, e.cfg.EndTime)
		if err != nil {
			return fmt.Errorf("query candles for %s: %w", symbol, err)
		}
		if len(candles) == 0 {
			return fmt.Errorf("%w: no candles for %s in window", types.ErrInsufficientData, symbol)
		}
		e.logger.Info("loaded candles", "symbol", symbol.String(), "count", len(candles))

		for _, candle := range candles {
			e.events = append(e.events, types.CandleEvent(candle))
		}
	}

	// Stable ordering: timestamp, then symbol, then kind. This is what
	// makes re-sorted input produce identical output.
	sort.SliceStable(e.events, func(i, j int) bool {
		a, b := e.events[i], e.events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Symbol.String() != b.Symbol.String() {
			return a.Symbol.String() < b.Symbol.String()
		}
		return a.Kind < b.Kind
	})
	return nil
}

// processEvent is one step of the deterministic loop: update market state,
// mark the portfolio, match pending orders, feed the strategy, and act on
// its signal.
func (e *Engine) processEvent(ctx context.Context, event types.MarketEvent) error {
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

	if err := e.matchPending(ctx, event.Timestamp); err != nil {
		return err
	}

	if err := e.strat.OnMarketData(ctx, event); err != nil {
		return fmt.Errorf("strategy market data: %w", err)
	}

	signal, err := e.strat.GenerateSignal(ctx)
	if err != nil {
		// Signal-generation failures are logged and skipped; they do not
		// abort the run.
		e.logger.Warn("signal generation failed", "error", err)
		return nil
	}
	if signal.Type != strategy.SignalHold {
		if err := e.executeSignal(ctx, signal, event.Symbol, event.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// matchPending fills eligible pending orders in submission order: market
// orders unconditionally at the current price, limit orders on a cross.
func (e *Engine) matchPending(ctx context.Context, now time.Time) error {
	remaining := e.pending[:0]
	for _, order := range e.pending {
		price, ok := e.currentPrices[order.Symbol.String()]
		if !ok {
			remaining = append(remaining, order)
			continue
		}

		var fills bool
		switch order.Type {
		case types.Market:
			fills = true
		case types.Limit:
			if order.Side == types.Buy {
				fills = price.LessThanOrEqual(order.Price.Decimal())
			} else {
				fills = price.GreaterThanOrEqual(order.Price.Decimal())
			}
		default:
			// Conditional types do not fill in this simulator core.
		}

		if !fills {
			remaining = append(remaining, order)
			continue
		}
		if err := e.fillOrder(ctx, order, now); err != nil {
			return err
		}
	}
	e.pending = remaining
	return nil
}

// fillOrder computes the cost tuple, books the fill, records the trade,
// and notifies the strategy.
func (e *Engine) fillOrder(ctx context.Context, order *types.Order, now time.Time) error {
	key := order.Symbol.String()

	basePrice := order.Price.Decimal()
	if basePrice.IsZero() {
		mark, ok := e.currentPrices[key]
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrNoPriceAvailable, key)
		}
		basePrice = mark
	}

	avgVolume, ok := e.avgVolumes[key]
	if !ok {
		avgVolume = decimal.NewFromInt(1)
	}

	execPrice, commission, slippage := e.cfg.CostModel.TotalCost(
		order.Type, order.Side, basePrice, order.Quantity.Decimal(), avgVolume)

	var openedAt time.Time
	if pos := e.pf.Position(order.Symbol); pos != nil {
		openedAt = pos.OpenedAt
	}

	fill := types.Fill{
		OrderID:    order.ID,
		Price:      execPrice,
		Quantity:   order.Quantity.Decimal(),
		Commission: commission,
		Slippage:   slippage,
		Timestamp:  now,
	}

	realizedBefore := e.pf.RealizedPnL
	if err := e.pf.ApplyFill(order, fill); err != nil {
		// A fill the portfolio cannot absorb (cash or inventory) drops the
		// order rather than aborting the run.
		e.logger.Warn("fill not applied", "order_id", order.ID, "error", err)
		return nil
	}

	execQty, err := types.NewQuantity(fill.Quantity)
	if err != nil {
		return err
	}
	tradePrice, err := types.NewPrice(execPrice)
	if err != nil {
		return err
	}
	e.trades = append(e.trades, types.Trade{
		ID:          uuid.New(),
		OrderID:     order.ID,
		ClientID:    order.ClientID,
		StrategyID:  order.StrategyID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Type:        order.Type,
		Quantity:    execQty,
		Price:       tradePrice,
		Commission:  commission,
		Slippage:    slippage,
		RealizedPnL: e.pf.RealizedPnL.Sub(realizedBefore),
		OpenedAt:    openedAt,
		ExecutedAt:  now,
	})

	if err := order.ApplyFill(execQty, tradePrice, now); err != nil {
		return err
	}
	order.State = types.StateFilled

	if err := e.strat.OnOrderFill(ctx, order); err != nil {
		return fmt.Errorf("strategy fill callback: %w", err)
	}
	return nil
}

// executeSignal acts on a non-hold signal. A buy is sized and enqueued as a
// market order, respecting the open-position cap; sell and close signals
// are not queued but close the open position at once via closePosition.
func (e *Engine) executeSignal(ctx context.Context, signal strategy.Signal, symbol types.Symbol, now time.Time) error {
	var side types.Side
	switch signal.Type {
	case strategy.SignalBuy:
		if !e.hasSlotFor(symbol) {
			return nil
		}
		side = types.Buy
	case strategy.SignalSell, strategy.SignalCloseLong, strategy.SignalCloseShort:
		return e.closePosition(ctx, symbol, now)
	default:
		return nil
	}

	size, err := e.positionSize(symbol)
	if err != nil || size.Sign() <= 0 {
		return nil
	}
	qty, err := types.NewQuantity(size)
	if err != nil {
		return err
	}

	order := types.NewOrder(uuid.New(), symbol, side, types.Market, qty, types.Price{})
	order.CreatedAt = now
	e.pending = append(e.pending, order)
	return nil
}

// hasSlotFor reports whether a buy on the symbol respects MaxPositions.
// Adding to an existing position is always allowed; a new symbol counts
// open positions plus distinct symbols already queued to open.
func (e *Engine) hasSlotFor(symbol types.Symbol) bool {
	if e.pf.Position(symbol) != nil {
		return true
	}
	used := e.pf.PositionCount()
	seen := make(map[string]bool)
	for _, order := range e.pending {
		key := order.Symbol.String()
		if order.Symbol != symbol && e.pf.Position(order.Symbol) == nil && !seen[key] {
			seen[key] = true
			used++
		}
	}
	return used < e.cfg.MaxPositions
}

// positionSize converts the configured sizing mode into a base quantity at
// the current price.
func (e *Engine) positionSize(symbol types.Symbol) (decimal.Decimal, error) {
	price, ok := e.currentPrices[symbol.String()]
	if !ok || price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrNoPriceAvailable, symbol)
	}
	equity := e.pf.TotalEquity()

	switch e.cfg.Sizing.Mode {
	case SizingFixed:
		return e.cfg.Sizing.Amount.Div(price), nil
	case SizingKelly:
		// kelly = (winRate * (ratio + 1) - 1) / ratio, clamped to [0, 0.25]
		ratio := e.cfg.Sizing.WinLossRatio
		if ratio.Sign() <= 0 {
			return decimal.Zero, nil
		}
		kelly := e.cfg.Sizing.WinRate.Mul(ratio.Add(decimal.NewFromInt(1))).
			Sub(decimal.NewFromInt(1)).Div(ratio)
		if kelly.Sign() < 0 {
			kelly = decimal.Zero
		}
		if maxKelly := decimal.NewFromFloat(0.25); kelly.GreaterThan(maxKelly) {
			kelly = maxKelly
		}
		return equity.Mul(kelly).Div(price), nil
	default:
		return equity.Mul(e.cfg.Sizing.Percent).Div(price), nil
	}
}

// closePosition sells out the full open quantity at market.
func (e *Engine) closePosition(ctx context.Context, symbol types.Symbol, now time.Time) error {
	pos := e.pf.Position(symbol)
	if pos == nil {
		return nil
	}

	order := types.NewOrder(pos.StrategyID, symbol, types.Sell, types.Market, pos.Quantity, types.Price{})
	order.CreatedAt = now
	return e.fillOrder(ctx, order, now)
}

// closeAllPositions force-closes everything at end-of-window prices.
func (e *Engine) closeAllPositions(ctx context.Context) error {
	for _, pos := range e.pf.Positions() {
		if err := e.closePosition(ctx, pos.Symbol, e.cfg.EndTime); err != nil {
			return err
		}
	}
	return nil
}

// Portfolio exposes the final portfolio, for inspection after Run.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }
