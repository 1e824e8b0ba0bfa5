package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/internal/cost"
	"github.com/heheshang/ea-okx/internal/strategy"
	"github.com/heheshang/ea-okx/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memorySource serves candles from memory.
type memorySource struct {
	candles map[string][]types.Candle
}

func (s *memorySource) QueryCandles(_ context.Context, symbol types.Symbol, _ string, _, _ time.Time) ([]types.Candle, error) {
	return s.candles[symbol.String()], nil
}

// makeCandles builds an hourly series from close prices.
func makeCandles(symbol string, start time.Time, closes []float64) []types.Candle {
	sym := types.MustSymbol(symbol)
	candles := make([]types.Candle, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		candles[i] = types.Candle{
			Symbol:    sym,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(100),
			Confirmed: true,
		}
	}
	return candles
}

// scriptedStrategy emits a fixed signal sequence, one per candle.
type scriptedStrategy struct {
	signals []strategy.Signal
	step    int
	fills   int
}

func (s *scriptedStrategy) Initialize(context.Context, strategy.Config) error { return nil }

func (s *scriptedStrategy) OnMarketData(context.Context, types.MarketEvent) error { return nil }

func (s *scriptedStrategy) GenerateSignal(context.Context) (strategy.Signal, error) {
	if s.step >= len(s.signals) {
		return strategy.Hold(), nil
	}
	signal := s.signals[s.step]
	s.step++
	return signal, nil
}

func (s *scriptedStrategy) OnOrderFill(context.Context, *types.Order) error {
	s.fills++
	return nil
}

func (s *scriptedStrategy) OnOrderReject(context.Context, *types.Order, string) error { return nil }

func (s *scriptedStrategy) GetMetrics() strategy.Metrics { return strategy.Metrics{} }

func (s *scriptedStrategy) SerializeState() (json.RawMessage, error) {
	return json.RawMessage("{}"), nil
}

func (s *scriptedStrategy) DeserializeState(json.RawMessage) error { return nil }

func (s *scriptedStrategy) Shutdown(context.Context) error { return nil }

func zeroCostConfig(start time.Time, hours int) Config {
	cfg := DefaultConfig()
	cfg.StartTime = start
	cfg.EndTime = start.Add(time.Duration(hours) * time.Hour)
	cfg.CostModel = cost.Model{} // zero commission, zero slippage
	cfg.Sizing = PositionSizing{Mode: SizingFixed, Amount: dec("10000")}
	return cfg
}

func TestNoDataAborts(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := zeroCostConfig(start, 10)

	engine := New(cfg, &scriptedStrategy{}, &memorySource{candles: map[string][]types.Candle{}}, testLogger())
	_, err := engine.Run(context.Background())
	if !errors.Is(err, types.ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestBuyThenForcedClose(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 110, 120}
	cfg := zeroCostConfig(start, len(closes))

	strat := &scriptedStrategy{signals: []strategy.Signal{strategy.BuySignal(1)}}
	source := &memorySource{candles: map[string][]types.Candle{
		"BTC-USDT": makeCandles("BTC-USDT", start, closes),
	}}

	engine := New(cfg, strat, source, testLogger())
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Buy signal on candle 1 @ 100 enqueues a market order that fills on
	// candle 2 @ 110 (100 units for the 10000 fixed size at signal time).
	// The forced close sells at the final 120.
	if result.TotalTrades != 1 {
		t.Fatalf("closing trades = %d, want 1", result.TotalTrades)
	}
	if result.WinningTrades != 1 {
		t.Errorf("winning trades = %d, want 1", result.WinningTrades)
	}
	// 100 units bought at 110, sold at 120: PnL = 1000.
	if !result.TotalPnL.Equal(dec("1000")) {
		t.Errorf("TotalPnL = %v, want 1000", result.TotalPnL)
	}
	if engine.Portfolio().PositionCount() != 0 {
		t.Error("positions remain after forced close")
	}
	if strat.fills != 2 {
		t.Errorf("strategy fill callbacks = %d, want 2", strat.fills)
	}
}

func TestLimitOrderFillRules(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := zeroCostConfig(start, 4)
	source := &memorySource{candles: map[string][]types.Candle{
		"BTC-USDT": makeCandles("BTC-USDT", start, []float64{100, 105, 95, 94}),
	}}

	engine := New(cfg, &scriptedStrategy{}, source, testLogger())
	if err := engine.loadData(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A limit buy at 96 must not fill at 100 or 105, then fill at 95.
	order := types.NewOrder(uuid.New(), types.MustSymbol("BTC-USDT"), types.Buy, types.Limit,
		types.MustQuantity("1"), types.MustPrice("96"))
	engine.pending = append(engine.pending, order)

	for i, event := range engine.events {
		if err := engine.processEvent(context.Background(), event); err != nil {
			t.Fatal(err)
		}
		filled := len(engine.pending) == 0
		wantFilled := i >= 2
		if filled != wantFilled {
			t.Errorf("after candle %d: filled = %v, want %v", i, filled, wantFilled)
		}
	}
}

func TestDeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Two symbols with interleaved timestamps plus a pseudo-random walk.
	rng := rand.New(rand.NewSource(7))
	closesA := make([]float64, 120)
	closesB := make([]float64, 120)
	priceA, priceB := 100.0, 2500.0
	for i := range closesA {
		priceA *= 1 + (rng.Float64()-0.5)*0.04
		priceB *= 1 + (rng.Float64()-0.5)*0.04
		closesA[i] = priceA
		closesB[i] = priceB
	}

	run := func(shuffle bool) Result {
		candles := map[string][]types.Candle{
			"BTC-USDT": makeCandles("BTC-USDT", start, closesA),
			"ETH-USDT": makeCandles("ETH-USDT", start, closesB),
		}
		if shuffle {
			// Reverse input order; the engine must re-sort identically.
			for _, series := range candles {
				for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
					series[i], series[j] = series[j], series[i]
				}
			}
		}

		cfg := zeroCostConfig(start, 120)
		cfg.Symbols = []types.Symbol{types.MustSymbol("BTC-USDT"), types.MustSymbol("ETH-USDT")}
		cfg.CostModel = cost.Default()

		strat := strategy.NewMACrossover(strategy.MACrossoverParams{FastPeriod: 5, SlowPeriod: 15})
		engine := New(cfg, strat, &memorySource{candles: candles}, testLogger())
		result, err := engine.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	first := run(false)
	second := run(true)

	if !first.FinalEquity.Equal(second.FinalEquity) {
		t.Errorf("final equity diverged: %v vs %v", first.FinalEquity, second.FinalEquity)
	}
	if first.TotalTrades != second.TotalTrades {
		t.Errorf("trade counts diverged: %d vs %d", first.TotalTrades, second.TotalTrades)
	}
	if len(first.EquityCurve) != len(second.EquityCurve) {
		t.Fatalf("equity curve lengths diverged: %d vs %d",
			len(first.EquityCurve), len(second.EquityCurve))
	}
	for i := range first.EquityCurve {
		if !first.EquityCurve[i].Equity.Equal(second.EquityCurve[i].Equity) {
			t.Fatalf("equity curve diverged at %d: %v vs %v",
				i, first.EquityCurve[i].Equity, second.EquityCurve[i].Equity)
		}
	}
}

func TestMaxPositionsRespected(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 100, 100, 100, 100, 100}
	cfg := zeroCostConfig(start, len(closes))
	cfg.MaxPositions = 1
	cfg.Symbols = []types.Symbol{types.MustSymbol("BTC-USDT"), types.MustSymbol("ETH-USDT")}

	// Buy every candle on both symbols; only the first symbol may open.
	signals := make([]strategy.Signal, len(closes)*2)
	for i := range signals {
		signals[i] = strategy.BuySignal(1)
	}

	source := &memorySource{candles: map[string][]types.Candle{
		"BTC-USDT": makeCandles("BTC-USDT", start, closes),
		"ETH-USDT": makeCandles("ETH-USDT", start, closes),
	}}

	engine := New(cfg, &scriptedStrategy{signals: signals}, source, testLogger())
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// With the cap at 1 only one symbol ever held a position; the forced
	// close already emptied it, so inspect the trade log instead.
	symbols := make(map[string]bool)
	for _, trade := range engine.trades {
		symbols[trade.Symbol.String()] = true
	}
	if len(symbols) != 1 {
		t.Errorf("traded symbols = %d, want 1 (max positions)", len(symbols))
	}
}

func TestSharpeZeroVariance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []float64{100, 100, 100, 100, 100}

	cfg := zeroCostConfig(start, len(curve))
	source := &memorySource{candles: map[string][]types.Candle{
		"BTC-USDT": makeCandles("BTC-USDT", start, curve),
	}}

	// Repeated buys at a flat price give a constant equity curve.
	strat := &scriptedStrategy{signals: []strategy.Signal{
		strategy.BuySignal(1), strategy.BuySignal(1),
	}}
	engine := New(cfg, strat, source, testLogger())
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !result.SharpeRatio.IsZero() {
		t.Errorf("Sharpe with zero variance = %v, want 0", result.SharpeRatio)
	}
}
