package algo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

// recordingSubmitter captures submitted child orders.
type recordingSubmitter struct {
	mu     sync.Mutex
	orders []*types.Order
	errAt  map[int]error // submission index -> error
}

func (r *recordingSubmitter) Submit(_ context.Context, order *types.Order) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := len(r.orders)
	r.orders = append(r.orders, order)
	if err, ok := r.errAt[index]; ok {
		return uuid.Nil, err
	}
	return order.ID, nil
}

func (r *recordingSubmitter) submitted() []*types.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Order, len(r.orders))
	copy(out, r.orders)
	return out
}

func fastTwapConfig(total string) TwapConfig {
	return TwapConfig{
		TotalQuantity:     types.MustQuantity(total),
		Duration:          40 * time.Millisecond,
		SliceInterval:     10 * time.Millisecond,
		RandomizationPct:  decimal.Zero,
		OrderType:         types.Limit,
		AggressiveOnFinal: true,
	}
}

func TestTwapExecutesAllSlices(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	exec := NewTwapExecutor(fastTwapConfig("1"), types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, NewSeededJitter(1), testLogger())

	result, err := exec.Execute(context.Background(), types.MustPrice("50000"))
	if err != nil {
		t.Fatal(err)
	}

	// 40ms / 10ms = 4 slices of 0.25 each.
	if result.SlicesExecuted != 4 {
		t.Errorf("slices executed = %d, want 4", result.SlicesExecuted)
	}
	if !result.TotalExecuted.Equal(dec("1")) {
		t.Errorf("total executed = %v, want 1", result.TotalExecuted)
	}
	if len(sub.submitted()) != 4 {
		t.Errorf("child orders = %d, want 4", len(sub.submitted()))
	}
}

func TestTwapFinalSliceAggressive(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	exec := NewTwapExecutor(fastTwapConfig("1"), types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, NewSeededJitter(1), testLogger())

	if _, err := exec.Execute(context.Background(), types.MustPrice("50000")); err != nil {
		t.Fatal(err)
	}

	orders := sub.submitted()
	for i, order := range orders {
		want := types.Limit
		if i == len(orders)-1 {
			want = types.Market
		}
		if order.Type != want {
			t.Errorf("slice %d type = %s, want %s", i, order.Type, want)
		}
	}
}

func TestTwapJitterClampedToRemaining(t *testing.T) {
	t.Parallel()

	cfg := fastTwapConfig("1")
	cfg.RandomizationPct = dec("25")
	sub := &recordingSubmitter{}
	exec := NewTwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, NewSeededJitter(42), testLogger())

	result, err := exec.Execute(context.Background(), types.MustPrice("50000"))
	if err != nil {
		t.Fatal(err)
	}

	if result.TotalExecuted.GreaterThan(dec("1")) {
		t.Errorf("total executed %v exceeds parent quantity", result.TotalExecuted)
	}
	base := dec("0.25")
	low := base.Mul(dec("0.75"))
	high := base.Mul(dec("1.25"))
	for _, slice := range result.Slices {
		if slice.TargetQuantity.GreaterThan(high) {
			t.Errorf("slice %d target %v above jitter ceiling %v",
				slice.SliceNumber, slice.TargetQuantity, high)
		}
		// The clamp to remaining may shrink a slice below the jitter floor
		// only on the last fills.
		if slice.TargetQuantity.LessThan(low) && slice.SliceNumber < len(result.Slices)-1 {
			t.Errorf("slice %d target %v below jitter floor %v",
				slice.SliceNumber, slice.TargetQuantity, low)
		}
	}
}

func TestTwapDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	run := func() []decimal.Decimal {
		cfg := fastTwapConfig("1")
		cfg.RandomizationPct = dec("20")
		exec := NewTwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Buy,
			uuid.New(), &recordingSubmitter{}, NewSeededJitter(99), testLogger())
		result, err := exec.Execute(context.Background(), types.MustPrice("50000"))
		if err != nil {
			t.Fatal(err)
		}
		sizes := make([]decimal.Decimal, len(result.Slices))
		for i, slice := range result.Slices {
			sizes[i] = slice.TargetQuantity
		}
		return sizes
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("slice counts diverged: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Errorf("slice %d diverged: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestTwapPriceOffset(t *testing.T) {
	t.Parallel()

	cfg := fastTwapConfig("1")
	cfg.PriceOffsetBps = 10
	cfg.AggressiveOnFinal = false
	sub := &recordingSubmitter{}
	exec := NewTwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, NewSeededJitter(1), testLogger())

	if _, err := exec.Execute(context.Background(), types.MustPrice("50000")); err != nil {
		t.Fatal(err)
	}

	// Buy offset: 50000 * (1 + 10/10000) = 50050.
	for _, order := range sub.submitted() {
		if !order.Price.Decimal().Equal(dec("50050")) {
			t.Errorf("child price = %v, want 50050", order.Price)
		}
	}
}

func TestTwapCancellationStopsSlices(t *testing.T) {
	t.Parallel()

	cfg := fastTwapConfig("1")
	cfg.Duration = 10 * time.Second
	cfg.SliceInterval = 50 * time.Millisecond
	sub := &recordingSubmitter{}
	exec := NewTwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, NewSeededJitter(1), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(70 * time.Millisecond)
		cancel()
	}()

	result, err := exec.Execute(ctx, types.MustPrice("50000"))
	if err == nil {
		t.Error("cancelled execution returned no error")
	}
	// ~2 slices fit in 70ms at 50ms intervals; far fewer than 200.
	if result.SlicesExecuted == 0 || result.SlicesExecuted > 4 {
		t.Errorf("slices executed = %d, want a small partial count", result.SlicesExecuted)
	}
}

func TestTwapFailedSliceCounted(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{errAt: map[int]error{
		1: fmt.Errorf("%w: rate limited", types.ErrExchangeTransient),
	}}
	exec := NewTwapExecutor(fastTwapConfig("1"), types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, NewSeededJitter(1), testLogger())

	result, err := exec.Execute(context.Background(), types.MustPrice("50000"))
	if err != nil {
		t.Fatal(err)
	}
	if result.SlicesFailed != 1 {
		t.Errorf("failed slices = %d, want 1", result.SlicesFailed)
	}
	if result.TotalExecuted.Equal(dec("1")) {
		t.Error("failed slice still counted as executed")
	}
}

func TestVwapProfileWeighting(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := VwapConfig{
		TotalQuantity: types.MustQuantity("10"),
		StartTime:     start,
		EndTime:       start.Add(2 * time.Hour),
		VolumeProfile: map[int]decimal.Decimal{
			0: dec("3"),
			1: dec("1"),
		},
		MinSliceSize:  types.MustQuantity("0.001"),
		SliceInterval: 5 * time.Millisecond,
	}

	sub := &recordingSubmitter{}
	exec := NewVwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, testLogger())

	result, err := exec.Execute(context.Background(), types.MustPrice("50000"))
	if err != nil {
		t.Fatal(err)
	}

	if result.SlicesExecuted != 2 {
		t.Fatalf("slices = %d, want 2", result.SlicesExecuted)
	}
	// Hour 0 carries weight 3/4: 7.5 units; hour 1 the rest.
	if !result.Slices[0].TargetQuantity.Equal(dec("7.5")) {
		t.Errorf("hour 0 slice = %v, want 7.5", result.Slices[0].TargetQuantity)
	}
	if !result.Slices[1].TargetQuantity.Equal(dec("2.5")) {
		t.Errorf("hour 1 slice = %v, want 2.5", result.Slices[1].TargetQuantity)
	}
	if !result.TotalExecuted.Equal(dec("10")) {
		t.Errorf("total executed = %v, want 10", result.TotalExecuted)
	}
}

func TestVwapMinSliceClamp(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := VwapConfig{
		TotalQuantity: types.MustQuantity("1"),
		StartTime:     start,
		EndTime:       start.Add(2 * time.Hour),
		VolumeProfile: map[int]decimal.Decimal{
			0: dec("0.0001"), // tiny weight forces the clamp
			1: dec("100"),
		},
		MinSliceSize:  types.MustQuantity("0.1"),
		SliceInterval: 5 * time.Millisecond,
	}

	sub := &recordingSubmitter{}
	exec := NewVwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Sell,
		uuid.New(), sub, testLogger())

	result, err := exec.Execute(context.Background(), types.MustPrice("50000"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Slices[0].TargetQuantity.LessThan(dec("0.1")) {
		t.Errorf("hour 0 slice = %v, below min slice size", result.Slices[0].TargetQuantity)
	}
}

func TestVwapDeviationReported(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultVwapConfig(start)
	cfg.TotalQuantity = types.MustQuantity("1")
	cfg.PriceOffsetBps = 20 // sell 20 bps below reference
	cfg.SliceInterval = time.Millisecond

	exec := NewVwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Sell,
		uuid.New(), &recordingSubmitter{}, testLogger())

	result, err := exec.Execute(context.Background(), types.MustPrice("50000"))
	if err != nil {
		t.Fatal(err)
	}
	// All slices executed at ref - 20 bps, so the deviation is -20 bps.
	if !result.VwapDeviationBps.Equal(dec("-20")) {
		t.Errorf("deviation = %v bps, want -20", result.VwapDeviationBps)
	}
}

func TestVwapChildOrdersAreLimits(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultVwapConfig(start)
	cfg.TotalQuantity = types.MustQuantity("1")
	cfg.SliceInterval = time.Millisecond

	sub := &recordingSubmitter{}
	exec := NewVwapExecutor(cfg, types.MustSymbol("BTC-USDT"), types.Buy,
		uuid.New(), sub, testLogger())

	if _, err := exec.Execute(context.Background(), types.MustPrice("50000")); err != nil {
		t.Fatal(err)
	}
	for i, order := range sub.submitted() {
		if order.Type != types.Limit {
			t.Errorf("child %d type = %s, want limit", i, order.Type)
		}
	}
}
