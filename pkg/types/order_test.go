package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestNewOrderDefaults(t *testing.T) {
	t.Parallel()

	strategyID := uuid.New()
	order := NewOrder(strategyID, MustSymbol("BTC-USDT"), Buy, Market, MustQuantity("0.01"), Price{})

	if order.StrategyID != strategyID {
		t.Errorf("StrategyID = %v, want %v", order.StrategyID, strategyID)
	}
	if order.State != StateCreated {
		t.Errorf("State = %v, want created", order.State)
	}
	if order.ClientID == "" {
		t.Error("ClientID empty")
	}
	if !order.FilledQuantity.IsZero() {
		t.Errorf("FilledQuantity = %v, want 0", order.FilledQuantity)
	}
	if order.IsFilled() {
		t.Error("new order reports filled")
	}
}

func TestOrderApplyFill(t *testing.T) {
	t.Parallel()

	order := NewOrder(uuid.New(), MustSymbol("BTC-USDT"), Buy, Limit, MustQuantity("0.01"), MustPrice("42000"))
	order.MarkSubmitted("okx-1", time.Now().UTC())

	now := time.Now().UTC()
	if err := order.ApplyFill(MustQuantity("0.005"), MustPrice("41995"), now); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if order.FirstFillAt.IsZero() {
		t.Error("FirstFillAt not set by first fill")
	}
	firstFill := order.FirstFillAt

	if err := order.ApplyFill(MustQuantity("0.005"), MustPrice("42005"), now.Add(time.Second)); err != nil {
		t.Fatalf("second fill: %v", err)
	}

	// Weighted average: (0.005*41995 + 0.005*42005) / 0.01 = 42000
	if !order.AvgFillPrice.Decimal().Equal(decimal.NewFromInt(42000)) {
		t.Errorf("AvgFillPrice = %v, want 42000", order.AvgFillPrice)
	}
	if !order.FilledQuantity.Decimal().Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("FilledQuantity = %v, want 0.01", order.FilledQuantity)
	}
	if !order.FirstFillAt.Equal(firstFill) {
		t.Error("FirstFillAt changed by second fill")
	}
	if order.CompletedAt.IsZero() {
		t.Error("CompletedAt not set on full fill")
	}
}

func TestOrderApplyFillOverfill(t *testing.T) {
	t.Parallel()

	order := NewOrder(uuid.New(), MustSymbol("BTC-USDT"), Buy, Limit, MustQuantity("0.01"), MustPrice("42000"))
	if err := order.ApplyFill(MustQuantity("0.02"), MustPrice("42000"), time.Now().UTC()); err == nil {
		t.Error("overfill accepted, want error")
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()

	order := NewOrder(uuid.New(), MustSymbol("ETH-USDT"), Sell, Limit, MustQuantity("2"), MustPrice("2500"))
	if err := order.ApplyFill(MustQuantity("0.5"), MustPrice("2500"), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if !order.Remaining().Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("Remaining() = %v, want 1.5", order.Remaining())
	}
}

func TestTradeValues(t *testing.T) {
	t.Parallel()

	trade := &Trade{
		Symbol:     MustSymbol("BTC-USDT"),
		Side:       Buy,
		Type:       Market,
		Quantity:   MustQuantity("0.1"),
		Price:      MustPrice("42000"),
		Commission: decimal.NewFromFloat(4.2),
	}

	if !trade.TradeValue().Equal(decimal.NewFromInt(4200)) {
		t.Errorf("TradeValue() = %v, want 4200", trade.TradeValue())
	}
	// Buy: gross + commission
	if !trade.NetValue().Equal(decimal.NewFromFloat(4204.2)) {
		t.Errorf("NetValue() = %v, want 4204.2", trade.NetValue())
	}
	if !trade.EffectivePrice().Equal(decimal.NewFromInt(42042)) {
		t.Errorf("EffectivePrice() = %v, want 42042", trade.EffectivePrice())
	}

	trade.Side = Sell
	// Sell: gross - commission
	if !trade.NetValue().Equal(decimal.NewFromFloat(4195.8)) {
		t.Errorf("sell NetValue() = %v, want 4195.8", trade.NetValue())
	}
}

func TestPositionPnL(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	long := NewPosition(uuid.New(), MustSymbol("BTC-USDT"), Long, MustQuantity("0.1"), MustPrice("40000"), now)
	long.UpdatePrice(MustPrice("42000"), now)
	// Long: (42000 - 40000) * 0.1 = 200
	if !long.UnrealizedPnL.Equal(decimal.NewFromInt(200)) {
		t.Errorf("long unrealized = %v, want 200", long.UnrealizedPnL)
	}

	short := NewPosition(uuid.New(), MustSymbol("BTC-USDT"), Short, MustQuantity("0.1"), MustPrice("42000"), now)
	short.UpdatePrice(MustPrice("40000"), now)
	// Short: (42000 - 40000) * 0.1 = 200
	if !short.UnrealizedPnL.Equal(decimal.NewFromInt(200)) {
		t.Errorf("short unrealized = %v, want 200", short.UnrealizedPnL)
	}
}

func TestPositionValue(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	pos := NewPosition(uuid.New(), MustSymbol("ETH-USDT"), Long, MustQuantity("5"), MustPrice("2500"), now)

	if !pos.EntryValue().Equal(decimal.NewFromInt(12500)) {
		t.Errorf("EntryValue() = %v, want 12500", pos.EntryValue())
	}
	pos.UpdatePrice(MustPrice("2600"), now)
	if !pos.Value().Equal(decimal.NewFromInt(13000)) {
		t.Errorf("Value() = %v, want 13000", pos.Value())
	}
}

func TestOrderBookMidPrice(t *testing.T) {
	t.Parallel()

	book := &OrderBook{
		Symbol: MustSymbol("BTC-USDT"),
		Bids:   []BookLevel{{Price: decimal.NewFromInt(41990), Quantity: decimal.NewFromInt(1)}},
		Asks:   []BookLevel{{Price: decimal.NewFromInt(42010), Quantity: decimal.NewFromInt(1)}},
	}
	mid, ok := book.MidPrice()
	if !ok {
		t.Fatal("MidPrice() not ok for two-sided book")
	}
	if !mid.Equal(decimal.NewFromInt(42000)) {
		t.Errorf("MidPrice() = %v, want 42000", mid)
	}

	empty := &OrderBook{Symbol: MustSymbol("BTC-USDT")}
	if _, ok := empty.MidPrice(); ok {
		t.Error("MidPrice() ok for empty book")
	}
}
