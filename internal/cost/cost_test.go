package cost

import (
	"testing"

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

func TestCommissionMakerTaker(t *testing.T) {
	t.Parallel()

	model := OKXSpotCommission()

	// Limit buy 1.0 @ 50000: maker 0.1% = 50
	got := model.Calculate(types.Limit, dec("50000"), dec("1.0"))
	if !got.Equal(dec("50")) {
		t.Errorf("limit commission = %v, want 50", got)
	}

	// Market buy 1.0 @ 50000: taker 0.15% = 75
	got = model.Calculate(types.Market, dec("50000"), dec("1.0"))
	if !got.Equal(dec("75")) {
		t.Errorf("market commission = %v, want 75", got)
	}
}

func TestCommissionRatePerType(t *testing.T) {
	t.Parallel()

	model := OKXSpotCommission()
	price, qty := dec("10000"), dec("1")
	maker := dec("10")
	taker := dec("15")

	tests := []struct {
		typ  types.OrderType
		want decimal.Decimal
	}{
		{types.Limit, maker},
		{types.PostOnly, maker},
		{types.Market, taker},
		{types.IOC, taker},
		{types.FOK, taker},
		{types.StopLoss, taker},
		{types.TakeProfit, taker},
		{types.TrailingStop, taker},
		{types.Iceberg, taker},
	}

	for _, tt := range tests {
		if got := model.Calculate(tt.typ, price, qty); !got.Equal(tt.want) {
			t.Errorf("Calculate(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestCommissionMinimum(t *testing.T) {
	t.Parallel()

	model := CommissionModel{
		MakerRate:     dec("0.001"),
		TakerRate:     dec("0.0015"),
		MinCommission: dec("1"),
	}
	// Tiny notional: 10 * 0.001 = 0.01, clamped to the 1.0 floor.
	got := model.Calculate(types.Limit, dec("10"), dec("1"))
	if !got.Equal(dec("1")) {
		t.Errorf("commission = %v, want min 1", got)
	}
}

func TestSlippageMarket(t *testing.T) {
	t.Parallel()

	model := DefaultSlippage()

	// Buy 0.1 @ 50000, avg volume 1.0:
	// fixed = 50000 * 5/10000 = 25, impact = 50000 * 0.0001 * 0.1 = 0.5
	got := model.CalculateMarket(dec("50000"), dec("0.1"), dec("1.0"))
	if !got.Equal(dec("25.5")) {
		t.Errorf("slippage = %v, want 25.5", got)
	}
}

func TestSlippageZeroVolume(t *testing.T) {
	t.Parallel()

	model := DefaultSlippage()
	// No volume data: impact component drops out, fixed remains.
	got := model.CalculateMarket(dec("50000"), dec("0.1"), decimal.Zero)
	if !got.Equal(dec("25")) {
		t.Errorf("slippage = %v, want 25", got)
	}
}

func TestSlippageApply(t *testing.T) {
	t.Parallel()

	model := DefaultSlippage()

	buy := model.Apply(types.Buy, dec("50000"), dec("10"))
	if !buy.Equal(dec("50010")) {
		t.Errorf("buy price = %v, want 50010", buy)
	}
	sell := model.Apply(types.Sell, dec("50000"), dec("10"))
	if !sell.Equal(dec("49990")) {
		t.Errorf("sell price = %v, want 49990", sell)
	}
}

func TestTotalCostMarketBuy(t *testing.T) {
	t.Parallel()

	model := Default()
	execPrice, commission, slippage := model.TotalCost(
		types.Market, types.Buy, dec("50000"), dec("0.1"), dec("1.0"))

	if !slippage.Equal(dec("25.5")) {
		t.Errorf("slippage = %v, want 25.5", slippage)
	}
	if !execPrice.Equal(dec("50025.5")) {
		t.Errorf("exec price = %v, want 50025.5", execPrice)
	}
	// taker: 50000 * 0.1 * 0.0015 = 7.5
	if !commission.Equal(dec("7.5")) {
		t.Errorf("commission = %v, want 7.5", commission)
	}
}

func TestTotalCostRoundTrip(t *testing.T) {
	t.Parallel()

	model := Default()

	buyPrice, _, buySlip := model.TotalCost(types.Market, types.Buy, dec("50000"), dec("0.1"), dec("1.0"))
	sellPrice, _, sellSlip := model.TotalCost(types.Market, types.Sell, dec("50000"), dec("0.1"), dec("1.0"))

	if !buySlip.Equal(sellSlip) {
		t.Errorf("slippage asymmetric: buy %v, sell %v", buySlip, sellSlip)
	}
	if !buyPrice.Equal(dec("50025.5")) {
		t.Errorf("buy exec = %v, want 50025.5", buyPrice)
	}
	if !sellPrice.Equal(dec("49974.5")) {
		t.Errorf("sell exec = %v, want 49974.5", sellPrice)
	}
}

func TestTotalCostLimitNoSlippage(t *testing.T) {
	t.Parallel()

	model := Default()
	execPrice, _, slippage := model.TotalCost(
		types.Limit, types.Buy, dec("50000"), dec("0.1"), dec("1.0"))

	if !slippage.IsZero() {
		t.Errorf("limit slippage = %v, want 0", slippage)
	}
	if !execPrice.Equal(dec("50000")) {
		t.Errorf("limit exec = %v, want 50000", execPrice)
	}
}

func TestTotalCostDeterministic(t *testing.T) {
	t.Parallel()

	model := OKXSpotConservative()
	p1, c1, s1 := model.TotalCost(types.Market, types.Buy, dec("50000"), dec("1"), dec("10"))
	p2, c2, s2 := model.TotalCost(types.Market, types.Buy, dec("50000"), dec("1"), dec("10"))

	if !p1.Equal(p2) || !c1.Equal(c2) || !s1.Equal(s2) {
		t.Errorf("identical inputs produced different tuples: (%v %v %v) vs (%v %v %v)",
			p1, c1, s1, p2, c2, s2)
	}
}
