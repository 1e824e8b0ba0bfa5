// Package cost models trading costs: commission and slippage.
//
// Both models are pure functions of their inputs, so the live path and the
// backtest simulator produce identical (execution price, commission,
// slippage) tuples for identical orders. That tuple is the single input to
// portfolio accounting.
package cost

import (
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

var bps = decimal.NewFromInt(10000)

// CommissionModel computes trading fees from maker/taker rates.
type CommissionModel struct {
	MakerRate     decimal.Decimal `json:"maker_rate"`
	TakerRate     decimal.Decimal `json:"taker_rate"`
	MinCommission decimal.Decimal `json:"min_commission"`
}

// DefaultCommission matches OKX spot tier-1 fees.
func DefaultCommission() CommissionModel { return OKXSpotCommission() }

// OKXSpotCommission is 0.1% maker / 0.15% taker.
func OKXSpotCommission() CommissionModel {
	return CommissionModel{
		MakerRate: decimal.NewFromFloat(0.001),
		TakerRate: decimal.NewFromFloat(0.0015),
	}
}

// OKXFuturesCommission is 0.02% maker / 0.05% taker.
func OKXFuturesCommission() CommissionModel {
	return CommissionModel{
		MakerRate: decimal.NewFromFloat(0.0002),
		TakerRate: decimal.NewFromFloat(0.0005),
	}
}

// Calculate returns max(minCommission, notional * rate). Limit and
// post-only orders pay the maker rate; everything else (market, IOC, FOK,
// and triggered conditional orders) pays taker.
func (m CommissionModel) Calculate(typ types.OrderType, price, qty decimal.Decimal) decimal.Decimal {
	rate := m.TakerRate
	if typ.IsMaker() {
		rate = m.MakerRate
	}
	commission := price.Mul(qty).Mul(rate)
	if commission.LessThan(m.MinCommission) {
		return m.MinCommission
	}
	return commission
}

// SlippageModel simulates adverse execution offsets for market orders.
// Filled limit orders execute at their price or better and take none.
type SlippageModel struct {
	// FixedBps is the flat component in basis points.
	FixedBps decimal.Decimal `json:"fixed_bps"`

	// ImpactCoefficient scales the linear market-impact component.
	ImpactCoefficient decimal.Decimal `json:"impact_coefficient"`

	MinSlippage decimal.Decimal `json:"min_slippage"`
}

// DefaultSlippage is 5 bps fixed with a 0.0001 impact coefficient.
func DefaultSlippage() SlippageModel {
	return SlippageModel{
		FixedBps:          decimal.NewFromInt(5),
		ImpactCoefficient: decimal.NewFromFloat(0.0001),
	}
}

// ConservativeSlippage doubles the default components.
func ConservativeSlippage() SlippageModel {
	return SlippageModel{
		FixedBps:          decimal.NewFromInt(10),
		ImpactCoefficient: decimal.NewFromFloat(0.0002),
	}
}

// AggressiveSlippage assumes deep books and small footprints.
func AggressiveSlippage() SlippageModel {
	return SlippageModel{
		FixedBps:          decimal.NewFromInt(3),
		ImpactCoefficient: decimal.NewFromFloat(0.00005),
	}
}

// CalculateMarket returns slippage for a market order:
// fixed = price * fixedBps/10000, impact = price * coef * qty/avgVolume,
// total = max(minSlippage, fixed + impact).
func (m SlippageModel) CalculateMarket(price, qty, avgVolume decimal.Decimal) decimal.Decimal {
	fixed := price.Mul(m.FixedBps).Div(bps)

	volumeRatio := decimal.Zero
	if avgVolume.Sign() > 0 {
		volumeRatio = qty.Div(avgVolume)
	}
	impact := price.Mul(m.ImpactCoefficient).Mul(volumeRatio)

	total := fixed.Add(impact)
	if total.LessThan(m.MinSlippage) {
		return m.MinSlippage
	}
	return total
}

// Apply shifts a base price by the slippage amount, always unfavourably:
// buys pay up, sells receive less.
func (m SlippageModel) Apply(side types.Side, price, slippage decimal.Decimal) decimal.Decimal {
	if side == types.Buy {
		return price.Add(slippage)
	}
	return price.Sub(slippage)
}

// Model combines commission and slippage.
type Model struct {
	Commission CommissionModel `json:"commission"`
	Slippage   SlippageModel   `json:"slippage"`
}

// Default pairs OKX spot commission with default slippage.
func Default() Model {
	return Model{Commission: DefaultCommission(), Slippage: DefaultSlippage()}
}

// OKXSpotConservative pairs spot fees with conservative slippage.
func OKXSpotConservative() Model {
	return Model{Commission: OKXSpotCommission(), Slippage: ConservativeSlippage()}
}

// OKXFuturesAggressive pairs futures fees with aggressive slippage.
func OKXFuturesAggressive() Model {
	return Model{Commission: OKXFuturesCommission(), Slippage: AggressiveSlippage()}
}

// TotalCost returns the (execution price, commission, slippage) tuple for
// one fill. avgVolume feeds the impact component and only matters for
// market orders.
func (m Model) TotalCost(typ types.OrderType, side types.Side, price, qty, avgVolume decimal.Decimal) (execPrice, commission, slippage decimal.Decimal) {
	commission = m.Commission.Calculate(typ, price, qty)

	if typ == types.Market {
		slippage = m.Slippage.CalculateMarket(price, qty, avgVolume)
	} else {
		slippage = decimal.Zero
	}

	execPrice = m.Slippage.Apply(side, price, slippage)
	return execPrice, commission, slippage
}
