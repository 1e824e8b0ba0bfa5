// Package portfolio tracks cash, positions, and P&L.
//
// The portfolio is single-writer: the owning engine serializes ApplyFill
// and UpdatePrices, so no fill is ever applied concurrently with another
// mutation on overlapping symbols. Every fill moves cash by exactly
// price*qty plus or minus costs; the equity identity
// equity = cash + sum(qty * mark) holds after every mutation.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

// EquityPoint is one equity-curve sample. The curve is append-only and
// timestamp-monotonic.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Portfolio holds cash and open positions for one run (live or backtest).
type Portfolio struct {
	InitialCapital  decimal.Decimal
	Cash            decimal.Decimal
	RealizedPnL     decimal.Decimal
	TotalCommission decimal.Decimal
	TotalSlippage   decimal.Decimal
	EquityCurve     []EquityPoint

	positions     map[string]*types.Position
	currentPrices map[string]decimal.Decimal
}

// New creates a portfolio with the given starting cash.
func New(initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		positions:      make(map[string]*types.Position),
		currentPrices:  make(map[string]decimal.Decimal),
	}
}

// ApplyFill books one execution. Buys require sufficient cash and update
// or create a long position with a VWAP-averaged entry; sells require
// sufficient position, realize P&L net of costs, and remove the position
// when its quantity reaches zero. Appends an equity-curve point.
func (p *Portfolio) ApplyFill(order *types.Order, fill types.Fill) error {
	gross := fill.Price.Mul(fill.Quantity)
	key := order.Symbol.String()

	switch order.Side {
	case types.Buy:
		totalCost := gross.Add(fill.Commission).Add(fill.Slippage)
		if p.Cash.LessThan(totalCost) {
			return fmt.Errorf("%w: need %s, have %s", types.ErrInsufficientCash, totalCost, p.Cash)
		}
		p.Cash = p.Cash.Sub(totalCost)

		pos, ok := p.positions[key]
		if !ok {
			entry, err := types.NewPrice(fill.Price)
			if err != nil {
				return err
			}
			qty, err := types.NewQuantity(fill.Quantity)
			if err != nil {
				return err
			}
			pos = types.NewPosition(order.StrategyID, order.Symbol, types.Long, qty, entry, fill.Timestamp)
			p.positions[key] = pos
		} else {
			oldQty := pos.Quantity.Decimal()
			oldCost := oldQty.Mul(pos.AvgEntryPrice.Decimal())
			newQty := oldQty.Add(fill.Quantity)

			avg, err := types.NewPrice(oldCost.Add(gross).Div(newQty))
			if err != nil {
				return err
			}
			qty, err := types.NewQuantity(newQty)
			if err != nil {
				return err
			}
			pos.AvgEntryPrice = avg
			pos.Quantity = qty
			pos.LastUpdated = fill.Timestamp
		}

	case types.Sell:
		pos, ok := p.positions[key]
		if !ok {
			return fmt.Errorf("%w: no position in %s", types.ErrInsufficientPosition, key)
		}
		posQty := pos.Quantity.Decimal()
		if posQty.LessThan(fill.Quantity) {
			return fmt.Errorf("%w: have %s, selling %s", types.ErrInsufficientPosition, posQty, fill.Quantity)
		}

		entryCost := fill.Quantity.Mul(pos.AvgEntryPrice.Decimal())
		netPnL := gross.Sub(entryCost).Sub(fill.Commission).Sub(fill.Slippage)
		p.RealizedPnL = p.RealizedPnL.Add(netPnL)
		p.Cash = p.Cash.Add(gross.Sub(fill.Commission).Sub(fill.Slippage))

		newQty := posQty.Sub(fill.Quantity)
		if newQty.Sign() <= 0 {
			delete(p.positions, key)
		} else {
			qty, err := types.NewQuantity(newQty)
			if err != nil {
				return err
			}
			pos.Quantity = qty
			pos.LastUpdated = fill.Timestamp
		}
	}

	p.TotalCommission = p.TotalCommission.Add(fill.Commission)
	p.TotalSlippage = p.TotalSlippage.Add(fill.Slippage)

	p.EquityCurve = append(p.EquityCurve, EquityPoint{
		Timestamp: fill.Timestamp,
		Equity:    p.TotalEquity(),
	})
	return nil
}

// UpdatePrices sets current marks and recomputes each affected position's
// unrealized P&L.
func (p *Portfolio) UpdatePrices(prices map[string]decimal.Decimal, now time.Time) {
	for key, price := range prices {
		p.currentPrices[key] = price
		if pos, ok := p.positions[key]; ok {
			if mark, err := types.NewPrice(price); err == nil {
				pos.UpdatePrice(mark, now)
			}
		}
	}
}

// Position returns the open position for a symbol, or nil.
func (p *Portfolio) Position(symbol types.Symbol) *types.Position {
	return p.positions[symbol.String()]
}

// Positions returns open positions sorted by symbol for deterministic
// iteration.
func (p *Portfolio) Positions() []*types.Position {
	keys := make([]string, 0, len(p.positions))
	for key := range p.positions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*types.Position, 0, len(keys))
	for _, key := range keys {
		out = append(out, p.positions[key])
	}
	return out
}

// PositionCount returns the number of open positions.
func (p *Portfolio) PositionCount() int { return len(p.positions) }

// TotalEquity is cash plus the mark-to-market value of all positions.
func (p *Portfolio) TotalEquity() decimal.Decimal {
	equity := p.Cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Value())
	}
	return equity
}

// UnrealizedPnL sums unrealized P&L across open positions.
func (p *Portfolio) UnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// TotalPnL is realized plus unrealized.
func (p *Portfolio) TotalPnL() decimal.Decimal {
	return p.RealizedPnL.Add(p.UnrealizedPnL())
}

// ReturnPct is (equity - initial) / initial.
func (p *Portfolio) ReturnPct() decimal.Decimal {
	if p.InitialCapital.IsZero() {
		return decimal.Zero
	}
	return p.TotalEquity().Sub(p.InitialCapital).Div(p.InitialCapital)
}

// Snapshot captures the validator-facing view of the portfolio.
func (p *Portfolio) Snapshot() Snapshot {
	marks := make(map[string]decimal.Decimal, len(p.currentPrices))
	for key, price := range p.currentPrices {
		marks[key] = price
	}
	return Snapshot{
		TotalEquity:     p.TotalEquity(),
		AvailableMargin: p.Cash,
		Positions:       p.Positions(),
		DailyPnL:        p.TotalPnL(),
		MarkPrices:      marks,
	}
}

// Snapshot is the read-only portfolio state handed to the risk validator.
type Snapshot struct {
	TotalEquity     decimal.Decimal
	AvailableMargin decimal.Decimal
	Positions       []*types.Position
	DailyPnL        decimal.Decimal

	// MarkPrices supplies current marks so market orders can be valued
	// during risk checks.
	MarkPrices map[string]decimal.Decimal
}

// RestorePosition reinstates a persisted position, for engine startup.
func (p *Portfolio) RestorePosition(pos *types.Position) {
	p.positions[pos.Symbol.String()] = pos
}
