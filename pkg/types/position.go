package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
	Net   PositionSide = "net"
)

// Position is an open holding in one symbol, owned by the portfolio.
// Created by the first non-closing fill; removed when quantity reaches zero.
type Position struct {
	ID            uuid.UUID       `json:"id"`
	StrategyID    uuid.UUID       `json:"strategy_id"`
	Symbol        Symbol          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      Quantity        `json:"quantity"`
	AvgEntryPrice Price           `json:"avg_entry_price"`
	CurrentPrice  Price           `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// NewPosition opens a position at the given entry price.
func NewPosition(strategyID uuid.UUID, symbol Symbol, side PositionSide, qty Quantity, entry Price, now time.Time) *Position {
	return &Position{
		ID:            uuid.New(),
		StrategyID:    strategyID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		AvgEntryPrice: entry,
		CurrentPrice:  entry,
		OpenedAt:      now,
		LastUpdated:   now,
	}
}

// UpdatePrice sets the mark price and recomputes unrealized P&L.
func (p *Position) UpdatePrice(mark Price, now time.Time) {
	p.CurrentPrice = mark
	p.UnrealizedPnL = p.unrealized()
	p.LastUpdated = now
}

// unrealized is (mark - entry) * qty for Long/Net, inverted for Short.
func (p *Position) unrealized() decimal.Decimal {
	diff := p.CurrentPrice.Decimal().Sub(p.AvgEntryPrice.Decimal())
	qty := p.Quantity.Decimal()
	if p.Side == Short {
		return diff.Neg().Mul(qty)
	}
	return diff.Mul(qty)
}

// IsClosed reports whether the position quantity has reached zero.
func (p *Position) IsClosed() bool { return p.Quantity.IsZero() }

// Value returns the mark-to-market value, qty * current price.
func (p *Position) Value() decimal.Decimal {
	return p.Quantity.Decimal().Mul(p.CurrentPrice.Decimal())
}

// EntryValue returns qty * average entry price.
func (p *Position) EntryValue() decimal.Decimal {
	return p.Quantity.Decimal().Mul(p.AvgEntryPrice.Decimal())
}
