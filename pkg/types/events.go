package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar for a symbol.
type Candle struct {
	Symbol    Symbol          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`

	// Confirmed is false for the still-forming bar pushed by the exchange.
	// Unconfirmed candles never enter the historical path.
	Confirmed bool `json:"confirmed"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MarketEventKind tags the MarketEvent variants.
type MarketEventKind string

const (
	EventCandle    MarketEventKind = "candle"
	EventTrade     MarketEventKind = "trade"
	EventOrderBook MarketEventKind = "orderbook"
)

// MarketEvent is the tagged union of market data variants. Exactly one of
// Candle, Trade, Book is set, per Kind.
type MarketEvent struct {
	Kind      MarketEventKind
	Symbol    Symbol
	Timestamp time.Time

	Candle *Candle
	Trade  *MarketTrade
	Book   *OrderBook
}

// MarketTrade is a public trade print.
type MarketTrade struct {
	Symbol    Symbol          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderBook is a point-in-time book snapshot. Bids descend, asks ascend.
type OrderBook struct {
	Symbol    Symbol      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// MidPrice returns the bid/ask midpoint, or false when either side is empty.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price.Add(b.Asks[0].Price).Div(decimal.NewFromInt(2)), true
}

// CandleEvent wraps a candle as a MarketEvent.
func CandleEvent(c Candle) MarketEvent {
	return MarketEvent{Kind: EventCandle, Symbol: c.Symbol, Timestamp: c.Timestamp, Candle: &c}
}

// TradeEvent wraps a trade print as a MarketEvent.
func TradeEvent(t MarketTrade) MarketEvent {
	return MarketEvent{Kind: EventTrade, Symbol: t.Symbol, Timestamp: t.Timestamp, Trade: &t}
}

// BookEvent wraps a book snapshot as a MarketEvent.
func BookEvent(b OrderBook) MarketEvent {
	return MarketEvent{Kind: EventOrderBook, Symbol: b.Symbol, Timestamp: b.Timestamp, Book: &b}
}

// OrderEventKind tags order lifecycle notifications from the order manager.
type OrderEventKind string

const (
	OrderCreated         OrderEventKind = "created"
	OrderSubmitted       OrderEventKind = "submitted"
	OrderAcknowledged    OrderEventKind = "acknowledged"
	OrderPartiallyFilled OrderEventKind = "partially_filled"
	OrderFilled          OrderEventKind = "filled"
	OrderCancelled       OrderEventKind = "cancelled"
	OrderRejected        OrderEventKind = "rejected"
	OrderFailed          OrderEventKind = "failed"
	OrderExpired         OrderEventKind = "expired"
)

// OrderEvent is one lifecycle notification. FIFO per order on the order
// manager's event stream.
type OrderEvent struct {
	Kind       OrderEventKind  `json:"kind"`
	OrderID    uuid.UUID       `json:"order_id"`
	ExchangeID string          `json:"exchange_id,omitempty"`
	FilledQty  decimal.Decimal `json:"filled_qty,omitempty"`
	AvgPrice   decimal.Decimal `json:"avg_price,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
