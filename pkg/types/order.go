package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide parses a side string case-insensitively.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order types.
type OrderType string

const (
	Market       OrderType = "market"
	Limit        OrderType = "limit"
	PostOnly     OrderType = "post_only"
	IOC          OrderType = "ioc"
	FOK          OrderType = "fok"
	StopLoss     OrderType = "stop_loss"
	TakeProfit   OrderType = "take_profit"
	TrailingStop OrderType = "trailing_stop"
	Iceberg      OrderType = "iceberg"
)

// ParseOrderType parses an order type string case-insensitively.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(s)) {
	case Market, Limit, PostOnly, IOC, FOK, StopLoss, TakeProfit, TrailingStop, Iceberg:
		return OrderType(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderType, s)
	}
}

// IsMaker reports whether the type rests on the book and pays maker fees.
// Everything else crosses the spread (or triggers into a taker fill).
func (t OrderType) IsMaker() bool {
	return t == Limit || t == PostOnly
}

// OrderState is the lifecycle state of an order. The legal transition set
// is enforced by lifecycle.StateMachine.
type OrderState string

const (
	StateCreated         OrderState = "created"
	StateValidated       OrderState = "validated"
	StateSubmitted       OrderState = "submitted"
	StateAcknowledged    OrderState = "acknowledged"
	StatePartiallyFilled OrderState = "partially_filled"
	StateFilled          OrderState = "filled"
	StateCancelled       OrderState = "cancelled"
	StateRejected        OrderState = "rejected"
	StateFailed          OrderState = "failed"
	StateExpired         OrderState = "expired"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateFailed, StateExpired:
		return true
	}
	return false
}

// CanCancel reports whether an order in this state may still be cancelled.
func (s OrderState) CanCancel() bool {
	switch s {
	case StateCreated, StateValidated, StateSubmitted, StateAcknowledged, StatePartiallyFilled:
		return true
	}
	return false
}

// Order is the central order record. Owned by the order manager; its
// lifecycle state is mutated only through the state machine.
type Order struct {
	// ID is the internal order ID.
	ID uuid.UUID `json:"id"`

	// ExchangeID is assigned by the exchange after acknowledgement.
	ExchangeID string `json:"exchange_id,omitempty"`

	// ClientID is the client-assigned order ID sent with submission.
	ClientID string `json:"client_id"`

	// StrategyID identifies the strategy that created this order.
	StrategyID uuid.UUID `json:"strategy_id"`

	Symbol Symbol    `json:"symbol"`
	Side   Side      `json:"side"`
	Type   OrderType `json:"type"`

	Quantity Quantity `json:"quantity"`

	// Price is the limit price; zero value for market orders.
	Price Price `json:"price,omitempty"`

	// FilledQuantity accumulates fills; never exceeds Quantity.
	FilledQuantity Quantity `json:"filled_quantity"`

	// AvgFillPrice is the fill-weighted average execution price.
	AvgFillPrice Price `json:"avg_fill_price,omitempty"`

	State OrderState `json:"state"`

	// RejectReason is set when the order is rejected.
	RejectReason string `json:"reject_reason,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	FirstFillAt time.Time `json:"first_fill_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// LatencyMS is the submission-to-first-fill latency in milliseconds.
	LatencyMS int64 `json:"latency_ms,omitempty"`
}

// NewOrder creates an order in the Created state. price may be the zero
// Price for market orders.
func NewOrder(strategyID uuid.UUID, symbol Symbol, side Side, typ OrderType, qty Quantity, price Price) *Order {
	id := uuid.New()
	return &Order{
		ID:         id,
		ClientID:   "ord" + strings.ReplaceAll(id.String(), "-", ""),
		StrategyID: strategyID,
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Quantity:   qty,
		Price:      price,
		State:      StateCreated,
		CreatedAt:  time.Now().UTC(),
	}
}

// IsFilled reports whether the order is fully filled.
func (o *Order) IsFilled() bool { return o.State == StateFilled }

// IsActive reports whether the order may still receive fills.
func (o *Order) IsActive() bool { return !o.State.IsTerminal() }

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Decimal().Sub(o.FilledQuantity.Decimal())
}

// MarkSubmitted records the exchange ID and submission timestamp.
func (o *Order) MarkSubmitted(exchangeID string, now time.Time) {
	o.ExchangeID = exchangeID
	o.SubmittedAt = now
}

// ApplyFill accumulates an execution into the order: filled quantity,
// weighted average price, first-fill timestamp (set exactly once) and
// submission-to-first-fill latency. The caller drives the matching state
// transition; ApplyFill only does the arithmetic.
func (o *Order) ApplyFill(qty Quantity, price Price, now time.Time) error {
	newFilled := o.FilledQuantity.Decimal().Add(qty.Decimal())
	if newFilled.GreaterThan(o.Quantity.Decimal()) {
		return fmt.Errorf("%w: fill %s exceeds order quantity %s", ErrInvalidQuantity, newFilled, o.Quantity)
	}

	// Weighted average over accumulated fills.
	oldCost := o.FilledQuantity.Decimal().Mul(o.AvgFillPrice.Decimal())
	newCost := oldCost.Add(qty.Decimal().Mul(price.Decimal()))
	if newFilled.Sign() > 0 {
		avg, err := NewPrice(newCost.Div(newFilled))
		if err != nil {
			return err
		}
		o.AvgFillPrice = avg
	}

	fq, err := NewQuantity(newFilled)
	if err != nil {
		return err
	}
	o.FilledQuantity = fq

	if o.FirstFillAt.IsZero() {
		o.FirstFillAt = now
		if !o.SubmittedAt.IsZero() {
			o.LatencyMS = now.Sub(o.SubmittedAt).Milliseconds()
		}
	}
	if newFilled.Equal(o.Quantity.Decimal()) {
		o.CompletedAt = now
	}
	return nil
}

// Notional returns price * quantity for the order's limit price, or zero
// for market orders without a quoted price.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Decimal().Mul(o.Quantity.Decimal())
}

// Fill is an immutable record of one execution against an order.
type Fill struct {
	OrderID    uuid.UUID       `json:"order_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Trade is a completed execution record. Unlike Fill it carries the
// realized P&L of closing legs, for reporting.
type Trade struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ExchangeID  string          `json:"exchange_id,omitempty"`
	ClientID    string          `json:"client_id"`
	StrategyID  uuid.UUID       `json:"strategy_id"`
	Symbol      Symbol          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    Quantity        `json:"quantity"`
	Price       Price           `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	Slippage    decimal.Decimal `json:"slippage"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	OpenedAt    time.Time       `json:"opened_at,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// TradeValue returns quantity * price.
func (t *Trade) TradeValue() decimal.Decimal {
	return t.Quantity.Decimal().Mul(t.Price.Decimal())
}

// NetValue returns the cash effect of the trade after commission:
// buys cost gross plus commission, sells net gross minus commission.
func (t *Trade) NetValue() decimal.Decimal {
	gross := t.TradeValue()
	if t.Side == Buy {
		return gross.Add(t.Commission)
	}
	return gross.Sub(t.Commission)
}

// EffectivePrice returns the per-unit price including commission.
func (t *Trade) EffectivePrice() decimal.Decimal {
	return t.NetValue().Div(t.Quantity.Decimal())
}

// Duration returns the holding time of a closing trade, or zero when the
// open timestamp is unknown.
func (t *Trade) Duration() time.Duration {
	if t.OpenedAt.IsZero() {
		return 0
	}
	return t.ExecutedAt.Sub(t.OpenedAt)
}
