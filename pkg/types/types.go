// Package types defines the shared data model used across all packages.
//
// This package is the common vocabulary for the trading platform — symbols,
// validated prices and quantities, orders, positions, fills, and the tagged
// market/order event variants. It has no dependencies on internal packages,
// so it can be imported by any layer. All monetary values use fixed-precision
// decimals; binary floats never touch the trading path.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Domain errors. Construction of a value type is its only failure point;
// downstream code never re-validates.
var (
	ErrInvalidSymbol          = errors.New("invalid symbol")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidSide            = errors.New("invalid order side")
	ErrInvalidOrderType       = errors.New("invalid order type")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrOrderNotFound          = errors.New("order not found")
	ErrRiskRejected           = errors.New("order rejected by risk checks")
	ErrInsufficientCash       = errors.New("insufficient cash")
	ErrInsufficientPosition   = errors.New("insufficient position")
	ErrInsufficientData       = errors.New("insufficient historical data")
	ErrNoPriceAvailable       = errors.New("no price available")

	// ErrExchangeTransient marks retryable exchange failures (network,
	// 5xx, rate limit). ErrExchangeRejected marks business rejections
	// (insufficient balance, bad instrument), which are never retried.
	ErrExchangeTransient = errors.New("transient exchange error")
	ErrExchangeRejected  = errors.New("order rejected by exchange")
)

// Symbol is a validated trading pair in BASE-QUOTE form, e.g. "BTC-USDT".
// Upper-cased at construction; the canonical map key for prices, positions,
// and volume averages.
type Symbol struct {
	s string
}

// NewSymbol validates and canonicalizes a trading pair string.
func NewSymbol(s string) (Symbol, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Symbol{}, fmt.Errorf("%w: %q must have exactly one '-' separator", ErrInvalidSymbol, s)
	}
	if parts[0] == "" || parts[1] == "" {
		return Symbol{}, fmt.Errorf("%w: %q base and quote cannot be empty", ErrInvalidSymbol, s)
	}
	return Symbol{s: strings.ToUpper(s)}, nil
}

// MustSymbol is a construction helper for tests and static tables.
// It panics on invalid input.
func MustSymbol(s string) Symbol {
	sym, err := NewSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

// Base returns the base currency, e.g. "BTC" for "BTC-USDT".
func (s Symbol) Base() string { return strings.SplitN(s.s, "-", 2)[0] }

// Quote returns the quote currency, e.g. "USDT" for "BTC-USDT".
func (s Symbol) Quote() string { return strings.SplitN(s.s, "-", 2)[1] }

// String returns the canonical upper-cased pair.
func (s Symbol) String() string { return s.s }

// IsZero reports whether the symbol is the uninitialized zero value.
func (s Symbol) IsZero() bool { return s.s == "" }

// MarshalJSON encodes the symbol as its canonical string.
func (s Symbol) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.s)
}

// UnmarshalJSON decodes and re-validates a symbol. The empty string maps
// to the zero value.
func (s *Symbol) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = Symbol{}
		return nil
	}
	sym, err := NewSymbol(raw)
	if err != nil {
		return err
	}
	*s = sym
	return nil
}

// Price wraps a decimal with the invariant value > 0.
type Price struct {
	d decimal.Decimal
}

// NewPrice validates a price. Zero or negative values are rejected.
func NewPrice(d decimal.Decimal) (Price, error) {
	if d.Sign() <= 0 {
		return Price{}, fmt.Errorf("%w: must be positive, got %s", ErrInvalidPrice, d)
	}
	return Price{d: d}, nil
}

// PriceFromString parses and validates a price from its decimal string form.
func PriceFromString(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return NewPrice(d)
}

// MustPrice is a construction helper for tests and static tables.
func MustPrice(s string) Price {
	p, err := PriceFromString(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Decimal returns the underlying decimal value.
func (p Price) Decimal() decimal.Decimal { return p.d }

// IsZero reports whether the price is the uninitialized zero value.
func (p Price) IsZero() bool { return p.d.IsZero() }

func (p Price) String() string { return p.d.String() }

// MarshalJSON encodes the underlying decimal. The zero value encodes as
// "0", the no-price marker for market orders.
func (p Price) MarshalJSON() ([]byte, error) {
	return p.d.MarshalJSON()
}

// UnmarshalJSON decodes and re-validates a price. Zero maps to the
// no-price zero value.
func (p *Price) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	if d.Sign() == 0 {
		*p = Price{}
		return nil
	}
	price, err := NewPrice(d)
	if err != nil {
		return err
	}
	*p = price
	return nil
}

// Quantity wraps a decimal with the invariant value >= 0.
type Quantity struct {
	d decimal.Decimal
}

// NewQuantity validates a quantity. Negative values are rejected.
func NewQuantity(d decimal.Decimal) (Quantity, error) {
	if d.Sign() < 0 {
		return Quantity{}, fmt.Errorf("%w: cannot be negative, got %s", ErrInvalidQuantity, d)
	}
	return Quantity{d: d}, nil
}

// QuantityFromString parses and validates a quantity from its string form.
func QuantityFromString(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	return NewQuantity(d)
}

// MustQuantity is a construction helper for tests and static tables.
func MustQuantity(s string) Quantity {
	q, err := QuantityFromString(s)
	if err != nil {
		panic(err)
	}
	return q
}

// Decimal returns the underlying decimal value.
func (q Quantity) Decimal() decimal.Decimal { return q.d }

// IsZero reports whether the quantity equals zero.
func (q Quantity) IsZero() bool { return q.d.IsZero() }

func (q Quantity) String() string { return q.d.String() }

// MarshalJSON encodes the underlying decimal.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return q.d.MarshalJSON()
}

// UnmarshalJSON decodes and re-validates a quantity.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	qty, err := NewQuantity(d)
	if err != nil {
		return err
	}
	*q = qty
	return nil
}
