package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"BTC-USDT", "BTC-USDT", false},
		{"btc-usdt", "BTC-USDT", false}, // upper-cased at construction
		{"eth-BTC", "ETH-BTC", false},
		{"BTCUSDT", "", true},   // no separator
		{"BTC-USD-T", "", true}, // two separators
		{"-USDT", "", true},
		{"BTC-", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		sym, err := NewSymbol(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewSymbol(%q) = %v, want error", tt.in, sym)
			} else if !errors.Is(err, ErrInvalidSymbol) {
				t.Errorf("NewSymbol(%q) error = %v, want ErrInvalidSymbol", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewSymbol(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if sym.String() != tt.want {
			t.Errorf("NewSymbol(%q) = %q, want %q", tt.in, sym, tt.want)
		}
	}
}

func TestSymbolBaseQuote(t *testing.T) {
	t.Parallel()

	sym := MustSymbol("BTC-USDT")
	if sym.Base() != "BTC" {
		t.Errorf("Base() = %q, want BTC", sym.Base())
	}
	if sym.Quote() != "USDT" {
		t.Errorf("Quote() = %q, want USDT", sym.Quote())
	}
}

func TestNewPrice(t *testing.T) {
	t.Parallel()

	if _, err := NewPrice(decimal.NewFromInt(42000)); err != nil {
		t.Errorf("positive price rejected: %v", err)
	}
	if _, err := NewPrice(decimal.Zero); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("zero price error = %v, want ErrInvalidPrice", err)
	}
	if _, err := NewPrice(decimal.NewFromInt(-100)); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("negative price error = %v, want ErrInvalidPrice", err)
	}
}

func TestNewQuantity(t *testing.T) {
	t.Parallel()

	if _, err := NewQuantity(decimal.NewFromFloat(1.5)); err != nil {
		t.Errorf("positive quantity rejected: %v", err)
	}

	q, err := NewQuantity(decimal.Zero)
	if err != nil {
		t.Errorf("zero quantity rejected: %v", err)
	}
	if !q.IsZero() {
		t.Error("zero quantity IsZero() = false")
	}

	if _, err := NewQuantity(decimal.NewFromFloat(-1.5)); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("negative quantity error = %v, want ErrInvalidQuantity", err)
	}
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"buy", Buy, false},
		{"SELL", Sell, false},
		{"hold", "", true},
	}

	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSide(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSide(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseOrderType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    OrderType
		wantErr bool
	}{
		{"market", Market, false},
		{"LIMIT", Limit, false},
		{"stop_loss", StopLoss, false},
		{"iceberg", Iceberg, false},
		{"twap", "", true},
	}

	for _, tt := range tests {
		got, err := ParseOrderType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOrderType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOrderType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOrderTypeIsMaker(t *testing.T) {
	t.Parallel()

	makers := []OrderType{Limit, PostOnly}
	takers := []OrderType{Market, IOC, FOK, StopLoss, TakeProfit, TrailingStop, Iceberg}

	for _, typ := range makers {
		if !typ.IsMaker() {
			t.Errorf("%s.IsMaker() = false, want true", typ)
		}
	}
	for _, typ := range takers {
		if typ.IsMaker() {
			t.Errorf("%s.IsMaker() = true, want false", typ)
		}
	}
}

func TestValueTypeJSONRoundTrip(t *testing.T) {
	t.Parallel()

	type record struct {
		Symbol   Symbol   `json:"symbol"`
		Price    Price    `json:"price"`
		Quantity Quantity `json:"quantity"`
	}

	in := record{
		Symbol:   MustSymbol("BTC-USDT"),
		Price:    MustPrice("42000.5"),
		Quantity: MustQuantity("0.01"),
	}
	blob, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out record
	if err := json.Unmarshal(blob, &out); err != nil {
		t.Fatal(err)
	}
	if out.Symbol.String() != "BTC-USDT" {
		t.Errorf("symbol = %q", out.Symbol)
	}
	if !out.Price.Decimal().Equal(in.Price.Decimal()) {
		t.Errorf("price = %v, want %v", out.Price, in.Price)
	}
	if !out.Quantity.Decimal().Equal(in.Quantity.Decimal()) {
		t.Errorf("quantity = %v, want %v", out.Quantity, in.Quantity)
	}

	// Validation still applies on the way in.
	if err := json.Unmarshal([]byte(`{"price":"-5"}`), &out); err == nil {
		t.Error("negative price accepted through JSON")
	}
	if err := json.Unmarshal([]byte(`{"symbol":"BTCUSDT"}`), &out); err == nil {
		t.Error("malformed symbol accepted through JSON")
	}

	// Zero price round-trips as the market-order marker.
	blob, err = json.Marshal(record{Symbol: MustSymbol("ETH-USDT"), Quantity: MustQuantity("1")})
	if err != nil {
		t.Fatal(err)
	}
	var zero record
	if err := json.Unmarshal(blob, &zero); err != nil {
		t.Fatal(err)
	}
	if !zero.Price.IsZero() {
		t.Errorf("zero price round trip = %v", zero.Price)
	}
}

func TestOrderStateTerminal(t *testing.T) {
	t.Parallel()

	terminal := []OrderState{StateFilled, StateCancelled, StateRejected, StateFailed, StateExpired}
	active := []OrderState{StateCreated, StateValidated, StateSubmitted, StateAcknowledged, StatePartiallyFilled}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
		if s.CanCancel() {
			t.Errorf("%s.CanCancel() = true, want false", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
		if !s.CanCancel() {
			t.Errorf("%s.CanCancel() = false, want true", s)
		}
	}
}
