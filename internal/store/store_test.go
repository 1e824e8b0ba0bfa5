package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveLoadResult(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	type report struct {
		FinalEquity decimal.Decimal `json:"final_equity"`
		TotalTrades int             `json:"total_trades"`
	}
	saved := report{FinalEquity: decimal.NewFromFloat(105000.5), TotalTrades: 17}
	if err := s.SaveResult("ma-crossover-2024", saved); err != nil {
		t.Fatal(err)
	}

	var loaded report
	if err := s.LoadResult("ma-crossover-2024", &loaded); err != nil {
		t.Fatal(err)
	}
	if !loaded.FinalEquity.Equal(saved.FinalEquity) || loaded.TotalTrades != saved.TotalTrades {
		t.Errorf("loaded = %+v, want %+v", loaded, saved)
	}
}

func TestSaveLoadTrades(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	trades := []types.Trade{
		{
			ID:          uuid.New(),
			OrderID:     uuid.New(),
			StrategyID:  uuid.New(),
			Symbol:      types.MustSymbol("BTC-USDT"),
			Side:        types.Sell,
			Type:        types.Market,
			Quantity:    types.MustQuantity("0.1"),
			Price:       types.MustPrice("50000"),
			Commission:  decimal.NewFromFloat(7.5),
			RealizedPnL: decimal.NewFromInt(193),
			ExecutedAt:  time.Now().UTC().Truncate(time.Millisecond),
		},
	}
	if err := s.SaveTrades("run1", trades); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadTrades("run1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("trades = %d, want 1", len(loaded))
	}
	if loaded[0].ID != trades[0].ID {
		t.Error("trade identity lost in round trip")
	}
	if !loaded[0].RealizedPnL.Equal(trades[0].RealizedPnL) {
		t.Errorf("realized pnl = %v, want 193", loaded[0].RealizedPnL)
	}
}

func TestLoadTradesMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	trades, err := s.LoadTrades("never-ran")
	if err != nil {
		t.Fatal(err)
	}
	if trades != nil {
		t.Errorf("trades = %v, want nil for missing log", trades)
	}
}

func TestListResults(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	s.SaveResult("beta", map[string]int{"x": 1})
	s.SaveResult("alpha", map[string]int{"x": 2})

	names, err := s.ListResults()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v, want [alpha beta]", names)
	}
}

func TestSanitizedNames(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.SaveResult("run/with: spaces", map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	if err := s.LoadResult("run/with: spaces", &out); err != nil {
		t.Fatal(err)
	}
	if out["x"] != 1 {
		t.Error("sanitized name round trip failed")
	}
}
