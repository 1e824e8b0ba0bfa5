package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

// MACrossoverParams tunes the moving-average crossover strategy.
type MACrossoverParams struct {
	FastPeriod int `json:"fast_period"`
	SlowPeriod int `json:"slow_period"`
}

// DefaultMACrossoverParams is the classic 20/50 setup.
func DefaultMACrossoverParams() MACrossoverParams {
	return MACrossoverParams{FastPeriod: 20, SlowPeriod: 50}
}

// MACrossover is a trend-following reference strategy: buy on the golden
// cross (fast MA crossing above slow MA), sell on the death cross.
type MACrossover struct {
	params MACrossoverParams
	symbol types.Symbol
	status Status

	closes []decimal.Decimal

	prevFast decimal.Decimal
	prevSlow decimal.Decimal
	havePrev bool

	pending Signal
	holding bool

	metrics Metrics
}

// maState is the serializable snapshot of the strategy.
type maState struct {
	Closes   []decimal.Decimal `json:"closes"`
	PrevFast decimal.Decimal   `json:"prev_fast"`
	PrevSlow decimal.Decimal   `json:"prev_slow"`
	HavePrev bool              `json:"have_prev"`
	Holding  bool              `json:"holding"`
}

// NewMACrossover creates the strategy with the given parameters.
func NewMACrossover(params MACrossoverParams) *MACrossover {
	if params.FastPeriod <= 0 || params.SlowPeriod <= params.FastPeriod {
		params = DefaultMACrossoverParams()
	}
	return &MACrossover{
		params:  params,
		status:  StatusCreated,
		pending: Hold(),
	}
}

// Initialize binds the strategy to its first configured symbol.
func (s *MACrossover) Initialize(_ context.Context, cfg Config) error {
	s.status = StatusInitializing
	if len(cfg.Symbols) == 0 {
		s.status = StatusError
		return fmt.Errorf("%w: strategy requires at least one symbol", types.ErrInvalidSymbol)
	}
	s.symbol = cfg.Symbols[0]
	s.status = StatusRunning
	return nil
}

// OnMarketData feeds one event. Only confirmed candles for the bound
// symbol move the averages.
func (s *MACrossover) OnMarketData(_ context.Context, event types.MarketEvent) error {
	if event.Kind != types.EventCandle || event.Symbol != s.symbol || !event.Candle.Confirmed {
		return nil
	}

	s.closes = append(s.closes, event.Candle.Close)
	if len(s.closes) > s.params.SlowPeriod {
		s.closes = s.closes[len(s.closes)-s.params.SlowPeriod:]
	}
	if len(s.closes) < s.params.SlowPeriod {
		s.pending = Hold()
		return nil
	}

	fast := average(s.closes[len(s.closes)-s.params.FastPeriod:])
	slow := average(s.closes)

	signal := Hold()
	if s.havePrev {
		crossedUp := s.prevFast.LessThanOrEqual(s.prevSlow) && fast.GreaterThan(slow)
		crossedDown := s.prevFast.GreaterThanOrEqual(s.prevSlow) && fast.LessThan(slow)

		switch {
		case crossedUp && !s.holding:
			signal = BuySignal(0.7)
		case crossedDown && s.holding:
			signal = SellSignal(0.7)
		}
	}

	s.prevFast, s.prevSlow = fast, slow
	s.havePrev = true
	s.pending = signal
	if signal.Type != SignalHold {
		s.metrics.SignalsGenerated++
	}
	return nil
}

// GenerateSignal returns and clears the pending signal.
func (s *MACrossover) GenerateSignal(_ context.Context) (Signal, error) {
	signal := s.pending
	s.pending = Hold()
	return signal, nil
}

// OnOrderFill tracks holding state from executions.
func (s *MACrossover) OnOrderFill(_ context.Context, order *types.Order) error {
	s.metrics.OrdersFilled++
	s.holding = order.Side == types.Buy
	return nil
}

// OnOrderReject counts the rejection.
func (s *MACrossover) OnOrderReject(_ context.Context, _ *types.Order, _ string) error {
	s.metrics.OrdersRejected++
	return nil
}

// GetMetrics reports performance counters.
func (s *MACrossover) GetMetrics() Metrics { return s.metrics }

// SerializeState snapshots the price window and crossover memory.
func (s *MACrossover) SerializeState() (json.RawMessage, error) {
	return json.Marshal(maState{
		Closes:   s.closes,
		PrevFast: s.prevFast,
		PrevSlow: s.prevSlow,
		HavePrev: s.havePrev,
		Holding:  s.holding,
	})
}

// DeserializeState restores a snapshot.
func (s *MACrossover) DeserializeState(state json.RawMessage) error {
	var snap maState
	if err := json.Unmarshal(state, &snap); err != nil {
		return fmt.Errorf("restore strategy state: %w", err)
	}
	s.closes = snap.Closes
	s.prevFast = snap.PrevFast
	s.prevSlow = snap.PrevSlow
	s.havePrev = snap.HavePrev
	s.holding = snap.Holding
	return nil
}

// Shutdown marks the strategy stopped.
func (s *MACrossover) Shutdown(_ context.Context) error {
	s.status = StatusStopped
	return nil
}

// Status returns the lifecycle state.
func (s *MACrossover) Status() Status { return s.status }

func average(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
